package controller

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"cadencer/utils"
	"cadencer/worker"
)

type EngineController struct {
	Worker *worker.SequenceWorker
	Logger *log.Logger
}

func NewEngineController(w *worker.SequenceWorker, logger *log.Logger) *EngineController {
	return &EngineController{
		Worker: w,
		Logger: logger,
	}
}

// TriggerCycle runs one scan cycle on demand instead of waiting for the next
// tick. Useful after enrolling a batch of leads.
func (ec *EngineController) TriggerCycle(c *fiber.Ctx) error {
	summary := ec.Worker.RunOnce(context.Background())
	return c.JSON(utils.SuccessResponse(summary))
}

// UpgradeProgress rejects plain HTTP requests on the websocket route.
func (ec *EngineController) UpgradeProgress(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// StreamProgress pushes a summary to the client after every engine cycle
// until the client disconnects.
func (ec *EngineController) StreamProgress() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		summaries, unsubscribe := ec.Worker.Subscribe()
		defer unsubscribe()

		for summary := range summaries {
			if err := conn.WriteJSON(summary); err != nil {
				ec.Logger.Printf("Progress stream closed: %v", err)
				return
			}
		}
	})
}
