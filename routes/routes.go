package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "cadencer/controllers"
	"cadencer/middleware"
	"cadencer/worker"
)

// SetupPublicRoutes registers the unauthenticated surface: health check plus
// the tracking endpoints that mail clients and external systems hit.
func SetupPublicRoutes(app *fiber.App, db *gorm.DB) {
	trackingController := controller.NewTrackingController(db, log.New(os.Stdout, "TRACKING: ", log.LstdFlags))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Tracking routes with rate limiting; no auth, tokens do the gatekeeping
	track := app.Group("/track", middleware.EventRateLimiter())
	track.Get("/open/:messageID/:token", trackingController.HandleOpenTracking)
	track.Get("/click/:messageID/:token", trackingController.HandleClickTracking)

	app.Post("/events", middleware.EventRateLimiter(), trackingController.HandleEngagementEvent)
}

// SetupAPIRoutes registers the authenticated API.
func SetupAPIRoutes(app *fiber.App, db *gorm.DB, sequenceWorker *worker.SequenceWorker) {
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	enrollmentController := controller.NewEnrollmentController(db, log.New(os.Stdout, "ENROLLMENT: ", log.LstdFlags))
	engineController := controller.NewEngineController(sequenceWorker, log.New(os.Stdout, "ENGINE: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Post("/:id/activate", sequenceController.ActivateSequence)
	sequence.Post("/:id/pause", sequenceController.PauseSequence)

	// Enrollment routes
	sequence.Post("/:id/enrollments", enrollmentController.EnrollLead)
	sequence.Get("/:id/enrollments", enrollmentController.GetEnrollments)

	enrollment := api.Group("/enrollments")
	enrollment.Post("/:id/pause", enrollmentController.PauseEnrollment)
	enrollment.Post("/:id/resume", enrollmentController.ResumeEnrollment)
	enrollment.Get("/:id/executions", enrollmentController.GetExecutions)

	// Engine routes
	engine := api.Group("/engine")
	engine.Post("/run-cycle", engineController.TriggerCycle)
	engine.Get("/progress", engineController.UpgradeProgress, engineController.StreamProgress())
}
