package controller

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"cadencer/models"
	"cadencer/utils"
)

type TrackingController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTrackingController(db *gorm.DB, logger *log.Logger) *TrackingController {
	return &TrackingController{
		DB:     db,
		Logger: logger,
	}
}

// transparentPixel is a 1x1 transparent GIF served by the open endpoint.
var transparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

// HandleOpenTracking records an email open and returns the pixel. Always
// serves the image, even on bad tokens, so mail clients never show a broken
// asset.
func (tc *TrackingController) HandleOpenTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	if utils.ValidateTrackingToken(messageID, token) {
		tc.recordEvent(messageID, "open")
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(transparentPixel)
}

// HandleClickTracking records a click and redirects to the original URL.
func (tc *TrackingController) HandleClickTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	target := c.Query("url")
	if target == "" || (!strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://")) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid redirect URL", nil)
	}

	if utils.ValidateTrackingToken(messageID, token) {
		tc.recordEvent(messageID, "click")
	}

	return c.Redirect(target, fiber.StatusFound)
}

type engagementEventInput struct {
	MessageID string `json:"message_id" validate:"required"`
	EventType string `json:"event_type" validate:"required,oneof=open click reply meeting"`
}

// HandleEngagementEvent ingests engagement signals reported by external
// systems (reply detection, calendar integrations). Replies and meetings can
// only arrive this way; opens and clicks usually come from the pixel and
// redirect endpoints but are accepted here too.
func (tc *TrackingController) HandleEngagementEvent(c *fiber.Ctx) error {
	var input engagementEventInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := tc.recordEvent(input.MessageID, input.EventType); err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown message", nil)
	}

	return c.JSON(fiber.Map{"message": "Event recorded"})
}

// recordEvent stamps the tracking row and bumps the enrollment counters the
// gate checks. Each event type is counted once per message; repeat opens of
// the same message do not inflate the numbers.
func (tc *TrackingController) recordEvent(messageID, eventType string) error {
	var tracking models.EmailTracking
	if err := tc.DB.Where("message_id = ?", messageID).First(&tracking).Error; err != nil {
		return err
	}

	now := time.Now()
	enrollment := tc.DB.Model(&models.SequenceEnrollment{}).Where("id = ?", tracking.EnrollmentID)

	switch eventType {
	case "open":
		if tracking.OpenedAt != nil {
			return nil
		}
		tc.DB.Model(&tracking).Update("opened_at", now)
		enrollment.Update("emails_opened", gorm.Expr("emails_opened + 1"))
	case "click":
		if tracking.ClickedAt != nil {
			return nil
		}
		tc.DB.Model(&tracking).Update("clicked_at", now)
		enrollment.Update("emails_clicked", gorm.Expr("emails_clicked + 1"))
	case "reply":
		if tracking.RepliedAt != nil {
			return nil
		}
		tc.DB.Model(&tracking).Update("replied_at", now)
		enrollment.Update("replies_received", gorm.Expr("replies_received + 1"))
	case "meeting":
		enrollment.Update("meetings_booked", gorm.Expr("meetings_booked + 1"))
	}

	tc.Logger.Printf("Recorded %s event for message %s (enrollment %d)", eventType, messageID, tracking.EnrollmentID)
	return nil
}
