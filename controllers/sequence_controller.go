package controller

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"cadencer/models"
	"cadencer/utils"
)

type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Logger: logger,
	}
}

type stepInput struct {
	StepNumber int    `json:"step_number" validate:"required,min=1"`
	StepType   string `json:"step_type" validate:"required,oneof=email task wait conditional webhook"`
	DelayValue int    `json:"delay_value" validate:"min=0"`
	DelayUnit  string `json:"delay_unit" validate:"omitempty,oneof=hours days weeks"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	TaskTitle       string `json:"task_title"`
	TaskDescription string `json:"task_description"`
	TaskPriority    string `json:"task_priority"`
	TaskDueDays     int    `json:"task_due_days"`

	ConditionType string `json:"condition_type" validate:"omitempty,oneof=opened clicked replied not_opened not_clicked not_replied"`
	GotoStep      *int   `json:"goto_step"`
	SkipToEnd     bool   `json:"skip_to_end"`

	WebhookURL     string                 `json:"webhook_url" validate:"omitempty,url"`
	WebhookMethod  string                 `json:"webhook_method"`
	WebhookHeaders map[string]string      `json:"webhook_headers"`
	WebhookBody    map[string]interface{} `json:"webhook_body"`

	SendWindowStart string `json:"send_window_start"`
	SendWindowEnd   string `json:"send_window_end"`

	TrackOpens  bool   `json:"track_opens"`
	TrackClicks bool   `json:"track_clicks"`
	Timezone    string `json:"timezone"`
}

type sequenceInput struct {
	Name            string      `json:"name" validate:"required,min=1,max=200"`
	Description     string      `json:"description"`
	SenderID        uint        `json:"sender_id"`
	ExitOnReply     bool        `json:"exit_on_reply"`
	ExitOnMeeting   bool        `json:"exit_on_meeting"`
	SkipWeekends    bool        `json:"skip_weekends"`
	DailyLimit      *int        `json:"daily_limit"`
	ThrottleSeconds int         `json:"throttle_seconds"`
	Steps           []stepInput `json:"steps" validate:"required,min=1,dive"`
}

// validateSteps enforces the structural rules the engine relies on: unique
// 1-based step numbers and goto targets that exist.
func validateSteps(steps []stepInput) error {
	seen := make(map[int]bool)
	for _, step := range steps {
		if seen[step.StepNumber] {
			return fmt.Errorf("duplicate step number %d", step.StepNumber)
		}
		seen[step.StepNumber] = true

		if step.StepType == models.StepTypeConditional && step.ConditionType == "" {
			return fmt.Errorf("step %d: conditional steps need a condition_type", step.StepNumber)
		}
		if step.StepType == models.StepTypeWebhook && step.WebhookURL == "" {
			return fmt.Errorf("step %d: webhook steps need a webhook_url", step.StepNumber)
		}
	}
	for i := 1; i <= len(steps); i++ {
		if !seen[i] {
			return fmt.Errorf("step numbers must be contiguous from 1; missing %d", i)
		}
	}
	for _, step := range steps {
		if step.GotoStep != nil && !seen[*step.GotoStep] {
			return fmt.Errorf("step %d: goto target %d does not exist", step.StepNumber, *step.GotoStep)
		}
	}
	return nil
}

func stepFromInput(sequenceID uint, input stepInput) models.SequenceStep {
	delayUnit := input.DelayUnit
	if delayUnit == "" {
		delayUnit = models.DelayUnitDays
	}
	dueDays := input.TaskDueDays
	if dueDays <= 0 {
		dueDays = 1
	}
	return models.SequenceStep{
		SequenceID:      sequenceID,
		StepNumber:      input.StepNumber,
		StepType:        input.StepType,
		DelayValue:      input.DelayValue,
		DelayUnit:       delayUnit,
		Subject:         input.Subject,
		Body:            input.Body,
		TaskTitle:       input.TaskTitle,
		TaskDescription: input.TaskDescription,
		TaskPriority:    input.TaskPriority,
		TaskDueDays:     dueDays,
		ConditionType:   input.ConditionType,
		GotoStep:        input.GotoStep,
		SkipToEnd:       input.SkipToEnd,
		WebhookURL:      input.WebhookURL,
		WebhookMethod:   input.WebhookMethod,
		WebhookHeaders:  input.WebhookHeaders,
		WebhookBody:     input.WebhookBody,
		SendWindowStart: input.SendWindowStart,
		SendWindowEnd:   input.SendWindowEnd,
		TrackOpens:      input.TrackOpens,
		TrackClicks:     input.TrackClicks,
		Timezone:        input.Timezone,
	}
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := validateSteps(input.Steps); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid steps", err)
	}

	sequence := models.Sequence{
		UserID:          userID,
		SenderID:        input.SenderID,
		Name:            input.Name,
		Description:     input.Description,
		Status:          "draft",
		ExitOnReply:     input.ExitOnReply,
		ExitOnMeeting:   input.ExitOnMeeting,
		SkipWeekends:    input.SkipWeekends,
		DailyLimit:      input.DailyLimit,
		ThrottleSeconds: input.ThrottleSeconds,
	}

	tx := sc.DB.Begin()
	if err := tx.Create(&sequence).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}
	for _, step := range input.Steps {
		record := stepFromInput(sequence.ID, step)
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence step", err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}

	sc.Logger.Printf("Created sequence %d with %d steps", sequence.ID, len(input.Steps))
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var sequences []models.Sequence
	if err := sc.DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}

	return c.JSON(utils.SuccessResponse(sequences))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var sequence models.Sequence
	if err := sc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	return c.JSON(utils.SuccessResponse(sequence))
}

// UpdateSequence replaces the sequence settings and steps. Blocked while the
// sequence is active so enrollments never see a template change mid-flight.
func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	if sequence.Status == "active" {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Pause the sequence before editing it", nil)
	}

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := validateSteps(input.Steps); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid steps", err)
	}

	tx := sc.DB.Begin()

	sequence.Name = input.Name
	sequence.Description = input.Description
	sequence.SenderID = input.SenderID
	sequence.ExitOnReply = input.ExitOnReply
	sequence.ExitOnMeeting = input.ExitOnMeeting
	sequence.SkipWeekends = input.SkipWeekends
	sequence.DailyLimit = input.DailyLimit
	sequence.ThrottleSeconds = input.ThrottleSeconds

	if err := tx.Save(&sequence).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}
	if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.SequenceStep{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence steps", err)
	}
	for _, step := range input.Steps {
		record := stepFromInput(sequence.ID, step)
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence steps", err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}

	return c.JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	return sc.setStatus(c, "active")
}

func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	return sc.setStatus(c, "paused")
}

func (sc *SequenceController) setStatus(c *fiber.Ctx, status string) error {
	userID := c.Locals("userID").(uint)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	sequence.Status = status
	if err := sc.DB.Save(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence status", err)
	}

	return c.JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var sequence models.Sequence
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var activeCount int64
	sc.DB.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentActive).
		Count(&activeCount)
	if activeCount > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence has active enrollments", nil)
	}

	if err := sc.DB.Delete(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", err)
	}

	return c.JSON(fiber.Map{"message": "Sequence deleted successfully"})
}
