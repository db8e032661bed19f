package controller

import (
	"log"
	"time"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"cadencer/models"
	"cadencer/utils"
)

type EnrollmentController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewEnrollmentController(db *gorm.DB, logger *log.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:     db,
		Logger: logger,
	}
}

type enrollInput struct {
	LeadID  uint       `json:"lead_id" validate:"required"`
	StartAt *time.Time `json:"start_at"`
}

// EnrollLead puts a lead on a sequence. The first step becomes due immediately
// unless start_at pushes it into the future.
func (ec *EnrollmentController) EnrollLead(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var sequence models.Sequence
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var input enrollInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var lead models.Lead
	if err := ec.DB.Where("id = ? AND user_id = ?", input.LeadID, userID).First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	if err := checkmail.ValidateFormat(lead.Email); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Lead has an invalid email address", err)
	}
	if lead.IsUnsubscribed || lead.IsBounced || lead.IsDoNotContact {
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Lead cannot be contacted", nil)
	}

	var existing int64
	ec.DB.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND lead_id = ? AND status IN ?", sequence.ID, lead.ID,
			[]string{models.EnrollmentActive, models.EnrollmentPaused}).
		Count(&existing)
	if existing > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is already enrolled in this sequence", nil)
	}

	firstDue := time.Now()
	if input.StartAt != nil && input.StartAt.After(firstDue) {
		firstDue = *input.StartAt
	}

	enrollment := models.SequenceEnrollment{
		SequenceID:          sequence.ID,
		LeadID:              lead.ID,
		UserID:              userID,
		CurrentStep:         0,
		Status:              models.EnrollmentActive,
		NextStepScheduledAt: &firstDue,
	}
	if err := ec.DB.Create(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", err)
	}

	ec.Logger.Printf("Enrolled lead %d in sequence %d", lead.ID, sequence.ID)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

func (ec *EnrollmentController) GetEnrollments(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	query := ec.DB.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND user_id = ?", c.Params("id"), userID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var total int64
	query.Count(&total)

	var enrollments []models.SequenceEnrollment
	if err := query.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  enrollments,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// PauseEnrollment manually parks an enrollment. The scanner ignores paused
// rows, so the lead receives nothing until resumed.
func (ec *EnrollmentController) PauseEnrollment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	if enrollment.Status != models.EnrollmentActive {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only active enrollments can be paused", nil)
	}

	if err := ec.DB.Model(&enrollment).Updates(map[string]interface{}{
		"status":        models.EnrollmentPaused,
		"paused_reason": "paused manually",
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause enrollment", err)
	}

	return c.JSON(utils.SuccessResponse(enrollment))
}

// ResumeEnrollment reactivates a paused enrollment. The next step is made due
// now; the scanner's gate and window logic decide when it actually runs.
func (ec *EnrollmentController) ResumeEnrollment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	if enrollment.Status != models.EnrollmentPaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only paused enrollments can be resumed", nil)
	}

	if err := ec.DB.Model(&enrollment).Updates(map[string]interface{}{
		"status":                 models.EnrollmentActive,
		"paused_reason":          nil,
		"next_step_scheduled_at": time.Now(),
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resume enrollment", err)
	}

	return c.JSON(utils.SuccessResponse(enrollment))
}

// GetExecutions lists the step execution history of one enrollment.
func (ec *EnrollmentController) GetExecutions(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var enrollment models.SequenceEnrollment
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), userID).First(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}

	var executions []models.SequenceStepExecution
	if err := ec.DB.Where("enrollment_id = ?", enrollment.ID).
		Order("started_at DESC").
		Find(&executions).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch executions", err)
	}

	return c.JSON(utils.SuccessResponse(executions))
}
