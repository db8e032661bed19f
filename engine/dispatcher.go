package engine

import (
	"encoding/json"
	"fmt"
	"log"

	"cadencer/models"
)

// webhookResponseLimit caps how much of a webhook response body gets stored
// on the execution record.
const webhookResponseLimit = 1000

// StepResult is the audit payload of one successfully dispatched step.
type StepResult struct {
	ExecutionID     uint
	MessageID       string
	TaskID          uint
	WebhookStatus   int
	WebhookResponse string
	ConditionMet    *bool
}

// Dispatcher executes one step of one enrollment against the external
// collaborators. Enrollment state transitions are the scanner's business; the
// dispatcher only performs the step and writes the execution record.
type Dispatcher struct {
	store   Store
	clock   Clock
	mailer  EmailSender
	tasks   TaskCreator
	webhook WebhookCaller
	logger  *log.Logger
}

func NewDispatcher(store Store, clock Clock, mailer EmailSender, tasks TaskCreator, webhook WebhookCaller, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		clock:   clock,
		mailer:  mailer,
		tasks:   tasks,
		webhook: webhook,
		logger:  logger,
	}
}

// Execute runs the step for the enrollment. The pending execution row is
// committed before any side effect so a crash mid-dispatch leaves an
// auditable record rather than silence.
func (d *Dispatcher) Execute(enrollment *models.SequenceEnrollment, step *models.SequenceStep) (*StepResult, error) {
	exec := &models.SequenceStepExecution{
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		StepNumber:   step.StepNumber,
		Status:       models.ExecutionPending,
		StartedAt:    d.clock.Now(),
	}
	if err := d.store.InsertExecution(exec); err != nil {
		return nil, &StepExecutionError{EnrollmentID: enrollment.ID, StepNumber: step.StepNumber, Err: err}
	}

	result := &StepResult{ExecutionID: exec.ID}

	var err error
	switch step.StepType {
	case models.StepTypeEmail:
		err = d.executeEmail(enrollment, step, exec, result)
	case models.StepTypeTask:
		err = d.executeTask(enrollment, step, result)
	case models.StepTypeWait:
		// Wait steps have no external effect; they only consume the delay
		// before the next step.
	case models.StepTypeConditional:
		err = d.executeConditional(enrollment, step, result)
	case models.StepTypeWebhook:
		err = d.executeWebhook(enrollment, step, result)
	default:
		err = fmt.Errorf("unknown step type %q", step.StepType)
	}

	if err != nil {
		if ferr := d.store.UpdateExecution(exec.ID, map[string]interface{}{
			"status":        models.ExecutionFailed,
			"completed_at":  d.clock.Now(),
			"error_message": err.Error(),
		}); ferr != nil {
			d.logger.Printf("Failed to mark execution %d failed: %v", exec.ID, ferr)
		}
		return nil, &StepExecutionError{EnrollmentID: enrollment.ID, StepNumber: step.StepNumber, Err: err}
	}

	patch := map[string]interface{}{
		"status":       models.ExecutionSuccess,
		"completed_at": d.clock.Now(),
	}
	if result.MessageID != "" {
		patch["message_id"] = result.MessageID
	}
	if result.TaskID != 0 {
		patch["task_id"] = result.TaskID
	}
	if result.WebhookStatus != 0 {
		patch["webhook_status"] = result.WebhookStatus
		patch["webhook_response"] = result.WebhookResponse
	}
	if result.ConditionMet != nil {
		patch["condition_result"] = *result.ConditionMet
	}
	if err := d.store.UpdateExecution(exec.ID, patch); err != nil {
		return nil, &StepExecutionError{EnrollmentID: enrollment.ID, StepNumber: step.StepNumber, Err: err}
	}

	return result, nil
}

func (d *Dispatcher) executeEmail(enrollment *models.SequenceEnrollment, step *models.SequenceStep, exec *models.SequenceStepExecution, result *StepResult) error {
	lead := &enrollment.Lead

	subject := RenderVariables(step.Subject, lead)
	htmlBody := RenderVariables(step.Body, lead)
	textBody := HTMLToText(htmlBody)

	messageID, err := d.mailer.Send(OutgoingEmail{
		SenderID:     enrollment.Sequence.SenderID,
		UserID:       enrollment.Sequence.UserID,
		To:           lead.Email,
		Subject:      subject,
		HTMLBody:     htmlBody,
		TextBody:     textBody,
		EnrollmentID: enrollment.ID,
		ExecutionID:  exec.ID,
		TrackOpens:   step.TrackOpens,
		TrackClicks:  step.TrackClicks,
	})
	if err != nil {
		return fmt.Errorf("sending step %d email to %s: %w", step.StepNumber, lead.Email, err)
	}

	if err := d.store.IncrementEmailsSent(enrollment.ID); err != nil {
		// The email is already out; a counter failure must not fail the step
		// or the send would repeat next cycle.
		d.logger.Printf("Failed to increment emails_sent for enrollment %d: %v", enrollment.ID, err)
	}
	enrollment.EmailsSent++

	result.MessageID = messageID
	return nil
}

func (d *Dispatcher) executeTask(enrollment *models.SequenceEnrollment, step *models.SequenceStep, result *StepResult) error {
	lead := &enrollment.Lead

	dueDays := step.TaskDueDays
	if dueDays <= 0 {
		dueDays = 1
	}
	dueDate := d.clock.Now().AddDate(0, 0, dueDays)

	title := RenderVariables(step.TaskTitle, lead)
	description := RenderVariables(step.TaskDescription, lead)

	taskID, err := d.tasks.Create(lead.ID, title, description, step.TaskPriority, dueDate)
	if err != nil {
		return fmt.Errorf("creating task for lead %d: %w", lead.ID, err)
	}

	result.TaskID = taskID
	return nil
}

func (d *Dispatcher) executeConditional(enrollment *models.SequenceEnrollment, step *models.SequenceStep, result *StepResult) error {
	met, err := evaluateCondition(step.ConditionType, enrollment)
	if err != nil {
		return err
	}
	// The branch itself (goto rewind, skip to end) is applied by the scanner
	// after the execution record is finalized.
	result.ConditionMet = &met
	return nil
}

func evaluateCondition(conditionType string, enrollment *models.SequenceEnrollment) (bool, error) {
	switch conditionType {
	case models.ConditionOpened:
		return enrollment.EmailsOpened > 0, nil
	case models.ConditionClicked:
		return enrollment.EmailsClicked > 0, nil
	case models.ConditionReplied:
		return enrollment.RepliesReceived > 0, nil
	case models.ConditionNotOpened:
		return enrollment.EmailsOpened == 0, nil
	case models.ConditionNotClicked:
		return enrollment.EmailsClicked == 0, nil
	case models.ConditionNotReplied:
		return enrollment.RepliesReceived == 0, nil
	default:
		return false, fmt.Errorf("unknown condition type %q", conditionType)
	}
}

func (d *Dispatcher) executeWebhook(enrollment *models.SequenceEnrollment, step *models.SequenceStep, result *StepResult) error {
	lead := &enrollment.Lead

	payload := map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"sequence_id":   enrollment.SequenceID,
		"step_number":   step.StepNumber,
		"lead": map[string]interface{}{
			"id":         lead.ID,
			"email":      lead.Email,
			"first_name": lead.FirstName,
			"last_name":  lead.LastName,
			"company":    lead.Company,
		},
	}
	for key, value := range step.WebhookBody {
		if text, ok := value.(string); ok {
			payload[key] = RenderVariables(text, lead)
		} else {
			payload[key] = value
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	method := step.WebhookMethod
	if method == "" {
		method = "POST"
	}

	// HTTP error statuses are recorded, not raised; what they mean is the
	// webhook's own business. Only transport failures fail the step.
	status, respBody, err := d.webhook.Call(step.WebhookURL, method, step.WebhookHeaders, body)
	if err != nil {
		return fmt.Errorf("calling webhook %s: %w", step.WebhookURL, err)
	}

	result.WebhookStatus = status
	result.WebhookResponse = truncate(string(respBody), webhookResponseLimit)
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
