package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"cadencer/models"
)

// fakeStore is the in-memory Store used across the engine tests. It records
// every mutation so assertions can inspect exactly what the engine wrote.
type fakeStore struct {
	mu sync.Mutex

	due     []models.SequenceEnrollment
	listErr error

	executionsToday int64
	countErr        error

	claimDenied map[uint]bool
	claims      []uint
	releases    []uint

	enrollmentPatches map[uint][]map[string]interface{}
	updateErr         error

	executions []*models.SequenceStepExecution
	insertErr  error
	nextExecID uint

	sentIncrements []uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		claimDenied:       map[uint]bool{},
		enrollmentPatches: map[uint][]map[string]interface{}{},
		nextExecID:        1,
	}
}

func (f *fakeStore) ListDueEnrollments(now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) CountSuccessfulExecutions(enrollmentID, stepID uint, since time.Time) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.executionsToday, nil
}

func (f *fakeStore) ClaimEnrollment(enrollmentID uint, owner string, until time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimDenied[enrollmentID] {
		return false, nil
	}
	f.claims = append(f.claims, enrollmentID)
	return true, nil
}

func (f *fakeStore) ReleaseEnrollment(enrollmentID uint, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, enrollmentID)
	return nil
}

func (f *fakeStore) UpdateEnrollment(enrollmentID uint, patch map[string]interface{}) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollmentPatches[enrollmentID] = append(f.enrollmentPatches[enrollmentID], patch)
	return nil
}

func (f *fakeStore) IncrementEmailsSent(enrollmentID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentIncrements = append(f.sentIncrements, enrollmentID)
	return nil
}

func (f *fakeStore) InsertExecution(exec *models.SequenceStepExecution) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	exec.ID = f.nextExecID
	f.nextExecID++
	f.executions = append(f.executions, exec)
	return nil
}

func (f *fakeStore) UpdateExecution(executionID uint, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, exec := range f.executions {
		if exec.ID != executionID {
			continue
		}
		if exec.Status != models.ExecutionPending {
			return errors.New("execution already finalized")
		}
		if status, ok := patch["status"].(string); ok {
			exec.Status = status
		}
		if msg, ok := patch["message_id"].(string); ok {
			exec.MessageID = msg
		}
		if taskID, ok := patch["task_id"].(uint); ok {
			exec.TaskID = &taskID
		}
		if status, ok := patch["webhook_status"].(int); ok {
			exec.WebhookStatus = &status
		}
		if body, ok := patch["webhook_response"].(string); ok {
			exec.WebhookResponse = body
		}
		if met, ok := patch["condition_result"].(bool); ok {
			exec.ConditionResult = &met
		}
		if msg, ok := patch["error_message"].(string); ok {
			exec.ErrorMessage = msg
		}
		return nil
	}
	return fmt.Errorf("execution %d not found", executionID)
}

// lastPatch returns the most recent enrollment patch, or nil.
func (f *fakeStore) lastPatch(enrollmentID uint) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	patches := f.enrollmentPatches[enrollmentID]
	if len(patches) == 0 {
		return nil
	}
	return patches[len(patches)-1]
}

type fakeMailer struct {
	sent      []OutgoingEmail
	messageID string
	err       error
}

func (f *fakeMailer) Send(email OutgoingEmail) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, email)
	if f.messageID != "" {
		return f.messageID, nil
	}
	return "msg-1", nil
}

type fakeTasks struct {
	created []models.Task
	nextID  uint
	err     error
}

func (f *fakeTasks) Create(leadID uint, title, description, priority string, dueDate time.Time) (uint, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	f.created = append(f.created, models.Task{
		LeadID:      leadID,
		Title:       title,
		Description: description,
		Priority:    priority,
		DueDate:     dueDate,
	})
	return f.nextID, nil
}

type fakeWebhook struct {
	calls  []webhookCall
	status int
	body   []byte
	err    error
}

type webhookCall struct {
	url     string
	method  string
	headers map[string]string
	body    []byte
}

func (f *fakeWebhook) Call(url, method string, headers map[string]string, body []byte) (int, []byte, error) {
	if f.err != nil {
		return 0, nil, f.err
	}
	f.calls = append(f.calls, webhookCall{url: url, method: method, headers: headers, body: body})
	if f.status == 0 {
		return 200, f.body, nil
	}
	return f.status, f.body, nil
}

// panickingMailer exercises the scanner's panic isolation.
type panickingMailer struct{}

func (panickingMailer) Send(OutgoingEmail) (string, error) { panic("mailer exploded") }

func intPtr(v int) *int { return &v }

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func emailStep(number int, delayValue int, delayUnit string) models.SequenceStep {
	step := models.SequenceStep{
		StepNumber: number,
		StepType:   models.StepTypeEmail,
		DelayValue: delayValue,
		DelayUnit:  delayUnit,
		Subject:    "Hello {first_name}",
		Body:       "<p>Hi {first_name}</p>",
	}
	step.ID = uint(100 + number)
	return step
}

func testEnrollment(id uint, currentStep int, steps ...models.SequenceStep) models.SequenceEnrollment {
	seq := models.Sequence{
		UserID:   7,
		SenderID: 3,
		Name:     "Outbound Q1",
		Status:   "active",
		Steps:    steps,
	}
	seq.ID = 1

	lead := models.Lead{
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   "Analytical Engines",
	}
	lead.ID = 42

	enrollment := models.SequenceEnrollment{
		SequenceID:  seq.ID,
		LeadID:      lead.ID,
		UserID:      7,
		CurrentStep: currentStep,
		Status:      models.EnrollmentActive,
		Sequence:    seq,
		Lead:        lead,
	}
	enrollment.ID = id
	return enrollment
}
