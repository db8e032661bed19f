package engine

import (
	"time"

	"cadencer/models"
)

// Store is the entity-store surface the engine depends on. The production
// implementation is GormStore; tests use an in-memory fake.
type Store interface {
	// ListDueEnrollments returns active enrollments whose next step is due at
	// or before now, earliest deadline first, with the sequence, its steps
	// and the lead preloaded.
	ListDueEnrollments(now time.Time, limit int) ([]models.SequenceEnrollment, error)

	// CountSuccessfulExecutions counts success executions of one step for one
	// enrollment since the given instant.
	CountSuccessfulExecutions(enrollmentID, stepID uint, since time.Time) (int64, error)

	// ClaimEnrollment acquires an exclusive lease on an enrollment. The claim
	// only lands if the row is still active and not leased by a live worker;
	// returns false when another worker got there first.
	ClaimEnrollment(enrollmentID uint, owner string, until time.Time) (bool, error)

	// ReleaseEnrollment drops a lease without touching scheduling state.
	ReleaseEnrollment(enrollmentID uint, owner string) error

	UpdateEnrollment(enrollmentID uint, patch map[string]interface{}) error

	// IncrementEmailsSent bumps the enrollment's sent counter atomically.
	IncrementEmailsSent(enrollmentID uint) error

	InsertExecution(exec *models.SequenceStepExecution) error

	// UpdateExecution finalizes a pending execution record. Implementations
	// must refuse to touch rows that are already success/failed.
	UpdateExecution(executionID uint, patch map[string]interface{}) error
}

// EmailSender delivers a rendered email and returns the provider message id.
type EmailSender interface {
	Send(email OutgoingEmail) (string, error)
}

// OutgoingEmail carries everything the sending collaborator needs, including
// correlation ids so downstream tracking can reference the execution.
type OutgoingEmail struct {
	SenderID     uint
	UserID       uint
	To           string
	Subject      string
	HTMLBody     string
	TextBody     string
	EnrollmentID uint
	ExecutionID  uint
	TrackOpens   bool
	TrackClicks  bool
}

// TaskCreator records a follow-up task for a lead and returns its id.
type TaskCreator interface {
	Create(leadID uint, title, description, priority string, dueDate time.Time) (uint, error)
}

// WebhookCaller performs the HTTP call for webhook steps. It returns an error
// only on transport failure; HTTP error statuses come back as data.
type WebhookCaller interface {
	Call(url, method string, headers map[string]string, body []byte) (int, []byte, error)
}
