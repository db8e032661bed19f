package models

import (
	"time"

	"gorm.io/gorm"
)

// Step types supported by the execution engine.
const (
	StepTypeEmail       = "email"
	StepTypeTask        = "task"
	StepTypeWait        = "wait"
	StepTypeConditional = "conditional"
	StepTypeWebhook     = "webhook"
)

// Enrollment statuses.
const (
	EnrollmentActive    = "active"
	EnrollmentPaused    = "paused"
	EnrollmentCompleted = "completed"
)

// Step execution statuses.
const (
	ExecutionPending = "pending"
	ExecutionSuccess = "success"
	ExecutionFailed  = "failed"
)

// Delay units for step scheduling.
const (
	DelayUnitHours = "hours"
	DelayUnitDays  = "days"
	DelayUnitWeeks = "weeks"
)

// Condition types for conditional steps.
const (
	ConditionOpened     = "opened"
	ConditionClicked    = "clicked"
	ConditionReplied    = "replied"
	ConditionNotOpened  = "not_opened"
	ConditionNotClicked = "not_clicked"
	ConditionNotReplied = "not_replied"
)

// Sequence represents a multi-step outbound contact sequence
type Sequence struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SenderID uint `gorm:"index" json:"sender_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, archived

	// Exit and pacing settings
	ExitOnReply     bool `gorm:"default:true" json:"exit_on_reply"`
	ExitOnMeeting   bool `gorm:"default:true" json:"exit_on_meeting"`
	SkipWeekends    bool `gorm:"default:false" json:"skip_weekends"`
	DailyLimit      *int `json:"daily_limit"`
	ThrottleSeconds int  `gorm:"default:0" json:"throttle_seconds"` // pause between dispatches within a cycle

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// SequenceStep represents one configured action in a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int    `gorm:"not null" json:"step_number"` // 1-based, unique within the sequence
	StepType   string `gorm:"not null" json:"step_type"`   // email, task, wait, conditional, webhook

	// Delay before this step runs (ignored for step 1)
	DelayValue int    `gorm:"default:0" json:"delay_value"`
	DelayUnit  string `gorm:"default:'days'" json:"delay_unit"` // hours, days, weeks

	// Email content
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	// Task content
	TaskTitle       string `json:"task_title"`
	TaskDescription string `gorm:"type:text" json:"task_description"`
	TaskPriority    string `gorm:"default:'normal'" json:"task_priority"`
	TaskDueDays     int    `gorm:"default:1" json:"task_due_days"`

	// Conditional content
	ConditionType string `json:"condition_type"` // opened, clicked, replied, not_opened, not_clicked, not_replied
	GotoStep      *int   `json:"goto_step"`
	SkipToEnd     bool   `gorm:"default:false" json:"skip_to_end"`

	// Webhook content
	WebhookURL     string                 `json:"webhook_url"`
	WebhookMethod  string                 `gorm:"default:'POST'" json:"webhook_method"`
	WebhookHeaders map[string]string      `gorm:"type:jsonb;serializer:json" json:"webhook_headers"`
	WebhookBody    map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"webhook_body"`

	// Send window in local clock time ("09:00", "17:00")
	SendWindowStart string `json:"send_window_start"`
	SendWindowEnd   string `json:"send_window_end"`

	// Per-step settings
	TrackOpens  bool   `gorm:"default:true" json:"track_opens"`
	TrackClicks bool   `gorm:"default:true" json:"track_clicks"`
	Timezone    string `gorm:"default:'UTC'" json:"timezone"`
}

// SequenceEnrollment tracks one lead's progress through one sequence
type SequenceEnrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	LeadID     uint `gorm:"not null;index" json:"lead_id"`
	UserID     uint `gorm:"index" json:"user_id"`

	// CurrentStep is the last completed step number; 0 means step 1 has not run yet
	CurrentStep int    `gorm:"default:0" json:"current_step"`
	Status      string `gorm:"default:'active';index" json:"status"` // active, paused, completed

	NextStepScheduledAt *time.Time `gorm:"index" json:"next_step_scheduled_at"`
	PausedReason        *string    `json:"paused_reason"`
	CompletedAt         *time.Time `json:"completed_at"`

	// Engagement counters (also incremented by the tracking endpoints)
	EmailsSent      int `gorm:"default:0" json:"emails_sent"`
	EmailsOpened    int `gorm:"default:0" json:"emails_opened"`
	EmailsClicked   int `gorm:"default:0" json:"emails_clicked"`
	RepliesReceived int `gorm:"default:0" json:"replies_received"`
	MeetingsBooked  int `gorm:"default:0" json:"meetings_booked"`

	// Scanner lease - held while a cycle is processing this enrollment so two
	// overlapping cycles never dispatch the same step twice
	LockedBy    *string    `json:"-"`
	LockedUntil *time.Time `json:"-"`

	// Relations
	Sequence Sequence `json:"-"`
	Lead     Lead     `json:"-"`
}

// SequenceStepExecution is the audit record of one attempt to run a step.
// Rows are created as pending before the side-effecting call and finalized
// to success/failed afterwards; finalized rows are never mutated again.
type SequenceStepExecution struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	StepID       uint `gorm:"not null;index" json:"step_id"`
	StepNumber   int  `gorm:"not null" json:"step_number"`

	Status      string     `gorm:"default:'pending';index" json:"status"` // pending, success, failed
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Type-specific result metadata
	MessageID       string `json:"message_id"`
	TaskID          *uint  `json:"task_id"`
	WebhookStatus   *int   `json:"webhook_status"`
	WebhookResponse string `gorm:"type:text" json:"webhook_response"`
	ConditionResult *bool  `json:"condition_result"`
	ErrorMessage    string `gorm:"type:text" json:"error_message"`
}
