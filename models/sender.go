package models

import (
	"time"

	"gorm.io/gorm"
)

// Sender represents an email sending identity and its SMTP credentials
type Sender struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Basic identification
	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`
	ReplyTo   string `json:"reply_to"`

	// ========= SMTP Configuration =========
	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"not null" json:"smtp_port"`
	SMTPUsername string `gorm:"not null" json:"smtp_username"`
	SMTPPassword string `gorm:"not null" json:"-"`          // Encrypted in application layer
	Encryption   string `gorm:"not null" json:"encryption"` // SSL, TLS, STARTTLS

	// ========= Status =========
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastTestedAt *time.Time `json:"last_tested_at"`
	LastError    *string    `json:"last_error"`

	// ========= Usage Metrics =========
	DailyLimit int `gorm:"default:500" json:"daily_limit"`
	SentToday  int `gorm:"default:0" json:"sent_today"`
	TotalSent  int `gorm:"default:0" json:"total_sent"`
}

// Sanitize strips credentials before a sender is returned over the API
func (s *Sender) Sanitize() {
	s.SMTPPassword = ""
}

// EmailTracking correlates a sent message with its enrollment so the
// open/click/reply callbacks can find their way back to the engine's counters
type EmailTracking struct {
	gorm.Model
	SenderID     uint       `gorm:"not null;index" json:"sender_id"`
	EnrollmentID uint       `gorm:"not null;index" json:"enrollment_id"`
	ExecutionID  uint       `gorm:"index" json:"execution_id"`
	Recipient    string     `gorm:"not null" json:"recipient"`
	Subject      string     `json:"subject"`
	MessageID    string     `gorm:"not null;uniqueIndex" json:"message_id"`
	OpenedAt     *time.Time `json:"opened_at"`
	ClickedAt    *time.Time `json:"clicked_at"`
	RepliedAt    *time.Time `json:"replied_at"`
}
