package utils

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"cadencer/engine"
	"cadencer/models"
)

// SequenceMailer delivers sequence emails through the sending identity
// configured on the sequence, or a rotated one when none is pinned.
type SequenceMailer struct {
	DB      *gorm.DB
	Logger  *log.Logger
	Pool    *SenderPool
	BaseURL string
}

func NewSequenceMailer(db *gorm.DB, logger *log.Logger, pool *SenderPool, baseURL string) *SequenceMailer {
	return &SequenceMailer{
		DB:      db,
		Logger:  logger,
		Pool:    pool,
		BaseURL: baseURL,
	}
}

// Send delivers the email and returns the message id used for tracking.
func (m *SequenceMailer) Send(email engine.OutgoingEmail) (string, error) {
	sender, err := m.resolveSender(email)
	if err != nil {
		return "", err
	}

	if sender.DailyLimit > 0 && sender.SentToday >= sender.DailyLimit {
		return "", fmt.Errorf("sender %s reached its daily limit of %d", sender.FromEmail, sender.DailyLimit)
	}

	messageID := uuid.New().String()

	htmlBody := email.HTMLBody
	if email.TrackClicks {
		htmlBody = InjectClickTracking(htmlBody, m.BaseURL, messageID)
	}
	if email.TrackOpens {
		htmlBody += TrackingPixel(m.BaseURL, messageID)
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", sender.FromEmail, sender.FromName)
	msg.SetHeader("To", email.To)
	if sender.ReplyTo != "" {
		msg.SetHeader("Reply-To", sender.ReplyTo)
	}
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/plain", email.TextBody)
	msg.AddAlternative("text/html", htmlBody)

	dialer := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, sender.SMTPPassword)
	if err := dialer.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("sending via %s: %w", sender.SMTPHost, err)
	}

	if err := m.DB.Model(sender).Updates(map[string]interface{}{
		"sent_today": gorm.Expr("sent_today + ?", 1),
		"total_sent": gorm.Expr("total_sent + ?", 1),
	}).Error; err != nil {
		m.Logger.Printf("Failed to update sender counters for %d: %v", sender.ID, err)
	}

	// The tracking row references the enrollment and execution so the
	// open/click/reply callbacks can find their way back to the engine's
	// counters.
	tracking := models.EmailTracking{
		SenderID:     sender.ID,
		EnrollmentID: email.EnrollmentID,
		ExecutionID:  email.ExecutionID,
		Recipient:    email.To,
		Subject:      email.Subject,
		MessageID:    messageID,
	}
	if err := m.DB.Create(&tracking).Error; err != nil {
		m.Logger.Printf("Failed to record tracking for message %s: %v", messageID, err)
	}

	return messageID, nil
}

func (m *SequenceMailer) resolveSender(email engine.OutgoingEmail) (*models.Sender, error) {
	if email.SenderID != 0 {
		var sender models.Sender
		if err := m.DB.First(&sender, email.SenderID).Error; err != nil {
			return nil, fmt.Errorf("loading sender %d: %w", email.SenderID, err)
		}
		return &sender, nil
	}
	return m.Pool.RotateSender(email.UserID)
}
