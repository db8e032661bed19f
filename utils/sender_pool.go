package utils

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"cadencer/models"
)

// SenderPool picks sending identities for sequences that don't pin one, and
// owns the daily counter reset.
type SenderPool struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSenderPool(db *gorm.DB, logger *log.Logger) *SenderPool {
	return &SenderPool{
		DB:     db,
		Logger: logger,
	}
}

// RotateSender selects the user's sender with the most remaining capacity today
func (sp *SenderPool) RotateSender(userID uint) (*models.Sender, error) {
	var senders []models.Sender
	if err := sp.DB.Where("user_id = ? AND is_active = ?", userID, true).Find(&senders).Error; err != nil {
		return nil, err
	}

	if len(senders) == 0 {
		return nil, errors.New("no active senders available")
	}

	var bestSender *models.Sender
	maxAvailable := 0

	for i := range senders {
		available := senders[i].DailyLimit - senders[i].SentToday
		if available > maxAvailable {
			maxAvailable = available
			bestSender = &senders[i]
		}
	}

	if bestSender == nil || maxAvailable <= 0 {
		return nil, errors.New("no senders with available capacity")
	}

	return bestSender, nil
}

// ResetDailyCounters zeroes every sender's sent_today; scheduled for local
// midnight by the worker's cron.
func (sp *SenderPool) ResetDailyCounters() {
	if err := sp.DB.Model(&models.Sender{}).
		Where("sent_today > 0").
		Update("sent_today", 0).
		Error; err != nil {
		sp.Logger.Printf("Failed to reset sender counters: %v", err)
		return
	}
	sp.Logger.Println("Successfully reset sender daily counters")
}
