package engine

import (
	"time"

	"gorm.io/gorm"

	"cadencer/models"
)

// GormStore is the production Store backed by the application database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) ListDueEnrollments(now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	var enrollments []models.SequenceEnrollment
	err := s.db.
		Preload("Sequence").
		Preload("Sequence.Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number ASC")
		}).
		Preload("Lead").
		Preload("Lead.CustomFields").
		Where("status = ? AND next_step_scheduled_at <= ?", models.EnrollmentActive, now).
		Order("next_step_scheduled_at ASC").
		Limit(limit).
		Find(&enrollments).Error
	return enrollments, err
}

func (s *GormStore) CountSuccessfulExecutions(enrollmentID, stepID uint, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.SequenceStepExecution{}).
		Where("enrollment_id = ? AND step_id = ? AND status = ? AND completed_at >= ?",
			enrollmentID, stepID, models.ExecutionSuccess, since).
		Count(&count).Error
	return count, err
}

// ClaimEnrollment is a conditional update: the claim only lands if the row is
// still active and any previous lease has expired. RowsAffected tells us
// whether we won the race.
func (s *GormStore) ClaimEnrollment(enrollmentID uint, owner string, until time.Time) (bool, error) {
	res := s.db.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND (locked_until IS NULL OR locked_until < ?)",
			enrollmentID, models.EnrollmentActive, time.Now()).
		Updates(map[string]interface{}{
			"locked_by":    owner,
			"locked_until": until,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ReleaseEnrollment(enrollmentID uint, owner string) error {
	return s.db.Model(&models.SequenceEnrollment{}).
		Where("id = ? AND locked_by = ?", enrollmentID, owner).
		Updates(map[string]interface{}{
			"locked_by":    nil,
			"locked_until": nil,
		}).Error
}

func (s *GormStore) UpdateEnrollment(enrollmentID uint, patch map[string]interface{}) error {
	return s.db.Model(&models.SequenceEnrollment{}).
		Where("id = ?", enrollmentID).
		Updates(patch).Error
}

func (s *GormStore) IncrementEmailsSent(enrollmentID uint) error {
	return s.db.Model(&models.SequenceEnrollment{}).
		Where("id = ?", enrollmentID).
		Update("emails_sent", gorm.Expr("emails_sent + ?", 1)).Error
}

func (s *GormStore) InsertExecution(exec *models.SequenceStepExecution) error {
	return s.db.Create(exec).Error
}

// UpdateExecution only touches pending rows; finalized executions are
// immutable audit records.
func (s *GormStore) UpdateExecution(executionID uint, patch map[string]interface{}) error {
	return s.db.Model(&models.SequenceStepExecution{}).
		Where("id = ? AND status = ?", executionID, models.ExecutionPending).
		Updates(patch).Error
}
