package utils

import (
	"time"

	"gorm.io/gorm"

	"cadencer/models"
)

// TaskService records CRM follow-up tasks created by task steps.
type TaskService struct {
	DB *gorm.DB
}

func NewTaskService(db *gorm.DB) *TaskService {
	return &TaskService{DB: db}
}

func (t *TaskService) Create(leadID uint, title, description, priority string, dueDate time.Time) (uint, error) {
	if priority == "" {
		priority = "normal"
	}

	task := models.Task{
		LeadID:      leadID,
		Title:       title,
		Description: description,
		Priority:    priority,
		DueDate:     dueDate,
	}
	if err := t.DB.Create(&task).Error; err != nil {
		return 0, err
	}

	return task.ID, nil
}
