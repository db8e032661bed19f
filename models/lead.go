package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead represents a single contact/lead
type Lead struct {
	gorm.Model
	UserID uint `gorm:"index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`

	// Status
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	// Metadata
	Source      string     `json:"source"` // manual, csv, api, etc.
	LastContact *time.Time `json:"last_contact"`

	// Relations
	CustomFields []LeadCustomField    `gorm:"foreignKey:LeadID" json:"custom_fields,omitempty"`
	Enrollments  []SequenceEnrollment `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
	Tasks        []Task               `gorm:"foreignKey:LeadID" json:"tasks,omitempty"`
}

// LeadCustomField represents custom fields for leads
type LeadCustomField struct {
	gorm.Model
	LeadID uint   `gorm:"not null;index" json:"lead_id"`
	Name   string `gorm:"not null;index" json:"name"`
	Value  string `gorm:"type:text" json:"value"`
}

// Task represents a CRM follow-up task created by a task step
type Task struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`
	UserID uint `gorm:"index" json:"user_id"`

	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Priority    string    `gorm:"default:'normal'" json:"priority"` // low, normal, high
	DueDate     time.Time `json:"due_date"`
	Status      string    `gorm:"default:'open'" json:"status"` // open, done, canceled

	// Relations
	Lead Lead `json:"-"`
}
