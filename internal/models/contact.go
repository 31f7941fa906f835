package models

import "time"

// Contact is an inbound contact-form submission.
type Contact struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	Email        *string   `gorm:"type:varchar(255)" json:"email"`
	Phone        *string   `gorm:"type:varchar(50)" json:"phone"`
	Subject      *string   `gorm:"type:varchar(255)" json:"subject"`
	Message      string    `gorm:"type:text;not null" json:"message"`
	PropertyID   *int64    `gorm:"index" json:"property_id"`
	AssignedToID *int64    `gorm:"index" json:"assigned_to_id"`
	IsRead       bool      `gorm:"not null;default:false" json:"is_read"`
	SubmittedAt  time.Time `gorm:"not null;index" json:"submitted_at"`

	AssignedTo *User `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
}

func (Contact) TableName() string {
	return "contacts"
}
