package models

import (
	"strings"
	"time"
)

// Contact is the person record a user account is linked to. The wider CRM
// owns richer contact data; this carries the fields the account slice reads.
type Contact struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	FirstName string `gorm:"size:100;not null"`
	LastName  string `gorm:"size:100"`
	Email     string `gorm:"size:255;not null;uniqueIndex"`
	Phone     string `gorm:"size:64"`
	// Avatar is a public relative path below the upload base dir.
	Avatar string `gorm:"size:512"`
}

// FullName joins the name parts, skipping empty ones.
func (c Contact) FullName() string {
	parts := []string{}
	if c.FirstName != "" {
		parts = append(parts, c.FirstName)
	}
	if c.LastName != "" {
		parts = append(parts, c.LastName)
	}
	return strings.Join(parts, " ")
}
