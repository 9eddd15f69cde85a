package models

import (
	"time"

	"github.com/lib/pq"
)

// User model
type User struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time     `gorm:"index"`
	Username     string         `gorm:"size:255;not null;unique"`
	PasswordHash []byte         `gorm:"not null"`
	Roles        pq.StringArray `gorm:"type:text[]"`
	ContactID    uint           `gorm:"index;not null"`
	Contact      Contact        `gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
}
