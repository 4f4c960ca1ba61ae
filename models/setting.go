package models

import "time"

// Setting is a single application setting (key/value).
type Setting struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Key       string `gorm:"size:64;uniqueIndex;not null"`
	Value     string `gorm:"size:1024"`
}
