package models

import "time"

// DefaultMaxAttempts is the per-entry attempt cap (initial try plus retries
// happen on subsequent drain cycles; the drain interval is the backoff).
const DefaultMaxAttempts = 3

// UploadQueue is one pending unit of upload work for a PackingImage.
// Entries are never deleted; COMPLETED/FAILED rows stay as an audit trail.
type UploadQueue struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ImageID     uint         `gorm:"index;not null"`
	Image       PackingImage `gorm:"foreignKey:ImageID;references:ID"`
	Attempts    int          `gorm:"not null;default:0"`
	MaxAttempts int          `gorm:"not null;default:3"`
	Priority    int          `gorm:"not null;default:0;index"`
	Status      string       `gorm:"size:16;not null;default:PENDING;index"`
	LastError   *string      `gorm:"size:1024"`
}
