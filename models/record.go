package models

import "time"

// PackingRecord is one packed invoice, documented with before/after photos.
type PackingRecord struct {
	ID            uint `gorm:"primaryKey"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	InvoiceNumber string    `gorm:"size:64;not null;index"`
	Notes         string    `gorm:"size:1024"`
	PackedAt      time.Time `gorm:"not null"`
	UserID        uint      `gorm:"index;not null"`
	User          User      `gorm:"foreignKey:UserID;references:ID"`
	StoreID       uint      `gorm:"index;not null"`
	Store         Store     `gorm:"foreignKey:StoreID;references:ID"`
	Images        []PackingImage `gorm:"foreignKey:PackingRecordID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}
