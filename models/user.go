package models

import (
	"time"
)

// User model
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time `gorm:"index"`
	Email          string     `gorm:"size:255;not null;unique"`
	Name           string     `gorm:"size:255;not null"`
	HashedPassword []byte     `gorm:"not null"`
	Active         bool       `gorm:"default:true;not null"`
	RoleID         *uint      `gorm:"index"`
	Role           Role       `gorm:"foreignKey:RoleID;references:ID"`
	StoreID        *uint      `gorm:"index"`
	Store          *Store     `gorm:"foreignKey:StoreID;references:ID"`
	Records        []PackingRecord
}
