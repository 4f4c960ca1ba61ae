package models

import "time"

// Store is a physical store location; records and users are scoped to one.
type Store struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	StoreCode string `gorm:"size:32;uniqueIndex;not null"`
	StoreName string `gorm:"size:255;not null"`
	Users     []User          `gorm:"foreignKey:StoreID"`
	Records   []PackingRecord `gorm:"foreignKey:StoreID"`
}
