package models

import (
	"time"

	"github.com/google/uuid"
)

// Store represents a seller storefront. OwnerID is the user credited when the
// store's escrows release.
type Store struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Email     *string   `gorm:"column:email"`
	Phone     *string   `gorm:"column:phone"`
	OwnerID   uuid.UUID `gorm:"column:owner_id;type:uuid;not null"`
	IsActive  bool      `gorm:"column:is_active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
