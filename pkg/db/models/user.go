package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/pkg/types"
)

// User represents the canonical buyer identity. Sellers are users who own a
// store. The cart lives on the user row and is replaced wholesale on write.
type User struct {
	ID        uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	Email     string        `gorm:"type:text;not null;uniqueIndex"`
	FirstName string        `gorm:"column:first_name;not null"`
	LastName  string        `gorm:"column:last_name;not null"`
	Phone     *string       `gorm:"column:phone"`
	IsMember  bool          `gorm:"column:is_member;not null;default:false"`
	IsActive  bool          `gorm:"column:is_active;not null"`
	Cart      types.CartMap `gorm:"column:cart;type:jsonb"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}
