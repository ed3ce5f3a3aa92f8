package models

import (
	"time"

	"github.com/google/uuid"
)

// Coupon is a percentage discount code. Codes are stored lowercase and
// matched case-insensitively. Eligibility flags narrow who may redeem:
// ForNewUser restricts to buyers with no prior orders, ForMember to active
// members.
type Coupon struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Code            string     `gorm:"column:code;not null;uniqueIndex"`
	DiscountPercent int        `gorm:"column:discount_percent;not null"`
	ForNewUser      bool       `gorm:"column:for_new_user;not null;default:false"`
	ForMember       bool       `gorm:"column:for_member;not null;default:false"`
	IsActive        bool       `gorm:"column:is_active;not null"`
	ExpiresAt       *time.Time `gorm:"column:expires_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
