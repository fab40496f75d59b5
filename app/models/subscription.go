package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
)

var subscriptionValidator = validator.New()

// Subscription is the local mirror of a billing provider subscription. A nil
// ProductID covers the whole platform rather than a single product.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"-"`
	PublicID               string     `gorm:"type:char(36);not null;uniqueIndex" json:"id" validate:"required,uuid"`
	UserID                 uint       `gorm:"not null;index" json:"user_id" validate:"required"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProductID              *string    `gorm:"type:varchar(191);default:null;index" json:"product_id" validate:"omitnil,min=1,max=191"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status" validate:"required,oneof=active past_due canceled incomplete"`
	IsTrial                bool       `gorm:"default:false" json:"is_trial"`
	TrialStartDate         *time.Time `gorm:"type:timestamp;default:null" json:"trial_start_date,omitempty"`
	TrialEndDate           *time.Time `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty" validate:"required_if=IsTrial true"`
	IsVip                  bool       `gorm:"default:false" json:"is_vip"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"-"`
	ProviderEventAt        *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the opaque public identifier.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.PublicID == "" {
		s.PublicID = uuid.New().String()
	}
	return nil
}

// Validate reports whether the record carries every field the evaluator relies on.
func (s *Subscription) Validate() error {
	return subscriptionValidator.Struct(s)
}

// IsEntitling reports whether the status grants access. past_due is the grace period.
func (s *Subscription) IsEntitling() bool {
	return IsEntitlingStatus(s.Status)
}

// CoversProduct reports whether the subscription is for exactly productID.
func (s *Subscription) CoversProduct(productID string) bool {
	return s.ProductID != nil && *s.ProductID == productID
}

// IsEntitlingStatus reports whether status is active or past_due.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
