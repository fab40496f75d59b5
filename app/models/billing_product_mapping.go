package models

import "time"

// BillingProductMapping maps provider product/price references to the internal
// product identifier used by entitlement checks. IsPlatform mappings produce
// platform-wide subscriptions (no product id).
type BillingProductMapping struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Provider           string    `gorm:"type:varchar(20);not null;index:ux_billing_product_mappings_ref,unique,priority:1;index" json:"provider"`
	ProviderProductRef string    `gorm:"type:varchar(191);not null;index:ux_billing_product_mappings_ref,unique,priority:2" json:"provider_product_ref"`
	ProductID          string    `gorm:"type:varchar(191);not null;default:'';index" json:"product_id"`
	IsPlatform         bool      `gorm:"default:false" json:"is_platform"`
	IsActive           bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
