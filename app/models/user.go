package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User is the local projection of an account managed by the external auth
// provider. IsVip is the user-level VIP override.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ExternalID   string         `gorm:"type:varchar(191);uniqueIndex" json:"external_id" validate:"required,max=191"`
	Name         string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email        string         `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	Role         string         `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status       string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	IsVip        bool           `gorm:"default:false;index" json:"is_vip"`
	VipGrantedAt *time.Time     `gorm:"type:timestamp;default:null" json:"vip_granted_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// IsAdmin reports whether the user has the admin role
func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}

// SetVip toggles the VIP override and stamps when it was granted.
func (u *User) SetVip(vip bool) {
	u.IsVip = vip
	if !vip {
		u.VipGrantedAt = nil
		return
	}
	now := time.Now()
	u.VipGrantedAt = &now
}
