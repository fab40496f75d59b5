package repository

import (
	"github.com/ManuelReschke/CreatorGate/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByExternalID(externalID string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	TouchAPIKey(settingsID uint) error
	GetOrCreateSettings(userID uint) (*models.UserSettings, error)
	SaveSettings(settings *models.UserSettings) error
	Count() (int64, error)
	CountVip() (int64, error)
}

// SubscriptionRepository defines read access to synced subscription records
type SubscriptionRepository interface {
	ListByUserID(userID uint) ([]models.Subscription, error)
	CountByStatus() (map[string]int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
	}
}
