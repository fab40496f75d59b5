package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
)

// GormStore reads subscriptions and the user-level VIP flag from the database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a subscription store backed by GORM.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FetchForUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	if err := s.check(userID); err != nil {
		return nil, err
	}
	return fetchSubscriptions(s.db.WithContext(ctx), userID)
}

// IsVipUser reports the user-level override. Unknown users are not VIP.
func (s *GormStore) IsVipUser(ctx context.Context, userID uint) (bool, error) {
	if err := s.check(userID); err != nil {
		return false, err
	}
	return fetchUserVip(s.db.WithContext(ctx), userID)
}

// FetchSnapshot reads the subscriptions and the VIP flag inside one
// transaction so both belong to the same database state.
func (s *GormStore) FetchSnapshot(ctx context.Context, userID uint) ([]models.Subscription, bool, error) {
	if err := s.check(userID); err != nil {
		return nil, false, err
	}

	var (
		subs    []models.Subscription
		userVip bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if subs, err = fetchSubscriptions(tx, userID); err != nil {
			return err
		}
		userVip, err = fetchUserVip(tx, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, entitlements.ErrFetchFailed) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %w", entitlements.ErrFetchFailed, err)
	}
	return subs, userVip, nil
}

func (s *GormStore) check(userID uint) error {
	if userID == 0 {
		return entitlements.ErrNotAuthenticated
	}
	if s.db == nil {
		return fmt.Errorf("%w: database unavailable", entitlements.ErrFetchFailed)
	}
	return nil
}

func fetchSubscriptions(db *gorm.DB, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := db.Where("user_id = ?", userID).Order("id ASC").Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entitlements.ErrFetchFailed, err)
	}
	return subs, nil
}

func fetchUserVip(db *gorm.DB, userID uint) (bool, error) {
	var user models.User
	err := db.Select("id", "is_vip").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", entitlements.ErrFetchFailed, err)
	}
	return user.IsVip, nil
}
