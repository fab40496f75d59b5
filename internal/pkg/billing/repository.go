package billing

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	FindActiveProductMapping(provider, providerProductRef string) (*models.BillingProductMapping, error)
	UpsertBillingAccount(account *models.BillingAccount) error
	GetBillingAccountByProviderAccountID(provider, providerAccountID string) (*models.BillingAccount, error)
	GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	SetUserVip(userID uint, vip bool) (*models.User, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	GetWebhookEvent(id uint) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindActiveProductMapping(provider, providerProductRef string) (*models.BillingProductMapping, error) {
	var m models.BillingProductMapping
	err := r.db.
		Where("provider = ? AND provider_product_ref = ? AND is_active = ?", provider, providerProductRef, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) UpsertBillingAccount(account *models.BillingAccount) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_account_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"email",
			"updated_at",
		}),
	}).Create(account).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND provider_account_id = ?", account.Provider, account.ProviderAccountID).
		First(account).Error
}

func (r *gormRepository) GetBillingAccountByProviderAccountID(provider, providerAccountID string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(onConflictSubscription()).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID, public id and the kept state reflect the stored row after upsert.
	return r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
}

func onConflictSubscription() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: newerEventAssignments([]string{
			"user_id",
			"product_id",
			"status",
			"is_trial",
			"trial_start_date",
			"trial_end_date",
			"is_vip",
			"cancel_at_period_end",
			"current_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}
}

// newerEventAssignments only overwrites a row when the incoming provider
// event is not older than the stored one, so concurrent deliveries cannot
// reopen a subscription a later event closed. MySQL applies assignments left
// to right, so provider_event_at is compared before it is replaced.
func newerEventAssignments(columns []string) clause.Set {
	const newer = "(VALUES(`provider_event_at`) IS NULL OR `provider_event_at` IS NULL OR VALUES(`provider_event_at`) >= `provider_event_at`)"

	set := make(clause.Set, 0, len(columns)+1)
	for _, col := range columns {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value:  gorm.Expr(fmt.Sprintf("IF(%s, VALUES(`%s`), `%s`)", newer, col, col)),
		})
	}
	return append(set, clause.Assignment{
		Column: clause.Column{Name: "provider_event_at"},
		Value:  gorm.Expr(fmt.Sprintf("IF(%s, COALESCE(VALUES(`provider_event_at`), `provider_event_at`), `provider_event_at`)", newer)),
	})
}

func (r *gormRepository) SetUserVip(userID uint, vip bool) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	user.SetVip(vip)
	if err := r.db.Model(&user).Select("is_vip", "vip_granted_at").Updates(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(id uint) (*models.BillingWebhookEvent, error) {
	var event models.BillingWebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
