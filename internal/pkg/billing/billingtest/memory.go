// Package billingtest provides an in-memory billing.Repository for tests.
package billingtest

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

// MemoryRepository keeps billing rows in maps keyed like the unique indexes.
type MemoryRepository struct {
	mu sync.Mutex

	Mappings  map[string]*models.BillingProductMapping
	Accounts  map[string]*models.BillingAccount
	Subs      map[string]*models.Subscription
	Users     map[uint]*models.User
	Events    map[string]*models.BillingWebhookEvent
	Processed map[uint]string

	UpsertErr  error
	MappingErr error
	// BeforeUpsert runs inside UpsertSubscription before the row is written,
	// to simulate a concurrent delivery committing first.
	BeforeUpsert func(r *MemoryRepository)

	nextID uint
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		Mappings:  map[string]*models.BillingProductMapping{},
		Accounts:  map[string]*models.BillingAccount{},
		Subs:      map[string]*models.Subscription{},
		Users:     map[uint]*models.User{},
		Events:    map[string]*models.BillingWebhookEvent{},
		Processed: map[uint]string{},
	}
}

func Key(provider, ref string) string {
	return provider + "|" + ref
}

// AddMapping registers an active product mapping.
func (r *MemoryRepository) AddMapping(provider, ref, productID string, platform bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Mappings[Key(provider, ref)] = &models.BillingProductMapping{
		Provider:           provider,
		ProviderProductRef: ref,
		ProductID:          productID,
		IsPlatform:         platform,
		IsActive:           true,
	}
}

// Subscription returns a stored subscription or nil.
func (r *MemoryRepository) Subscription(provider, providerSubID string) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Subs[Key(provider, providerSubID)]
}

func (r *MemoryRepository) id() uint {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) FindActiveProductMapping(provider, ref string) (*models.BillingProductMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MappingErr != nil {
		return nil, r.MappingErr
	}
	m, ok := r.Mappings[Key(provider, ref)]
	if !ok || !m.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return m, nil
}

func (r *MemoryRepository) UpsertBillingAccount(account *models.BillingAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key(account.Provider, account.ProviderAccountID)
	if existing, ok := r.Accounts[key]; ok {
		account.ID = existing.ID
	} else {
		account.ID = r.id()
	}
	cp := *account
	r.Accounts[key] = &cp
	return nil
}

func (r *MemoryRepository) GetBillingAccountByProviderAccountID(provider, id string) (*models.BillingAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.Accounts[Key(provider, id)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (r *MemoryRepository) GetSubscriptionByProviderID(provider, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Subs[Key(provider, id)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

// PutSubscription stores a row as is, bypassing the event ordering check.
func (r *MemoryRepository) PutSubscription(sub models.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = r.id()
	}
	r.Subs[Key(sub.Provider, sub.ProviderSubscriptionID)] = &sub
}

// UpsertSubscription mirrors the conditional SQL upsert: a row written by a
// newer provider event is kept and copied back into sub.
func (r *MemoryRepository) UpsertSubscription(sub *models.Subscription) error {
	if hook := r.BeforeUpsert; hook != nil {
		r.BeforeUpsert = nil
		hook(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpsertErr != nil {
		return r.UpsertErr
	}
	key := Key(sub.Provider, sub.ProviderSubscriptionID)
	if existing, ok := r.Subs[key]; ok {
		if sub.ProviderEventAt != nil && existing.ProviderEventAt != nil && sub.ProviderEventAt.Before(*existing.ProviderEventAt) {
			*sub = *existing
			return nil
		}
		sub.ID = existing.ID
		sub.PublicID = existing.PublicID
		if sub.ProviderEventAt == nil {
			sub.ProviderEventAt = existing.ProviderEventAt
		}
	} else {
		sub.ID = r.id()
	}
	cp := *sub
	r.Subs[key] = &cp
	return nil
}

func (r *MemoryRepository) SetUserVip(userID uint, vip bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	u.SetVip(vip)
	cp := *u
	return &cp, nil
}

func (r *MemoryRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key(event.Provider, event.ProviderEventID)
	if existing, ok := r.Events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	event.ID = r.id()
	stored := *event
	r.Events[key] = &stored
	return true, event, nil
}

func (r *MemoryRepository) GetWebhookEvent(id uint) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.Events {
		if ev.ID == id {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemoryRepository) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Processed[id] = processingError
	for _, ev := range r.Events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}
