package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

// Invalidator drops cached entitlement snapshots after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, userID uint) error
}

// Service syncs provider subscription state into the local subscriptions
// table, which is the only writer of entitlement data.
type Service struct {
	repo        Repository
	invalidator Invalidator
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithInvalidator registers the cache that must forget a user after a sync.
func (s *Service) WithInvalidator(inv Invalidator) *Service {
	s.invalidator = inv
	return s
}

// UpsertBillingAccount creates or updates a linked billing identity for a user.
func (s *Service) UpsertBillingAccount(ctx context.Context, userID uint, provider, providerAccountID, email string) (*models.BillingAccount, error) {
	_ = ctx
	p := normalizeProvider(provider)
	paID := strings.TrimSpace(providerAccountID)
	if userID == 0 || p == "" || paID == "" {
		return nil, errors.New("user_id, provider and provider_account_id are required")
	}

	account := &models.BillingAccount{
		UserID:            userID,
		Provider:          p,
		ProviderAccountID: paID,
		Email:             strings.TrimSpace(email),
	}
	if err := s.repo.UpsertBillingAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetBillingAccountByProviderAccountID resolves a provider customer to its local user.
func (s *Service) GetBillingAccountByProviderAccountID(ctx context.Context, provider, providerAccountID string) (*models.BillingAccount, error) {
	_ = ctx
	p := normalizeProvider(provider)
	paID := strings.TrimSpace(providerAccountID)
	if p == "" || paID == "" {
		return nil, errors.New("provider and provider_account_id are required")
	}
	return s.repo.GetBillingAccountByProviderAccountID(p, paID)
}

// ResolveMappedProduct turns a provider product reference into the internal
// product id. A nil result means the subscription is platform-wide. Unmapped
// references are kept verbatim so they never match another product.
func (s *Service) ResolveMappedProduct(ctx context.Context, provider, providerProductRef string) (*string, error) {
	_ = ctx
	p := normalizeProvider(provider)
	ref := strings.TrimSpace(providerProductRef)
	if ref == "" {
		return nil, nil
	}
	if p == "" {
		return nil, errors.New("provider is required")
	}

	m, err := s.repo.FindActiveProductMapping(p, ref)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fiberlog.Warnf("[Billing] No product mapping for %s ref %q, storing it unmapped", p, ref)
		return &ref, nil
	}
	if err != nil {
		return nil, err
	}
	if m.IsPlatform {
		return nil, nil
	}
	productID := strings.TrimSpace(m.ProductID)
	if productID == "" {
		productID = ref
	}
	return &productID, nil
}

// SyncSubscription upserts provider subscription data and invalidates the
// cached snapshot of every user the row belonged to. An event older than the
// stored state is not applied and returns the stored row with ErrStaleEvent.
func (s *Service) SyncSubscription(ctx context.Context, in NormalizedSubscription) (*models.Subscription, error) {
	provider := normalizeProvider(in.Provider)
	providerSubID := strings.TrimSpace(in.ProviderSubscriptionID)
	if in.UserID == 0 || provider == "" || providerSubID == "" {
		return nil, errors.New("user_id, provider and provider_subscription_id are required")
	}

	prev, err := s.repo.GetSubscriptionByProviderID(provider, providerSubID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		prev = nil
	} else if err != nil {
		return nil, err
	}
	if prev != nil && isStale(in.EventAt, prev.ProviderEventAt) {
		return prev, fmt.Errorf("%w: %s/%s", ErrStaleEvent, provider, providerSubID)
	}

	productID, err := s.ResolveMappedProduct(ctx, provider, in.ProviderProductRef)
	if err != nil {
		return nil, err
	}

	status, providerTrial := normalizeStatus(in.Status)
	sub := &models.Subscription{
		PublicID:               uuid.NewString(),
		UserID:                 in.UserID,
		Provider:               provider,
		ProviderSubscriptionID: providerSubID,
		ProductID:              productID,
		Status:                 status,
		IsVip:                  in.IsVip,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		CurrentPeriodEnd:       in.CurrentPeriodEnd,
		RawPayloadJSON:         in.RawPayloadJSON,
		ProviderEventAt:        in.EventAt,
	}
	if providerTrial && in.TrialEnd != nil {
		sub.IsTrial = true
		sub.TrialStartDate = in.TrialStart
		sub.TrialEndDate = in.TrialEnd
	}
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("invalid subscription %s/%s: %w", provider, providerSubID, err)
	}

	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, err
	}
	// A newer delivery committed between the read and the upsert; the
	// conditional upsert kept its state.
	if isStale(in.EventAt, sub.ProviderEventAt) {
		return sub, fmt.Errorf("%w: %s/%s", ErrStaleEvent, provider, providerSubID)
	}

	s.invalidate(ctx, in.UserID)
	if prev != nil && prev.UserID != in.UserID {
		s.invalidate(ctx, prev.UserID)
	}
	return sub, nil
}

// isStale reports whether incoming predates stored. Missing timestamps never
// count as stale.
func isStale(incoming, stored *time.Time) bool {
	return incoming != nil && stored != nil && incoming.Before(*stored)
}

// SetUserVip grants or revokes the user-level VIP override.
func (s *Service) SetUserVip(ctx context.Context, userID uint, vip bool) (*models.User, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	user, err := s.repo.SetUserVip(userID, vip)
	if err != nil {
		return nil, err
	}
	fiberlog.Infof("[Billing] VIP override for user %d set to %t", userID, vip)
	s.invalidate(ctx, userID)
	return user, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := normalizeProvider(in.Provider)
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		ObjectRef:       strings.TrimSpace(in.ObjectRef),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

func (s *Service) invalidate(ctx context.Context, userID uint) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		fiberlog.Warnf("[Billing] Could not invalidate cached entitlements for user %d: %v", userID, err)
	}
}
