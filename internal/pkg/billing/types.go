package billing

import "time"

// NormalizedSubscription is the provider-agnostic shape used by the billing
// service when syncing external subscription state into the local table.
type NormalizedSubscription struct {
	UserID                 uint
	Provider               string
	ProviderSubscriptionID string
	ProviderProductRef     string
	Status                 string
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
	IsVip                  bool
	RawPayloadJSON         string
	// EventAt is when the provider emitted the state. Older events than the
	// stored one are not applied; nil always applies.
	EventAt *time.Time
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	ObjectRef       string
	PayloadJSON     string
	SignatureValid  bool
}
