package entitlements

import (
	"errors"
	"log"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreatorGate/app/models"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/env"
)

var (
	// ErrFetchFailed wraps any backend failure while loading subscriptions.
	ErrFetchFailed = errors.New("entitlements: fetching subscriptions failed")
	// ErrNotAuthenticated is returned when there is no user to load for.
	ErrNotAuthenticated = errors.New("entitlements: not authenticated")
)

// Config is injected into evaluators and gates. TestMode grants every check
// and is meant for internal QA/demo environments only.
type Config struct {
	TestMode bool
}

// ConfigFromEnv reads ENTITLEMENT_TEST_MODE. The switch is refused in
// production so a stray variable cannot open every gate.
func ConfigFromEnv() Config {
	cfg := Config{TestMode: env.GetBool("ENTITLEMENT_TEST_MODE", false)}
	if !cfg.TestMode {
		return cfg
	}
	if env.IsProd() {
		log.Print("entitlements: ENTITLEMENT_TEST_MODE is set but APP_ENV is prod, ignoring it")
		cfg.TestMode = false
		return cfg
	}
	log.Printf("entitlements: TEST MODE ENABLED (APP_ENV=%s), every entitlement check is granted", env.GetEnv("APP_ENV", "prod"))
	return cfg
}

// Snapshot is an immutable view of one user's subscriptions.
type Snapshot struct {
	UserID        uint
	UserVip       bool
	Subscriptions []models.Subscription
	FetchedAt     time.Time
}

// NewSnapshot copies subs and drops malformed records, so one corrupt record
// cannot deny access to unrelated products.
func NewSnapshot(userID uint, userVip bool, subs []models.Subscription, fetchedAt time.Time) Snapshot {
	kept := make([]models.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.UserID != userID {
			fiberlog.Warnf("[Entitlements] Skipping subscription %s: belongs to user %d, not %d", sub.PublicID, sub.UserID, userID)
			continue
		}
		if err := sub.Validate(); err != nil {
			fiberlog.Warnf("[Entitlements] Skipping malformed subscription %q for user %d: %v", sub.PublicID, userID, err)
			continue
		}
		kept = append(kept, sub)
	}
	return Snapshot{
		UserID:        userID,
		UserVip:       userVip,
		Subscriptions: kept,
		FetchedAt:     fetchedAt,
	}
}
