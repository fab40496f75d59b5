package billing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/creatorgate?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)
	return db
}

func TestUpsertSubscriptionOnlyAppliesNewerEvents(t *testing.T) {
	db := dryRunDB(t)
	at := time.Unix(1700000000, 0).UTC()
	sub := &models.Subscription{
		UserID:                 3,
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: "sub_1",
		Status:                 models.SubscriptionStatusActive,
		ProviderEventAt:        &at,
	}

	stmt := db.Clauses(onConflictSubscription()).Create(sub).Statement
	sql := stmt.SQL.String()

	require.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	update := sql[strings.Index(sql, "ON DUPLICATE KEY UPDATE"):]
	assert.Contains(t, update, "`status`=IF((VALUES(`provider_event_at`) IS NULL OR `provider_event_at` IS NULL OR VALUES(`provider_event_at`) >= `provider_event_at`), VALUES(`status`), `status`)")
	assert.Contains(t, update, "COALESCE(VALUES(`provider_event_at`), `provider_event_at`)")

	// provider_event_at is replaced after every other column has compared against it
	assert.Greater(t, strings.Index(update, "`provider_event_at`=IF("), strings.Index(update, "`updated_at`=IF("))
	assert.Equal(t, 1, strings.Count(update, "`provider_event_at`=IF("))
}
