package counter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
)

func newTestRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRecorder(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestRecordDecisionAndTotals(t *testing.T) {
	rec, mr := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, rec.RecordDecision(ctx, entitlements.DecisionGranted, "course-101"))
	require.NoError(t, rec.RecordDecision(ctx, entitlements.DecisionGranted, "course-101"))
	require.NoError(t, rec.RecordDecision(ctx, entitlements.DecisionGranted, ""))
	require.NoError(t, rec.RecordDecision(ctx, entitlements.DecisionUpgrade, " course-102 "))

	assert.Equal(t, "2", mr.HGet("entitlement:decisions:granted", "course-101"))

	totals, err := rec.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals[entitlements.DecisionGranted]["course-101"])
	assert.Equal(t, int64(1), totals[entitlements.DecisionGranted][PlatformField])
	assert.Equal(t, int64(1), totals[entitlements.DecisionUpgrade]["course-102"])
	assert.Equal(t, int64(3), totals.Sum(entitlements.DecisionGranted))
	assert.Empty(t, totals[entitlements.DecisionRetry])
}

func TestDrainResetsCounters(t *testing.T) {
	rec, mr := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, rec.RecordDecision(ctx, entitlements.DecisionSignIn, ""))

	drained, err := rec.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), drained[entitlements.DecisionSignIn][PlatformField])
	assert.False(t, mr.Exists("entitlement:decisions:sign_in"))

	again, err := rec.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, again[entitlements.DecisionSignIn])
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NoError(t, rec.RecordDecision(context.Background(), entitlements.DecisionGranted, "x"))
}
