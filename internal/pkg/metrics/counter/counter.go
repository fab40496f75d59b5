package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CreatorGate/internal/pkg/entitlements"
)

const (
	decisionKeyPrefix = "entitlement:decisions:"

	// PlatformField is the hash field used for platform-wide gates.
	PlatformField = "platform"
)

var recordedDecisions = []entitlements.Decision{
	entitlements.DecisionGranted,
	entitlements.DecisionSignIn,
	entitlements.DecisionUpgrade,
	entitlements.DecisionRetry,
	entitlements.DecisionPending,
}

// Totals maps decision -> product id (or PlatformField) -> count.
type Totals map[entitlements.Decision]map[string]int64

// Sum adds up all counts for one decision.
func (t Totals) Sum(d entitlements.Decision) int64 {
	var total int64
	for _, n := range t[d] {
		total += n
	}
	return total
}

// Recorder counts gate decisions in Redis hashes.
type Recorder struct {
	rdb *redis.Client
}

func NewRecorder(rdb *redis.Client) *Recorder {
	return &Recorder{rdb: rdb}
}

// RecordDecision increments the counter for a decision.
func (r *Recorder) RecordDecision(ctx context.Context, decision entitlements.Decision, productID string) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.HIncrBy(ctx, decisionKey(decision), fieldFor(productID), 1).Err()
}

// Totals reads all counters without resetting them.
func (r *Recorder) Totals(ctx context.Context) (Totals, error) {
	out := make(Totals, len(recordedDecisions))
	for _, d := range recordedDecisions {
		data, err := r.rdb.HGetAll(ctx, decisionKey(d)).Result()
		if err != nil {
			return nil, err
		}
		out[d] = parseCounts(data)
	}
	return out, nil
}

// Drain returns all counters and resets them. Each hash is renamed to a
// temporary key first so increments arriving during the drain are kept.
func (r *Recorder) Drain(ctx context.Context) (Totals, error) {
	out := make(Totals, len(recordedDecisions))
	for _, d := range recordedDecisions {
		counts, err := r.drainHash(ctx, decisionKey(d))
		if err != nil {
			return nil, err
		}
		out[d] = counts
	}
	return out, nil
}

func (r *Recorder) drainHash(ctx context.Context, key string) (map[string]int64, error) {
	tmpKey := fmt.Sprintf("%s:tmp:%d", key, time.Now().UnixNano())
	if err := r.rdb.Rename(ctx, key, tmpKey).Err(); err != nil {
		// Missing key means nothing was counted
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	defer r.rdb.Del(ctx, tmpKey)

	data, err := r.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return parseCounts(data), nil
}

func parseCounts(data map[string]string) map[string]int64 {
	counts := make(map[string]int64, len(data))
	for field, raw := range data {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		counts[field] = n
	}
	return counts
}

func decisionKey(d entitlements.Decision) string {
	return decisionKeyPrefix + string(d)
}

func fieldFor(productID string) string {
	if p := strings.TrimSpace(productID); p != "" {
		return p
	}
	return PlatformField
}
