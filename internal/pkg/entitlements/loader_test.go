package entitlements

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

type fakeStore struct {
	mu    sync.Mutex
	subs  []models.Subscription
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (f *fakeStore) FetchForUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Subscription(nil), f.subs...), nil
}

func (f *fakeStore) set(subs []models.Subscription, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = subs
	f.err = err
}

type vipStore struct {
	fakeStore
	vip    bool
	vipErr error
}

func (v *vipStore) IsVipUser(ctx context.Context, userID uint) (bool, error) {
	return v.vip, v.vipErr
}

func TestLoaderStartsPending(t *testing.T) {
	l := NewLoader(&fakeStore{}, testUserID)

	assert.IsType(t, Pending{}, l.State())
	assert.Equal(t, "loading", StateName(l.State()))
	assert.Equal(t, DecisionPending, Decide(Config{}, l.State()))
}

func TestLoaderLoadReady(t *testing.T) {
	store := &fakeStore{subs: []models.Subscription{sub(models.SubscriptionStatusActive, "P1")}}
	l := NewLoader(store, testUserID)

	st := l.Load(context.Background())
	ready, ok := st.(Ready)
	require.True(t, ok)
	assert.Len(t, ready.Snapshot.Subscriptions, 1)
	assert.Equal(t, "loaded", StateName(st))

	// cached for the lifetime of the loader
	l.Load(context.Background())
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestLoaderAnonymousUser(t *testing.T) {
	store := &fakeStore{}
	l := NewLoader(store, 0)

	st := l.Load(context.Background())
	failed, ok := st.(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, ErrNotAuthenticated)
	assert.Equal(t, int32(0), store.calls.Load())
	assert.Equal(t, DecisionSignIn, Decide(Config{}, st))
	assert.Equal(t, DecisionGranted, Decide(Config{TestMode: true}, st))
}

func TestLoaderFetchFailureFailsClosed(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	l := NewLoader(store, testUserID)

	st := l.Load(context.Background())
	failed, ok := st.(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, ErrFetchFailed)
	assert.Equal(t, "error", StateName(st))
	assert.Equal(t, DecisionRetry, Decide(Config{}, st))
	assert.Equal(t, DecisionRetry, DecideProduct(Config{}, st, "P1"))
}

func TestLoaderRefetchReplacesSnapshot(t *testing.T) {
	store := &fakeStore{err: errors.New("timeout")}
	l := NewLoader(store, testUserID)

	_, failed := l.Load(context.Background()).(Failed)
	require.True(t, failed)

	store.set([]models.Subscription{sub(models.SubscriptionStatusActive, "P1")}, nil)
	// Load does not retry a settled state
	_, stillFailed := l.Load(context.Background()).(Failed)
	assert.True(t, stillFailed)

	st := l.Refetch(context.Background())
	assert.Equal(t, DecisionGranted, DecideProduct(Config{}, st, "P1"))
	assert.Equal(t, st, l.State())
}

func TestLoaderConcurrentLoadsShareFetch(t *testing.T) {
	store := &fakeStore{
		subs:  []models.Subscription{sub(models.SubscriptionStatusActive, "")},
		block: make(chan struct{}),
	}
	l := NewLoader(store, testUserID)

	var wg sync.WaitGroup
	results := make([]State, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.Load(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(store.block)
	wg.Wait()

	assert.Equal(t, int32(1), store.calls.Load())
	for _, st := range results {
		assert.IsType(t, Ready{}, st)
	}
}

func TestLoaderCloseDiscardsInflight(t *testing.T) {
	store := &fakeStore{
		subs:  []models.Subscription{sub(models.SubscriptionStatusActive, "")},
		block: make(chan struct{}),
	}
	l := NewLoader(store, testUserID)

	done := make(chan State)
	go func() { done <- l.Load(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	l.Close()
	close(store.block)

	assert.IsType(t, Pending{}, <-done)
	assert.IsType(t, Pending{}, l.State())
}

func TestLoaderUserVip(t *testing.T) {
	store := &vipStore{vip: true}
	l := NewLoader(store, testUserID)

	st := l.Load(context.Background())
	assert.Equal(t, DecisionGranted, DecideProduct(Config{}, st, "anything"))

	failing := &vipStore{vipErr: errors.New("users table gone")}
	st = NewLoader(failing, testUserID).Load(context.Background())
	failed, ok := st.(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, ErrFetchFailed)
}

type snapshotStore struct {
	vipStore
	snapshots atomic.Int32
}

func (s *snapshotStore) FetchSnapshot(ctx context.Context, userID uint) ([]models.Subscription, bool, error) {
	s.snapshots.Add(1)
	return nil, s.vip, s.vipErr
}

func TestLoaderPrefersSingleSnapshotRead(t *testing.T) {
	store := &snapshotStore{vipStore: vipStore{vip: true}}

	st := NewLoader(store, testUserID).Load(context.Background())
	assert.Equal(t, DecisionGranted, DecideProduct(Config{}, st, "P1"))
	assert.Equal(t, int32(1), store.snapshots.Load())
	assert.Equal(t, int32(0), store.calls.Load())

	store.vipErr = errors.New("read failed")
	st = NewLoader(store, testUserID).Load(context.Background())
	failed, ok := st.(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, ErrFetchFailed)
}

func TestDecideReadyStates(t *testing.T) {
	ready := Ready{Snapshot: NewSnapshot(testUserID, false, []models.Subscription{
		sub(models.SubscriptionStatusActive, "P1"),
	}, time.Now())}
	empty := Ready{Snapshot: NewSnapshot(testUserID, false, nil, time.Now())}

	assert.Equal(t, DecisionGranted, Decide(Config{}, ready))
	assert.Equal(t, DecisionGranted, DecideProduct(Config{}, ready, "P1"))
	assert.Equal(t, DecisionUpgrade, DecideProduct(Config{}, ready, "P2"))
	assert.Equal(t, DecisionUpgrade, DecideProduct(Config{}, ready, ""))
	assert.Equal(t, DecisionUpgrade, Decide(Config{}, empty))
	assert.Equal(t, DecisionGranted, Decide(Config{TestMode: true}, empty))
	assert.Equal(t, DecisionGranted, Decide(Config{TestMode: true}, Pending{}))
}

func TestConfigFromEnvRefusesProduction(t *testing.T) {
	t.Setenv("ENTITLEMENT_TEST_MODE", "true")

	t.Setenv("APP_ENV", "prod")
	assert.False(t, ConfigFromEnv().TestMode)

	t.Setenv("APP_ENV", "dev")
	assert.True(t, ConfigFromEnv().TestMode)

	t.Setenv("ENTITLEMENT_TEST_MODE", "")
	assert.False(t, ConfigFromEnv().TestMode)
}
