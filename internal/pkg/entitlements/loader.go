package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/CreatorGate/app/models"
)

// SubscriptionStore returns the subscription records of a user. Implementations
// return ErrNotAuthenticated for user 0 and wrap backend errors in ErrFetchFailed.
type SubscriptionStore interface {
	FetchForUser(ctx context.Context, userID uint) ([]models.Subscription, error)
}

// VipSource is implemented by stores that also know the user-level VIP flag.
type VipSource interface {
	IsVipUser(ctx context.Context, userID uint) (bool, error)
}

// SnapshotSource is implemented by stores that return the subscriptions and
// the user-level VIP flag from one consistent read. The loader prefers it over
// separate FetchForUser and IsVipUser calls.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, userID uint) ([]models.Subscription, bool, error)
}

type stateBox struct {
	st State
}

// Loader caches one user's snapshot for the lifetime of a view. Reads are
// lock free; a new snapshot replaces the old one in a single store.
type Loader struct {
	store  SubscriptionStore
	userID uint
	now    func() time.Time

	current atomic.Pointer[stateBox]
	group   singleflight.Group

	mu     sync.Mutex
	gen    uint64
	closed bool
}

func NewLoader(store SubscriptionStore, userID uint) *Loader {
	l := &Loader{store: store, userID: userID, now: time.Now}
	l.current.Store(&stateBox{st: Pending{}})
	return l
}

func (l *Loader) UserID() uint {
	return l.userID
}

// State returns the current state without fetching.
func (l *Loader) State() State {
	return l.current.Load().st
}

// Load fetches the snapshot unless one has already been loaded or failed.
// Concurrent callers share a single fetch.
func (l *Loader) Load(ctx context.Context) State {
	if _, pending := l.State().(Pending); !pending {
		return l.State()
	}
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()
	return l.fetch(ctx, gen)
}

// Refetch loads a fresh snapshot, e.g. after an upgrade. Results of fetches
// started before the call are discarded.
func (l *Loader) Refetch(ctx context.Context) State {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()
	return l.fetch(ctx, gen)
}

// Close discards the result of any fetch still in flight.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Loader) fetch(ctx context.Context, gen uint64) State {
	v, _, _ := l.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		st := l.fetchState(ctx)

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed || l.gen != gen {
			return nil, nil
		}
		l.current.Store(&stateBox{st: st})
		return st, nil
	})
	if st, ok := v.(State); ok {
		return st
	}
	return l.State()
}

func (l *Loader) fetchState(ctx context.Context) State {
	if l.userID == 0 {
		return Failed{Err: ErrNotAuthenticated}
	}

	subs, userVip, err := FetchSnapshot(ctx, l.store, l.userID)
	if err != nil {
		return Failed{Err: asFetchError(err)}
	}
	return Ready{Snapshot: NewSnapshot(l.userID, userVip, subs, l.now())}
}

// FetchSnapshot reads subscriptions and the user-level VIP flag, in a single
// call when the store is a SnapshotSource.
func FetchSnapshot(ctx context.Context, store SubscriptionStore, userID uint) ([]models.Subscription, bool, error) {
	if src, ok := store.(SnapshotSource); ok {
		return src.FetchSnapshot(ctx, userID)
	}

	subs, err := store.FetchForUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if src, ok := store.(VipSource); ok {
		userVip, err := src.IsVipUser(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		return subs, userVip, nil
	}
	return subs, false, nil
}

func asFetchError(err error) error {
	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrFetchFailed) {
		return err
	}
	fiberlog.Errorf("[Entitlements] Subscription fetch failed: %v", err)
	return fmt.Errorf("%w: %w", ErrFetchFailed, err)
}
