package entitlements

import "errors"

// State is the load state of a user's snapshot: Pending, Ready or Failed.
// Callers switch on the concrete type so "not loaded yet" can never be
// mistaken for "denied".
type State interface {
	loadState()
}

type Pending struct{}

type Ready struct {
	Snapshot Snapshot
}

type Failed struct {
	Err error
}

func (Pending) loadState() {}
func (Ready) loadState() {}
func (Failed) loadState() {}

// StateName is the wire name of a state.
func StateName(st State) string {
	switch st.(type) {
	case Ready:
		return "loaded"
	case Failed:
		return "error"
	default:
		return "loading"
	}
}

type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionGranted Decision = "granted"
	DecisionSignIn  Decision = "sign_in"
	DecisionUpgrade Decision = "upgrade"
	DecisionRetry   Decision = "retry"
)

// Decide gates platform-wide content.
func Decide(cfg Config, st State) Decision {
	return decide(cfg, st, func(e *Evaluator) bool {
		return e.HasActiveSubscription("")
	})
}

// DecideProduct gates content of a single product. An empty productID is
// denied even when the user holds a platform subscription.
func DecideProduct(cfg Config, st State, productID string) Decision {
	return decide(cfg, st, func(e *Evaluator) bool {
		return e.HasAccessToProduct(productID)
	})
}

func decide(cfg Config, st State, allowed func(e *Evaluator) bool) Decision {
	if cfg.TestMode {
		return DecisionGranted
	}
	switch s := st.(type) {
	case Ready:
		if allowed(NewEvaluator(cfg, s.Snapshot)) {
			return DecisionGranted
		}
		if s.Snapshot.UserID == 0 {
			return DecisionSignIn
		}
		return DecisionUpgrade
	case Failed:
		if errors.Is(s.Err, ErrNotAuthenticated) {
			return DecisionSignIn
		}
		return DecisionRetry
	default:
		return DecisionPending
	}
}
