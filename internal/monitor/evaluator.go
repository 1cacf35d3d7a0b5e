package monitor

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
)

// Signal is the result of one evaluation
type Signal struct {
	Suspicious bool
	Reason     string
	Details    models.EventDetails
	// Commit, when set, is called after the signal has been counted
	Commit func(ctx context.Context) error
}

// Evaluator samples a device signal for suspicious activity. An error means
// no data was available; the tick records nothing.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context) (Signal, error)
}

// Evaluator names accepted by NewEvaluator
const (
	EvaluatorFailedUnlock = "failed_unlock"
	EvaluatorRandom       = "random"
	EvaluatorStaleSync    = "stale_sync"
	EvaluatorComposite    = "composite"
)

// DefaultRandomRate is the suspicion probability of RandomEvaluator
const DefaultRandomRate = 0.10

// DefaultStaleAfter is how long without a sync before StaleSyncEvaluator
// flags the device
const DefaultStaleAfter = 24 * time.Hour

// NewEvaluator builds the evaluator registered under name
func NewEvaluator(name string, kv localstore.KV) (Evaluator, error) {
	switch name {
	case EvaluatorFailedUnlock:
		return NewFailedUnlockEvaluator(kv), nil
	case EvaluatorRandom:
		return NewRandomEvaluator(DefaultRandomRate), nil
	case EvaluatorStaleSync:
		return NewStaleSyncEvaluator(kv, DefaultStaleAfter), nil
	case EvaluatorComposite:
		return NewComposite(NewFailedUnlockEvaluator(kv), NewStaleSyncEvaluator(kv, DefaultStaleAfter)), nil
	default:
		return nil, fmt.Errorf("unknown suspicion evaluator %q", name)
	}
}

// RandomEvaluator flags a tick with a fixed probability. It stands in for
// real heuristics in demos and load tests.
type RandomEvaluator struct {
	rate  float64
	float func() float64
}

func NewRandomEvaluator(rate float64) *RandomEvaluator {
	return &RandomEvaluator{rate: rate, float: rand.Float64}
}

func (e *RandomEvaluator) Name() string { return EvaluatorRandom }

func (e *RandomEvaluator) Evaluate(ctx context.Context) (Signal, error) {
	if e.float() < e.rate {
		return Signal{Suspicious: true, Reason: "random_sample", Details: models.EventDetails{"rate": e.rate}}, nil
	}
	return Signal{}, nil
}

// FailedUnlockEvaluator flags new failed unlock attempts since the last
// tick. The count it has seen is persisted so restarts do not re-flag old
// attempts; it only advances when the signal is committed.
type FailedUnlockEvaluator struct {
	kv localstore.KV
}

func NewFailedUnlockEvaluator(kv localstore.KV) *FailedUnlockEvaluator {
	return &FailedUnlockEvaluator{kv: kv}
}

func (e *FailedUnlockEvaluator) Name() string { return EvaluatorFailedUnlock }

func (e *FailedUnlockEvaluator) Evaluate(ctx context.Context) (Signal, error) {
	current, err := localstore.GetInt(ctx, e.kv, localstore.KeyFailedUnlockAttempts)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read failed attempts: %w", err)
	}
	seen, err := localstore.GetInt(ctx, e.kv, localstore.KeyMonitorSeenFailures)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read seen attempts: %w", err)
	}

	// counter was reset by an unlock
	if current < seen {
		if err := e.store(ctx, current); err != nil {
			return Signal{}, err
		}
		return Signal{}, nil
	}
	if current == seen {
		return Signal{}, nil
	}
	return Signal{
		Suspicious: true,
		Reason:     "failed_unlock_attempts",
		Details:    models.EventDetails{"new_attempts": current - seen, "failed_attempts": current},
		Commit: func(ctx context.Context) error {
			return e.store(ctx, current)
		},
	}, nil
}

func (e *FailedUnlockEvaluator) store(ctx context.Context, seen int) error {
	if err := e.kv.Set(ctx, localstore.KeyMonitorSeenFailures, strconv.Itoa(seen)); err != nil {
		return fmt.Errorf("failed to store seen attempts: %w", err)
	}
	return nil
}

// StaleSyncEvaluator flags a device that has not reached the backend for
// longer than maxAge, a sign the agent may have been blocked from the
// network or tampered with. A device that never synced is not flagged.
type StaleSyncEvaluator struct {
	kv     localstore.KV
	maxAge time.Duration
	now    func() time.Time
}

func NewStaleSyncEvaluator(kv localstore.KV, maxAge time.Duration) *StaleSyncEvaluator {
	return &StaleSyncEvaluator{kv: kv, maxAge: maxAge, now: time.Now}
}

func (e *StaleSyncEvaluator) Name() string { return EvaluatorStaleSync }

func (e *StaleSyncEvaluator) Evaluate(ctx context.Context) (Signal, error) {
	last, err := localstore.GetTime(ctx, e.kv, localstore.KeyLastSync)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to read last sync: %w", err)
	}
	if last == nil {
		return Signal{}, nil
	}

	age := e.now().Sub(*last)
	if age <= e.maxAge {
		return Signal{}, nil
	}
	return Signal{
		Suspicious: true,
		Reason:     "stale_sync",
		Details:    models.EventDetails{"last_sync": last.UTC().Format(time.RFC3339), "hours_since_sync": int(age.Hours())},
	}, nil
}

// Composite runs evaluators in order and returns the first suspicious
// signal. Any evaluator error aborts the evaluation.
type Composite struct {
	evaluators []Evaluator
}

func NewComposite(evaluators ...Evaluator) *Composite {
	return &Composite{evaluators: evaluators}
}

func (c *Composite) Name() string { return EvaluatorComposite }

func (c *Composite) Evaluate(ctx context.Context) (Signal, error) {
	for _, e := range c.evaluators {
		sig, err := e.Evaluate(ctx)
		if err != nil {
			return Signal{}, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if sig.Suspicious {
			return sig, nil
		}
	}
	return Signal{}, nil
}
