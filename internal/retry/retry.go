/*
Package retry wraps fallible operations with a bounded number of attempts and a
delay between them. The default policy waits a fixed delay; exponential backoff
is available as an opt-in.
*/
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shanehull/listscraper/internal/types"

	"go.uber.org/zap"
)

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Backoff     Backoff       `yaml:"backoff"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultPolicy matches three attempts five seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 5 * time.Second, Backoff: BackoffFixed}
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", p.Delay)
	}
	switch p.Backoff {
	case "", BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff %q", p.Backoff)
	}
	return nil
}

// DelayAfter returns the wait after the given failed attempt (1-based).
func (p Policy) DelayAfter(attempt int) time.Duration {
	if p.Backoff != BackoffExponential || attempt <= 1 {
		return p.Delay
	}
	d := p.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Executor runs operations under a Policy. Operations must be safe to repeat.
type Executor struct {
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewExecutor(policy Policy, logger *zap.Logger) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{policy: policy, logger: logger, sleep: sleepContext}
}

func (e *Executor) Policy() Policy {
	return e.policy
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth another attempt. Do returns the wrapped
// error as-is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do invokes op until it succeeds or the policy's attempts are used up. A
// context cancellation during the wait stops further attempts.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			e.logger.Warn("Attempt failed, not retrying",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Error(perm.err))
			return perm.err
		}
		last = err

		e.logger.Warn("Attempt failed",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.policy.MaxAttempts),
			zap.Error(err))

		if attempt == e.policy.MaxAttempts {
			break
		}
		if serr := e.sleep(ctx, e.policy.DelayAfter(attempt)); serr != nil {
			return errors.Join(fmt.Errorf("%w: %s interrupted after attempt %d", types.ErrCanceled, name, attempt), last)
		}
	}

	return &types.RetriesExhaustedError{
		Operation: name,
		Attempts:  e.policy.MaxAttempts,
		Last:      last,
	}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
