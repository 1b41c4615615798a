package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

// DefaultSchedule is the wait applied after each failed attempt. A call fails for good after
// len(schedule) attempts.
var DefaultSchedule = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	60 * time.Second,
	180 * time.Second,
	300 * time.Second,
	360 * time.Second,
	420 * time.Second,
	480 * time.Second,
	540 * time.Second,
	600 * time.Second,
}

// Retrier re-runs transient upstream calls on a fixed schedule.
type Retrier struct {
	Schedule []time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   *logrus.Entry
}

func (r *Retrier) setDefaults() {
	if len(r.Schedule) == 0 {
		r.Schedule = DefaultSchedule
	}
	if r.Sleep == nil {
		r.Sleep = sleepContext
	}
	if r.Logger == nil {
		r.Logger = logging.Nop()
	}
}

// Do calls fn until it succeeds, fails permanently, or the schedule is exhausted. Exhaustion is
// reported as ErrUpstreamUnavailable wrapping the last failure.
func (r Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	r.setDefaults()

	var last error
	for attempt := 1; attempt <= len(r.Schedule); attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !transient(err) {
			return err
		}
		last = err
		if attempt == len(r.Schedule) {
			break
		}
		wait := r.Schedule[attempt-1]
		r.Logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"sleep":   wait.String(),
			"error":   err.Error(),
		}).Warn("upstream call failed, retrying")
		if err := r.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %v", samerrors.ErrUpstreamUnavailable, op, len(r.Schedule), last)
}

// transient reports whether err is worth another attempt. Credential, missing-file and
// configuration errors are final.
func transient(err error) bool {
	return !errors.Is(err, samerrors.ErrUpstreamCredentialsInvalid) &&
		!errors.Is(err, samerrors.ErrFileNotFound) &&
		!errors.Is(err, samerrors.ErrConfigInvalid)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
