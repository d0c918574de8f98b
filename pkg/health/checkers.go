package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is a dependency that can be probed, such as a cart store or a
// database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes p and wraps failures with name.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// GoroutineCountCheck fails when more than threshold goroutines run. Every
// open cart event stream holds one, so a leak shows up here first.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// StalenessCheck fails when last reports a time older than maxAge. The
// session sweeper and the event publisher report their last successful pass
// through it.
func StalenessCheck(maxAge time.Duration, last func() time.Time) CheckFunc {
	return func(context.Context) error {
		t := last()
		if t.IsZero() {
			return nil
		}
		if age := time.Since(t); age > maxAge {
			return errors.Errorf("last run %s ago exceeds %s", age.Truncate(time.Second), maxAge)
		}
		return nil
	}
}
