package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
)

// attemptOpen tries to establish a link to the iterator's current endpoint,
// advancing to the next endpoint after each failure. With maxRetries = N
// the loop makes N attempts with a constant retryTime wait between them.
//
// A successful reconnect at the transport layer is not transparent to the
// layers above: Janus state is gone, so the owning connection tears its
// sessions down and the application rebuilds them.
func attemptOpen(
	ctx context.Context,
	iter *AddressIterator,
	maxRetries int,
	retryTime time.Duration,
	clock clockwork.Clock,
	logger *log.Logger,
	dial func(ctx context.Context, ep Endpoint) error,
) error {
	attempts := 0
	op := func() error {
		ep := iter.Current()
		err := dial(ctx, ep)
		if err == nil {
			connectionsOpened.Add(ctx, 1)
			return nil
		}

		attempts++
		connectAttemptsFailed.Add(ctx, 1)
		logger.Warn("connect attempt failed",
			log.Int("attempt", attempts),
			log.Int("max_retries", maxRetries),
			log.String("url", ep.URL),
			log.Error(err))

		if attempts >= maxRetries {
			return backoff.Permanent(errors.Wrapf(ErrAttemptLimitExceeded, err,
				"no more connect attempts (max %d)", maxRetries))
		}
		iter.Next()
		return err
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(retryTime), ctx)
	if err := backoff.RetryNotifyWithTimer(op, b, nil, newClockTimer(clock)); err != nil {
		if errors.Is(err, ErrAttemptLimitExceeded) {
			return err
		}
		// context cancellation or backoff giving up on its own
		return errors.Wrap(ErrAttemptLimitExceeded, err, "connect attempts aborted")
	}
	return nil
}

// clockTimer adapts a clockwork clock to the backoff timer interface so
// reconnect waits run on an injectable clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func newClockTimer(clock clockwork.Clock) *clockTimer {
	return &clockTimer{clock: clock}
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
