package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/token"
)

const (
	defaultRetryInitialBackoff = 500 * time.Millisecond
	defaultRetryMaxBackoff     = 30 * time.Second
)

// Backoff doubles the delay per attempt, starting at Initial and capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = defaultRetryInitialBackoff
	}
	max := b.Max
	if max <= 0 {
		max = defaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// AutoRenew keeps the access token renewed in the background until ctx is
// done or the session ends. Transient failures are retried with backoff.
func (s *Session) AutoRenew(ctx context.Context, backoff Backoff) error {
	logger := log.With().Str("principal", string(s.Principal())).Logger()
	attempt := 0
	renewed := false

	for {
		if s.store.RefreshToken(ctx) == "" {
			logger.Info().Msg("[AutoRenew] no refresh token, stopping")
			return ErrNoCredential
		}

		delay := renewDelay(s.store.AccessToken(ctx), s.manager.now(), s.manager.leadWindow)
		switch {
		case attempt > 0:
			delay = backoff.NextDelay(attempt)
		case renewed && delay < backoff.NextDelay(1):
			// The provider issues tokens shorter than the lead window.
			delay = backoff.NextDelay(1)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil
		}

		if s.Renew(ctx) {
			attempt = 0
			renewed = true
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		logger.Warn().Int("attempt", attempt).Msg("[AutoRenew] renewal failed, backing off")
	}
}

// renewDelay is how long to wait before renewing access so that it is
// replaced lead before it expires.
func renewDelay(access string, now time.Time, lead time.Duration) time.Duration {
	remaining, ok := token.TimeRemainingAt(access, now)
	if !ok || remaining <= lead {
		return 0
	}
	return remaining - lead
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
