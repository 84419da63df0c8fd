package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// LogoutNotifier is told when a rejected renewal ends the session.
type LogoutNotifier interface {
	Broadcast(ctx context.Context) error
}

// Coordinator collapses concurrent renewals for one principal into a single
// remote call. While a renewal is running every further request waits for
// its outcome instead of starting another.
type Coordinator struct {
	store    *Store
	renewer  Renewer
	notifier LogoutNotifier
	metrics  *Metrics

	// state: idle when !renewing; waiters are resolved in registration order.
	mu       sync.Mutex
	renewing bool
	waiters  []func(bool)
}

func NewCoordinator(store *Store, renewer Renewer, notifier LogoutNotifier, metrics *Metrics) *Coordinator {
	return &Coordinator{
		store:    store,
		renewer:  renewer,
		notifier: notifier,
		metrics:  metrics,
	}
}

// Renew requests a renewal and waits for its outcome. If ctx ends first Renew
// returns false, but the renewal itself still completes and updates the store.
func (c *Coordinator) Renew(ctx context.Context) bool {
	done := make(chan bool, 1)
	c.RenewAsync(ctx, func(ok bool) { done <- ok })

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// RenewAsync requests a renewal and calls fn exactly once with its outcome.
// fn runs on the renewing goroutine, or inline when there is nothing to
// renew with.
func (c *Coordinator) RenewAsync(ctx context.Context, fn func(ok bool)) {
	c.mu.Lock()
	if c.renewing {
		c.waiters = append(c.waiters, fn)
		c.mu.Unlock()
		c.metrics.waiter(c.store.Principal())
		return
	}

	generation := c.store.Generation()
	refresh := c.store.RefreshToken(ctx)
	if refresh == "" {
		c.mu.Unlock()
		c.metrics.renewal(c.store.Principal(), outcomeNoCredential)
		log.Debug().Str("principal", string(c.store.Principal())).Msg("[Renewal] no refresh token, skipping")
		fn(false)
		return
	}

	c.renewing = true
	c.waiters = []func(bool){fn}
	c.mu.Unlock()

	current := Pair{AccessToken: c.store.AccessToken(ctx), RefreshToken: refresh}
	go c.run(context.WithoutCancel(ctx), generation, current)
}

// Renewing reports whether a remote renewal is in flight.
func (c *Coordinator) Renewing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewing
}

func (c *Coordinator) run(ctx context.Context, generation uint64, current Pair) {
	principal := c.store.Principal()
	log.Debug().Str("principal", string(principal)).Msg("[Renewal] started")

	pair, err := c.renewer.Renew(ctx, principal, current)
	ok := c.settle(ctx, generation, pair, err)

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.renewing = false
	c.mu.Unlock()

	for _, fn := range waiters {
		fn(ok)
	}
}

// settle applies the outcome of a renewal started at generation. A session
// that was logged out while the call was in flight stays logged out.
func (c *Coordinator) settle(ctx context.Context, generation uint64, pair Pair, err error) bool {
	principal := c.store.Principal()
	logger := log.With().Str("principal", string(principal)).Logger()

	if err == nil && pair.AccessToken == "" {
		err = errors.New("renewal response carried no access token")
	}
	if c.store.Generation() != generation {
		c.metrics.renewal(principal, outcomeDiscarded)
		logger.Info().AnErr("renewal_error", err).Msg("[Renewal] session cleared while renewing, result discarded")
		return false
	}

	switch {
	case err == nil:
		stored, storeErr := c.store.SetPairAt(ctx, generation, pair)
		if !stored {
			c.metrics.renewal(principal, outcomeDiscarded)
			logger.Info().Msg("[Renewal] session cleared while renewing, result discarded")
			return false
		}
		if storeErr != nil {
			logger.Error().Err(storeErr).Msg("[Renewal] failed to persist renewed credentials")
		}
		c.metrics.renewal(principal, outcomeSuccess)
		logger.Info().Bool("rotated", pair.RefreshToken != "").Msg("[Renewal] succeeded")
		return true

	case errors.Is(err, ErrRenewalRejected):
		c.metrics.renewal(principal, outcomeRejected)
		logger.Warn().Err(err).Msg("[Renewal] refresh token rejected, logging out")
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			logger.Error().Err(clearErr).Msg("[Renewal] failed to clear credentials")
		}
		if c.notifier != nil {
			if notifyErr := c.notifier.Broadcast(ctx); notifyErr != nil {
				logger.Error().Err(notifyErr).Msg("[Renewal] failed to broadcast logout")
			}
		}
		return false

	default:
		c.metrics.renewal(principal, outcomeTransient)
		logger.Warn().Err(err).Msg("[Renewal] failed, credentials kept")
		return false
	}
}
