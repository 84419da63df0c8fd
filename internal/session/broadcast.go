package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/storage"
)

type sentinel struct {
	At     int64  `json:"at"`
	Origin string `json:"origin"`
}

// Broadcaster propagates logout between instances sharing the durable tier.
// A broadcast is one write of BroadcastKey; every other instance watching
// that key sees the change and runs its logout handlers.
type Broadcaster struct {
	durable  storage.KV
	watcher  *storage.Watcher
	instance string
	metrics  *Metrics
	now      func() time.Time

	mu       sync.Mutex
	lastAt   int64
	handlers []func()
}

func NewBroadcaster(durable storage.KV, watcher *storage.Watcher, metrics *Metrics) *Broadcaster {
	b := &Broadcaster{
		durable:  durable,
		watcher:  watcher,
		instance: uuid.NewString(),
		metrics:  metrics,
		now:      time.Now,
	}
	watcher.Subscribe(b.handle)
	return b
}

// InstanceID identifies this instance as the origin of its broadcasts.
func (b *Broadcaster) InstanceID() string {
	return b.instance
}

// Broadcast tells every other instance to log out.
func (b *Broadcaster) Broadcast(ctx context.Context) error {
	b.mu.Lock()
	at := b.now().UnixNano()
	if at <= b.lastAt {
		at = b.lastAt + 1
	}
	b.lastAt = at
	b.mu.Unlock()

	payload, err := json.Marshal(sentinel{At: at, Origin: b.instance})
	if err != nil {
		return err
	}
	value := string(payload)

	// Deliver a pending broadcast from another instance before this write
	// replaces it.
	if err := b.watcher.Check(ctx); err != nil {
		log.Warn().Err(err).Msg("[Broadcast] failed to check for pending logout broadcast")
	}
	if err := b.durable.Set(ctx, BroadcastKey, value); err != nil {
		return fmt.Errorf("write logout broadcast: %w", err)
	}
	b.watcher.Observe(value)
	b.metrics.broadcast()

	log.Info().Str("instance", b.instance).Msg("[Broadcast] logout broadcast sent")
	return nil
}

// OnExternalLogout registers fn to run whenever another instance broadcasts
// a logout. fn may run more than once for bursts of broadcasts and must be
// idempotent.
func (b *Broadcaster) OnExternalLogout(fn func()) {
	b.mu.Lock()
	b.handlers = append(b.handlers, fn)
	b.mu.Unlock()
}

// Prime sets the baseline so broadcasts older than this instance are ignored.
func (b *Broadcaster) Prime(ctx context.Context) error {
	return b.watcher.Prime(ctx)
}

// Check looks for a new broadcast once.
func (b *Broadcaster) Check(ctx context.Context) error {
	return b.watcher.Check(ctx)
}

// Run watches for broadcasts until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	return b.watcher.Run(ctx)
}

func (b *Broadcaster) handle(value string) {
	var s sentinel
	if err := json.Unmarshal([]byte(value), &s); err != nil {
		// Origin unknown, so it cannot be ours.
		log.Warn().Err(err).Msg("[Broadcast] malformed logout broadcast, treating as external")
	} else if s.Origin == b.instance {
		return
	}

	log.Info().Str("origin", s.Origin).Msg("[Broadcast] external logout observed")
	b.metrics.externalLogout()

	b.mu.Lock()
	handlers := append([]func(){}, b.handlers...)
	b.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}
