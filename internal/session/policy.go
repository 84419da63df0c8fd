package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/storage"
)

// Tier selects which storage a credential lives in.
type Tier int

const (
	TierEphemeral Tier = iota
	TierDurable
)

func (t Tier) String() string {
	switch t {
	case TierDurable:
		return "durable"
	case TierEphemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// Policy decides the storage tier per principal. The remember flag is read
// from the durable tier once and then only changes through SetRememberFlag.
type Policy struct {
	durable   storage.KV
	ephemeral storage.KV

	mu          sync.Mutex
	loaded      bool
	remember    bool
	rememberSet bool
}

func NewPolicy(durable, ephemeral storage.KV) *Policy {
	return &Policy{durable: durable, ephemeral: ephemeral}
}

// Remember returns the remember flag and whether it was ever decided.
func (p *Policy) Remember(ctx context.Context) (remember bool, set bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(ctx); err != nil {
		return false, false, err
	}
	return p.remember, p.rememberSet, nil
}

// ResolveTier returns the tier credentials of principal belong in. The
// administrative principal has no ephemeral mode.
func (p *Policy) ResolveTier(ctx context.Context, principal Principal) Tier {
	if principal == PrincipalAdmin {
		return TierDurable
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(ctx); err != nil {
		log.Error().Err(err).Msg("[Policy] failed to read remember flag, using ephemeral tier")
		return TierEphemeral
	}
	return p.tierLocked()
}

// KV returns the store backing tier.
func (p *Policy) KV(tier Tier) storage.KV {
	if tier == TierDurable {
		return p.durable
	}
	return p.ephemeral
}

// SetRememberFlag persists remember and moves the user's refresh token to
// the newly selected tier so it is never stranded or duplicated.
func (p *Policy) SetRememberFlag(ctx context.Context, remember bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(ctx); err != nil {
		return err
	}
	from := p.tierLocked()
	to := tierFor(remember)

	// The token moves before the flag is committed, so a failed move leaves
	// the flag pointing at the tier that still holds it.
	if from != to {
		key := storageKey(PrincipalUser, refreshTokenSuffix)
		refresh, err := storage.Lookup(ctx, p.KV(from), key)
		if err != nil {
			return fmt.Errorf("read refresh token from %s tier: %w", from, err)
		}
		if refresh != "" {
			if err := p.KV(to).Set(ctx, key, refresh); err != nil {
				return fmt.Errorf("move refresh token to %s tier: %w", to, err)
			}
		}
		if err := p.KV(from).Delete(ctx, key); err != nil {
			if refresh != "" {
				_ = p.KV(to).Delete(ctx, key)
			}
			return fmt.Errorf("remove refresh token from %s tier: %w", from, err)
		}
	}

	if err := p.durable.Set(ctx, RememberKey, strconv.FormatBool(remember)); err != nil {
		if from != to {
			p.restoreLocked(ctx, from, to)
		}
		return fmt.Errorf("write remember flag: %w", err)
	}
	p.remember = remember
	p.rememberSet = true

	if from != to {
		log.Info().Str("from", from.String()).Str("to", to.String()).Msg("[Policy] remember mode changed")
	}
	return nil
}

// restoreLocked moves the user's refresh token back after the flag could not
// be written.
func (p *Policy) restoreLocked(ctx context.Context, from, to Tier) {
	key := storageKey(PrincipalUser, refreshTokenSuffix)
	refresh, err := storage.Lookup(ctx, p.KV(to), key)
	if err == nil && refresh != "" {
		err = p.KV(from).Set(ctx, key, refresh)
	}
	if err == nil {
		err = p.KV(to).Delete(ctx, key)
	}
	if err != nil {
		log.Error().Err(err).Str("tier", from.String()).Msg("[Policy] failed to restore refresh token")
	}
}

func (p *Policy) loadLocked(ctx context.Context) error {
	if p.loaded {
		return nil
	}

	value, err := storage.Lookup(ctx, p.durable, RememberKey)
	if err != nil {
		return fmt.Errorf("read remember flag: %w", err)
	}
	if value != "" {
		remember, err := strconv.ParseBool(value)
		if err == nil {
			p.remember = remember
			p.rememberSet = true
		} else {
			log.Warn().Str("value", value).Msg("[Policy] ignoring malformed remember flag")
		}
	}
	p.loaded = true
	return nil
}

func (p *Policy) tierLocked() Tier {
	return tierFor(p.rememberSet && p.remember)
}

func tierFor(remember bool) Tier {
	if remember {
		return TierDurable
	}
	return TierEphemeral
}
