package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/storage"
)

// Store holds one principal's credentials. The access token lives in memory
// and is mirrored to the durable tier when the principal's tier is durable;
// the refresh token always lives in the policy-selected tier.
type Store struct {
	principal Principal
	policy    *Policy

	mu     sync.Mutex
	access string
	// generation advances on every Clear.
	generation uint64
}

func NewStore(principal Principal, policy *Policy) *Store {
	return &Store{principal: principal, policy: policy}
}

func (s *Store) Principal() Principal {
	return s.principal
}

// Tier is the tier this store currently reads from and writes to.
func (s *Store) Tier(ctx context.Context) Tier {
	return s.policy.ResolveTier(ctx, s.principal)
}

// AccessToken returns the in-memory access token, falling back to the
// durable mirror for a freshly started process.
func (s *Store) AccessToken(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access != "" {
		return s.access
	}
	if s.policy.ResolveTier(ctx, s.principal) != TierDurable {
		return ""
	}

	mirrored, err := storage.Lookup(ctx, s.policy.durable, s.accessKey())
	if err != nil {
		log.Error().Err(err).Str("principal", string(s.principal)).Msg("[Store] failed to read access token mirror")
		return ""
	}
	s.access = mirrored
	return mirrored
}

// SetAccessToken replaces the access token. An empty token removes it.
func (s *Store) SetAccessToken(ctx context.Context, tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAccessLocked(ctx, tok)
}

func (s *Store) RefreshToken(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// SetRefreshToken replaces the refresh token. An empty token removes it.
func (s *Store) SetRefreshToken(ctx context.Context, tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setRefreshLocked(ctx, tok)
}

// SetPair stores a renewed pair. The refresh token is only replaced when the
// pair carries one.
func (s *Store) SetPair(ctx context.Context, pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPairLocked(ctx, pair)
}

// Generation identifies the current login. It changes whenever the store is
// cleared.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SetPairAt stores pair only if the store has not been cleared since
// generation was read. It reports whether the pair was stored.
func (s *Store) SetPairAt(ctx context.Context, generation uint64, pair Pair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return false, nil
	}
	return true, s.setPairLocked(ctx, pair)
}

// Clear removes both tokens from memory and from both tiers. Safe to repeat.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.access = ""
	var errs []error
	for _, kv := range []storage.KV{s.policy.ephemeral, s.policy.durable} {
		for _, key := range []string{s.accessKey(), s.refreshKey()} {
			if err := kv.Delete(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// SetRemember switches the remember mode and brings the access token mirror
// in line with the new tier.
func (s *Store) SetRemember(ctx context.Context, remember bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.policy.SetRememberFlag(ctx, remember); err != nil {
		return err
	}
	if s.policy.ResolveTier(ctx, s.principal) == TierDurable {
		if s.access == "" {
			return nil
		}
		return s.policy.durable.Set(ctx, s.accessKey(), s.access)
	}
	return s.policy.durable.Delete(ctx, s.accessKey())
}

func (s *Store) setPairLocked(ctx context.Context, pair Pair) error {
	if err := s.setAccessLocked(ctx, pair.AccessToken); err != nil {
		return err
	}
	if pair.RefreshToken == "" {
		return nil
	}
	return s.setRefreshLocked(ctx, pair.RefreshToken)
}

func (s *Store) setAccessLocked(ctx context.Context, tok string) error {
	s.access = tok
	if s.policy.ResolveTier(ctx, s.principal) != TierDurable {
		return nil
	}
	if tok == "" {
		return s.policy.durable.Delete(ctx, s.accessKey())
	}
	return s.policy.durable.Set(ctx, s.accessKey(), tok)
}

func (s *Store) refreshLocked(ctx context.Context) string {
	kv := s.policy.KV(s.policy.ResolveTier(ctx, s.principal))
	refresh, err := storage.Lookup(ctx, kv, s.refreshKey())
	if err != nil {
		log.Error().Err(err).Str("principal", string(s.principal)).Msg("[Store] failed to read refresh token")
		return ""
	}
	return refresh
}

func (s *Store) setRefreshLocked(ctx context.Context, tok string) error {
	kv := s.policy.KV(s.policy.ResolveTier(ctx, s.principal))
	if tok == "" {
		return kv.Delete(ctx, s.refreshKey())
	}
	return kv.Set(ctx, s.refreshKey(), tok)
}

func (s *Store) accessKey() string {
	return storageKey(s.principal, accessTokenSuffix)
}

func (s *Store) refreshKey() string {
	return storageKey(s.principal, refreshTokenSuffix)
}
