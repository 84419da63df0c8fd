package session_test

import (
	"context"
	"errors"
	"testing"

	"taeu.kr/sessionkeeper/internal/session"
	"taeu.kr/sessionkeeper/internal/storage"
)

func TestResolveTier_AdminIsAlwaysDurable(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	if err := durable.Set(ctx, session.RememberKey, "false"); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	policy := session.NewPolicy(durable, storage.NewMemoryStore())

	if tier := policy.ResolveTier(ctx, session.PrincipalAdmin); tier != session.TierDurable {
		t.Fatalf("expected durable tier for admin, got %s", tier)
	}
}

func TestResolveTier_UserFollowsRememberFlag(t *testing.T) {
	cases := []struct {
		name string
		flag string
		want session.Tier
	}{
		{name: "unset", flag: "", want: session.TierEphemeral},
		{name: "false", flag: "false", want: session.TierEphemeral},
		{name: "true", flag: "true", want: session.TierDurable},
		{name: "malformed", flag: "maybe", want: session.TierEphemeral},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			durable := storage.NewMemoryStore()
			if tc.flag != "" {
				if err := durable.Set(ctx, session.RememberKey, tc.flag); err != nil {
					t.Fatalf("seed flag: %v", err)
				}
			}
			policy := session.NewPolicy(durable, storage.NewMemoryStore())

			if tier := policy.ResolveTier(ctx, session.PrincipalUser); tier != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, tier)
			}
		})
	}
}

func TestRemember_ReportsTriState(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	policy := session.NewPolicy(durable, storage.NewMemoryStore())

	remember, set, err := policy.Remember(ctx)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if remember || set {
		t.Fatalf("expected unset flag, got remember=%v set=%v", remember, set)
	}

	if err := policy.SetRememberFlag(ctx, false); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	remember, set, _ = policy.Remember(ctx)
	if remember || !set {
		t.Fatalf("expected explicit false, got remember=%v set=%v", remember, set)
	}

	stored, err := durable.Get(ctx, session.RememberKey)
	if err != nil || stored != "false" {
		t.Fatalf("expected persisted flag \"false\", got %q (%v)", stored, err)
	}
}

func TestResolveTier_FlagIsReadOncePerProcess(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	if err := durable.Set(ctx, session.RememberKey, "true"); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	policy := session.NewPolicy(durable, storage.NewMemoryStore())

	if tier := policy.ResolveTier(ctx, session.PrincipalUser); tier != session.TierDurable {
		t.Fatalf("expected durable tier, got %s", tier)
	}

	// Another instance flips the flag; this process keeps its decision.
	if err := durable.Set(ctx, session.RememberKey, "false"); err != nil {
		t.Fatalf("flip flag: %v", err)
	}
	if tier := policy.ResolveTier(ctx, session.PrincipalUser); tier != session.TierDurable {
		t.Fatalf("expected tier to stay durable, got %s", tier)
	}
}

func TestSetRememberFlag_MigratesRefreshTokenToEphemeral(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	ephemeral := storage.NewMemoryStore()
	if err := durable.Set(ctx, session.RememberKey, "true"); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	if err := durable.Set(ctx, "user.refresh_token", "T"); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	policy := session.NewPolicy(durable, ephemeral)
	store := session.NewStore(session.PrincipalUser, policy)

	if err := policy.SetRememberFlag(ctx, false); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	if got := store.RefreshToken(ctx); got != "T" {
		t.Fatalf("expected refresh token T from ephemeral tier, got %q", got)
	}
	if _, err := durable.Get(ctx, "user.refresh_token"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected durable copy removed, got %v", err)
	}
}

func TestSetRememberFlag_MigratesRefreshTokenToDurable(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	ephemeral := storage.NewMemoryStore()
	policy := session.NewPolicy(durable, ephemeral)
	store := session.NewStore(session.PrincipalUser, policy)

	if err := store.SetRefreshToken(ctx, "T"); err != nil {
		t.Fatalf("set refresh: %v", err)
	}
	if err := policy.SetRememberFlag(ctx, true); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	if got, _ := durable.Get(ctx, "user.refresh_token"); got != "T" {
		t.Fatalf("expected durable refresh token T, got %q", got)
	}
	if _, err := ephemeral.Get(ctx, "user.refresh_token"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ephemeral copy removed, got %v", err)
	}
	if got := store.RefreshToken(ctx); got != "T" {
		t.Fatalf("expected store to read T, got %q", got)
	}
}

func TestSetRememberFlag_SameTierLeavesTokenInPlace(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	ephemeral := storage.NewMemoryStore()
	policy := session.NewPolicy(durable, ephemeral)
	if err := ephemeral.Set(ctx, "user.refresh_token", "T"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if err := policy.SetRememberFlag(ctx, false); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if got, _ := ephemeral.Get(ctx, "user.refresh_token"); got != "T" {
		t.Fatalf("expected token untouched, got %q", got)
	}
	if _, err := durable.Get(ctx, "user.refresh_token"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no durable copy, got %v", err)
	}
}

// failingKV fails writes of one key.
type failingKV struct {
	storage.KV
	key string
}

func (f failingKV) Set(ctx context.Context, key, value string) error {
	if key == f.key {
		return errors.New("disk full")
	}
	return f.KV.Set(ctx, key, value)
}

func TestSetRememberFlag_FailedMigrationKeepsFlag(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	ephemeral := storage.NewMemoryStore()
	if err := ephemeral.Set(ctx, "user.refresh_token", "T"); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	policy := session.NewPolicy(failingKV{KV: durable, key: "user.refresh_token"}, ephemeral)
	store := session.NewStore(session.PrincipalUser, policy)

	if err := policy.SetRememberFlag(ctx, true); err == nil {
		t.Fatal("expected migration failure")
	}

	if tier := policy.ResolveTier(ctx, session.PrincipalUser); tier != session.TierEphemeral {
		t.Fatalf("expected tier to stay ephemeral, got %s", tier)
	}
	if _, set, err := policy.Remember(ctx); err != nil || set {
		t.Fatalf("expected remember flag unset, got set=%v err=%v", set, err)
	}
	if got := store.RefreshToken(ctx); got != "T" {
		t.Fatalf("expected refresh token still readable, got %q", got)
	}
}

func TestSetRememberFlag_FailedFlagWriteRestoresToken(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryStore()
	ephemeral := storage.NewMemoryStore()
	if err := ephemeral.Set(ctx, "user.refresh_token", "T"); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	policy := session.NewPolicy(failingKV{KV: durable, key: session.RememberKey}, ephemeral)
	store := session.NewStore(session.PrincipalUser, policy)

	if err := policy.SetRememberFlag(ctx, true); err == nil {
		t.Fatal("expected flag write failure")
	}

	if got := store.RefreshToken(ctx); got != "T" {
		t.Fatalf("expected refresh token back in ephemeral tier, got %q", got)
	}
	if _, err := durable.Get(ctx, "user.refresh_token"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no durable copy, got %v", err)
	}
}
