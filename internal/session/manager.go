package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/storage"
	"taeu.kr/sessionkeeper/internal/token"
)

const DefaultRefreshLeadWindow = time.Minute

type Options struct {
	// Durable is the tier shared with other instances. Required.
	Durable storage.KV
	// Ephemeral defaults to a fresh in-memory store.
	Ephemeral storage.KV
	// Watcher observes BroadcastKey on Durable. Defaults to a polling watcher.
	Watcher *storage.Watcher
	Renewer Renewer
	Metrics *Metrics

	// RefreshLeadWindow is how close to expiry EnsureFresh renews.
	RefreshLeadWindow time.Duration
	Now               func() time.Time
}

// Manager wires one Store and Coordinator per principal around a shared
// Policy and Broadcaster.
type Manager struct {
	policy      *Policy
	broadcaster *Broadcaster
	sessions    map[Principal]*Session
	leadWindow  time.Duration
	now         func() time.Time
}

// Session is the per-principal surface application code talks to.
type Session struct {
	manager     *Manager
	store       *Store
	coordinator *Coordinator
}

func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Durable == nil {
		return nil, errors.New("session: durable store is required")
	}
	if opts.Renewer == nil {
		return nil, errors.New("session: renewer is required")
	}
	if opts.Ephemeral == nil {
		opts.Ephemeral = storage.NewMemoryStore()
	}
	if opts.Watcher == nil {
		opts.Watcher = storage.NewWatcher(opts.Durable, BroadcastKey, storage.WatcherOptions{})
	}
	if opts.RefreshLeadWindow <= 0 {
		opts.RefreshLeadWindow = DefaultRefreshLeadWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		policy:      NewPolicy(opts.Durable, opts.Ephemeral),
		broadcaster: NewBroadcaster(opts.Durable, opts.Watcher, opts.Metrics),
		sessions:    make(map[Principal]*Session, len(Principals)),
		leadWindow:  opts.RefreshLeadWindow,
		now:         opts.Now,
	}
	for _, p := range Principals {
		store := NewStore(p, m.policy)
		m.sessions[p] = &Session{
			manager:     m,
			store:       store,
			coordinator: NewCoordinator(store, opts.Renewer, m.broadcaster, opts.Metrics),
		}
	}

	if err := m.broadcaster.Prime(ctx); err != nil {
		return nil, err
	}
	m.broadcaster.OnExternalLogout(func() {
		m.clearAll(context.Background())
	})
	return m, nil
}

func (m *Manager) User() *Session  { return m.sessions[PrincipalUser] }
func (m *Manager) Admin() *Session { return m.sessions[PrincipalAdmin] }

func (m *Manager) Session(p Principal) (*Session, error) {
	s, ok := m.sessions[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrincipal, p)
	}
	return s, nil
}

func (m *Manager) Broadcaster() *Broadcaster {
	return m.broadcaster
}

// Remember returns the remember flag and whether it was ever set.
func (m *Manager) Remember(ctx context.Context) (bool, bool, error) {
	return m.policy.Remember(ctx)
}

// SetRemember records an explicit remember-me choice for the user principal.
func (m *Manager) SetRemember(ctx context.Context, remember bool) error {
	return m.User().store.SetRemember(ctx, remember)
}

// OnExternalLogout registers fn to run after local state has been cleared in
// response to another instance's logout.
func (m *Manager) OnExternalLogout(fn func()) {
	m.broadcaster.OnExternalLogout(fn)
}

// CheckExternalLogout looks for a logout broadcast once.
func (m *Manager) CheckExternalLogout(ctx context.Context) error {
	return m.broadcaster.Check(ctx)
}

// Run watches for logout broadcasts until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	return m.broadcaster.Run(ctx)
}

func (m *Manager) clearAll(ctx context.Context) {
	for _, p := range Principals {
		if err := m.sessions[p].store.Clear(ctx); err != nil {
			log.Error().Err(err).Str("principal", string(p)).Msg("[Session] failed to clear after external logout")
		}
	}
}

func (s *Session) Principal() Principal {
	return s.store.Principal()
}

func (s *Session) Store() *Store {
	return s.store
}

func (s *Session) AccessToken(ctx context.Context) string {
	return s.store.AccessToken(ctx)
}

// IsLoggedIn reports whether the current access token has not expired.
func (s *Session) IsLoggedIn(ctx context.Context) bool {
	return token.IsValidAt(s.store.AccessToken(ctx), s.manager.now())
}

// SetPair installs a freshly issued pair, as after an interactive login.
func (s *Session) SetPair(ctx context.Context, pair Pair) error {
	if pair.AccessToken == "" && pair.RefreshToken == "" {
		return ErrNoCredential
	}
	return s.store.SetPair(ctx, pair)
}

func (s *Session) Renew(ctx context.Context) bool {
	return s.coordinator.Renew(ctx)
}

func (s *Session) RenewAsync(ctx context.Context, fn func(ok bool)) {
	s.coordinator.RenewAsync(ctx, fn)
}

// Logout clears this principal's credentials and tells the other instances.
func (s *Session) Logout(ctx context.Context) error {
	clearErr := s.store.Clear(ctx)
	broadcastErr := s.manager.broadcaster.Broadcast(ctx)
	return errors.Join(clearErr, broadcastErr)
}

// Bootstrap restores a usable session at start-up if that is possible
// without user interaction. A still valid access token needs no network.
func (s *Session) Bootstrap(ctx context.Context) bool {
	if s.IsLoggedIn(ctx) {
		return true
	}
	if s.store.RefreshToken(ctx) == "" {
		return false
	}

	switch s.Principal() {
	case PrincipalUser:
		remember, _, err := s.manager.policy.Remember(ctx)
		if err != nil {
			log.Error().Err(err).Msg("[Session] failed to read remember flag during bootstrap")
			return false
		}
		if !remember {
			return false
		}
		return s.Renew(ctx)
	case PrincipalAdmin:
		return s.Renew(ctx)
	default:
		return false
	}
}

// EnsureFresh returns an access token that is valid for at least the refresh
// lead window, renewing first when needed. When renewal fails but the old
// token has not expired yet, the old token is returned.
func (s *Session) EnsureFresh(ctx context.Context) (string, error) {
	now := s.manager.now()
	current := s.store.AccessToken(ctx)
	if remaining, ok := token.TimeRemainingAt(current, now); ok && remaining > s.manager.leadWindow {
		return current, nil
	}

	if s.Renew(ctx) {
		if renewed := s.store.AccessToken(ctx); renewed != "" {
			return renewed, nil
		}
	}

	if token.IsValidAt(current, s.manager.now()) {
		return current, nil
	}
	return "", ErrNoCredential
}

// Status is a point-in-time view of one principal's session.
type Status struct {
	Principal       Principal  `yaml:"principal" json:"principal"`
	Tier            string     `yaml:"tier" json:"tier"`
	LoggedIn        bool       `yaml:"logged_in" json:"loggedIn"`
	HasAccessToken  bool       `yaml:"has_access_token" json:"hasAccessToken"`
	HasRefreshToken bool       `yaml:"has_refresh_token" json:"hasRefreshToken"`
	ExpiresAt       *time.Time `yaml:"expires_at,omitempty" json:"expiresAt,omitempty"`
	Renewing        bool       `yaml:"renewing" json:"renewing"`
}

func (s *Session) Status(ctx context.Context) Status {
	access := s.store.AccessToken(ctx)
	status := Status{
		Principal:       s.Principal(),
		Tier:            s.store.Tier(ctx).String(),
		LoggedIn:        token.IsValidAt(access, s.manager.now()),
		HasAccessToken:  access != "",
		HasRefreshToken: s.store.RefreshToken(ctx) != "",
		Renewing:        s.coordinator.Renewing(),
	}
	if exp, ok := token.DecodeExpiry(access); ok {
		status.ExpiresAt = &exp
	}
	return status
}
