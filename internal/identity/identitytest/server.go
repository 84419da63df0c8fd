// Package identitytest provides an in-process identity provider for tests.
package identitytest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"taeu.kr/sessionkeeper/internal/platform/web"
	"taeu.kr/sessionkeeper/internal/session"
)

var ErrInvalidToken = errors.New("invalid token")

type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Rotate issues a new refresh token on every renewal and revokes the old one.
	Rotate bool
}

type Claims struct {
	Principal session.Principal `json:"principal"`
	Type      string            `json:"type"`
	jwt.RegisteredClaims
}

// Server issues signed token pairs and serves one refresh endpoint per
// principal at /api/auth/{principal}/refresh.
type Server struct {
	*httptest.Server
	config Config

	mu       sync.Mutex
	revoked  map[string]bool
	renewals map[session.Principal]int
	failures int
}

func NewServer(config Config) *Server {
	if config.Secret == "" {
		config.Secret = "identitytest-secret"
	}
	if config.Issuer == "" {
		config.Issuer = "identitytest"
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = 15 * time.Minute
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = 24 * time.Hour
	}

	s := &Server{
		config:   config,
		revoked:  make(map[string]bool),
		renewals: make(map[session.Principal]int),
	}

	r := chi.NewRouter()
	r.Method(http.MethodPost, "/api/auth/{principal}/refresh", web.Handler(s.handleRefresh))
	s.Server = httptest.NewServer(r)
	return s
}

// RefreshURL is the refresh endpoint of principal.
func (s *Server) RefreshURL(p session.Principal) string {
	return s.URL + "/api/auth/" + string(p) + "/refresh"
}

func (s *Server) IssuePair(p session.Principal) (session.Pair, error) {
	access, err := s.signToken(p, "access", s.config.AccessTTL)
	if err != nil {
		return session.Pair{}, err
	}
	refresh, err := s.signToken(p, "refresh", s.config.RefreshTTL)
	if err != nil {
		return session.Pair{}, err
	}
	return session.Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Revoke makes every later renewal with refresh fail with 401.
func (s *Server) Revoke(refresh string) {
	s.mu.Lock()
	s.revoked[refresh] = true
	s.mu.Unlock()
}

// FailNext answers the next n renewals with 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// Renewals counts successful renewals for p.
func (s *Server) Renewals(p session.Principal) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renewals[p]
}

func (s *Server) ParseToken(tokenString string, expectedType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != expectedType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) *web.Error {
	p, err := session.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		return &web.Error{Code: http.StatusNotFound, Message: "Unknown principal", Err: err}
	}

	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return &web.Error{Code: http.StatusServiceUnavailable, Message: "Temporarily unavailable"}
	}
	s.mu.Unlock()

	refresh := strings.TrimSpace(r.Header.Get("RefreshToken"))
	claims, err := s.ParseToken(refresh, "refresh")
	if err != nil || claims.Principal != p {
		return &web.Error{Code: http.StatusUnauthorized, Message: "Invalid refresh token", Err: err}
	}

	s.mu.Lock()
	revoked := s.revoked[refresh]
	s.mu.Unlock()
	if revoked {
		return &web.Error{Code: http.StatusUnauthorized, Message: "Refresh token revoked"}
	}

	access, err := s.signToken(p, "access", s.config.AccessTTL)
	if err != nil {
		return &web.Error{Code: http.StatusInternalServerError, Message: "Failed to issue token", Err: err}
	}
	resp := map[string]string{"accessToken": access}
	if s.config.Rotate {
		next, err := s.signToken(p, "refresh", s.config.RefreshTTL)
		if err != nil {
			return &web.Error{Code: http.StatusInternalServerError, Message: "Failed to issue token", Err: err}
		}
		resp["refreshToken"] = next
		s.Revoke(refresh)
	}

	s.mu.Lock()
	s.renewals[p]++
	s.mu.Unlock()

	web.WriteJSON(w, http.StatusOK, map[string]any{"data": resp})
	return nil
}

func (s *Server) signToken(p session.Principal, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Principal: p,
		Type:      tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   string(p),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", errors.New("failed to sign token")
	}
	return signedToken, nil
}
