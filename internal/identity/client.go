package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/session"
)

const (
	defaultTimeout       = 10 * time.Second
	maxResponseBodyBytes = 1 << 20
)

type Config struct {
	// Endpoints maps each principal to its refresh URL.
	Endpoints map[session.Principal]string
	Timeout   time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client renews credentials against the identity provider.
type Client struct {
	endpoints map[session.Principal]string
	client    *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	endpoints := make(map[session.Principal]string, len(cfg.Endpoints))
	for p, url := range cfg.Endpoints {
		if url = strings.TrimSpace(url); url != "" {
			endpoints[p] = url
		}
	}

	return &Client{endpoints: endpoints, client: client}
}

// Renew exchanges current for a new pair. The request carries the access
// token as a bearer credential and the refresh token in its own header.
func (c *Client) Renew(ctx context.Context, principal session.Principal, current session.Pair) (session.Pair, error) {
	url, ok := c.endpoints[principal]
	if !ok {
		return session.Pair{}, &Error{Op: "renew", Principal: principal, Err: ErrNoEndpoint}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return session.Pair{}, &Error{Op: "renew", Principal: principal, Err: err}
	}
	if current.AccessToken != "" {
		req.Header.Set("Authorization", bearerPrefix+current.AccessToken)
	}
	req.Header.Set("RefreshToken", current.RefreshToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return session.Pair{}, &Error{Op: "renew", Principal: principal, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return session.Pair{}, &Error{Op: "renew", Principal: principal, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	log.Debug().
		Str("principal", string(principal)).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("[Identity] renewal response")

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return session.Pair{}, &Error{
			Op:        "renew",
			Principal: principal,
			Status:    resp.StatusCode,
			Rejected:  isRejection(resp.StatusCode, body),
			Err:       fmt.Errorf("refresh endpoint answered %s", describeError(resp.Status, body)),
		}
	}

	pair, err := ExtractPair(resp.Header, body)
	if err != nil {
		return session.Pair{}, &Error{Op: "renew", Principal: principal, Status: resp.StatusCode, Err: err}
	}
	return pair, nil
}

type errorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// isRejection reports whether a failed response means the refresh token is
// no longer accepted, as opposed to a failure worth retrying.
func isRejection(status int, body []byte) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		var payload errorPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return false
		}
		return payload.Error == "invalid_grant"
	default:
		return false
	}
}

func describeError(status string, body []byte) string {
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return status
	}
	for _, detail := range []string{payload.ErrorDescription, payload.Error, payload.Message} {
		if detail = strings.TrimSpace(detail); detail != "" {
			return status + ": " + detail
		}
	}
	return status
}
