package session

import (
	"io"
	"net/http"
)

// Transport authorizes outgoing requests as one principal. It renews ahead
// of expiry and, when the server still answers 401, renews once and replays
// the request if its body can be replayed.
type Transport struct {
	Session *Session
	// Base defaults to http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	access, err := t.Session.EnsureFresh(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req, access))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	if !t.Session.Renew(ctx) {
		return resp, nil
	}

	retry := authorize(req, t.Session.AccessToken(ctx))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return t.base().RoundTrip(retry)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func authorize(req *http.Request, access string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+access)
	return clone
}
