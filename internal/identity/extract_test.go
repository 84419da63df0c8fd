package identity_test

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taeu.kr/sessionkeeper/internal/identity"
	"taeu.kr/sessionkeeper/internal/session"
)

func TestExtractPair(t *testing.T) {
	testCases := []struct {
		name    string
		header  http.Header
		body    string
		want    session.Pair
		wantErr bool
	}{
		{
			name: "top level body",
			body: `{"accessToken":"a","refreshToken":"r"}`,
			want: session.Pair{AccessToken: "a", RefreshToken: "r"},
		},
		{
			name: "body preferred over nested data",
			body: `{"accessToken":"a","data":{"accessToken":"nested"}}`,
			want: session.Pair{AccessToken: "a"},
		},
		{
			name:   "lower-case bearer prefix",
			header: http.Header{"Authorization": []string{"bearer a"}},
			want:   session.Pair{AccessToken: "a"},
		},
		{
			name:   "refresh header alone is not enough",
			header: http.Header{"Refreshtoken": []string{"r"}},
			body:   `{"data":{"accessToken":"a","refreshToken":"nested-r"}}`,
			want:   session.Pair{AccessToken: "a", RefreshToken: "nested-r"},
		},
		{
			name:    "non json body",
			body:    "<html>oops</html>",
			wantErr: true,
		},
		{
			name:    "empty",
			wantErr: true,
		},
		{
			name:    "wrong types",
			body:    `{"accessToken":42,"data":"x"}`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := tc.header
			if header == nil {
				header = http.Header{}
			}
			got, err := identity.ExtractPair(header, []byte(tc.body))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestExtractPair_LogsUndecodableBody(t *testing.T) {
	var buf bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = saved })

	_, err := identity.ExtractPair(http.Header{}, []byte("<html>bad gateway</html>"))
	if !errors.Is(err, identity.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if !strings.Contains(buf.String(), "not a JSON object") {
		t.Fatalf("expected decode failure logged, got %q", buf.String())
	}
}
