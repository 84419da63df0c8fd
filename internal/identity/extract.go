package identity

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/session"
)

const bearerPrefix = "Bearer "

// source reads a pair from one place a provider may put it.
type source func(header http.Header, body map[string]any) session.Pair

var sources = []source{
	fromHeaders,
	fromBody,
	fromNestedBody,
}

// ExtractPair pulls a renewed pair out of a response. Headers are consulted
// first, then the JSON body, then a body nested under "data". The first
// source yielding an access token wins; its refresh token is used if present.
func ExtractPair(header http.Header, body []byte) (session.Pair, error) {
	var decoded map[string]any
	if len(strings.TrimSpace(string(body))) > 0 {
		// A non-JSON body simply contributes nothing.
		if err := json.Unmarshal(body, &decoded); err != nil {
			log.Debug().Err(err).Int("bytes", len(body)).Msg("[Identity] response body is not a JSON object")
		}
	}

	for _, src := range sources {
		if pair := src(header, decoded); pair.AccessToken != "" {
			return pair, nil
		}
	}
	return session.Pair{}, ErrMalformedResponse
}

func fromHeaders(header http.Header, _ map[string]any) session.Pair {
	access := strings.TrimSpace(header.Get("Authorization"))
	if len(access) >= len(bearerPrefix) && strings.EqualFold(access[:len(bearerPrefix)], bearerPrefix) {
		access = strings.TrimSpace(access[len(bearerPrefix):])
	}

	refresh := strings.TrimSpace(header.Get("RefreshToken"))
	if refresh == "" {
		refresh = strings.TrimSpace(header.Get("Refresh-Token"))
	}
	return session.Pair{AccessToken: access, RefreshToken: refresh}
}

func fromBody(_ http.Header, body map[string]any) session.Pair {
	return pairFromMap(body)
}

func fromNestedBody(_ http.Header, body map[string]any) session.Pair {
	nested, _ := body["data"].(map[string]any)
	return pairFromMap(nested)
}

func pairFromMap(values map[string]any) session.Pair {
	if values == nil {
		return session.Pair{}
	}
	return session.Pair{
		AccessToken:  readString(values["accessToken"]),
		RefreshToken: readString(values["refreshToken"]),
	}
}

func readString(value any) string {
	s, _ := value.(string)
	return strings.TrimSpace(s)
}
