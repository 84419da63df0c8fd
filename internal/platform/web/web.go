package web

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error는 웹 계층의 커스텀 에러 타입을 정의
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Handler는 에러를 반환하는 웹 계층의 커스텀 핸들러 타입을 정의
type Handler func(w http.ResponseWriter, r *http.Request) *Error

func (fn Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		log.Error().
			Err(err.Err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", err.Code).
			Msg(err.Message)

		WriteJSON(w, err.Code, map[string]string{"error": err.Message})
	}
}

// WriteJSON은 status와 함께 v를 JSON으로 응답
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("[Web] failed to encode response")
	}
}
