package status

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"taeu.kr/sessionkeeper/internal/platform/web"
	"taeu.kr/sessionkeeper/internal/session"
)

type StorageStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type RememberStatus struct {
	Value bool `json:"value"`
	Set   bool `json:"set"`
}

type StatusResponse struct {
	Instance string           `json:"instance"`
	Storage  StorageStatus    `json:"storage"`
	Remember RememberStatus   `json:"remember"`
	Sessions []session.Status `json:"sessions"`
}

type RenewResponse struct {
	Principal session.Principal `json:"principal"`
	Renewed   bool              `json:"renewed"`
}

// Handler exposes session state of this instance over HTTP.
type Handler struct {
	db      *sql.DB
	manager *session.Manager
}

func NewHandler(db *sql.DB, manager *session.Manager) *Handler {
	return &Handler{
		db:      db,
		manager: manager,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/status", web.Handler(h.handleStatus))
	mux.Handle("POST /api/sessions/{principal}/renew", web.Handler(h.handleRenew))
	mux.Handle("POST /api/sessions/{principal}/logout", web.Handler(h.handleLogout))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) *web.Error {
	ctx := r.Context()

	remember, set, err := h.manager.Remember(ctx)
	if err != nil {
		return &web.Error{Err: err, Code: http.StatusInternalServerError, Message: "Failed to read remember flag"}
	}

	resp := StatusResponse{
		Instance: h.manager.Broadcaster().InstanceID(),
		Storage:  h.checkStorage(ctx),
		Remember: RememberStatus{Value: remember, Set: set},
	}
	for _, p := range session.Principals {
		s, _ := h.manager.Session(p)
		resp.Sessions = append(resp.Sessions, s.Status(ctx))
	}

	web.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) *web.Error {
	s, webErr := h.session(r)
	if webErr != nil {
		return webErr
	}

	web.WriteJSON(w, http.StatusOK, RenewResponse{
		Principal: s.Principal(),
		Renewed:   s.Renew(r.Context()),
	})
	return nil
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) *web.Error {
	s, webErr := h.session(r)
	if webErr != nil {
		return webErr
	}

	if err := s.Logout(r.Context()); err != nil {
		return &web.Error{Err: err, Code: http.StatusInternalServerError, Message: "Failed to log out"}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) session(r *http.Request) (*session.Session, *web.Error) {
	p := session.Principal(r.PathValue("principal"))
	s, err := h.manager.Session(p)
	if errors.Is(err, session.ErrUnknownPrincipal) {
		return nil, &web.Error{Err: err, Code: http.StatusNotFound, Message: "Unknown principal"}
	}
	if err != nil {
		return nil, &web.Error{Err: err, Code: http.StatusInternalServerError, Message: "Failed to resolve session"}
	}
	return s, nil
}

func (h *Handler) checkStorage(ctx context.Context) StorageStatus {
	if h.db == nil {
		return StorageStatus{Status: "unknown"}
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StorageStatus{Status: "unhealthy", Message: err.Error()}
	}
	return StorageStatus{Status: "healthy"}
}
