package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/sessionfleet/internal/api/middleware"
	"github.com/marmos91/sessionfleet/internal/fleet"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/model"
	"github.com/marmos91/sessionfleet/internal/pairing"
	"github.com/marmos91/sessionfleet/internal/sessionstore"
)

// pairingCodePollInterval/Timeout bound how long /api/connect waits for the
// asynchronously-launched pairing flow (§4.4) to produce a code before
// responding; Start itself already applies a 2s pre-request pause.
const (
	pairingCodePollInterval = 200 * time.Millisecond
	pairingCodePollTimeout  = 10 * time.Second
)

// SessionHandler implements /api/connect, /api/disconnect, /api/status, and
// /api/connection-status/:sessionId (§6).
type SessionHandler struct {
	fleet    *fleet.Manager
	sessions *sessionstore.Store
	pairing  *pairing.Coordinator
}

func NewSessionHandler(fleet *fleet.Manager, sessions *sessionstore.Store, pairing *pairing.Coordinator) *SessionHandler {
	return &SessionHandler{fleet: fleet, sessions: sessions, pairing: pairing}
}

type connectRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

// Connect implements POST /api/connect.
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	sessionID := model.SessionID(claims.UserID)

	if h.fleet.IsConnected(sessionID) {
		badRequest(w, model.ErrAlreadyConnected.Error())
		return
	}

	if owner, err := h.sessions.GetByPhone(ctx, req.PhoneNumber); err == nil && owner.SessionID != sessionID {
		badRequest(w, model.ErrPhoneInUse.Error())
		return
	}

	source := model.TierForUserID(claims.UserID)
	if _, err := h.fleet.Create(ctx, claims.UserID, req.PhoneNumber, false, source); err != nil {
		if errors.Is(err, fleet.ErrAlreadyActive) {
			badRequest(w, model.ErrAlreadyConnected.Error())
			return
		}
		if errors.Is(err, fleet.ErrFleetFull) {
			writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "fleet at capacity")
			return
		}
		logger.ErrorCtx(ctx, "connect failed", logger.SessionID(sessionID), logger.Err(err))
		internalServerError(w, "connect failed")
		return
	}

	code := h.awaitPairingCode(ctx, sessionID)
	writeJSONOK(w, map[string]any{
		"sessionId":   sessionID,
		"code":        code,
		"phoneNumber": req.PhoneNumber,
	})
}

func (h *SessionHandler) awaitPairingCode(ctx context.Context, sessionID string) string {
	deadline := time.Now().Add(pairingCodePollTimeout)
	for time.Now().Before(deadline) {
		if st, ok := h.pairing.Active(sessionID); ok {
			return st.Code
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(pairingCodePollInterval):
		}
	}
	return ""
}

// Disconnect implements POST /api/disconnect.
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}

	sessionID := model.SessionID(claims.UserID)
	if err := h.fleet.Disconnect(r.Context(), sessionID, false); err != nil {
		if errors.Is(err, fleet.ErrNotActive) {
			badRequest(w, model.ErrNotConnected.Error())
			return
		}
		internalServerError(w, "disconnect failed")
		return
	}

	writeJSONOK(w, map[string]any{"sessionId": sessionID})
}

type statusResponse struct {
	SessionID        string                 `json:"sessionId"`
	IsConnected      bool                   `json:"isConnected"`
	PhoneNumber      string                 `json:"phoneNumber"`
	ConnectionStatus model.ConnectionStatus `json:"connectionStatus"`
}

// Status implements GET /api/status for the authenticated caller's own session.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		unauthorized(w, "authentication required")
		return
	}
	h.writeStatus(w, r, model.SessionID(claims.UserID))
}

// ConnectionStatus implements GET /api/connection-status/:sessionId.
func (h *SessionHandler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !strings.HasPrefix(sessionID, model.SessionIDPrefix) {
		badRequest(w, "sessionId must start with "+model.SessionIDPrefix)
		return
	}
	h.writeStatus(w, r, sessionID)
}

func (h *SessionHandler) writeStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			notFound(w, "session not found")
			return
		}
		internalServerError(w, "status lookup failed")
		return
	}

	writeJSONOK(w, statusResponse{
		SessionID:        sess.SessionID,
		IsConnected:      sess.IsConnected,
		PhoneNumber:      sess.PhoneNumber,
		ConnectionStatus: sess.ConnectionStatus,
	})
}
