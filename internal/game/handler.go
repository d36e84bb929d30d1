package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc         *Service
	auth        Authorizer
	log         Logger
	frontendURL string
	timeout     time.Duration
}

func NewHandler(svc *Service, auth Authorizer, log Logger, frontendURL string, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Handler{
		svc:         svc,
		auth:        auth,
		log:         log,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		timeout:     timeout,
	}
}

type createResponse struct {
	GameID     string `json:"gameId"`
	AdminToken string `json:"adminToken"`
	ViewLink   string `json:"viewLink"`
	AdminLink  string `json:"adminLink"`
}

type tokenBody struct {
	AdminToken string `json:"adminToken"`
}

type endResponse struct {
	Success     bool           `json:"success"`
	FinalScores map[string]int `json:"finalScores"`
}

// POST /api/games
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, h.log, invalid("invalid JSON body"))
		return
	}

	created, err := h.svc.CreateMatch(ctx, req)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	WriteJSON(w, http.StatusCreated, createResponse{
		GameID:     created.MatchID,
		AdminToken: created.AdminToken,
		ViewLink:   ViewLink(h.frontendURL, created.MatchID),
		AdminLink:  AdminLink(h.frontendURL, created.MatchID, created.AdminToken),
	})
}

// GET /api/games
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	var err error
	if filter.Page, err = queryInt(q.Get("page")); err != nil {
		WriteError(w, h.log, invalid("page must be a number"))
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		WriteError(w, h.log, invalid("limit must be a number"))
		return
	}

	page, err := h.svc.ListMatches(ctx, filter)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// GET /api/games/{id}
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	state, err := h.svc.State(ctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// GET /api/games/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entries, err := h.svc.History(ctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

// GET /api/games/{id}/scoresheet.xlsx
func (h *Handler) GetScoresheet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	data, err := h.svc.Scoresheet(ctx, id)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="darts-%s.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// POST /api/games/{id}/darts
func (h *Handler) PostDart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	var req ThrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, h.log, invalid("invalid JSON body"))
		return
	}
	if err := h.authorize(ctx, id, RequestToken(r, req.AdminToken)); err != nil {
		WriteError(w, h.log, err)
		return
	}

	state, _, err := h.svc.RecordDart(ctx, id, req.Score, req.Multiplier)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// POST /api/games/{id}/undo
func (h *Handler) UndoDart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	body, err := decodeTokenBody(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.authorize(ctx, id, RequestToken(r, body.AdminToken)); err != nil {
		WriteError(w, h.log, err)
		return
	}

	state, err := h.svc.UndoLastDart(ctx, id)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// POST /api/games/{id}/end
func (h *Handler) EndGame(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	body, err := decodeTokenBody(r)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	if err := h.authorize(ctx, id, RequestToken(r, body.AdminToken)); err != nil {
		WriteError(w, h.log, err)
		return
	}

	state, err := h.svc.EndMatch(ctx, id)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, endResponse{Success: true, FinalScores: LegsWonByName(state)})
}

// GET /api/games/{id}/verify-admin?token=
func (h *Handler) VerifyAdmin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	access, err := h.auth.Verify(ctx, chi.URLParam(r, "id"), RequestToken(r, ""))
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	WriteJSON(w, http.StatusOK, access)
}

func (h *Handler) authorize(ctx context.Context, matchID, token string) error {
	access, err := h.auth.Verify(ctx, matchID, token)
	if err != nil {
		return err
	}
	if !access.Valid {
		return ErrUnauthorized
	}
	return nil
}

func decodeTokenBody(r *http.Request) (tokenBody, error) {
	var body tokenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return tokenBody{}, invalid("invalid JSON body")
	}
	return body, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// RequestToken picks the admin token from the decoded body, the token query
// parameter or a bearer Authorization header, in that order.
func RequestToken(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func ViewLink(frontendURL, matchID string) string {
	return fmt.Sprintf("%s/game.html?id=%s", frontendURL, matchID)
}

func AdminLink(frontendURL, matchID, token string) string {
	return fmt.Sprintf("%s/game.html?id=%s&admin=%s", frontendURL, matchID, token)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var (
		ve *ValidationError
		ae *AccessError
		se *StateError
		ce *ConsistencyError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusForbidden
	case errors.As(err, &se):
		if se.NotFound {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case errors.As(err, &ce):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes {"error": ...}. Server-side failures are logged and
// their detail is not sent to the client.
func WriteError(w http.ResponseWriter, log Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", "status", status, "error", err.Error())
		}
		msg = http.StatusText(status)
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}

// Helper to write JSON responses.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
