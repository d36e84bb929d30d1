package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marekcieslar/dart/internal/game"
)

type Handler struct {
	svc         *Service
	log         game.Logger
	frontendURL string
	timeout     time.Duration
}

func NewHandler(svc *Service, log game.Logger, frontendURL string, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Handler{
		svc:         svc,
		log:         log,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		timeout:     timeout,
	}
}

type tokenRequest struct {
	AdminToken    string `json:"adminToken"`
	TokenToRevoke string `json:"tokenToRevoke"`
}

type issuedResponse struct {
	Token string `json:"token"`
	Link  string `json:"link"`
}

type tokenView struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

type listResponse struct {
	Count  int         `json:"count"`
	Tokens []tokenView `json:"tokens"`
}

// POST /api/admin/games/{id}/admin-token
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	req, err := decode(r)
	if err != nil {
		game.WriteError(w, h.log, err)
		return
	}

	issued, err := h.svc.Issue(ctx, id, game.RequestToken(r, req.AdminToken))
	if err != nil {
		game.WriteError(w, h.log, err)
		return
	}
	game.WriteJSON(w, http.StatusOK, issuedResponse{
		Token: issued.Token,
		Link:  game.AdminLink(h.frontendURL, id, issued.Token),
	})
}

// DELETE /api/admin/games/{id}/admin-token
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	req, err := decode(r)
	if err != nil {
		game.WriteError(w, h.log, err)
		return
	}

	if err := h.svc.Revoke(ctx, id, game.RequestToken(r, req.AdminToken), req.TokenToRevoke); err != nil {
		game.WriteError(w, h.log, err)
		return
	}
	game.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GET /api/admin/games/{id}/admin-tokens
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tokens, err := h.svc.List(ctx, chi.URLParam(r, "id"), game.RequestToken(r, ""))
	if err != nil {
		game.WriteError(w, h.log, err)
		return
	}

	resp := listResponse{Count: len(tokens), Tokens: make([]tokenView, 0, len(tokens))}
	for _, t := range tokens {
		resp.Tokens = append(resp.Tokens, tokenView{Token: t.Token, CreatedAt: t.CreatedAt})
	}
	game.WriteJSON(w, http.StatusOK, resp)
}

func decode(r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return tokenRequest{}, &game.ValidationError{Reason: "invalid JSON body"}
	}
	return req, nil
}
