package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marekcieslar/dart/internal/auth"
	"github.com/marekcieslar/dart/internal/game"
)

type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type RouterConfig struct {
	Games       *game.Handler
	Admin       *auth.Handler
	Socket      http.Handler
	Log         Logger
	FrontendURL string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.FrontendURL))

	r.Get("/health", health)
	if cfg.Socket != nil {
		r.Handle("/ws", cfg.Socket)
	}

	gh := cfg.Games
	r.Route("/api", func(api chi.Router) {
		api.Post("/games", gh.CreateGame)                        // POST /api/games
		api.Get("/games", gh.ListGames)                          // GET /api/games?status=&page=&limit=
		api.Get("/games/{id}", gh.GetGame)                       // GET /api/games/:id
		api.Get("/games/{id}/history", gh.GetHistory)            // GET /api/games/:id/history
		api.Get("/games/{id}/scoresheet.xlsx", gh.GetScoresheet) // GET /api/games/:id/scoresheet.xlsx
		api.Post("/games/{id}/darts", gh.PostDart)               // POST /api/games/:id/darts
		api.Post("/games/{id}/undo", gh.UndoDart)                // POST /api/games/:id/undo
		api.Post("/games/{id}/end", gh.EndGame)                  // POST /api/games/:id/end
		api.Get("/games/{id}/verify-admin", gh.VerifyAdmin)      // GET /api/games/:id/verify-admin?token=

		ah := cfg.Admin
		api.Post("/admin/games/{id}/admin-token", ah.IssueToken)    // POST /api/admin/games/:id/admin-token
		api.Delete("/admin/games/{id}/admin-token", ah.RevokeToken) // DELETE /api/admin/games/:id/admin-token
		api.Get("/admin/games/{id}/admin-tokens", ah.ListTokens)    // GET /api/admin/games/:id/admin-tokens
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		game.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	game.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func accessLog(log Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if log == nil {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
					"remote", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// cors lets the scoreboard frontend call the API from its own origin.
func cors(frontendURL string) func(http.Handler) http.Handler {
	origin := strings.TrimRight(frontendURL, "/")
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if origin != "*" {
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
