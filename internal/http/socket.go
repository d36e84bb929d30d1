package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/marekcieslar/dart/internal/game"
	"github.com/marekcieslar/dart/internal/notify"
)

const (
	frameJoin    = "join:game"
	frameLeave   = "leave:game"
	frameAddDart = "game:add-dart"
	frameUndo    = "game:undo-dart"

	peerBuffer     = 32
	maxFrameBytes  = 4096
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 25 * time.Second
	bustNoticeText = "Bust! Turn cancelled."
)

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type framePayload struct {
	GameID     string `json:"gameId"`
	AdminToken string `json:"adminToken"`
	Score      *int   `json:"score"`
	Multiplier int    `json:"multiplier"`
}

type errorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type SocketConfig struct {
	Games           *game.Service
	Auth            game.Authorizer
	Hub             *notify.Hub
	Log             Logger
	FrontendURL     string
	FramesPerSecond float64
	Timeout         time.Duration
}

// SocketHandler serves /ws. Each connection joins match rooms on the hub
// and may send admin actions; events come back through the hub.
type SocketHandler struct {
	cfg      SocketConfig
	upgrader websocket.Upgrader
}

func NewSocketHandler(cfg SocketConfig) *SocketHandler {
	if cfg.FramesPerSecond <= 0 {
		cfg.FramesPerSecond = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	allowed := strings.TrimRight(cfg.FrontendURL, "/")
	return &SocketHandler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed == "" || allowed == "*" || origin == allowed
			},
		},
	}
}

func (s *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	peer := notify.NewPeer(peerBuffer)
	go s.writeLoop(conn, peer)
	defer func() {
		s.cfg.Hub.LeaveAll(peer)
		peer.Close()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.FramesPerSecond), int(s.cfg.FramesPerSecond)+1)
	for {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.cfg.Log.Debug("websocket closed", "error", err.Error())
			}
			return
		}
		if !limiter.Allow() {
			sendError(peer, "too many messages", "")
			continue
		}
		s.handle(r.Context(), peer, in)
	}
}

func (s *SocketHandler) handle(parent context.Context, peer *notify.Peer, in inboundFrame) {
	var p framePayload
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			sendError(peer, "invalid payload", "")
			return
		}
	}
	if p.GameID == "" {
		sendError(peer, "Game ID is required", "")
		return
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	switch in.Type {
	case frameJoin:
		s.join(ctx, peer, p)
	case frameLeave:
		s.cfg.Hub.Leave(p.GameID, peer)
		s.cfg.Log.Debug("observer left", "match_id", p.GameID)
	case frameAddDart:
		if !s.authorized(ctx, peer, p) {
			return
		}
		_, outcome, err := s.cfg.Games.RecordDart(ctx, p.GameID, p.Score, p.Multiplier)
		if err != nil {
			s.fail(peer, err)
			return
		}
		if outcome.Kind == game.OutcomeBust {
			sendError(peer, bustNoticeText, "bust")
		}
	case frameUndo:
		if !s.authorized(ctx, peer, p) {
			return
		}
		if _, err := s.cfg.Games.UndoLastDart(ctx, p.GameID); err != nil {
			s.fail(peer, err)
		}
	default:
		sendError(peer, "unknown message type", "")
	}
}

// join subscribes the peer and sends it the current snapshot. Viewers join
// without a token; admin frames are checked one by one.
func (s *SocketHandler) join(ctx context.Context, peer *notify.Peer, p framePayload) {
	st, err := s.cfg.Games.State(ctx, p.GameID)
	if err != nil {
		s.fail(peer, err)
		return
	}
	s.cfg.Hub.Join(p.GameID, peer)
	peer.Send(notify.Frame{Type: game.EventUpdate, Payload: st})
	s.cfg.Log.Debug("observer joined", "match_id", p.GameID)
}

func (s *SocketHandler) authorized(ctx context.Context, peer *notify.Peer, p framePayload) bool {
	access, err := s.cfg.Auth.Verify(ctx, p.GameID, p.AdminToken)
	if err != nil {
		s.fail(peer, err)
		return false
	}
	if !access.Valid {
		sendError(peer, "Invalid admin token", "")
		return false
	}
	return true
}

func (s *SocketHandler) fail(peer *notify.Peer, err error) {
	msg := err.Error()
	if game.StatusFor(err) >= http.StatusInternalServerError {
		s.cfg.Log.Error("websocket action failed", "error", err.Error())
		msg = "internal error"
	}
	sendError(peer, msg, "")
}

func sendError(peer *notify.Peer, msg, kind string) {
	peer.Send(notify.Frame{Type: game.EventError, Payload: errorPayload{Message: msg, Type: kind}})
}

// writeLoop is the only writer of conn.
func (s *SocketHandler) writeLoop(conn *websocket.Conn, peer *notify.Peer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case f := <-peer.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				peer.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				peer.Close()
				return
			}
		case <-peer.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
