package notify

import (
	"sync"
)

// Frame is one outbound websocket message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Peer is the outbound queue of one connection. A writer goroutine drains
// Frames until Done is closed.
type Peer struct {
	send chan Frame
	done chan struct{}
	once sync.Once
}

func NewPeer(buffer int) *Peer {
	if buffer < 1 {
		buffer = 1
	}
	return &Peer{
		send: make(chan Frame, buffer),
		done: make(chan struct{}),
	}
}

// Send queues f without blocking. It reports false when the queue is full
// or the peer is closed.
func (p *Peer) Send(f Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- f:
		return true
	default:
		return false
	}
}

func (p *Peer) Frames() <-chan Frame {
	return p.send
}

func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
}

// Hub groups peers by match id and fans published events out to them.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Peer]struct{}
	log   Logger
}

func NewHub(log Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Peer]struct{}),
		log:   log,
	}
}

func (h *Hub) Join(matchID string, p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[matchID]
	if !ok {
		room = make(map[*Peer]struct{})
		h.rooms[matchID] = room
	}
	room[p] = struct{}{}
}

func (h *Hub) Leave(matchID string, p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(matchID, p)
}

// LeaveAll drops p from every room it joined.
func (h *Hub) LeaveAll(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for matchID := range h.rooms {
		h.leaveLocked(matchID, p)
	}
}

func (h *Hub) leaveLocked(matchID string, p *Peer) {
	room, ok := h.rooms[matchID]
	if !ok {
		return
	}
	delete(room, p)
	if len(room) == 0 {
		delete(h.rooms, matchID)
	}
}

// Observers counts the peers joined to a match.
func (h *Hub) Observers(matchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[matchID])
}

// Publish queues the event for every observer of the match. A peer whose
// queue is full is closed and removed; the others are unaffected.
func (h *Hub) Publish(matchID string, event string, payload any) {
	frame := Frame{Type: event, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[matchID]
	for p := range room {
		if p.Send(frame) {
			continue
		}
		p.Close()
		h.leaveLocked(matchID, p)
		if h.log != nil {
			h.log.Warn("dropped slow observer", "match_id", matchID, "event", event)
		}
	}
	if h.log != nil && len(room) > 0 {
		h.log.Debug("event published", "match_id", matchID, "event", event, "observers", len(room))
	}
}
