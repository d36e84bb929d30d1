package game

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/marekcieslar/dart/internal/database"
)

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

type published struct {
	matchID string
	event   string
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(matchID string, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{matchID: matchID, event: event, payload: payload})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.event)
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

func newSQLiteStore(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "darts.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.MigrateSQLite(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLiteRepository(db)
}

func newTestService(t *testing.T) (*Service, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	return NewService(newSQLiteStore(t), n, nopLogger{}), n
}

func newMatch(t *testing.T, svc *Service, typ Type, bestOf int, players ...string) string {
	t.Helper()
	created, err := svc.CreateMatch(context.Background(), CreateMatchRequest{Type: typ, BestOf: bestOf, Players: players})
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return created.MatchID
}

type throwSpec struct {
	score      *int
	multiplier int
}

func hit(score, multiplier int) throwSpec {
	return throwSpec{score: &score, multiplier: multiplier}
}

var (
	miss = throwSpec{multiplier: 1}
	t20  = hit(20, 3)
	s1   = hit(1, 1)
)

func play(t *testing.T, svc *Service, matchID string, throws ...throwSpec) (State, Outcome) {
	t.Helper()
	var (
		st  State
		out Outcome
	)
	for i, th := range throws {
		var err error
		st, out, err = svc.RecordDart(context.Background(), matchID, th.score, th.multiplier)
		if err != nil {
			t.Fatalf("dart %d: %v", i+1, err)
		}
	}
	return st, out
}

func currentState(t *testing.T, svc *Service, matchID string) State {
	t.Helper()
	st, err := svc.State(context.Background(), matchID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return st
}

func legEntries(t *testing.T, svc *Service, matchID string) []HistoryEntry {
	t.Helper()
	entries, err := svc.History(context.Background(), matchID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return entries
}

// bringFirstTo40 plays a two-player 501 leg until the first player has 40
// left and is about to throw.
func bringFirstTo40(t *testing.T, svc *Service, matchID string) {
	t.Helper()
	play(t, svc, matchID, t20, t20, t20)
	play(t, svc, matchID, miss, miss, miss)
	play(t, svc, matchID, t20, t20, t20)
	play(t, svc, matchID, miss, miss, miss)
	play(t, svc, matchID, t20, hit(13, 3), hit(2, 1))
	play(t, svc, matchID, miss, miss, miss)

	st := currentState(t, svc, matchID)
	if st.CurrentPlayer != 0 || st.Players[0].CurrentScore != 40 {
		t.Fatalf("setup: player %d to throw, first player has %d", st.CurrentPlayer, st.Players[0].CurrentScore)
	}
}

// bringFirstTo10 plays a two-player 301 leg until the first player has 10
// left and is about to throw.
func bringFirstTo10(t *testing.T, svc *Service, matchID string) {
	t.Helper()
	play(t, svc, matchID, t20, t20, t20)
	play(t, svc, matchID, miss, miss, miss)
	play(t, svc, matchID, t20, hit(17, 3), miss)
	play(t, svc, matchID, miss, miss, miss)

	st := currentState(t, svc, matchID)
	if st.CurrentPlayer != 0 || st.Players[0].CurrentScore != 10 {
		t.Fatalf("setup: player %d to throw, first player has %d", st.CurrentPlayer, st.Players[0].CurrentScore)
	}
}

// winLeg301 lets winner take the current 301 leg in two visits while every
// other player misses.
func winLeg301(t *testing.T, svc *Service, matchID string, winner int) Outcome {
	t.Helper()
	for i := 0; i < 32; i++ {
		st := currentState(t, svc, matchID)
		switch {
		case st.CurrentPlayer != winner:
			play(t, svc, matchID, miss, miss, miss)
		case st.Players[winner].CurrentScore == int(Type301):
			play(t, svc, matchID, t20, t20, t20)
		default:
			_, out := play(t, svc, matchID, t20, t20, s1)
			return out
		}
	}
	t.Fatal("leg did not finish")
	return Outcome{}
}
