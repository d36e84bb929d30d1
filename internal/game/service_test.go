package game

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/marekcieslar/dart/internal/darts"
)

func TestCreateMatchValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		req  CreateMatchRequest
	}{
		{name: "unknown type", req: CreateMatchRequest{Type: 401, BestOf: 3, Players: []string{"a", "b"}}},
		{name: "even best of", req: CreateMatchRequest{Type: Type501, BestOf: 4, Players: []string{"a", "b"}}},
		{name: "one player", req: CreateMatchRequest{Type: Type501, BestOf: 3, Players: []string{"a"}}},
		{name: "nine players", req: CreateMatchRequest{Type: Type501, BestOf: 3, Players: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}}},
		{name: "blank name", req: CreateMatchRequest{Type: Type501, BestOf: 3, Players: []string{"a", "   "}}},
		{name: "long name", req: CreateMatchRequest{Type: Type501, BestOf: 3, Players: []string{"a", strings.Repeat("x", 51)}}},
		{name: "duplicate name", req: CreateMatchRequest{Type: Type501, BestOf: 3, Players: []string{"Anna", " anna"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateMatch(context.Background(), tt.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("got %v, want validation error", err)
			}
		})
	}
}

func TestCreateMatchStartsLegOne(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.CreateMatch(context.Background(), CreateMatchRequest{
		Type: Type501, BestOf: 3, Players: []string{" Anna ", "Ben"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.AdminToken == "" {
		t.Fatal("no admin token issued")
	}

	st := currentState(t, svc, created.MatchID)
	if st.Status != StatusActive || st.CurrentLeg != 1 || st.CurrentPlayer != 0 || st.TurnNumber != 1 {
		t.Fatalf("unexpected initial state: %+v", st)
	}
	if len(st.Players) != 2 || st.Players[0].Name != "Anna" || st.Players[1].Order != 1 {
		t.Fatalf("unexpected players: %+v", st.Players)
	}
	for _, p := range st.Players {
		if p.CurrentScore != 501 || p.LegsWon != 0 {
			t.Fatalf("player %s starts at %d with %d legs", p.Name, p.CurrentScore, p.LegsWon)
		}
	}
}

func TestMaximumVisit(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")

	st, out := play(t, svc, id, t20, t20, t20)

	if out.Kind != OutcomeNone {
		t.Fatalf("outcome = %s", out.Kind)
	}
	if st.Players[0].CurrentScore != 321 {
		t.Fatalf("remaining = %d, want 321", st.Players[0].CurrentScore)
	}
	if st.CurrentPlayer != 1 || len(st.CurrentTurn) != 0 || st.TurnNumber != 2 {
		t.Fatalf("turn did not rotate: %+v", st)
	}

	entries := legEntries(t, svc, id)
	if len(entries) != 1 {
		t.Fatalf("history has %d turns", len(entries))
	}
	e := entries[0]
	if e.TotalScore == nil || *e.TotalScore != 180 || e.IsBust || e.RemainingBefore != 501 || e.RemainingAfter != 321 {
		t.Fatalf("unexpected turn: %+v", e)
	}
	if len(e.Darts) != 3 || e.Darts[0].Label != "T20" {
		t.Fatalf("unexpected darts: %+v", e.Darts)
	}
}

func TestRemainingAfterIsBeforeMinusTotal(t *testing.T) {
	tests := []struct {
		name   string
		throws []throwSpec
		total  int
	}{
		{name: "singles", throws: []throwSpec{hit(1, 1), hit(2, 1), hit(3, 1)}, total: 6},
		{name: "mixed", throws: []throwSpec{hit(19, 3), hit(25, 1), hit(25, 2)}, total: 132},
		{name: "misses", throws: []throwSpec{miss, hit(20, 2), miss}, total: 40},
		{name: "zero segment", throws: []throwSpec{hit(0, 1), hit(0, 3), hit(5, 2)}, total: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
			play(t, svc, id, tt.throws...)

			e := legEntries(t, svc, id)[0]
			if e.TotalScore == nil || *e.TotalScore != tt.total {
				t.Fatalf("total = %v, want %d", e.TotalScore, tt.total)
			}
			if e.RemainingAfter != e.RemainingBefore-tt.total {
				t.Fatalf("remaining %d -> %d for total %d", e.RemainingBefore, e.RemainingAfter, tt.total)
			}
		})
	}
}

func TestDoubleFinishWinsLeg(t *testing.T) {
	svc, n := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	bringFirstTo40(t, svc, id)
	n.reset()

	st, out := play(t, svc, id, hit(20, 2))

	if out.Kind != OutcomeLegFinished || out.Winner == nil || out.Winner.Name != "Anna" || out.LegNumber != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if st.Players[0].LegsWon != 1 || st.CurrentLeg != 2 || st.Status != StatusActive {
		t.Fatalf("unexpected state: %+v", st)
	}
	for _, p := range st.Players {
		if p.CurrentScore != 501 {
			t.Fatalf("%s starts leg 2 at %d", p.Name, p.CurrentScore)
		}
	}
	if got := n.names(); len(got) != 2 || got[0] != EventLegFinished || got[1] != EventUpdate {
		t.Fatalf("events = %v", got)
	}
}

func TestSingleFinishIn501IsBust(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	bringFirstTo40(t, svc, id)

	_, out := play(t, svc, id, hit(20, 1))
	if out.Kind != OutcomeNone {
		t.Fatalf("first dart outcome = %s", out.Kind)
	}
	st, out := play(t, svc, id, hit(20, 1))
	if out.Kind != OutcomeBust {
		t.Fatalf("outcome = %s, want bust", out.Kind)
	}

	if st.Players[0].CurrentScore != 40 || st.Players[0].LegsWon != 0 || st.CurrentLeg != 1 {
		t.Fatalf("bust changed the leg: %+v", st)
	}
	if st.CurrentPlayer != 1 {
		t.Fatalf("bust did not close the turn, player %d to throw", st.CurrentPlayer)
	}

	entries := legEntries(t, svc, id)
	last := entries[len(entries)-1]
	if !last.IsBust || last.TotalScore == nil || *last.TotalScore != 0 || last.RemainingAfter != 40 || len(last.Darts) != 2 {
		t.Fatalf("unexpected bust turn: %+v", last)
	}
}

func TestOvershootIsBustInAnySlot(t *testing.T) {
	tests := []struct {
		name   string
		throws []throwSpec
	}{
		{name: "first dart", throws: []throwSpec{hit(15, 1)}},
		{name: "second dart", throws: []throwSpec{hit(5, 1), hit(6, 1)}},
		{name: "third dart", throws: []throwSpec{hit(1, 1), hit(1, 1), hit(9, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			id := newMatch(t, svc, Type301, 3, "Anna", "Ben")
			bringFirstTo10(t, svc, id)

			st, out := play(t, svc, id, tt.throws...)
			if out.Kind != OutcomeBust {
				t.Fatalf("outcome = %s, want bust", out.Kind)
			}
			if st.Players[0].CurrentScore != 10 || st.CurrentPlayer != 1 {
				t.Fatalf("unexpected state after bust: %+v", st)
			}

			entries := legEntries(t, svc, id)
			last := entries[len(entries)-1]
			if !last.IsBust || *last.TotalScore != 0 || last.RemainingBefore != 10 || last.RemainingAfter != 10 {
				t.Fatalf("unexpected bust turn: %+v", last)
			}
			if len(last.Darts) != len(tt.throws) {
				t.Fatalf("bust turn has %d darts, want %d", len(last.Darts), len(tt.throws))
			}
		})
	}
}

func TestAnyFinishWinsIn301(t *testing.T) {
	for _, mult := range []int{1, 2} {
		svc, _ := newTestService(t)
		id := newMatch(t, svc, Type301, 3, "Anna", "Ben")
		bringFirstTo10(t, svc, id)

		throw := hit(10, 1)
		if mult == 2 {
			throw = hit(5, 2)
		}
		st, out := play(t, svc, id, throw)
		if out.Kind != OutcomeLegFinished {
			t.Fatalf("multiplier %d: outcome = %s", mult, out.Kind)
		}
		if st.Players[0].LegsWon != 1 {
			t.Fatalf("multiplier %d: legs won = %d", mult, st.Players[0].LegsWon)
		}
	}
}

func TestAverageSkipsBustTurns(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")

	play(t, svc, id, hit(20, 1), miss, hit(5, 1))
	play(t, svc, id, miss, miss, miss)
	st, _ := play(t, svc, id, t20, t20, t20)

	if st.Players[0].AvgThisLeg != 34.17 || st.Players[0].AvgTotal != 34.17 {
		t.Fatalf("averages = %v / %v, want 34.17", st.Players[0].AvgThisLeg, st.Players[0].AvgTotal)
	}
	if st.Players[1].AvgThisLeg != 0 {
		t.Fatalf("all-miss average = %v", st.Players[1].AvgThisLeg)
	}

	svc, _ = newTestService(t)
	id = newMatch(t, svc, Type301, 3, "Anna", "Ben")
	bringFirstTo10(t, svc, id)
	before := currentState(t, svc, id).Players[0].AvgThisLeg
	st, _ = play(t, svc, id, hit(5, 1), hit(20, 1))
	if st.Players[0].AvgThisLeg != before {
		t.Fatalf("bust turn moved average from %v to %v", before, st.Players[0].AvgThisLeg)
	}
}

func TestUndoFirstDartDeletesTurn(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	play(t, svc, id, t20, t20, t20)
	st, _ := play(t, svc, id, hit(20, 1))
	if st.CurrentPlayer != 1 || len(st.CurrentTurn) != 1 {
		t.Fatalf("setup: %+v", st)
	}

	st, err := svc.UndoLastDart(context.Background(), id)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if st.CurrentPlayer != 1 || len(st.CurrentTurn) != 0 || st.TurnNumber != 2 || st.Players[1].CurrentScore != 501 {
		t.Fatalf("unexpected state after undo: %+v", st)
	}
	if n := len(legEntries(t, svc, id)); n != 1 {
		t.Fatalf("history has %d turns, want 1", n)
	}

	st, err = svc.UndoLastDart(context.Background(), id)
	if err != nil {
		t.Fatalf("second undo: %v", err)
	}
	if st.CurrentPlayer != 0 || len(st.CurrentTurn) != 2 || st.Players[0].CurrentScore != 381 {
		t.Fatalf("undo did not reopen the previous turn: %+v", st)
	}
	entries := legEntries(t, svc, id)
	if entries[0].TotalScore != nil || entries[0].IsBust {
		t.Fatalf("reopened turn still closed: %+v", entries[0])
	}
}

func TestUndoBustReopensTurn(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	bringFirstTo40(t, svc, id)
	play(t, svc, id, hit(20, 1), hit(20, 1))

	st, err := svc.UndoLastDart(context.Background(), id)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if st.CurrentPlayer != 0 || len(st.CurrentTurn) != 1 || st.Players[0].CurrentScore != 20 {
		t.Fatalf("unexpected state after undoing bust: %+v", st)
	}

	st, out := play(t, svc, id, hit(10, 2))
	if out.Kind != OutcomeLegFinished || st.Players[0].LegsWon != 1 {
		t.Fatalf("finish after undo: %s %+v", out.Kind, st)
	}
}

func TestUndoLegFinishReopensLeg(t *testing.T) {
	store := newSQLiteStore(t)
	svc := NewService(store, &recordingNotifier{}, nopLogger{})
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	bringFirstTo40(t, svc, id)
	play(t, svc, id, hit(20, 2))

	st, err := svc.UndoLastDart(context.Background(), id)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if st.CurrentLeg != 1 || st.Players[0].LegsWon != 0 || st.Players[0].CurrentScore != 40 || st.CurrentPlayer != 0 {
		t.Fatalf("leg not reopened: %+v", st)
	}

	err = store.View(context.Background(), func(tx Tx) error {
		legs, err := tx.ListLegs(context.Background(), id)
		if err != nil {
			return err
		}
		if len(legs) != 1 || legs[0].WinnerID != nil || legs[0].FinishedAt != nil {
			t.Errorf("unexpected legs: %+v", legs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	_, out := play(t, svc, id, hit(20, 2))
	if out.Kind != OutcomeLegFinished {
		t.Fatalf("refinish outcome = %s", out.Kind)
	}
}

func TestMatchFinishIsFinal(t *testing.T) {
	svc, n := newTestService(t)
	id := newMatch(t, svc, Type301, 3, "Anna", "Ben")

	if out := winLeg301(t, svc, id, 0); out.Kind != OutcomeLegFinished {
		t.Fatalf("leg 1 outcome = %s", out.Kind)
	}
	n.reset()
	if out := winLeg301(t, svc, id, 0); out.Kind != OutcomeMatchFinished {
		t.Fatalf("leg 2 outcome = %s", out.Kind)
	}

	st := currentState(t, svc, id)
	if st.Status != StatusFinished || st.Winner == nil || st.Winner.Name != "Anna" || st.FinishedAt == nil {
		t.Fatalf("unexpected final state: %+v", st)
	}
	got := n.names()
	if len(got) < 2 || got[len(got)-2] != EventGameFinished || got[len(got)-1] != EventUpdate {
		t.Fatalf("events = %v", got)
	}

	_, _, err := svc.RecordDart(context.Background(), id, nil, 1)
	if !errors.Is(err, ErrMatchNotActive) {
		t.Fatalf("dart after finish: %v", err)
	}
}

func TestUndoMatchFinishReactivates(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type301, 3, "Anna", "Ben")
	winLeg301(t, svc, id, 0)
	winLeg301(t, svc, id, 0)

	st, err := svc.UndoLastDart(context.Background(), id)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if st.Status != StatusActive || st.Winner != nil || st.FinishedAt != nil {
		t.Fatalf("match not reactivated: %+v", st)
	}
	if st.CurrentLeg != 2 || st.Players[0].LegsWon != 1 || st.Players[0].CurrentScore != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestEndMatch(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 5, "Anna", "Ben")
	play(t, svc, id, t20)

	st, err := svc.EndMatch(context.Background(), id)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if st.Status != StatusAbandoned || st.FinishedAt == nil {
		t.Fatalf("unexpected state: %+v", st)
	}

	if _, _, err := svc.RecordDart(context.Background(), id, nil, 1); !errors.Is(err, ErrMatchNotActive) {
		t.Fatalf("dart after end: %v", err)
	}
	if _, err := svc.UndoLastDart(context.Background(), id); !errors.Is(err, ErrMatchNotActive) {
		t.Fatalf("undo after end: %v", err)
	}
	if _, err := svc.EndMatch(context.Background(), id); !errors.Is(err, ErrMatchNotActive) {
		t.Fatalf("second end: %v", err)
	}
}

func TestRotationContinuesAcrossLegs(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type301, 5, "Anna", "Ben", "Cleo")

	winLeg301(t, svc, id, 0)

	// Four visits closed in leg 1, so the second player opens leg 2.
	st := currentState(t, svc, id)
	if st.CurrentLeg != 2 || st.CurrentPlayer != 1 {
		t.Fatalf("leg %d starts with player %d", st.CurrentLeg, st.CurrentPlayer)
	}

	for visit := 0; visit < 6; visit++ {
		st := currentState(t, svc, id)
		if want := (4 + visit) % 3; st.CurrentPlayer != want {
			t.Fatalf("visit %d: player %d, want %d", visit, st.CurrentPlayer, want)
		}
		play(t, svc, id, miss, miss, miss)
	}
}

func TestUndoWithoutTurns(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")

	if _, err := svc.UndoLastDart(context.Background(), id); !errors.Is(err, ErrNoTurnsToUndo) {
		t.Fatalf("got %v, want no turns to undo", err)
	}
}

func TestUnknownMatch(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.State(context.Background(), "missing"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("state: %v", err)
	}
	if _, _, err := svc.RecordDart(context.Background(), "missing", nil, 1); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("record: %v", err)
	}
}

func TestInvalidDartWritesNothing(t *testing.T) {
	svc, n := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")

	for _, th := range []throwSpec{hit(21, 1), hit(20, 4), hit(25, 3), hit(-1, 1), {multiplier: 0}} {
		_, _, err := svc.RecordDart(context.Background(), id, th.score, th.multiplier)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%+v: got %v, want validation error", th, err)
		}
	}
	if len(legEntries(t, svc, id)) != 0 || len(n.names()) != 0 {
		t.Fatal("rejected dart left a trace")
	}
}

func TestDartIntoFullTurnIsRejected(t *testing.T) {
	svc, n := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	ctx := context.Background()

	// A turn holding three darts but never closed can only come from a
	// write that bypassed the match lock.
	err := svc.store.Update(ctx, func(tx Tx) error {
		legs, err := tx.ListLegs(ctx, id)
		if err != nil {
			return err
		}
		players, err := tx.ListPlayers(ctx, id)
		if err != nil {
			return err
		}
		turn := Turn{
			LegID:           legs[0].ID,
			PlayerID:        players[0].ID,
			Number:          1,
			RemainingBefore: 501,
			RemainingAfter:  501 - 3,
			CreatedAt:       svc.now(),
		}
		for i := range turn.Darts {
			turn.Darts[i] = darts.HitDart(1, 1)
		}
		_, err = tx.InsertTurn(ctx, turn)
		return err
	})
	if err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	_, _, err = svc.RecordDart(ctx, id, nil, 1)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want consistency error", err)
	}

	entries := legEntries(t, svc, id)
	if len(entries) != 1 || entries[0].TotalScore != nil || len(entries[0].Darts) != 3 {
		t.Fatalf("history changed: %+v", entries)
	}
	if entries[0].RemainingAfter != 498 {
		t.Fatalf("remaining after = %d", entries[0].RemainingAfter)
	}
	if len(n.names()) != 0 {
		t.Fatalf("rejected dart published %v", n.names())
	}
}

func TestConcurrentDartsAreSerialized(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")

	const throws = 30
	var wg sync.WaitGroup
	errs := make(chan error, throws)
	for i := 0; i < throws; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.RecordDart(context.Background(), id, nil, 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent dart: %v", err)
	}

	entries := legEntries(t, svc, id)
	if len(entries) != throws/3 {
		t.Fatalf("history has %d turns, want %d", len(entries), throws/3)
	}
	for i, e := range entries {
		if len(e.Darts) != 3 || e.TotalScore == nil || e.TurnNumber != i+1 {
			t.Fatalf("turn %d malformed: %+v", i+1, e)
		}
		if want := entries[0].PlayerID; i%2 == 0 && e.PlayerID != want {
			t.Fatalf("turn %d thrown out of order", i+1)
		}
	}
	if st := currentState(t, svc, id); st.CurrentPlayer != 0 {
		t.Fatalf("player %d to throw, want 0", st.CurrentPlayer)
	}
	if n := svc.locks.size(); n != 0 {
		t.Fatalf("%d match locks left behind", n)
	}
}

func TestListMatches(t *testing.T) {
	svc, _ := newTestService(t)
	first := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	newMatch(t, svc, Type301, 5, "Cleo", "Dan", "Eve")
	newMatch(t, svc, Type501, 7, "Fay", "Gus")
	if _, err := svc.EndMatch(context.Background(), first); err != nil {
		t.Fatalf("end: %v", err)
	}

	page, err := svc.ListMatches(context.Background(), ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || page.Page != 1 || len(page.Games) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}

	page, err = svc.ListMatches(context.Background(), ListFilter{Status: StatusAbandoned})
	if err != nil {
		t.Fatalf("list abandoned: %v", err)
	}
	if page.Total != 1 || page.Games[0].ID != first || page.Games[0].CurrentScore != "0-0" {
		t.Fatalf("unexpected abandoned page: %+v", page)
	}
	if got := strings.Join(page.Games[0].Players, ","); got != "Anna,Ben" {
		t.Fatalf("players = %s", got)
	}

	if _, err := svc.ListMatches(context.Background(), ListFilter{Status: "paused"}); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestScoresheet(t *testing.T) {
	svc, _ := newTestService(t)
	id := newMatch(t, svc, Type301, 3, "Anna", "Ben")
	winLeg301(t, svc, id, 0)
	play(t, svc, id, t20)

	data, err := svc.Scoresheet(context.Background(), id)
	if err != nil {
		t.Fatalf("scoresheet: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if strings.Join(sheets, ",") != "Summary,Leg 1,Leg 2" {
		t.Fatalf("sheets = %v", sheets)
	}
	winner, err := f.GetCellValue("Leg 1", "B6")
	if err != nil {
		t.Fatalf("read winner: %v", err)
	}
	if winner != "Anna" {
		t.Fatalf("leg 1 winner cell = %q", winner)
	}
}
