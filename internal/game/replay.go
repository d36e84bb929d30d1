package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/marekcieslar/dart/internal/darts"
)

// history is everything persisted for one match. Whose turn it is, what
// each player has left and the open turn are always derived from it and
// never stored on their own.
type history struct {
	match   Match
	players []Player
	legs    []Leg
	turns   []Turn
}

func loadHistory(ctx context.Context, tx Tx, m Match) (*history, error) {
	players, err := tx.ListPlayers(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	legs, err := tx.ListLegs(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list legs: %w", err)
	}
	turns, err := tx.ListTurnsByMatch(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return &history{match: m, players: players, legs: legs, turns: turns}, nil
}

// loadDisplayedLeg loads players and legs but only the turns of the leg on
// display; enough for legHistory, not for state.
func loadDisplayedLeg(ctx context.Context, tx Tx, m Match) (*history, error) {
	players, err := tx.ListPlayers(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	legs, err := tx.ListLegs(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list legs: %w", err)
	}
	h := &history{match: m, players: players, legs: legs}
	leg, ok := displayLeg(legs)
	if !ok {
		return h, nil
	}
	if h.turns, err = tx.ListTurnsByLeg(ctx, leg.ID); err != nil {
		return nil, fmt.Errorf("list turns of leg %d: %w", leg.Number, err)
	}
	return h, nil
}

// currentLeg is the highest-numbered leg without a finish. A finished match
// has none.
func currentLeg(legs []Leg) (Leg, bool) {
	var cur Leg
	found := false
	for _, l := range legs {
		if l.Finished() {
			continue
		}
		if !found || l.Number > cur.Number {
			cur, found = l, true
		}
	}
	return cur, found
}

func lastLeg(legs []Leg) (Leg, bool) {
	var last Leg
	found := false
	for _, l := range legs {
		if !found || l.Number > last.Number {
			last, found = l, true
		}
	}
	return last, found
}

// displayLeg is the leg observers look at: the current one, or the last
// one once the match is over.
func displayLeg(legs []Leg) (Leg, bool) {
	if l, ok := currentLeg(legs); ok {
		return l, true
	}
	return lastLeg(legs)
}

func maxLegNumber(legs []Leg) int {
	n := 0
	for _, l := range legs {
		if l.Number > n {
			n = l.Number
		}
	}
	return n
}

func turnsInLeg(turns []Turn, legID int64) []Turn {
	out := make([]Turn, 0)
	for _, t := range turns {
		if t.LegID == legID {
			out = append(out, t)
		}
	}
	return out
}

func lastTurnIn(legTurns []Turn) (Turn, bool) {
	if len(legTurns) == 0 {
		return Turn{}, false
	}
	return legTurns[len(legTurns)-1], true
}

// currentPlayerIndex counts closed turns of the whole match, so the fixed
// rotation carries on across leg boundaries.
func currentPlayerIndex(turns []Turn, playerCount int) int {
	if playerCount == 0 {
		return 0
	}
	closed := 0
	for _, t := range turns {
		if t.Closed() {
			closed++
		}
	}
	return closed % playerCount
}

// remainingFor replays a player's non-bust turns of a leg. The latest
// remaining-after wins; with none the player still has the start score.
func remainingFor(legTurns []Turn, playerID int64, start int) int {
	score := start
	for _, t := range legTurns {
		if t.PlayerID == playerID && !t.Bust {
			score = t.RemainingAfter
		}
	}
	return score
}

// openTurn returns the in-progress turn of the player, if the most recent
// turn of the leg is one.
func openTurn(legTurns []Turn, playerID int64) (Turn, bool) {
	last, ok := lastTurnIn(legTurns)
	if !ok || last.PlayerID != playerID || last.Closed() {
		return Turn{}, false
	}
	return last, true
}

func lastTurnOf(legTurns []Turn, playerID int64) (Turn, bool) {
	for i := len(legTurns) - 1; i >= 0; i-- {
		if legTurns[i].PlayerID == playerID {
			return legTurns[i], true
		}
	}
	return Turn{}, false
}

// playerAverage is points per dart over the player's turns. Every dart of a
// bust turn is left out of both counts.
func playerAverage(turns []Turn, playerID int64) float64 {
	points, thrown := 0, 0
	for _, t := range turns {
		if t.PlayerID != playerID || t.Bust {
			continue
		}
		points += darts.TurnTotal(t.Darts)
		thrown += darts.ThrownCount(t.Darts)
	}
	return darts.Average(points, thrown)
}

func playerByID(players []Player, id int64) (Player, bool) {
	for _, p := range players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

func (h *history) winner() (Player, bool) {
	if h.match.Status != StatusFinished {
		return Player{}, false
	}
	for _, p := range h.players {
		if darts.HasWonMatch(p.LegsWon, h.match.BestOf) {
			return p, true
		}
	}
	return Player{}, false
}

// state builds the snapshot sent to observers.
func (h *history) state() (State, error) {
	m := h.match
	st := State{
		ID:          m.ID,
		Type:        m.Type,
		BestOf:      m.BestOf,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		FinishedAt:  m.FinishedAt,
		Players:     make([]PlayerState, 0, len(h.players)),
		CurrentTurn: []DartView{},
	}
	leg, ok := displayLeg(h.legs)
	if !ok {
		return State{}, ErrLegNotFound
	}
	legTurns := turnsInLeg(h.turns, leg.ID)

	st.CurrentLeg = leg.Number
	st.CurrentPlayer = currentPlayerIndex(h.turns, len(h.players))
	st.TurnNumber = len(legTurns) + 1

	for _, p := range h.players {
		ps := PlayerState{
			ID:             p.ID,
			Name:           p.Name,
			Order:          p.Order,
			LegsWon:        p.LegsWon,
			CurrentScore:   remainingFor(legTurns, p.ID, m.Type.StartingScore()),
			AvgThisLeg:     playerAverage(legTurns, p.ID),
			AvgTotal:       playerAverage(h.turns, p.ID),
			LastThreeDarts: []DartView{},
		}
		if last, ok := lastTurnOf(legTurns, p.ID); ok {
			ps.LastThreeDarts = dartViews(last.Darts)
		}
		st.Players = append(st.Players, ps)
	}

	if len(h.players) > 0 {
		cur := h.players[st.CurrentPlayer]
		if open, ok := openTurn(legTurns, cur.ID); ok {
			st.CurrentTurn = dartViews(open.Darts)
		}
	}

	if w, ok := h.winner(); ok {
		st.Winner = &WinnerView{ID: w.ID, Name: w.Name}
	}
	return st, nil
}

// legHistory lists the turns of the displayed leg.
func (h *history) legHistory() ([]HistoryEntry, error) {
	leg, ok := displayLeg(h.legs)
	if !ok {
		return nil, ErrLegNotFound
	}
	legTurns := turnsInLeg(h.turns, leg.ID)
	out := make([]HistoryEntry, 0, len(legTurns))
	for _, t := range legTurns {
		p, ok := playerByID(h.players, t.PlayerID)
		if !ok {
			return nil, &ConsistencyError{Reason: fmt.Sprintf("turn %d belongs to unknown player %d", t.ID, t.PlayerID)}
		}
		out = append(out, HistoryEntry{
			TurnNumber:      t.Number,
			PlayerID:        p.ID,
			PlayerName:      p.Name,
			Darts:           dartViews(t.Darts),
			TotalScore:      t.Total,
			RemainingBefore: t.RemainingBefore,
			RemainingAfter:  t.RemainingAfter,
			IsBust:          t.Bust,
		})
	}
	return out, nil
}

func asNotFound(err error, notFound *StateError) error {
	if errors.Is(err, ErrNotFound) {
		return notFound
	}
	return err
}
