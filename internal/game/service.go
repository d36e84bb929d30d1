package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marekcieslar/dart/internal/darts"
)

const (
	minPlayers    = 2
	maxPlayers    = 8
	maxNameLength = 50
	defaultLimit  = 10
	maxLimit      = 100
)

// Event names pushed to observers of a match.
const (
	EventUpdate       = "game:update"
	EventLegFinished  = "leg:finished"
	EventGameFinished = "game:finished"
	EventError        = "game:error"
)

type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Notifier delivers an event to every current observer of a match.
// Delivery is best-effort.
type Notifier interface {
	Publish(matchID string, event string, payload any)
}

// Access is the answer of the authorization collaborator for a token.
type Access struct {
	Valid       bool `json:"valid"`
	IsMainAdmin bool `json:"isMainAdmin"`
}

type Authorizer interface {
	Verify(ctx context.Context, matchID, token string) (Access, error)
}

// Service is the turn/leg/match state machine. Mutations of one match are
// serialized; each one runs in a single store transaction.
type Service struct {
	store    Store
	notifier Notifier
	log      Logger
	locks    *matchLocks
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, log Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		log:      log,
		locks:    newMatchLocks(),
		tracer:   otel.Tracer("github.com/marekcieslar/dart/internal/game"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// -----------------------------------------------------------------------------
// Match creation & reads
// -----------------------------------------------------------------------------

// CreateMatch validates the setup and stores the match, its players and
// leg 1 together.
func (s *Service) CreateMatch(ctx context.Context, req CreateMatchRequest) (CreatedMatch, error) {
	ctx, span := s.tracer.Start(ctx, "game.CreateMatch")
	defer span.End()

	names, err := validateSetup(req)
	if err != nil {
		return CreatedMatch{}, err
	}

	now := s.now()
	m := Match{
		ID:         uuid.NewString(),
		Type:       req.Type,
		BestOf:     req.BestOf,
		Status:     StatusActive,
		AdminToken: uuid.NewString(),
		CreatedAt:  now,
	}
	err = s.store.Update(ctx, func(tx Tx) error {
		if err := tx.InsertMatch(ctx, m); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		for i, name := range names {
			if _, err := tx.InsertPlayer(ctx, Player{MatchID: m.ID, Name: name, Order: i}); err != nil {
				return fmt.Errorf("insert player: %w", err)
			}
		}
		if _, err := tx.InsertLeg(ctx, Leg{MatchID: m.ID, Number: 1, StartedAt: now}); err != nil {
			return fmt.Errorf("insert leg: %w", err)
		}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return CreatedMatch{}, err
	}

	span.SetAttributes(attribute.String("match.id", m.ID))
	s.log.Info("match created", "match_id", m.ID, "type", int(m.Type), "best_of", m.BestOf, "players", len(names))
	return CreatedMatch{MatchID: m.ID, AdminToken: m.AdminToken}, nil
}

func validateSetup(req CreateMatchRequest) ([]string, error) {
	if !req.Type.Valid() {
		return nil, invalid("invalid game type. Must be 301 or 501")
	}
	if req.BestOf != 3 && req.BestOf != 5 && req.BestOf != 7 {
		return nil, invalid("invalid best of. Must be 3, 5, or 7")
	}
	if len(req.Players) < minPlayers || len(req.Players) > maxPlayers {
		return nil, invalid(fmt.Sprintf("number of players must be between %d and %d", minPlayers, maxPlayers))
	}

	names := make([]string, 0, len(req.Players))
	seen := make(map[string]struct{}, len(req.Players))
	for _, raw := range req.Players {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, invalid("all player names must be non-empty strings")
		}
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, invalid(fmt.Sprintf("player names must be %d characters or less", maxNameLength))
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, invalid(fmt.Sprintf("player name %q is used twice", name))
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// State replays History into the full snapshot.
func (s *Service) State(ctx context.Context, matchID string) (State, error) {
	var st State
	err := s.store.View(ctx, func(tx Tx) error {
		h, err := s.read(ctx, tx, matchID)
		if err != nil {
			return err
		}
		st, err = h.state()
		return err
	})
	return st, err
}

// History lists the turns of the current leg, or of the last leg once the
// match is over.
func (s *Service) History(ctx context.Context, matchID string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.store.View(ctx, func(tx Tx) error {
		m, err := tx.GetMatch(ctx, matchID)
		if err != nil {
			return asNotFound(err, ErrMatchNotFound)
		}
		h, err := loadDisplayedLeg(ctx, tx, m)
		if err != nil {
			return err
		}
		entries, err = h.legHistory()
		return err
	})
	return entries, err
}

func (s *Service) ListMatches(ctx context.Context, filter ListFilter) (MatchPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return MatchPage{}, invalid("invalid status filter")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	page := MatchPage{Games: []MatchSummary{}, Page: filter.Page}
	err := s.store.View(ctx, func(tx Tx) error {
		matches, total, err := tx.ListMatches(ctx, filter)
		if err != nil {
			return fmt.Errorf("list matches: %w", err)
		}
		page.Total = total
		for _, m := range matches {
			players, err := tx.ListPlayers(ctx, m.ID)
			if err != nil {
				return fmt.Errorf("list players: %w", err)
			}
			names := make([]string, 0, len(players))
			legs := make([]string, 0, len(players))
			for _, p := range players {
				names = append(names, p.Name)
				legs = append(legs, fmt.Sprint(p.LegsWon))
			}
			page.Games = append(page.Games, MatchSummary{
				ID:           m.ID,
				Type:         m.Type,
				BestOf:       m.BestOf,
				Status:       m.Status,
				Players:      names,
				CurrentScore: strings.Join(legs, "-"),
				CreatedAt:    m.CreatedAt,
				FinishedAt:   m.FinishedAt,
			})
		}
		return nil
	})
	if err != nil {
		return MatchPage{}, err
	}
	page.TotalPages = (page.Total + filter.Limit - 1) / filter.Limit
	return page, nil
}

func (s *Service) read(ctx context.Context, tx Tx, matchID string) (*history, error) {
	m, err := tx.GetMatch(ctx, matchID)
	if err != nil {
		return nil, asNotFound(err, ErrMatchNotFound)
	}
	return loadHistory(ctx, tx, m)
}

// -----------------------------------------------------------------------------
// Mutations
// -----------------------------------------------------------------------------

// RecordDart applies one validated dart to the match.
func (s *Service) RecordDart(ctx context.Context, matchID string, score *int, multiplier int) (State, Outcome, error) {
	throw, err := darts.NewThrow(score, multiplier)
	if err != nil {
		return State{}, Outcome{}, invalidErr(err)
	}
	return s.mutate(ctx, "game.RecordDart", matchID, func(ctx context.Context, tx Tx, h *history) (Outcome, error) {
		return s.applyDart(ctx, tx, h, throw)
	})
}

// UndoLastDart removes the most recent dart and every effect it had.
func (s *Service) UndoLastDart(ctx context.Context, matchID string) (State, error) {
	st, _, err := s.mutate(ctx, "game.UndoLastDart", matchID, s.undoDart)
	return st, err
}

// EndMatch abandons an active match.
func (s *Service) EndMatch(ctx context.Context, matchID string) (State, error) {
	st, _, err := s.mutate(ctx, "game.EndMatch", matchID, func(ctx context.Context, tx Tx, h *history) (Outcome, error) {
		if h.match.Status != StatusActive {
			return Outcome{}, ErrMatchNotActive
		}
		now := s.now()
		if err := tx.UpdateMatchStatus(ctx, h.match.ID, StatusAbandoned, &now); err != nil {
			return Outcome{}, fmt.Errorf("abandon match: %w", err)
		}
		return Outcome{Kind: OutcomeNone}, nil
	})
	return st, err
}

type mutation func(ctx context.Context, tx Tx, h *history) (Outcome, error)

// mutate runs fn under the match lock in one write transaction, rebuilds
// the snapshot from the written History and publishes it after commit.
func (s *Service) mutate(ctx context.Context, op, matchID string, fn mutation) (State, Outcome, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("match.id", matchID)))
	defer span.End()

	unlock := s.locks.lock(matchID)
	defer unlock()

	var (
		st      State
		outcome Outcome
	)
	err := s.store.Update(ctx, func(tx Tx) error {
		m, err := tx.LockMatch(ctx, matchID)
		if err != nil {
			return asNotFound(err, ErrMatchNotFound)
		}
		h, err := loadHistory(ctx, tx, m)
		if err != nil {
			return err
		}
		if outcome, err = fn(ctx, tx, h); err != nil {
			return err
		}
		after, err := s.read(ctx, tx, matchID)
		if err != nil {
			return err
		}
		st, err = after.state()
		return err
	})
	if err != nil {
		recordSpanError(span, err)
		var ce *ConsistencyError
		if errors.As(err, &ce) {
			s.log.Error("rejected inconsistent history", "op", op, "match_id", matchID, "error", err.Error())
		}
		return State{}, Outcome{}, err
	}

	span.SetAttributes(attribute.String("outcome", string(outcome.Kind)))
	s.publish(matchID, st, outcome)
	return st, outcome, nil
}

func (s *Service) applyDart(ctx context.Context, tx Tx, h *history, throw darts.Dart) (Outcome, error) {
	m := h.match
	if m.Status != StatusActive {
		return Outcome{}, ErrMatchNotActive
	}
	if len(h.players) == 0 {
		return Outcome{}, &ConsistencyError{Reason: "match has no players"}
	}
	leg, ok := currentLeg(h.legs)
	if !ok {
		return Outcome{}, &ConsistencyError{Reason: "active match without a current leg"}
	}
	legTurns := turnsInLeg(h.turns, leg.ID)
	player := h.players[currentPlayerIndex(h.turns, len(h.players))]

	turn, ok := openTurn(legTurns, player.ID)
	if !ok {
		before := remainingFor(legTurns, player.ID, m.Type.StartingScore())
		var err error
		turn, err = tx.InsertTurn(ctx, Turn{
			LegID:           leg.ID,
			PlayerID:        player.ID,
			Number:          len(legTurns) + 1,
			RemainingBefore: before,
			RemainingAfter:  before,
			CreatedAt:       s.now(),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("open turn: %w", err)
		}
	}

	slot := darts.NextSlot(turn.Darts)
	if slot < 0 {
		return Outcome{}, &ConsistencyError{Reason: fmt.Sprintf("turn %d already holds %d darts", turn.ID, darts.Slots)}
	}
	turn.Darts[slot] = throw
	total := darts.TurnTotal(turn.Darts)
	remaining := turn.RemainingBefore - total

	outcome := Outcome{Kind: OutcomeNone, LegNumber: leg.Number}
	finished := false
	switch {
	case remaining < 0, remaining == 0 && !m.Type.ValidFinish(throw):
		closeTurn(&turn, 0, turn.RemainingBefore, true)
		outcome.Kind = OutcomeBust
	case remaining == 0:
		closeTurn(&turn, total, 0, false)
		finished = true
	case slot == darts.Slots-1:
		closeTurn(&turn, total, remaining, false)
	default:
		turn.RemainingAfter = remaining
	}
	if err := tx.UpdateTurn(ctx, turn); err != nil {
		return Outcome{}, fmt.Errorf("update turn: %w", err)
	}
	if finished {
		return s.finishLeg(ctx, tx, h, leg, player)
	}
	return outcome, nil
}

func closeTurn(t *Turn, total, remainingAfter int, bust bool) {
	t.Total = &total
	t.RemainingAfter = remainingAfter
	t.Bust = bust
}

func (s *Service) finishLeg(ctx context.Context, tx Tx, h *history, leg Leg, winner Player) (Outcome, error) {
	now := s.now()
	leg.WinnerID = &winner.ID
	leg.FinishedAt = &now
	if err := tx.UpdateLeg(ctx, leg); err != nil {
		return Outcome{}, fmt.Errorf("finish leg: %w", err)
	}
	winner.LegsWon++
	if err := tx.SetLegsWon(ctx, winner.ID, winner.LegsWon); err != nil {
		return Outcome{}, fmt.Errorf("increment legs won: %w", err)
	}

	outcome := Outcome{Kind: OutcomeLegFinished, LegNumber: leg.Number, Winner: &winner}
	if darts.HasWonMatch(winner.LegsWon, h.match.BestOf) {
		if err := tx.UpdateMatchStatus(ctx, h.match.ID, StatusFinished, &now); err != nil {
			return Outcome{}, fmt.Errorf("finish match: %w", err)
		}
		outcome.Kind = OutcomeMatchFinished
		return outcome, nil
	}

	next := Leg{MatchID: h.match.ID, Number: maxLegNumber(h.legs) + 1, StartedAt: now}
	if _, err := tx.InsertLeg(ctx, next); err != nil {
		return Outcome{}, fmt.Errorf("start leg %d: %w", next.Number, err)
	}
	return outcome, nil
}

func (s *Service) undoDart(ctx context.Context, tx Tx, h *history) (Outcome, error) {
	m := h.match
	if m.Status == StatusAbandoned {
		return Outcome{}, ErrMatchNotActive
	}

	leg, ok := currentLeg(h.legs)
	switch {
	case !ok:
		if m.Status != StatusFinished {
			return Outcome{}, &ConsistencyError{Reason: "active match without a current leg"}
		}
		if leg, ok = lastLeg(h.legs); !ok {
			return Outcome{}, ErrLegNotFound
		}
	case len(turnsInLeg(h.turns, leg.ID)) == 0:
		prev, found := legByNumber(h.legs, leg.Number-1)
		if !found {
			return Outcome{}, ErrNoTurnsToUndo
		}
		if !prev.Finished() {
			return Outcome{}, &ConsistencyError{Reason: fmt.Sprintf("leg %d is open next to leg %d", prev.Number, leg.Number)}
		}
		// The empty leg was opened by the dart being undone.
		if err := tx.DeleteLeg(ctx, leg.ID); err != nil {
			return Outcome{}, fmt.Errorf("delete leg %d: %w", leg.Number, err)
		}
		leg = prev
	}

	turn, err := tx.LastTurn(ctx, leg.ID)
	if errors.Is(err, ErrNotFound) {
		return Outcome{}, ErrNoTurnsToUndo
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("last turn of leg %d: %w", leg.Number, err)
	}
	if leg.Finished() {
		if err := s.reopenLeg(ctx, tx, h, leg, turn); err != nil {
			return Outcome{}, err
		}
	}

	slot := darts.LastSlot(turn.Darts)
	if slot < 0 {
		return Outcome{}, &ConsistencyError{Reason: fmt.Sprintf("turn %d has no darts", turn.ID)}
	}
	if slot == 0 {
		if err := tx.DeleteTurn(ctx, turn.ID); err != nil {
			return Outcome{}, fmt.Errorf("delete turn: %w", err)
		}
		return Outcome{Kind: OutcomeNone, LegNumber: leg.Number}, nil
	}

	turn.Darts[slot] = darts.Dart{}
	turn.Total = nil
	turn.Bust = false
	turn.RemainingAfter = turn.RemainingBefore - darts.TurnTotal(turn.Darts)
	if err := tx.UpdateTurn(ctx, turn); err != nil {
		return Outcome{}, fmt.Errorf("update turn: %w", err)
	}
	return Outcome{Kind: OutcomeNone, LegNumber: leg.Number}, nil
}

// reopenLeg reverts a leg finish: winner and finish time cleared, the
// winner's legs-won decremented and a finished match made active again.
func (s *Service) reopenLeg(ctx context.Context, tx Tx, h *history, leg Leg, last Turn) error {
	if leg.WinnerID == nil || last.Bust || !last.Closed() || last.RemainingAfter != 0 || last.PlayerID != *leg.WinnerID {
		return &ConsistencyError{Reason: fmt.Sprintf("leg %d was not closed by its last turn", leg.Number)}
	}
	winner, ok := playerByID(h.players, *leg.WinnerID)
	if !ok {
		return &ConsistencyError{Reason: fmt.Sprintf("leg %d winner %d is not a player", leg.Number, *leg.WinnerID)}
	}
	if winner.LegsWon > 0 {
		winner.LegsWon--
	}
	if err := tx.SetLegsWon(ctx, winner.ID, winner.LegsWon); err != nil {
		return fmt.Errorf("decrement legs won: %w", err)
	}

	leg.WinnerID = nil
	leg.FinishedAt = nil
	if err := tx.UpdateLeg(ctx, leg); err != nil {
		return fmt.Errorf("reopen leg: %w", err)
	}

	if h.match.Status == StatusFinished {
		if err := tx.UpdateMatchStatus(ctx, h.match.ID, StatusActive, nil); err != nil {
			return fmt.Errorf("reopen match: %w", err)
		}
	}
	return nil
}

func legByNumber(legs []Leg, number int) (Leg, bool) {
	for _, l := range legs {
		if l.Number == number {
			return l, true
		}
	}
	return Leg{}, false
}

// -----------------------------------------------------------------------------
// Notification
// -----------------------------------------------------------------------------

type legFinishedPayload struct {
	LegNumber      int            `json:"legNumber"`
	Winner         WinnerView     `json:"winner"`
	NewLegStarting bool           `json:"newLegStarting"`
	Scores         map[string]int `json:"scores"`
}

type gameFinishedPayload struct {
	Winner      WinnerView     `json:"winner"`
	FinalScores map[string]int `json:"finalScores"`
}

func (s *Service) publish(matchID string, st State, outcome Outcome) {
	if s.notifier == nil {
		return
	}
	if outcome.Winner != nil {
		winner := WinnerView{ID: outcome.Winner.ID, Name: outcome.Winner.Name}
		switch outcome.Kind {
		case OutcomeLegFinished:
			s.notifier.Publish(matchID, EventLegFinished, legFinishedPayload{
				LegNumber:      outcome.LegNumber,
				Winner:         winner,
				NewLegStarting: true,
				Scores:         LegsWonByName(st),
			})
		case OutcomeMatchFinished:
			s.notifier.Publish(matchID, EventGameFinished, gameFinishedPayload{
				Winner:      winner,
				FinalScores: LegsWonByName(st),
			})
		}
	}
	s.notifier.Publish(matchID, EventUpdate, st)
}

// LegsWonByName maps each player's name to legs won.
func LegsWonByName(st State) map[string]int {
	out := make(map[string]int, len(st.Players))
	for _, p := range st.Players {
		out[p.Name] = p.LegsWon
	}
	return out
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
