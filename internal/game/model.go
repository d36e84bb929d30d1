package game

import (
	"time"

	"github.com/marekcieslar/dart/internal/darts"
)

// Type is the game variant; its value is also the starting score.
type Type int

const (
	Type301 Type = 301
	Type501 Type = 501
)

func (t Type) Valid() bool {
	return t == Type301 || t == Type501
}

// StartingScore is the remaining score every player begins a leg with.
func (t Type) StartingScore() int {
	return int(t)
}

// ValidFinish reports whether the dart that reached zero may end a leg.
// 501 is played double-out; 301 accepts any finishing dart.
func (t Type) ValidFinish(finishing darts.Dart) bool {
	if t == Type501 {
		return finishing.Kind == darts.Hit && finishing.Multiplier == 2
	}
	return true
}

type Status string

const (
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusAbandoned Status = "abandoned"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusFinished || s == StatusAbandoned
}

type Match struct {
	ID         string
	Type       Type
	BestOf     int
	Status     Status
	AdminToken string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

type Player struct {
	ID      int64
	MatchID string
	Name    string
	Order   int
	LegsWon int
}

type Leg struct {
	ID         int64
	MatchID    string
	Number     int
	WinnerID   *int64
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (l Leg) Finished() bool {
	return l.FinishedAt != nil
}

// Turn is up to three darts of one player. Total stays nil until the turn
// is closed by its third dart, a bust or a finish.
type Turn struct {
	ID              int64
	LegID           int64
	PlayerID        int64
	Number          int
	Darts           [darts.Slots]darts.Dart
	RemainingBefore int
	RemainingAfter  int
	Total           *int
	Bust            bool
	CreatedAt       time.Time
}

func (t Turn) Closed() bool {
	return t.Total != nil
}

// AdminToken is a delegated admin token issued by the main admin.
type AdminToken struct {
	Token     string
	MatchID   string
	CreatedBy string
	CreatedAt time.Time
	Revoked   bool
}

// -----------------------------------------------------------------------------
// Wire shapes
// -----------------------------------------------------------------------------

// DartView is a thrown dart as clients see it. A nil score is a miss.
type DartView struct {
	Score      *int   `json:"score"`
	Multiplier int    `json:"multiplier"`
	Label      string `json:"label"`
}

type PlayerState struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Order          int        `json:"order"`
	LegsWon        int        `json:"legsWon"`
	CurrentScore   int        `json:"currentScore"`
	AvgThisLeg     float64    `json:"avgThisLeg"`
	AvgTotal       float64    `json:"avgTotal"`
	LastThreeDarts []DartView `json:"lastThreeDarts"`
}

type WinnerView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// State is the full snapshot of a match pushed to observers.
type State struct {
	ID            string        `json:"id"`
	Type          Type          `json:"type"`
	BestOf        int           `json:"bestOf"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	FinishedAt    *time.Time    `json:"finishedAt,omitempty"`
	CurrentLeg    int           `json:"currentLeg"`
	CurrentPlayer int           `json:"currentPlayer"`
	Players       []PlayerState `json:"players"`
	CurrentTurn   []DartView    `json:"currentTurn"`
	TurnNumber    int           `json:"turnNumber"`
	Winner        *WinnerView   `json:"winner,omitempty"`
}

type HistoryEntry struct {
	TurnNumber      int        `json:"turnNumber"`
	PlayerID        int64      `json:"playerId"`
	PlayerName      string     `json:"playerName"`
	Darts           []DartView `json:"darts"`
	TotalScore      *int       `json:"totalScore"`
	RemainingBefore int        `json:"remainingBefore"`
	RemainingAfter  int        `json:"remainingAfter"`
	IsBust          bool       `json:"isBust"`
}

type MatchSummary struct {
	ID           string     `json:"id"`
	Type         Type       `json:"type"`
	BestOf       int        `json:"bestOf"`
	Status       Status     `json:"status"`
	Players      []string   `json:"players"`
	CurrentScore string     `json:"currentScore"`
	CreatedAt    time.Time  `json:"createdAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

type MatchPage struct {
	Games      []MatchSummary `json:"games"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages"`
}

// ListFilter selects a page of matches, newest first.
type ListFilter struct {
	Status Status
	Page   int
	Limit  int
}

// CreateMatchRequest is the body we expect on POST /api/games.
type CreateMatchRequest struct {
	Type    Type     `json:"type"`
	BestOf  int      `json:"bestOf"`
	Players []string `json:"players"`
}

type CreatedMatch struct {
	MatchID    string
	AdminToken string
}

// ThrowRequest is one dart sent by an admin console.
type ThrowRequest struct {
	AdminToken string `json:"adminToken"`
	Score      *int   `json:"score"`
	Multiplier int    `json:"multiplier"`
}

// OutcomeKind describes what a mutation did to the leg and match.
type OutcomeKind string

const (
	OutcomeNone          OutcomeKind = "none"
	OutcomeBust          OutcomeKind = "bust"
	OutcomeLegFinished   OutcomeKind = "leg_finished"
	OutcomeMatchFinished OutcomeKind = "match_finished"
)

type Outcome struct {
	Kind      OutcomeKind
	LegNumber int
	Winner    *Player
}

func dartView(d darts.Dart) DartView {
	v := DartView{Label: darts.Format(d)}
	if d.Kind == darts.Hit {
		score := d.Score
		v.Score = &score
		v.Multiplier = d.Multiplier
	}
	return v
}

func dartViews(ds [darts.Slots]darts.Dart) []DartView {
	out := make([]DartView, 0, darts.Slots)
	for _, d := range ds {
		if d.Thrown() {
			out = append(out, dartView(d))
		}
	}
	return out
}
