package game

import (
	"context"
	"time"
)

// Store runs units of work against the History. Every mutation of a match
// runs inside one Update so readers never see half of it.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the query surface of one transaction.
type Tx interface {
	InsertMatch(ctx context.Context, m Match) error
	GetMatch(ctx context.Context, id string) (Match, error)
	// LockMatch reads the match and holds a write lock on it until the
	// transaction ends.
	LockMatch(ctx context.Context, id string) (Match, error)
	ListMatches(ctx context.Context, filter ListFilter) ([]Match, int, error)
	UpdateMatchStatus(ctx context.Context, id string, status Status, finishedAt *time.Time) error

	InsertPlayer(ctx context.Context, p Player) (Player, error)
	ListPlayers(ctx context.Context, matchID string) ([]Player, error)
	SetLegsWon(ctx context.Context, playerID int64, legsWon int) error

	InsertLeg(ctx context.Context, l Leg) (Leg, error)
	ListLegs(ctx context.Context, matchID string) ([]Leg, error)
	UpdateLeg(ctx context.Context, l Leg) error
	DeleteLeg(ctx context.Context, legID int64) error

	InsertTurn(ctx context.Context, t Turn) (Turn, error)
	LastTurn(ctx context.Context, legID int64) (Turn, error)
	ListTurnsByLeg(ctx context.Context, legID int64) ([]Turn, error)
	// ListTurnsByMatch orders by leg number, then turn number.
	ListTurnsByMatch(ctx context.Context, matchID string) ([]Turn, error)
	UpdateTurn(ctx context.Context, t Turn) error
	DeleteTurn(ctx context.Context, turnID int64) error

	InsertAdminToken(ctx context.Context, t AdminToken) error
	GetAdminToken(ctx context.Context, matchID, token string) (AdminToken, error)
	ListAdminTokens(ctx context.Context, matchID string) ([]AdminToken, error)
	RevokeAdminToken(ctx context.Context, matchID, token string) error
}
