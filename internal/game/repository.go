package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres History store.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Update runs fn in a read-write transaction and commits when it returns nil.
func (r *Repository) Update(ctx context.Context, fn func(Tx) error) error {
	return r.run(ctx, pgx.TxOptions{}, fn)
}

// View runs fn in a read-only repeatable-read transaction so every query
// sees the same snapshot.
func (r *Repository) View(ctx context.Context, fn func(Tx) error) error {
	return r.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (r *Repository) run(ctx context.Context, opts pgx.TxOptions, fn func(Tx) error) error {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure rollback if we return before Commit
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func noRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

func (t *pgTx) InsertMatch(ctx context.Context, m Match) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO games (id, type, best_of, status, admin_token, created_at)
VALUES ($1, $2, $3, $4, $5, $6);
`, m.ID, int(m.Type), m.BestOf, string(m.Status), m.AdminToken, m.CreatedAt)
	return err
}

const matchColumns = `id::text, type, best_of, status, admin_token, created_at, finished_at`

func scanMatch(row pgx.Row) (Match, error) {
	var (
		m      Match
		typ    int
		status string
	)
	if err := row.Scan(&m.ID, &typ, &m.BestOf, &status, &m.AdminToken, &m.CreatedAt, &m.FinishedAt); err != nil {
		return Match{}, noRows(err)
	}
	m.Type = Type(typ)
	m.Status = Status(status)
	return m, nil
}

func (t *pgTx) GetMatch(ctx context.Context, id string) (Match, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Match{}, ErrNotFound
	}
	return scanMatch(t.tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM games WHERE id = $1;`, id))
}

func (t *pgTx) LockMatch(ctx context.Context, id string) (Match, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Match{}, ErrNotFound
	}
	return scanMatch(t.tx.QueryRow(ctx, `SELECT `+matchColumns+` FROM games WHERE id = $1 FOR UPDATE;`, id))
}

func (t *pgTx) ListMatches(ctx context.Context, filter ListFilter) ([]Match, int, error) {
	var total int
	if err := t.tx.QueryRow(ctx, `
SELECT count(*) FROM games WHERE ($1 = '' OR status = $1);
`, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := t.tx.Query(ctx, `
SELECT `+matchColumns+`
FROM games
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3;
`, string(filter.Status), filter.Limit, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, 0, err
		}
		matches = append(matches, m)
	}
	return matches, total, rows.Err()
}

func (t *pgTx) UpdateMatchStatus(ctx context.Context, id string, status Status, finishedAt *time.Time) error {
	_, err := t.tx.Exec(ctx, `
UPDATE games SET status = $2, finished_at = $3 WHERE id = $1;
`, id, string(status), finishedAt)
	return err
}

// -----------------------------------------------------------------------------
// Players
// -----------------------------------------------------------------------------

func (t *pgTx) InsertPlayer(ctx context.Context, p Player) (Player, error) {
	err := t.tx.QueryRow(ctx, `
INSERT INTO game_players (game_id, player_name, player_order, legs_won)
VALUES ($1, $2, $3, $4)
RETURNING id;
`, p.MatchID, p.Name, p.Order, p.LegsWon).Scan(&p.ID)
	return p, err
}

func (t *pgTx) ListPlayers(ctx context.Context, matchID string) ([]Player, error) {
	rows, err := t.tx.Query(ctx, `
SELECT id, game_id::text, player_name, player_order, legs_won
FROM game_players
WHERE game_id = $1
ORDER BY player_order ASC;
`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := make([]Player, 0)
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.MatchID, &p.Name, &p.Order, &p.LegsWon); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (t *pgTx) SetLegsWon(ctx context.Context, playerID int64, legsWon int) error {
	_, err := t.tx.Exec(ctx, `UPDATE game_players SET legs_won = $2 WHERE id = $1;`, playerID, legsWon)
	return err
}

// -----------------------------------------------------------------------------
// Legs
// -----------------------------------------------------------------------------

func (t *pgTx) InsertLeg(ctx context.Context, l Leg) (Leg, error) {
	err := t.tx.QueryRow(ctx, `
INSERT INTO legs (game_id, leg_number, started_at)
VALUES ($1, $2, $3)
RETURNING id;
`, l.MatchID, l.Number, l.StartedAt).Scan(&l.ID)
	return l, err
}

func (t *pgTx) ListLegs(ctx context.Context, matchID string) ([]Leg, error) {
	rows, err := t.tx.Query(ctx, `
SELECT id, game_id::text, leg_number, winner_id, started_at, finished_at
FROM legs
WHERE game_id = $1
ORDER BY leg_number ASC;
`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	legs := make([]Leg, 0)
	for rows.Next() {
		var l Leg
		if err := rows.Scan(&l.ID, &l.MatchID, &l.Number, &l.WinnerID, &l.StartedAt, &l.FinishedAt); err != nil {
			return nil, err
		}
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

func (t *pgTx) UpdateLeg(ctx context.Context, l Leg) error {
	_, err := t.tx.Exec(ctx, `
UPDATE legs SET winner_id = $2, finished_at = $3 WHERE id = $1;
`, l.ID, l.WinnerID, l.FinishedAt)
	return err
}

func (t *pgTx) DeleteLeg(ctx context.Context, legID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM legs WHERE id = $1;`, legID)
	return err
}

// -----------------------------------------------------------------------------
// Turns
// -----------------------------------------------------------------------------

func scanTurn(row pgx.Row) (Turn, error) {
	var (
		t    Turn
		cols dartColumns
	)
	targets := []any{&t.ID, &t.LegID, &t.PlayerID, &t.Number}
	targets = append(targets, cols.targets()...)
	targets = append(targets, &t.RemainingBefore, &t.RemainingAfter, &t.Total, &t.Bust, &t.CreatedAt)
	if err := row.Scan(targets...); err != nil {
		return Turn{}, noRows(err)
	}
	ds, err := cols.decode()
	if err != nil {
		return Turn{}, fmt.Errorf("turn %d: %w", t.ID, err)
	}
	t.Darts = ds
	return t, nil
}

func collectTurns(rows pgx.Rows) ([]Turn, error) {
	defer rows.Close()
	turns := make([]Turn, 0)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (t *pgTx) InsertTurn(ctx context.Context, turn Turn) (Turn, error) {
	args := []any{turn.LegID, turn.PlayerID, turn.Number}
	args = append(args, encodeDarts(turn.Darts)...)
	args = append(args, turn.RemainingBefore, turn.RemainingAfter, turn.Total, turn.Bust, turn.CreatedAt)
	err := t.tx.QueryRow(ctx, `
INSERT INTO turns (leg_id, player_id, turn_number,
                   dart1_kind, dart1_score, dart1_multiplier,
                   dart2_kind, dart2_score, dart2_multiplier,
                   dart3_kind, dart3_score, dart3_multiplier,
                   remaining_before, remaining_after, total_score, is_bust, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING id;
`, args...).Scan(&turn.ID)
	return turn, err
}

func (t *pgTx) LastTurn(ctx context.Context, legID int64) (Turn, error) {
	return scanTurn(t.tx.QueryRow(ctx, `
SELECT `+turnColumns("turns")+`
FROM turns
WHERE leg_id = $1
ORDER BY turn_number DESC, id DESC
LIMIT 1;
`, legID))
}

func (t *pgTx) ListTurnsByLeg(ctx context.Context, legID int64) ([]Turn, error) {
	rows, err := t.tx.Query(ctx, `
SELECT `+turnColumns("turns")+`
FROM turns
WHERE leg_id = $1
ORDER BY turn_number ASC, id ASC;
`, legID)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

func (t *pgTx) ListTurnsByMatch(ctx context.Context, matchID string) ([]Turn, error) {
	rows, err := t.tx.Query(ctx, `
SELECT `+turnColumns("t")+`
FROM turns t
JOIN legs l ON l.id = t.leg_id
WHERE l.game_id = $1
ORDER BY l.leg_number ASC, t.turn_number ASC, t.id ASC;
`, matchID)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

func (t *pgTx) UpdateTurn(ctx context.Context, turn Turn) error {
	args := []any{turn.ID}
	args = append(args, encodeDarts(turn.Darts)...)
	args = append(args, turn.RemainingAfter, turn.Total, turn.Bust)
	_, err := t.tx.Exec(ctx, `
UPDATE turns SET
    dart1_kind = $2, dart1_score = $3, dart1_multiplier = $4,
    dart2_kind = $5, dart2_score = $6, dart2_multiplier = $7,
    dart3_kind = $8, dart3_score = $9, dart3_multiplier = $10,
    remaining_after = $11, total_score = $12, is_bust = $13
WHERE id = $1;
`, args...)
	return err
}

func (t *pgTx) DeleteTurn(ctx context.Context, turnID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM turns WHERE id = $1;`, turnID)
	return err
}

// -----------------------------------------------------------------------------
// Admin tokens
// -----------------------------------------------------------------------------

func (t *pgTx) InsertAdminToken(ctx context.Context, a AdminToken) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO admin_tokens (game_id, token, created_by, created_at)
VALUES ($1, $2, $3, $4);
`, a.MatchID, a.Token, a.CreatedBy, a.CreatedAt)
	return err
}

func (t *pgTx) GetAdminToken(ctx context.Context, matchID, token string) (AdminToken, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return AdminToken{}, ErrNotFound
	}
	var a AdminToken
	err := t.tx.QueryRow(ctx, `
SELECT token, game_id::text, created_by, created_at, revoked
FROM admin_tokens
WHERE game_id = $1 AND token = $2 AND revoked = FALSE;
`, matchID, token).Scan(&a.Token, &a.MatchID, &a.CreatedBy, &a.CreatedAt, &a.Revoked)
	if err != nil {
		return AdminToken{}, noRows(err)
	}
	return a, nil
}

func (t *pgTx) ListAdminTokens(ctx context.Context, matchID string) ([]AdminToken, error) {
	rows, err := t.tx.Query(ctx, `
SELECT token, game_id::text, created_by, created_at, revoked
FROM admin_tokens
WHERE game_id = $1 AND revoked = FALSE
ORDER BY created_at ASC, id ASC;
`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]AdminToken, 0)
	for rows.Next() {
		var a AdminToken
		if err := rows.Scan(&a.Token, &a.MatchID, &a.CreatedBy, &a.CreatedAt, &a.Revoked); err != nil {
			return nil, err
		}
		tokens = append(tokens, a)
	}
	return tokens, rows.Err()
}

func (t *pgTx) RevokeAdminToken(ctx context.Context, matchID, token string) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE admin_tokens SET revoked = TRUE WHERE game_id = $1 AND token = $2 AND revoked = FALSE;
`, matchID, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
