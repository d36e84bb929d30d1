package game

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteRepository is the History store for single-node deployments. The
// handle must be opened with immediate transactions and one connection.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Update(ctx context.Context, fn func(Tx) error) error {
	return r.run(ctx, fn)
}

func (r *SQLiteRepository) View(ctx context.Context, fn func(Tx) error) error {
	return r.run(ctx, fn)
}

func (r *SQLiteRepository) run(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toMillisPtr(value *time.Time) *int64 {
	if value == nil {
		return nil
	}
	ms := toMillis(*value)
	return &ms
}

func fromMillisPtr(value *int64) *time.Time {
	if value == nil {
		return nil
	}
	t := fromMillis(*value)
	return &t
}

func sqlNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

func (t *sqliteTx) InsertMatch(ctx context.Context, m Match) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO games (id, type, best_of, status, admin_token, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, int(m.Type), m.BestOf, string(m.Status), m.AdminToken, toMillis(m.CreatedAt),
	)
	return err
}

const sqliteMatchColumns = `id, type, best_of, status, admin_token, created_at, finished_at`

func sqliteScanMatch(row rowScanner) (Match, error) {
	var (
		m          Match
		typ        int
		status     string
		createdAt  int64
		finishedAt *int64
	)
	if err := row.Scan(&m.ID, &typ, &m.BestOf, &status, &m.AdminToken, &createdAt, &finishedAt); err != nil {
		return Match{}, sqlNoRows(err)
	}
	m.Type = Type(typ)
	m.Status = Status(status)
	m.CreatedAt = fromMillis(createdAt)
	m.FinishedAt = fromMillisPtr(finishedAt)
	return m, nil
}

func (t *sqliteTx) GetMatch(ctx context.Context, id string) (Match, error) {
	return sqliteScanMatch(t.tx.QueryRowContext(ctx, `SELECT `+sqliteMatchColumns+` FROM games WHERE id = ?`, id))
}

// LockMatch is a plain read: the immediate transaction already holds the
// database write lock.
func (t *sqliteTx) LockMatch(ctx context.Context, id string) (Match, error) {
	return t.GetMatch(ctx, id)
}

func (t *sqliteTx) ListMatches(ctx context.Context, filter ListFilter) ([]Match, int, error) {
	status := string(filter.Status)
	var total int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT count(*) FROM games WHERE (? = '' OR status = ?)`, status, status,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+sqliteMatchColumns+` FROM games
		 WHERE (? = '' OR status = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		status, status, filter.Limit, (filter.Page-1)*filter.Limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		m, err := sqliteScanMatch(rows)
		if err != nil {
			return nil, 0, err
		}
		matches = append(matches, m)
	}
	return matches, total, rows.Err()
}

func (t *sqliteTx) UpdateMatchStatus(ctx context.Context, id string, status Status, finishedAt *time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE games SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), toMillisPtr(finishedAt), id,
	)
	return err
}

// -----------------------------------------------------------------------------
// Players
// -----------------------------------------------------------------------------

func (t *sqliteTx) InsertPlayer(ctx context.Context, p Player) (Player, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO game_players (game_id, player_name, player_order, legs_won) VALUES (?, ?, ?, ?)`,
		p.MatchID, p.Name, p.Order, p.LegsWon,
	)
	if err != nil {
		return Player{}, err
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return Player{}, err
	}
	return p, nil
}

func (t *sqliteTx) ListPlayers(ctx context.Context, matchID string) ([]Player, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, game_id, player_name, player_order, legs_won
		 FROM game_players WHERE game_id = ? ORDER BY player_order ASC`,
		matchID,
	)
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

func (t *sqliteTx) SetLegsWon(ctx context.Context, playerID int64, legsWon int) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE game_players SET legs_won = ? WHERE id = ?`, legsWon, playerID)
	return err
}

// -----------------------------------------------------------------------------
// Legs
// -----------------------------------------------------------------------------

func (t *sqliteTx) InsertLeg(ctx context.Context, l Leg) (Leg, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO legs (game_id, leg_number, started_at) VALUES (?, ?, ?)`,
		l.MatchID, l.Number, toMillis(l.StartedAt),
	)
	if err != nil {
		return Leg{}, err
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return Leg{}, err
	}
	return l, nil
}

func (t *sqliteTx) ListLegs(ctx context.Context, matchID string) ([]Leg, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, game_id, leg_number, winner_id, started_at, finished_at
		 FROM legs WHERE game_id = ? ORDER BY leg_number ASC`,
		matchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	legs := make([]Leg, 0)
	for rows.Next() {
		var (
			l          Leg
			startedAt  int64
			finishedAt *int64
		)
		if err := rows.Scan(&l.ID, &l.MatchID, &l.Number, &l.WinnerID, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		l.StartedAt = fromMillis(startedAt)
		l.FinishedAt = fromMillisPtr(finishedAt)
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

func (t *sqliteTx) UpdateLeg(ctx context.Context, l Leg) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE legs SET winner_id = ?, finished_at = ? WHERE id = ?`,
		l.WinnerID, toMillisPtr(l.FinishedAt), l.ID,
	)
	return err
}

func (t *sqliteTx) DeleteLeg(ctx context.Context, legID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM legs WHERE id = ?`, legID)
	return err
}

// -----------------------------------------------------------------------------
// Turns
// -----------------------------------------------------------------------------

func sqliteScanTurn(row rowScanner) (Turn, error) {
	var (
		t         Turn
		cols      dartColumns
		createdAt int64
	)
	targets := []any{&t.ID, &t.LegID, &t.PlayerID, &t.Number}
	targets = append(targets, cols.targets()...)
	targets = append(targets, &t.RemainingBefore, &t.RemainingAfter, &t.Total, &t.Bust, &createdAt)
	if err := row.Scan(targets...); err != nil {
		return Turn{}, sqlNoRows(err)
	}
	ds, err := cols.decode()
	if err != nil {
		return Turn{}, fmt.Errorf("turn %d: %w", t.ID, err)
	}
	t.Darts = ds
	t.CreatedAt = fromMillis(createdAt)
	return t, nil
}

func sqliteCollectTurns(rows *sql.Rows) ([]Turn, error) {
	defer rows.Close()
	turns := make([]Turn, 0)
	for rows.Next() {
		t, err := sqliteScanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (t *sqliteTx) InsertTurn(ctx context.Context, turn Turn) (Turn, error) {
	args := []any{turn.LegID, turn.PlayerID, turn.Number}
	args = append(args, encodeDarts(turn.Darts)...)
	args = append(args, turn.RemainingBefore, turn.RemainingAfter, turn.Total, turn.Bust, toMillis(turn.CreatedAt))
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO turns (leg_id, player_id, turn_number,
		   dart1_kind, dart1_score, dart1_multiplier,
		   dart2_kind, dart2_score, dart2_multiplier,
		   dart3_kind, dart3_score, dart3_multiplier,
		   remaining_before, remaining_after, total_score, is_bust, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return Turn{}, err
	}
	if turn.ID, err = res.LastInsertId(); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

func (t *sqliteTx) LastTurn(ctx context.Context, legID int64) (Turn, error) {
	return sqliteScanTurn(t.tx.QueryRowContext(ctx,
		`SELECT `+turnColumns("turns")+` FROM turns
		 WHERE leg_id = ? ORDER BY turn_number DESC, id DESC LIMIT 1`,
		legID,
	))
}

func (t *sqliteTx) ListTurnsByLeg(ctx context.Context, legID int64) ([]Turn, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+turnColumns("turns")+` FROM turns
		 WHERE leg_id = ? ORDER BY turn_number ASC, id ASC`,
		legID,
	)
	if err != nil {
		return nil, err
	}
	return sqliteCollectTurns(rows)
}

func (t *sqliteTx) ListTurnsByMatch(ctx context.Context, matchID string) ([]Turn, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+turnColumns("t")+` FROM turns t
		 JOIN legs l ON l.id = t.leg_id
		 WHERE l.game_id = ?
		 ORDER BY l.leg_number ASC, t.turn_number ASC, t.id ASC`,
		matchID,
	)
	if err != nil {
		return nil, err
	}
	return sqliteCollectTurns(rows)
}

func (t *sqliteTx) UpdateTurn(ctx context.Context, turn Turn) error {
	args := encodeDarts(turn.Darts)
	args = append(args, turn.RemainingAfter, turn.Total, turn.Bust, turn.ID)
	_, err := t.tx.ExecContext(ctx,
		`UPDATE turns SET
		   dart1_kind = ?, dart1_score = ?, dart1_multiplier = ?,
		   dart2_kind = ?, dart2_score = ?, dart2_multiplier = ?,
		   dart3_kind = ?, dart3_score = ?, dart3_multiplier = ?,
		   remaining_after = ?, total_score = ?, is_bust = ?
		 WHERE id = ?`,
		args...,
	)
	return err
}

func (t *sqliteTx) DeleteTurn(ctx context.Context, turnID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM turns WHERE id = ?`, turnID)
	return err
}

// -----------------------------------------------------------------------------
// Admin tokens
// -----------------------------------------------------------------------------

func (t *sqliteTx) InsertAdminToken(ctx context.Context, a AdminToken) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO admin_tokens (game_id, token, created_by, created_at) VALUES (?, ?, ?, ?)`,
		a.MatchID, a.Token, a.CreatedBy, toMillis(a.CreatedAt),
	)
	return err
}

func sqliteScanAdminToken(row rowScanner) (AdminToken, error) {
	var (
		a         AdminToken
		createdAt int64
	)
	if err := row.Scan(&a.Token, &a.MatchID, &a.CreatedBy, &createdAt, &a.Revoked); err != nil {
		return AdminToken{}, sqlNoRows(err)
	}
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}

func (t *sqliteTx) GetAdminToken(ctx context.Context, matchID, token string) (AdminToken, error) {
	return sqliteScanAdminToken(t.tx.QueryRowContext(ctx,
		`SELECT token, game_id, created_by, created_at, revoked
		 FROM admin_tokens WHERE game_id = ? AND token = ? AND revoked = 0`,
		matchID, token,
	))
}

func (t *sqliteTx) ListAdminTokens(ctx context.Context, matchID string) ([]AdminToken, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT token, game_id, created_by, created_at, revoked
		 FROM admin_tokens WHERE game_id = ? AND revoked = 0
		 ORDER BY created_at ASC, id ASC`,
		matchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]AdminToken, 0)
	for rows.Next() {
		a, err := sqliteScanAdminToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, a)
	}
	return tokens, rows.Err()
}

func (t *sqliteTx) RevokeAdminToken(ctx context.Context, matchID, token string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE admin_tokens SET revoked = 1 WHERE game_id = ? AND token = ? AND revoked = 0`,
		matchID, token,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
