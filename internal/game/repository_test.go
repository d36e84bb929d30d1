package game

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/marekcieslar/dart/internal/database"
)

// newPostgresStore connects to DARTS_TEST_POSTGRES_DSN or skips the test.
func newPostgresStore(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("DARTS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DARTS_TEST_POSTGRES_DSN not set")
	}
	if err := database.MigratePostgres(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := database.NewPool(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewRepository(pool)
}

func TestPostgresLegAndUndo(t *testing.T) {
	svc := NewService(newPostgresStore(t), &recordingNotifier{}, nopLogger{})
	id := newMatch(t, svc, Type301, 3, "Anna", "Ben")

	out := winLeg301(t, svc, id, 0)
	if out.Kind != OutcomeLegFinished {
		t.Fatalf("outcome = %s", out.Kind)
	}
	st := currentState(t, svc, id)
	if st.CurrentLeg != 2 || st.Players[0].LegsWon != 1 {
		t.Fatalf("after leg: leg %d, legs won %d", st.CurrentLeg, st.Players[0].LegsWon)
	}

	if _, err := svc.UndoLastDart(context.Background(), id); err != nil {
		t.Fatalf("undo: %v", err)
	}
	st = currentState(t, svc, id)
	if st.CurrentLeg != 1 || st.Players[0].LegsWon != 0 || st.Players[0].CurrentScore != 1 {
		t.Fatalf("after undo: leg %d, legs won %d, remaining %d", st.CurrentLeg, st.Players[0].LegsWon, st.Players[0].CurrentScore)
	}
}

func TestPostgresTurnQueries(t *testing.T) {
	checkTurnQueries(t, newPostgresStore(t))
}

func TestPostgresAdminTokens(t *testing.T) {
	store := newPostgresStore(t)
	svc := NewService(store, nil, nopLogger{})
	id := newMatch(t, svc, Type501, 3, "Anna", "Ben")
	ctx := context.Background()

	err := store.Update(ctx, func(tx Tx) error {
		m, err := tx.LockMatch(ctx, id)
		if err != nil {
			return err
		}
		return tx.InsertAdminToken(ctx, AdminToken{Token: "delegated-" + id, MatchID: id, CreatedBy: m.AdminToken, CreatedAt: svc.now()})
	})
	if err != nil {
		t.Fatalf("insert token: %v", err)
	}

	err = store.Update(ctx, func(tx Tx) error {
		if err := tx.RevokeAdminToken(ctx, id, "delegated-"+id); err != nil {
			return err
		}
		if _, err := tx.GetAdminToken(ctx, id, "delegated-"+id); !errors.Is(err, ErrNotFound) {
			t.Errorf("revoked token lookup: got %v", err)
		}
		if err := tx.RevokeAdminToken(ctx, id, "delegated-"+id); !errors.Is(err, ErrNotFound) {
			t.Errorf("second revoke: got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
}
