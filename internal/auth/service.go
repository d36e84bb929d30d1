package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/marekcieslar/dart/internal/game"
)

// ErrTokenNotFound is returned when revoking a token the match never issued
// or already revoked.
var ErrTokenNotFound = &game.StateError{Reason: "admin token not found", NotFound: true}

// Service checks admin tokens of a match. The main token lives on the match
// row; delegated tokens are issued by the main admin and can be revoked.
type Service struct {
	store game.Store
	log   game.Logger
	now   func() time.Time
}

func NewService(store game.Store, log game.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Verify reports what token grants on the match. An unknown or empty token
// is not an error; a missing match is.
func (s *Service) Verify(ctx context.Context, matchID, token string) (game.Access, error) {
	var access game.Access
	err := s.store.View(ctx, func(tx game.Tx) error {
		var err error
		access, err = verify(ctx, tx, matchID, token)
		return err
	})
	return access, err
}

func verify(ctx context.Context, tx game.Tx, matchID, token string) (game.Access, error) {
	m, err := tx.GetMatch(ctx, matchID)
	if err != nil {
		if errors.Is(err, game.ErrNotFound) {
			return game.Access{}, game.ErrMatchNotFound
		}
		return game.Access{}, err
	}
	if token == "" {
		return game.Access{}, nil
	}
	if token == m.AdminToken {
		return game.Access{Valid: true, IsMainAdmin: true}, nil
	}

	_, err = tx.GetAdminToken(ctx, matchID, token)
	switch {
	case errors.Is(err, game.ErrNotFound):
		return game.Access{}, nil
	case err != nil:
		return game.Access{}, err
	}
	return game.Access{Valid: true}, nil
}

func requireMain(ctx context.Context, tx game.Tx, matchID, token string) error {
	access, err := verify(ctx, tx, matchID, token)
	if err != nil {
		return err
	}
	if !access.IsMainAdmin {
		return game.ErrMainAdminRequired
	}
	return nil
}

// Issue creates a delegated token. Only the main admin may issue.
func (s *Service) Issue(ctx context.Context, matchID, mainToken string) (game.AdminToken, error) {
	issued := game.AdminToken{
		Token:     uuid.NewString(),
		MatchID:   matchID,
		CreatedBy: mainToken,
		CreatedAt: s.now(),
	}
	err := s.store.Update(ctx, func(tx game.Tx) error {
		if err := requireMain(ctx, tx, matchID, mainToken); err != nil {
			return err
		}
		return tx.InsertAdminToken(ctx, issued)
	})
	if err != nil {
		return game.AdminToken{}, err
	}
	s.log.Info("admin token issued", "match_id", matchID)
	return issued, nil
}

// Revoke invalidates a delegated token. The main token cannot be revoked.
func (s *Service) Revoke(ctx context.Context, matchID, mainToken, target string) error {
	if target == "" {
		return &game.ValidationError{Reason: "tokenToRevoke is required"}
	}
	err := s.store.Update(ctx, func(tx game.Tx) error {
		if err := requireMain(ctx, tx, matchID, mainToken); err != nil {
			return err
		}
		if err := tx.RevokeAdminToken(ctx, matchID, target); err != nil {
			if errors.Is(err, game.ErrNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("admin token revoked", "match_id", matchID)
	return nil
}

// List returns the delegated tokens still in force.
func (s *Service) List(ctx context.Context, matchID, mainToken string) ([]game.AdminToken, error) {
	var tokens []game.AdminToken
	err := s.store.View(ctx, func(tx game.Tx) error {
		if err := requireMain(ctx, tx, matchID, mainToken); err != nil {
			return err
		}
		var err error
		tokens, err = tx.ListAdminTokens(ctx, matchID)
		return err
	})
	return tokens, err
}
