// Package store is the remote profile store: one profile row per user plus the
// user's saved icebreakers, held in the hosted Supabase database.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illegalcall/wingwoman/internal/models"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("store: row not found")

// ProfileStore is the capability the ledger and reconciler consume.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	CreateProfile(ctx context.Context, p models.Profile) error
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error

	// ListSaved returns the user's saved items, most recently saved first.
	ListSaved(ctx context.Context, userID string) ([]models.SavedIcebreaker, error)
	InsertSaved(ctx context.Context, userID string, item models.Icebreaker) (models.SavedIcebreaker, error)
	// DeleteSaved removes the row only when it belongs to userID.
	DeleteSaved(ctx context.Context, userID, id string) error
}

// Provision makes sure userID has a profile row, creating the Free-tier default when missing.
func Provision(ctx context.Context, s ProfileStore, userID, name, email string) (models.Profile, error) {
	p, err := s.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Profile{}, fmt.Errorf("failed to check for existing profile: %w", err)
	}

	p = models.NewProfile(userID, name, email, time.Now().UTC())
	if err := s.CreateProfile(ctx, p); err != nil {
		return models.Profile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	return p, nil
}
