package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/illegalcall/wingwoman/internal/models"
)

const (
	profileColumns = "id, name, email, tier, credits, last_reset, stats"
	savedColumns   = "id, user_id, tone, emoji, message_text, why_it_works, follow_up, interest_category, saved_at"
)

// SQLStore talks to the Supabase Postgres instance directly.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	err := s.db.GetContext(ctx, &p, "SELECT "+profileColumns+" FROM profiles WHERE id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return p, nil
}

func (s *SQLStore) CreateProfile(ctx context.Context, p models.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, email, tier, credits, last_reset, stats) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.Email, p.Tier, p.Credits, p.LastReset, p.Stats,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	if patch.Empty() {
		return nil
	}

	var (
		sets []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Tier != nil {
		add("tier", *patch.Tier)
	}
	if patch.Credits != nil {
		add("credits", *patch.Credits)
	}
	if patch.Stats != nil {
		add("stats", *patch.Stats)
	}
	if patch.LastReset != nil {
		add("last_reset", *patch.LastReset)
	}
	args = append(args, userID)

	query := fmt.Sprintf("UPDATE profiles SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListSaved(ctx context.Context, userID string) ([]models.SavedIcebreaker, error) {
	var items []models.SavedIcebreaker
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+savedColumns+" FROM saved_icebreakers WHERE user_id = $1 ORDER BY saved_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved icebreakers: %w", err)
	}
	for i := range items {
		items[i].Normalize()
	}
	return items, nil
}

func (s *SQLStore) InsertSaved(ctx context.Context, userID string, item models.Icebreaker) (models.SavedIcebreaker, error) {
	saved := models.SavedIcebreaker{Icebreaker: item, UserID: userID}
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO saved_icebreakers (user_id, tone, emoji, message_text, why_it_works, follow_up, interest_category) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, saved_at`,
		userID, item.Tone, item.Emoji, item.MessageText, item.WhyItWorks, item.FollowUp, item.InterestCategory,
	).Scan(&saved.ID, &saved.SavedAt)
	if err != nil {
		return models.SavedIcebreaker{}, fmt.Errorf("failed to insert saved icebreaker: %w", err)
	}
	saved.Normalize()
	return saved, nil
}

func (s *SQLStore) DeleteSaved(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM saved_icebreakers WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete saved icebreaker: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
