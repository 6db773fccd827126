package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/postgrest-go"

	"github.com/illegalcall/wingwoman/internal/models"
)

// RESTStore reaches the same tables through the Supabase PostgREST endpoint.
// postgrest-go has no context support, so ctx is only checked before each call.
type RESTStore struct {
	client *postgrest.Client
}

// NewRESTStore builds a store for the project at supabaseURL, e.g.
// https://abc.supabase.co, authenticating with the service key.
func NewRESTStore(supabaseURL, apiKey string) (*RESTStore, error) {
	restURL := strings.TrimRight(supabaseURL, "/") + "/rest/v1"
	client := postgrest.NewClient(restURL, "public", map[string]string{
		"apikey":        apiKey,
		"Authorization": "Bearer " + apiKey,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("failed to create postgrest client: %w", client.ClientError)
	}
	return &RESTStore{client: client}, nil
}

type savedRow struct {
	UserID           string `json:"user_id"`
	Tone             string `json:"tone"`
	Emoji            string `json:"emoji"`
	MessageText      string `json:"message_text"`
	WhyItWorks       string `json:"why_it_works"`
	FollowUp         string `json:"follow_up"`
	InterestCategory string `json:"interest_category"`
}

func (s *RESTStore) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return models.Profile{}, err
	}
	var rows []models.Profile
	if _, err := s.client.From("profiles").Select(profileColumns, "", false).Eq("id", userID).ExecuteTo(&rows); err != nil {
		return models.Profile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if len(rows) == 0 {
		return models.Profile{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *RESTStore) CreateProfile(ctx context.Context, p models.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := s.client.From("profiles").Insert(p, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func (s *RESTStore) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	if patch.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var rows []models.Profile
	if _, err := s.client.From("profiles").Update(patch, "representation", "").Eq("id", userID).ExecuteTo(&rows); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RESTStore) ListSaved(ctx context.Context, userID string) ([]models.SavedIcebreaker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items []models.SavedIcebreaker
	_, err := s.client.From("saved_icebreakers").
		Select(savedColumns, "", false).
		Eq("user_id", userID).
		Order("saved_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&items)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved icebreakers: %w", err)
	}
	for i := range items {
		items[i].UserID = userID
		items[i].Normalize()
	}
	return items, nil
}

func (s *RESTStore) InsertSaved(ctx context.Context, userID string, item models.Icebreaker) (models.SavedIcebreaker, error) {
	if err := ctx.Err(); err != nil {
		return models.SavedIcebreaker{}, err
	}
	row := savedRow{
		UserID:           userID,
		Tone:             item.Tone,
		Emoji:            item.Emoji,
		MessageText:      item.MessageText,
		WhyItWorks:       item.WhyItWorks,
		FollowUp:         item.FollowUp,
		InterestCategory: item.InterestCategory,
	}
	var rows []models.SavedIcebreaker
	if _, err := s.client.From("saved_icebreakers").Insert(row, false, "", "representation", "").ExecuteTo(&rows); err != nil {
		return models.SavedIcebreaker{}, fmt.Errorf("failed to insert saved icebreaker: %w", err)
	}
	if len(rows) == 0 {
		return models.SavedIcebreaker{}, fmt.Errorf("failed to insert saved icebreaker: empty response")
	}

	saved := models.SavedIcebreaker{Icebreaker: item, UserID: userID, SavedAt: rows[0].SavedAt}
	saved.ID = rows[0].ID
	saved.Normalize()
	return saved, nil
}

func (s *RESTStore) DeleteSaved(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var rows []models.SavedIcebreaker
	if _, err := s.client.From("saved_icebreakers").Delete("representation", "").Eq("id", id).Eq("user_id", userID).ExecuteTo(&rows); err != nil {
		return fmt.Errorf("failed to delete saved icebreaker: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}
