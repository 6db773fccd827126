// Package saved keeps a user's bookmarked icebreakers in sync with the profile
// store. Identity is the message text, not the row id: two generations that
// produce the same text refer to the same saved entry.
package saved

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/store"
)

// ErrEmptyMessage is returned when an item without message text is toggled.
var ErrEmptyMessage = errors.New("saved: message text is empty")

const (
	categoryAll   = "All"
	categoryOther = "Other"
)

// Remote is the saved-item half of the profile store.
type Remote interface {
	ListSaved(ctx context.Context, userID string) ([]models.SavedIcebreaker, error)
	InsertSaved(ctx context.Context, userID string, item models.Icebreaker) (models.SavedIcebreaker, error)
	DeleteSaved(ctx context.Context, userID, id string) error
}

// Toggle reports what ToggleSave did.
type Toggle struct {
	Saved bool                   `json:"saved"`
	Item  models.SavedIcebreaker `json:"item"`
}

// Key is the de-duplication key for a message: surrounding whitespace is
// ignored, case is kept.
func Key(text string) string {
	return strings.TrimSpace(text)
}

type Reconciler struct {
	remote Remote
	userID string
	logger *slog.Logger

	// opMu serializes mutations so a toggle decides and applies against the same cache.
	opMu sync.Mutex

	mu    sync.RWMutex
	items []models.SavedIcebreaker
}

func NewReconciler(remote Remote, userID string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		remote: remote,
		userID: userID,
		logger: logger.With("user_id", userID),
	}
}

// Load replaces the cache with the store's list, keeping the store's order.
func (r *Reconciler) Load(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	items, err := r.remote.ListSaved(ctx, r.userID)
	if err != nil {
		return fmt.Errorf("failed to load saved icebreakers: %w", err)
	}

	r.mu.Lock()
	r.items = items
	r.mu.Unlock()
	return nil
}

// IsSaved reports whether a cached item has the same key as text.
func (r *Reconciler) IsSaved(text string) bool {
	_, ok := r.find(Key(text))
	return ok
}

// ToggleSave removes the cached entry matching item's text, or saves item when
// none matches. A failed remote call leaves the cache as it was.
func (r *Reconciler) ToggleSave(ctx context.Context, item models.Icebreaker) (Toggle, error) {
	key := Key(item.MessageText)
	if key == "" {
		return Toggle{}, ErrEmptyMessage
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	if existing, ok := r.find(key); ok {
		if err := r.remote.DeleteSaved(ctx, r.userID, existing.ID); err != nil {
			return Toggle{}, fmt.Errorf("failed to unsave icebreaker: %w", err)
		}
		r.remove(existing.ID)
		r.logger.Info("Icebreaker unsaved", "id", existing.ID)
		return Toggle{Saved: false, Item: existing}, nil
	}

	saved, err := r.remote.InsertSaved(ctx, r.userID, item)
	if err != nil {
		return Toggle{}, fmt.Errorf("failed to save icebreaker: %w", err)
	}

	r.mu.Lock()
	r.items = append([]models.SavedIcebreaker{saved}, r.items...)
	r.mu.Unlock()

	r.logger.Info("Icebreaker saved", "id", saved.ID)
	return Toggle{Saved: true, Item: saved}, nil
}

// Delete removes the item with the given row id from the store and then from
// the cache. Ids that are not in this user's cache are rejected with
// store.ErrNotFound without reaching the store.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if !r.has(id) {
		return store.ErrNotFound
	}
	if err := r.remote.DeleteSaved(ctx, r.userID, id); err != nil {
		return fmt.Errorf("failed to delete saved icebreaker: %w", err)
	}
	r.remove(id)
	return nil
}

// Items returns a copy of the cache, most recently saved first.
func (r *Reconciler) Items() []models.SavedIcebreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.SavedIcebreaker, len(r.items))
	copy(out, r.items)
	return out
}

// Filter returns cached items whose text or tone contains query (case-insensitive)
// and whose category matches. "All" or an empty category disables that filter;
// items without a category count as "Other".
func (r *Reconciler) Filter(query, category string) []models.SavedIcebreaker {
	q := strings.ToLower(strings.TrimSpace(query))

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.SavedIcebreaker{}
	for _, item := range r.items {
		if q != "" &&
			!strings.Contains(strings.ToLower(item.MessageText), q) &&
			!strings.Contains(strings.ToLower(item.Tone), q) {
			continue
		}
		if category != "" && category != categoryAll && categoryOf(item) != category {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Categories lists "All" followed by every distinct category in cache order.
func (r *Reconciler) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	out := []string{categoryAll}
	for _, item := range r.items {
		c := categoryOf(item)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func (r *Reconciler) find(key string) (models.SavedIcebreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		if Key(item.MessageText) == key {
			return item, true
		}
	}
	return models.SavedIcebreaker{}, false
}

func (r *Reconciler) has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func (r *Reconciler) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]models.SavedIcebreaker, 0, len(r.items))
	for _, item := range r.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	r.items = kept
}

func categoryOf(item models.SavedIcebreaker) string {
	if item.InterestCategory == "" {
		return categoryOther
	}
	return item.InterestCategory
}
