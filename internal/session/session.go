// Package session holds the per-user state that lives between sign-in and
// sign-out: the credit ledger, the saved-item cache and the assistant
// transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/illegalcall/wingwoman/internal/generation"
	"github.com/illegalcall/wingwoman/internal/ledger"
	"github.com/illegalcall/wingwoman/internal/models"
	"github.com/illegalcall/wingwoman/internal/saved"
	"github.com/illegalcall/wingwoman/internal/store"
)

// ErrNoProfile is returned when a session is requested for a user without a profile row.
var ErrNoProfile = errors.New("session: no profile for user")

type Session struct {
	UserID   string
	OpenedAt time.Time
	Ledger   *ledger.Ledger
	Saved    *saved.Reconciler

	mu          sync.Mutex
	accessToken string
	transcript  []models.ChatMessage
	assessed    bool
}

func newSession(userID string, l *ledger.Ledger, r *saved.Reconciler, now time.Time) *Session {
	return &Session{
		UserID:   userID,
		OpenedAt: now,
		Ledger:   l,
		Saved:    r,
		transcript: []models.ChatMessage{{
			ID:        "welcome",
			Role:      models.RoleAssistant,
			Text:      generation.WelcomeMessage,
			Timestamp: now,
		}},
	}
}

// AccessToken is the Supabase token used to sign the user out upstream.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *Session) setAccessToken(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

// Transcript returns a copy of the assistant conversation so far.
func (s *Session) Transcript() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// AppendExchange records a question and the assistant's reply.
func (s *Session) AppendExchange(question, reply string, at time.Time) models.ChatMessage {
	answer := models.ChatMessage{ID: uuid.NewString(), Role: models.RoleAssistant, Text: reply, Timestamp: at}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript,
		models.ChatMessage{ID: uuid.NewString(), Role: models.RoleUser, Text: question, Timestamp: at},
		answer,
	)
	return answer
}

// AssessmentCost is free for the first assessment of a session and the retry
// price afterwards.
func (s *Session) AssessmentCost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assessed {
		return models.CostAssessmentRetry
	}
	return models.CostAssessmentFirst
}

// MarkAssessed records that an assessment result exists.
func (s *Session) MarkAssessed() {
	s.mu.Lock()
	s.assessed = true
	s.mu.Unlock()
}

// Manager owns the open sessions, keyed by user id.
type Manager struct {
	store      store.ProfileStore
	ledgerOpts []ledger.Option
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	opening  singleflight.Group
}

func NewManager(s store.ProfileStore, logger *slog.Logger, ledgerOpts ...ledger.Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      s,
		ledgerOpts: append([]ledger.Option{ledger.WithLogger(logger)}, ledgerOpts...),
		logger:     logger.With("component", "session"),
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Open starts a session after a successful sign-in, provisioning the profile
// row on first use. An existing session for the user is reused.
func (m *Manager) Open(ctx context.Context, userID, name, email, accessToken string) (*Session, error) {
	if s := m.lookup(userID); s != nil {
		s.setAccessToken(accessToken)
		return s, nil
	}

	s, err := m.open(ctx, userID, func(ctx context.Context) (models.Profile, error) {
		return store.Provision(ctx, m.store, userID, name, email)
	})
	if err != nil {
		return nil, err
	}
	s.setAccessToken(accessToken)
	return s, nil
}

// Get returns the session for userID. A user holding a valid token whose
// session is not in memory, for instance after a restart, gets it rebuilt
// from the profile store.
func (m *Manager) Get(ctx context.Context, userID string) (*Session, error) {
	if s := m.lookup(userID); s != nil {
		return s, nil
	}
	return m.open(ctx, userID, func(ctx context.Context) (models.Profile, error) {
		p, err := m.store.GetProfile(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return models.Profile{}, ErrNoProfile
		}
		return p, err
	})
}

func (m *Manager) lookup(userID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID]
}

func (m *Manager) open(ctx context.Context, userID string, load func(context.Context) (models.Profile, error)) (*Session, error) {
	v, err, _ := m.opening.Do(userID, func() (interface{}, error) {
		if s := m.lookup(userID); s != nil {
			return s, nil
		}

		profile, err := load(ctx)
		if err != nil {
			return nil, err
		}

		l := ledger.New(m.store, profile, m.ledgerOpts...)
		if reset, err := l.ResetIfDue(ctx); err != nil {
			m.logger.Warn("Weekly reset failed on session open", "user_id", userID, "error", err)
		} else if reset {
			m.logger.Info("Weekly credits refilled", "user_id", userID)
		}

		r := saved.NewReconciler(m.store, userID, m.logger)
		if err := r.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load saved icebreakers: %w", err)
		}

		s := newSession(userID, l, r, m.now())
		m.mu.Lock()
		m.sessions[userID] = s
		m.mu.Unlock()

		m.logger.Info("Session opened", "user_id", userID, "tier", profile.Tier, "credits", profile.Credits)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Close tears the session down after waiting for its pending credit writes.
// It returns the closed session, or nil when none was open.
func (m *Manager) Close(userID string) *Session {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	s.Ledger.Wait()
	m.logger.Info("Session closed", "user_id", userID, "duration", m.now().Sub(s.OpenedAt))
	return s
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll drains every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Close(id)
	}
}
