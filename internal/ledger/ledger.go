// Package ledger mirrors a user's credit balance in memory and gates paid
// actions on it. Spends are applied locally first and persisted in the
// background; any failed write is repaired by re-reading the remote profile,
// which wins over every spend the failed write carried.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/illegalcall/wingwoman/internal/models"
)

// ErrRemoteWrite wraps every failed write to the profile store.
var ErrRemoteWrite = errors.New("ledger: remote write failed")

// Remote is the part of the profile store the ledger needs.
type Remote interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error
}

const (
	defaultPersistTimeout = 10 * time.Second
	defaultResetInterval  = 7 * 24 * time.Hour
)

type Ledger struct {
	remote         Remote
	userID         string
	logger         *slog.Logger
	now            func() time.Time
	persistTimeout time.Duration
	resetInterval  time.Duration
	onWriteFailure func(error)

	mu      sync.Mutex
	profile models.Profile

	// seq numbers local spends. Spends with seq > written have not been
	// carried by any remote write yet.
	seq         uint64
	written     uint64
	unconfirmed []spend

	// persistMu orders remote writes and reconciliations for this user.
	persistMu sync.Mutex
	pending   sync.WaitGroup
}

type spend struct {
	seq      uint64
	cost     float64
	activity models.Activity
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithPersistTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.persistTimeout = d }
}

func WithResetInterval(d time.Duration) Option {
	return func(l *Ledger) { l.resetInterval = d }
}

// WithWriteFailureHook registers fn to be called for every failed remote write.
func WithWriteFailureHook(fn func(error)) Option {
	return func(l *Ledger) { l.onWriteFailure = fn }
}

// New builds a ledger seeded with an already fetched profile.
func New(remote Remote, profile models.Profile, opts ...Option) *Ledger {
	l := &Ledger{
		remote:         remote,
		userID:         profile.ID,
		logger:         slog.Default(),
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
		resetInterval:  defaultResetInterval,
		profile:        profile,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("user_id", l.userID)
	return l
}

// Open fetches the authoritative profile for userID and builds a ledger on it.
func Open(ctx context.Context, remote Remote, userID string, opts ...Option) (*Ledger, error) {
	p, err := remote.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return New(remote, p, opts...), nil
}

// Profile returns a snapshot of the local mirror.
func (l *Ledger) Profile() models.Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

func (l *Ledger) Balance() float64 {
	return l.Profile().Credits
}

// CanAfford reports whether a spend of cost would currently succeed.
func (l *Ledger) CanAfford(cost float64) bool {
	if !validCost(cost) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile.Credits >= cost
}

// TrySpend deducts cost and bumps the activity counter when the balance covers it.
// It returns as soon as the local balance is updated; the write to the profile
// store happens in the background. A false result leaves the ledger untouched.
func (l *Ledger) TrySpend(cost float64, activity models.Activity) bool {
	if !validCost(cost) {
		return false
	}

	l.mu.Lock()
	if l.profile.Credits < cost {
		l.mu.Unlock()
		return false
	}
	l.profile.Credits -= cost
	if activity != models.ActivityNone {
		l.profile.Stats = l.profile.Stats.Increment(activity)
	}
	l.seq++
	l.unconfirmed = append(l.unconfirmed, spend{seq: l.seq, cost: cost, activity: activity})
	l.mu.Unlock()

	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.confirm()
	}()
	return true
}

// confirm writes the current local balance and stats. Writing the latest
// snapshot rather than the one taken at spend time means an older write can
// never land after a newer one.
// On failure the remote copy wins for every spend the snapshot carried;
// spends made after the snapshot are re-applied on top of it.
func (l *Ledger) confirm() {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.persistTimeout)
	defer cancel()

	l.mu.Lock()
	snap, snapSeq := l.profile, l.seq
	l.written = snapSeq
	l.mu.Unlock()

	patch := models.ProfilePatch{Credits: &snap.Credits, Stats: &snap.Stats}
	if err := l.remote.UpdateProfile(ctx, l.userID, patch); err != nil {
		l.writeFailed(fmt.Errorf("%w: %v", ErrRemoteWrite, err))
		return
	}

	l.mu.Lock()
	l.dropThroughLocked(snapSeq)
	l.mu.Unlock()
}

// dropThroughLocked forgets spends up to and including seq.
func (l *Ledger) dropThroughLocked(seq uint64) {
	kept := l.unconfirmed[:0]
	for _, s := range l.unconfirmed {
		if s.seq > seq {
			kept = append(kept, s)
		}
	}
	l.unconfirmed = kept
}

// Upgrade switches tier and refills credits to the tier allotment. The local
// mirror only changes after the profile store accepts the write.
func (l *Ledger) Upgrade(ctx context.Context, tier models.Tier) error {
	if !tier.Valid() {
		return models.NewValidationError(fmt.Sprintf("unknown tier %q", tier))
	}

	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	credits := tier.Allotment()
	patch := models.ProfilePatch{Tier: &tier, Credits: &credits}
	if err := l.remote.UpdateProfile(ctx, l.userID, patch); err != nil {
		err = fmt.Errorf("%w: %v", ErrRemoteWrite, err)
		l.writeFailed(err)
		return err
	}

	l.mu.Lock()
	l.profile.Tier = tier
	l.profile.Credits = credits
	l.settleLocked()
	l.mu.Unlock()

	l.logger.Info("Tier upgraded", "tier", tier, "credits", credits)
	return nil
}

// ResetWeeklyCredits refills credits to the current tier allotment and stamps the reset time.
func (l *Ledger) ResetWeeklyCredits(ctx context.Context) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	return l.resetLocked(ctx)
}

// ResetIfDue runs the weekly refill when the last one is at least one reset
// interval old. It reports whether a reset happened.
func (l *Ledger) ResetIfDue(ctx context.Context) (bool, error) {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	if l.now().Sub(l.Profile().LastReset) < l.resetInterval {
		return false, nil
	}
	if err := l.resetLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) resetLocked(ctx context.Context) error {
	snap := l.Profile()
	credits := snap.Tier.Allotment()
	now := l.now().UTC()

	patch := models.ProfilePatch{Credits: &credits, LastReset: &now}
	if err := l.remote.UpdateProfile(ctx, l.userID, patch); err != nil {
		err = fmt.Errorf("%w: %v", ErrRemoteWrite, err)
		l.writeFailed(err)
		return err
	}

	l.mu.Lock()
	l.profile.Credits = credits
	l.profile.LastReset = now
	l.settleLocked()
	l.mu.Unlock()

	l.logger.Info("Weekly credits reset", "tier", snap.Tier, "credits", credits)
	return nil
}

// Reconcile replaces the local mirror with the profile store's copy, then
// re-applies spends no remote write has carried yet.
func (l *Ledger) Reconcile(ctx context.Context) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	return l.reconcileLocked(ctx)
}

func (l *Ledger) reconcileLocked(ctx context.Context) error {
	p, err := l.remote.GetProfile(ctx, l.userID)
	if err != nil {
		return fmt.Errorf("failed to re-fetch profile: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profile = p
	l.dropThroughLocked(l.written)
	kept := l.unconfirmed[:0]
	for _, s := range l.unconfirmed {
		if l.profile.Credits < s.cost {
			l.logger.Warn("Dropping spend the remote balance no longer covers", "cost", s.cost, "credits", l.profile.Credits)
			continue
		}
		l.profile.Credits -= s.cost
		if s.activity != models.ActivityNone {
			l.profile.Stats = l.profile.Stats.Increment(s.activity)
		}
		kept = append(kept, s)
	}
	l.unconfirmed = kept
	return nil
}

// settleLocked marks every spend so far as carried by the last write.
func (l *Ledger) settleLocked() {
	l.written = l.seq
	l.unconfirmed = l.unconfirmed[:0]
}

// writeFailed re-reads the profile on a fresh context, since the write may
// have failed because its own context expired.
func (l *Ledger) writeFailed(err error) {
	l.logger.Warn("Profile write failed, reconciling", "error", err)
	if l.onWriteFailure != nil {
		l.onWriteFailure(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.persistTimeout)
	defer cancel()
	if rerr := l.reconcileLocked(ctx); rerr != nil {
		l.logger.Error("Reconciliation failed", "error", rerr)
	}
}

// Wait blocks until every background write started so far has finished.
func (l *Ledger) Wait() {
	l.pending.Wait()
}

func validCost(cost float64) bool {
	return cost >= 0 && !math.IsNaN(cost) && !math.IsInf(cost, 0)
}
