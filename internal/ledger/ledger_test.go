package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illegalcall/wingwoman/internal/models"
)

// fakeRemote is an in-memory profile store.
type fakeRemote struct {
	mu        sync.Mutex
	profile   models.Profile
	failWrite bool
	writes    []models.ProfilePatch
	gets      int
	block     chan struct{}
	entered   chan struct{}
	failNext  int
}

func (f *fakeRemote) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	return f.profile, nil
}

func (f *fakeRemote) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errors.New("connection reset")
	}
	if f.failNext > 0 {
		f.failNext--
		return errors.New("connection reset")
	}
	f.writes = append(f.writes, patch)
	if patch.Tier != nil {
		f.profile.Tier = *patch.Tier
	}
	if patch.Credits != nil {
		f.profile.Credits = *patch.Credits
	}
	if patch.Stats != nil {
		f.profile.Stats = *patch.Stats
	}
	if patch.LastReset != nil {
		f.profile.LastReset = *patch.LastReset
	}
	return nil
}

func (f *fakeRemote) snapshot() models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile
}

func freeProfile(credits float64) models.Profile {
	return models.Profile{ID: "u1", Tier: models.TierFree, Credits: credits, LastReset: time.Now()}
}

func newTestLedger(credits float64, opts ...Option) (*Ledger, *fakeRemote) {
	remote := &fakeRemote{profile: freeProfile(credits)}
	return New(remote, remote.profile, opts...), remote
}

func TestTrySpend(t *testing.T) {
	tests := []struct {
		name    string
		balance float64
		cost    float64
		want    bool
		after   float64
	}{
		{"exact balance", 2, 2, true, 0},
		{"under balance", 3, 0.25, true, 2.75},
		{"free action", 0, 0, true, 0},
		{"over balance", 1.75, 2, false, 1.75},
		{"negative cost", 3, -1, false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, remote := newTestLedger(tt.balance)

			assert.Equal(t, tt.want, l.TrySpend(tt.cost, models.ActivityNone))
			l.Wait()

			assert.Equal(t, tt.after, l.Balance())
			assert.Equal(t, tt.after, remote.snapshot().Credits)
		})
	}
}

func TestTrySpendIncrementsActivity(t *testing.T) {
	l, remote := newTestLedger(3)

	require.True(t, l.TrySpend(models.CostIcebreaker, models.ActivityIcebreakers))
	require.True(t, l.TrySpend(models.CostAMAQuestion, models.ActivityQuestions))
	l.Wait()

	assert.Equal(t, models.UsageStats{Icebreakers: 1, Questions: 1}, l.Profile().Stats)
	assert.Equal(t, l.Profile().Stats, remote.snapshot().Stats)
}

func TestTrySpendRejectionDoesNotTouchStats(t *testing.T) {
	l, remote := newTestLedger(0.25)

	assert.False(t, l.TrySpend(models.CostPromptAnalyzer, models.ActivityPrompts))
	l.Wait()

	assert.Equal(t, models.UsageStats{}, l.Profile().Stats)
	assert.Empty(t, remote.writes)
}

func TestTrySpendNeverNegative(t *testing.T) {
	costs := []float64{0, models.CostIcebreaker, models.CostAMAQuestion, models.CostPromptAnalyzer, models.CostAssessmentRetry, 5}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		l, _ := newTestLedger(float64(rng.Intn(12)) / 4)
		for i := 0; i < 50; i++ {
			before := l.Balance()
			cost := costs[rng.Intn(len(costs))]
			ok := l.TrySpend(cost, models.ActivityNone)

			if cost <= before {
				assert.True(t, ok)
				assert.Equal(t, before-cost, l.Balance())
			} else {
				assert.False(t, ok)
				assert.Equal(t, before, l.Balance())
			}
			assert.GreaterOrEqual(t, l.Balance(), 0.0)
		}
		l.Wait()
	}
}

func TestTrySpendConcurrentCallers(t *testing.T) {
	l, remote := newTestLedger(3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TrySpend(models.CostIcebreaker, models.ActivityIcebreakers) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	l.Wait()

	assert.Equal(t, 12, granted)
	assert.Equal(t, 0.0, l.Balance())
	assert.Equal(t, 0.0, remote.snapshot().Credits)
	assert.Equal(t, 12, remote.snapshot().Stats.Icebreakers)
}

func TestTrySpendDoesNotBlockOnRemote(t *testing.T) {
	l, remote := newTestLedger(3)
	remote.block = make(chan struct{})

	done := make(chan bool, 1)
	go func() { done <- l.TrySpend(1, models.ActivityPrompts) }()

	select {
	case ok := <-done:
		assert.True(t, ok)
		assert.Equal(t, 2.0, l.Balance())
	case <-time.After(time.Second):
		t.Fatal("TrySpend waited for the remote write")
	}

	close(remote.block)
	l.Wait()
	assert.Equal(t, 2.0, remote.snapshot().Credits)
}

func TestTrySpendReconcilesOnWriteFailure(t *testing.T) {
	var hooked []error
	l, remote := newTestLedger(3, WithWriteFailureHook(func(err error) { hooked = append(hooked, err) }))
	remote.failWrite = true

	assert.True(t, l.TrySpend(2, models.ActivityAssessments))
	l.Wait()

	// The store never saw the spend, so the mirror falls back to its copy.
	assert.Equal(t, 3.0, l.Balance())
	assert.Equal(t, models.UsageStats{}, l.Profile().Stats)
	require.Len(t, hooked, 1)
	assert.ErrorIs(t, hooked[0], ErrRemoteWrite)
}

func TestFailedWriteKeepsLaterSpends(t *testing.T) {
	l, remote := newTestLedger(3)
	remote.failNext = 1
	remote.entered = make(chan struct{}, 2)
	remote.block = make(chan struct{})

	require.True(t, l.TrySpend(1, models.ActivityPrompts))
	<-remote.entered

	// Made while the first write is in flight, so that write never carried it.
	require.True(t, l.TrySpend(models.CostAMAQuestion, models.ActivityQuestions))
	close(remote.block)
	l.Wait()

	assert.Equal(t, 2.5, l.Balance())
	assert.Equal(t, models.UsageStats{Questions: 1}, l.Profile().Stats)
	assert.Equal(t, 2.5, remote.snapshot().Credits)
	assert.Equal(t, models.UsageStats{Questions: 1}, remote.snapshot().Stats)
}

func TestReconcileDropsSpendsRemoteCannotCover(t *testing.T) {
	l, remote := newTestLedger(3)
	remote.entered = make(chan struct{}, 2)
	remote.block = make(chan struct{})
	remote.failNext = 1

	require.True(t, l.TrySpend(1, models.ActivityPrompts))
	<-remote.entered
	require.True(t, l.TrySpend(2, models.ActivityAssessments))

	// Another device drained the balance meanwhile.
	remote.mu.Lock()
	remote.profile.Credits = 1
	remote.mu.Unlock()
	close(remote.block)
	l.Wait()

	assert.Equal(t, 1.0, l.Balance())
	assert.Equal(t, models.UsageStats{}, l.Profile().Stats)
}

func TestReconcileOverwritesLocalState(t *testing.T) {
	l, remote := newTestLedger(3)
	remote.mu.Lock()
	remote.profile.Credits = 1.5
	remote.profile.Tier = models.TierBasic
	remote.mu.Unlock()

	require.NoError(t, l.Reconcile(context.Background()))
	assert.Equal(t, 1.5, l.Balance())
	assert.Equal(t, models.TierBasic, l.Profile().Tier)
}

func TestUpgrade(t *testing.T) {
	for _, balance := range []float64{0, 1.75, 20000} {
		l, remote := newTestLedger(balance)

		require.NoError(t, l.Upgrade(context.Background(), models.TierPremium))

		assert.Equal(t, models.TierPremium, l.Profile().Tier)
		assert.Equal(t, 9999.0, l.Balance())
		assert.Equal(t, 9999.0, remote.snapshot().Credits)
	}
}

func TestUpgradeFailureLeavesLocalState(t *testing.T) {
	l, remote := newTestLedger(1)
	remote.failWrite = true

	err := l.Upgrade(context.Background(), models.TierBasic)
	assert.ErrorIs(t, err, ErrRemoteWrite)
	assert.Equal(t, models.TierFree, l.Profile().Tier)
	assert.Equal(t, 1.0, l.Balance())
}

func TestUpgradeRejectsUnknownTier(t *testing.T) {
	l, remote := newTestLedger(1)

	err := l.Upgrade(context.Background(), models.Tier("Gold"))
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeValidation, derr.Code)
	assert.Empty(t, remote.writes)
}

func TestResetWeeklyCredits(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	l, remote := newTestLedger(0.5, WithClock(func() time.Time { return now }))

	require.NoError(t, l.ResetWeeklyCredits(context.Background()))
	assert.Equal(t, 3.0, l.Balance())
	assert.Equal(t, now, l.Profile().LastReset)
	assert.Equal(t, now, remote.snapshot().LastReset)
}

func TestResetIfDue(t *testing.T) {
	last := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	now := last.Add(6 * 24 * time.Hour)

	remote := &fakeRemote{profile: models.Profile{ID: "u1", Tier: models.TierBasic, Credits: 1, LastReset: last}}
	l := New(remote, remote.profile, WithClock(func() time.Time { return now }))

	reset, err := l.ResetIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, reset)
	assert.Equal(t, 1.0, l.Balance())

	now = last.Add(7 * 24 * time.Hour)
	reset, err = l.ResetIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Equal(t, 5.0, l.Balance())
	assert.Equal(t, now, l.Profile().LastReset)
}

func TestFreeTierIcebreakerScenario(t *testing.T) {
	l, remote := newTestLedger(3)

	for i := 0; i < 5; i++ {
		assert.True(t, l.TrySpend(models.CostIcebreaker, models.ActivityIcebreakers))
	}
	assert.Equal(t, 1.75, l.Balance())

	assert.False(t, l.TrySpend(models.CostAssessmentRetry, models.ActivityAssessments))
	assert.Equal(t, 1.75, l.Balance())

	l.Wait()
	assert.Equal(t, 1.75, remote.snapshot().Credits)
	assert.Equal(t, 5, remote.snapshot().Stats.Icebreakers)
}

func TestOpen(t *testing.T) {
	remote := &fakeRemote{profile: freeProfile(2)}

	l, err := Open(context.Background(), remote, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, l.Balance())
	assert.Equal(t, 1, remote.gets)
}
