package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
	"github.com/pagepilot/pagepilot/internal/policy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTrainer struct {
	mu      sync.Mutex
	batches [][]policy.Sample
	decays  int
	err     error
}

func (f *fakeTrainer) Update(batch []policy.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]policy.Sample, len(batch))
	copy(cp, batch)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeTrainer) DecayExploration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decays++
	return 0.0995
}

func (f *fakeTrainer) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeDurable struct {
	mu       sync.Mutex
	appended []schemas.Experience
	err      error
}

func (f *fakeDurable) Append(_ context.Context, exps ...schemas.Experience) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, exps...)
	return nil
}

func (f *fakeDurable) Count(context.Context, string) (int, error) { return 0, nil }

func (f *fakeDurable) LoadRecent(context.Context, string, int) ([]schemas.Experience, error) {
	return nil, nil
}

func newTestLedger(trainer Trainer, durable schemas.ExperienceStore) *Ledger {
	cfg := config.LedgerConfig{Retention: 1000, BatchSize: 10}
	return New(cfg, trainer, config.DefaultWeights(), durable, nil, zap.NewNop())
}

func experience(reward float64) schemas.Experience {
	return schemas.Experience{
		State: schemas.StateSnapshot{
			Intent: schemas.Intent{Action: schemas.ActionClick, Keywords: []string{"buy"}},
		},
		Action: schemas.Candidate{
			Element:    schemas.Element{Text: "Buy now", Tag: "button"},
			TotalScore: 0.8,
		},
		Reward: reward,
	}
}

func TestBatchTriggersModelUpdate(t *testing.T) {
	trainer := &fakeTrainer{}
	l := newTestLedger(trainer, nil)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.NoError(t, l.Record(ctx, experience(1)))
	}
	assert.Equal(t, 0, trainer.updateCount(), "no update before a full batch")

	require.NoError(t, l.Record(ctx, experience(-1)))
	require.Equal(t, 1, trainer.updateCount())
	assert.Equal(t, 1, trainer.decays, "exploration decays once per consumed batch")

	batch := trainer.batches[0]
	require.Len(t, batch, 10)
	assert.Equal(t, 1.0, batch[0].Target, "reward +1 maps to target 1")
	assert.Equal(t, 0.0, batch[9].Target, "reward -1 maps to target 0")
}

func TestFailedUpdateRetainsBatch(t *testing.T) {
	trainer := &fakeTrainer{err: errors.New("boom")}
	l := newTestLedger(trainer, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, experience(1)))
	}
	assert.Equal(t, 0, trainer.updateCount())
	assert.Equal(t, 10, l.Len(), "experiences survive a failed update")

	// Once the model recovers, the next record flushes everything held back.
	trainer.mu.Lock()
	trainer.err = nil
	trainer.mu.Unlock()
	require.NoError(t, l.Record(ctx, experience(1)))
	require.Equal(t, 1, trainer.updateCount())
	assert.Len(t, trainer.batches[0], 11)
}

func TestAdjustLastReward(t *testing.T) {
	trainer := &fakeTrainer{}
	l := newTestLedger(trainer, nil)
	ctx := context.Background()

	assert.ErrorIs(t, l.AdjustLastReward(schemas.FeedbackCorrectAction), ErrNoExperience)

	require.NoError(t, l.Record(ctx, experience(0.8)))
	require.NoError(t, l.AdjustLastReward(schemas.FeedbackCorrectAction))
	last := l.Recent(1)[0]
	assert.Equal(t, 1.0, last.Reward, "clamped at +1")
	assert.Equal(t, schemas.FeedbackCorrectAction, last.Feedback)

	require.NoError(t, l.Record(ctx, experience(1)))
	require.NoError(t, l.AdjustLastReward(schemas.FeedbackWrongAction))
	assert.Equal(t, 0.5, l.Recent(1)[0].Reward, "successful execution then wrong_action")

	require.NoError(t, l.Record(ctx, experience(-0.8)))
	require.NoError(t, l.AdjustLastReward(schemas.FeedbackWrongAction))
	assert.Equal(t, -1.0, l.Recent(1)[0].Reward, "clamped at -1")

	require.NoError(t, l.Record(ctx, experience(0.5)))
	require.NoError(t, l.AdjustLastReward(schemas.FeedbackBetterAlternative))
	assert.InDelta(t, 0.3, l.Recent(1)[0].Reward, 1e-9)

	assert.ErrorIs(t, l.AdjustLastReward(schemas.FeedbackKind("shrug")), ErrUnknownFeedback)
}

func TestFeedbackAfterConsumptionIsNoOp(t *testing.T) {
	trainer := &fakeTrainer{}
	l := newTestLedger(trainer, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, experience(1)))
	}
	require.Equal(t, 1, trainer.updateCount())

	require.NoError(t, l.AdjustLastReward(schemas.FeedbackWrongAction))
	last := l.Recent(1)[0]
	assert.Equal(t, 1.0, last.Reward, "consumed reward stays untouched")
	assert.Equal(t, schemas.FeedbackWrongAction, last.Feedback, "annotation still lands")
}

func TestRetentionEvictsOldest(t *testing.T) {
	trainer := &fakeTrainer{}
	cfg := config.LedgerConfig{Retention: 5, BatchSize: 100}
	l := New(cfg, trainer, config.DefaultWeights(), nil, nil, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		exp := experience(1)
		exp.ID = string(rune('a' + i))
		require.NoError(t, l.Record(ctx, exp))
	}
	assert.Equal(t, 5, l.Len())
	recent := l.Recent(5)
	assert.Equal(t, "d", recent[0].ID)
	assert.Equal(t, "h", recent[4].ID)
}

func TestRecentAccuracyWindow(t *testing.T) {
	trainer := &fakeTrainer{}
	l := newTestLedger(trainer, nil)
	ctx := context.Background()

	assert.Equal(t, 0.0, l.RecentAccuracy())

	// 10 old failures, then 20 successes; only the window of 20 counts.
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, experience(-1)))
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Record(ctx, experience(1)))
	}
	assert.Equal(t, 1.0, l.RecentAccuracy())
}

func TestDurableMirror(t *testing.T) {
	trainer := &fakeTrainer{}
	durable := &fakeDurable{}
	l := newTestLedger(trainer, durable)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, experience(1)))
	require.NoError(t, l.Record(ctx, experience(-1)))
	l.Close()

	durable.mu.Lock()
	defer durable.mu.Unlock()
	assert.Len(t, durable.appended, 2)
	assert.NotEmpty(t, durable.appended[0].ID)
	assert.False(t, durable.appended[0].CreatedAt.IsZero())
}

func TestDurableMirrorFailureDoesNotBlockRecording(t *testing.T) {
	trainer := &fakeTrainer{}
	durable := &fakeDurable{err: errors.New("db down")}
	l := newTestLedger(trainer, durable)

	require.NoError(t, l.Record(context.Background(), experience(1)))
	l.Close()
	assert.Equal(t, 1, l.Len())
}

func TestConcurrentRecording(t *testing.T) {
	trainer := &fakeTrainer{}
	l := newTestLedger(trainer, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = l.Record(context.Background(), experience(1))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, l.Len())
	assert.Equal(t, 20, trainer.updateCount())
}
