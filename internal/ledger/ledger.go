package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
	"github.com/pagepilot/pagepilot/internal/observability"
	"github.com/pagepilot/pagepilot/internal/policy"
)

var (
	// ErrNoExperience is returned when feedback arrives before any experience
	// has been recorded.
	ErrNoExperience = errors.New("no experience recorded yet")

	// ErrUnknownFeedback is returned for a feedback kind outside the known set.
	ErrUnknownFeedback = errors.New("unknown feedback kind")
)

// feedbackDeltas maps explicit human feedback to a reward adjustment.
var feedbackDeltas = map[schemas.FeedbackKind]float64{
	schemas.FeedbackCorrectAction:     0.5,
	schemas.FeedbackWrongAction:       -0.5,
	schemas.FeedbackBetterAlternative: -0.2,
}

// accuracyWindow is how many recent experiences the accuracy statistic reads.
const accuracyWindow = 20

const mirrorTimeout = 5 * time.Second

// Trainer is the slice of the preference model the ledger drives.
type Trainer interface {
	Update(batch []policy.Sample) error
	DecayExploration() float64
}

// Ledger is the in-memory, append-only experience buffer. Whenever a full
// batch of unconsumed entries accumulates it converts them to training
// samples, feeds the model, and decays exploration. Entries past the
// retention cap are evicted oldest-first. All methods are safe for
// concurrent use.
type Ledger struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	model   Trainer
	weights config.Weights
	durable schemas.ExperienceStore

	mu         sync.Mutex
	entries    []schemas.Experience
	unconsumed int
	retention  int
	batchSize  int

	mirrorWG sync.WaitGroup
}

// New builds a ledger. durable may be nil, in which case experiences live only
// in memory; metrics may be nil in tests.
func New(cfg config.LedgerConfig, model Trainer, weights config.Weights, durable schemas.ExperienceStore, metrics *observability.Metrics, logger *zap.Logger) *Ledger {
	retention := cfg.Retention
	if retention <= 0 {
		retention = 1000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Ledger{
		logger:    logger.Named("ledger"),
		metrics:   metrics,
		model:     model,
		weights:   weights,
		durable:   durable,
		retention: retention,
		batchSize: batchSize,
	}
}

// Record appends one experience. Missing identity fields are filled in, the
// reward is clamped to [-1,1], and a full unconsumed batch triggers a model
// update. A failed model update is logged and retried on the next record; the
// experience itself is never lost.
func (l *Ledger) Record(ctx context.Context, exp schemas.Experience) error {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
	exp.Reward = clampReward(exp.Reward)

	l.mu.Lock()
	l.entries = append(l.entries, exp)
	l.unconsumed++
	l.evictLocked()
	if l.unconsumed >= l.batchSize {
		l.consumeLocked()
	}
	count := len(l.entries)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.ExperiencesTotal.WithLabelValues(rewardOutcome(exp.Reward)).Inc()
	}
	l.logger.Debug("Experience recorded",
		zap.String("experience_id", exp.ID),
		zap.String("session_id", exp.SessionID),
		zap.Float64("reward", exp.Reward),
		zap.Bool("vision_fallback", exp.VisionFallback),
		zap.Int("ledger_size", count),
	)

	if l.durable != nil {
		l.mirrorWG.Add(1)
		go l.mirror(exp)
	}
	return ctx.Err()
}

// AdjustLastReward applies explicit feedback to the most recent experience.
// Feedback arriving after the entry was consumed by a model update is a no-op:
// the training signal already left the building, so only the annotation is
// worth logging.
func (l *Ledger) AdjustLastReward(kind schemas.FeedbackKind) error {
	delta, ok := feedbackDeltas[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFeedback, kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return ErrNoExperience
	}
	last := &l.entries[len(l.entries)-1]
	if l.unconsumed == 0 {
		l.logger.Info("Feedback arrived after model update, reward unchanged",
			zap.String("experience_id", last.ID),
			zap.String("feedback", string(kind)),
		)
		last.Feedback = kind
		return nil
	}
	last.Reward = clampReward(last.Reward + delta)
	last.Feedback = kind
	l.logger.Debug("Reward adjusted",
		zap.String("experience_id", last.ID),
		zap.String("feedback", string(kind)),
		zap.Float64("reward", last.Reward),
	)
	return nil
}

// RecentAccuracy is the fraction of positive-reward entries among the most
// recent window. Zero when the ledger is empty.
func (l *Ledger) RecentAccuracy() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return 0
	}
	start := len(l.entries) - accuracyWindow
	if start < 0 {
		start = 0
	}
	window := l.entries[start:]
	positive := 0
	for _, e := range window {
		if e.Reward > 0 {
			positive++
		}
	}
	return float64(positive) / float64(len(window))
}

// Len reports how many experiences are currently retained.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Recent returns copies of the newest n experiences, newest last.
func (l *Ledger) Recent(n int) []schemas.Experience {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]schemas.Experience, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Close waits for in-flight durable mirror writes to finish.
func (l *Ledger) Close() {
	l.mirrorWG.Wait()
}

// consumeLocked turns every unconsumed entry into a training sample and feeds
// the model in one batch. On success exploration decays one step; on failure
// the entries stay unconsumed and the next record retries.
func (l *Ledger) consumeLocked() {
	batch := l.entries[len(l.entries)-l.unconsumed:]
	samples := make([]policy.Sample, len(batch))
	for i, exp := range batch {
		samples[i] = policy.Sample{
			Features: policy.Features(exp.Action, exp.State.Intent, l.weights),
			Target:   (exp.Reward + 1) / 2,
		}
	}
	if err := l.model.Update(samples); err != nil {
		l.logger.Error("Model update failed, batch retained",
			zap.String("code", "MODEL_UPDATE_FAILURE"),
			zap.Int("batch_size", len(samples)),
			zap.Error(err),
		)
		return
	}
	l.unconsumed = 0
	eps := l.model.DecayExploration()
	if l.metrics != nil {
		l.metrics.ModelUpdates.Inc()
		l.metrics.ExplorationRate.Set(eps)
	}
	l.logger.Info("Model updated from experience batch",
		zap.Int("batch_size", len(samples)),
		zap.Float64("exploration_rate", eps),
	)
}

func (l *Ledger) evictLocked() {
	for len(l.entries) > l.retention {
		if l.unconsumed >= len(l.entries) {
			l.unconsumed = len(l.entries) - 1
		}
		l.entries = l.entries[1:]
	}
}

func (l *Ledger) mirror(exp schemas.Experience) {
	defer l.mirrorWG.Done()
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := l.durable.Append(ctx, exp); err != nil {
		l.logger.Warn("Durable experience write failed",
			zap.String("experience_id", exp.ID),
			zap.Error(err),
		)
	}
}

func rewardOutcome(reward float64) string {
	switch {
	case reward > 0:
		return "positive"
	case reward < 0:
		return "negative"
	default:
		return "neutral"
	}
}

func clampReward(r float64) float64 {
	switch {
	case r < -1:
		return -1
	case r > 1:
		return 1
	default:
		return r
	}
}
