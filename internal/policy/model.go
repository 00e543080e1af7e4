package policy

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedBatch is returned when an update batch contains an out-of-range
// target. The update is all-or-nothing: on this error no weight has changed.
var ErrMalformedBatch = errors.New("malformed training batch")

// Sample is one training example for the preference model.
type Sample struct {
	Features FeatureVector `json:"features"`
	// Target is the desired output in [0,1] (rewards are rescaled before
	// they reach the model).
	Target float64 `json:"target"`
}

// PreferenceModel is a small online logistic model mapping a feature vector to
// a preference value in [0,1]. It is shared mutable state across sessions:
// updates are serialized, and predictions read a consistent snapshot.
type PreferenceModel struct {
	logger *zap.Logger

	mu      sync.RWMutex
	weights [FeatureArity]float64
	bias    float64

	learningRate float64
	exploration  float64
	initialEps   float64
	decay        float64
	minEps       float64
	updates      int
}

// NewPreferenceModel creates a cold model. A cold model predicts 0.5 for every
// input (zero weights, zero bias through the sigmoid).
func NewPreferenceModel(cfg config.PolicyConfig, logger *zap.Logger) *PreferenceModel {
	return &PreferenceModel{
		logger:       logger.Named("preference_model"),
		learningRate: cfg.LearningRate,
		exploration:  cfg.ExplorationRate,
		initialEps:   cfg.ExplorationRate,
		decay:        cfg.ExplorationDecay,
		minEps:       cfg.MinExplorationRate,
	}
}

// Predict returns the learned preference for a feature vector, in [0,1].
// Concurrent with an Update it sees either the pre- or post-update weights,
// never a partial mix.
func (m *PreferenceModel) Predict(f FeatureVector) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forward(f)
}

// forward computes the sigmoid output. Callers must hold at least a read lock.
func (m *PreferenceModel) forward(f FeatureVector) float64 {
	z := m.bias
	for i, w := range m.weights {
		z += w * f[i]
	}
	return 1 / (1 + math.Exp(-z))
}

// Update applies one gradient step per batch entry at a fixed learning rate.
// The step is deterministic: identical batch and starting weights always
// produce identical weights. A malformed batch leaves the weights untouched.
func (m *PreferenceModel) Update(batch []Sample) error {
	if len(batch) == 0 {
		return nil
	}
	for _, s := range batch {
		if s.Target < 0 || s.Target > 1 || math.IsNaN(s.Target) {
			return fmt.Errorf("%w: target %v out of [0,1]", ErrMalformedBatch, s.Target)
		}
		for _, v := range s.Features {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite feature %v", ErrMalformedBatch, v)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range batch {
		out := m.forward(s.Features)
		grad := out - s.Target
		for i := range m.weights {
			m.weights[i] -= m.learningRate * grad * s.Features[i]
		}
		m.bias -= m.learningRate * grad
	}
	m.updates++

	m.logger.Debug("Preference model updated",
		zap.Int("batch_size", len(batch)),
		zap.Int("total_updates", m.updates),
	)
	return nil
}

// DecayExploration multiplies epsilon by the configured decay factor, floored
// at the configured minimum. Called once per consumed batch.
func (m *PreferenceModel) DecayExploration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exploration = math.Max(m.minEps, m.exploration*m.decay)
	return m.exploration
}

// ExplorationRate returns the current epsilon.
func (m *PreferenceModel) ExplorationRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exploration
}

// ResetExploration restores epsilon to its configured initial value. This is
// the only path on which the rate may increase.
func (m *PreferenceModel) ResetExploration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exploration = m.initialEps
}

// UpdateCount reports how many batches have been applied.
func (m *PreferenceModel) UpdateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}

// snapshot is the serialized form of the model state.
type snapshot struct {
	Weights     [FeatureArity]float64 `json:"weights"`
	Bias        float64               `json:"bias"`
	Exploration float64               `json:"exploration_rate"`
	Updates     int                   `json:"updates"`
}

// Save writes the model state to a file.
func (m *PreferenceModel) Save(path string) error {
	m.mu.RLock()
	snap := snapshot{
		Weights:     m.weights,
		Bias:        m.bias,
		Exploration: m.exploration,
		Updates:     m.updates,
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write model state: %w", err)
	}
	return nil
}

// Load restores model state from a file previously written by Save.
func (m *PreferenceModel) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read model state: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal model state: %w", err)
	}
	if snap.Exploration < m.minEps {
		snap.Exploration = m.minEps
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights = snap.Weights
	m.bias = snap.Bias
	m.exploration = snap.Exploration
	m.updates = snap.Updates
	return nil
}
