package policy

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
)

// ErrNoCandidatesAvailable is returned when selection is attempted on an empty
// candidate list. It is fatal for the current goal-resolution cycle; callers
// must not retry without new input.
var ErrNoCandidatesAvailable = errors.New("no candidates available for selection")

const (
	// explorationPool bounds random choice to the best-ranked candidates so
	// exploration stays bounded-quality rather than fully random.
	explorationPool = 3

	// Combined-score blend between semantic total and learned value.
	semanticWeight = 0.7
	learnedWeight  = 0.3
)

// Agent picks one candidate per cycle using an epsilon-greedy policy over the
// scoring engine's ranking and the preference model's predictions.
type Agent struct {
	logger  *zap.Logger
	model   *PreferenceModel
	weights config.Weights

	// rng is injectable so tests can seed the exploration path. Guarded by
	// mu because math/rand sources are not safe for concurrent use.
	mu  sync.Mutex
	rng *rand.Rand
}

// NewAgent creates a decision agent bound to a shared preference model.
// A nil rng gets a time-seeded source.
func NewAgent(model *PreferenceModel, weights config.Weights, rng *rand.Rand, logger *zap.Logger) *Agent {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Agent{
		logger:  logger.Named("decision_agent"),
		model:   model,
		weights: weights,
		rng:     rng,
	}
}

// Select returns one candidate from the input list, annotated with its
// learned score, combined score and the selection method used. The agent
// never fabricates candidates.
func (a *Agent) Select(candidates []schemas.Candidate, intent schemas.Intent, page schemas.PageContext) (schemas.Candidate, error) {
	if len(candidates) == 0 {
		return schemas.Candidate{}, ErrNoCandidatesAvailable
	}

	a.mu.Lock()
	r := a.rng.Float64()
	a.mu.Unlock()

	eps := a.model.ExplorationRate()
	if r < eps {
		chosen := a.explore(candidates, intent)
		a.logger.Debug("Exploration pick",
			zap.String("selector", chosen.Element.Selector),
			zap.Float64("epsilon", eps),
		)
		return chosen, nil
	}

	chosen := a.exploit(candidates, intent)
	a.logger.Debug("Exploitation pick",
		zap.String("selector", chosen.Element.Selector),
		zap.Float64("combined_score", chosen.CombinedScore),
	)
	return chosen, nil
}

// explore chooses uniformly at random among the top candidates by total score.
func (a *Agent) explore(candidates []schemas.Candidate, intent schemas.Intent) schemas.Candidate {
	pool := explorationPool
	if len(candidates) < pool {
		pool = len(candidates)
	}

	a.mu.Lock()
	idx := a.rng.Intn(pool)
	a.mu.Unlock()

	chosen := candidates[idx]
	chosen.RLScore = a.model.Predict(Features(chosen, intent, a.weights))
	chosen.CombinedScore = a.combined(chosen.TotalScore, chosen.RLScore)
	chosen.Method = schemas.SelectionExploration
	return chosen
}

// exploit scores every candidate with the model and returns the argmax of the
// combined score, ties broken by original rank.
func (a *Agent) exploit(candidates []schemas.Candidate, intent schemas.Intent) schemas.Candidate {
	best := candidates[0]
	best.RLScore = a.model.Predict(Features(best, intent, a.weights))
	best.CombinedScore = a.combined(best.TotalScore, best.RLScore)

	for _, c := range candidates[1:] {
		c.RLScore = a.model.Predict(Features(c, intent, a.weights))
		c.CombinedScore = a.combined(c.TotalScore, c.RLScore)
		if c.CombinedScore > best.CombinedScore {
			best = c
		}
	}
	best.Method = schemas.SelectionExploitation
	return best
}

func (a *Agent) combined(total, learned float64) float64 {
	return semanticWeight*total + learnedWeight*learned
}
