package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
	"github.com/pagepilot/pagepilot/internal/policy"
)

// ErrEmptyCandidateSet is returned when no visible element survives filtering.
// It is a valid outcome ("nothing found"), not a condition to retry.
var ErrEmptyCandidateSet = errors.New("no visible candidates after filtering")

// Predictor supplies the learned-preference sub-score. The scoring engine
// stays pure; the predictor is the only stateful input and is read-only here.
type Predictor interface {
	Predict(f policy.FeatureVector) float64
}

// roleMatches maps action types to ARIA roles that satisfy them.
var roleMatches = map[schemas.ActionType][]string{
	schemas.ActionClick:    {"button", "link", "menuitem"},
	schemas.ActionNavigate: {"link", "navigation"},
	schemas.ActionFillForm: {"textbox", "searchbox", "combobox"},
	schemas.ActionSearch:   {"searchbox", "textbox"},
	schemas.ActionSelect:   {"listbox", "combobox", "radio", "checkbox"},
	schemas.ActionPurchase: {"button", "link"},
	schemas.ActionContact:  {"link", "button", "textbox"},
}

// topOfPageActions favor header and nav landmarks in the position term.
var topOfPageActions = map[schemas.ActionType]bool{
	schemas.ActionNavigate: true,
	schemas.ActionSearch:   true,
}

// Engine ranks page elements against an intent. It holds no state across
// calls: identical (intent, elements) input always yields identical output.
type Engine struct {
	logger      *zap.Logger
	weights     config.Weights
	minScore    float64
	topN        int
	parallelism int
	predictor   Predictor
}

// New creates a scoring engine. The weight vector is validated here so that a
// bad configuration fails at construction, not mid-ranking.
func New(cfg config.ScoringConfig, predictor Predictor, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("scoring engine: %w", err)
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = 3
	}
	return &Engine{
		logger:      logger.Named("scoring"),
		weights:     cfg.Weights,
		minScore:    cfg.MinCandidateScore,
		topN:        topN,
		parallelism: cfg.Parallelism,
		predictor:   predictor,
	}, nil
}

// Score computes the five sub-scores for every visible element and returns
// candidates stable-sorted by total score descending, ties broken by original
// DOM order. Returns ErrEmptyCandidateSet when nothing survives filtering.
func (e *Engine) Score(ctx context.Context, intent schemas.Intent, elements []schemas.Element) ([]schemas.Candidate, error) {
	visible := make([]schemas.Element, 0, len(elements))
	for _, el := range elements {
		if el.Interactable() {
			visible = append(visible, el)
		}
	}
	if len(visible) == 0 {
		return nil, ErrEmptyCandidateSet
	}

	candidates := make([]schemas.Candidate, len(visible))

	// Per-element sub-scores are independent; fan out across the slice.
	g, gctx := errgroup.WithContext(ctx)
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for i := range visible {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			el := visible[i]
			candidates[i] = schemas.Candidate{
				Element: el,
				Scores: schemas.ScoreBreakdown{
					TextMatch:         textMatch(el, intent.Keywords),
					SemanticRelevance: semanticRelevance(el, intent),
					VisualProminence:  visualProminence(el),
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The proximity term needs the keyword-bearing elements' centroid, so it
	// runs after the parallel pass.
	cx, cy, hasAnchor := matchCentroid(candidates)
	for i := range candidates {
		c := &candidates[i]
		pos := positionRelevance(c.Element, intent)
		prox := 0.5
		if hasAnchor {
			prox = proximity(c.Element, cx, cy)
		}
		c.Scores.ContextualPosition = (pos + prox) / 2

		learned := 0.5
		if e.predictor != nil {
			learned = clamp01(e.predictor.Predict(policy.Features(*c, intent, e.weights)))
		}
		c.Scores.LearnedPreference = learned
		c.TotalScore = e.total(c.Scores)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TotalScore > candidates[j].TotalScore
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
		candidates[i].Confidence = e.dispersionConfidence(candidates[i])
	}
	// The top candidate's confidence is the decisive one: it reflects how far
	// it stands above the runner-up, gating automatic execution downstream.
	candidates[0].Confidence = gapConfidence(candidates)

	e.logger.Debug("Elements scored",
		zap.Int("visible", len(visible)),
		zap.Int("filtered_out", len(elements)-len(visible)),
		zap.Float64("top_score", candidates[0].TotalScore),
		zap.Float64("confidence", candidates[0].Confidence),
	)
	return candidates, nil
}

// TopCandidates returns up to n candidates at or above the configured minimum
// score. The input must already be ranked.
func (e *Engine) TopCandidates(candidates []schemas.Candidate, n int) []schemas.Candidate {
	if n <= 0 {
		n = e.topN
	}
	out := make([]schemas.Candidate, 0, n)
	for _, c := range candidates {
		if c.TotalScore < e.minScore {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

// ExplainScore renders a human-readable breakdown of one candidate's score.
func (e *Engine) ExplainScore(c schemas.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score: %.2f (Confidence: %.2f)\n", c.TotalScore, c.Confidence)
	b.WriteString("Breakdown:\n")
	for _, row := range []struct {
		name   string
		value  float64
		weight float64
	}{
		{"text_match", c.Scores.TextMatch, e.weights.TextMatch},
		{"semantic_relevance", c.Scores.SemanticRelevance, e.weights.SemanticRelevance},
		{"contextual_position", c.Scores.ContextualPosition, e.weights.ContextualPosition},
		{"visual_prominence", c.Scores.VisualProminence, e.weights.VisualProminence},
		{"learned_preference", c.Scores.LearnedPreference, e.weights.LearnedPreference},
	} {
		fmt.Fprintf(&b, "  - %s: %.2f (weight: %.2f, contribution: %.2f)\n",
			row.name, row.value, row.weight, row.value*row.weight)
	}
	return b.String()
}

func (e *Engine) total(s schemas.ScoreBreakdown) float64 {
	return clamp01(e.weights.TextMatch*s.TextMatch +
		e.weights.SemanticRelevance*s.SemanticRelevance +
		e.weights.ContextualPosition*s.ContextualPosition +
		e.weights.VisualProminence*s.VisualProminence +
		e.weights.LearnedPreference*s.LearnedPreference)
}

// gapConfidence derives the gate confidence from the gap between the top two
// candidates combined with the top score's magnitude. It saturates at 1.0 only
// when the top score is maximal and the runner-up is at zero, and a lone
// candidate's confidence reduces to its own magnitude.
func gapConfidence(ranked []schemas.Candidate) float64 {
	top := ranked[0].TotalScore
	if top <= 0 {
		return 0
	}
	second := 0.0
	if len(ranked) > 1 {
		second = ranked[1].TotalScore
	}
	gap := (top - second) / top
	return clamp01(top * (0.5 + 0.5*gap))
}

// dispersionConfidence mirrors how consistently the sub-scores agree: a high
// total built from uniform sub-scores is trustworthy, a high total carried by
// one outlier sub-score is not.
func (e *Engine) dispersionConfidence(c schemas.Candidate) float64 {
	values := [5]float64{
		c.Scores.TextMatch,
		c.Scores.SemanticRelevance,
		c.Scores.ContextualPosition,
		c.Scores.VisualProminence,
		c.Scores.LearnedPreference,
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return clamp01(c.TotalScore * (1 - variance))
}

// -- Sub-score computations --

// textMatch is the fraction of intent keywords present (case-insensitive
// substring) in the element's combined text and label; fuzzy word matches
// above the similarity cutoff count half.
func textMatch(el schemas.Element, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	combined := strings.ToLower(strings.TrimSpace(el.Text + " " + el.Label))
	if combined == "" {
		return 0
	}

	words := strings.Fields(combined)
	matched := 0.0
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(combined, kw) {
			matched++
			continue
		}
		for _, w := range words {
			if similarity(kw, w) > fuzzyCutoff {
				matched += 0.5
				break
			}
		}
	}
	return clamp01(matched / float64(len(keywords)))
}

// semanticRelevance checks the element's tag/role/type against the intent's
// expected element types and built-in role table, then adds a context-clue
// bonus in [0,0.5] for overlap with nearby text.
func semanticRelevance(el schemas.Element, intent schemas.Intent) float64 {
	score := 0.0
	for _, expected := range intent.ExpectedTypes {
		if strings.EqualFold(el.Tag, expected) ||
			strings.EqualFold(el.Role, expected) ||
			strings.EqualFold(el.Type, expected) {
			score = 0.5
			break
		}
	}
	if score == 0 {
		for _, role := range roleMatches[intent.Action] {
			if strings.EqualFold(el.Role, role) || strings.EqualFold(el.Tag, role) {
				score = 0.5
				break
			}
		}
	}

	if len(intent.ContextClues) > 0 && el.NearbyText != "" {
		nearby := strings.ToLower(el.NearbyText)
		hits := 0
		for _, clue := range intent.ContextClues {
			if clue != "" && strings.Contains(nearby, strings.ToLower(clue)) {
				hits++
			}
		}
		score += 0.5 * float64(hits) / float64(len(intent.ContextClues))
	}

	if el.Enabled {
		score += 0.1
	}
	return clamp01(score)
}

// positionRelevance favors page regions where the action type expects its
// target: navigation and search near the top and inside header/nav landmarks,
// everything else with a mild top-of-page bias.
func positionRelevance(el schemas.Element, intent schemas.Intent) float64 {
	score := 0.5

	switch y := el.Box.Y; {
	case y < 200:
		score += 0.3
	case y < 500:
		score += 0.1
	}

	for _, parent := range el.ParentTags {
		switch strings.ToLower(parent) {
		case "header", "nav":
			if topOfPageActions[intent.Action] {
				score += 0.2
			} else {
				score += 0.1
			}
		case "main", "form":
			if intent.Action == schemas.ActionFillForm || intent.Action == schemas.ActionSelect {
				score += 0.2
			}
		}
	}
	return clamp01(score)
}

// matchCentroid returns the center of mass of keyword-bearing elements, which
// anchors the proximity term. Reported false when no element matched.
func matchCentroid(candidates []schemas.Candidate) (cx, cy float64, ok bool) {
	n := 0
	for _, c := range candidates {
		if c.Scores.TextMatch > 0 {
			cx += c.Element.Box.X + c.Element.Box.Width/2
			cy += c.Element.Box.Y + c.Element.Box.Height/2
			n++
		}
	}
	if n == 0 {
		return 0, 0, false
	}
	return cx / float64(n), cy / float64(n), true
}

// proximity decays with euclidean distance from the match centroid; 1000px
// away scores 0.5.
func proximity(el schemas.Element, cx, cy float64) float64 {
	dx := el.Box.X + el.Box.Width/2 - cx
	dy := el.Box.Y + el.Box.Height/2 - cy
	dist := math.Hypot(dx, dy)
	return clamp01(1 / (1 + dist/1000))
}

// referenceArea is a generous button footprint; larger elements saturate the
// size term.
const referenceArea = 20000.0

// visualProminence scores size, visibility, enablement and stacking. Invisible
// and zero-area elements never reach this function.
func visualProminence(el schemas.Element) float64 {
	score := 0.4 * math.Min(1, el.Box.Area()/referenceArea)
	if el.Visible {
		score += 0.3
	}
	if el.Enabled {
		score += 0.2
	}
	if el.ZIndex > 0 {
		score += 0.1
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
