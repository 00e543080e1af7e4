package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
	"github.com/pagepilot/pagepilot/internal/policy"
)

type stubPredictor struct {
	value float64
}

func (s stubPredictor) Predict(policy.FeatureVector) float64 { return s.value }

func newTestEngine(t *testing.T, p Predictor) *Engine {
	t.Helper()
	cfg := config.ScoringConfig{
		Weights:           config.DefaultWeights(),
		MinCandidateScore: 0.3,
		TopN:              3,
	}
	eng, err := New(cfg, p, zap.NewNop())
	require.NoError(t, err)
	return eng
}

func loginPage() ([]schemas.Element, schemas.Intent) {
	elements := []schemas.Element{
		{
			Selector: "#terms",
			Text:     "Terms of Service",
			Tag:      "a",
			Role:     "link",
			Box:      schemas.Rect{X: 400, Y: 1800, Width: 120, Height: 16},
			Visible:  true,
			Enabled:  true,
			DOMIndex: 0,
		},
		{
			Selector:   "#login-btn",
			Text:       "Sign In",
			Label:      "Sign in to your account",
			Tag:        "button",
			Role:       "button",
			Box:        schemas.Rect{X: 860, Y: 120, Width: 140, Height: 44},
			Visible:    true,
			Enabled:    true,
			NearbyText: "Welcome back, enter your account credentials",
			DOMIndex:   1,
		},
		{
			Selector: "#hidden-promo",
			Text:     "Sign In Bonus",
			Tag:      "div",
			Box:      schemas.Rect{X: 0, Y: 0, Width: 100, Height: 30},
			Visible:  false,
			DOMIndex: 2,
		},
	}
	intent := schemas.Intent{
		Goal:          "log into my account",
		Action:        schemas.ActionClick,
		Keywords:      []string{"sign in", "login", "log in"},
		ExpectedTypes: []string{"button"},
		ContextClues:  []string{"account"},
	}
	return elements, intent
}

func TestScoreRanksKeywordButtonFirst(t *testing.T) {
	eng := newTestEngine(t, stubPredictor{value: 0.5})
	elements, intent := loginPage()

	ranked, err := eng.Score(context.Background(), intent, elements)
	require.NoError(t, err)
	require.Len(t, ranked, 2, "invisible element must be filtered out")

	assert.Equal(t, "#login-btn", ranked[0].Element.Selector)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Greater(t, ranked[0].TotalScore, ranked[1].TotalScore)
	assert.Greater(t, ranked[0].Scores.TextMatch, 0.0)
	assert.Greater(t, ranked[0].Scores.SemanticRelevance, ranked[1].Scores.SemanticRelevance)
}

func TestScoreIsDeterministic(t *testing.T) {
	eng := newTestEngine(t, stubPredictor{value: 0.42})
	elements, intent := loginPage()

	first, err := eng.Score(context.Background(), intent, elements)
	require.NoError(t, err)
	second, err := eng.Score(context.Background(), intent, elements)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Element.Selector, second[i].Element.Selector)
		assert.Equal(t, first[i].TotalScore, second[i].TotalScore)
		assert.Equal(t, first[i].Confidence, second[i].Confidence)
	}
}

func TestScoreBoundsHold(t *testing.T) {
	eng := newTestEngine(t, stubPredictor{value: 1.0})
	elements, intent := loginPage()

	ranked, err := eng.Score(context.Background(), intent, elements)
	require.NoError(t, err)

	for _, c := range ranked {
		for name, v := range map[string]float64{
			"text_match":          c.Scores.TextMatch,
			"semantic_relevance":  c.Scores.SemanticRelevance,
			"contextual_position": c.Scores.ContextualPosition,
			"visual_prominence":   c.Scores.VisualProminence,
			"learned_preference":  c.Scores.LearnedPreference,
			"total":               c.TotalScore,
			"confidence":          c.Confidence,
		} {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 1.0, name)
		}
	}
}

func TestScoreEmptyInput(t *testing.T) {
	eng := newTestEngine(t, stubPredictor{})

	_, err := eng.Score(context.Background(), schemas.Intent{Action: schemas.ActionClick}, nil)
	assert.ErrorIs(t, err, ErrEmptyCandidateSet)

	invisible := []schemas.Element{{Selector: "#x", Visible: false}}
	_, err = eng.Score(context.Background(), schemas.Intent{Action: schemas.ActionClick}, invisible)
	assert.ErrorIs(t, err, ErrEmptyCandidateSet)
}

func TestScoreTiesKeepDOMOrder(t *testing.T) {
	eng := newTestEngine(t, stubPredictor{value: 0.5})
	// Two identical elements apart from selector and DOM position.
	el := schemas.Element{
		Text:    "Checkout",
		Tag:     "button",
		Role:    "button",
		Box:     schemas.Rect{X: 100, Y: 100, Width: 100, Height: 40},
		Visible: true,
		Enabled: true,
	}
	a, b := el, el
	a.Selector, a.DOMIndex = "#first", 0
	b.Selector, b.DOMIndex = "#second", 1

	intent := schemas.Intent{
		Action:   schemas.ActionClick,
		Keywords: []string{"checkout"},
	}
	ranked, err := eng.Score(context.Background(), intent, []schemas.Element{a, b})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "#first", ranked[0].Element.Selector)
	assert.Equal(t, ranked[0].TotalScore, ranked[1].TotalScore)
}

func TestTopCandidatesFiltersByMinScore(t *testing.T) {
	eng := newTestEngine(t, stubPredictor{value: 0.5})
	ranked := []schemas.Candidate{
		{TotalScore: 0.9, Rank: 1},
		{TotalScore: 0.6, Rank: 2},
		{TotalScore: 0.2, Rank: 3},
		{TotalScore: 0.1, Rank: 4},
	}

	top := eng.TopCandidates(ranked, 3)
	require.Len(t, top, 2)
	assert.Equal(t, 0.9, top[0].TotalScore)
	assert.Equal(t, 0.6, top[1].TotalScore)

	assert.Len(t, eng.TopCandidates(ranked, 1), 1)
	assert.Empty(t, eng.TopCandidates(nil, 3))
}

func TestGapConfidence(t *testing.T) {
	tests := []struct {
		name   string
		ranked []schemas.Candidate
		want   float64
	}{
		{
			name:   "lone candidate uses own magnitude",
			ranked: []schemas.Candidate{{TotalScore: 0.8}},
			want:   0.8,
		},
		{
			name: "maximal gap and magnitude saturates",
			ranked: []schemas.Candidate{
				{TotalScore: 1.0},
				{TotalScore: 0.0},
			},
			want: 1.0,
		},
		{
			name: "tied top halves confidence",
			ranked: []schemas.Candidate{
				{TotalScore: 0.8},
				{TotalScore: 0.8},
			},
			want: 0.4,
		},
		{
			name:   "zero top score",
			ranked: []schemas.Candidate{{TotalScore: 0}, {TotalScore: 0}},
			want:   0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, gapConfidence(tc.ranked), 1e-9)
		})
	}
}

func TestExplainScoreListsEveryTerm(t *testing.T) {
	eng := newTestEngine(t, stubPredictor{value: 0.5})
	c := schemas.Candidate{
		TotalScore: 0.72,
		Confidence: 0.61,
		Scores: schemas.ScoreBreakdown{
			TextMatch:         1.0,
			SemanticRelevance: 0.6,
		},
	}
	out := eng.ExplainScore(c)
	for _, want := range []string{
		"text_match", "semantic_relevance", "contextual_position",
		"visual_prominence", "learned_preference", "0.72", "0.61",
	} {
		assert.Contains(t, out, want)
	}
}

func TestNewRejectsBadWeights(t *testing.T) {
	cfg := config.ScoringConfig{
		Weights: config.Weights{TextMatch: 0.9, SemanticRelevance: 0.9},
	}
	_, err := New(cfg, stubPredictor{}, zap.NewNop())
	assert.Error(t, err)
}
