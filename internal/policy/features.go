package policy

import (
	"strings"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
)

// FeatureArity is the fixed length of the model's input vector. Changing it
// invalidates every persisted weight vector, so the feature set below is
// frozen and documented field by field.
const FeatureArity = 5

// FeatureVector is the model input derived from one candidate:
//
//	[0] base score: the candidate's weighted total excluding the learned
//	    term, renormalized by (1 - learned weight) so it stays in [0,1]
//	[1] text length, normalized (50+ chars saturates)
//	[2] horizontal center of the bounding box, normalized to a 1920px viewport
//	[3] vertical center of the bounding box, normalized to a 1080px viewport
//	[4] 1 when the element's tag, role or type is in the intent's expected
//	    element-type set, else 0
type FeatureVector [FeatureArity]float64

const (
	refViewportWidth  = 1920.0
	refViewportHeight = 1080.0
	textLenSaturation = 50.0
)

// Features extracts the model input for a candidate. It is deterministic:
// identical candidate, intent and weights always produce identical features.
func Features(c schemas.Candidate, intent schemas.Intent, w config.Weights) FeatureVector {
	var f FeatureVector

	f[0] = baseScore(c.Scores, w)
	f[1] = clamp01(float64(len(c.Element.Text)) / textLenSaturation)
	f[2] = clamp01((c.Element.Box.X + c.Element.Box.Width/2) / refViewportWidth)
	f[3] = clamp01((c.Element.Box.Y + c.Element.Box.Height/2) / refViewportHeight)
	if typeMatches(c.Element, intent.ExpectedTypes) {
		f[4] = 1
	}
	return f
}

// baseScore recomputes the weighted total without the learned-preference term.
// The renormalization keeps the feature in [0,1] regardless of the weight
// configuration.
func baseScore(s schemas.ScoreBreakdown, w config.Weights) float64 {
	raw := w.TextMatch*s.TextMatch +
		w.SemanticRelevance*s.SemanticRelevance +
		w.ContextualPosition*s.ContextualPosition +
		w.VisualProminence*s.VisualProminence
	denom := 1 - w.LearnedPreference
	if denom <= 0 {
		return clamp01(raw)
	}
	return clamp01(raw / denom)
}

func typeMatches(e schemas.Element, expected []string) bool {
	for _, t := range expected {
		if t == "" {
			continue
		}
		if strings.EqualFold(e.Tag, t) || strings.EqualFold(e.Role, t) || strings.EqualFold(e.Type, t) {
			return true
		}
	}
	return false
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
