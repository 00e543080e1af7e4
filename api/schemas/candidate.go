package schemas

// ScoreBreakdown holds the five named sub-scores computed per element.
// Every field is in [0,1]. The struct is fixed-shape on purpose: the
// preference model's feature arity depends on it.
type ScoreBreakdown struct {
	TextMatch          float64 `json:"text_match"`
	SemanticRelevance  float64 `json:"semantic_relevance"`
	ContextualPosition float64 `json:"contextual_position"`
	VisualProminence   float64 `json:"visual_prominence"`
	LearnedPreference  float64 `json:"learned_preference"`
}

// SelectionMethod records which epsilon-greedy path chose a candidate.
type SelectionMethod string

const (
	SelectionExploration  SelectionMethod = "exploration"
	SelectionExploitation SelectionMethod = "exploitation"
)

// Candidate is a scored, rankable element considered as an action target.
// Candidates are produced fresh per request and ordered by TotalScore
// descending, ties broken by original DOM order.
type Candidate struct {
	Element    Element        `json:"element"`
	Scores     ScoreBreakdown `json:"scores"`
	TotalScore float64        `json:"total_score"`
	// Confidence measures how decisively this candidate stands out from the
	// runner-up; it gates automatic execution and is never recomputed
	// downstream of the scoring engine.
	Confidence float64 `json:"confidence"`
	Rank       int     `json:"rank"` // 1-based, assigned after sorting

	// Decision-agent annotations. Zero until the agent has seen the candidate.
	RLScore       float64         `json:"rl_score,omitempty"`
	CombinedScore float64         `json:"combined_score,omitempty"`
	Method        SelectionMethod `json:"selection_method,omitempty"`
}

// DecisionKind is the outcome of the confidence gate.
type DecisionKind string

const (
	DecisionAutoExecute          DecisionKind = "auto_execute"
	DecisionRequestUserSelection DecisionKind = "request_user_selection"
)

// Decision is the action selector's answer for one goal-resolution cycle.
type Decision struct {
	Kind DecisionKind `json:"kind"`
	// Selected is set for auto-execute decisions.
	Selected *Candidate `json:"selected,omitempty"`
	// TopCandidates carries at most three candidates offered for user
	// disambiguation; Recommended flags the one the agent would have chosen.
	TopCandidates []Candidate `json:"top_candidates,omitempty"`
	Recommended   *Candidate  `json:"recommended,omitempty"`
	Confidence    float64     `json:"confidence"`
	Explanation   string      `json:"explanation,omitempty"`
}
