package schemas

import "time"

// FeedbackKind classifies explicit human feedback on a recorded experience.
type FeedbackKind string

const (
	FeedbackNone              FeedbackKind = ""
	FeedbackCorrectAction     FeedbackKind = "correct_action"
	FeedbackWrongAction       FeedbackKind = "wrong_action"
	FeedbackBetterAlternative FeedbackKind = "better_alternative"
	FeedbackUserSelection     FeedbackKind = "user_selection"
)

// StateSnapshot freezes the inputs of a decision at the moment it was made.
type StateSnapshot struct {
	Intent     Intent      `json:"intent"`
	Page       PageContext `json:"page"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Experience is one (state, action, reward, feedback) tuple. Entries are
// append-only: after creation only the reward may change, and only through a
// feedback adjustment that clamps it back into [-1,1].
type Experience struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	State     StateSnapshot `json:"state"`
	Action    Candidate     `json:"action"`
	Reward    float64       `json:"reward"` // in [-1,1] after any feedback adjustment
	Feedback  FeedbackKind  `json:"feedback,omitempty"`
	// VisionFallback marks experiences whose execution went through the
	// degraded coordinate-based path, so the model can learn a discount.
	VisionFallback bool      `json:"vision_fallback,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SessionPhase tracks where a goal-resolution cycle is in its state machine.
type SessionPhase string

const (
	PhaseIdle              SessionPhase = "idle"
	PhaseScoring           SessionPhase = "scoring"
	PhaseDeciding          SessionPhase = "deciding"
	PhaseAutoExecuting     SessionPhase = "auto_executing"
	PhaseAwaitingSelection SessionPhase = "awaiting_user_selection"
	PhaseExecuting         SessionPhase = "executing"
	PhaseVisionFallback    SessionPhase = "vision_fallback"
	PhaseRewardRecorded    SessionPhase = "reward_recorded"
	PhaseSucceeded         SessionPhase = "succeeded"
	PhaseFailed            SessionPhase = "failed"
)

// Session correlates one goal-resolution cycle. Expiry is advisory cleanup,
// not a correctness requirement of the decision logic.
type Session struct {
	ID        string       `json:"id"`
	Phase     SessionPhase `json:"phase"`
	Goal      string       `json:"goal,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the session TTL has elapsed at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Statistics is the snapshot returned by the statistics operation. Repeated
// reads with no intervening writes return identical values.
type Statistics struct {
	ExplorationRate float64 `json:"exploration_rate"`
	ExperienceCount int     `json:"experience_count"`
	// RecentAccuracy is the fraction of positive-reward experiences among the
	// most recent ones (window of 20).
	RecentAccuracy float64 `json:"recent_accuracy"`
	ModelUpdates   int     `json:"model_updates"`
}
