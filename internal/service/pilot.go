package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/ledger"
	"github.com/pagepilot/pagepilot/internal/observability"
	"github.com/pagepilot/pagepilot/internal/policy"
	"github.com/pagepilot/pagepilot/internal/scoring"
	"github.com/pagepilot/pagepilot/internal/selector"
	"github.com/pagepilot/pagepilot/internal/session"
)

// CycleResult is what one goal-resolution cycle hands back to the caller: the
// gate's decision, the session it ran under, and the experience written when
// auto-execution completed.
type CycleResult struct {
	SessionID  string              `json:"session_id"`
	Decision   schemas.Decision    `json:"decision"`
	Experience *schemas.Experience `json:"experience,omitempty"`
}

// Pilot is the facade over the full decision pipeline: scoring, epsilon-greedy
// selection, the confidence gate, execution, and experience recording. It is
// safe for concurrent use; all mutable state lives in the model and ledger
// behind their own locks.
type Pilot struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	engine   *scoring.Engine
	agent    *policy.Agent
	model    *policy.PreferenceModel
	selector *selector.Selector
	ledger   *ledger.Ledger
	sessions schemas.SessionStore
}

// NewPilot wires the pipeline together. sessions and metrics may be nil;
// session tracking and instrumentation are then skipped.
func NewPilot(engine *scoring.Engine, agent *policy.Agent, model *policy.PreferenceModel, sel *selector.Selector, led *ledger.Ledger, sessions schemas.SessionStore, metrics *observability.Metrics, logger *zap.Logger) *Pilot {
	return &Pilot{
		logger:   logger.Named("pilot"),
		metrics:  metrics,
		engine:   engine,
		agent:    agent,
		model:    model,
		selector: sel,
		ledger:   led,
		sessions: sessions,
	}
}

// AnalyzeElements scores the page's elements against the intent and returns
// the ranked candidates. It is a read-only operation: no decision is made and
// nothing is recorded.
func (p *Pilot) AnalyzeElements(ctx context.Context, intent schemas.Intent, elements []schemas.Element) ([]schemas.Candidate, error) {
	start := time.Now()
	ranked, err := p.engine.Score(ctx, intent, elements)
	if p.metrics != nil {
		p.metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	}
	return ranked, err
}

// SelectAction runs one full cycle: score, pick, gate, and for auto-execute
// decisions run the action and record the outcome. An empty sessionID starts
// a fresh session. When no elements match, the cycle ends with a failed
// session and scoring.ErrEmptyCandidateSet.
func (p *Pilot) SelectAction(ctx context.Context, sessionID string, intent schemas.Intent, page schemas.PageContext, elements []schemas.Element) (CycleResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	result := CycleResult{SessionID: sessionID}
	p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseScoring)

	ranked, err := p.AnalyzeElements(ctx, intent, elements)
	if err != nil {
		if errors.Is(err, scoring.ErrEmptyCandidateSet) {
			p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseFailed)
		}
		return result, err
	}

	p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseDeciding)
	chosen, err := p.agent.Select(ranked, intent, page)
	if err != nil {
		return result, fmt.Errorf("selecting candidate: %w", err)
	}

	result.Decision = p.selector.Decide(chosen, ranked)

	if result.Decision.Kind != schemas.DecisionAutoExecute {
		p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseAwaitingSelection)
		return result, nil
	}

	p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseAutoExecuting)
	exp, execErr := p.selector.Execute(ctx, sessionID, intent, page, ranked, chosen)
	if execErr != nil && exp.ID == "" && ctx.Err() != nil {
		// Abandoned mid-execution; the session just goes stale and expires.
		return result, execErr
	}
	result.Experience = &exp
	if execErr != nil {
		p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseFailed)
		return result, execErr
	}
	p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseSucceeded)
	return result, nil
}

// TopCandidates trims a ranked slice to the n best candidates above the
// configured minimum score.
func (p *Pilot) TopCandidates(ranked []schemas.Candidate, n int) []schemas.Candidate {
	return p.engine.TopCandidates(ranked, n)
}

// RecordUserSelection resolves an awaiting-selection cycle with the user's
// pick and records it as a maximal-reward experience.
func (p *Pilot) RecordUserSelection(ctx context.Context, sessionID string, intent schemas.Intent, page schemas.PageContext, offered []schemas.Candidate, selected schemas.Candidate) (schemas.Experience, error) {
	exp, err := p.selector.RecordUserSelection(ctx, sessionID, intent, page, offered, selected)
	if err != nil {
		return exp, err
	}
	p.setPhase(ctx, sessionID, intent.Goal, schemas.PhaseSucceeded)
	return exp, nil
}

// RecordActionResult records the outcome of an externally executed action as
// an experience with reward +1 on success and -1 on failure. An optional
// feedback kind is applied to the fresh experience in the same call.
func (p *Pilot) RecordActionResult(ctx context.Context, sessionID string, intent schemas.Intent, page schemas.PageContext, action schemas.Candidate, success bool, feedback schemas.FeedbackKind) error {
	reward := 1.0
	phase := schemas.PhaseSucceeded
	if !success {
		reward = -1.0
		phase = schemas.PhaseFailed
	}
	exp := schemas.Experience{
		SessionID: sessionID,
		State:     schemas.StateSnapshot{Intent: intent, Page: page},
		Action:    action,
		Reward:    reward,
	}
	if err := p.ledger.Record(ctx, exp); err != nil {
		return err
	}
	if feedback != "" {
		if err := p.ledger.AdjustLastReward(feedback); err != nil {
			return err
		}
	}
	p.setPhase(ctx, sessionID, intent.Goal, phase)
	return nil
}

// RecordExperience appends a caller-assembled experience unchanged, apart
// from the ledger's usual id stamping and reward clamping.
func (p *Pilot) RecordExperience(ctx context.Context, exp schemas.Experience) error {
	return p.ledger.Record(ctx, exp)
}

// RecordFeedback adjusts the most recent experience's reward from explicit
// human feedback.
func (p *Pilot) RecordFeedback(kind schemas.FeedbackKind) error {
	return p.ledger.AdjustLastReward(kind)
}

// ExplainScore renders a readable breakdown of one candidate's score.
func (p *Pilot) ExplainScore(c schemas.Candidate) string {
	return p.engine.ExplainScore(c)
}

// Statistics snapshots the learning state. Reading it mutates nothing, so
// repeated calls without intervening writes return identical values.
func (p *Pilot) Statistics() schemas.Statistics {
	return schemas.Statistics{
		ExplorationRate: p.model.ExplorationRate(),
		ExperienceCount: p.ledger.Len(),
		RecentAccuracy:  p.ledger.RecentAccuracy(),
		ModelUpdates:    p.model.UpdateCount(),
	}
}

// ResetExploration restores the exploration rate to its configured start.
func (p *Pilot) ResetExploration() {
	p.model.ResetExploration()
	if p.metrics != nil {
		p.metrics.ExplorationRate.Set(p.model.ExplorationRate())
	}
}

// SaveModel persists the preference model's weights to disk.
func (p *Pilot) SaveModel(path string) error { return p.model.Save(path) }

// LoadModel restores previously saved weights.
func (p *Pilot) LoadModel(path string) error { return p.model.Load(path) }

// Session fetches one live session.
func (p *Pilot) Session(ctx context.Context, id string) (schemas.Session, error) {
	if p.sessions == nil {
		return schemas.Session{}, session.ErrNotFound
	}
	return p.sessions.Get(ctx, id)
}

// Sessions lists live sessions.
func (p *Pilot) Sessions(ctx context.Context, limit int) ([]schemas.Session, error) {
	if p.sessions == nil {
		return nil, nil
	}
	return p.sessions.List(ctx, limit)
}

// EndSession drops a session before its TTL runs out.
func (p *Pilot) EndSession(ctx context.Context, id string) error {
	if p.sessions == nil {
		return nil
	}
	return p.sessions.Delete(ctx, id)
}

func (p *Pilot) setPhase(ctx context.Context, sessionID, goal string, phase schemas.SessionPhase) {
	if p.sessions == nil {
		return
	}
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		s = schemas.Session{ID: sessionID, Goal: goal}
	}
	s.Phase = phase
	if s.Goal == "" {
		s.Goal = goal
	}
	if err := p.sessions.Put(ctx, s); err != nil {
		// Session tracking is advisory; the decision pipeline never fails on it.
		p.logger.Warn("Failed to update session phase",
			zap.String("session_id", sessionID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
	}
}
