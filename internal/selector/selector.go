package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
	"github.com/pagepilot/pagepilot/internal/observability"
)

// Machine-readable failure codes carried on cycle errors.
const (
	CodeExecutionFailure      = "EXECUTION_FAILURE"
	CodeVisionFallbackFailure = "VISION_FALLBACK_FAILURE"
)

// userSelectionPool is how many candidates a low-confidence decision offers
// back to the user.
const userSelectionPool = 3

// ErrNoExecutor is returned when auto-execution is requested but no executor
// was wired in.
var ErrNoExecutor = errors.New("no action executor configured")

// CycleError wraps an execution failure with its machine-readable code.
type CycleError struct {
	Code string
	Err  error
}

func (e *CycleError) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }

func (e *CycleError) Unwrap() error { return e.Err }

// Recorder is the slice of the experience ledger the selector writes to.
type Recorder interface {
	Record(ctx context.Context, exp schemas.Experience) error
}

// Selector applies the confidence gate to the agent's choice and, for
// auto-execute decisions, drives the execution cycle: DOM-based execution
// first, one coordinate-based vision fallback on failure, and an experience
// write for every completed attempt. Abandoned cycles (context cancellation)
// write nothing.
type Selector struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	threshold float64
	executor  schemas.ActionExecutor
	vision    schemas.VisionLocator
	ledger    Recorder
}

// New builds a selector. executor and vision may be nil; auto-execution then
// fails with ErrNoExecutor or skips the fallback respectively.
func New(cfg config.SelectorConfig, executor schemas.ActionExecutor, vision schemas.VisionLocator, ledger Recorder, metrics *observability.Metrics, logger *zap.Logger) *Selector {
	return &Selector{
		logger:    logger.Named("selector"),
		metrics:   metrics,
		threshold: cfg.ConfidenceThreshold,
		executor:  executor,
		vision:    vision,
		ledger:    ledger,
	}
}

// Decide applies the confidence gate. The chosen candidate auto-executes only
// when its confidence, carried unchanged from the scoring engine, clears the
// threshold; otherwise the ranked input's top three go back to the user with
// the agent's pick flagged as recommended.
func (s *Selector) Decide(chosen schemas.Candidate, ranked []schemas.Candidate) schemas.Decision {
	var d schemas.Decision
	if chosen.Confidence >= s.threshold {
		c := chosen
		d = schemas.Decision{
			Kind:       schemas.DecisionAutoExecute,
			Selected:   &c,
			Confidence: chosen.Confidence,
			Explanation: fmt.Sprintf("Confident match (%.0f%%): %q",
				chosen.Confidence*100, candidateLabel(chosen)),
		}
	} else {
		top := ranked
		if len(top) > userSelectionPool {
			top = top[:userSelectionPool]
		}
		rec := chosen
		d = schemas.Decision{
			Kind:          schemas.DecisionRequestUserSelection,
			TopCandidates: top,
			Recommended:   &rec,
			Confidence:    chosen.Confidence,
			Explanation: fmt.Sprintf("Not confident enough to act alone (%.0f%%), %d options offered",
				chosen.Confidence*100, len(top)),
		}
	}

	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
	s.logger.Info("Decision made",
		zap.String("kind", string(d.Kind)),
		zap.Float64("confidence", chosen.Confidence),
		zap.Float64("combined_score", chosen.CombinedScore),
		zap.String("method", string(chosen.Method)),
	)
	return d
}

// Execute runs the chosen action and records the resulting experience.
// A failed DOM execution gets exactly one vision fallback attempt; the
// recorded experience is marked so the model can learn the degraded path's
// reliability. Context cancellation abandons the cycle with no experience.
func (s *Selector) Execute(ctx context.Context, sessionID string, intent schemas.Intent, page schemas.PageContext, ranked []schemas.Candidate, chosen schemas.Candidate) (schemas.Experience, error) {
	if s.executor == nil {
		return schemas.Experience{}, ErrNoExecutor
	}

	execErr := s.executor.Execute(ctx, chosen, intent)
	if execErr == nil {
		return s.writeOutcome(ctx, sessionID, intent, page, ranked, chosen, 1, false)
	}
	if abandoned(ctx, execErr) {
		s.logger.Info("Cycle abandoned during execution", zap.String("session_id", sessionID))
		return schemas.Experience{}, execErr
	}

	s.logger.Warn("DOM execution failed, attempting vision fallback",
		zap.String("code", CodeExecutionFailure),
		zap.String("session_id", sessionID),
		zap.String("selector", chosen.Element.Selector),
		zap.Error(execErr),
	)
	if s.vision == nil {
		exp, rerr := s.writeOutcome(ctx, sessionID, intent, page, ranked, chosen, -1, false)
		if rerr != nil {
			return exp, rerr
		}
		return exp, &CycleError{Code: CodeExecutionFailure, Err: execErr}
	}

	fallback, locErr := s.vision.Locate(ctx, intent, page)
	if locErr == nil {
		locErr = s.executor.Execute(ctx, fallback, intent)
	}
	if abandoned(ctx, locErr) {
		s.logger.Info("Cycle abandoned during fallback", zap.String("session_id", sessionID))
		return schemas.Experience{}, locErr
	}
	if locErr == nil {
		return s.writeOutcome(ctx, sessionID, intent, page, ranked, fallback, 1, true)
	}

	s.logger.Error("Vision fallback failed",
		zap.String("code", CodeVisionFallbackFailure),
		zap.String("session_id", sessionID),
		zap.Error(locErr),
	)
	exp, rerr := s.writeOutcome(ctx, sessionID, intent, page, ranked, chosen, -1, true)
	if rerr != nil {
		return exp, rerr
	}
	return exp, &CycleError{Code: CodeVisionFallbackFailure, Err: locErr}
}

// RecordUserSelection turns an explicit user pick into a maximal-reward
// experience. The user's word is the strongest training signal there is.
func (s *Selector) RecordUserSelection(ctx context.Context, sessionID string, intent schemas.Intent, page schemas.PageContext, offered []schemas.Candidate, selected schemas.Candidate) (schemas.Experience, error) {
	exp := schemas.Experience{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		State:     schemas.StateSnapshot{Intent: intent, Page: page, Candidates: offered},
		Action:    selected,
		Reward:    1,
		Feedback:  schemas.FeedbackUserSelection,
	}
	if err := s.ledger.Record(ctx, exp); err != nil {
		return exp, err
	}
	s.logger.Info("User selection recorded",
		zap.String("session_id", sessionID),
		zap.String("selector", selected.Element.Selector),
	)
	return exp, nil
}

func (s *Selector) writeOutcome(ctx context.Context, sessionID string, intent schemas.Intent, page schemas.PageContext, ranked []schemas.Candidate, action schemas.Candidate, reward float64, visionFallback bool) (schemas.Experience, error) {
	exp := schemas.Experience{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		State:          schemas.StateSnapshot{Intent: intent, Page: page, Candidates: ranked},
		Action:         action,
		Reward:         reward,
		VisionFallback: visionFallback,
	}
	if err := s.ledger.Record(ctx, exp); err != nil {
		return exp, fmt.Errorf("recording outcome: %w", err)
	}
	return exp, nil
}

func abandoned(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func candidateLabel(c schemas.Candidate) string {
	if c.Element.Text != "" {
		return c.Element.Text
	}
	if c.Element.Label != "" {
		return c.Element.Label
	}
	return c.Element.Selector
}
