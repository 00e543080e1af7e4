package schemas

import "context"

// The interfaces below are the seams to the system's external collaborators.
// The decision core depends only on these contracts; speech capture, DOM
// extraction, LLM calls and the browser itself live on the far side of them.

// IntentParser turns a transcript into a structured Intent. Production
// implementations call an LLM; tests supply intents directly.
type IntentParser interface {
	ParseGoal(ctx context.Context, transcript string, page PageContext) (Intent, error)
}

// ElementProvider extracts raw interactive-element descriptors from a page.
type ElementProvider interface {
	AnalyzePage(ctx context.Context, url string) ([]Element, error)
}

// ActionExecutor performs the chosen action against the live page and reports
// success or failure. Execution is blocking and must honor ctx cancellation.
type ActionExecutor interface {
	Execute(ctx context.Context, candidate Candidate, intent Intent) error
}

// VisionLocator is the coordinate-based fallback used exactly once per cycle,
// after DOM-based execution has failed.
type VisionLocator interface {
	Locate(ctx context.Context, intent Intent, page PageContext) (Candidate, error)
}

// SessionStore persists session records with a TTL.
type SessionStore interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]Session, error)
}

// ExperienceStore provides durable, append-only storage of experiences keyed
// by session id. Records survive session expiry for offline retraining.
type ExperienceStore interface {
	Append(ctx context.Context, experiences ...Experience) error
	Count(ctx context.Context, sessionID string) (int, error)
	LoadRecent(ctx context.Context, sessionID string, limit int) ([]Experience, error)
}
