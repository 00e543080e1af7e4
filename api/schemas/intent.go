package schemas

// ActionType enumerates the kinds of goals the intent parser can produce.
// The scoring engine uses it to bias element-type and position relevance.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionSearch   ActionType = "search"
	ActionFillForm ActionType = "fill_form"
	ActionPurchase ActionType = "purchase"
	ActionContact  ActionType = "contact"
	ActionClick    ActionType = "click"
	ActionSelect   ActionType = "select"
)

// Urgency is a producer-supplied hint about how time-sensitive the goal is.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Intent is the structured representation of the user's goal, produced by the
// external intent parser. It is immutable for the duration of one
// goal-resolution cycle and owned by the caller.
type Intent struct {
	Goal          string     `json:"goal"`
	Action        ActionType `json:"action_type"`
	Keywords      []string   `json:"keywords,omitempty"`
	ExpectedTypes []string   `json:"expected_types,omitempty"` // tags/roles the parser expects the target to have
	ContextClues  []string   `json:"context_clues,omitempty"`  // phrases expected near the target element
	Urgency       Urgency    `json:"urgency,omitempty"`
	Confidence    float64    `json:"confidence"` // parser confidence, not the scoring confidence
}

// PageContext is a lightweight snapshot of the page the goal is being resolved
// against. It is part of the state recorded with every experience.
type PageContext struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	ElementCount int    `json:"element_count"`
}
