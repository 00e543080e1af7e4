package schemas

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area in square pixels.
func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// Element is a raw interactive-element descriptor produced by the external DOM
// analyzer. It is a snapshot: once the page mutates it is stale, and the core
// never caches elements across calls.
type Element struct {
	// Selector is a stable CSS selector or analyzer-assigned identifier.
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
	Label    string `json:"label,omitempty"` // accessible name (aria-label, title, placeholder)
	Tag      string `json:"tag"`
	Role     string `json:"role,omitempty"`
	Type     string `json:"type,omitempty"` // input type attribute, when applicable
	Box      Rect   `json:"box"`
	Visible  bool   `json:"visible"`
	Enabled  bool   `json:"enabled"`
	ZIndex   int    `json:"z_index,omitempty"`
	// NearbyText holds text content adjacent to the element, used for
	// context-clue matching.
	NearbyText string   `json:"nearby_text,omitempty"`
	ParentTags []string `json:"parent_tags,omitempty"` // ancestor landmarks (header, nav, main, ...)
	// DOMIndex is the element's position in the analyzer's document-order
	// output. It is the tie breaker that keeps ranking deterministic.
	DOMIndex int `json:"dom_index"`
}

// Interactable reports whether the element can be a candidate at all.
// Invisible or zero-area elements are excluded before scoring.
func (e Element) Interactable() bool {
	return e.Visible && e.Box.Area() > 0
}
