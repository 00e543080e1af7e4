package service

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/ledger"
	"github.com/pagepilot/pagepilot/internal/scoring"
	"github.com/pagepilot/pagepilot/internal/selector"
	"github.com/pagepilot/pagepilot/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type analyzeRequest struct {
	Intent   schemas.Intent    `json:"intent"`
	Elements []schemas.Element `json:"elements"`
	// TopN, when positive, trims the response to the n best candidates above
	// the configured minimum score.
	TopN int `json:"top_n,omitempty"`
}

type selectRequest struct {
	SessionID string              `json:"session_id,omitempty"`
	Intent    schemas.Intent      `json:"intent"`
	Page      schemas.PageContext `json:"page"`
	Elements  []schemas.Element   `json:"elements"`
}

type selectionRequest struct {
	SessionID string              `json:"session_id"`
	Intent    schemas.Intent      `json:"intent"`
	Page      schemas.PageContext `json:"page"`
	Offered   []schemas.Candidate `json:"offered"`
	Selected  schemas.Candidate   `json:"selected"`
}

type resultRequest struct {
	SessionID string               `json:"session_id"`
	Intent    schemas.Intent       `json:"intent"`
	Page      schemas.PageContext  `json:"page"`
	Action    schemas.Candidate    `json:"action"`
	Success   bool                 `json:"success"`
	Feedback  schemas.FeedbackKind `json:"feedback,omitempty"`
}

type feedbackRequest struct {
	Kind schemas.FeedbackKind `json:"kind"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type cycleErrorResponse struct {
	errorResponse
	Result *CycleResult `json:"result,omitempty"`
}

// NewHandler exposes the pilot's operations as a JSON API. gatherer may be
// nil to disable the /metrics endpoint.
func NewHandler(pilot *Pilot, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	h := &handler{pilot: pilot, logger: logger.Named("http")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", h.analyze)
	mux.HandleFunc("POST /v1/select", h.selectAction)
	mux.HandleFunc("POST /v1/selection", h.userSelection)
	mux.HandleFunc("POST /v1/result", h.actionResult)
	mux.HandleFunc("POST /v1/experiences", h.recordExperience)
	mux.HandleFunc("POST /v1/feedback", h.feedback)
	mux.HandleFunc("GET /v1/statistics", h.statistics)
	mux.HandleFunc("GET /v1/sessions", h.listSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.deleteSession)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

type handler struct {
	pilot  *Pilot
	logger *zap.Logger
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !h.decode(w, r, &req) {
		return
	}
	ranked, err := h.pilot.AnalyzeElements(r.Context(), req.Intent, req.Elements)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.TopN > 0 {
		ranked = h.pilot.TopCandidates(ranked, req.TopN)
	}
	h.writeJSON(w, http.StatusOK, ranked)
}

func (h *handler) selectAction(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.pilot.SelectAction(r.Context(), req.SessionID, req.Intent, req.Page, req.Elements)
	if err != nil {
		// A failed execution still produced a decision and an experience; the
		// caller needs both, so the cycle result rides along with the error.
		var cerr *selector.CycleError
		if errors.As(err, &cerr) {
			h.writeJSON(w, http.StatusBadGateway, cycleErrorResponse{
				errorResponse: errorResponse{Error: err.Error(), Code: cerr.Code},
				Result:        &result,
			})
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handler) userSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	exp, err := h.pilot.RecordUserSelection(r.Context(), req.SessionID, req.Intent, req.Page, req.Offered, req.Selected)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, exp)
}

func (h *handler) actionResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.pilot.RecordActionResult(r.Context(), req.SessionID, req.Intent, req.Page, req.Action, req.Success, req.Feedback); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) recordExperience(w http.ResponseWriter, r *http.Request) {
	var exp schemas.Experience
	if !h.decode(w, r, &exp) {
		return
	}
	if err := h.pilot.RecordExperience(r.Context(), exp); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.pilot.RecordFeedback(req.Kind); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) statistics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.pilot.Statistics())
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.pilot.Sessions(r.Context(), 100)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []schemas.Session{}
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.pilot.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.pilot.EndSession(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scoring.ErrEmptyCandidateSet):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnknownFeedback), errors.Is(err, ledger.ErrNoExperience):
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}
