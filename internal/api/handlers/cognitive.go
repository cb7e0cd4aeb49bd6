package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/integrity/internal/consolidation"
	"github.com/Harshitk-cp/integrity/internal/domain"
)

type CognitiveHandler struct {
	decayService *consolidation.DecayService
	consolidator *consolidation.Consolidator
}

func NewCognitiveHandler(ds *consolidation.DecayService, c *consolidation.Consolidator) *CognitiveHandler {
	return &CognitiveHandler{decayService: ds, consolidator: c}
}

// TriggerDecay runs one episodic decay pass outside the schedule.
func (h *CognitiveHandler) TriggerDecay(w http.ResponseWriter, r *http.Request) {
	if h.decayService == nil {
		writeError(w, http.StatusServiceUnavailable, "decay service not available")
		return
	}
	result, err := h.decayService.RunDecay(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type pruneRequest struct {
	Threshold float64 `json:"threshold"`
}

// Prune drops episodic records below a retention threshold without decaying.
func (h *CognitiveHandler) Prune(w http.ResponseWriter, r *http.Request) {
	if h.decayService == nil {
		writeError(w, http.StatusServiceUnavailable, "decay service not available")
		return
	}
	var req pruneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Threshold <= 0 || req.Threshold >= 1 {
		writeError(w, http.StatusBadRequest, "threshold must be in (0, 1)")
		return
	}
	result, err := h.decayService.Prune(r.Context(), req.Threshold)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type consolidateResponse struct {
	Results []*consolidation.Result `json:"results"`
	Pending int                     `json:"pending"`
}

// TriggerConsolidation drains the queue, or consolidates the report in the
// body when one is given.
func (h *CognitiveHandler) TriggerConsolidation(w http.ResponseWriter, r *http.Request) {
	if h.consolidator == nil {
		writeError(w, http.StatusServiceUnavailable, "consolidation service not available")
		return
	}

	if r.ContentLength != 0 {
		var rep domain.SessionReport
		if !decodeBody(w, r, &rep) {
			return
		}
		res, err := h.consolidator.Consolidate(r.Context(), rep)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, consolidateResponse{
			Results: []*consolidation.Result{res},
			Pending: h.consolidator.Pending(),
		})
		return
	}

	results := h.consolidator.Flush(r.Context())
	if results == nil {
		results = []*consolidation.Result{}
	}
	writeJSON(w, http.StatusOK, consolidateResponse{Results: results, Pending: h.consolidator.Pending()})
}
