package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/integrity/internal/adapter"
	"github.com/Harshitk-cp/integrity/internal/consolidation"
	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionHandler struct {
	sessions     *session.Manager
	runner       *session.Runner
	consolidator *consolidation.Consolidator
	events       domain.EventLog
	llm          domain.LLMClient
	logger       *zap.Logger
}

func NewSessionHandler(m *session.Manager, r *session.Runner, c *consolidation.Consolidator, events domain.EventLog, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: m, runner: r, consolidator: c, events: events, logger: logger}
}

// SetLLMClient enables /v1/ask.
func (h *SessionHandler) SetLLMClient(c domain.LLMClient) {
	h.llm = c
}

type openSessionRequest struct {
	TokenBudget int `json:"token_budget"`
}

type openSessionResponse struct {
	SessionID       uuid.UUID              `json:"session_id"`
	SnapshotVersion uint64                 `json:"snapshot_version"`
	State           domain.InhibitionState `json:"state"`
}

func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.TokenBudget < 0 {
		writeError(w, http.StatusBadRequest, "token_budget must not be negative")
		return
	}

	s, err := h.sessions.Open(req.TokenBudget)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openSessionResponse{
		SessionID:       s.ID(),
		SnapshotVersion: s.SnapshotVersion(),
		State:           s.State(),
	})
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return s, true
}

type stepRequest struct {
	Span       string           `json:"span"`
	Tokens     int              `json:"tokens"`
	Assertions []assertionInput `json:"assertions"`
}

type stepResponse struct {
	Event  domain.InhibitionEvent `json:"event"`
	State  domain.InhibitionState `json:"state"`
	Result *session.Result        `json:"result,omitempty"`
}

func (h *SessionHandler) Step(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req stepRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ev, err := s.Step(r.Context(), adapter.Step{
		Span:       req.Span,
		Tokens:     req.Tokens,
		Assertions: assertions(req.Assertions),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse{Event: ev, State: s.State(), Result: s.Result()})
}

type endSessionRequest struct {
	// Accepted is the consumer's verdict on the output. Only accepted
	// completions reinforce the graph.
	Accepted bool             `json:"accepted"`
	Rejected []assertionInput `json:"rejected"`
	// Cancel ends the session as INCOMPLETE; it is not consolidated.
	Cancel bool `json:"cancel"`
	// Wait consolidates before responding instead of queueing.
	Wait bool `json:"wait"`
}

type endSessionResponse struct {
	Result        *session.Result       `json:"result"`
	Queued        bool                  `json:"queued"`
	Consolidation *consolidation.Result `json:"consolidation,omitempty"`
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req endSessionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.Cancel {
		s.Cancel(ctx, "cancelled by client")
	} else {
		s.Complete(ctx)
	}
	res, err := h.sessions.Remove(ctx, s.ID(), "closed")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := endSessionResponse{Result: res}
	if h.consolidator != nil && res.Outcome != domain.OutcomeIncomplete {
		report := res.Report(req.Accepted, assertions(req.Rejected))
		if req.Wait {
			cres, err := h.consolidator.Consolidate(ctx, report)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			resp.Consolidation = cres
		} else {
			h.consolidator.Enqueue(report)
			resp.Queued = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	SessionID uuid.UUID                `json:"session_id"`
	Events    []domain.InhibitionEvent `json:"events"`
}

// Events lists the persisted inhibition events of a closed session.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not configured")
		return
	}
	events, err := h.events.ListBySession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events for session")
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{SessionID: id, Events: events})
}

type askRequest struct {
	Question    string `json:"question"`
	TokenBudget int    `json:"token_budget"`
	// Accept queues the finished session for consolidation as accepted.
	Accept bool `json:"accept"`
}

type askResponse struct {
	Answer string          `json:"answer"`
	Result *session.Result `json:"result"`
}

// Ask generates an answer with the configured LLM and runs it through the
// inhibition pipeline.
func (h *SessionHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM client not configured")
		return
	}
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	gen := adapter.NewGenerator(h.llm, req.Question)
	res, err := h.runner.Run(r.Context(), uuid.New(), gen, req.TokenBudget)
	if err != nil {
		if errors.Is(err, domain.ErrAdapterFault) {
			h.logger.Warn("generation failed", zap.String("question", req.Question), zap.Error(err))
		}
		writeDomainError(w, err)
		return
	}

	if req.Accept && h.consolidator != nil && res.Outcome != domain.OutcomeIncomplete {
		h.consolidator.Enqueue(res.Report(true, nil))
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: gen.Transcript(), Result: res})
}
