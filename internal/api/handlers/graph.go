package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Harshitk-cp/integrity/internal/api/middleware"
	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type GraphHandler struct {
	graph *graph.Store
}

func NewGraphHandler(g *graph.Store) *GraphHandler {
	return &GraphHandler{graph: g}
}

type upsertResponse struct {
	ID      uuid.UUID `json:"id"`
	Version uint64    `json:"version"`
}

// provenance stamps API writes that arrive without one.
func provenance(r *http.Request, p domain.Provenance) domain.Provenance {
	if p.Source == "" {
		p.Source = "api"
		if client := middleware.ClientFromContext(r.Context()); client != "" {
			p.Source = "api:" + client
		}
	}
	if p.Kind == "" {
		p.Kind = domain.SourceManual
	}
	if p.ObservedAt.IsZero() {
		p.ObservedAt = time.Now().UTC()
	}
	return p
}

func (h *GraphHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var spec domain.EntitySpec
	if !decodeBody(w, r, &spec) {
		return
	}
	if spec.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	spec.Provenance = provenance(r, spec.Provenance)

	id, err := h.graph.UpsertEntity(r.Context(), spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, upsertResponse{ID: id, Version: h.graph.Current().Version()})
}

func (h *GraphHandler) CreateRelation(w http.ResponseWriter, r *http.Request) {
	var spec domain.RelationSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	spec.RelationType = domain.NormalizeRelation(string(spec.RelationType))
	spec.Provenance = provenance(r, spec.Provenance)

	id, err := h.graph.UpsertRelation(r.Context(), spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, upsertResponse{ID: id, Version: h.graph.Current().Version()})
}

func entityRef(s string) domain.EntityRef {
	if id, err := uuid.Parse(s); err == nil {
		return domain.RefByID(id)
	}
	return domain.RefByName(s)
}

type entityResponse struct {
	Node     domain.Node   `json:"node"`
	OutEdges []domain.Edge `json:"out_edges"`
	InEdges  []domain.Edge `json:"in_edges"`
	Version  uint64        `json:"version"`
}

func (h *GraphHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	snap := h.graph.Current()
	node, ok := snap.Resolve(entityRef(chi.URLParam(r, "name")))
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, entityResponse{
		Node:     node,
		OutEdges: snap.OutEdges(node.ID),
		InEdges:  snap.InEdges(node.ID),
		Version:  snap.Version(),
	})
}

type relatedResponse struct {
	Entity  string          `json:"entity"`
	Related []graph.Related `json:"related"`
	Partial bool            `json:"partial"`
	Version uint64          `json:"version"`
}

// Related walks the neighbourhood of an entity. ?hops= bounds the depth and
// repeated ?layer= restricts the layers traversed.
func (h *GraphHandler) Related(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	hops := 0
	if v := r.URL.Query().Get("hops"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "hops must be a positive integer")
			return
		}
		hops = n
	}
	var layers []domain.Layer
	for _, l := range r.URL.Query()["layer"] {
		if !domain.ValidLayer(l) {
			writeError(w, http.StatusBadRequest, "invalid layer "+l)
			return
		}
		layers = append(layers, domain.Layer(l))
	}

	snap := h.graph.Current()
	it, err := snap.QueryRelated(r.Context(), entityRef(name), hops, layers...)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	related, _ := it.Collect()
	if related == nil {
		related = []graph.Related{}
	}
	writeJSON(w, http.StatusOK, relatedResponse{
		Entity:  name,
		Related: related,
		Partial: it.Partial(),
		Version: snap.Version(),
	})
}

type relationExistsResponse struct {
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	Relation   string        `json:"relation,omitempty"`
	Confidence float64       `json:"confidence"`
	Path       []domain.Edge `json:"path"`
	Version    uint64        `json:"version"`
}

// RelationExists answers ?source=&target=&relation=. An empty relation
// matches any type.
func (h *GraphHandler) RelationExists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, target := q.Get("source"), q.Get("target")
	if source == "" || target == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}
	var rel domain.RelationType
	if v := q.Get("relation"); v != "" {
		rel = domain.NormalizeRelation(v)
	}

	snap := h.graph.Current()
	m, err := snap.FindRelation(r.Context(), entityRef(source), entityRef(target), rel)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	path := m.Path
	if path == nil {
		path = []domain.Edge{}
	}
	writeJSON(w, http.StatusOK, relationExistsResponse{
		Source:     source,
		Target:     target,
		Relation:   string(rel),
		Confidence: m.Confidence,
		Path:       path,
		Version:    snap.Version(),
	})
}

func (h *GraphHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.graph.Current().Stats())
}

// Snapshot exports the current version in its persisted form.
func (h *GraphHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.graph.Current().Records())
}
