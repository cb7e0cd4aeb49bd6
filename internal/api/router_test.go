package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/llm"
	"github.com/Harshitk-cp/integrity/internal/seed"
	"github.com/Harshitk-cp/integrity/internal/store/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T, mutate func(*Options)) (*App, *memstore.Store) {
	t.Helper()
	mem := memstore.New()
	opts := DefaultOptions()
	opts.RateLimit = RateLimitOptions{RPS: 1000, Burst: 1000}
	if mutate != nil {
		mutate(&opts)
	}
	app, err := NewApp(Backend{Snapshots: mem, Ledger: mem, Events: mem}, opts, zap.NewNop())
	require.NoError(t, err)
	_, err = seed.Default().Apply(context.Background(), app.Graph)
	require.NoError(t, err)
	return app, mem
}

func do(t *testing.T, app *App, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req.ContentLength = 0
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, nil)
	rec := do(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth_BackendDown(t *testing.T) {
	mem := memstore.New()
	app, err := NewApp(Backend{
		Snapshots: mem, Ledger: mem, Events: mem,
		Ping: func(ctx context.Context) error { return errors.New("connection refused") },
	}, DefaultOptions(), zap.NewNop())
	require.NoError(t, err)

	rec := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGraphEndpoints(t *testing.T) {
	app, _ := newTestApp(t, nil)

	rec := do(t, app, http.MethodGet, "/v1/entities/Python", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ent := decode[map[string]any](t, rec)
	assert.Equal(t, "Python", ent["node"].(map[string]any)["name"])

	rec = do(t, app, http.MethodGet, "/v1/entities/Zorblax", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, app, http.MethodGet, "/v1/relations/exists?source=Python&target=Language&relation=instanceOf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exists := decode[map[string]any](t, rec)
	assert.InDelta(t, 0.95*0.95, exists["confidence"], 1e-9)
	assert.Len(t, exists["path"], 2)

	rec = do(t, app, http.MethodGet, "/v1/entities/Python/related?hops=1&layer=semantic", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	related := decode[map[string]any](t, rec)
	assert.NotEmpty(t, related["related"])
	assert.Equal(t, false, related["partial"])

	rec = do(t, app, http.MethodGet, "/v1/entities/Python/related?layer=dreams", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEntityAndRelation(t *testing.T) {
	app, _ := newTestApp(t, nil)
	before := app.Graph.Current().Version()

	rec := do(t, app, http.MethodPost, "/v1/entities", map[string]any{"name": "Rust", "category": "language"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, app, http.MethodPost, "/v1/relations", map[string]any{
		"source":        map[string]string{"name": "Rust"},
		"target":        map[string]string{"name": "ProgrammingLanguage"},
		"relation_type": "instance of",
		"weight":        0.9,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Greater(t, app.Graph.Current().Version(), before)

	rec = do(t, app, http.MethodPost, "/v1/relations", map[string]any{
		"source":        map[string]string{"name": "Rust"},
		"target":        map[string]string{"name": "Nowhere"},
		"relation_type": "located_in",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, app, http.MethodPost, "/v1/entities", map[string]any{"name": "Me", "layer": "self_model"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycle_AbortAndConsolidate(t *testing.T) {
	app, mem := newTestApp(t, nil)

	rec := do(t, app, http.MethodPost, "/v1/sessions", map[string]int{"token_budget": 50})
	require.Equal(t, http.StatusCreated, rec.Code)
	opened := decode[map[string]any](t, rec)
	id := opened["session_id"].(string)

	step := map[string]any{"span": "Python created Java", "tokens": 3, "assertions": []any{"Python:creates:Java"}}

	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/steps", step)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[map[string]any](t, rec)
	assert.Equal(t, "QUALIFYING", first["state"])

	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/steps", step)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[map[string]any](t, rec)
	assert.Equal(t, "ABORTED", second["state"])
	action := second["event"].(map[string]any)["action"].(map[string]any)
	assert.Equal(t, "halt", action["kind"])
	assert.Contains(t, action["text"], "I cannot verify a creates relationship between Python and Java")

	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/steps", step)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/end", map[string]any{"wait": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decode[map[string]any](t, rec)
	assert.Equal(t, "ABORTED", ended["result"].(map[string]any)["outcome"])
	cons := ended["consolidation"].(map[string]any)
	assert.EqualValues(t, 1, cons["markers_raised"])

	marker, err := app.Graph.Current().QueryRelationExists(context.Background(),
		domain.RefByName("Python"), domain.RefByName("Java"), domain.RelationCreates.Negation())
	require.NoError(t, err)
	assert.Greater(t, marker, 0.0)

	rec = do(t, app, http.MethodGet, "/v1/sessions/"+id+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[map[string]any](t, rec)
	assert.Len(t, events["events"], 2)

	processed, err := mem.IsProcessed(context.Background(), uuid.MustParse(id))
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Zero(t, app.Graph.ActiveLeases())

	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEnd_CancelIsNotConsolidated(t *testing.T) {
	app, _ := newTestApp(t, nil)

	rec := do(t, app, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["session_id"].(string)

	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/steps", map[string]any{
		"span":       "Python is a programming language",
		"assertions": []any{map[string]string{"subject": "Python", "relation": "instance_of", "object": "ProgrammingLanguage"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/end", map[string]any{"cancel": true, "accepted": true})
	require.Equal(t, http.StatusOK, rec.Code)
	ended := decode[map[string]any](t, rec)
	assert.Equal(t, "INCOMPLETE", ended["result"].(map[string]any)["outcome"])
	assert.Equal(t, false, ended["queued"])
	assert.Zero(t, app.Consolidation.Pending())
}

func TestSessionStep_BadInput(t *testing.T) {
	app, _ := newTestApp(t, nil)

	rec := do(t, app, http.MethodPost, "/v1/sessions/not-a-uuid/steps", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, app, http.MethodPost, "/v1/sessions/6f1d7a0e-8f5e-4b7a-9a55-0d4b8f3c2a11/steps", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, app, http.MethodPost, "/v1/sessions", nil)
	id := decode[map[string]any](t, rec)["session_id"].(string)
	rec = do(t, app, http.MethodPost, "/v1/sessions/"+id+"/steps", map[string]any{"assertions": []any{"a:b"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	client := llm.NewMockClient()
	client.AnswerResponse = &domain.GeneratedAnswer{Sentences: []domain.AnsweredSentence{
		{Text: "Python is a language.", Claims: []domain.Assertion{{Subject: "Python", Relation: domain.RelationInstanceOf, Object: "Language"}}},
		{Text: "It created Java.", Claims: []domain.Assertion{{Subject: "Python", Relation: domain.RelationCreates, Object: "Java"}}},
		{Text: "Everyone uses it."},
		{Text: "The end."},
	}}
	app, _ := newTestApp(t, func(o *Options) { o.LLM = client })

	rec := do(t, app, http.MethodPost, "/v1/ask", map[string]any{"question": "Who created Java?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	result := body["result"].(map[string]any)
	assert.Equal(t, "ABORTED", result["outcome"])
	assert.EqualValues(t, 3, result["steps"])
	assert.True(t, strings.Contains(body["answer"].(string), "cannot verify"))
	assert.Equal(t, []string{"Who created Java?"}, client.AnswerCalls)
}

func TestAsk_Disabled(t *testing.T) {
	app, _ := newTestApp(t, nil)
	rec := do(t, app, http.MethodPost, "/v1/ask", map[string]any{"question": "q"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCognitiveEndpoints(t *testing.T) {
	app, _ := newTestApp(t, nil)

	rec := do(t, app, http.MethodPost, "/v1/cognitive/decay", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app, http.MethodPost, "/v1/cognitive/prune", map[string]float64{"threshold": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, app, http.MethodPost, "/v1/cognitive/consolidate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Empty(t, body["results"])
}

func TestAPIKeyAuth(t *testing.T) {
	app, _ := newTestApp(t, func(o *Options) { o.APIKeys = []string{"k-one", "k-two"} })

	rec := do(t, app, http.MethodGet, "/v1/graph/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, app, http.MethodGet, "/v1/graph/stats", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, app, http.MethodGet, "/v1/graph/stats", nil, "Authorization", "Bearer k-two")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.GraphStats](t, rec)
	assert.Positive(t, stats.Nodes)

	rec = do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStats(t *testing.T) {
	app, _ := newTestApp(t, nil)
	do(t, app, http.MethodGet, "/v1/entities/Nope", nil)

	rec := do(t, app, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	// The stats request counts itself.
	assert.EqualValues(t, 2, body["request_count"])
	assert.EqualValues(t, 1, body["error_count"])
}
