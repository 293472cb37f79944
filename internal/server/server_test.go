package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapask/internal/dataset"
	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/leapstack-labs/leapask/internal/llm"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/result"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, model *testutil.FakeModel) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(model)
	t.Cleanup(backend.Close)

	products, err := frame.New(
		frame.NewColumn("product_id", []any{1, 2, 3}),
		frame.NewColumn("name", []any{"Paddle", "Kayak", "Vest"}),
		frame.NewColumn("price", []any{189.99, 1249.0, 79.99}),
	)
	require.NoError(t, err)
	reg, err := dataset.New([]*dataset.Dataset{
		{Name: "products", Description: "Products catalog", Frame: products},
	}, nil)
	require.NoError(t, err)

	logger := testutil.NewTestLogger(t)
	history := state.NewSQLiteStore(logger)
	require.NoError(t, history.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = history.Close() })

	p, err := pipeline.New(pipeline.Config{
		Registry: reg,
		Model: llm.Config{
			BaseURL:    backend.URL,
			APIKey:     "test-key",
			Model:      "gpt-test",
			Timeout:    2 * time.Second,
			RetryDelay: time.Millisecond,
		},
		History: history,
		Logger:  logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(New(Config{Pipeline: p, Logger: logger}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_ReadEndpoints(t *testing.T) {
	srv := newTestServer(t, &testutil.FakeModel{Program: "result = 1"})

	var health map[string]any
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/healthz", "", &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "gpt-test", health["model"])
	assert.InDelta(t, 1, health["datasets"], 0)

	var datasets []dataset.Summary
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/datasets", "", &datasets))
	require.Len(t, datasets, 1)
	assert.Equal(t, "products", datasets[0].Name)
	assert.Equal(t, 3, datasets[0].Rows)

	var one dataset.Summary
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/datasets/products", "", &one))
	assert.Equal(t, "Products catalog", one.Description)

	var missing ErrorResponse
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/datasets/orders", "", &missing))
	assert.Contains(t, missing.Error, `unknown dataset "orders"`)

	var schema dataset.SchemaContext
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/schema", "", &schema))
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "price", schema.Tables[0].Columns[2].Name)

	var examples []string
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/examples", "", &examples))
	assert.NotEmpty(t, examples)
}

func TestServer_Ask(t *testing.T) {
	model := &testutil.FakeModel{Program: `result = products.nlargest(2, "price")[["name", "price"]]`}
	srv := newTestServer(t, model)

	var rep pipeline.Report
	status := doJSON(t, http.MethodPost, srv.URL+"/api/ask", `{"question": "Two most expensive products?", "code": true}`, &rep)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "Two most expensive products?", rep.Question)
	assert.Equal(t, llm.Program(model.Program), rep.Program)
	require.NotNil(t, rep.Payload)
	assert.Equal(t, result.KindTable, rep.Payload.Kind)
	require.NotNil(t, rep.Payload.Table)
	assert.Equal(t, []result.Column{{Name: "name", Type: "string"}, {Name: "price", Type: "float"}}, rep.Payload.Table.Columns)
	assert.Equal(t, []any{"Kayak", 1249.0}, rep.Payload.Table.Rows[0])
	assert.NotContains(t, model.LastPrompt(), "Do NOT include visualization code")

	var entries []state.Entry
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/asks?limit=5", "", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, rep.ID, entries[0].ID)
	assert.Equal(t, state.StatusAnswered, entries[0].Status)

	var entry state.Entry
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/asks/"+rep.ID.String(), "", &entry))
	assert.Equal(t, "Two most expensive products?", entry.Question)
}

func TestServer_AskWithoutCharts(t *testing.T) {
	model := &testutil.FakeModel{Program: "result = len(products)"}
	srv := newTestServer(t, model)

	var rep pipeline.Report
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/ask", `{"question": "How many products?", "charts": false}`, &rep))
	assert.Empty(t, rep.Program, "program only on request")
	assert.Equal(t, result.KindScalar, rep.Payload.Kind)
	assert.InDelta(t, 3, rep.Payload.Scalar, 0)
	assert.Contains(t, model.LastPrompt(), "Do NOT include visualization code")
}

func TestServer_AskFailures(t *testing.T) {
	tests := []struct {
		name       string
		model      *testutil.FakeModel
		body       string
		wantStatus int
		wantKind   string
	}{
		{name: "malformed body", model: &testutil.FakeModel{}, body: `{"question":`, wantStatus: http.StatusBadRequest, wantKind: "bad_request"},
		{name: "empty question", model: &testutil.FakeModel{}, body: `{"question": "  "}`, wantStatus: http.StatusBadRequest, wantKind: "empty_question"},
		{name: "auth failure", model: &testutil.FakeModel{Status: http.StatusUnauthorized}, body: `{"question": "q"}`, wantStatus: http.StatusBadGateway, wantKind: "auth"},
		{name: "model timeout", model: &testutil.FakeModel{Delay: 5 * time.Second}, body: `{"question": "q"}`, wantStatus: http.StatusGatewayTimeout, wantKind: "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.model)
			var resp ErrorResponse
			assert.Equal(t, tt.wantStatus, doJSON(t, http.MethodPost, srv.URL+"/api/ask", tt.body, &resp))
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestServer_ExecutionFailureIsAnAnswer(t *testing.T) {
	srv := newTestServer(t, &testutil.FakeModel{Program: "result = orderz"})

	var rep pipeline.Report
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/ask", `{"question": "q"}`, &rep))
	assert.Equal(t, result.KindError, rep.Payload.Kind)
	assert.Equal(t, "undefined", rep.Payload.ErrorKind)
}

func TestServer_AskLookupErrors(t *testing.T) {
	srv := newTestServer(t, &testutil.FakeModel{})

	var resp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/asks/not-a-uuid", "", &resp))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/asks/"+uuid.NewString(), "", &resp))
	assert.Equal(t, "not_found", resp.Kind)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/asks?limit=zero", "", &resp))
}

func TestServer_ServeListenerShutsDown(t *testing.T) {
	srv := New(Config{Pipeline: nil, Logger: testutil.NewTestLogger(t)})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	// The listener is already bound, so a request can be made right away.
	resp, err := http.Post("http://"+ln.Addr().String()+"/api/ask", "application/json", bytes.NewBufferString(`{`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_BadAddress(t *testing.T) {
	err := New(Config{Addr: "not-an-address"}).Serve(context.Background())
	assert.ErrorContains(t, err, "listen on not-an-address")
}
