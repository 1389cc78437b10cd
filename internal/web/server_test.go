package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/partregistry/internal/config"
	"github.com/JonMunkholm/partregistry/internal/core"
	"github.com/JonMunkholm/partregistry/internal/matching"
	"github.com/JonMunkholm/partregistry/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{RequestTimeout: 10 * time.Second, MaxBodyBytes: 1 << 20},
		Rate:     config.RateLimitConfig{Enabled: false},
		Security: config.SecurityConfig{EnableCSP: true},
		Admin:    config.AdminConfig{ResetTimeout: 5 * time.Second},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, opts core.Options) *Server {
	t.Helper()
	st, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := NewServer(core.NewService(st, opts), cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

// do sends a request and decodes a JSON response into out when non-nil.
func do(t *testing.T, srv *Server, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testConfig(), core.Options{ImportMaxConcurrent: 3})

	var resp healthResponse
	rec := do(t, srv, http.MethodGet, "/health", nil, &resp)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Limiter.MaxConcurrent)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestReserveIDs(t *testing.T) {
	srv := newTestServer(t, testConfig(), core.Options{})

	var resp struct {
		IDs []string `json:"ids"`
	}
	rec := do(t, srv, http.MethodPost, "/api/ids/reserve", reserveRequest{Prefix: "PS", Count: 3}, &resp)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"PS_000001", "PS_000002", "PS_000003"}, resp.IDs)

	rec = do(t, srv, http.MethodPost, "/api/ids/reserve", reserveRequest{Prefix: "PS", Count: 2}, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"PS_000004", "PS_000005"}, resp.IDs)
}

func TestErrorResponses(t *testing.T) {
	srv := newTestServer(t, testConfig(), core.Options{})

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		raw      string
		wantCode int
		wantErr  string
	}{
		{"zero count", http.MethodPost, "/api/ids/reserve", reserveRequest{Prefix: "PS"}, "", http.StatusBadRequest, "VAL001"},
		{"bad prefix", http.MethodPost, "/api/ids/reserve", reserveRequest{Prefix: "P S", Count: 1}, "", http.StatusBadRequest, "VAL001"},
		{"malformed json", http.MethodPost, "/api/ids/reserve", nil, "{", http.StatusBadRequest, "VAL001"},
		{"unknown field", http.MethodPost, "/api/ids/reserve", nil, `{"prefix":"PS","count":1,"extra":true}`, http.StatusBadRequest, "VAL001"},
		{"missing candidate name", http.MethodGet, "/api/parts/candidates", nil, "", http.StatusBadRequest, "VAL001"},
		{"non numeric limit", http.MethodGet, "/api/parts?limit=ten", nil, "", http.StatusBadRequest, "VAL001"},
		{"unknown part", http.MethodDelete, "/api/parts/PS_999999", nil, "", http.StatusNotFound, "DB001"},
		{"unknown import", http.MethodGet, "/api/imports/nope", nil, "", http.StatusNotFound, "IMP001"},
		{"reset disabled", http.MethodPost, "/api/admin/reset_counters", nil, "", http.StatusForbidden, "ID002"},
		{"invalid last prefix", http.MethodPut, "/api/ui/last_prefix?module=Frame", map[string]string{"last_prefix": "9X"}, "", http.StatusBadRequest, "VAL002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.raw != "" {
				req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.raw))
				rec = httptest.NewRecorder()
				srv.Router().ServeHTTP(rec, req)
			} else {
				rec = do(t, srv, tt.method, tt.path, tt.body, nil)
			}
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestPartsAPI(t *testing.T) {
	srv := newTestServer(t, testConfig(), core.Options{})

	parts := []store.Part{
		{ExternalID: "PS_000001", PartName: "PS_BRACKET", ItemType: "Manufactured"},
		{ExternalID: "PS_000002", PartName: "PS_GUSSET", ItemType: "Manufactured"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/parts/bulk", bytes.NewBufferString(mustJSON(t, parts)))
	req.Header.Set("X-Operator", "jsmith")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Same batch again conflicts.
	rec = do(t, srv, http.MethodPost, "/api/parts/bulk", parts, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ID001", decodeError(t, rec).Code)

	var listed []store.Part
	rec = do(t, srv, http.MethodGet, "/api/parts?limit=10", nil, &listed)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, listed, 2)
	assert.Equal(t, "jsmith", listed[0].CreatedBy)

	var candidates []store.Part
	rec = do(t, srv, http.MethodGet, "/api/parts/candidates?name=bracket&limit=5", nil, &candidates)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, candidates, 1)
	assert.Equal(t, "PS_000001", candidates[0].ExternalID)

	var bulk [][]store.Part
	rec = do(t, srv, http.MethodPost, "/api/parts/candidates/bulk", map[string]any{
		"queries":      []map[string]any{{"name": "GUSSET"}, {"name": "FRAME"}, {"name": "BRACKET"}},
		"global_limit": 5,
	}, &bulk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, bulk, 3)
	assert.Equal(t, "PS_000002", bulk[0][0].ExternalID)
	assert.Empty(t, bulk[1])
	assert.Equal(t, "PS_000001", bulk[2][0].ExternalID)

	var updated store.Part
	rec = do(t, srv, http.MethodPut, "/api/parts/PS_000002", store.Part{PartName: "PS_GUSSET_PLATE", ItemType: "Bought Part"}, &updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PS_000002", updated.ExternalID)
	assert.Equal(t, "GUSSET_PLATE", updated.CanonicalKey)

	rec = do(t, srv, http.MethodDelete, "/api/parts/PS_000002", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettingsAPI(t *testing.T) {
	srv := newTestServer(t, testConfig(), core.Options{})

	rec := do(t, srv, http.MethodPost, "/api/ui/item_categories", map[string]string{"name": "Assembly"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cats []string
	do(t, srv, http.MethodGet, "/api/ui/item_categories", nil, &cats)
	assert.Equal(t, []string{"Assembly", "Bought Part", "Manufactured"}, cats)

	rec = do(t, srv, http.MethodDelete, "/api/ui/item_categories/Bought%20Part", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var lp lastPrefixBody
	rec = do(t, srv, http.MethodPut, "/api/ui/last_prefix?module=Frame", lastPrefixBody{LastPrefix: "ps"}, &lp)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PS", lp.LastPrefix)

	do(t, srv, http.MethodGet, "/api/ui/last_prefix?module=Frame", nil, &lp)
	assert.Equal(t, "PS", lp.LastPrefix)
}

func TestImportAPI(t *testing.T) {
	srv := newTestServer(t, testConfig(), core.Options{})
	do(t, srv, http.MethodPost, "/api/ids/reserve", reserveRequest{Prefix: "PS", Count: 1}, nil)
	do(t, srv, http.MethodPost, "/api/parts/bulk", []store.Part{
		{ExternalID: "PS_000001", PartName: "PS_BRACKET", ItemType: "Manufactured"},
	}, nil)

	var imp core.Import
	rec := do(t, srv, http.MethodPost, "/api/imports", map[string]any{
		"module": "Frame",
		"prefix": "PS",
		"rows": []map[string]any{
			{"qty": 1, "name": "Bracket V2", "item_type": "Manufactured"},
			{"qty": 3, "name": "Gusset", "item_type": "Manufactured"},
		},
	}, &imp)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, imp.Rows, 2)
	assert.Equal(t, matching.StatusPossibleMatch, imp.Rows[0].Status)
	base := "/api/imports/" + imp.ID

	rec = do(t, srv, http.MethodPost, base+"/commit", nil, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "IMP002", resp.Code)
	assert.NotEmpty(t, resp.Problems)

	rec = do(t, srv, http.MethodPost, base+"/rows/0/decision", map[string]string{"decision": "PS_404"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMP003", decodeError(t, rec).Code)

	rec = do(t, srv, http.MethodPost, base+"/rows/0/decision", map[string]string{"decision": "PS_000001"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPatch, base+"/rows/1", map[string]any{"price": 9.5}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var assigned core.AssignResult
	rec = do(t, srv, http.MethodPost, base+"/ids", nil, &assigned)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, assigned.Assigned)
	assert.Equal(t, "PS_000002", assigned.Rows[1].ExternalID)

	var commit core.CommitResult
	rec = do(t, srv, http.MethodPost, base+"/commit", nil, &commit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.CommitResult{Created: 1, Aliases: 1}, commit)

	rec = do(t, srv, http.MethodPatch, base+"/rows/1", map[string]any{"included": false}, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "IMP005", decodeError(t, rec).Code)

	rec = do(t, srv, http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetCounters(t *testing.T) {
	srv := newTestServer(t, testConfig(), core.Options{AllowReset: true})
	do(t, srv, http.MethodPost, "/api/ids/reserve", reserveRequest{Prefix: "PS", Count: 5}, nil)

	var resp struct {
		Status  string `json:"status"`
		Deleted int64  `json:"deleted"`
	}
	rec := do(t, srv, http.MethodPost, "/api/admin/reset_counters", nil, &resp)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), resp.Deleted)

	var ids struct {
		IDs []string `json:"ids"`
	}
	do(t, srv, http.MethodPost, "/api/ids/reserve", reserveRequest{Prefix: "PS", Count: 1}, &ids)
	assert.Equal(t, []string{"PS_000001"}, ids.IDs)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, ImportLimit: 1}
	srv := newTestServer(t, cfg, core.Options{})

	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodGet, "/health", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrTooManyImports, http.StatusTooManyRequests},
		{core.ErrImportNotFound, http.StatusNotFound},
		{store.ErrDuplicate, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
