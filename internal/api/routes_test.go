package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sage/backend/internal/advisory"
	"plant-sage/backend/internal/ai"
	"plant-sage/backend/internal/auth"
	"plant-sage/backend/internal/telemetry"
)

type fakeModel struct {
	mu      sync.Mutex
	status  int
	content string
	hits    int
}

func (f *fakeModel) set(status int, content string) {
	f.mu.Lock()
	f.status, f.content = status, content
	f.mu.Unlock()
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits++
	status, content := f.status, f.content
	f.mu.Unlock()
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
}

type testEnv struct {
	model  *fakeModel
	server *Server
	router *gin.Engine
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	model := &fakeModel{status: http.StatusOK}
	provider := httptest.NewServer(model)
	t.Cleanup(provider.Close)

	policies := ai.DefaultPolicies()
	policies.Advisory.RetryDelay = time.Millisecond
	policies.Recognition.RetryDelay = time.Millisecond

	cfg := Config{
		DatabaseURL: filepath.Join(t.TempDir(), "sage.db"),
		SilentDB:    true,
		AIConfig:    ai.Config{APIKey: "test-key", BaseURL: provider.URL},
		Policies:    policies,
		HTTPClient:  provider.Client(),
		DevActor:    "tester",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	server, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	router, err := server.Router()
	require.NoError(t, err)
	return &testEnv{model: model, server: server, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func ask(t *testing.T, question string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{"question": question})
	require.NoError(t, err)
	return body
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthAndConfig(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/config", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.True(t, cfg.ProviderConfigured)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "sqlite", cfg.Database)
	assert.Greater(t, cfg.RuleCount, 0)
	assert.Greater(t, cfg.CatalogSize, 50)
	require.Len(t, cfg.Policies, 2)
	assert.Equal(t, "advisory", cfg.Policies[0].Name)
	assert.Equal(t, int64(12000), cfg.Policies[0].TimeoutMs)
	assert.False(t, cfg.Throttled)
}

func TestAskDeterministic(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does espresso count?"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var v advisory.Verdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, advisory.Counts, v.Verdict)
	require.NotNil(t, v.Points)
	assert.Equal(t, 0.25, *v.Points)
	assert.Zero(t, env.model.calls())
}

func TestAskProviderPaths(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		content  string
		code     int
		errCode  string
		verdict  advisory.Kind
		hits     int
		fallback bool
	}{
		{"parsed", http.StatusOK, `{"verdict":"counts","points":1,"answer":"Yes, kohlrabi counts.","reason":"Whole vegetable.","confidence":0.9}`, http.StatusOK, "", advisory.Counts, 1, false},
		{"malformed", http.StatusOK, "not json", http.StatusOK, "", advisory.Uncertain, 1, false},
		{"bad gateway", http.StatusBadGateway, "", http.StatusBadGateway, "provider_unreachable", advisory.Uncertain, 2, true},
		{"rate limited upstream", http.StatusTooManyRequests, "", http.StatusBadGateway, "provider_unreachable", advisory.Uncertain, 1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.model.set(tc.status, tc.content)
			rec := env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does kohlrabi count?"), nil)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.hits, env.model.calls())

			if !tc.fallback {
				var v advisory.Verdict
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
				assert.Equal(t, tc.verdict, v.Verdict)
				return
			}
			resp := decodeError(t, rec)
			assert.Equal(t, tc.errCode, resp.Code)
			require.NotNil(t, resp.Fallback)
			assert.Equal(t, tc.verdict, resp.Fallback.Verdict)
			assert.Nil(t, resp.Fallback.Points)
			assert.NotContains(t, resp.Error, "status", "provider detail stays internal")
		})
	}
}

func TestAskRejectsBeforeProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/sage/ask", ask(t, strings.Repeat("a", 501)), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "question_too_long", resp.Code)
	assert.Nil(t, resp.Fallback)

	rec = env.do(t, http.MethodPost, "/api/sage/ask", []byte(`{"question":`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decodeError(t, rec).Code)

	big := append([]byte(`{"question":"x","pad":"`), bytes.Repeat([]byte("a"), 70<<10)...)
	rec = env.do(t, http.MethodPost, "/api/sage/ask", append(big, '"', '}'), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeError(t, rec).Code)
	assert.Zero(t, env.model.calls())
}

func TestAskWithoutModelAccess(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.AIConfig.APIKey = "" })
	rec := env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does kohlrabi count?"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "not_configured", resp.Code)
	require.NotNil(t, resp.Fallback)
	assert.Equal(t, advisory.Uncertain, resp.Fallback.Verdict)

	rec = env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does espresso count?"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAskRequiresTokenWhenSecretConfigured(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.JWTSecret = "s3cret" })
	rec := env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does espresso count?"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, rec).Code)

	signer, err := auth.NewJWTResolver("s3cret", "")
	require.NoError(t, err)
	token, err := signer.Sign(auth.Actor{ID: "ana"}, time.Hour, time.Now())
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does espresso count?"), http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/telemetry/events?actor=ana", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Equal(t, int64(1), events.Total)
	assert.Equal(t, "resolved_deterministic", events.Items[0].State)
}

func TestAskThrottled(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.ThrottlePerMinute = 1 })
	rec := env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does espresso count?"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does espresso count?"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func imageRequest(t *testing.T) []byte {
	t.Helper()
	data := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff fake jpeg"))
	body, err := json.Marshal(map[string]string{"image": data})
	require.NoError(t, err)
	return body
}

func TestRecognize(t *testing.T) {
	env := newTestEnv(t, nil)
	env.model.set(http.StatusOK, `{"plants":[{"name":"Kale leaves","category":"other","confidence":0.8},{"name":"tomatoes","category":"vegetable","points":1}]}`)

	rec := env.do(t, http.MethodPost, "/api/plants/recognize", imageRequest(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RecognizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Plants, 2)
	assert.False(t, resp.Plants[0].MatchedCatalog)
	assert.Equal(t, "tomato", resp.Plants[1].Name)
	assert.Equal(t, "fruit", resp.Plants[1].Category)
	assert.True(t, resp.Plants[1].MatchedCatalog)

	env.model.set(http.StatusOK, "I see a salad")
	rec = env.do(t, http.MethodPost, "/api/plants/recognize", imageRequest(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"plants":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/plants/recognize", []byte(`{"image":"data:image/gif;base64,R0lGOD=="}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "image_unsupported_type", decodeError(t, rec).Code)
}

func TestRulesCatalogAndSummary(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/rules", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rulesResp struct {
		Items []RuleDTO `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rulesResp))
	require.NotEmpty(t, rulesResp.Items)
	assert.Equal(t, "coffee_tea", rulesResp.Items[0].ID)
	assert.Contains(t, rulesResp.Items[0].Aliases, "espresso")

	rec = env.do(t, http.MethodGet, "/api/catalog?pageSize=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cat CatalogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cat))
	assert.Len(t, cat.Items, 5)
	assert.Greater(t, cat.Total, int64(50))

	rec = env.do(t, http.MethodGet, "/api/catalog/match?name=brocoli", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"broccoli"`)
	rec = env.do(t, http.MethodGet, "/api/catalog/match", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/catalog/match?name=spaghetti+bolognese", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPost, "/api/sage/ask", ask(t, "Does espresso count?"), nil)
	env.do(t, http.MethodPost, "/api/sage/ask", ask(t, ""), nil)
	rec = env.do(t, http.MethodGet, "/api/telemetry/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.States, 2)
}

func TestTelemetryStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/telemetry/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.server.notifier.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/sage/ask", "application/json", bytes.NewReader(ask(t, "Does espresso count?")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev telemetry.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "advisory", ev.Flow)
	assert.Equal(t, "resolved_deterministic", ev.State)
	assert.Equal(t, "coffee_tea", ev.RuleID)
	assert.Equal(t, "tester", ev.Actor)
}
