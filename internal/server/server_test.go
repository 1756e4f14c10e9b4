package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crimecast/crimecast/internal/config"
	"github.com/crimecast/crimecast/internal/inference"
	"github.com/crimecast/crimecast/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminEmail    = "admin@crimecast.test"
	adminPassword = "admin-secret"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		LogLevel:            "error",
		LogFormat:           "text",
		RiskHighThreshold:   0.7,
		RiskMediumThreshold: 0.3,
		BcryptCost:          4,
		AdminEmail:          adminEmail,
		AdminPassword:       adminPassword,
		AdminName:           "Admin",
		AuditTopic:          config.DefaultAuditTopic,
		RateLimitRPM:        60,
	}
}

func testAdapter(t *testing.T) *inference.Adapter {
	t.Helper()
	// Zero weights score every record at exactly 0.5.
	a, err := inference.New(&inference.LogisticRegression{Coef: make([]float64, inference.NumFeatures)})
	require.NoError(t, err)
	return a
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	s, err := New(testConfig(), opts...)
	require.NoError(t, err)
	s.drainDelay = 0
	t.Cleanup(s.Close)
	return s
}

var clientSeq atomic.Int64

// do sends each request from a fresh client address so the global
// per-IP burst does not interfere with multi-step flows.
func do(s *Server, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	n := clientSeq.Add(1)
	req.RemoteAddr = fmt.Sprintf("10.%d.%d.%d:40000", (n>>16)&0xff, (n>>8)&0xff, n&0xff)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func login(t *testing.T, s *Server, email, password string) *http.Cookie {
	t.Helper()
	w := do(s, "POST", "/v1/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, WithAdapter(testAdapter(t)))

	w := do(s, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "model", resp.Checks[0].Name)
	assert.True(t, resp.Checks[0].Healthy)
}

func TestHealthEndpoint_DegradedWithoutModel(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestLivenessAndReadiness(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(s, "GET", "/health/live", "", nil).Code)

	w := do(s, "GET", "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not_ready")
}

func TestRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := make(map[string]bool)
	for _, r := range s.Router().Routes() {
		routes[r.Method+":"+r.Path] = true
	}

	for _, want := range []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"POST:/v1/auth/signup",
		"POST:/v1/auth/login",
		"POST:/v1/auth/logout",
		"GET:/v1/me",
		"PATCH:/v1/me",
		"POST:/v1/me/password",
		"POST:/v1/predict",
		"POST:/v1/predict/sweep",
		"GET:/v1/model",
		"GET:/v1/admin/accounts",
		"PATCH:/v1/admin/accounts/:id/active",
		"DELETE:/v1/admin/accounts/:id",
		"GET:/v1/admin/audit",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/health/live", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.NotEqual(t, "not-a-uuid", w.Header().Get("X-Request-ID"))

	const upstream = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	req = httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", upstream)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, upstream, w.Header().Get("X-Request-ID"))
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/health/live", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(s, "GET", "/v1/nonexistent", "", nil).Code)
}

func TestGlobalRateLimit(t *testing.T) {
	s := newTestServer(t)

	var last int
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest("GET", "/health/live", nil)
		req.RemoteAddr = "192.0.2.50:1234"
		w := httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestPredictRequiresSession(t *testing.T) {
	s := newTestServer(t, WithAdapter(testAdapter(t)))

	w := do(s, "POST", "/v1/predict", `{"features":{"Hour":12}}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPredictWithoutModel(t *testing.T) {
	s := newTestServer(t)

	do(s, "POST", "/v1/auth/signup", `{"email":"a@b.com","password":"secret1","name":"A"}`, nil)
	cookie := login(t, s, "a@b.com", "secret1")

	w := do(s, "POST", "/v1/predict", `{"features":{"Hour":12}}`, cookie)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "model_unavailable")
}

func TestEndToEndFlow(t *testing.T) {
	s := newTestServer(t, WithAdapter(testAdapter(t)))

	w := do(s, "POST", "/v1/auth/signup", `{"email":"analyst@b.com","password":"secret1","name":"Analyst"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	cookie := login(t, s, "analyst@b.com", "secret1")

	w = do(s, "POST", "/v1/predict", `{"features":{
		"Latitude": 41.8781, "Longitude": -87.6298, "Beat": 1032, "District": 10,
		"Ward": 23, "Community Area": 32, "Hour": 12, "DayOfWeek": 2, "Month": 6,
		"Year": 2020, "Location_Description_Clean": 3, "TimeOfDay": 0, "Season": 2
	}}`, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 0.0, result["prediction"])
	assert.Equal(t, 0.5, result["probability"])
	assert.Equal(t, "Medium", result["risk_level"])

	// Analysts cannot read the audit log.
	assert.Equal(t, http.StatusForbidden, do(s, "GET", "/v1/admin/audit", "", cookie).Code)

	adminCookie := login(t, s, adminEmail, adminPassword)
	w = do(s, "GET", "/v1/admin/audit?limit=10", "", adminCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var audit struct {
		Entries []struct {
			Action string `json:"action"`
		} `json:"entries"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audit))
	require.NotZero(t, audit.Count)

	var actions []string
	for _, e := range audit.Entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "signup")
	assert.Contains(t, actions, "login")

	w = do(s, "GET", "/v1/admin/accounts", "", adminCookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestRunAndShutdown(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, s.ready.Load, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, s.ready.Load())
}
