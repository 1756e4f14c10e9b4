package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupAuditRouter(l *Logger) *gin.Engine {
	r := gin.New()
	NewHandler(l).RegisterAdminRoutes(r.Group("/v1/admin"))
	return r
}

func TestListHandler(t *testing.T) {
	l := NewLogger(NewMemoryStore(), nil, nil)
	for i := 0; i < 3; i++ {
		l.Record(context.Background(), ptr(int64(i+1)), "", ActionLogin, Source{})
	}

	w := httptest.NewRecorder()
	setupAuditRouter(l).ServeHTTP(w, httptest.NewRequest("GET", "/v1/admin/audit?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
		Limit   int     `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, int64(3), resp.Entries[0].ID)
}

func TestListHandler_DefaultLimitAndEmpty(t *testing.T) {
	l := NewLogger(NewMemoryStore(), nil, nil)

	w := httptest.NewRecorder()
	setupAuditRouter(l).ServeHTTP(w, httptest.NewRequest("GET", "/v1/admin/audit", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entries":[],"count":0,"limit":100,"hasMore":false}`, w.Body.String())
}

func TestListHandler_BadLimit(t *testing.T) {
	l := NewLogger(NewMemoryStore(), nil, nil)

	w := httptest.NewRecorder()
	setupAuditRouter(l).ServeHTTP(w, httptest.NewRequest("GET", "/v1/admin/audit?limit=ten", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListHandler_StoreError(t *testing.T) {
	l := NewLogger(failingStore{}, nil, nil)

	w := httptest.NewRecorder()
	setupAuditRouter(l).ServeHTTP(w, httptest.NewRequest("GET", "/v1/admin/audit", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk full")
}

func TestListHandler_Cursor(t *testing.T) {
	l := NewLogger(NewMemoryStore(), nil, nil)
	for i := 0; i < 5; i++ {
		l.Record(context.Background(), ptr(int64(i+1)), "", ActionLogin, Source{})
	}
	r := setupAuditRouter(l)

	type listResp struct {
		Entries    []Entry `json:"entries"`
		HasMore    bool    `json:"hasMore"`
		NextCursor string  `json:"nextCursor"`
	}

	var seen []int64
	path := "/v1/admin/audit?limit=2"
	for pages := 0; pages < 5; pages++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp listResp
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, e := range resp.Entries {
			seen = append(seen, e.ID)
		}
		if !resp.HasMore {
			assert.Empty(t, resp.NextCursor)
			break
		}
		path = "/v1/admin/audit?limit=2&cursor=" + resp.NextCursor
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, seen)
}

func TestListHandler_BadCursor(t *testing.T) {
	l := NewLogger(NewMemoryStore(), nil, nil)

	w := httptest.NewRecorder()
	setupAuditRouter(l).ServeHTTP(w, httptest.NewRequest("GET", "/v1/admin/audit?cursor=%21%21", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_cursor")
}
