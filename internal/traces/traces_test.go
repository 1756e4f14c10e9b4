package traces

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func TestInit_NoEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown, err := Init(context.Background(), Config{Version: "test"}, logger)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestMiddleware_NamesSpanByRoute(t *testing.T) {
	sr := recordSpans(t)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/items/:id", func(c *gin.Context) {
		_, child := StartSpan(c.Request.Context(), "lookup", AccountID(7))
		child.End()
		c.Status(http.StatusOK)
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/items/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/boom", nil))

	spans := sr.Ended()
	require.Len(t, spans, 3)

	lookup, server, failed := spans[0], spans[1], spans[2]
	assert.Equal(t, "lookup", lookup.Name())
	assert.Equal(t, "GET /items/:id", server.Name())
	assert.Equal(t, server.SpanContext().TraceID(), lookup.SpanContext().TraceID())
	assert.Equal(t, codes.Unset, server.Status().Code)

	assert.Equal(t, "GET /boom", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
}

func TestMiddleware_ContinuesPropagatedTrace(t *testing.T) {
	sr := recordSpans(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Init(context.Background(), Config{}, logger)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}
