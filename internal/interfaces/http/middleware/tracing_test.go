package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const testTraceParent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(t.Context())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return sr
}

func newTracedRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), Tracing("syncengine-test"), SpanAttributes())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/webhooks/:marketplace_code", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return router
}

func spanAttr(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestTracing_ContinuesCallerTrace(t *testing.T) {
	sr := setupTestTracer(t)
	router := newTracedRouter()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/trendyol", nil)
	req.Header.Set("traceparent", testTraceParent)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())

	id, ok := spanAttr(spans[0].Attributes(), "request_id")
	require.True(t, ok)
	assert.Equal(t, "req-42", id)
	code, ok := spanAttr(spans[0].Attributes(), "marketplace")
	require.True(t, ok)
	assert.Equal(t, "trendyol", code)
}

func TestTracing_SkipsHealthChecks(t *testing.T) {
	sr := setupTestTracer(t)
	router := newTracedRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sr.Ended())
}
