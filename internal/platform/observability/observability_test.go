package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tripdesk/planner/internal/platform/requestctx"
)

func TestEventLogger_LevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core))

	ctx := requestctx.WithTripID(context.Background(), "trip_bali")
	log(ctx, "planner.auto_saved", map[string]any{"versionId": "ver_1"})
	log(ctx, "planner.persist_failed", map[string]any{"tripId": "trip_fiji", "error": errors.New("boom")})

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "planner.auto_saved", fields["event"])
	assert.Equal(t, "trip_bali", fields["tripId"])
	assert.Equal(t, "ver_1", fields["versionId"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	fields = entries[1].ContextMap()
	assert.Equal(t, "trip_fiji", fields["tripId"], "explicit trip id wins over context")
	assert.Equal(t, "boom", fields["error"])
}

func TestEventLogger_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		EventLogger(nil)(context.Background(), "planner.session_started", nil)
	})
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("verbose")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestTraceMiddleware_CloudTraceHeader(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("tripdesk-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trips/trip_bali", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "105445aa7843bc8bf206b12000100000", seen.TraceID)
	assert.Equal(t, "tripdesk-prod", seen.ProjectID)
	assert.Contains(t, rec.Header().Get(cloudTraceHeader), seen.TraceID)
}

func TestTraceMiddleware_PrefersTraceparent(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", seen.TraceID)
}

func TestParseCloudTraceContext(t *testing.T) {
	info, spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/12345;o=1")
	require.True(t, ok)
	assert.True(t, info.Sampled)
	assert.True(t, spanCtx.IsRemote())

	for _, header := range []string{"", "nope", "short/1", "105445aa7843bc8bf206b12000100000/xyz"} {
		_, _, ok := parseCloudTraceContext(header)
		assert.False(t, ok, header)
	}
}

func TestFormatCloudTraceHeader_DecimalSpanID(t *testing.T) {
	header := "105445aa7843bc8bf206b12000100000/12345;o=1"
	_, spanCtx, ok := parseCloudTraceContext(header)
	require.True(t, ok)

	assert.Equal(t, header, formatCloudTraceHeader(spanCtx))
	assert.Empty(t, formatCloudTraceHeader(trace.SpanContext{}))
}

func TestRequestLoggerMiddleware_LogsTripAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware(""))
	router.Get("/trips/{tripID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/trips/trip_bali", nil))

	completed := logs.FilterMessage("request completed").AllUntimed()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.WarnLevel, completed[0].Level)
	fields := completed[0].ContextMap()
	assert.Equal(t, "trip_bali", fields["trip_id"])
	assert.Equal(t, "/trips/{tripID}", fields["route"])
	assert.EqualValues(t, http.StatusConflict, fields["status"])
}

func TestRecoveryMiddleware_WritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_server_error")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}
