package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/homebitez/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() {
		t.Fatal("expected sampled flag")
	}

	for _, header := range []string{"", "nope", "zz/1", "105445aa7843bc8bf206b12000100000/0"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareExposesTraceID(t *testing.T) {
	var captured string
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = requestctx.TraceID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/7;o=0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected remote trace id to be continued, got %q", captured)
	}
}

func TestRecorderForwardsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	var flushed bool
	handler := RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("expected flusher")
		}
		_, _ = w.Write([]byte("data: 1\n\n"))
		flusher.Flush()
		flushed = true
	}))
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if !flushed || !rec.Flushed {
		t.Fatal("expected flush to reach the underlying writer")
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base, baseLogs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(base))

	ctx := requestctx.WithLogger(context.Background(), zap.New(core))
	log(ctx, "checkout.order.paid", map[string]any{"orderId": "ord_1"})
	log(context.Background(), "checkout.loyalty.failed", nil)

	if logs.Len() != 1 || logs.All()[0].ContextMap()["orderId"] != "ord_1" {
		t.Fatalf("expected request logger entry, got %v", logs.All())
	}
	if baseLogs.Len() != 1 || baseLogs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn entry on base logger, got %v", baseLogs.All())
	}
}
