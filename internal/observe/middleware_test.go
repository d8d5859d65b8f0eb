package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup wires a ManualReader meter provider and an in-memory span
// exporter, registering the tracer provider globally for the test.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	return m, reader, exporter
}

func TestMiddleware_SetsCorrelationIDHeader(t *testing.T) {
	m, _, _ := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/voice/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	cid := rec.Header().Get("X-Correlation-ID")
	if cid == "" {
		t.Fatal("X-Correlation-ID header not set")
	}
	if len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(cid))
	}
}

func TestMiddleware_CreatesSpan(t *testing.T) {
	m, _, exporter := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/span-test", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /span-test" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /span-test")
	}
}

func TestMiddleware_RecordsRequestDuration(t *testing.T) {
	m, reader, _ := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/media", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rm := collect(t, reader)
	met := findMetric(rm, "dialtone.http.request.duration")
	if met == nil {
		t.Fatal("dialtone.http.request.duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}

	var gotMethod, gotPath bool
	for _, kv := range dp.Attributes.ToSlice() {
		switch string(kv.Key) {
		case "method":
			gotMethod = kv.Value.AsString() == http.MethodPost
		case "path":
			gotPath = kv.Value.AsString() == "/media"
		}
	}
	if !gotMethod || !gotPath {
		t.Errorf("missing or wrong attributes: method=%v path=%v", gotMethod, gotPath)
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, _, exporter := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	var found bool
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "http.response.status_code" {
			found = true
			if attr.Value.AsInt64() != http.StatusServiceUnavailable {
				t.Errorf("status attribute = %d, want %d", attr.Value.AsInt64(), http.StatusServiceUnavailable)
			}
		}
	}
	if !found {
		t.Error("http.response.status_code attribute not found on span")
	}
}

func TestMiddleware_PropagatesIncomingTraceContext(t *testing.T) {
	m, _, exporter := testSetup(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/propagate", nil)
	req.Header.Set("traceparent", "00-"+incomingTraceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != incomingTraceID {
		t.Errorf("trace ID = %q, want %q (continuation of incoming trace)", got, incomingTraceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != incomingTraceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, incomingTraceID)
	}
}
