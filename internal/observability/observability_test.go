package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsAndTracingMiddleware(noop.NewTracerProvider().Tracer("test"), "iot-bridge-test"))
	r.Get("/api/devices/{id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(requestCounter.WithLabelValues("iot-bridge-test", "/api/devices/{id}/status", "GET", "418"))
	for _, id := range []string{"light", "fan"} {
		rw := httptest.NewRecorder()
		r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/devices/"+id+"/status", nil))
		if rw.Code != http.StatusTeapot {
			t.Fatalf("expected 418, got %d", rw.Code)
		}
		if rw.Header().Get("Trace-ID") == "" {
			t.Fatalf("expected Trace-ID header")
		}
	}
	after := testutil.ToFloat64(requestCounter.WithLabelValues("iot-bridge-test", "/api/devices/{id}/status", "GET", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests under one pattern label, got %v", after-before)
	}
}

func TestSetupObservabilityWithoutExporter(t *testing.T) {
	shutdown, h, tracer, err := SetupObservability("iot-bridge-test", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer shutdown()
	if h == nil || tracer == nil {
		t.Fatalf("expected handler and tracer")
	}
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rw.Code)
	}
}
