package observe

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// handle sends one request through Middleware wrapped around h and returns
// the response, the collected metrics and the recorded spans.
func handle(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, metricdata.ResourceMetrics, []tracetest.SpanStub) {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := useTracer(t)

	rec := httptest.NewRecorder()
	Middleware(m)(h).ServeHTTP(rec, req)
	return rec, collect(t, reader), exp.GetSpans()
}

func durationPoint(t *testing.T, rm metricdata.ResourceMetrics) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(rm, "burgerxpress.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("duration data = %#v, want one histogram point", met.Data)
	}
	return hist.DataPoints[0]
}

func attrOf(dp metricdata.HistogramDataPoint[float64], key string) string {
	v, _ := dp.Attributes.Value(attribute.Key(key))
	return v.AsString()
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	var inHandler string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
	})

	t.Run("new trace", func(t *testing.T) {
		rec, _, _ := handle(t, h, httptest.NewRequest(http.MethodGet, "/api/session", nil))
		if len(inHandler) != 32 {
			t.Fatalf("handler saw correlation ID %q", inHandler)
		}
		if got := rec.Header().Get(CorrelationHeader); got != inHandler {
			t.Errorf("header %q, handler %q", got, inHandler)
		}
	})

	t.Run("continues traceparent", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
		rec, _, _ := handle(t, h, req)
		if inHandler != traceID {
			t.Errorf("handler saw %q, want %s", inHandler, traceID)
		}
		if got := rec.Header().Get(CorrelationHeader); got != traceID {
			t.Errorf("header = %q, want %s", got, traceID)
		}
		if !strings.Contains(rec.Header().Get("traceparent"), traceID) {
			t.Errorf("traceparent not injected into response: %q", rec.Header().Get("traceparent"))
		}
	})
}

func TestMiddleware_RoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations/{id...}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec, rm, spans := handle(t, mux, httptest.NewRequest(http.MethodGet, "/api/conversations/abc/def", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	dp := durationPoint(t, rm)
	if dp.Count != 1 {
		t.Errorf("count = %d, want 1", dp.Count)
	}
	for key, want := range map[string]string{
		"method": "GET",
		"path":   "GET /api/conversations/{id...}",
		"status": "404",
	} {
		if got := attrOf(dp, key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /api/conversations/{id...}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != 404 {
		t.Errorf("span status code = %d, want 404", status)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("a 404 should not mark the span failed")
	}
}

func TestMiddleware_UnroutedUsesPath(t *testing.T) {
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	_, rm, spans := handle(t, h, httptest.NewRequest(http.MethodPost, "/api/conversation/message", nil))

	if got := attrOf(durationPoint(t, rm), "path"); got != "/api/conversation/message" {
		t.Errorf("path = %q", got)
	}
	if len(spans) != 1 || spans[0].Name != "HTTP POST /api/conversation/message" {
		t.Errorf("spans = %+v", spans)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, rm, spans := handle(t, h, httptest.NewRequest(http.MethodPost, "/api/conversation/voice", nil))
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("spans = %+v, want one failed span", spans)
	}
	if got := attrOf(durationPoint(t, rm), "status"); got != "502" {
		t.Errorf("status attribute = %q", got)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		path   string
		logged bool
	}{
		{"/readyz", false},
		{"/metrics", false},
		{"/api/session", true},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			buf := captureLogs(t, slog.LevelInfo)
			handle(t, h, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if got := strings.Contains(buf.String(), "web: request"); got != tc.logged {
				t.Errorf("logged at info = %v, want %v: %s", got, tc.logged, buf.String())
			}
		})
	}
}

func TestMiddleware_Flushes(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data: {\"fragment\":\"Hi\"}\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush: %v", err)
		}
	})
	rec, _, _ := handle(t, h, httptest.NewRequest(http.MethodPost, "/api/conversation/message", nil))
	if !rec.Flushed {
		t.Error("stream was not flushed")
	}
}
