package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const incomingTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_TraceAndCorrelationID(t *testing.T) {
	m, _ := newTestMetrics(t)
	installTracer(t)

	tests := []struct {
		name   string
		header http.Header
		want   string
	}{
		{name: "new trace"},
		{
			name:   "continues traceparent",
			header: http.Header{"Traceparent": {"00-" + incomingTrace + "-00f067aa0ba902b7-01"}},
			want:   incomingTrace,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var inner string
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inner = TraceID(r.Context())
			}))
			rec := serve(h, "/healthz", tc.header)

			if len(inner) != 32 {
				t.Fatalf("handler trace id = %q", inner)
			}
			if tc.want != "" && inner != tc.want {
				t.Errorf("handler trace id = %q, want %q", inner, tc.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != inner {
				t.Errorf("X-Correlation-ID = %q, want %q", got, inner)
			}
			if tp := rec.Header().Get("Traceparent"); !strings.Contains(tp, inner) {
				t.Errorf("traceparent = %q, want trace %s", tp, inner)
			}
		})
	}
}

func TestMiddleware_SpanAndDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	exp := installTracer(t)
	logs := captureLogs(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	if rec := serve(h, "/readyz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "HTTP GET /readyz" {
		t.Fatalf("spans = %+v", spans)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("span status attribute = %d", status)
	}

	met := findMetric(collect(t, reader), "medconnect.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	if v, ok := hist.DataPoints[0].Attributes.Value("path"); !ok || v.AsString() != "/readyz" {
		t.Errorf("path attribute = %v", v)
	}

	if out := logs.String(); !strings.Contains(out, "request completed") || !strings.Contains(out, "status=503") {
		t.Errorf("completion log = %q", out)
	}
}

func TestMiddleware_PassesHijacker(t *testing.T) {
	m, _ := newTestMetrics(t)

	var hijackable, unwraps bool
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, hijackable = w.(http.Hijacker)
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		unwraps = ok && u.Unwrap() != nil
	}))
	serve(h, "/v1/voice", nil)

	if !hijackable || !unwraps {
		t.Errorf("hijacker = %v, unwrap = %v; websocket upgrades need both", hijackable, unwraps)
	}

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil || rec.hijacked {
		t.Errorf("hijack of a plain recorder: err = %v, hijacked = %v", err, rec.hijacked)
	}
}
