package observe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// routedHandler mimics the API mux: one JSON route, one failing route and
// nothing else.
func routedHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/voices", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return mux
}

func TestMiddleware_RouteLabels(t *testing.T) {
	m, reader := newTestMetrics(t)
	exp := withTracing(t)
	h := Middleware(m)(routedHandler())

	tests := []struct {
		method, path string
		wantRoute    string
		wantStatus   int
	}{
		{"POST", "/api/chat", "POST /api/chat", http.StatusOK},
		{"GET", "/api/voices", "GET /api/voices", http.StatusInternalServerError},
		{"GET", "/wp-login.php", "GET unmatched", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.wantStatus {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != len(tests) {
		t.Fatalf("spans = %d, want %d", len(spans), len(tests))
	}
	for i, tt := range tests {
		if spans[i].Name != tt.wantRoute {
			t.Errorf("span %d name = %q, want %q", i, spans[i].Name, tt.wantRoute)
		}
		var status int64
		for _, a := range spans[i].Attributes {
			if a.Key == "http.response.status_code" {
				status = a.Value.AsInt64()
			}
		}
		if status != int64(tt.wantStatus) {
			t.Errorf("span %d status attribute = %d, want %d", i, status, tt.wantStatus)
		}
	}

	met := findMetric(collect(t, reader), "voxpersona.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	routes := map[string]bool{}
	for _, dp := range hist.DataPoints {
		if v, ok := dp.Attributes.Value("route"); ok {
			routes[v.AsString()] = true
		}
		if _, ok := dp.Attributes.Value("path"); ok {
			t.Error("raw path leaked into metric attributes")
		}
	}
	for _, tt := range tests {
		if !routes[tt.wantRoute] {
			t.Errorf("no data point for route %q (have %v)", tt.wantRoute, routes)
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _ := newTestMetrics(t)
	withTracing(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))
	if len(seen) != 32 {
		t.Fatalf("correlation ID = %q, want a 32 char trace ID", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != upstream || rec.Header().Get("X-Correlation-ID") != upstream {
		t.Errorf("incoming trace not continued: ctx %q, header %q", seen, rec.Header().Get("X-Correlation-ID"))
	}
}

func TestMiddleware_WebSocketUpgradeNotTimed(t *testing.T) {
	m, reader := newTestMetrics(t)
	withTracing(t)

	var hijackErr error
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			hijackErr = errors.New("writer is not a Hijacker")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			hijackErr = err
			return
		}
		_ = conn.Close()
	})
	srv := httptest.NewServer(Middleware(m)(mux))
	defer srv.Close()

	if resp, err := http.Get(srv.URL + "/ws"); err == nil {
		resp.Body.Close()
	}
	if hijackErr != nil {
		t.Fatalf("hijack: %v", hijackErr)
	}
	if met := findMetric(collect(t, reader), "voxpersona.http.request.duration"); met != nil {
		if hist, ok := met.Data.(metricdata.Histogram[float64]); ok && len(hist.DataPoints) > 0 {
			t.Error("upgraded connection recorded as a request duration")
		}
	}
}
