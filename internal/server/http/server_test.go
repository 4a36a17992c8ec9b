package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cfgpkg "github.com/rzbill/flo-dispatcher/internal/config"
	"github.com/rzbill/flo-dispatcher/internal/metrics"
	"github.com/rzbill/flo-dispatcher/internal/runtime"
	logpkg "github.com/rzbill/flo-dispatcher/pkg/log"
)

func newTestServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Dispatchers = []cfgpkg.DispatcherConfig{
		{Name: "orders", BufferSize: 3 * 1024},
		{Name: "audit", BufferSize: 3 * 1024, Export: true},
	}
	cfg.Export.DataDir = t.TempDir()
	m := metrics.New()
	rt, err := runtime.Open(runtime.Options{Config: cfg, Metrics: m})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return New(rt, m, logger), rt
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestDispatchersHandler(t *testing.T) {
	s, rt := newTestServer(t)
	d, err := rt.Dispatcher("orders")
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	if _, err := d.OpenSubscription("reader"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := d.Offer([]byte("hello"), 1); err != nil {
		t.Fatalf("offer: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/dispatchers", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var views []dispatcherView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].Name != "audit" || views[1].Name != "orders" {
		t.Fatalf("views: %+v", views)
	}
	orders := views[1]
	if orders.PublisherPosition.Offset != 24 || orders.PartitionSize != 1024 {
		t.Fatalf("orders: %+v", orders)
	}
	if len(orders.Subscriptions) != 1 || orders.Subscriptions[0].Name != "reader" {
		t.Fatalf("subscriptions: %+v", orders.Subscriptions)
	}
	if views[0].ExportedSeq == nil || orders.ExportedSeq != nil {
		t.Fatalf("only the exported dispatcher reports a sequence")
	}

	post := httptest.NewRequest(http.MethodPost, "/v1/dispatchers", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, post)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post status: %d", w.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	s, rt := newTestServer(t)
	d, _ := rt.Dispatcher("orders")
	_, _ = d.Offer([]byte("x"), 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "flo_dispatcher_") {
		t.Fatalf("metrics body missing namespace")
	}
}
