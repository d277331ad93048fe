package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mackerelio/mackerel-client-go"
	"github.com/masahide/erlc-sessionbot/pkg/erlc"
	"github.com/masahide/erlc-sessionbot/pkg/tracker"
	sdkMetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func collect(t *testing.T, r *sdkMetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func gaugeValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	g, ok := m.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) != 1 {
		t.Fatalf("%s: unexpected data %T", m.Name, m.Data)
	}
	return g.DataPoints[0].Value
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	s, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: unexpected data %T", m.Name, m.Data)
	}
	var n int64
	for _, dp := range s.DataPoints {
		n += dp.Value
	}
	return n
}

func newTestTelemetry(t *testing.T) (*telemetry, *sdkMetric.ManualReader) {
	t.Helper()
	reader := sdkMetric.NewManualReader()
	mp := sdkMetric.NewMeterProvider(sdkMetric.WithReader(reader))
	tel, err := newTelemetry(mp, mp.Shutdown)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tel.shutdown(context.Background()) })
	return tel, reader
}

func TestTelemetry_ObservedFetcher(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	f := tel.observe(&stubFetcher{snap: testSnap})

	if _, err := f.FetchSnapshot(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := collect(t, reader)
	for name, want := range map[string]int64{
		"erlc.players":     5,
		"erlc.players.max": 20,
		"erlc.queue":       0,
		"erlc.staff":       1,
	} {
		if v := gaugeValue(t, got[name]); v != want {
			t.Errorf("%s = %d, want %d", name, v, want)
		}
	}
	if n := sumValue(t, got["erlc.fetches"]); n != 1 {
		t.Errorf("erlc.fetches = %d, want 1", n)
	}
}

func TestTelemetry_FailedFetchKeepsLastSnapshot(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	stub := &stubFetcher{snap: testSnap}
	f := tel.observe(stub)
	f.FetchSnapshot(context.Background())

	stub.err = erlc.ErrFetch
	stub.snap = erlc.Snapshot{}
	if _, err := f.FetchSnapshot(context.Background()); err == nil {
		t.Fatal("want error")
	}
	got := collect(t, reader)
	if v := gaugeValue(t, got["erlc.players"]); v != 5 {
		t.Errorf("erlc.players = %d, want 5", v)
	}
	if n := sumValue(t, got["erlc.fetches"]); n != 2 {
		t.Errorf("erlc.fetches = %d, want 2", n)
	}
}

func TestTelemetry_OnTick(t *testing.T) {
	tel, reader := newTestTelemetry(t)
	tel.onTick(context.Background(), tracker.TickResult{Refreshed: 2, Untracked: 1, Stale: 3})

	got := collect(t, reader)
	for name, want := range map[string]int64{
		"bot.status.refreshed": 2,
		"bot.status.untracked": 1,
		"bot.status.stale":     3,
	} {
		if n := sumValue(t, got[name]); n != want {
			t.Errorf("%s = %d, want %d", name, n, want)
		}
	}
}

func TestSetupTelemetry_Disabled(t *testing.T) {
	tel, err := setupTelemetry(context.Background(), env{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tel.observe(&stubFetcher{snap: testSnap}).FetchSnapshot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := tel.shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCreateMetrics(t *testing.T) {
	m := &mackerelReporter{}
	now := time.Unix(1700000000, 0)
	got := m.createMetrics(testSnap, 3, true, now)
	want := []*mackerel.MetricValue{
		{Name: "custom.erlc.players.current", Time: now.Unix(), Value: float64(5)},
		{Name: "custom.erlc.players.max", Time: now.Unix(), Value: float64(20)},
		{Name: "custom.erlc.players.queue", Time: now.Unix(), Value: float64(0)},
		{Name: "custom.erlc.staff.online", Time: now.Unix(), Value: float64(1)},
		{Name: "custom.erlc.bot.tracked", Time: now.Unix(), Value: float64(3)},
		{Name: "custom.erlc.bot.session", Time: now.Unix(), Value: float64(1)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("createMetrics mismatch (-want +got):\n%s", diff)
	}
}

func TestGraphDefsCoverMetrics(t *testing.T) {
	defined := map[string]bool{}
	for _, g := range graphDefs() {
		for _, m := range g.Metrics {
			if !strings.HasPrefix(m.Name, g.Name+".") {
				t.Errorf("metric %s outside graph %s", m.Name, g.Name)
			}
			defined[m.Name] = true
		}
	}
	for _, v := range (&mackerelReporter{}).createMetrics(testSnap, 0, false, time.Now()) {
		if !defined[v.Name] {
			t.Errorf("metric %s has no graph definition", v.Name)
		}
	}
}

type mackerelStub struct {
	mu        sync.Mutex
	graphDefs int
	posts     int
	hostIDs   []string
}

func (s *mackerelStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/graph-defs/create", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.graphDefs++
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("POST /api/v0/tsdb", func(w http.ResponseWriter, r *http.Request) {
		var body []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode tsdb body: %v", err)
		}
		s.mu.Lock()
		s.posts++
		for _, v := range body {
			if id, _ := v["hostId"].(string); id != "" {
				s.hostIDs = append(s.hostIDs, id)
			}
		}
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	})
	return mux
}

func (s *mackerelStub) counts() (graphDefs, posts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphDefs, s.posts
}

func TestMackerelJob(t *testing.T) {
	stub := &mackerelStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client, err := mackerel.NewClientWithOptions("dummy", srv.URL, false)
	if err != nil {
		t.Fatal(err)
	}
	m := &mackerelReporter{hostID: "host-1", mkr: client, logger: zap.NewNop()}
	for range 2 {
		if err := m.job(testSnap, 1, false, time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	graphDefs, posts := stub.counts()
	if graphDefs != 1 {
		t.Errorf("graph defs posted %d times, want 1", graphDefs)
	}
	if posts != 2 {
		t.Errorf("metrics posted %d times, want 2", posts)
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	for _, id := range stub.hostIDs {
		if id != "host-1" {
			t.Errorf("hostId = %q", id)
		}
	}
}

func TestMackerelJob_DebugDoesNotPost(t *testing.T) {
	stub := &mackerelStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client, err := mackerel.NewClientWithOptions("dummy", srv.URL, false)
	if err != nil {
		t.Fatal(err)
	}
	m := &mackerelReporter{hostID: "host-1", debug: true, mkr: client, logger: zap.NewNop()}
	if err := m.job(testSnap, 0, false, time.Now()); err != nil {
		t.Fatal(err)
	}
	if graphDefs, posts := stub.counts(); graphDefs != 0 || posts != 0 {
		t.Errorf("debug mode posted: graphDefs=%d posts=%d", graphDefs, posts)
	}
}

func TestNewMackerelReporter(t *testing.T) {
	if newMackerelReporter(env{}, zap.NewNop()) != nil {
		t.Error("reporter built without credentials")
	}
	if newMackerelReporter(env{MackerelAPIKey: "k", MackerelHostID: "h"}, zap.NewNop()) == nil {
		t.Error("reporter not built with credentials")
	}
}

func TestReport_SkipsMackerelOnFetchFailure(t *testing.T) {
	stub := &mackerelStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()
	client, err := mackerel.NewClientWithOptions("dummy", srv.URL, false)
	if err != nil {
		t.Fatal(err)
	}
	mk := &mackerelReporter{hostID: "host-1", mkr: client, logger: zap.NewNop()}

	d, _, f := newTestBot(t)
	f.err = erlc.ErrFetch
	d.report(context.Background(), f, mk)
	if _, posts := stub.counts(); posts != 0 {
		t.Errorf("posts = %d, want 0", posts)
	}

	f.err = nil
	d.report(context.Background(), f, mk)
	if _, posts := stub.counts(); posts != 1 {
		t.Errorf("posts = %d, want 1", posts)
	}
}
