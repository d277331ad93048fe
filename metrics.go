package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mackerelio/mackerel-client-go"
	"github.com/masahide/erlc-sessionbot/pkg/erlc"
	"github.com/masahide/erlc-sessionbot/pkg/statusview"
	"github.com/masahide/erlc-sessionbot/pkg/tracker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkMetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const meterName = "erlc-sessionbot"

type telemetry struct {
	fetches   metric.Int64Counter
	latency   metric.Float64Histogram
	refreshes metric.Int64Counter
	untracked metric.Int64Counter
	stale     metric.Int64Counter
	stop      func(context.Context) error

	mu   sync.Mutex
	last *erlc.Snapshot
}

// setupTelemetry exports through OTLP/HTTP when metrics are enabled. The
// exporter reads its endpoint and headers from the OTEL_EXPORTER_OTLP_* env.
func setupTelemetry(ctx context.Context, e env, logger *zap.Logger) (*telemetry, error) {
	if !e.MetricsEnabled {
		return newTelemetry(noop.NewMeterProvider(), nil)
	}
	exp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}
	reader := sdkMetric.NewPeriodicReader(exp, sdkMetric.WithInterval(e.MetricsInterval))
	mp := sdkMetric.NewMeterProvider(sdkMetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	logger.Info("otlp metrics enabled", zap.Duration("interval", e.MetricsInterval))
	return newTelemetry(mp, mp.Shutdown)
}

func newTelemetry(mp metric.MeterProvider, stop func(context.Context) error) (*telemetry, error) {
	meter := mp.Meter(meterName)
	t := &telemetry{stop: stop}
	var err error
	if t.fetches, err = meter.Int64Counter("erlc.fetches", metric.WithDescription("ER:LC snapshot fetches")); err != nil {
		return nil, err
	}
	if t.latency, err = meter.Float64Histogram("erlc.fetch.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if t.refreshes, err = meter.Int64Counter("bot.status.refreshed"); err != nil {
		return nil, err
	}
	if t.untracked, err = meter.Int64Counter("bot.status.untracked"); err != nil {
		return nil, err
	}
	if t.stale, err = meter.Int64Counter("bot.status.stale"); err != nil {
		return nil, err
	}

	players, _ := meter.Int64ObservableGauge("erlc.players")
	maxPlayers, _ := meter.Int64ObservableGauge("erlc.players.max")
	queue, _ := meter.Int64ObservableGauge("erlc.queue")
	staff, _ := meter.Int64ObservableGauge("erlc.staff")
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap, ok := t.snapshot()
		if !ok {
			return nil
		}
		attrs := metric.WithAttributeSet(attribute.NewSet(attribute.String("server", snap.Server.Name)))
		o.ObserveInt64(players, int64(snap.Server.CurrentPlayers), attrs)
		o.ObserveInt64(maxPlayers, int64(snap.Server.MaxPlayers), attrs)
		o.ObserveInt64(queue, int64(snap.Server.QueuePlayers), attrs)
		o.ObserveInt64(staff, int64(statusview.ActiveStaff(snap.Players)), attrs)
		return nil
	}, players, maxPlayers, queue, staff)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *telemetry) snapshot() (erlc.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return erlc.Snapshot{}, false
	}
	return *t.last, true
}

func (t *telemetry) shutdown(ctx context.Context) error {
	if t.stop == nil {
		return nil
	}
	return t.stop(ctx)
}

func (t *telemetry) onTick(ctx context.Context, r tracker.TickResult) {
	t.refreshes.Add(ctx, int64(r.Refreshed))
	t.untracked.Add(ctx, int64(r.Untracked))
	t.stale.Add(ctx, int64(r.Stale))
}

// observe wraps f so every fetch is counted and the latest snapshot feeds the gauges.
func (t *telemetry) observe(f tracker.Fetcher) tracker.Fetcher {
	return &observedFetcher{t: t, next: f}
}

type observedFetcher struct {
	t    *telemetry
	next tracker.Fetcher
}

func (o *observedFetcher) FetchSnapshot(ctx context.Context) (erlc.Snapshot, error) {
	start := time.Now()
	snap, err := o.next.FetchSnapshot(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	o.t.fetches.Add(ctx, 1, attrs)
	o.t.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	if err == nil {
		o.t.mu.Lock()
		o.t.last = &snap
		o.t.mu.Unlock()
	}
	return snap, err
}

type mackerelReporter struct {
	hostID  string
	debug   bool
	mkr     *mackerel.Client
	logger  *zap.Logger
	defined bool
}

func newMackerelReporter(e env, logger *zap.Logger) *mackerelReporter {
	if e.MackerelAPIKey == "" || e.MackerelHostID == "" {
		return nil
	}
	return &mackerelReporter{
		hostID: e.MackerelHostID,
		debug:  e.Debug,
		mkr:    mackerel.NewClient(e.MackerelAPIKey),
		logger: logger,
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *mackerelReporter) createMetrics(snap erlc.Snapshot, tracked int, sessionActive bool, now time.Time) []*mackerel.MetricValue {
	ts := now.Unix()
	return []*mackerel.MetricValue{
		{Name: "custom.erlc.players.current", Time: ts, Value: float64(snap.Server.CurrentPlayers)},
		{Name: "custom.erlc.players.max", Time: ts, Value: float64(snap.Server.MaxPlayers)},
		{Name: "custom.erlc.players.queue", Time: ts, Value: float64(snap.Server.QueuePlayers)},
		{Name: "custom.erlc.staff.online", Time: ts, Value: float64(statusview.ActiveStaff(snap.Players))},
		{Name: "custom.erlc.bot.tracked", Time: ts, Value: float64(tracked)},
		{Name: "custom.erlc.bot.session", Time: ts, Value: boolValue(sessionActive)},
	}
}

func graphDefs() []*mackerel.GraphDefsParam {
	return []*mackerel.GraphDefsParam{
		{
			Name:        "custom.erlc.players",
			DisplayName: "Players",
			Unit:        "integer",
			Metrics: []*mackerel.GraphDefsMetric{
				{Name: "custom.erlc.players.current", DisplayName: "Current"},
				{Name: "custom.erlc.players.max", DisplayName: "Max"},
				{Name: "custom.erlc.players.queue", DisplayName: "Queue"},
			},
		},
		{
			Name:        "custom.erlc.staff",
			DisplayName: "Staff",
			Unit:        "integer",
			Metrics: []*mackerel.GraphDefsMetric{
				{Name: "custom.erlc.staff.online", DisplayName: "Online"},
			},
		},
		{
			Name:        "custom.erlc.bot",
			DisplayName: "Session bot",
			Unit:        "integer",
			Metrics: []*mackerel.GraphDefsMetric{
				{Name: "custom.erlc.bot.tracked", DisplayName: "Tracked messages"},
				{Name: "custom.erlc.bot.session", DisplayName: "Session active"},
			},
		},
	}
}

// job posts one round of host metrics. Graph definitions go out once per process.
func (m *mackerelReporter) job(snap erlc.Snapshot, tracked int, sessionActive bool, now time.Time) error {
	metrics := m.createMetrics(snap, tracked, sessionActive, now)
	if m.debug {
		b, _ := json.Marshal(metrics)
		m.logger.Debug("mackerel metrics", zap.ByteString("metrics", b))
		return nil
	}
	var errs []error
	if !m.defined {
		if err := m.mkr.CreateGraphDefs(graphDefs()); err != nil {
			errs = append(errs, err)
		} else {
			m.defined = true
		}
	}
	if err := m.mkr.PostHostMetricValuesByHostID(m.hostID, metrics); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// reportLoop refreshes the presence line and the gauges, and feeds mk if set,
// every MetricsInterval.
func (d *discordbot) reportLoop(ctx context.Context, f tracker.Fetcher, mk *mackerelReporter) {
	interval := d.MetricsInterval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		d.report(ctx, f, mk)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (d *discordbot) report(ctx context.Context, f tracker.Fetcher, mk *mackerelReporter) {
	snap, err := f.FetchSnapshot(ctx)
	d.updatePresence(snap, err)
	if err != nil {
		d.logger.Warn("report snapshot", zap.Error(err))
		return
	}
	if mk == nil {
		return
	}
	_, active := d.sessions.Current()
	if err := mk.job(snap, d.tracked.Len(), active, d.now()); err != nil {
		d.logger.Warn("mackerel post", zap.Error(err))
	}
}
