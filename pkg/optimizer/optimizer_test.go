package optimizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meridian/pkg/accesslog"
	"meridian/pkg/cache"
	"meridian/pkg/catalog"
	"meridian/pkg/config"
	"meridian/pkg/distributor"
	"meridian/pkg/events"
	"meridian/pkg/media"
	"meridian/pkg/registry"
	"meridian/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	registry  *registry.Registry
	catalog   *catalog.Catalog
	transport *distributor.FakeTransport
	scheduler *distributor.Scheduler
	log       *accesslog.Log
	bus       *events.Bus
	optimizer *Optimizer
	cfg       config.EngineConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus()
	cfg := config.Default().Engine
	reg := registry.New(cfg.ScoreWeights, logger)
	cat := catalog.New(cache.NewRuleSet(logger), &media.StubExtractor{}, &media.StubTranscoder{}, bus, logger)
	transport := distributor.NewFakeTransport()
	sched := distributor.New(reg, cat, transport, bus, cfg.DefaultReplicas, time.Minute, logger)
	log := accesslog.New(cfg.AccessLogRetention.Duration)
	opt := New(reg, cat, sched, log, bus, cfg, logger)
	return &fixture{
		registry:  reg,
		catalog:   cat,
		transport: transport,
		scheduler: sched,
		log:       log,
		bus:       bus,
		optimizer: opt,
		cfg:       cfg,
	}
}

func (f *fixture) addNode(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.registry.Register(types.DeliveryNode{
		ID:       types.NodeID(id),
		Endpoint: fmt.Sprintf("http://%s.edge.example.com", id),
		Status:   types.NodeActive,
		Capacity: types.Capacity{StorageBytes: 100 * 1024 * 1024 * 1024, Connections: 1000},
		Performance: types.Performance{
			LatencyMS:     20,
			UptimePercent: 99.9,
		},
		Priority:       5,
		SupportedTypes: []string{"*/*"},
	}))
}

func (f *fixture) addAsset(t *testing.T, name string) types.AssetID {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("content-of-"+name), 0644))
	id, _, err := f.catalog.AddAsset(context.Background(), path, catalog.AddOptions{})
	require.NoError(t, err)
	return id
}

func TestHotnessScoreBounds(t *testing.T) {
	cfg := config.Default().Engine.Hotness

	assert.Zero(t, HotnessScore(cfg, 0, time.Hour))

	// A huge access burst still tops out at 100.
	assert.Equal(t, 100.0, HotnessScore(cfg, 1e9, time.Hour))

	mid := HotnessScore(cfg, 500, time.Hour)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 100.0)
}

func TestHotnessScoreFadesWithInactivity(t *testing.T) {
	cfg := config.Default().Engine.Hotness

	recent := HotnessScore(cfg, 100, 30*time.Minute)
	aged := HotnessScore(cfg, 100, 48*time.Hour)
	assert.Greater(t, recent, aged)

	ancient := HotnessScore(cfg, 1, 30*24*time.Hour)
	assert.Less(t, ancient, 1.0)
}

func TestRecomputeHotnessDecaysAccessCount(t *testing.T) {
	f := newFixture(t)
	id := f.addAsset(t, "clip.mp4")

	require.NoError(t, f.catalog.Mutate(id, func(a *types.Asset) {
		a.AccessCount = 1000
		a.LastAccess = time.Now()
	}))

	f.optimizer.RecomputeHotness()

	asset, ok := f.catalog.Get(id)
	require.True(t, ok)
	assert.InDelta(t, 1000*f.cfg.Hotness.AccessDecay, asset.AccessCount, 0.001)
	assert.Greater(t, asset.Hotness, f.cfg.Hotness.HotThreshold)
}

func TestTargetReplicas(t *testing.T) {
	tests := []struct {
		hotness float64
		want    int
	}{
		{0, 1},
		{15, 1},
		{20, 1},
		{21, 2},
		{75, 4},
		{100, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TargetReplicas(tt.hotness, 5), "hotness=%v", tt.hotness)
	}
}

func TestOptimizeDistributionPromotesHotAsset(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.addNode(t, fmt.Sprintf("edge-%02d", i))
	}
	id := f.addAsset(t, "banner.png")
	require.NoError(t, f.scheduler.DistributeAsset(context.Background(), id))

	asset, _ := f.catalog.Get(id)
	require.Len(t, asset.Distribution.Nodes, 2)

	require.NoError(t, f.catalog.Mutate(id, func(a *types.Asset) {
		a.Hotness = 95
	}))

	var optimized bool
	f.bus.Subscribe(func(e events.Event) {
		if e.Type == events.DistributionOptimized {
			optimized = true
		}
	})

	f.optimizer.OptimizeDistribution()

	asset, _ = f.catalog.Get(id)
	assert.Len(t, asset.Distribution.Nodes, TargetReplicas(95, f.cfg.MaxReplicas))
	assert.True(t, optimized)
}

func TestOptimizeDistributionSkipsColdAssets(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		f.addNode(t, fmt.Sprintf("edge-%02d", i))
	}
	id := f.addAsset(t, "archive.zip")
	require.NoError(t, f.scheduler.DistributeAsset(context.Background(), id))

	require.NoError(t, f.catalog.Mutate(id, func(a *types.Asset) {
		a.Hotness = 40 // below threshold
	}))

	f.optimizer.OptimizeDistribution()

	asset, _ := f.catalog.Get(id)
	assert.Len(t, asset.Distribution.Nodes, 2)
}

func TestResyncStaleRetriesFailedSync(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-01")
	f.addNode(t, "edge-02")
	id := f.addAsset(t, "style.css")

	f.transport.FailNodes["edge-02"] = true
	require.NoError(t, f.scheduler.DistributeAsset(context.Background(), id))

	asset, _ := f.catalog.Get(id)
	require.Equal(t, types.SyncFailed, asset.Distribution.Status)

	delete(f.transport.FailNodes, "edge-02")
	f.optimizer.ResyncStale()

	asset, _ = f.catalog.Get(id)
	assert.Equal(t, types.SyncCompleted, asset.Distribution.Status)
	assert.Len(t, asset.Distribution.Nodes, 2)
}

func TestResyncStaleRefreshesOldCompletedSync(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-01")
	f.addNode(t, "edge-02")
	id := f.addAsset(t, "app.js")
	require.NoError(t, f.scheduler.DistributeAsset(context.Background(), id))

	require.NoError(t, f.catalog.Mutate(id, func(a *types.Asset) {
		a.Distribution.LastSync = time.Now().Add(-48 * time.Hour)
	}))

	var synced bool
	f.bus.Subscribe(func(e events.Event) {
		if e.Type == events.AssetsSynced {
			synced = true
		}
	})

	f.optimizer.ResyncStale()

	asset, _ := f.catalog.Get(id)
	assert.True(t, synced)
	assert.WithinDuration(t, time.Now(), asset.Distribution.LastSync, time.Minute)
}

func TestCleanAccessLog(t *testing.T) {
	f := newFixture(t)

	f.log.Append(types.AccessLogEntry{
		AssetID:   "old",
		Timestamp: time.Now().Add(-48 * time.Hour),
	})
	f.log.Append(types.AccessLogEntry{AssetID: "fresh"})
	require.Equal(t, 2, f.log.Len())

	var cleaned bool
	f.bus.Subscribe(func(e events.Event) {
		if e.Type == events.RequestsCleaned {
			cleaned = true
		}
	})

	f.optimizer.CleanAccessLog()

	assert.Equal(t, 1, f.log.Len())
	assert.True(t, cleaned)
}

func TestDriftTelemetryStaysInBounds(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-01")
	f.registry.Mutate(func(n *types.DeliveryNode) {
		n.Performance.LatencyMS = 1
		n.Performance.UptimePercent = 100
		n.Usage.Connections = 100
	})

	for i := 0; i < 50; i++ {
		f.optimizer.DriftTelemetry()
	}

	node, ok := f.registry.Get("edge-01")
	require.True(t, ok)
	assert.GreaterOrEqual(t, node.Performance.LatencyMS, 1.0)
	assert.LessOrEqual(t, node.Performance.LatencyMS, 500.0)
	assert.GreaterOrEqual(t, node.Performance.UptimePercent, 90.0)
	assert.LessOrEqual(t, node.Performance.UptimePercent, 100.0)
	assert.Less(t, node.Usage.Connections, int64(100))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.optimizer.Start()

	done := make(chan struct{})
	go func() {
		f.optimizer.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("optimizer did not stop in time")
	}
}
