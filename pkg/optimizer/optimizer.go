// Package optimizer runs the background feedback loop: hotness
// recompute, replication promotion for hot assets, failed-sync retry,
// access-log aging, and telemetry drift.
package optimizer

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"meridian/pkg/accesslog"
	"meridian/pkg/catalog"
	"meridian/pkg/config"
	"meridian/pkg/distributor"
	"meridian/pkg/events"
	"meridian/pkg/registry"
	"meridian/pkg/types"

	"go.uber.org/zap"
)

// Optimizer owns the periodic background tasks. Each task runs on its
// own ticker, is idempotent, and is safe to run concurrently with
// request serving. Stop ends scheduling and waits for in-flight runs.
type Optimizer struct {
	registry  *registry.Registry
	catalog   *catalog.Catalog
	scheduler *distributor.Scheduler
	log       *accesslog.Log
	bus       *events.Bus
	logger    *zap.Logger
	cfg       config.EngineConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(reg *registry.Registry, cat *catalog.Catalog, sched *distributor.Scheduler, log *accesslog.Log, bus *events.Bus, cfg config.EngineConfig, logger *zap.Logger) *Optimizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Optimizer{
		registry:  reg,
		catalog:   cat,
		scheduler: sched,
		log:       log,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background loops.
func (o *Optimizer) Start() {
	loops := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"telemetry_drift", o.cfg.Loops.Telemetry.Duration, o.DriftTelemetry},
		{"access_log_gc", o.cfg.Loops.AccessLogGC.Duration, o.CleanAccessLog},
		{"distribution_optimize", o.cfg.Loops.Optimize.Duration, o.OptimizeDistribution},
		{"hotness_recompute", o.cfg.Loops.Hotness.Duration, o.RecomputeHotness},
		{"resync", o.cfg.Loops.Resync.Duration, o.ResyncStale},
	}

	for _, loop := range loops {
		if loop.interval <= 0 {
			continue
		}
		o.wg.Add(1)
		go o.run(loop.name, loop.interval, loop.task)
	}

	o.logger.Info("Optimizer started")
}

// Stop cancels scheduling of new runs and waits for in-flight tasks.
func (o *Optimizer) Stop() {
	o.cancel()
	o.wg.Wait()
	o.logger.Info("Optimizer stopped")
}

func (o *Optimizer) run(name string, interval time.Duration, task func()) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}

// DriftTelemetry applies small pseudo-random jitter to node telemetry and
// decays connection counts. It models environmental variance in setups
// without real health checks; deployments with measured telemetry feed
// Registry.UpdateTelemetry instead and disable this loop.
func (o *Optimizer) DriftTelemetry() {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()

	decay := o.cfg.Hotness.ConnectionDecay

	o.registry.Mutate(func(node *types.DeliveryNode) {
		node.Performance.LatencyMS = clamp(node.Performance.LatencyMS+o.rng.Float64()*4-2, 1, 500)
		node.Performance.UptimePercent = clamp(node.Performance.UptimePercent+o.rng.Float64()*0.2-0.1, 90, 100)
		node.Performance.ErrorRate = clamp(node.Performance.ErrorRate+o.rng.Float64()*0.002-0.001, 0, 1)
		node.Performance.ThroughputMBPS = clamp(node.Performance.ThroughputMBPS+o.rng.Float64()*10-5, 1, 10000)
		node.Usage.Connections = int64(float64(node.Usage.Connections) * decay)
		node.LastHealthCheck = time.Now()
	})
}

// CleanAccessLog drops entries older than the retention window.
func (o *Optimizer) CleanAccessLog() {
	removed := o.log.Clean(time.Now())
	if removed > 0 {
		o.logger.Debug("Access log cleaned", zap.Int("removed", removed))
		o.bus.Emit(events.Event{
			Type:   events.RequestsCleaned,
			Detail: map[string]any{"removed": removed},
		})
	}
}

// HotnessScore computes min(100, scale * log10(1 + frequency*boost))
// where frequency is accesses per hour since the last access.
func HotnessScore(cfg config.HotnessConfig, accessCount float64, sinceLastAccess time.Duration) float64 {
	hours := sinceLastAccess.Hours()
	if hours < 1 {
		hours = 1
	}
	frequency := accessCount / hours
	score := cfg.Scale * math.Log10(1+frequency*cfg.FrequencyBoost)
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// RecomputeHotness refreshes every asset's hotness from its access
// frequency and decays access counters so old traffic ages out.
func (o *Optimizer) RecomputeHotness() {
	now := time.Now()
	cfg := o.cfg.Hotness

	o.catalog.MutateAll(func(asset *types.Asset) {
		asset.Hotness = HotnessScore(cfg, asset.AccessCount, now.Sub(asset.LastAccess))
		asset.AccessCount *= cfg.AccessDecay
	})

	o.bus.Emit(events.Event{Type: events.MetricsUpdated})
}

// TargetReplicas derives the replica target for a hotness value:
// ceil(hotness/20), capped at maxReplicas.
func TargetReplicas(hotness float64, maxReplicas int) int {
	target := int(math.Ceil(hotness / 20))
	if target < 1 {
		target = 1
	}
	if target > maxReplicas {
		target = maxReplicas
	}
	return target
}

// OptimizeDistribution promotes the hottest assets to more nodes when
// their replica count is below the hotness-derived target.
func (o *Optimizer) OptimizeDistribution() {
	promoted := 0

	for _, asset := range o.catalog.Hot(o.cfg.OptimizeTopN) {
		if asset.Hotness <= o.cfg.Hotness.HotThreshold {
			break // Hot() is sorted descending
		}

		target := TargetReplicas(asset.Hotness, o.cfg.MaxReplicas)
		if len(asset.Distribution.Nodes) >= target {
			continue
		}

		added, err := o.scheduler.ExtendDistribution(o.ctx, asset.ID, target)
		if err != nil {
			o.logger.Warn("Distribution optimization failed",
				zap.String("asset_id", string(asset.ID)),
				zap.Error(err))
			continue
		}
		if added > 0 {
			promoted++
			o.logger.Info("Promoted hot asset",
				zap.String("asset_id", string(asset.ID)),
				zap.Float64("hotness", asset.Hotness),
				zap.Int("added_replicas", added))
		}
	}

	if promoted > 0 {
		o.bus.Emit(events.Event{
			Type:   events.DistributionOptimized,
			Detail: map[string]any{"promoted": promoted},
		})
	}
}

// ResyncStale re-submits assets whose sync failed or whose last
// successful sync is older than the stale-sync age.
func (o *Optimizer) ResyncStale() {
	staleBefore := time.Now().Add(-o.cfg.StaleSyncAge.Duration)
	resynced := 0

	for _, asset := range o.catalog.List() {
		stale := asset.Distribution.Status == types.SyncFailed ||
			(asset.Distribution.Status == types.SyncCompleted && asset.Distribution.LastSync.Before(staleBefore))
		if !stale {
			continue
		}

		if err := o.scheduler.DistributeAsset(o.ctx, asset.ID); err != nil {
			o.logger.Warn("Resync failed",
				zap.String("asset_id", string(asset.ID)),
				zap.Error(err))
			continue
		}
		resynced++
	}

	if resynced > 0 {
		o.logger.Info("Resynced assets", zap.Int("count", resynced))
		o.bus.Emit(events.Event{
			Type:   events.AssetsSynced,
			Detail: map[string]any{"count": resynced},
		})
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
