// Package engine assembles the registry, catalog, cache rules,
// scheduler, router and background optimizer into one front door for
// the API and CLI.
package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"meridian/pkg/accesslog"
	"meridian/pkg/cache"
	"meridian/pkg/catalog"
	"meridian/pkg/config"
	"meridian/pkg/distributor"
	"meridian/pkg/events"
	"meridian/pkg/media"
	"meridian/pkg/metrics"
	"meridian/pkg/optimizer"
	"meridian/pkg/registry"
	"meridian/pkg/router"
	"meridian/pkg/types"

	"go.uber.org/zap"
)

// Engine owns every subsystem of the distribution pipeline. All methods
// are safe for concurrent use.
type Engine struct {
	cfg    config.Config
	logger *zap.Logger

	bus       *events.Bus
	registry  *registry.Registry
	rules     *cache.RuleSet
	catalog   *catalog.Catalog
	scheduler *distributor.Scheduler
	router    *router.Router
	accessLog *accesslog.Log
	optimizer *optimizer.Optimizer
	metrics   *metrics.Metrics
}

// Options overrides the external tool integrations. Zero values select
// the production implementations.
type Options struct {
	Extractor  media.MetadataExtractor
	Transcoder media.VariantTranscoder
	Transport  distributor.NodeTransport
	Registerer prometheus.Registerer
}

// New wires an engine from config. Nodes declared in the config are
// registered immediately.
func New(cfg config.Config, opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	extractor := opts.Extractor
	if extractor == nil {
		extractor = media.NewFFprobeExtractor(logger)
	}
	transcoder := opts.Transcoder
	if transcoder == nil {
		transcoder = media.NewFFmpegTranscoder(cfg.Engine.VariantDir, logger)
	}
	transport := opts.Transport
	if transport == nil {
		transport = distributor.NewHTTPTransport(cfg.Engine.UploadTimeout.Duration)
	}

	bus := events.NewBus()
	reg := registry.New(cfg.Engine.ScoreWeights, logger)
	rules := cache.NewRuleSet(logger)
	cat := catalog.New(rules, extractor, transcoder, bus, logger)
	sched := distributor.New(reg, cat, transport, bus, cfg.Engine.DefaultReplicas, cfg.Engine.UploadTimeout.Duration, logger)
	log := accesslog.New(cfg.Engine.AccessLogRetention.Duration)
	rtr := router.New(reg, cat, log, bus, logger)
	opt := optimizer.New(reg, cat, sched, log, bus, cfg.Engine, logger)

	m := metrics.New(opts.Registerer)
	m.Observe(bus)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		registry:  reg,
		rules:     rules,
		catalog:   cat,
		scheduler: sched,
		router:    rtr,
		accessLog: log,
		optimizer: opt,
		metrics:   m,
	}

	for _, seed := range cfg.Nodes {
		if err := reg.Register(seed.DeliveryNode()); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Start launches the background optimization loops.
func (e *Engine) Start() {
	e.optimizer.Start()
	e.logger.Info("Engine started",
		zap.Int("nodes", len(e.registry.List())),
		zap.Int("assets", e.catalog.Len()))
}

// Stop halts the background loops and waits for in-flight tasks.
func (e *Engine) Stop() {
	e.optimizer.Stop()
	e.logger.Info("Engine stopped")
}

// AddAssetOptions controls ingestion of a single asset.
type AddAssetOptions struct {
	Name             string
	Tags             []string
	GenerateVariants bool
	Replicas         int
}

// AddAsset ingests a file into the catalog and replicates it to the
// selected delivery nodes. Re-adding identical content returns the
// existing asset without a new distribution round.
func (e *Engine) AddAsset(ctx context.Context, sourcePath string, opts AddAssetOptions) (types.Asset, error) {
	id, created, err := e.catalog.AddAsset(ctx, sourcePath, catalog.AddOptions{
		Name:             opts.Name,
		Tags:             opts.Tags,
		GenerateVariants: opts.GenerateVariants,
		Replicas:         opts.Replicas,
	})
	if err != nil {
		return types.Asset{}, err
	}

	if created {
		if err := e.scheduler.DistributeAsset(ctx, id); err != nil {
			e.logger.Warn("Initial distribution failed",
				zap.String("asset_id", string(id)),
				zap.Error(err))
		}
	}

	asset, _ := e.catalog.Get(id)
	return asset, nil
}

// GetAsset returns an asset by id.
func (e *Engine) GetAsset(id types.AssetID) (types.Asset, bool) {
	return e.catalog.Get(id)
}

// GetAssets returns every cataloged asset.
func (e *Engine) GetAssets() []types.Asset {
	return e.catalog.List()
}

// GetHotAssets returns the hottest assets, hottest first.
func (e *Engine) GetHotAssets(limit int) []types.Asset {
	return e.catalog.Hot(limit)
}

// PurgeAsset removes an asset everywhere: catalog entry, node usage
// accounting, and retained access log entries for it.
func (e *Engine) PurgeAsset(id types.AssetID) error {
	asset, err := e.catalog.Purge(id)
	if err != nil {
		return err
	}

	for _, nodeID := range asset.Distribution.Nodes {
		e.registry.ReleaseUsage(nodeID, asset.SizeBytes)
	}

	e.logger.Info("Asset purged",
		zap.String("asset_id", string(id)),
		zap.Int("nodes", len(asset.Distribution.Nodes)))
	return nil
}

// DistributeAsset forces a replication round for an asset.
func (e *Engine) DistributeAsset(ctx context.Context, id types.AssetID) error {
	return e.scheduler.DistributeAsset(ctx, id)
}

// ResolveServingURL picks the best node and variant for a request and
// records the access.
func (e *Engine) ResolveServingURL(assetID types.AssetID, req router.Request) (router.Resolution, error) {
	return e.router.ResolveServingURL(assetID, req)
}

// RegisterNode adds a delivery node to the fleet.
func (e *Engine) RegisterNode(node types.DeliveryNode) error {
	return e.registry.Register(node)
}

// UnregisterNode removes a node. Assets it held are re-replicated by the
// resync loop once their sync state goes stale.
func (e *Engine) UnregisterNode(id types.NodeID) {
	e.registry.Unregister(id)
}

// SetNodeStatus changes a node's lifecycle status.
func (e *Engine) SetNodeStatus(id types.NodeID, status types.NodeStatus) bool {
	return e.registry.SetStatus(id, status)
}

// GetNode returns a node by id.
func (e *Engine) GetNode(id types.NodeID) (types.DeliveryNode, bool) {
	return e.registry.Get(id)
}

// GetNodes returns every registered node in registration order.
func (e *Engine) GetNodes() []types.DeliveryNode {
	return e.registry.List()
}

// GetActiveNodes returns nodes currently accepting traffic.
func (e *Engine) GetActiveNodes() []types.DeliveryNode {
	return e.registry.Active()
}

// AddCacheRule installs a cache policy rule.
func (e *Engine) AddCacheRule(rule types.CacheRule) {
	e.rules.AddRule(rule)
}

// CacheRules returns the installed rules, highest priority first.
func (e *Engine) CacheRules() []types.CacheRule {
	return e.rules.Rules()
}

// Statistics is a point-in-time snapshot across all subsystems.
type Statistics struct {
	Catalog catalog.Stats       `json:"catalog"`
	Nodes   registry.Aggregates `json:"nodes"`
	Traffic accesslog.Summary   `json:"traffic"`
}

// GetStatistics snapshots the engine and refreshes the Prometheus
// gauges from the same snapshot.
func (e *Engine) GetStatistics() Statistics {
	stats := Statistics{
		Catalog: e.catalog.Statistics(),
		Nodes:   e.registry.Aggregate(),
		Traffic: e.accessLog.Summarize(),
	}
	e.metrics.Refresh(stats.Catalog, stats.Nodes, stats.Traffic)
	return stats
}

// Subscribe registers a handler for engine lifecycle events.
func (e *Engine) Subscribe(fn func(events.Event)) {
	e.bus.Subscribe(fn)
}

// Optimize runs one distribution optimization pass immediately.
func (e *Engine) Optimize() {
	e.optimizer.RecomputeHotness()
	e.optimizer.OptimizeDistribution()
}
