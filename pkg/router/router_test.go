package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meridian/pkg/accesslog"
	"meridian/pkg/cache"
	"meridian/pkg/catalog"
	"meridian/pkg/config"
	"meridian/pkg/events"
	"meridian/pkg/media"
	"meridian/pkg/registry"
	"meridian/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
	log      *accesslog.Log
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus()
	reg := registry.New(config.Default().Engine.ScoreWeights, logger)
	cat := catalog.New(cache.NewRuleSet(logger), &media.StubExtractor{}, &media.StubTranscoder{}, bus, logger)
	log := accesslog.New(24 * time.Hour)
	return &fixture{
		registry: reg,
		catalog:  cat,
		log:      log,
		router:   New(reg, cat, log, bus, logger),
	}
}

func (f *fixture) addNode(t *testing.T, id, region string, latency float64, connections int64) {
	t.Helper()
	require.NoError(t, f.registry.Register(types.DeliveryNode{
		ID:       types.NodeID(id),
		Region:   region,
		Endpoint: id + ".edge.example.com",
		Status:   types.NodeActive,
		Capacity: types.Capacity{StorageBytes: 1024 * 1024 * 1024, Connections: 1000},
		Usage:    types.Usage{Connections: connections},
		Performance: types.Performance{
			LatencyMS:     latency,
			UptimePercent: 99.9,
		},
		Priority:       5,
		SupportedTypes: []string{"*/*"},
	}))
}

func (f *fixture) addDistributedAsset(t *testing.T, name string, variants bool, nodes ...types.NodeID) types.AssetID {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("content-"+name), 0644))
	id, _, err := f.catalog.AddAsset(context.Background(), path, catalog.AddOptions{GenerateVariants: variants})
	require.NoError(t, err)
	require.NoError(t, f.catalog.Mutate(id, func(a *types.Asset) {
		a.Distribution.Nodes = nodes
		a.Distribution.Status = types.SyncCompleted
		a.Distribution.LastSync = time.Now()
		if len(nodes) > 0 {
			a.Distribution.Primary = nodes[0]
		}
	}))
	return id
}

func TestResolveReturnsAssignedNodeURL(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-01", "us-east", 10, 0)
	f.addNode(t, "edge-02", "eu-west", 30, 0)
	id := f.addDistributedAsset(t, "photo.png", false, "edge-01", "edge-02")

	res, err := f.router.ResolveServingURL(id, Request{})
	require.NoError(t, err)
	assert.Contains(t, []types.NodeID{"edge-01", "edge-02"}, res.NodeID)
	assert.Contains(t, res.URL, ".edge.example.com/")
	assert.True(t, res.URL[:7] == "http://")
	assert.Equal(t, types.AccessMiss, res.Result)

	// Second request is a hit.
	res, err = f.router.ResolveServingURL(id, Request{})
	require.NoError(t, err)
	assert.Equal(t, types.AccessHit, res.Result)

	// Access accounting happened.
	asset, _ := f.catalog.Get(id)
	assert.Equal(t, float64(2), asset.AccessCount)
	assert.Equal(t, 2, f.log.Len())
}

func TestResolvePrefersLowLatencyWithRegionHint(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-fast", "eu-west", 5, 900)
	f.addNode(t, "edge-slow", "eu-west", 80, 0)
	id := f.addDistributedAsset(t, "photo.png", false, "edge-slow", "edge-fast")

	res, err := f.router.ResolveServingURL(id, Request{ClientRegion: "eu-west"})
	require.NoError(t, err)
	assert.Equal(t, types.NodeID("edge-fast"), res.NodeID)
}

func TestResolveSameRegionBeatsLatency(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-near", "ap-south", 50, 0)
	f.addNode(t, "edge-far", "us-east", 5, 0)
	id := f.addDistributedAsset(t, "photo.png", false, "edge-near", "edge-far")

	res, err := f.router.ResolveServingURL(id, Request{ClientRegion: "ap-south"})
	require.NoError(t, err)
	assert.Equal(t, types.NodeID("edge-near"), res.NodeID)
}

func TestResolvePrefersLowConnectionLoadWithoutHint(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-busy", "us-east", 5, 900)
	f.addNode(t, "edge-idle", "us-east", 50, 10)
	id := f.addDistributedAsset(t, "photo.png", false, "edge-busy", "edge-idle")

	res, err := f.router.ResolveServingURL(id, Request{})
	require.NoError(t, err)
	assert.Equal(t, types.NodeID("edge-idle"), res.NodeID)
}

func TestResolveConnectionCounterBumped(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-01", "us-east", 5, 0)
	id := f.addDistributedAsset(t, "photo.png", false, "edge-01")

	_, err := f.router.ResolveServingURL(id, Request{})
	require.NoError(t, err)

	node, _ := f.registry.Get("edge-01")
	assert.Equal(t, int64(1), node.Usage.Connections)
}

func TestResolveNoActiveNode(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-01", "us-east", 5, 0)
	require.True(t, f.registry.SetStatus("edge-01", types.NodeMaintenance))
	id := f.addDistributedAsset(t, "photo.png", false, "edge-01")

	_, err := f.router.ResolveServingURL(id, Request{})
	assert.ErrorIs(t, err, ErrNoNodeAvailable)
}

func TestResolveUnknownAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.ResolveServingURL("missing", Request{})
	assert.ErrorIs(t, err, catalog.ErrAssetNotFound)
}

func TestResolveQualityVariant(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "edge-01", "us-east", 5, 0)
	id := f.addDistributedAsset(t, "photo.png", true, "edge-01")

	t.Run("ByQualityLabel", func(t *testing.T) {
		res, err := f.router.ResolveServingURL(id, Request{Quality: "low"})
		require.NoError(t, err)
		require.NotNil(t, res.Variant)
		assert.Equal(t, types.VariantThumbnail, res.Variant.Kind)
		assert.Contains(t, res.URL, "thumbnail")
	})

	t.Run("ByKind", func(t *testing.T) {
		res, err := f.router.ResolveServingURL(id, Request{Quality: "preview"})
		require.NoError(t, err)
		require.NotNil(t, res.Variant)
		assert.Equal(t, types.VariantPreview, res.Variant.Kind)
	})

	t.Run("UnknownHintServesOriginal", func(t *testing.T) {
		res, err := f.router.ResolveServingURL(id, Request{Quality: "8k"})
		require.NoError(t, err)
		assert.Nil(t, res.Variant)
	})
}
