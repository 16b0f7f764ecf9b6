// Package catalog owns the asset records: ingest with content-hash dedup,
// variant attachment, cache-policy assignment, and purge.
package catalog

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"meridian/pkg/cache"
	"meridian/pkg/events"
	"meridian/pkg/media"
	"meridian/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrAssetNotFound = errors.New("asset not found")

// Catalog is the authoritative in-memory asset map, keyed by id with a
// secondary content-hash index for idempotent ingest.
type Catalog struct {
	mu     sync.RWMutex
	assets map[types.AssetID]*types.Asset
	byHash map[string]types.AssetID

	rules      *cache.RuleSet
	extractor  media.MetadataExtractor
	transcoder media.VariantTranscoder
	bus        *events.Bus
	logger     *zap.Logger
}

func New(rules *cache.RuleSet, extractor media.MetadataExtractor, transcoder media.VariantTranscoder, bus *events.Bus, logger *zap.Logger) *Catalog {
	return &Catalog{
		assets:     make(map[types.AssetID]*types.Asset),
		byHash:     make(map[string]types.AssetID),
		rules:      rules,
		extractor:  extractor,
		transcoder: transcoder,
		bus:        bus,
		logger:     logger,
	}
}

// AddOptions control ingest behavior.
type AddOptions struct {
	Name             string
	Tags             []string
	GenerateVariants bool
	Replicas         int
}

// AddAsset ingests the file at sourcePath. Ingest is idempotent on
// content: if an asset with the same hash exists its id is returned and
// nothing changes. Metadata extraction and individual variant failures
// are logged and skipped, never fatal. The returned bool is true when a
// new record was created.
func (c *Catalog) AddAsset(ctx context.Context, sourcePath string, opts AddOptions) (types.AssetID, bool, error) {
	hash, size, err := hashFile(sourcePath)
	if err != nil {
		return "", false, fmt.Errorf("failed to hash %s: %w", sourcePath, err)
	}

	c.mu.RLock()
	existing, dup := c.byHash[hash]
	c.mu.RUnlock()
	if dup {
		c.logger.Debug("Duplicate ingest, reusing asset",
			zap.String("asset_id", string(existing)),
			zap.String("hash", hash))
		return existing, false, nil
	}

	contentType := ContentTypeFor(sourcePath)

	meta, err := c.extractor.Extract(ctx, sourcePath)
	if err != nil {
		c.logger.Warn("Metadata extraction failed, continuing without",
			zap.String("source", sourcePath),
			zap.Error(err))
		meta = types.Metadata{}
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(sourcePath)
	}

	asset := &types.Asset{
		ID:          types.AssetID(uuid.NewString()),
		SourcePath:  sourcePath,
		Name:        name,
		SizeBytes:   size,
		ContentType: contentType,
		Hash:        hash,
		CreatedAt:   time.Now(),
		LastAccess:  time.Now(),
		Tags:        opts.Tags,
		Metadata:    meta,
		Distribution: types.Distribution{
			TargetReplicas: opts.Replicas,
			Status:         types.SyncPending,
		},
		CachePolicy: c.rules.Resolve(sourcePath, contentType, size),
	}

	if opts.GenerateVariants {
		asset.Variants = c.generateVariants(ctx, sourcePath, contentType)
	}

	c.mu.Lock()
	// Re-check under the write lock in case a concurrent ingest of the
	// same content won the race.
	if existing, dup := c.byHash[hash]; dup {
		c.mu.Unlock()
		return existing, false, nil
	}
	c.assets[asset.ID] = asset
	c.byHash[hash] = asset.ID
	c.mu.Unlock()

	c.logger.Info("Asset added",
		zap.String("asset_id", string(asset.ID)),
		zap.String("content_type", contentType),
		zap.Int64("size", size),
		zap.Int("variants", len(asset.Variants)))

	c.bus.Emit(events.Event{Type: events.AssetAdded, AssetID: asset.ID})
	return asset.ID, true, nil
}

func (c *Catalog) generateVariants(ctx context.Context, sourcePath, contentType string) []types.Variant {
	specs := media.DefaultSpecs(contentType)
	variants := make([]types.Variant, 0, len(specs))

	for _, spec := range specs {
		variant, err := c.transcoder.Transcode(ctx, sourcePath, spec)
		if err != nil {
			c.logger.Warn("Variant generation failed, skipping",
				zap.String("source", sourcePath),
				zap.String("kind", string(spec.Kind)),
				zap.Error(err))
			continue
		}
		variants = append(variants, variant)
	}

	if len(variants) > 0 {
		c.bus.Emit(events.Event{
			Type:   events.VariantsGenerated,
			Detail: map[string]any{"count": len(variants)},
		})
	}
	return variants
}

// Get returns a copy of the asset.
func (c *Catalog) Get(id types.AssetID) (types.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	asset, ok := c.assets[id]
	if !ok {
		return types.Asset{}, false
	}
	return copyAsset(asset), true
}

// List returns copies of all assets.
func (c *Catalog) List() []types.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.Asset, 0, len(c.assets))
	for _, asset := range c.assets {
		out = append(out, copyAsset(asset))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Hot returns up to limit assets ordered by hotness descending.
func (c *Catalog) Hot(limit int) []types.Asset {
	assets := c.List()
	sort.SliceStable(assets, func(i, j int) bool { return assets[i].Hotness > assets[j].Hotness })
	if limit > 0 && len(assets) > limit {
		assets = assets[:limit]
	}
	return assets
}

// Len reports the number of cataloged assets.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets)
}

// Purge removes an asset and its variants from the catalog, returning a
// copy so the caller can release per-node usage accounting.
func (c *Catalog) Purge(id types.AssetID) (types.Asset, error) {
	c.mu.Lock()
	asset, ok := c.assets[id]
	if !ok {
		c.mu.Unlock()
		return types.Asset{}, ErrAssetNotFound
	}
	purged := copyAsset(asset)
	delete(c.assets, id)
	delete(c.byHash, asset.Hash)
	c.mu.Unlock()

	c.logger.Info("Asset purged",
		zap.String("asset_id", string(id)),
		zap.Int("variants", len(purged.Variants)),
		zap.Int("nodes", len(purged.Distribution.Nodes)))

	c.bus.Emit(events.Event{Type: events.AssetPurged, AssetID: id, Nodes: purged.Distribution.Nodes})
	return purged, nil
}

// Touch bumps the asset's access counter and last-access time, returning
// the updated copy. The counter only ever decreases in the optimizer's
// decay step.
func (c *Catalog) Touch(id types.AssetID) (types.Asset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, ok := c.assets[id]
	if !ok {
		return types.Asset{}, ErrAssetNotFound
	}
	asset.AccessCount++
	asset.LastAccess = time.Now()
	return copyAsset(asset), nil
}

// Mutate applies fn to a single asset under the write lock.
func (c *Catalog) Mutate(id types.AssetID, fn func(asset *types.Asset)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, ok := c.assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	fn(asset)
	return nil
}

// MutateAll applies fn to every asset under the write lock. Used by the
// hotness recompute; fn must not block.
func (c *Catalog) MutateAll(fn func(asset *types.Asset)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, asset := range c.assets {
		fn(asset)
	}
}

// Stats summarizes catalog contents for the statistics endpoint.
type Stats struct {
	Assets       int   `json:"assets"`
	Variants     int   `json:"variants"`
	TotalBytes   int64 `json:"total_bytes"`
	VariantBytes int64 `json:"variant_bytes"`
}

func (c *Catalog) Statistics() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Stats
	s.Assets = len(c.assets)
	for _, asset := range c.assets {
		s.TotalBytes += asset.SizeBytes
		s.Variants += len(asset.Variants)
		for _, v := range asset.Variants {
			s.VariantBytes += v.SizeBytes
		}
	}
	return s
}

// extraTypes covers media extensions missing from the stdlib's builtin
// table so results do not depend on the host's mime.types file.
var extraTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".woff": "font/woff",
}

// ContentTypeFor derives a content type from the path extension.
func ContentTypeFor(sourcePath string) string {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ct, ok := extraTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return ct
	}
	return "application/octet-stream"
}

func hashFile(sourcePath string) (string, int64, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), size, nil
}

func copyAsset(a *types.Asset) types.Asset {
	out := *a
	out.Tags = append([]string(nil), a.Tags...)
	out.Variants = append([]types.Variant(nil), a.Variants...)
	out.Distribution.Nodes = append([]types.NodeID(nil), a.Distribution.Nodes...)
	if a.CachePolicy.Headers != nil {
		out.CachePolicy.Headers = make(map[string]string, len(a.CachePolicy.Headers))
		for k, v := range a.CachePolicy.Headers {
			out.CachePolicy.Headers[k] = v
		}
	}
	return out
}
