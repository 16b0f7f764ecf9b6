// Package router picks the best delivery node for a client request and
// records the access. The resolve path is pure in-memory work and never
// blocks on external I/O.
package router

import (
	"errors"
	"sort"
	"strings"
	"time"

	"meridian/pkg/accesslog"
	"meridian/pkg/catalog"
	"meridian/pkg/distributor"
	"meridian/pkg/events"
	"meridian/pkg/registry"
	"meridian/pkg/types"

	"go.uber.org/zap"
)

var ErrNoNodeAvailable = errors.New("no node available for asset")

type Router struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
	log      *accesslog.Log
	bus      *events.Bus
	logger   *zap.Logger
}

func New(reg *registry.Registry, cat *catalog.Catalog, log *accesslog.Log, bus *events.Bus, logger *zap.Logger) *Router {
	return &Router{
		registry: reg,
		catalog:  cat,
		log:      log,
		bus:      bus,
		logger:   logger,
	}
}

// Request carries the optional client hints for a resolution.
type Request struct {
	ClientID     string
	ClientRegion string // coarse geolocation hint
	Quality      string // variant quality label or kind
}

// Resolution is the serving decision for one request.
type Resolution struct {
	URL     string             `json:"url"`
	NodeID  types.NodeID       `json:"node_id"`
	Policy  types.CachePolicy  `json:"policy"`
	Variant *types.Variant     `json:"variant,omitempty"`
	Result  types.AccessResult `json:"result"`
}

// ResolveServingURL picks the serving node for an asset, applies an
// optional quality-variant substitution, and records the access. Returns
// ErrNoNodeAvailable when none of the asset's assigned nodes is active.
func (r *Router) ResolveServingURL(assetID types.AssetID, req Request) (Resolution, error) {
	asset, err := r.catalog.Touch(assetID)
	if err != nil {
		return Resolution{}, err
	}

	candidates := r.activeAssigned(asset)
	if len(candidates) == 0 {
		return Resolution{}, ErrNoNodeAvailable
	}

	node := pickNode(candidates, req.ClientRegion)
	variant := matchVariant(asset.Variants, req.Quality)

	servePath := asset.SourcePath
	bytes := asset.SizeBytes
	if variant != nil {
		servePath = variant.Path
		bytes = variant.SizeBytes
	}
	url := distributor.NodeBaseURL(node) + "/" + strings.TrimPrefix(servePath, "/")

	// The first access is an edge miss; later ones are hits.
	result := types.AccessHit
	if asset.AccessCount <= 1 {
		result = types.AccessMiss
	}

	r.registry.IncConnections(node.ID)
	r.log.Append(types.AccessLogEntry{
		AssetID:   assetID,
		NodeID:    node.ID,
		ClientID:  req.ClientID,
		Region:    req.ClientRegion,
		Timestamp: time.Now(),
		LatencyMS: node.Performance.LatencyMS,
		Bytes:     bytes,
		Result:    result,
	})

	r.bus.Emit(events.Event{Type: events.AssetServed, AssetID: assetID, Nodes: []types.NodeID{node.ID}})

	return Resolution{
		URL:     url,
		NodeID:  node.ID,
		Policy:  asset.CachePolicy,
		Variant: variant,
		Result:  result,
	}, nil
}

func (r *Router) activeAssigned(asset types.Asset) []types.DeliveryNode {
	out := make([]types.DeliveryNode, 0, len(asset.Distribution.Nodes))
	for _, id := range asset.Distribution.Nodes {
		if node, ok := r.registry.Get(id); ok && node.Status == types.NodeActive {
			out = append(out, node)
		}
	}
	return out
}

// pickNode prefers lower latency when a client region hint is present
// (same-region nodes first), otherwise the lowest connection-load
// fraction.
func pickNode(nodes []types.DeliveryNode, clientRegion string) types.DeliveryNode {
	sorted := make([]types.DeliveryNode, len(nodes))
	copy(sorted, nodes)

	if clientRegion != "" {
		sort.SliceStable(sorted, func(i, j int) bool {
			iSame := sorted[i].Region == clientRegion
			jSame := sorted[j].Region == clientRegion
			if iSame != jSame {
				return iSame
			}
			return sorted[i].Performance.LatencyMS < sorted[j].Performance.LatencyMS
		})
	} else {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].ConnectionLoad() < sorted[j].ConnectionLoad()
		})
	}
	return sorted[0]
}

// matchVariant resolves a quality hint against variant quality labels
// first, then variant kinds. Empty hints and misses serve the original.
func matchVariant(variants []types.Variant, quality string) *types.Variant {
	if quality == "" {
		return nil
	}
	quality = strings.ToLower(quality)

	for i := range variants {
		if strings.ToLower(variants[i].Quality) == quality {
			return &variants[i]
		}
	}
	for i := range variants {
		if strings.ToLower(string(variants[i].Kind)) == quality {
			return &variants[i]
		}
	}
	return nil
}
