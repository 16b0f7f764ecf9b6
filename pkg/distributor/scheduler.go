// Package distributor selects target nodes per asset and drives
// replication, tolerating partial failure.
package distributor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"meridian/pkg/catalog"
	"meridian/pkg/events"
	"meridian/pkg/registry"
	"meridian/pkg/types"

	"go.uber.org/zap"
)

var ErrNoEligibleNodes = errors.New("no eligible nodes for asset")

// Scheduler plans and executes asset replication across delivery nodes.
type Scheduler struct {
	registry  *registry.Registry
	catalog   *catalog.Catalog
	transport NodeTransport
	bus       *events.Bus
	logger    *zap.Logger

	defaultReplicas int
	uploadTimeout   time.Duration
}

func New(reg *registry.Registry, cat *catalog.Catalog, transport NodeTransport, bus *events.Bus, defaultReplicas int, uploadTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if defaultReplicas < 1 {
		defaultReplicas = 1
	}
	return &Scheduler{
		registry:        reg,
		catalog:         cat,
		transport:       transport,
		bus:             bus,
		logger:          logger,
		defaultReplicas: defaultReplicas,
		uploadTimeout:   uploadTimeout,
	}
}

// SelectOptimalNodes returns up to replicas eligible active nodes for the
// asset: preferred nodes first, then the rest by placement score
// descending. The sort is stable, so the ranking order within each group
// is preserved.
func (s *Scheduler) SelectOptimalNodes(asset types.Asset, replicas int, preferred []types.NodeID) []types.DeliveryNode {
	if replicas < 1 {
		replicas = s.defaultReplicas
	}

	ranked := s.registry.RankedEligible(asset.ContentType)

	if len(preferred) > 0 {
		prefer := make(map[types.NodeID]bool, len(preferred))
		for _, id := range preferred {
			prefer[id] = true
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return prefer[ranked[i].ID] && !prefer[ranked[j].ID]
		})
	}

	if len(ranked) > replicas {
		ranked = ranked[:replicas]
	}
	return ranked
}

// DistributeAsset replicates an asset to its selected target nodes.
// Uploads run in parallel with individual timeouts; a failure on one node
// is logged and does not cancel the others. Nodes that fail stay out of
// the asset's distribution set and are picked up again by the resync
// task. Usage accounting is updated only for successful uploads.
func (s *Scheduler) DistributeAsset(ctx context.Context, assetID types.AssetID) error {
	asset, ok := s.catalog.Get(assetID)
	if !ok {
		return catalog.ErrAssetNotFound
	}

	replicas := asset.Distribution.TargetReplicas
	if replicas < 1 {
		replicas = s.defaultReplicas
	}

	targets := s.SelectOptimalNodes(asset, replicas, asset.Distribution.Nodes)
	if len(targets) == 0 {
		s.setStatus(assetID, types.SyncFailed)
		return ErrNoEligibleNodes
	}

	s.setStatus(assetID, types.SyncSyncing)

	hosted := make(map[types.NodeID]bool, len(asset.Distribution.Nodes))
	for _, id := range asset.Distribution.Nodes {
		hosted[id] = true
	}

	succeeded := s.uploadAll(ctx, asset, targets, hosted)

	// Any failed upload leaves the round marked failed so the resync task
	// retries it; the asset stays servable from the nodes that succeeded.
	status := types.SyncCompleted
	if len(succeeded) < len(targets) {
		status = types.SyncFailed
	}

	err := s.catalog.Mutate(assetID, func(a *types.Asset) {
		a.Distribution.Nodes = succeeded
		a.Distribution.TargetReplicas = replicas
		a.Distribution.Status = status
		a.Distribution.LastSync = time.Now()
		if len(succeeded) > 0 {
			a.Distribution.Primary = succeeded[0]
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("Asset distributed",
		zap.String("asset_id", string(assetID)),
		zap.Int("targets", len(targets)),
		zap.Int("succeeded", len(succeeded)),
		zap.String("status", string(status)))

	s.bus.Emit(events.Event{Type: events.AssetDistributed, AssetID: assetID, Nodes: succeeded})
	return nil
}

// ExtendDistribution replicates a hot asset onto additional eligible
// nodes until the distribution reaches targetReplicas. Existing replicas
// are kept. Returns the number of nodes added.
func (s *Scheduler) ExtendDistribution(ctx context.Context, assetID types.AssetID, targetReplicas int) (int, error) {
	asset, ok := s.catalog.Get(assetID)
	if !ok {
		return 0, catalog.ErrAssetNotFound
	}

	current := asset.Distribution.Nodes
	missing := targetReplicas - len(current)
	if missing <= 0 {
		return 0, nil
	}

	ranked := s.registry.RankedEligible(asset.ContentType)
	candidates := make([]types.DeliveryNode, 0, missing)
	for _, node := range ranked {
		if asset.Distribution.HasNode(node.ID) {
			continue
		}
		candidates = append(candidates, node)
		if len(candidates) == missing {
			break
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	succeeded := s.uploadAll(ctx, asset, candidates, nil)

	// A short extension leaves the asset below its replica target, so the
	// round is failed and the resync task picks it up again.
	status := types.SyncCompleted
	if len(succeeded) < missing {
		status = types.SyncFailed
	}

	err := s.catalog.Mutate(assetID, func(a *types.Asset) {
		for _, id := range succeeded {
			if !a.Distribution.HasNode(id) {
				a.Distribution.Nodes = append(a.Distribution.Nodes, id)
			}
		}
		a.Distribution.TargetReplicas = targetReplicas
		a.Distribution.LastSync = time.Now()
		a.Distribution.Status = status
	})
	if err != nil {
		return 0, err
	}

	return len(succeeded), nil
}

// uploadAll pushes the asset to every target in parallel and returns the
// ids of nodes that accepted it, in target order. Nodes in hosted already
// hold the asset, so their usage accounting is not bumped again.
func (s *Scheduler) uploadAll(ctx context.Context, asset types.Asset, targets []types.DeliveryNode, hosted map[types.NodeID]bool) []types.NodeID {
	var wg sync.WaitGroup
	results := make([]bool, len(targets))

	for i, node := range targets {
		wg.Add(1)
		go func(i int, node types.DeliveryNode) {
			defer wg.Done()

			uploadCtx := ctx
			if s.uploadTimeout > 0 {
				var cancel context.CancelFunc
				uploadCtx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
				defer cancel()
			}

			if err := s.transport.Upload(uploadCtx, node, asset); err != nil {
				s.logger.Warn("Upload failed, node excluded this round",
					zap.String("asset_id", string(asset.ID)),
					zap.String("node_id", string(node.ID)),
					zap.Error(err))
				s.registry.RecordFailure(node.ID)
				return
			}

			if !hosted[node.ID] {
				s.registry.AddUsage(node.ID, asset.SizeBytes)
			}
			results[i] = true
		}(i, node)
	}
	wg.Wait()

	succeeded := make([]types.NodeID, 0, len(targets))
	for i, ok := range results {
		if ok {
			succeeded = append(succeeded, targets[i].ID)
		}
	}
	return succeeded
}

func (s *Scheduler) setStatus(assetID types.AssetID, status types.SyncStatus) {
	_ = s.catalog.Mutate(assetID, func(a *types.Asset) {
		a.Distribution.Status = status
	})
}
