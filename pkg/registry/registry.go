// Package registry owns the delivery-node descriptors and their capacity
// and performance telemetry, and computes placement scores for the
// distribution scheduler.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"meridian/pkg/config"
	"meridian/pkg/types"

	"go.uber.org/zap"
)

// Registry is the authoritative in-memory map of delivery nodes. All
// mutations go through its methods; reads return copies so callers never
// share mutable state with the background loops.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[types.NodeID]*types.DeliveryNode
	order   []types.NodeID // registration order, for stable listings
	weights config.ScoreWeights
	logger  *zap.Logger
}

func New(weights config.ScoreWeights, logger *zap.Logger) *Registry {
	return &Registry{
		nodes:   make(map[types.NodeID]*types.DeliveryNode),
		weights: weights,
		logger:  logger,
	}
}

// Register adds or replaces a node descriptor.
func (r *Registry) Register(node types.DeliveryNode) error {
	if node.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if node.Endpoint == "" {
		return fmt.Errorf("node %s: endpoint is required", node.ID)
	}
	if node.Priority < 1 || node.Priority > 10 {
		return fmt.Errorf("node %s: priority %d out of range 1-10", node.ID, node.Priority)
	}
	if len(node.SupportedTypes) == 0 {
		node.SupportedTypes = []string{"*/*"}
	}
	if node.Status == "" {
		node.Status = types.NodeActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[node.ID]; !exists {
		r.order = append(r.order, node.ID)
	}
	stored := node
	r.nodes[node.ID] = &stored

	r.logger.Info("Registered delivery node",
		zap.String("node_id", string(node.ID)),
		zap.String("region", node.Region),
		zap.String("endpoint", node.Endpoint))

	return nil
}

// Unregister removes a node from placement consideration.
func (r *Registry) Unregister(id types.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.nodes, id)
	for i, nid := range r.order {
		if nid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the node descriptor.
func (r *Registry) Get(id types.NodeID) (types.DeliveryNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[id]
	if !ok {
		return types.DeliveryNode{}, false
	}
	return *node, true
}

// List returns copies of all nodes in registration order.
func (r *Registry) List() []types.DeliveryNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.DeliveryNode, 0, len(r.nodes))
	for _, id := range r.order {
		if node, ok := r.nodes[id]; ok {
			out = append(out, *node)
		}
	}
	return out
}

// Active returns copies of all nodes whose status is active.
func (r *Registry) Active() []types.DeliveryNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.DeliveryNode, 0, len(r.nodes))
	for _, id := range r.order {
		if node, ok := r.nodes[id]; ok && node.Status == types.NodeActive {
			out = append(out, *node)
		}
	}
	return out
}

// SetStatus updates a node's administrative status.
func (r *Registry) SetStatus(id types.NodeID, status types.NodeStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return false
	}
	node.Status = status
	return true
}

// UpdateTelemetry replaces a node's performance measurements, e.g. from an
// external health check.
func (r *Registry) UpdateTelemetry(id types.NodeID, perf types.Performance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		return false
	}
	node.Performance = perf
	node.LastHealthCheck = time.Now()
	return true
}

// AddUsage records bytes stored on a node after a successful upload.
// Usage is a soft limit; exceeding capacity only hurts the score.
func (r *Registry) AddUsage(id types.NodeID, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[id]; ok {
		node.Usage.StorageBytes += bytes
	}
}

// ReleaseUsage returns bytes to a node after an asset purge.
func (r *Registry) ReleaseUsage(id types.NodeID, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[id]; ok {
		node.Usage.StorageBytes -= bytes
		if node.Usage.StorageBytes < 0 {
			node.Usage.StorageBytes = 0
		}
	}
}

// IncConnections bumps a node's live connection counter; the telemetry
// loop decays it back down.
func (r *Registry) IncConnections(id types.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[id]; ok {
		node.Usage.Connections++
	}
}

// RecordFailure bumps a node's error rate after a failed transfer so
// statistics and operators see flaky nodes. The telemetry drift loop
// decays it back down.
func (r *Registry) RecordFailure(id types.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[id]; ok {
		node.Performance.ErrorRate += 0.05
		if node.Performance.ErrorRate > 1 {
			node.Performance.ErrorRate = 1
		}
	}
}

// Mutate applies fn to every node under the write lock. Used by the
// telemetry loop; fn must not block.
func (r *Registry) Mutate(fn func(node *types.DeliveryNode)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, node := range r.nodes {
		fn(node)
	}
}

// Score computes the placement score for a node. Higher wins. The
// weighted terms: free-capacity fraction, uptime fraction, inverse
// latency under 100ms, declared priority, and a cost discount.
func (r *Registry) Score(node types.DeliveryNode) float64 {
	w := r.weights

	score := node.FreeStorageFraction() * w.FreeCapacity
	score += node.Performance.UptimePercent / 100 * w.Uptime

	latencyTerm := 100 - node.Performance.LatencyMS
	if latencyTerm < 0 {
		latencyTerm = 0
	}
	score += latencyTerm * w.LatencyPerMS

	score += float64(node.Priority) * w.Priority

	discount := 10 - node.CostPerGB*10
	if discount < 0 {
		discount = 0
	}
	score += discount * w.CostDiscount

	return score
}

// Eligible reports whether a node's supported-type patterns admit the
// given content type. Patterns are "*/*", an exact type, or "type/*".
func Eligible(node types.DeliveryNode, contentType string) bool {
	for _, pattern := range node.SupportedTypes {
		if pattern == "*/*" || pattern == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(contentType, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// RankedEligible returns active nodes eligible for contentType, sorted by
// placement score descending. The sort is stable so equal scores keep
// registration order.
func (r *Registry) RankedEligible(contentType string) []types.DeliveryNode {
	nodes := r.Active()

	eligible := nodes[:0]
	for _, node := range nodes {
		if Eligible(node, contentType) {
			eligible = append(eligible, node)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return r.Score(eligible[i]) > r.Score(eligible[j])
	})
	return eligible
}

// Aggregates summarizes registry-wide capacity and telemetry for the
// statistics endpoint.
type Aggregates struct {
	TotalNodes       int     `json:"total_nodes"`
	ActiveNodes      int     `json:"active_nodes"`
	CapacityBytes    int64   `json:"capacity_bytes"`
	UsedBytes        int64   `json:"used_bytes"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	AvgUptimePercent float64 `json:"avg_uptime_percent"`
	AvgErrorRate     float64 `json:"avg_error_rate"`
}

func (r *Registry) Aggregate() Aggregates {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := Aggregates{TotalNodes: len(r.nodes)}
	if len(r.nodes) == 0 {
		return agg
	}

	for _, node := range r.nodes {
		if node.Status == types.NodeActive {
			agg.ActiveNodes++
		}
		agg.CapacityBytes += node.Capacity.StorageBytes
		agg.UsedBytes += node.Usage.StorageBytes
		agg.AvgLatencyMS += node.Performance.LatencyMS
		agg.AvgUptimePercent += node.Performance.UptimePercent
		agg.AvgErrorRate += node.Performance.ErrorRate
	}

	n := float64(len(r.nodes))
	agg.AvgLatencyMS /= n
	agg.AvgUptimePercent /= n
	agg.AvgErrorRate /= n
	return agg
}
