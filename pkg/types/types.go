package types

import (
	"time"
)

type NodeID string
type AssetID string
type RuleID string

// NodeStatus is the administrative/operational state of a delivery node.
type NodeStatus string

const (
	NodeActive      NodeStatus = "active"
	NodeInactive    NodeStatus = "inactive"
	NodeMaintenance NodeStatus = "maintenance"
	NodeOverloaded  NodeStatus = "overloaded"
)

// Capacity holds the hard ceilings declared for a node. Usage may
// transiently exceed them; scoring penalizes that instead of rejecting.
type Capacity struct {
	StorageBytes int64 `json:"storage_bytes"`
	BandwidthBPS int64 `json:"bandwidth_bps"`
	Connections  int64 `json:"connections"`
}

// Usage mirrors Capacity with the currently consumed amounts.
type Usage struct {
	StorageBytes int64 `json:"storage_bytes"`
	BandwidthBPS int64 `json:"bandwidth_bps"`
	Connections  int64 `json:"connections"`
}

// Performance is node telemetry, supplied by health checks in a real
// deployment and jittered by the optimizer when none is wired.
type Performance struct {
	LatencyMS      float64 `json:"latency_ms"`
	UptimePercent  float64 `json:"uptime_percent"`
	ErrorRate      float64 `json:"error_rate"`
	ThroughputMBPS float64 `json:"throughput_mbps"`
}

type DeliveryNode struct {
	ID              NodeID      `json:"id"`
	Name            string      `json:"name"`
	Region          string      `json:"region"`
	Endpoint        string      `json:"endpoint"`
	Status          NodeStatus  `json:"status"`
	Capacity        Capacity    `json:"capacity"`
	Usage           Usage       `json:"usage"`
	Performance     Performance `json:"performance"`
	Priority        int         `json:"priority"` // 1 (lowest) to 10
	CostPerGB       float64     `json:"cost_per_gb"`
	SupportedTypes  []string    `json:"supported_types"` // "*/*", "image/*", "video/mp4"
	Features        []string    `json:"features"`
	LastHealthCheck time.Time   `json:"last_health_check"`
}

// FreeStorageFraction reports the unused share of declared storage,
// clamped to [0,1] since usage is a soft limit.
func (n *DeliveryNode) FreeStorageFraction() float64 {
	if n.Capacity.StorageBytes <= 0 {
		return 0
	}
	free := 1 - float64(n.Usage.StorageBytes)/float64(n.Capacity.StorageBytes)
	if free < 0 {
		return 0
	}
	if free > 1 {
		return 1
	}
	return free
}

// ConnectionLoad reports current connections as a fraction of the ceiling.
func (n *DeliveryNode) ConnectionLoad() float64 {
	if n.Capacity.Connections <= 0 {
		return 0
	}
	return float64(n.Usage.Connections) / float64(n.Capacity.Connections)
}

// SyncStatus is the replication lifecycle state of an asset.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

type VariantKind string

const (
	VariantThumbnail  VariantKind = "thumbnail"
	VariantPreview    VariantKind = "preview"
	VariantOptimized  VariantKind = "optimized"
	VariantCompressed VariantKind = "compressed"
	VariantTranscoded VariantKind = "transcoded"
)

// Variant is a derived rendition of an asset (alternate quality or format).
type Variant struct {
	Kind      VariantKind       `json:"kind"`
	Path      string            `json:"path"`
	SizeBytes int64             `json:"size_bytes"`
	Quality   string            `json:"quality"`
	Params    map[string]string `json:"params,omitempty"`
}

// Distribution records which nodes currently hold a copy of an asset.
type Distribution struct {
	Nodes          []NodeID   `json:"nodes"`
	TargetReplicas int        `json:"target_replicas"`
	Primary        NodeID     `json:"primary"`
	LastSync       time.Time  `json:"last_sync"`
	Status         SyncStatus `json:"status"`
}

// HasNode reports whether id is already part of the distribution set.
func (d *Distribution) HasNode(id NodeID) bool {
	for _, n := range d.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

type CompressionMode string

const (
	CompressionNone   CompressionMode = "none"
	CompressionGzip   CompressionMode = "gzip"
	CompressionBrotli CompressionMode = "brotli"
	CompressionAuto   CompressionMode = "auto"
)

// CachePolicy is the resolved ttl/header/compression contract for serving.
type CachePolicy struct {
	TTLSeconds  int               `json:"ttl_seconds"`
	Headers     map[string]string `json:"headers,omitempty"`
	Compression CompressionMode   `json:"compression"`
	Public      bool              `json:"public"`
}

// Metadata holds properties extracted from the source media. Fields are
// zero when extraction fails or does not apply to the content type.
type Metadata struct {
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Bitrate         int64   `json:"bitrate,omitempty"`
	Codec           string  `json:"codec,omitempty"`
}

type Asset struct {
	ID           AssetID      `json:"id"`
	SourcePath   string       `json:"source_path"`
	Name         string       `json:"name"`
	SizeBytes    int64        `json:"size_bytes"`
	ContentType  string       `json:"content_type"`
	Hash         string       `json:"hash"` // sha256, dedup key
	CreatedAt    time.Time    `json:"created_at"`
	LastAccess   time.Time    `json:"last_access"`
	AccessCount  float64      `json:"access_count"` // decayed by the optimizer
	Hotness      float64      `json:"hotness"`      // 0-100
	Tags         []string     `json:"tags,omitempty"`
	Metadata     Metadata     `json:"metadata"`
	Variants     []Variant    `json:"variants,omitempty"`
	Distribution Distribution `json:"distribution"`
	CachePolicy  CachePolicy  `json:"cache_policy"`
}

// ConditionField selects which asset property a rule condition inspects.
type ConditionField string

const (
	FieldMimeType  ConditionField = "mime_type"
	FieldExtension ConditionField = "extension"
	FieldSize      ConditionField = "size"
	FieldPath      ConditionField = "path"
)

type ConditionOp string

const (
	OpEquals      ConditionOp = "equals"
	OpContains    ConditionOp = "contains"
	OpStartsWith  ConditionOp = "starts-with"
	OpEndsWith    ConditionOp = "ends-with"
	OpRegex       ConditionOp = "regex"
	OpGreaterThan ConditionOp = "greater-than"
	OpLessThan    ConditionOp = "less-than"
)

type RuleCondition struct {
	Field ConditionField `json:"field"`
	Op    ConditionOp    `json:"op"`
	Value string         `json:"value"`
}

// CacheRule declares cache semantics for matching assets. When several
// rules match, the highest Priority wins; ties keep declaration order.
type CacheRule struct {
	ID          RuleID            `json:"id"`
	Name        string            `json:"name"`
	Pattern     string            `json:"pattern"` // glob matched against the asset path
	Conditions  []RuleCondition   `json:"conditions,omitempty"`
	TTLSeconds  int               `json:"ttl_seconds"`
	Headers     map[string]string `json:"headers,omitempty"`
	Compression CompressionMode   `json:"compression"`
	Priority    int               `json:"priority"`
	Active      bool              `json:"active"`
}

// AccessResult classifies a served request for hit-rate accounting.
type AccessResult string

const (
	AccessHit     AccessResult = "hit"
	AccessMiss    AccessResult = "miss"
	AccessRefresh AccessResult = "refresh"
)

type AccessLogEntry struct {
	AssetID   AssetID      `json:"asset_id"`
	NodeID    NodeID       `json:"node_id"`
	ClientID  string       `json:"client_id"`
	Region    string       `json:"region"`
	Timestamp time.Time    `json:"timestamp"`
	LatencyMS float64      `json:"latency_ms"`
	Bytes     int64        `json:"bytes"`
	Result    AccessResult `json:"result"`
}
