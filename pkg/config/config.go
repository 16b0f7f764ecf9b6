package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"meridian/pkg/types"
	"meridian/pkg/utils"
)

// Duration wraps time.Duration so configs can say "30s" or "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		d.Duration = time.Duration(v) * time.Second
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

type Config struct {
	API    APIConfig    `json:"api"`
	Engine EngineConfig `json:"engine"`
	Nodes  []NodeSeed   `json:"nodes,omitempty"`
}

type APIConfig struct {
	Address string `json:"address"`
}

// NodeSeed declares a delivery node in the config file. Node lifecycle is
// administrative; seeding from config stands in for an external registry.
type NodeSeed struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Region         string   `json:"region"`
	Endpoint       string   `json:"endpoint"`
	Storage        string   `json:"storage"`   // "500GB"
	Bandwidth      string   `json:"bandwidth"` // "1GB" per second
	Connections    int64    `json:"connections"`
	Priority       int      `json:"priority"`
	CostPerGB      float64  `json:"cost_per_gb"`
	SupportedTypes []string `json:"supported_types"`
	Features       []string `json:"features"`
}

// DeliveryNode converts a seed into a registry entry with sane telemetry.
func (s NodeSeed) DeliveryNode() types.DeliveryNode {
	supported := s.SupportedTypes
	if len(supported) == 0 {
		supported = []string{"*/*"}
	}
	priority := s.Priority
	if priority < 1 {
		priority = 1
	}
	return types.DeliveryNode{
		ID:       types.NodeID(s.ID),
		Name:     s.Name,
		Region:   s.Region,
		Endpoint: s.Endpoint,
		Status:   types.NodeActive,
		Capacity: types.Capacity{
			StorageBytes: utils.ParseDataSizeWithDefault(s.Storage, 100*utils.GigaByte),
			BandwidthBPS: utils.ParseDataSizeWithDefault(s.Bandwidth, utils.GigaByte),
			Connections:  max64(s.Connections, 1000),
		},
		Performance: types.Performance{
			LatencyMS:      20,
			UptimePercent:  99.9,
			ErrorRate:      0.001,
			ThroughputMBPS: 100,
		},
		Priority:        priority,
		CostPerGB:       s.CostPerGB,
		SupportedTypes:  supported,
		Features:        s.Features,
		LastHealthCheck: time.Now(),
	}
}

// ScoreWeights are the placement score coefficients. Defaults match the
// tuned demonstration values; deployments may override them.
type ScoreWeights struct {
	FreeCapacity float64 `json:"free_capacity"`
	Uptime       float64 `json:"uptime"`
	LatencyPerMS float64 `json:"latency_per_ms"`
	Priority     float64 `json:"priority"`
	CostDiscount float64 `json:"cost_discount"`
}

// HotnessConfig holds the constants of the hotness formula
// min(100, Scale * log10(1 + frequency*FrequencyBoost)).
type HotnessConfig struct {
	Scale           float64 `json:"scale"`
	FrequencyBoost  float64 `json:"frequency_boost"`
	AccessDecay     float64 `json:"access_decay"`     // per recompute cycle
	ConnectionDecay float64 `json:"connection_decay"` // per telemetry cycle
	HotThreshold    float64 `json:"hot_threshold"`    // promotion cutoff
}

type LoopIntervals struct {
	Telemetry   Duration `json:"telemetry"`
	AccessLogGC Duration `json:"access_log_gc"`
	Optimize    Duration `json:"optimize"`
	Hotness     Duration `json:"hotness"`
	Resync      Duration `json:"resync"`
}

type EngineConfig struct {
	ScoreWeights       ScoreWeights  `json:"score_weights"`
	Hotness            HotnessConfig `json:"hotness"`
	Loops              LoopIntervals `json:"loops"`
	DefaultReplicas    int           `json:"default_replicas"`
	MaxReplicas        int           `json:"max_replicas"`
	UploadTimeout      Duration      `json:"upload_timeout"`
	AccessLogRetention Duration      `json:"access_log_retention"`
	StaleSyncAge       Duration      `json:"stale_sync_age"`
	OptimizeTopN       int           `json:"optimize_top_n"`
	VariantDir         string        `json:"variant_dir"`
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			Address: ":8440",
		},
		Engine: EngineConfig{
			ScoreWeights: ScoreWeights{
				FreeCapacity: 30,
				Uptime:       25,
				LatencyPerMS: 0.2,
				Priority:     5,
				CostDiscount: 5,
			},
			Hotness: HotnessConfig{
				Scale:           25,
				FrequencyBoost:  10,
				AccessDecay:     0.99,
				ConnectionDecay: 0.98,
				HotThreshold:    70,
			},
			Loops: LoopIntervals{
				Telemetry:   Duration{30 * time.Second},
				AccessLogGC: Duration{time.Hour},
				Optimize:    Duration{10 * time.Minute},
				Hotness:     Duration{5 * time.Minute},
				Resync:      Duration{time.Hour},
			},
			DefaultReplicas:    2,
			MaxReplicas:        5,
			UploadTimeout:      Duration{2 * time.Minute},
			AccessLogRetention: Duration{24 * time.Hour},
			StaleSyncAge:       Duration{24 * time.Hour},
			OptimizeTopN:       20,
			VariantDir:         "variants",
		},
	}
}

// Load reads a JSON config file layered over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, cfg.Validate()
}

// LoadFromEnv builds a config from MERIDIAN_* environment variables
// layered over the defaults.
func LoadFromEnv() *Config {
	cfg := Default()

	cfg.API.Address = getEnv("MERIDIAN_API_ADDRESS", cfg.API.Address)

	if v := os.Getenv("MERIDIAN_DEFAULT_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.DefaultReplicas = n
		}
	}
	if v := os.Getenv("MERIDIAN_MAX_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxReplicas = n
		}
	}
	if v := os.Getenv("MERIDIAN_ACCESS_LOG_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.AccessLogRetention = Duration{d}
		}
	}

	return cfg
}

func (c *Config) Validate() error {
	if c.Engine.DefaultReplicas < 1 {
		return fmt.Errorf("default_replicas must be at least 1")
	}
	if c.Engine.MaxReplicas < c.Engine.DefaultReplicas {
		return fmt.Errorf("max_replicas must be >= default_replicas")
	}
	if c.Engine.AccessLogRetention.Duration <= 0 {
		return fmt.Errorf("access_log_retention must be positive")
	}
	for _, seed := range c.Nodes {
		if seed.ID == "" || seed.Endpoint == "" {
			return fmt.Errorf("node seed requires id and endpoint")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
