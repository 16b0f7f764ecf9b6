package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
		err  bool
	}{
		{"duration string", `"30s"`, 30 * time.Second, false},
		{"compound string", `"1h30m"`, 90 * time.Minute, false},
		{"bare number is seconds", `120`, 2 * time.Minute, false},
		{"garbage string", `"soon"`, 0, true},
		{"wrong type", `true`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration)
		})
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api": {"address": ":9000"},
		"engine": {
			"default_replicas": 3,
			"upload_timeout": "45s"
		},
		"nodes": [
			{"id": "edge-01", "endpoint": "http://edge-01.example.com", "storage": "500GB"}
		]
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.API.Address)
	assert.Equal(t, 3, cfg.Engine.DefaultReplicas)
	assert.Equal(t, 45*time.Second, cfg.Engine.UploadTimeout.Duration)

	// Untouched fields keep their defaults.
	assert.Equal(t, 5, cfg.Engine.MaxReplicas)
	assert.Equal(t, 70.0, cfg.Engine.Hotness.HotThreshold)

	require.Len(t, cfg.Nodes, 1)
	node := cfg.Nodes[0].DeliveryNode()
	assert.Equal(t, int64(500_000_000_000), node.Capacity.StorageBytes)
	assert.Equal(t, []string{"*/*"}, node.SupportedTypes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/no/such/config.json")
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MERIDIAN_API_ADDRESS", ":7777")
	t.Setenv("MERIDIAN_DEFAULT_REPLICAS", "4")
	t.Setenv("MERIDIAN_ACCESS_LOG_RETENTION", "48h")

	cfg := LoadFromEnv()
	assert.Equal(t, ":7777", cfg.API.Address)
	assert.Equal(t, 4, cfg.Engine.DefaultReplicas)
	assert.Equal(t, 48*time.Hour, cfg.Engine.AccessLogRetention.Duration)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Engine.DefaultReplicas = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Engine.MaxReplicas = 1
	cfg.Engine.DefaultReplicas = 2
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Nodes = []NodeSeed{{ID: "edge-01"}} // missing endpoint
	assert.Error(t, cfg.Validate())
}
