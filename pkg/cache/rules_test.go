package cache

import (
	"testing"

	"meridian/pkg/types"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDefaultPolicies(t *testing.T) {
	rs := NewRuleSet(zap.NewNop())

	tests := []struct {
		name        string
		path        string
		contentType string
		wantTTL     int
		wantHeader  string
	}{
		{"Image", "/media/photo.jpg", "image/jpeg", 7 * 24 * 3600, "public, max-age=604800"},
		{"Video", "/media/clip.mp4", "video/mp4", 3 * 24 * 3600, "public, max-age=259200"},
		{"Static", "/static/app.js", "application/javascript", 24 * 3600, "public, max-age=86400"},
		{"API", "/api/v1/things", "application/json", 0, "no-store"},
		{"Fallback", "/docs/readme.txt", "text/plain", 3600, "public, max-age=3600"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := rs.Resolve(tt.path, tt.contentType, 1024)
			assert.Equal(t, tt.wantTTL, policy.TTLSeconds)
			assert.Equal(t, tt.wantHeader, policy.Headers["Cache-Control"])
		})
	}
}

func TestRulePriorityWins(t *testing.T) {
	rs := NewRuleSet(zap.NewNop())

	rs.AddRule(types.CacheRule{
		ID:          "low",
		Name:        "short images",
		Pattern:     "/media/*",
		TTLSeconds:  60,
		Compression: types.CompressionNone,
		Priority:    1,
		Active:      true,
	})
	rs.AddRule(types.CacheRule{
		ID:          "high",
		Name:        "long images",
		Pattern:     "/media/*",
		TTLSeconds:  3600,
		Compression: types.CompressionNone,
		Priority:    10,
		Active:      true,
	})

	policy := rs.Resolve("/media/photo.png", "image/png", 1024)
	assert.Equal(t, 3600, policy.TTLSeconds)

	// Same priorities resolve to first-declared.
	rs2 := NewRuleSet(zap.NewNop())
	rs2.AddRule(types.CacheRule{ID: "a", Pattern: "/media/*", TTLSeconds: 10, Priority: 5, Active: true})
	rs2.AddRule(types.CacheRule{ID: "b", Pattern: "/media/*", TTLSeconds: 20, Priority: 5, Active: true})
	assert.Equal(t, 10, rs2.Resolve("/media/x.png", "image/png", 1).TTLSeconds)
}

func TestInactiveRuleSkipped(t *testing.T) {
	rs := NewRuleSet(zap.NewNop())
	rs.AddRule(types.CacheRule{
		ID:         "off",
		Pattern:    "/media/*",
		TTLSeconds: 1,
		Priority:   100,
		Active:     false,
	})

	policy := rs.Resolve("/media/photo.jpg", "image/jpeg", 1024)
	assert.Equal(t, 7*24*3600, policy.TTLSeconds)
}

func TestConditionOperators(t *testing.T) {
	tests := []struct {
		name string
		cond types.RuleCondition
		want bool
	}{
		{"EqualsMime", types.RuleCondition{Field: types.FieldMimeType, Op: types.OpEquals, Value: "image/png"}, true},
		{"EqualsMimeMiss", types.RuleCondition{Field: types.FieldMimeType, Op: types.OpEquals, Value: "image/jpeg"}, false},
		{"ContainsPath", types.RuleCondition{Field: types.FieldPath, Op: types.OpContains, Value: "uploads"}, true},
		{"StartsWith", types.RuleCondition{Field: types.FieldPath, Op: types.OpStartsWith, Value: "/uploads"}, true},
		{"EndsWith", types.RuleCondition{Field: types.FieldPath, Op: types.OpEndsWith, Value: ".png"}, true},
		{"Extension", types.RuleCondition{Field: types.FieldExtension, Op: types.OpEquals, Value: "png"}, true},
		{"Regex", types.RuleCondition{Field: types.FieldPath, Op: types.OpRegex, Value: `^/uploads/.+\.png$`}, true},
		{"RegexInvalid", types.RuleCondition{Field: types.FieldPath, Op: types.OpRegex, Value: `([`}, false},
		{"SizeGreater", types.RuleCondition{Field: types.FieldSize, Op: types.OpGreaterThan, Value: "1000"}, true},
		{"SizeLess", types.RuleCondition{Field: types.FieldSize, Op: types.OpLessThan, Value: "1000"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := NewRuleSet(zap.NewNop())
			rs.AddRule(types.CacheRule{
				ID:         "cond",
				Conditions: []types.RuleCondition{tt.cond},
				TTLSeconds: 42,
				Priority:   1,
				Active:     true,
			})

			policy := rs.Resolve("/uploads/photo.png", "image/png", 2048)
			if tt.want {
				assert.Equal(t, 42, policy.TTLSeconds)
			} else {
				assert.NotEqual(t, 42, policy.TTLSeconds)
			}
		})
	}
}

func TestResolveCompression(t *testing.T) {
	tests := []struct {
		mode        types.CompressionMode
		contentType string
		want        types.CompressionMode
	}{
		{types.CompressionAuto, "text/html", types.CompressionGzip},
		{types.CompressionAuto, "application/json", types.CompressionGzip},
		{types.CompressionAuto, "application/javascript", types.CompressionGzip},
		{types.CompressionAuto, "image/jpeg", types.CompressionNone},
		{types.CompressionAuto, "video/mp4", types.CompressionNone},
		{types.CompressionGzip, "image/jpeg", types.CompressionGzip},
		{types.CompressionBrotli, "text/html", types.CompressionBrotli},
		{"", "text/html", types.CompressionNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveCompression(tt.mode, tt.contentType),
			"mode=%s type=%s", tt.mode, tt.contentType)
	}
}

func TestRuleHeaderOverrides(t *testing.T) {
	rs := NewRuleSet(zap.NewNop())
	rs.AddRule(types.CacheRule{
		ID:         "hdr",
		Pattern:    "/media/*",
		TTLSeconds: 300,
		Headers:    map[string]string{"Cache-Control": "public, max-age=300, immutable", "X-Edge": "meridian"},
		Priority:   1,
		Active:     true,
	})

	policy := rs.Resolve("/media/a.png", "image/png", 1)
	assert.Equal(t, "public, max-age=300, immutable", policy.Headers["Cache-Control"])
	assert.Equal(t, "meridian", policy.Headers["X-Edge"])
}
