// Package cache resolves TTL, header, and compression policy for assets
// from declared rules, with per-extension-group defaults.
package cache

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"meridian/pkg/types"

	"go.uber.org/zap"
)

// RuleSet holds cache rules in declaration order. Resolution picks the
// highest-priority matching rule; ties keep declaration order.
type RuleSet struct {
	mu     sync.RWMutex
	rules  []types.CacheRule
	logger *zap.Logger
}

func NewRuleSet(logger *zap.Logger) *RuleSet {
	return &RuleSet{logger: logger}
}

func (rs *RuleSet) AddRule(rule types.CacheRule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = append(rs.rules, rule)
}

func (rs *RuleSet) Rules() []types.CacheRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]types.CacheRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Resolve returns the cache policy for an asset path, content type, and
// size. When no rule matches, extension-group defaults apply.
func (rs *RuleSet) Resolve(assetPath, contentType string, size int64) types.CachePolicy {
	rs.mu.RLock()
	var best *types.CacheRule
	for i := range rs.rules {
		rule := &rs.rules[i]
		if !rule.Active {
			continue
		}
		if !rs.matches(rule, assetPath, contentType, size) {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
		}
	}
	rs.mu.RUnlock()

	if best == nil {
		return defaultPolicy(assetPath, contentType)
	}

	policy := types.CachePolicy{
		TTLSeconds:  best.TTLSeconds,
		Compression: ResolveCompression(best.Compression, contentType),
		Public:      best.TTLSeconds > 0,
		Headers:     map[string]string{},
	}
	applyCacheControl(&policy)
	for k, v := range best.Headers {
		policy.Headers[k] = v
	}
	return policy
}

func (rs *RuleSet) matches(rule *types.CacheRule, assetPath, contentType string, size int64) bool {
	if rule.Pattern != "" {
		ok, err := path.Match(rule.Pattern, assetPath)
		if err != nil {
			rs.logger.Warn("Invalid rule pattern",
				zap.String("rule", rule.Name),
				zap.String("pattern", rule.Pattern),
				zap.Error(err))
			return false
		}
		// Fall back to substring semantics so patterns like "/media/*"
		// also match nested paths.
		if !ok && !strings.Contains(assetPath, strings.Trim(rule.Pattern, "*")) {
			return false
		}
	}

	for _, cond := range rule.Conditions {
		if !rs.evalCondition(rule, cond, assetPath, contentType, size) {
			return false
		}
	}
	return true
}

func (rs *RuleSet) evalCondition(rule *types.CacheRule, cond types.RuleCondition, assetPath, contentType string, size int64) bool {
	var subject string
	switch cond.Field {
	case types.FieldMimeType:
		subject = contentType
	case types.FieldExtension:
		subject = strings.TrimPrefix(strings.ToLower(path.Ext(assetPath)), ".")
	case types.FieldPath:
		subject = assetPath
	case types.FieldSize:
		subject = strconv.FormatInt(size, 10)
	default:
		return false
	}

	switch cond.Op {
	case types.OpEquals:
		return subject == cond.Value
	case types.OpContains:
		return strings.Contains(subject, cond.Value)
	case types.OpStartsWith:
		return strings.HasPrefix(subject, cond.Value)
	case types.OpEndsWith:
		return strings.HasSuffix(subject, cond.Value)
	case types.OpRegex:
		matched, err := regexp.MatchString(cond.Value, subject)
		if err != nil {
			rs.logger.Warn("Invalid rule regex",
				zap.String("rule", rule.Name),
				zap.String("regex", cond.Value),
				zap.Error(err))
			return false
		}
		return matched
	case types.OpGreaterThan, types.OpLessThan:
		left, err1 := strconv.ParseFloat(subject, 64)
		right, err2 := strconv.ParseFloat(cond.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if cond.Op == types.OpGreaterThan {
			return left > right
		}
		return left < right
	default:
		return false
	}
}

// ResolveCompression maps the auto mode onto a concrete mode per content
// type: text-like content is gzip-eligible, media is already compressed.
func ResolveCompression(mode types.CompressionMode, contentType string) types.CompressionMode {
	if mode != types.CompressionAuto {
		if mode == "" {
			return types.CompressionNone
		}
		return mode
	}

	switch {
	case strings.HasPrefix(contentType, "text/"),
		contentType == "application/javascript",
		contentType == "application/json",
		contentType == "application/xml",
		contentType == "image/svg+xml":
		return types.CompressionGzip
	default:
		return types.CompressionNone
	}
}

var (
	imageExts  = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "avif": true, "ico": true, "svg": true}
	videoExts  = map[string]bool{"mp4": true, "webm": true, "mov": true, "avi": true, "mkv": true, "m4v": true}
	staticExts = map[string]bool{"css": true, "js": true, "woff": true, "woff2": true, "ttf": true, "otf": true, "map": true}
)

const (
	ttlImages = 7 * 24 * 3600
	ttlVideo  = 3 * 24 * 3600
	ttlStatic = 24 * 3600
	ttlOther  = 3600
)

// defaultPolicy applies the per-extension-group defaults used when no
// rule matches.
func defaultPolicy(assetPath, contentType string) types.CachePolicy {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(assetPath)), ".")

	policy := types.CachePolicy{
		Headers:     map[string]string{},
		Compression: ResolveCompression(types.CompressionAuto, contentType),
		Public:      true,
	}

	switch {
	case strings.Contains(assetPath, "/api/"):
		policy.TTLSeconds = 0
		policy.Public = false
	case imageExts[ext]:
		policy.TTLSeconds = ttlImages
	case videoExts[ext]:
		policy.TTLSeconds = ttlVideo
	case staticExts[ext]:
		policy.TTLSeconds = ttlStatic
	default:
		policy.TTLSeconds = ttlOther
	}

	applyCacheControl(&policy)
	return policy
}

func applyCacheControl(policy *types.CachePolicy) {
	if policy.TTLSeconds <= 0 {
		policy.Headers["Cache-Control"] = "no-store"
		return
	}
	visibility := "public"
	if !policy.Public {
		visibility = "private"
	}
	policy.Headers["Cache-Control"] = visibility + ", max-age=" + strconv.Itoa(policy.TTLSeconds)
}
