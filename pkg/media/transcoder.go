package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"meridian/pkg/types"

	"go.uber.org/zap"
)

// VariantSpec describes one derived rendition to produce.
type VariantSpec struct {
	Kind      types.VariantKind
	MaxWidth  int
	MaxHeight int
	Quality   string // "low", "medium", "high", "720p", ...
	Format    string // target extension, empty keeps the source format
}

// VariantTranscoder produces a derived file for a spec and reports its
// logical path and size. One spec failing never affects the others.
type VariantTranscoder interface {
	Transcode(ctx context.Context, sourcePath string, spec VariantSpec) (types.Variant, error)
}

// DefaultSpecs returns the variants derived for a content type at ingest.
func DefaultSpecs(contentType string) []VariantSpec {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return []VariantSpec{
			{Kind: types.VariantThumbnail, MaxWidth: 200, MaxHeight: 200, Quality: "low", Format: "jpg"},
			{Kind: types.VariantPreview, MaxWidth: 800, MaxHeight: 800, Quality: "medium", Format: "jpg"},
			{Kind: types.VariantOptimized, MaxWidth: 1920, MaxHeight: 1920, Quality: "high", Format: "webp"},
		}
	case strings.HasPrefix(contentType, "video/"):
		return []VariantSpec{
			{Kind: types.VariantThumbnail, MaxWidth: 320, MaxHeight: 180, Quality: "low", Format: "jpg"},
			{Kind: types.VariantTranscoded, MaxWidth: 1280, MaxHeight: 720, Quality: "720p", Format: "mp4"},
			{Kind: types.VariantTranscoded, MaxWidth: 854, MaxHeight: 480, Quality: "480p", Format: "mp4"},
		}
	default:
		return nil
	}
}

// FFmpegTranscoder shells out to ffmpeg for real conversions.
type FFmpegTranscoder struct {
	Binary  string
	OutDir  string
	Timeout time.Duration
	logger  *zap.Logger
}

func NewFFmpegTranscoder(outDir string, logger *zap.Logger) *FFmpegTranscoder {
	return &FFmpegTranscoder{
		Binary:  "ffmpeg",
		OutDir:  outDir,
		Timeout: 5 * time.Minute,
		logger:  logger,
	}
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, sourcePath string, spec VariantSpec) (types.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	outPath := t.outputPath(sourcePath, spec)
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return types.Variant{}, fmt.Errorf("failed to create variant directory: %w", err)
	}

	args := []string{"-y", "-i", sourcePath}
	if spec.MaxWidth > 0 && spec.MaxHeight > 0 {
		scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease",
			spec.MaxWidth, spec.MaxHeight)
		args = append(args, "-vf", scale)
	}
	if spec.Kind == types.VariantThumbnail {
		args = append(args, "-frames:v", "1")
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, t.Binary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return types.Variant{}, fmt.Errorf("ffmpeg failed for %s (%s): %w: %s",
			sourcePath, spec.Kind, err, firstLine(out))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return types.Variant{}, fmt.Errorf("variant output missing: %w", err)
	}

	return types.Variant{
		Kind:      spec.Kind,
		Path:      outPath,
		SizeBytes: info.Size(),
		Quality:   spec.Quality,
		Params: map[string]string{
			"max_width":  fmt.Sprintf("%d", spec.MaxWidth),
			"max_height": fmt.Sprintf("%d", spec.MaxHeight),
			"format":     spec.Format,
		},
	}, nil
}

func (t *FFmpegTranscoder) outputPath(sourcePath string, spec VariantSpec) string {
	base := filepath.Base(sourcePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	outExt := spec.Format
	if outExt == "" {
		outExt = strings.TrimPrefix(ext, ".")
	}
	name := fmt.Sprintf("%s_%s_%s.%s", stem, spec.Kind, spec.Quality, outExt)
	return filepath.Join(t.OutDir, name)
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// StubTranscoder fabricates variant records without touching any files.
// FailKinds lists variant kinds that should report an error.
type StubTranscoder struct {
	mu        sync.Mutex
	FailKinds map[types.VariantKind]bool
	calls     int
}

func (s *StubTranscoder) Transcode(ctx context.Context, sourcePath string, spec VariantSpec) (types.Variant, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.FailKinds[spec.Kind] {
		return types.Variant{}, fmt.Errorf("transcode failed for %s", spec.Kind)
	}
	return types.Variant{
		Kind:      spec.Kind,
		Path:      fmt.Sprintf("%s.%s.%s", sourcePath, spec.Kind, spec.Quality),
		SizeBytes: 1024,
		Quality:   spec.Quality,
	}, nil
}

// Calls reports how many transcodes were attempted.
func (s *StubTranscoder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
