package media

import (
	"context"
	"testing"

	"meridian/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultSpecs(t *testing.T) {
	t.Run("Images", func(t *testing.T) {
		specs := DefaultSpecs("image/png")
		require.Len(t, specs, 3)
		assert.Equal(t, types.VariantThumbnail, specs[0].Kind)
		assert.Equal(t, types.VariantPreview, specs[1].Kind)
		assert.Equal(t, types.VariantOptimized, specs[2].Kind)
	})

	t.Run("Video", func(t *testing.T) {
		specs := DefaultSpecs("video/mp4")
		require.Len(t, specs, 3)
		assert.Equal(t, types.VariantThumbnail, specs[0].Kind)
		assert.Equal(t, "720p", specs[1].Quality)
	})

	t.Run("OtherTypesGetNone", func(t *testing.T) {
		assert.Empty(t, DefaultSpecs("application/pdf"))
		assert.Empty(t, DefaultSpecs("text/plain"))
	})
}

func TestFFmpegOutputPath(t *testing.T) {
	tc := NewFFmpegTranscoder("/var/meridian/variants", zap.NewNop())

	spec := VariantSpec{Kind: types.VariantThumbnail, Quality: "low", Format: "jpg"}
	got := tc.outputPath("/uploads/photo.png", spec)
	assert.Equal(t, "/var/meridian/variants/photo_thumbnail_low.jpg", got)

	// Empty format keeps the source extension.
	spec = VariantSpec{Kind: types.VariantOptimized, Quality: "high"}
	got = tc.outputPath("/uploads/clip.mp4", spec)
	assert.Equal(t, "/var/meridian/variants/clip_optimized_high.mp4", got)
}

func TestStubTranscoder(t *testing.T) {
	stub := &StubTranscoder{FailKinds: map[types.VariantKind]bool{types.VariantPreview: true}}

	v, err := stub.Transcode(context.Background(), "/tmp/a.png", VariantSpec{Kind: types.VariantThumbnail, Quality: "low"})
	require.NoError(t, err)
	assert.Equal(t, types.VariantThumbnail, v.Kind)

	_, err = stub.Transcode(context.Background(), "/tmp/a.png", VariantSpec{Kind: types.VariantPreview, Quality: "medium"})
	assert.Error(t, err)
	assert.Equal(t, 2, stub.Calls())
}

func TestStubExtractor(t *testing.T) {
	stub := &StubExtractor{Meta: types.Metadata{Width: 640, Height: 480}}
	meta, err := stub.Extract(context.Background(), "/tmp/a.png")
	require.NoError(t, err)
	assert.Equal(t, 640, meta.Width)
}
