// Package media wraps the external metadata-extraction and transcode
// tools. Both are interfaces so tests and deployments without the tools
// installed can substitute stubs; failures never abort ingest.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"meridian/pkg/types"

	"go.uber.org/zap"
)

// MetadataExtractor pulls dimensions/duration/bitrate/codec from source
// media. Implementations return an error rather than partial garbage;
// callers treat any error as "no metadata".
type MetadataExtractor interface {
	Extract(ctx context.Context, sourcePath string) (types.Metadata, error)
}

// FFprobeExtractor shells out to ffprobe.
type FFprobeExtractor struct {
	Binary  string
	Timeout time.Duration
	logger  *zap.Logger
}

func NewFFprobeExtractor(logger *zap.Logger) *FFprobeExtractor {
	return &FFprobeExtractor{
		Binary:  "ffprobe",
		Timeout: 30 * time.Second,
		logger:  logger,
	}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func (e *FFprobeExtractor) Extract(ctx context.Context, sourcePath string) (types.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourcePath)

	out, err := cmd.Output()
	if err != nil {
		return types.Metadata{}, fmt.Errorf("ffprobe failed for %s: %w", sourcePath, err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return types.Metadata{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	meta := types.Metadata{}
	for _, stream := range probed.Streams {
		if stream.CodecType == "video" || (stream.Width > 0 && meta.Width == 0) {
			meta.Width = stream.Width
			meta.Height = stream.Height
			meta.Codec = stream.CodecName
		}
		if meta.Codec == "" {
			meta.Codec = stream.CodecName
		}
	}
	if probed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			meta.DurationSeconds = d
		}
	}
	if probed.Format.BitRate != "" {
		if b, err := strconv.ParseInt(probed.Format.BitRate, 10, 64); err == nil {
			meta.Bitrate = b
		}
	}

	return meta, nil
}

// StubExtractor returns fixed metadata, for tests and tool-less setups.
type StubExtractor struct {
	Meta types.Metadata
	Err  error
}

func (s *StubExtractor) Extract(ctx context.Context, sourcePath string) (types.Metadata, error) {
	return s.Meta, s.Err
}
