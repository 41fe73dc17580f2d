package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/framelift/framelift/internal/domain/port"
	"go.uber.org/zap"
)

// Decoder samples frames out of a video file with ffmpeg. Each Decode call
// extracts into its own scratch directory, so concurrent invocations share no
// state.
type Decoder struct {
	format string
	logger *zap.Logger
}

func NewDecoder(format string, logger *zap.Logger) *Decoder {
	return &Decoder{format: format, logger: logger}
}

// Decode runs ffmpeg at the given sampling rate and returns a lazy source
// over the sampled frames in capture order. Frame indexes are contiguous
// from zero. Decode failures are transient: a corrupt read or I/O error may
// clear on retry, and the caller treats a truly empty result separately.
func (d *Decoder) Decode(ctx context.Context, videoPath string, samplingRate float64) (port.FrameSource, error) {
	duration, err := d.probeDuration(ctx, videoPath)
	if err != nil {
		d.logger.Warn("could not probe video duration", zap.Error(err))
	}

	outputDir, err := os.MkdirTemp(filepath.Dir(videoPath), "frames-")
	if err != nil {
		return nil, entity.Transient("decode", fmt.Errorf("create frame dir: %w", err))
	}

	framePattern := filepath.Join(outputDir, fmt.Sprintf("frame_%%06d.%s", d.format))
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g", samplingRate),
		"-start_number", "0",
		"-y",
		framePattern,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(outputDir)
		return nil, entity.Transient("decode", fmt.Errorf("ffmpeg: %w, output: %s", err, string(output)))
	}

	paths, err := filepath.Glob(filepath.Join(outputDir, fmt.Sprintf("*.%s", d.format)))
	if err != nil {
		os.RemoveAll(outputDir)
		return nil, entity.Transient("decode", fmt.Errorf("glob frames: %w", err))
	}
	sort.Strings(paths)

	d.logger.Info("video decoded",
		zap.String("video", filepath.Base(videoPath)),
		zap.Float64("duration_seconds", duration),
		zap.Int("frame_count", len(paths)),
		zap.Float64("sampling_rate", samplingRate),
	)

	return &fileFrameSource{dir: outputDir, paths: paths}, nil
}

func (d *Decoder) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// fileFrameSource walks extracted frame files in lexical (= capture) order,
// reading each lazily.
type fileFrameSource struct {
	dir   string
	paths []string
	next  int
}

func (s *fileFrameSource) Next() (port.Frame, bool, error) {
	if s.next >= len(s.paths) {
		return port.Frame{}, false, nil
	}
	data, err := os.ReadFile(s.paths[s.next])
	if err != nil {
		return port.Frame{}, false, entity.Transient("read frame", err)
	}
	frame := port.Frame{Index: s.next, Data: data}
	s.next++
	return frame, true, nil
}

func (s *fileFrameSource) Close() error {
	return os.RemoveAll(s.dir)
}
