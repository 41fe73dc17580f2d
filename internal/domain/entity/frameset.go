package entity

import (
	"sort"
	"time"
)

// FrameSet describes the frames extracted from one upload. Frame keys are
// lexically ordered by capture index, so consumers recover temporal order
// without re-decoding the video.
type FrameSet struct {
	SourceKey    string    `json:"source_key"`
	FrameKeys    []string  `json:"frame_keys"`
	FrameCount   int       `json:"frame_count"`
	SamplingRate float64   `json:"sampling_rate"`
	ProducedAt   time.Time `json:"produced_at"`
}

func NewFrameSet(sourceKey string, frameKeys []string, samplingRate float64) *FrameSet {
	sorted := make([]string, len(frameKeys))
	copy(sorted, frameKeys)
	sort.Strings(sorted)
	return &FrameSet{
		SourceKey:    sourceKey,
		FrameKeys:    sorted,
		FrameCount:   len(sorted),
		SamplingRate: samplingRate,
		ProducedAt:   time.Now().UTC(),
	}
}

// Empty reports whether the set holds no frames. An empty set is never
// archivable.
func (fs *FrameSet) Empty() bool {
	return fs == nil || fs.FrameCount == 0
}

// Validate checks that the declared frame count matches the key list. A set
// arriving off the wire with a mismatch was corrupted or hand-built wrong;
// no redelivery can reconcile it.
func (fs *FrameSet) Validate() error {
	if fs == nil {
		return nil
	}
	if fs.FrameCount != len(fs.FrameKeys) {
		return Permanentf("validate frame set",
			"frame set for %q declares %d frames but carries %d keys", fs.SourceKey, fs.FrameCount, len(fs.FrameKeys))
	}
	return nil
}

// ArchiveRecord is the terminal artifact of the pipeline: one archive blob
// per successfully processed upload.
type ArchiveRecord struct {
	ArchiveKey string    `json:"archive_key"`
	SourceKey  string    `json:"source_key"`
	FrameCount int       `json:"frame_count"`
	ProducedAt time.Time `json:"produced_at"`
}
