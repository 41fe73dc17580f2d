package entity

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVideoKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"videos/holiday.mp4", false},
		{"holiday.AVI", false},
		{"a/b/c/clip.mov", false},
		{"clip.mkv", false},
		{"clip.txt", true},
		{"clip.webm", true},
		{"noextension", true},
		{"archive.zip", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateVideoKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsPermanent(err), "format rejection must be permanent")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFrameKeyDeterministic(t *testing.T) {
	a := FrameKey("", "videos/holiday.mp4", 7, "jpg")
	b := FrameKey("", "videos/holiday.mp4", 7, "jpg")
	assert.Equal(t, a, b)
	assert.Equal(t, "frames/holiday/frame_000007.jpg", a)
}

func TestFrameKeyLexicalOrderMatchesCaptureOrder(t *testing.T) {
	var keys []string
	for _, idx := range []int{100, 5, 99, 0, 11} {
		keys = append(keys, FrameKey("", "clip.mp4", idx, "jpg"))
	}
	sort.Strings(keys)

	assert.Equal(t, []string{
		"frames/clip/frame_000000.jpg",
		"frames/clip/frame_000005.jpg",
		"frames/clip/frame_000011.jpg",
		"frames/clip/frame_000099.jpg",
		"frames/clip/frame_000100.jpg",
	}, keys)
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "archives/holiday_frames.zip", ArchiveKey("", "videos/holiday.mp4"))
	assert.Equal(t, "out/archives/holiday_frames.zip", ArchiveKey("out", "holiday.mov"))
}

func TestFramePrefixWithOutputPrefix(t *testing.T) {
	assert.Equal(t, "out/frames/clip", FramePrefix("out", "a/clip.mp4"))
	assert.Equal(t, "frames/clip", FramePrefix("", "a/clip.mp4"))
}
