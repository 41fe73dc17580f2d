package entity

import (
	"fmt"
	"path"
	"strings"
)

// Supported video container extensions. Anything else is a permanent failure:
// the bytes cannot become a supported format on retry.
var supportedVideoExtensions = map[string]struct{}{
	".mp4": {},
	".avi": {},
	".mov": {},
	".mkv": {},
}

// ValidateVideoKey rejects object keys whose extension is outside the
// allow-list.
func ValidateVideoKey(objectKey string) error {
	ext := strings.ToLower(path.Ext(objectKey))
	if _, ok := supportedVideoExtensions[ext]; !ok {
		return Permanentf("validate video key", "unsupported video format %q for object %q", ext, objectKey)
	}
	return nil
}

// VideoStem returns the base name of the object key without its extension,
// used to namespace frame and archive keys per upload.
func VideoStem(objectKey string) string {
	base := path.Base(objectKey)
	return strings.TrimSuffix(base, path.Ext(base))
}

// FrameKey derives the storage key for one frame. Keys are pure functions of
// (source key, capture index), so retried writes land on the same key and
// commute. The six-digit zero-padded index keeps lexical order equal to
// capture order.
func FrameKey(prefix, sourceKey string, index int, format string) string {
	return fmt.Sprintf("%s/frame_%06d.%s", FramePrefix(prefix, sourceKey), index, format)
}

// FramePrefix is the common prefix of all frame keys for one upload.
func FramePrefix(prefix, sourceKey string) string {
	return joinPrefix(prefix, "frames", VideoStem(sourceKey))
}

// ArchiveKey derives the storage key for the archive of one upload.
func ArchiveKey(prefix, sourceKey string) string {
	return joinPrefix(prefix, "archives", VideoStem(sourceKey)+"_frames.zip")
}

func joinPrefix(prefix string, parts ...string) string {
	if prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{prefix}, parts...)...)
}
