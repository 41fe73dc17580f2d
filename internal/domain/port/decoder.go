package port

import "context"

// Frame is one sampled frame: its capture index and encoded image bytes.
type Frame struct {
	Index int
	Data  []byte
}

// FrameSource yields sampled frames in capture order. Next returns ok=false
// once the sequence is exhausted; Close releases backing resources and is
// safe after a partial read.
type FrameSource interface {
	Next() (frame Frame, ok bool, err error)
	Close() error
}

// FrameDecoder is the external decoding capability: given a local video file
// and a sampling rate in frames per second, it produces a lazy, finite,
// restartable sequence of frames.
type FrameDecoder interface {
	Decode(ctx context.Context, videoPath string, samplingRate float64) (FrameSource, error)
}
