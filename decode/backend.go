// Package decode turns demuxed AVC and AAC units into decoded samples. The
// actual codec work is delegated to platform backends behind two small
// interfaces; this package owns timestamp bookkeeping, drop accounting, and
// output serialization.
package decode

import (
	"context"

	"github.com/lumen-live/lumen/demux"
	"github.com/lumen-live/lumen/media"
)

// VideoBackend builds H.264 decoding sessions. Implementations wrap a
// platform decoder (VideoToolbox, VA-API, a software decoder); Open returns
// an error when the SPS/PPS pair is rejected, which NewVideoDecoder wraps in
// ErrSessionInit.
type VideoBackend interface {
	Open(cfg *demux.VideoConfig) (VideoSession, error)
}

// VideoSession decodes one AVCC payload per call. It returns the decoded
// picture only; presentation timing is owned entirely by the caller, so a
// backend has no way to smuggle its own timestamps into the output.
type VideoSession interface {
	Decode(ctx context.Context, avcc []byte) (*media.VideoFrame, error)
	Close() error
}

// AudioBackend builds AAC-to-PCM converter sessions.
type AudioBackend interface {
	Open(cfg demux.AudioConfig) (AudioSession, error)
}

// AudioSession converts one raw AAC access unit into interleaved signed
// 16-bit PCM. The returned slice holds at most one access unit's worth of
// frames; it may be shorter when the backend under-produces on error.
type AudioSession interface {
	Convert(ctx context.Context, raw []byte) ([]byte, error)
	Close() error
}

// Recorder receives per-frame accounting from the decode hot path. The
// performance monitor satisfies it; tests use counters.
type Recorder interface {
	RecordFrame()
	RecordDroppedFrame()
}

// nopRecorder is used when the caller passes a nil Recorder.
type nopRecorder struct{}

func (nopRecorder) RecordFrame()        {}
func (nopRecorder) RecordDroppedFrame() {}
