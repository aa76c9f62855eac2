package decode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lumen-live/lumen/demux"
	"github.com/lumen-live/lumen/media"
)

// VideoDecoder is the front-end over a backend H.264 session. It owns the
// timestamp contract: every output sample carries the submitting unit's PTS
// and DTS unchanged, regardless of what the backend reports. Some platform
// decoders return zero-valued or wall-clock timestamps; trusting them breaks
// A/V sync downstream.
type VideoDecoder struct {
	log        *slog.Logger
	session    VideoSession
	rec        Recorder
	info       demux.SPSInfo
	lengthSize int

	mu      sync.Mutex // serializes Decode so output order equals input order
	closed  bool
	dropped atomic.Int64
	decoded atomic.Int64
}

// NewVideoDecoder opens a backend session for the given configuration. An
// Open failure is fatal for the play attempt and is returned wrapped in
// ErrSessionInit.
func NewVideoDecoder(cfg *demux.VideoConfig, backend VideoBackend, rec Recorder, log *slog.Logger) (*VideoDecoder, error) {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "video-decoder")

	info, err := demux.ParseSPS(cfg.SPS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	session, err := backend.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	log.Info("video decoder ready",
		"codec", info.CodecString(),
		"width", info.Width,
		"height", info.Height,
		"nalu_length_size", cfg.NALULengthSize)

	return &VideoDecoder{
		log:        log,
		session:    session,
		rec:        rec,
		info:       info,
		lengthSize: cfg.NALULengthSize,
	}, nil
}

// Info returns the SPS-derived stream geometry and profile.
func (d *VideoDecoder) Info() demux.SPSInfo {
	return d.info
}

// Decode submits one coded frame and returns at most one decoded sample.
// A backend failure drops the unit: the drop is recorded, an
// ErrDecodeFailed-wrapped error is returned, and the decoder stays usable
// for the next unit.
func (d *VideoDecoder) Decode(ctx context.Context, unit demux.VideoUnit) (*media.DecodedSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	// Malformed framing never reaches the backend.
	if err := demux.WalkAVCC(unit.AVCC, d.lengthSize, func([]byte) bool { return true }); err != nil {
		d.dropped.Add(1)
		d.rec.RecordDroppedFrame()
		return nil, fmt.Errorf("%w: dts=%d: %v", ErrDecodeFailed, unit.DTS, err)
	}

	frame, err := d.session.Decode(ctx, unit.AVCC)
	if err != nil {
		d.dropped.Add(1)
		d.rec.RecordDroppedFrame()
		return nil, fmt.Errorf("%w: dts=%d: %v", ErrDecodeFailed, unit.DTS, err)
	}
	if frame == nil {
		// Backend consumed the unit without output (reordering delay).
		return nil, nil
	}

	d.decoded.Add(1)
	d.rec.RecordFrame()

	return &media.DecodedSample{
		Kind:  media.KindVideo,
		Video: frame,
		PTS:   unit.PTS,
		DTS:   unit.DTS,
	}, nil
}

// Dropped returns the number of units dropped, either for malformed AVCC
// framing or because the backend failed to decode them.
func (d *VideoDecoder) Dropped() int64 {
	return d.dropped.Load()
}

// Decoded returns the number of samples emitted.
func (d *VideoDecoder) Decoded() int64 {
	return d.decoded.Load()
}

// Close tears down the backend session. Units submitted afterwards return
// ErrClosed. Close is idempotent.
func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	d.log.Info("video decoder closed", "decoded", d.decoded.Load(), "dropped", d.dropped.Load())
	return d.session.Close()
}
