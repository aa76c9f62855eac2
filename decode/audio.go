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

// AudioConverter is the front-end over a backend AAC-to-PCM session. Output
// is interleaved signed 16-bit PCM at the stream's native rate and channel
// count, one access unit (1024 frames) per submission.
type AudioConverter struct {
	log     *slog.Logger
	session AudioSession
	rec     Recorder
	format  media.AudioFormat

	// Per-unit presentation duration in milliseconds, floor(1024*1000/rate).
	unitDuration int64
	maxBytes     int

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// NewAudioConverter opens a backend session for the given configuration. The
// config fields fully describe the input; no side-band decoder state is
// needed. Open failure is fatal for the play attempt.
func NewAudioConverter(cfg demux.AudioConfig, backend AudioBackend, rec Recorder, log *slog.Logger) (*AudioConverter, error) {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "audio-converter")

	session, err := backend.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInit, err)
	}

	format := media.AudioFormat{SampleRate: cfg.SampleRate, Channels: cfg.Channels}

	log.Info("audio converter ready",
		"object_type", cfg.ObjectType,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels)

	return &AudioConverter{
		log:          log,
		session:      session,
		rec:          rec,
		format:       format,
		unitDuration: int64(demux.AACSamplesPerUnit) * 1000 / int64(cfg.SampleRate),
		maxBytes:     demux.AACSamplesPerUnit * format.BytesPerFrame(),
	}, nil
}

// Format returns the PCM output format.
func (c *AudioConverter) Format() media.AudioFormat {
	return c.format
}

// Convert submits one raw AAC access unit and returns one PCM sample. A
// conversion failure drops the unit and returns an ErrDecodeFailed-wrapped
// error; the converter stays usable. PCM longer than one access unit is
// truncated so a misbehaving backend cannot inflate downstream buffers.
func (c *AudioConverter) Convert(ctx context.Context, unit demux.AudioUnit) (*media.DecodedSample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	pcm, err := c.session.Convert(ctx, unit.Raw)
	if err != nil {
		c.dropped.Add(1)
		c.rec.RecordDroppedFrame()
		return nil, fmt.Errorf("%w: pts=%d: %v", ErrDecodeFailed, unit.PTS, err)
	}
	if len(pcm) > c.maxBytes {
		pcm = pcm[:c.maxBytes]
	}

	return &media.DecodedSample{
		Kind:     media.KindAudio,
		PCM:      pcm,
		Audio:    c.format,
		PTS:      unit.PTS,
		Duration: c.unitDuration,
	}, nil
}

// Dropped returns the number of units the backend failed to convert.
func (c *AudioConverter) Dropped() int64 {
	return c.dropped.Load()
}

// Close tears down the backend session. Close is idempotent.
func (c *AudioConverter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.log.Info("audio converter closed", "dropped", c.dropped.Load())
	return c.session.Close()
}
