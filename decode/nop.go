package decode

import (
	"context"
	"fmt"

	"github.com/lumen-live/lumen/demux"
	"github.com/lumen-live/lumen/media"
)

// NopVideoBackend accepts any valid configuration and emits zero-filled NV12
// frames of the coded geometry. It exists for headless runs where the
// pipeline, timing, and stats are exercised without a platform decoder.
type NopVideoBackend struct{}

func (NopVideoBackend) Open(cfg *demux.VideoConfig) (VideoSession, error) {
	info, err := demux.ParseSPS(cfg.SPS)
	if err != nil {
		return nil, fmt.Errorf("parse SPS: %w", err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", info.Width, info.Height)
	}

	format := media.VideoFormat{
		Width:       info.Width,
		Height:      info.Height,
		PixelFormat: media.PixelFormatNV12,
	}
	// One shared zeroed plane buffer. Frames are immutable once emitted,
	// so aliasing is safe.
	pixels := make([]byte, info.Width*info.Height*3/2)

	return &nopVideoSession{format: format, pixels: pixels}, nil
}

type nopVideoSession struct {
	format media.VideoFormat
	pixels []byte
}

func (s *nopVideoSession) Decode(ctx context.Context, avcc []byte) (*media.VideoFrame, error) {
	if len(avcc) == 0 {
		return nil, fmt.Errorf("empty AVCC payload")
	}
	return &media.VideoFrame{Pixels: s.pixels, Format: s.format}, nil
}

func (s *nopVideoSession) Close() error { return nil }

// NopAudioBackend emits silence: one zeroed access unit of PCM per input.
type NopAudioBackend struct{}

func (NopAudioBackend) Open(cfg demux.AudioConfig) (AudioSession, error) {
	format := media.AudioFormat{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	return &nopAudioSession{silence: make([]byte, demux.AACSamplesPerUnit*format.BytesPerFrame())}, nil
}

type nopAudioSession struct {
	silence []byte
}

func (s *nopAudioSession) Convert(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty access unit")
	}
	return s.silence, nil
}

func (s *nopAudioSession) Close() error { return nil }

var (
	_ VideoBackend = NopVideoBackend{}
	_ AudioBackend = NopAudioBackend{}
)
