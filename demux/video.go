// Package demux parses the FLV-style payloads of RTMP audio and video
// messages: tag classification, AVC and AAC codec configuration records,
// and per-frame timing fields. It is the bitstream layer between the RTMP
// transport and the decoders.
package demux

import (
	"encoding/binary"
	"fmt"
)

// Video tag byte-0 frame types (FLV spec E.4.3.1).
const (
	FrameTypeKey        = 1
	FrameTypeInter      = 2
	FrameTypeDisposable = 3
)

// CodecIDAVC is the only video codec id this player decodes.
const CodecIDAVC = 7

// AVC packet types carried in video tag byte 1.
const (
	AVCPacketConfig = 0x00 // AVCDecoderConfigurationRecord
	AVCPacketNALU   = 0x01 // length-prefixed NAL units
	AVCPacketEOS    = 0x02 // end of sequence
)

// VideoTagKind classifies the disposition of a parsed video tag.
type VideoTagKind int

const (
	// VideoTagConfig carries an AVCDecoderConfigurationRecord.
	VideoTagConfig VideoTagKind = iota
	// VideoTagUnit carries a coded frame as length-prefixed NAL units.
	VideoTagUnit
	// VideoTagEndOfSequence marks the end of the AVC stream; ignored.
	VideoTagEndOfSequence
)

// VideoConfig is the decoder bootstrap extracted from an AVC sequence
// header. Only the first SPS and first PPS are retained; additional sets
// are tolerated and ignored. The config is owned by the video decoder
// after construction and must not be mutated.
type VideoConfig struct {
	SPS            []byte
	PPS            []byte
	NALULengthSize int // 1, 2 or 4
}

// VideoUnit is one coded frame ready for decode submission. AVCC holds the
// length-prefixed NAL units exactly as they appeared in the tag body.
type VideoUnit struct {
	AVCC     []byte
	KeyFrame bool
	DTS      int64
	PTS      int64
}

// VideoTag is the parsed form of one RTMP video message payload. Exactly
// one of Config / AVCC is populated for the Config / Unit kinds.
type VideoTag struct {
	Kind            VideoTagKind
	KeyFrame        bool
	CompositionTime int32 // signed milliseconds, PTS − DTS
	Config          *VideoConfig
	AVCC            []byte
}

// ParseVideoTag parses one RTMP video message payload. Non-AVC codecs
// return ErrUnsupportedCodec; the caller drops the tag and continues.
func ParseVideoTag(payload []byte) (VideoTag, error) {
	if len(payload) < 5 {
		return VideoTag{}, ErrShortTag
	}

	frameType := payload[0] >> 4
	codecID := payload[0] & 0x0F
	if codecID != CodecIDAVC {
		return VideoTag{}, fmt.Errorf("%w: video codec id %d", ErrUnsupportedCodec, codecID)
	}

	tag := VideoTag{
		KeyFrame:        frameType == FrameTypeKey,
		CompositionTime: ParseCompositionTime(payload[2:5]),
	}

	switch payload[1] {
	case AVCPacketConfig:
		cfg, err := ParseVideoConfig(payload[5:])
		if err != nil {
			return VideoTag{}, err
		}
		tag.Kind = VideoTagConfig
		tag.Config = cfg
	case AVCPacketNALU:
		tag.Kind = VideoTagUnit
		tag.AVCC = payload[5:]
	case AVCPacketEOS:
		tag.Kind = VideoTagEndOfSequence
	default:
		return VideoTag{}, fmt.Errorf("%w: AVC packet type %d", ErrMalformedConfig, payload[1])
	}

	return tag, nil
}

// ParseCompositionTime reads the 24-bit big-endian composition time from
// bytes 2..4 of a video tag, sign-extending bit 23 so negative offsets
// (B-frame reordering) survive.
func ParseCompositionTime(b []byte) int32 {
	ct := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if ct&0x800000 != 0 {
		ct |= ^int32(0xFFFFFF)
	}
	return ct
}

// ParseVideoConfig parses an AVCDecoderConfigurationRecord (ISO 14496-15
// §5.2.4.1) from the body of an AVC sequence header tag.
func ParseVideoConfig(body []byte) (*VideoConfig, error) {
	// configurationVersion, profile, compatibility, level, lengthSize, numSPS
	if len(body) < 6 {
		return nil, fmt.Errorf("%w: AVC config record %d bytes", ErrMalformedConfig, len(body))
	}

	lengthSize := int(body[4]&0x03) + 1
	if lengthSize == 3 {
		return nil, fmt.Errorf("%w: NALU length size %d", ErrMalformedConfig, lengthSize)
	}
	numSPS := int(body[5] & 0x1F)

	cfg := &VideoConfig{NALULengthSize: lengthSize}
	off := 6

	for i := 0; i < numSPS; i++ {
		if off+2 > len(body) {
			return nil, fmt.Errorf("%w: truncated SPS length", ErrMalformedConfig)
		}
		size := int(binary.BigEndian.Uint16(body[off:]))
		off += 2
		if off+size > len(body) {
			return nil, fmt.Errorf("%w: truncated SPS data", ErrMalformedConfig)
		}
		if cfg.SPS == nil {
			cfg.SPS = append([]byte(nil), body[off:off+size]...)
		}
		off += size
	}

	if off >= len(body) {
		return nil, fmt.Errorf("%w: missing PPS count", ErrMalformedConfig)
	}
	numPPS := int(body[off])
	off++

	for i := 0; i < numPPS; i++ {
		if off+2 > len(body) {
			return nil, fmt.Errorf("%w: truncated PPS length", ErrMalformedConfig)
		}
		size := int(binary.BigEndian.Uint16(body[off:]))
		off += 2
		if off+size > len(body) {
			return nil, fmt.Errorf("%w: truncated PPS data", ErrMalformedConfig)
		}
		if cfg.PPS == nil {
			cfg.PPS = append([]byte(nil), body[off:off+size]...)
		}
		off += size
	}

	if len(cfg.SPS) < 4 || len(cfg.PPS) < 1 {
		return nil, fmt.Errorf("%w: SPS %d bytes, PPS %d bytes", ErrMalformedConfig, len(cfg.SPS), len(cfg.PPS))
	}

	return cfg, nil
}

// IsVideoConfigTag reports whether the first two payload bytes announce an
// AVC sequence header (0x17, 0x00). The session uses this as a cheap peek
// before invoking the full parser.
func IsVideoConfigTag(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0x17 && payload[1] == AVCPacketConfig
}

// WalkAVCC iterates the length-prefixed NAL units of an AVCC payload,
// invoking fn for each unit's data (without the length prefix). Iteration
// stops early when fn returns false. A truncated prefix or unit returns an
// error; units seen before the truncation have already been visited.
func WalkAVCC(payload []byte, lengthSize int, fn func(nalu []byte) bool) error {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return fmt.Errorf("%w: NALU length size %d", ErrMalformedConfig, lengthSize)
	}

	off := 0
	for off < len(payload) {
		if off+lengthSize > len(payload) {
			return fmt.Errorf("%w: truncated NALU length prefix", ErrMalformedConfig)
		}
		var size int
		switch lengthSize {
		case 1:
			size = int(payload[off])
		case 2:
			size = int(binary.BigEndian.Uint16(payload[off:]))
		case 4:
			size = int(binary.BigEndian.Uint32(payload[off:]))
		}
		off += lengthSize
		if size == 0 {
			continue
		}
		if off+size > len(payload) {
			return fmt.Errorf("%w: truncated NALU data", ErrMalformedConfig)
		}
		if !fn(payload[off : off+size]) {
			return nil
		}
		off += size
	}
	return nil
}
