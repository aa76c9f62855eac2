package demux

import (
	"errors"
	"fmt"
)

// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("invalid ADTS header")

// AAC sample rate index table (ISO 14496-3)
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// adtsHeaderSize is the fixed header length without CRC.
const adtsHeaderSize = 7

// sampleRateIndex returns the ADTS/AudioSpecificConfig index for a rate, or
// an error when the rate is not one of the thirteen defined values.
func sampleRateIndex(rate int) (int, error) {
	for i, r := range aacSampleRates {
		if r == rate {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: sample rate %d has no index", ErrInvalidADTS, rate)
}

// BuildADTS prepends a 7-byte ADTS header (no CRC) to a raw AAC access
// unit, for audio backends that only accept self-describing frames. The
// raw unit is appended untouched.
func BuildADTS(cfg AudioConfig, raw []byte) ([]byte, error) {
	rateIdx, err := sampleRateIndex(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	if cfg.Channels < 1 || cfg.Channels > 7 {
		return nil, fmt.Errorf("%w: channel configuration %d", ErrInvalidADTS, cfg.Channels)
	}
	// ADTS carries only 2 profile bits; AAC-LC is object type 2.
	profile := cfg.ObjectType - 1
	if profile < 0 || profile > 3 {
		profile = 1
	}

	frameLen := adtsHeaderSize + len(raw)
	if frameLen > 0x1FFF {
		return nil, fmt.Errorf("%w: frame length %d exceeds 13 bits", ErrInvalidADTS, frameLen)
	}

	out := make([]byte, adtsHeaderSize, frameLen)
	out[0] = 0xFF
	out[1] = 0xF1 // MPEG-4, layer 0, no CRC
	out[2] = byte(profile)<<6 | byte(rateIdx)<<2 | byte(cfg.Channels>>2)
	out[3] = byte(cfg.Channels&0x03)<<6 | byte(frameLen>>11)
	out[4] = byte(frameLen >> 3)
	out[5] = byte(frameLen&0x07)<<5 | 0x1F // buffer fullness = 0x7FF (VBR)
	out[6] = 0xFC
	return append(out, raw...), nil
}

// AACFrame represents a single AAC audio frame parsed from ADTS.
type AACFrame struct {
	Data       []byte // complete ADTS frame (header + payload)
	SampleRate int
	Channels   int
}

// ParseADTS parses an ADTS byte stream into individual AAC frames.
func ParseADTS(data []byte) ([]AACFrame, error) {
	var frames []AACFrame
	offset := 0

	for offset < len(data) {
		if len(data)-offset < adtsHeaderSize {
			break // not enough for ADTS header
		}

		// Sync word: 0xFFF
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			// Try to find next sync word
			offset++
			continue
		}

		hasCRC := (data[offset+1] & 0x01) == 0
		headerSize := adtsHeaderSize
		if hasCRC {
			headerSize = 9
		}

		sampleRateIdx := (data[offset+2] >> 2) & 0x0F
		if int(sampleRateIdx) >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}

		channelCfg := ((data[offset+2] & 0x01) << 2) | ((data[offset+3] >> 6) & 0x03)

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen < headerSize || offset+frameLen > len(data) {
			break // truncated
		}

		frames = append(frames, AACFrame{
			Data:       data[offset : offset+frameLen],
			SampleRate: aacSampleRates[sampleRateIdx],
			Channels:   int(channelCfg),
		})

		offset += frameLen
	}

	return frames, nil
}
