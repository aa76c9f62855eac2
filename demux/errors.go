package demux

import "errors"

var (
	// ErrShortTag is returned when a tag payload is too small to carry the
	// FLV-style header bytes for its kind.
	ErrShortTag = errors.New("tag payload too short")

	// ErrUnsupportedCodec is returned for video tags whose codec id is not
	// AVC, and audio tags whose sound format is not AAC.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrMalformedConfig is returned when an AVCDecoderConfigurationRecord
	// or AudioSpecificConfig cannot be parsed. The stream may still become
	// playable if a valid config arrives later.
	ErrMalformedConfig = errors.New("malformed codec configuration")

	// ErrUnsupportedConfig is returned for configs that parse but describe
	// a stream this player cannot handle (reserved sample-rate index,
	// channel count out of range).
	ErrUnsupportedConfig = errors.New("unsupported codec configuration")
)
