package demux

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseVideoTagConfig(t *testing.T) {
	t.Parallel()
	payload := []byte{
		0x17, 0x00, 0x00, 0x00, 0x00,
		0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00, 0x08,
		0x67, 0x42, 0x00, 0x1E, 0x9A, 0x66, 0x02, 0x80,
		0x01, 0x00, 0x04,
		0x68, 0xCE, 0x06, 0xE2,
	}

	tag, err := ParseVideoTag(payload)
	if err != nil {
		t.Fatalf("ParseVideoTag error: %v", err)
	}
	if tag.Kind != VideoTagConfig {
		t.Fatalf("kind: got %d, want VideoTagConfig", tag.Kind)
	}
	if tag.Config == nil {
		t.Fatal("config is nil")
	}

	wantSPS := []byte{0x67, 0x42, 0x00, 0x1E, 0x9A, 0x66, 0x02, 0x80}
	if !bytes.Equal(tag.Config.SPS, wantSPS) {
		t.Errorf("SPS: got % X, want % X", tag.Config.SPS, wantSPS)
	}

	wantPPS := []byte{0x68, 0xCE, 0x06, 0xE2}
	if !bytes.Equal(tag.Config.PPS, wantPPS) {
		t.Errorf("PPS: got % X, want % X", tag.Config.PPS, wantPPS)
	}

	if tag.Config.NALULengthSize != 4 {
		t.Errorf("NALU length size: got %d, want 4", tag.Config.NALULengthSize)
	}
}

func TestParseVideoTagUnit(t *testing.T) {
	t.Parallel()
	// Keyframe NALU tag with composition time 33ms and one 2-byte unit behind a 4-byte
	// length prefix.
	payload := []byte{
		0x17, 0x01, 0x00, 0x00, 0x21,
		0x00, 0x00, 0x00, 0x02, 0x65, 0x88,
	}

	tag, err := ParseVideoTag(payload)
	if err != nil {
		t.Fatalf("ParseVideoTag error: %v", err)
	}
	if tag.Kind != VideoTagUnit {
		t.Fatalf("kind: got %d, want VideoTagUnit", tag.Kind)
	}
	if !tag.KeyFrame {
		t.Error("expected keyframe")
	}
	if tag.CompositionTime != 33 {
		t.Errorf("composition time: got %d, want 33", tag.CompositionTime)
	}
	if !bytes.Equal(tag.AVCC, payload[5:]) {
		t.Errorf("AVCC: got % X, want % X", tag.AVCC, payload[5:])
	}
}

func TestParseVideoTagInterFrame(t *testing.T) {
	t.Parallel()
	payload := []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x41}

	tag, err := ParseVideoTag(payload)
	if err != nil {
		t.Fatalf("ParseVideoTag error: %v", err)
	}
	if tag.KeyFrame {
		t.Error("inter frame reported as keyframe")
	}
}

func TestParseVideoTagEndOfSequence(t *testing.T) {
	t.Parallel()
	payload := []byte{0x17, 0x02, 0x00, 0x00, 0x00}

	tag, err := ParseVideoTag(payload)
	if err != nil {
		t.Fatalf("ParseVideoTag error: %v", err)
	}
	if tag.Kind != VideoTagEndOfSequence {
		t.Errorf("kind: got %d, want VideoTagEndOfSequence", tag.Kind)
	}
}

func TestParseVideoTagUnsupportedCodec(t *testing.T) {
	t.Parallel()
	// Sorenson H.263 (codec id 2) must be rejected, not mis-parsed.
	payload := []byte{0x12, 0x00, 0x00, 0x00, 0x00}

	_, err := ParseVideoTag(payload)
	if !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("error: got %v, want ErrUnsupportedCodec", err)
	}
}

func TestParseVideoTagShort(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 4} {
		_, err := ParseVideoTag(make([]byte, n))
		if !errors.Is(err, ErrShortTag) {
			t.Errorf("%d bytes: got %v, want ErrShortTag", n, err)
		}
	}
}

func TestParseVideoTagBadPacketType(t *testing.T) {
	t.Parallel()
	payload := []byte{0x17, 0x05, 0x00, 0x00, 0x00}

	_, err := ParseVideoTag(payload)
	if !errors.Is(err, ErrMalformedConfig) {
		t.Errorf("error: got %v, want ErrMalformedConfig", err)
	}
}

func TestParseCompositionTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		b    []byte
		want int32
	}{
		{"zero", []byte{0x00, 0x00, 0x00}, 0},
		{"positive", []byte{0x00, 0x00, 0x21}, 33},
		{"negative", []byte{0xFF, 0xFF, 0xED}, -19},
		{"max positive", []byte{0x7F, 0xFF, 0xFF}, 8388607},
		{"min negative", []byte{0x80, 0x00, 0x00}, -8388608},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseCompositionTime(tt.b); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseVideoConfigTruncated(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"header only", []byte{0x01, 0x42, 0x00, 0x1E, 0xFF}},
		{"SPS length cut", []byte{0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00}},
		{"SPS data cut", []byte{0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00, 0x08, 0x67}},
		{"missing PPS count", []byte{0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00, 0x04, 0x67, 0x42, 0x00, 0x1E}},
		{"PPS data cut", []byte{
			0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00, 0x04,
			0x67, 0x42, 0x00, 0x1E, 0x01, 0x00, 0x04, 0x68,
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseVideoConfig(tt.body)
			if !errors.Is(err, ErrMalformedConfig) {
				t.Errorf("got %v, want ErrMalformedConfig", err)
			}
		})
	}
}

func TestParseVideoConfigKeepsFirstSets(t *testing.T) {
	t.Parallel()
	// Two SPS and two PPS entries; only the first of each is retained.
	body := []byte{
		0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE2,
		0x00, 0x04, 0x67, 0x42, 0x00, 0x1E,
		0x00, 0x04, 0x67, 0x4D, 0x40, 0x1F,
		0x02,
		0x00, 0x02, 0x68, 0xCE,
		0x00, 0x02, 0x68, 0xEF,
	}

	cfg, err := ParseVideoConfig(body)
	if err != nil {
		t.Fatalf("ParseVideoConfig error: %v", err)
	}
	if !bytes.Equal(cfg.SPS, []byte{0x67, 0x42, 0x00, 0x1E}) {
		t.Errorf("SPS: got % X, want first entry", cfg.SPS)
	}
	if !bytes.Equal(cfg.PPS, []byte{0x68, 0xCE}) {
		t.Errorf("PPS: got % X, want first entry", cfg.PPS)
	}
}

func TestIsVideoConfigTag(t *testing.T) {
	t.Parallel()
	if !IsVideoConfigTag([]byte{0x17, 0x00, 0x00}) {
		t.Error("sequence header not recognized")
	}
	if IsVideoConfigTag([]byte{0x17, 0x01}) {
		t.Error("NALU tag misclassified as config")
	}
	if IsVideoConfigTag([]byte{0x27, 0x00}) {
		t.Error("inter-frame byte misclassified as config")
	}
	if IsVideoConfigTag([]byte{0x17}) {
		t.Error("short payload misclassified as config")
	}
}

func TestWalkAVCC(t *testing.T) {
	t.Parallel()
	payload := []byte{
		0x00, 0x00, 0x00, 0x02, 0x67, 0x42,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x84,
	}

	var units [][]byte
	err := WalkAVCC(payload, 4, func(nalu []byte) bool {
		units = append(units, nalu)
		return true
	})
	if err != nil {
		t.Fatalf("WalkAVCC error: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("units: got %d, want 2 (zero-size skipped)", len(units))
	}
	if NALType(units[0]) != NALTypeSPS {
		t.Errorf("unit 0: got type %d, want SPS", NALType(units[0]))
	}
	if NALType(units[1]) != NALTypeIDR {
		t.Errorf("unit 1: got type %d, want IDR", NALType(units[1]))
	}
}

func TestWalkAVCCTwoByteLengths(t *testing.T) {
	t.Parallel()
	payload := []byte{0x00, 0x02, 0x68, 0xCE, 0x00, 0x01, 0x09}

	var count int
	err := WalkAVCC(payload, 2, func(nalu []byte) bool {
		count++
		return true
	})
	if err != nil {
		t.Fatalf("WalkAVCC error: %v", err)
	}
	if count != 2 {
		t.Errorf("units: got %d, want 2", count)
	}
}

func TestWalkAVCCEarlyStop(t *testing.T) {
	t.Parallel()
	payload := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67,
		0x00, 0x00, 0x00, 0x01, 0x68,
	}

	var count int
	err := WalkAVCC(payload, 4, func(nalu []byte) bool {
		count++
		return false
	})
	if err != nil {
		t.Fatalf("WalkAVCC error: %v", err)
	}
	if count != 1 {
		t.Errorf("visits: got %d, want 1", count)
	}
}

func TestWalkAVCCTruncated(t *testing.T) {
	t.Parallel()
	// Length prefix claims 8 bytes, only 2 present.
	payload := []byte{0x00, 0x00, 0x00, 0x08, 0x65, 0x88}

	err := WalkAVCC(payload, 4, func(nalu []byte) bool { return true })
	if !errors.Is(err, ErrMalformedConfig) {
		t.Errorf("got %v, want ErrMalformedConfig", err)
	}

	// Prefix itself cut off mid-way.
	err = WalkAVCC([]byte{0x00, 0x00}, 4, func(nalu []byte) bool { return true })
	if !errors.Is(err, ErrMalformedConfig) {
		t.Errorf("short prefix: got %v, want ErrMalformedConfig", err)
	}
}

func TestWalkAVCCBadLengthSize(t *testing.T) {
	t.Parallel()
	err := WalkAVCC([]byte{0x00}, 3, func(nalu []byte) bool { return true })
	if !errors.Is(err, ErrMalformedConfig) {
		t.Errorf("got %v, want ErrMalformedConfig", err)
	}
}

func FuzzParseVideoTag(f *testing.F) {
	f.Add([]byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00, 0x01, 0x67})
	f.Add([]byte{0x17, 0x01, 0x00, 0x00, 0x21, 0x00, 0x00, 0x00, 0x01, 0x65})
	f.Add([]byte{0x27, 0x02, 0xFF, 0xFF, 0xED})

	f.Fuzz(func(t *testing.T, payload []byte) {
		tag, err := ParseVideoTag(payload)
		if err != nil {
			return
		}
		if tag.Kind == VideoTagConfig && tag.Config == nil {
			t.Error("config kind with nil config")
		}
	})
}

func BenchmarkWalkAVCC(b *testing.B) {
	payload := make([]byte, 0, 4096)
	unit := bytes.Repeat([]byte{0x41}, 400)
	for i := 0; i < 10; i++ {
		payload = append(payload, 0x00, 0x00, 0x01, 0x90)
		payload = append(payload, unit...)
	}

	b.SetBytes(int64(len(payload)))
	for i := 0; i < b.N; i++ {
		WalkAVCC(payload, 4, func(nalu []byte) bool { return true })
	}
}
