package media

import "testing"

func TestKindString(t *testing.T) {
	t.Parallel()
	if got := KindVideo.String(); got != "video" {
		t.Errorf("KindVideo: got %q, want %q", got, "video")
	}
	if got := KindAudio.String(); got != "audio" {
		t.Errorf("KindAudio: got %q, want %q", got, "audio")
	}
}

func TestBytesPerFrame(t *testing.T) {
	t.Parallel()
	f := AudioFormat{SampleRate: 48000, Channels: 2}
	if got := f.BytesPerFrame(); got != 4 {
		t.Errorf("stereo: got %d, want 4", got)
	}
	mono := AudioFormat{SampleRate: 44100, Channels: 1}
	if got := mono.BytesPerFrame(); got != 2 {
		t.Errorf("mono: got %d, want 2", got)
	}
}
