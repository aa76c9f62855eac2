package session

import (
	"testing"

	"github.com/lumen-live/lumen/media"
)

type recordingDelegate struct {
	states   []State
	video    []*media.DecodedSample
	audio    []*media.DecodedSample
	configs  [][3]float64
	stats    []Stats
	cleanups int
}

func (d *recordingDelegate) OnStateChange(state State) { d.states = append(d.states, state) }
func (d *recordingDelegate) OnVideoSample(s *media.DecodedSample) {
	d.video = append(d.video, s)
}
func (d *recordingDelegate) OnAudioSample(s *media.DecodedSample) {
	d.audio = append(d.audio, s)
}
func (d *recordingDelegate) OnVideoConfig(width, height int, dataRate float64) {
	d.configs = append(d.configs, [3]float64{float64(width), float64(height), dataRate})
}
func (d *recordingDelegate) OnStatistics(s Stats) { d.stats = append(d.stats, s) }
func (d *recordingDelegate) OnCleanup()           { d.cleanups++ }

func TestDelegateSubscriberDispatch(t *testing.T) {
	t.Parallel()
	del := &recordingDelegate{}
	sub := NewDelegateSubscriber(del)

	videoSample := &media.DecodedSample{Kind: media.KindVideo, PTS: 40}
	audioSample := &media.DecodedSample{Kind: media.KindAudio, PTS: 23}

	sub.OnEvent(Event{Kind: EventStateChange, State: StatePlaying})
	sub.OnEvent(Event{Kind: EventVideoSample, Sample: videoSample})
	sub.OnEvent(Event{Kind: EventAudioSample, Sample: audioSample})
	sub.OnEvent(Event{Kind: EventVideoConfig, Width: 1920, Height: 1080, DataRate: 2500})
	sub.OnEvent(Event{Kind: EventStatistics, Stats: Stats{SessionID: "abc"}})
	sub.OnEvent(Event{Kind: EventCleanup})

	if len(del.states) != 1 || del.states[0] != StatePlaying {
		t.Errorf("states = %v, want [playing]", del.states)
	}
	if len(del.video) != 1 || del.video[0] != videoSample {
		t.Errorf("video samples not dispatched: %v", del.video)
	}
	if len(del.audio) != 1 || del.audio[0] != audioSample {
		t.Errorf("audio samples not dispatched: %v", del.audio)
	}
	if len(del.configs) != 1 || del.configs[0] != [3]float64{1920, 1080, 2500} {
		t.Errorf("configs = %v", del.configs)
	}
	if len(del.stats) != 1 || del.stats[0].SessionID != "abc" {
		t.Errorf("stats = %v", del.stats)
	}
	if del.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", del.cleanups)
	}
}

func TestEventKindString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind EventKind
		want string
	}{
		{EventStateChange, "state"},
		{EventVideoSample, "video"},
		{EventAudioSample, "audio"},
		{EventVideoConfig, "config"},
		{EventStatistics, "statistics"},
		{EventCleanup, "cleanup"},
		{EventKind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
