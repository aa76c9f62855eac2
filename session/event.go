package session

import (
	"github.com/lumen-live/lumen/media"
	"github.com/lumen-live/lumen/stats"
	"github.com/lumen-live/lumen/transport"
)

// EventKind discriminates the payload carried by an Event.
type EventKind int

const (
	// EventStateChange reports a session state transition. State and, for
	// the error state, Cause are populated.
	EventStateChange EventKind = iota
	// EventVideoSample carries one decoded picture.
	EventVideoSample
	// EventAudioSample carries one PCM buffer.
	EventAudioSample
	// EventVideoConfig announces the stream geometry, from onMetaData when
	// the server sends it or from the first sequence header otherwise.
	EventVideoConfig
	// EventStatistics is the periodic stats snapshot, at most one per
	// second.
	EventStatistics
	// EventCleanup fires after a transport or decoder-init failure tears
	// down the current attempt, and on every Stop from a state other than
	// stopped.
	EventCleanup
)

// String returns the event kind name for logging and metric labels.
func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state"
	case EventVideoSample:
		return "video"
	case EventAudioSample:
		return "audio"
	case EventVideoConfig:
		return "config"
	case EventStatistics:
		return "statistics"
	case EventCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Stats is the merged periodic snapshot: playback counters from the
// performance monitor joined with the transport's wire throughput and the
// announced stream geometry.
type Stats struct {
	SessionID string               `json:"sessionId"`
	State     string               `json:"state"`
	Playback  stats.Stats          `json:"playback"`
	Transport transport.Statistics `json:"transport"`
	Width     int                  `json:"width,omitempty"`
	Height    int                  `json:"height,omitempty"`
}

// Event is the tagged notification published to the session's subscriber.
// Kind selects which fields are meaningful.
type Event struct {
	Kind EventKind

	State State
	Cause string

	Sample *media.DecodedSample

	Width    int
	Height   int
	DataRate float64

	Stats Stats
}

// Subscriber receives session events. OnEvent is always called from a
// single goroutine at a time, in emission order; a slow subscriber exerts
// back-pressure on the session.
type Subscriber interface {
	OnEvent(Event)
}

// Delegate is the renderer-facing callback surface. Use
// NewDelegateSubscriber to adapt it to the event stream.
type Delegate interface {
	OnStateChange(state State)
	OnVideoSample(sample *media.DecodedSample)
	OnAudioSample(sample *media.DecodedSample)
	OnVideoConfig(width, height int, dataRate float64)
	OnStatistics(stats Stats)
	OnCleanup()
}

type delegateSubscriber struct {
	d Delegate
}

// NewDelegateSubscriber adapts a Delegate to the Subscriber interface,
// dispatching each event to the corresponding callback.
func NewDelegateSubscriber(d Delegate) Subscriber {
	return &delegateSubscriber{d: d}
}

func (s *delegateSubscriber) OnEvent(ev Event) {
	switch ev.Kind {
	case EventStateChange:
		s.d.OnStateChange(ev.State)
	case EventVideoSample:
		s.d.OnVideoSample(ev.Sample)
	case EventAudioSample:
		s.d.OnAudioSample(ev.Sample)
	case EventVideoConfig:
		s.d.OnVideoConfig(ev.Width, ev.Height, ev.DataRate)
	case EventStatistics:
		s.d.OnStatistics(ev.Stats)
	case EventCleanup:
		s.d.OnCleanup()
	}
}
