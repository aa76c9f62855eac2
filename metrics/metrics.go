// Package metrics exports playback counters to Prometheus. The collector is
// a session.Subscriber decorator: it observes the event stream on its way to
// the real subscriber, so the session itself stays metrics-free.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumen-live/lumen/session"
)

// Metrics holds the Prometheus instruments for one process.
type Metrics struct {
	SamplesEmitted *prometheus.CounterVec
	StateChanges   *prometheus.CounterVec
	VideoConfigs   prometheus.Counter
	Cleanups       prometheus.Counter

	FPS           prometheus.Gauge
	FramesTotal   prometheus.Gauge
	FramesDropped prometheus.Gauge
	BytesReceived prometheus.Gauge
	ReceiveRate   prometheus.Gauge
}

// New creates and registers the instruments. A nil registerer uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SamplesEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_samples_emitted_total",
				Help: "Decoded samples delivered to the subscriber",
			},
			[]string{"kind"},
		),
		StateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_state_changes_total",
				Help: "Session state transitions",
			},
			[]string{"state"},
		),
		VideoConfigs: factory.NewCounter(prometheus.CounterOpts{
			Name: "lumen_video_configs_total",
			Help: "Video configuration announcements",
		}),
		Cleanups: factory.NewCounter(prometheus.CounterOpts{
			Name: "lumen_cleanups_total",
			Help: "Play attempt teardowns",
		}),
		FPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_fps",
			Help: "Decoded frames per second since the attempt started",
		}),
		FramesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_frames_total",
			Help: "Frames decoded in the current attempt",
		}),
		FramesDropped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_frames_dropped",
			Help: "Frames dropped in the current attempt",
		}),
		BytesReceived: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_bytes_received",
			Help: "Wire bytes received in the current attempt",
		}),
		ReceiveRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_receive_rate_bps",
			Help: "Current receive rate in bits per second",
		}),
	}
}

// Wrap returns a subscriber that records every event and forwards it to
// next.
func (m *Metrics) Wrap(next session.Subscriber) session.Subscriber {
	return &subscriber{m: m, next: next}
}

type subscriber struct {
	m    *Metrics
	next session.Subscriber
}

func (s *subscriber) OnEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStateChange:
		s.m.StateChanges.WithLabelValues(ev.State.String()).Inc()
	case session.EventVideoSample:
		s.m.SamplesEmitted.WithLabelValues("video").Inc()
	case session.EventAudioSample:
		s.m.SamplesEmitted.WithLabelValues("audio").Inc()
	case session.EventVideoConfig:
		s.m.VideoConfigs.Inc()
	case session.EventStatistics:
		s.m.FPS.Set(ev.Stats.Playback.FPS)
		s.m.FramesTotal.Set(float64(ev.Stats.Playback.TotalFrames))
		s.m.FramesDropped.Set(float64(ev.Stats.Playback.DroppedFrames))
		s.m.BytesReceived.Set(float64(ev.Stats.Transport.BytesReceived))
		s.m.ReceiveRate.Set(ev.Stats.Transport.ReceiveRateBps)
	case session.EventCleanup:
		s.m.Cleanups.Inc()
	}
	s.next.OnEvent(ev)
}
