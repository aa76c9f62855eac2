// Package session implements the playback state machine: it drives an RTMP
// transport, demuxes the media tags it yields, feeds the decoders, and
// publishes decoded samples and lifecycle events to a single subscriber.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumen-live/lumen/decode"
	"github.com/lumen-live/lumen/demux"
	"github.com/lumen-live/lumen/media"
	"github.com/lumen-live/lumen/stats"
	"github.com/lumen-live/lumen/transport"
	"github.com/lumen-live/lumen/transport/rtmpconn"
)

const (
	// maxReconnects bounds the retry attempts per play request.
	maxReconnects = 3
	// reconnectStep scales the retry delay: attempt n waits n * step.
	reconnectStep = 2 * time.Second
)

var errDisconnected = errors.New("server closed the connection")

// ErrSessionClosed is returned by Play once Close has been called.
var ErrSessionClosed = errors.New("session closed")

// Config holds the session options consumed by the core.
type Config struct {
	AutoReconnect bool
}

// Session is one playback session. External methods are safe to call from
// any goroutine; all state mutation happens under the session mutex and
// subscriber notifications are delivered in order from a single dispatch
// goroutine.
type Session struct {
	id  string
	log *slog.Logger
	cfg Config

	videoBackend decode.VideoBackend
	audioBackend decode.AudioBackend
	sub          Subscriber
	mon          *stats.Monitor

	// dial and after are the seams for the transport and the reconnect
	// timer.
	dial  func(log *slog.Logger) transport.Session
	after func(d time.Duration, f func()) *time.Timer

	events    chan Event
	quit      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	state  State
	cause  string
	url    string

	// gen identifies the current play attempt. Events carrying a stale gen
	// arrived after teardown and are discarded.
	gen      int
	attempts int
	conn     transport.Session
	cancel   context.CancelFunc
	ctx      context.Context
	retry    *time.Timer

	videoDec       *decode.VideoDecoder
	audioConv      *decode.AudioConverter
	videoConfigRaw []byte
	audioConfigRaw []byte

	firstVideoTS int64
	haveVideoTS  bool
	firstAudioTS int64
	haveAudioTS  bool

	metaSeen    bool
	width       int
	height      int
	warnedVideo bool
	warnedAudio bool
}

// New creates an idle session publishing to sub. The performance monitor is
// wired into the decoders as their frame recorder at construction; nil log
// means slog.Default(). Callers must Close the session when done with it.
func New(cfg Config, video decode.VideoBackend, audio decode.AudioBackend, sub Subscriber, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	s := &Session{
		id:           id,
		log:          log.With("component", "session", "session_id", id),
		cfg:          cfg,
		videoBackend: video,
		audioBackend: audio,
		sub:          sub,
		mon:          stats.New(),
		dial: func(log *slog.Logger) transport.Session {
			return rtmpconn.New(log)
		},
		after:  time.AfterFunc,
		events: make(chan Event, media.VideoBufferSize+media.AudioBufferSize),
		quit:   make(chan struct{}),
		state:  StateIdle,
	}
	go s.dispatch()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Monitor returns the session's performance monitor.
func (s *Session) Monitor() *stats.Monitor { return s.mon }

// State returns the current state and, for the error state, its cause.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.cause
}

// Snapshot returns the merged stats view served by the debug API.
func (s *Session) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SessionID: s.id,
		State:     s.state.String(),
		Playback:  s.mon.CurrentStats(),
		Width:     s.width,
		Height:    s.height,
	}
}

// Play starts playback of url. It is valid from idle, stopped and error;
// in any other state it is a logged no-op. The connection proceeds
// asynchronously: progress is reported through state-change events.
func (s *Session) Play(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	switch s.state {
	case StateIdle, StateStopped, StateError:
	default:
		s.log.Warn("play ignored", "state", s.state)
		return nil
	}
	s.cancelRetryLocked()
	s.url = url
	s.attempts = 0
	s.startAttemptLocked()
	return nil
}

// Stop tears down the current attempt, cancels any pending reconnect and
// enters stopped. It is idempotent and always valid.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRetryLocked()
	if s.state == StateStopped {
		return
	}
	s.teardownAttemptLocked()
	s.setStateLocked(StateStopped, "")
	s.enqueueLocked(Event{Kind: EventCleanup})
}

// Pause suspends sample emission. Media tags received while paused are
// discarded, not buffered. Valid only while playing.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		s.log.Warn("pause ignored", "state", s.state)
		return
	}
	s.setStateLocked(StatePaused, "")
}

// Resume re-enables sample emission. Valid only while paused.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		s.log.Warn("resume ignored", "state", s.state)
		return
	}
	s.setStateLocked(StatePlaying, "")
}

// Restart replays the last URL: stop semantics followed by a fresh play.
// With no prior URL it is a logged no-op.
func (s *Session) Restart() error {
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()
	if url == "" {
		s.log.Warn("restart ignored, no url")
		return nil
	}
	s.Stop()
	return s.Play(url)
}

// Close stops the session and shuts down the dispatch goroutine after the
// pending events have drained. The session cannot be reused afterwards.
func (s *Session) Close() {
	s.Stop()
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.quit)
	})
}

// startAttemptLocked opens a new transport connection and spawns its stream
// consumers. Timestamp bases, decoders and the monitor restart from zero.
func (s *Session) startAttemptLocked() {
	s.gen++
	gen := s.gen

	s.videoDec = nil
	s.audioConv = nil
	s.videoConfigRaw = nil
	s.audioConfigRaw = nil
	s.haveVideoTS = false
	s.haveAudioTS = false
	s.metaSeen = false
	s.width = 0
	s.height = 0
	s.warnedVideo = false
	s.warnedAudio = false
	s.mon.Start()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	conn := s.dial(s.log)
	s.conn = conn
	s.setStateLocked(StateConnecting, "")

	go s.consumeStatus(gen, conn)
	go s.consumeErrors(gen, conn)
	go s.consumeVideo(gen, conn)
	go s.consumeAudio(gen, conn)
	go s.consumeMetadata(gen, conn)
	go s.consumeStatistics(gen, conn)

	url, ctx := s.url, s.ctx
	go func() {
		if err := conn.Play(ctx, url); err != nil {
			s.transportError(gen, err)
		}
	}()
}

// teardownAttemptLocked invalidates the transport, closes the decoders and
// advances the generation so late events are discarded.
func (s *Session) teardownAttemptLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Invalidate()
		s.conn = nil
	}
	if s.videoDec != nil {
		s.videoDec.Close()
		s.videoDec = nil
	}
	if s.audioConv != nil {
		s.audioConv.Close()
		s.audioConv = nil
	}
}

func (s *Session) cancelRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

// transportError handles a failure of the current attempt: teardown, error
// state, and the reconnect policy.
func (s *Session) transportError(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.log.Error("transport error", "error", err)
	s.teardownAttemptLocked()
	s.setStateLocked(StateError, err.Error())
	s.enqueueLocked(Event{Kind: EventCleanup})

	if !s.cfg.AutoReconnect || s.url == "" {
		return
	}
	if s.attempts >= maxReconnects {
		s.log.Warn("reconnect attempts exhausted", "attempts", s.attempts)
		return
	}
	s.attempts++
	delay := time.Duration(s.attempts) * reconnectStep
	retryGen := s.gen
	s.log.Info("scheduling reconnect", "attempt", s.attempts, "delay", delay)
	s.retry = s.after(delay, func() { s.reconnect(retryGen) })
}

// reconnect fires from the retry timer. A stale generation or a state other
// than error means the session moved on; the retry is abandoned.
func (s *Session) reconnect(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateError {
		return
	}
	s.retry = nil
	s.log.Info("reconnecting", "attempt", s.attempts)
	s.startAttemptLocked()
}

// decoderInitErrorLocked handles a decoder init failure, which is fatal for
// the current play attempt. No reconnect: the
// stream's own config failed, so a retry would replay the same failure.
func (s *Session) decoderInitErrorLocked(err error) {
	s.log.Error("decoder init failed", "error", err)
	s.teardownAttemptLocked()
	s.setStateLocked(StateError, err.Error())
	s.enqueueLocked(Event{Kind: EventCleanup})
}

func (s *Session) consumeStatus(gen int, conn transport.Session) {
	for st := range conn.Status() {
		s.handleStatus(gen, st)
	}
}

func (s *Session) consumeErrors(gen int, conn transport.Session) {
	for err := range conn.Errors() {
		s.transportError(gen, err)
	}
}

func (s *Session) consumeVideo(gen int, conn transport.Session) {
	for p := range conn.Video() {
		s.handleVideoTag(gen, p)
	}
}

func (s *Session) consumeAudio(gen int, conn transport.Session) {
	for p := range conn.Audio() {
		s.handleAudioTag(gen, p)
	}
}

func (s *Session) consumeMetadata(gen int, conn transport.Session) {
	for m := range conn.Metadata() {
		s.handleMetadata(gen, m)
	}
}

func (s *Session) consumeStatistics(gen int, conn transport.Session) {
	for ts := range conn.Statistics() {
		s.handleStatistics(gen, ts)
	}
}

func (s *Session) handleStatus(gen int, st transport.Status) {
	switch st {
	case transport.StatusConnect, transport.StatusPlayStart:
		s.mu.Lock()
		if gen == s.gen && s.state == StateConnecting {
			s.setStateLocked(StatePlaying, "")
		}
		s.mu.Unlock()
	case transport.StatusDisconnected:
		s.transportError(gen, errDisconnected)
	}
}

// handleVideoTag runs on the video consumer goroutine, so decode output
// order matches tag order without further serialization.
func (s *Session) handleVideoTag(gen int, p transport.Packet) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.state == StatePaused {
		s.mu.Unlock()
		return
	}
	if s.state == StateConnecting {
		// Some servers elide NetStream.Play.Start; first media promotes.
		s.setStateLocked(StatePlaying, "")
	}

	if demux.IsVideoConfigTag(p.Payload) {
		s.handleVideoConfigLocked(p.Payload)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	tag, err := demux.ParseVideoTag(p.Payload)
	if err != nil {
		s.warnVideo(err)
		return
	}
	if tag.Kind != demux.VideoTagUnit {
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.videoDec == nil {
		// A keyframe ahead of any sequence header may carry its parameter
		// sets in band; anything else waits for a real config.
		if !tag.KeyFrame {
			s.mu.Unlock()
			return
		}
		s.probeColdStartLocked(tag.AVCC)
		if s.videoDec == nil {
			s.mu.Unlock()
			return
		}
	}
	dec := s.videoDec
	if !s.haveVideoTS {
		s.firstVideoTS = p.Timestamp
		s.haveVideoTS = true
	}
	base := s.firstVideoTS
	ctx := s.ctx
	s.mu.Unlock()

	dts := p.Timestamp - base
	pts := dts + int64(tag.CompositionTime)
	if pts < 0 {
		// A reorder offset cannot point before the rebased origin.
		pts = dts
	}
	sample, err := dec.Decode(ctx, demux.VideoUnit{
		AVCC:     tag.AVCC,
		KeyFrame: tag.KeyFrame,
		DTS:      dts,
		PTS:      pts,
	})
	if err != nil {
		s.log.Debug("video unit dropped", "error", err)
		return
	}
	if sample == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StatePlaying {
		return
	}
	s.enqueueLocked(Event{Kind: EventVideoSample, Sample: sample})
}

// handleVideoConfigLocked initializes or replaces the video decoder from a
// sequence header. Resubmitting the identical header is a no-op.
func (s *Session) handleVideoConfigLocked(payload []byte) {
	if s.videoConfigRaw != nil && bytes.Equal(payload, s.videoConfigRaw) {
		return
	}
	tag, err := demux.ParseVideoTag(payload)
	if err != nil || tag.Config == nil {
		s.log.Warn("malformed video config dropped", "error", err)
		return
	}
	// An unparseable SPS is a malformed config, not a decoder failure: the
	// tag is dropped and a later valid config can still start playback.
	if _, err := demux.ParseSPS(tag.Config.SPS); err != nil {
		s.log.Warn("malformed video config dropped", "error", err)
		return
	}
	if !s.initVideoDecoderLocked(tag.Config) {
		return
	}
	s.videoConfigRaw = append([]byte(nil), payload...)
}

// initVideoDecoderLocked replaces the video decoder with one opened for cfg.
// Open failure is fatal for the attempt.
func (s *Session) initVideoDecoderLocked(cfg *demux.VideoConfig) bool {
	if s.videoDec != nil {
		s.videoDec.Close()
		s.videoDec = nil
	}
	dec, err := decode.NewVideoDecoder(cfg, s.videoBackend, s.mon, s.log)
	if err != nil {
		s.decoderInitErrorLocked(fmt.Errorf("video decoder: %w", err))
		return false
	}
	s.videoDec = dec

	info := dec.Info()
	s.log.Info("video configured",
		"codec", info.CodecString(), "width", info.Width, "height", info.Height)
	if !s.metaSeen {
		s.width = info.Width
		s.height = info.Height
		s.enqueueLocked(Event{Kind: EventVideoConfig, Width: info.Width, Height: info.Height})
	}
	return true
}

// probeColdStartLocked tries to bootstrap the decoder from a keyframe that
// arrived before any sequence header. Encoders that repeat SPS and PPS in
// band make such keyframes self-describing; the probe assumes the 4-byte
// length prefixes those muxers emit. Failure drops the frame and the
// session keeps waiting for a real config.
func (s *Session) probeColdStartLocked(avcc []byte) {
	var sps, pps []byte
	sawIDR := false
	err := demux.WalkAVCC(avcc, 4, func(nalu []byte) bool {
		switch t := demux.NALType(nalu); {
		case t == demux.NALTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case t == demux.NALTypePPS:
			if pps == nil {
				pps = nalu
			}
		case demux.IsIDR(t):
			sawIDR = true
		}
		return true
	})
	if err != nil || sps == nil || pps == nil || !sawIDR {
		s.log.Debug("keyframe before sequence header dropped",
			"error", err, "has_sps", sps != nil, "has_pps", pps != nil, "has_idr", sawIDR)
		return
	}
	if _, err := demux.ParseSPS(sps); err != nil {
		s.log.Warn("in-band parameter sets unusable", "error", err)
		return
	}
	s.log.Info("bootstrapping decoder from in-band parameter sets")
	s.initVideoDecoderLocked(&demux.VideoConfig{
		SPS:            append([]byte(nil), sps...),
		PPS:            append([]byte(nil), pps...),
		NALULengthSize: 4,
	})
}

func (s *Session) handleAudioTag(gen int, p transport.Packet) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.state == StatePaused {
		s.mu.Unlock()
		return
	}
	if s.state == StateConnecting {
		s.setStateLocked(StatePlaying, "")
	}

	if demux.IsAudioConfigTag(p.Payload) {
		s.handleAudioConfigLocked(p.Payload)
		s.mu.Unlock()
		return
	}

	conv := s.audioConv
	if conv == nil {
		s.mu.Unlock()
		return
	}
	if !s.haveAudioTS {
		s.firstAudioTS = p.Timestamp
		s.haveAudioTS = true
	}
	base := s.firstAudioTS
	ctx := s.ctx
	s.mu.Unlock()

	tag, err := demux.ParseAudioTag(p.Payload)
	if err != nil {
		s.warnAudio(err)
		return
	}
	if tag.Kind != demux.AudioTagRaw {
		return
	}

	sample, err := conv.Convert(ctx, demux.AudioUnit{
		Raw: tag.Raw,
		PTS: p.Timestamp - base,
	})
	if err != nil {
		s.log.Debug("audio unit dropped", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StatePlaying {
		return
	}
	s.enqueueLocked(Event{Kind: EventAudioSample, Sample: sample})
}

func (s *Session) handleAudioConfigLocked(payload []byte) {
	if s.audioConfigRaw != nil && bytes.Equal(payload, s.audioConfigRaw) {
		return
	}
	tag, err := demux.ParseAudioTag(payload)
	if err != nil || tag.Config == nil {
		s.log.Warn("malformed audio config dropped", "error", err)
		return
	}
	if s.audioConv != nil {
		s.audioConv.Close()
		s.audioConv = nil
	}
	conv, err := decode.NewAudioConverter(*tag.Config, s.audioBackend, s.mon, s.log)
	if err != nil {
		s.decoderInitErrorLocked(fmt.Errorf("audio converter: %w", err))
		return
	}
	s.audioConv = conv
	s.audioConfigRaw = append([]byte(nil), payload...)
	s.log.Info("audio configured",
		"sample_rate", tag.Config.SampleRate, "channels", tag.Config.Channels)
}

// handleMetadata surfaces the onMetaData geometry to the subscriber and
// folds it into the stats snapshot.
func (s *Session) handleMetadata(gen int, m transport.MetaData) {
	width := metaInt(m, "width")
	height := metaInt(m, "height")
	dataRate, _ := m["videodatarate"].(float64)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.metaSeen = true
	if width > 0 {
		s.width = width
	}
	if height > 0 {
		s.height = height
	}
	if width > 0 || height > 0 {
		s.enqueueLocked(Event{
			Kind:     EventVideoConfig,
			Width:    width,
			Height:   height,
			DataRate: dataRate,
		})
	}
}

func (s *Session) handleStatistics(gen int, ts transport.Statistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.enqueueLocked(Event{Kind: EventStatistics, Stats: Stats{
		SessionID: s.id,
		State:     s.state.String(),
		Playback:  s.mon.CurrentStats(),
		Transport: ts,
		Width:     s.width,
		Height:    s.height,
	}})
}

func (s *Session) warnVideo(err error) {
	s.mu.Lock()
	warned := s.warnedVideo
	s.warnedVideo = true
	s.mu.Unlock()
	if !warned {
		s.log.Warn("video tag dropped", "error", err)
	}
}

func (s *Session) warnAudio(err error) {
	s.mu.Lock()
	warned := s.warnedAudio
	s.warnedAudio = true
	s.mu.Unlock()
	if !warned {
		s.log.Warn("audio tag dropped", "error", err)
	}
}

func (s *Session) setStateLocked(st State, cause string) {
	if s.state == st && s.cause == cause {
		return
	}
	s.state = st
	s.cause = cause
	s.log.Info("state change", "state", st, "cause", cause)
	s.enqueueLocked(Event{Kind: EventStateChange, State: st, Cause: cause})
}

// enqueueLocked hands an event to the dispatch goroutine. Enqueued under
// the session mutex, so subscribers observe transitions in the order they
// happened.
func (s *Session) enqueueLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// dispatch delivers events to the subscriber one at a time. On Close it
// drains what was already enqueued, then exits.
func (s *Session) dispatch() {
	for {
		select {
		case ev := <-s.events:
			s.sub.OnEvent(ev)
		case <-s.quit:
			for {
				select {
				case ev := <-s.events:
					s.sub.OnEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func metaInt(m transport.MetaData, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}
