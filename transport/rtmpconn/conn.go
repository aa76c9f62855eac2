// Package rtmpconn implements the transport.Session seam over an RTMP
// client connection.
package rtmpconn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/lumen-live/lumen/media"
	"github.com/lumen-live/lumen/transport"
)

// statsInterval is how often a Statistics snapshot is emitted while the
// connection is live.
const statsInterval = time.Second

// chunkSize requested on createStream.
const chunkSize = 128

// StreamError is a terminal NetStream condition reported by the server.
type StreamError struct {
	Code string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Code)
}

// Conn is an RTMP playback connection. It dials on Play, runs the protocol
// handshake and play request, then feeds media and lifecycle events to its
// channels until the server closes the connection or Invalidate is called.
//
// Teardown protocol: closed flips under mu, done unblocks in-flight sends,
// the client close stops the protocol reader, and the channels are closed
// only after every emitter has drained out through the wait group.
type Conn struct {
	log *slog.Logger

	statusCh chan transport.Status
	errorCh  chan error
	videoCh  chan transport.Packet
	audioCh  chan transport.Packet
	metaCh   chan transport.MetaData
	statsCh  chan transport.Statistics

	bytesReceived atomic.Int64
	videoMessages atomic.Int64
	audioMessages atomic.Int64

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	client  *rtmp.ClientConn
	closed  bool
	sending sync.WaitGroup
}

var _ transport.Session = (*Conn)(nil)

// New creates an unconnected Conn. Channel capacities follow the playback
// buffer sizing so a slow consumer exerts back-pressure instead of
// unbounded growth.
func New(log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		log:      log.With("component", "rtmp-transport"),
		statusCh: make(chan transport.Status, media.EventBufferSize),
		errorCh:  make(chan error, media.EventBufferSize),
		videoCh:  make(chan transport.Packet, media.VideoBufferSize),
		audioCh:  make(chan transport.Packet, media.AudioBufferSize),
		metaCh:   make(chan transport.MetaData, media.EventBufferSize),
		statsCh:  make(chan transport.Statistics, media.EventBufferSize),
		done:     make(chan struct{}),
	}
}

func (c *Conn) Status() <-chan transport.Status         { return c.statusCh }
func (c *Conn) Errors() <-chan error                    { return c.errorCh }
func (c *Conn) Video() <-chan transport.Packet          { return c.videoCh }
func (c *Conn) Audio() <-chan transport.Packet          { return c.audioCh }
func (c *Conn) Metadata() <-chan transport.MetaData     { return c.metaCh }
func (c *Conn) Statistics() <-chan transport.Statistics { return c.statsCh }

// Play dials the URL's host, performs connect and createStream, and issues
// the play request. It returns once the request is on the wire; stream
// lifecycle continues on the event channels.
func (c *Conn) Play(ctx context.Context, rawURL string) error {
	target, err := ParseURL(rawURL)
	if err != nil {
		return err
	}

	c.log.Info("connecting", "addr", target.Addr, "app", target.App)
	c.emitStatus(transport.StatusHandshakeStart)

	client, err := rtmp.Dial("rtmp", target.Addr, &rtmp.ConnConfig{
		Handler: &handler{conn: c, log: c.log},
	})
	if err != nil {
		c.fail(err)
		return fmt.Errorf("dial %s: %w", target.Addr, err)
	}
	c.emitStatus(transport.StatusHandshakeDone)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		client.Close()
		return fmt.Errorf("connection invalidated")
	}
	c.client = client
	c.mu.Unlock()

	if err := client.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      target.App,
			TCURL:    target.TCURL,
			FlashVer: "FMLE/3.0",
		},
	}); err != nil {
		c.fail(err)
		return fmt.Errorf("connect: %w", err)
	}
	c.emitStatus(transport.StatusConnect)

	stream, err := client.CreateStream(&rtmpmsg.NetConnectionCreateStream{}, chunkSize)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("create stream: %w", err)
	}

	if err := stream.Play(&rtmpmsg.NetStreamPlay{
		StreamName: target.StreamKey,
		Start:      -2,
	}); err != nil {
		c.fail(err)
		return fmt.Errorf("play %s: %w", target.StreamKey, err)
	}
	c.log.Info("play requested", "stream", target.StreamKey)

	go c.statsLoop()
	return nil
}

// Invalidate tears down the connection and closes all event channels. It is
// idempotent and safe to call from any goroutine.
func (c *Conn) Invalidate() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		client := c.client
		c.mu.Unlock()

		close(c.done)
		if client != nil {
			err = client.Close()
		}

		// No new emitters can start; wait for in-flight sends before
		// closing their channels.
		c.sending.Wait()
		c.closeChannels()
		c.log.Info("transport invalidated")
	})
	return err
}

// enter registers an emitter. It returns false once teardown has begun.
func (c *Conn) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.sending.Add(1)
	return true
}

// statsLoop publishes a throughput snapshot once per second.
func (c *Conn) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastBytes int64
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			bytes := c.bytesReceived.Load()
			snap := transport.Statistics{
				BytesReceived:  bytes,
				VideoMessages:  c.videoMessages.Load(),
				AudioMessages:  c.audioMessages.Load(),
				ReceiveRateBps: float64(bytes-lastBytes) * 8 / statsInterval.Seconds(),
			}
			lastBytes = bytes
			c.emitStats(snap)
		}
	}
}

// onClosed runs when the library reports the connection closed underneath
// us. A deliberate Invalidate has already marked the state; anything else
// is a disconnect.
func (c *Conn) onClosed() {
	c.mu.Lock()
	wasClosed := c.closed
	c.mu.Unlock()
	if wasClosed {
		return
	}

	c.emitStatus(transport.StatusDisconnected)
	c.Invalidate()
}

// fail reports a transport failure on both the status and error channels.
func (c *Conn) fail(err error) {
	c.log.Error("transport failed", "error", err)
	c.emitStatus(transport.StatusFailed)

	if !c.enter() {
		return
	}
	defer c.sending.Done()
	select {
	case c.errorCh <- err:
	case <-c.done:
	default:
	}
}

// closeChannels ends every event stream. Consumers observe the close as
// end-of-stream.
func (c *Conn) closeChannels() {
	close(c.statusCh)
	close(c.errorCh)
	close(c.videoCh)
	close(c.audioCh)
	close(c.metaCh)
	close(c.statsCh)
}

func (c *Conn) emitStatus(s transport.Status) {
	if !c.enter() {
		return
	}
	defer c.sending.Done()
	select {
	case c.statusCh <- s:
	case <-c.done:
	default:
		c.log.Warn("status channel full, dropping", "status", s)
	}
}

// emitVideo blocks when the consumer lags: back-pressure reaches the
// protocol reader instead of dropping frames here.
func (c *Conn) emitVideo(p transport.Packet) {
	if !c.enter() {
		return
	}
	defer c.sending.Done()
	select {
	case c.videoCh <- p:
	case <-c.done:
	}
}

func (c *Conn) emitAudio(p transport.Packet) {
	if !c.enter() {
		return
	}
	defer c.sending.Done()
	select {
	case c.audioCh <- p:
	case <-c.done:
	}
}

func (c *Conn) emitMetadata(m transport.MetaData) {
	if !c.enter() {
		return
	}
	defer c.sending.Done()
	select {
	case c.metaCh <- m:
	case <-c.done:
	default:
	}
}

func (c *Conn) emitStats(s transport.Statistics) {
	if !c.enter() {
		return
	}
	defer c.sending.Done()
	select {
	case c.statsCh <- s:
	case <-c.done:
	default:
	}
}
