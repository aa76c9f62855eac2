// Package transport defines the seam between the playback session and the
// wire protocol. A Session yields six event streams; the playback layer
// consumes them without knowing which protocol library produced them.
package transport

import "context"

// Status reports connection lifecycle milestones.
type Status int

const (
	StatusUnknown Status = iota
	StatusHandshakeStart
	StatusHandshakeDone
	StatusConnect
	StatusPlayStart
	StatusFailed
	StatusDisconnected
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusHandshakeStart:
		return "handshake-start"
	case StatusHandshakeDone:
		return "handshake-done"
	case StatusConnect:
		return "connect"
	case StatusPlayStart:
		return "play-start"
	case StatusFailed:
		return "failed"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Packet is one media message payload with its protocol timestamp in
// milliseconds. The payload is owned by the receiver.
type Packet struct {
	Payload   []byte
	Timestamp int64
}

// MetaData is the decoded onMetaData object, keys as sent by the server
// (width, height, framerate, videocodecid, ...).
type MetaData map[string]interface{}

// Statistics is a periodic snapshot of wire-level throughput.
type Statistics struct {
	BytesReceived  int64   `json:"bytesReceived"`
	VideoMessages  int64   `json:"videoMessages"`
	AudioMessages  int64   `json:"audioMessages"`
	ReceiveRateBps float64 `json:"receiveRateBps"`
}

// Session is one playback connection. Play blocks until the stream is
// requested or fails; media then flows on the channels until the connection
// ends or Invalidate is called. All channels are closed on teardown, in
// bounded time.
type Session interface {
	Play(ctx context.Context, url string) error
	Invalidate() error

	Status() <-chan Status
	Errors() <-chan error
	Video() <-chan Packet
	Audio() <-chan Packet
	Metadata() <-chan MetaData
	Statistics() <-chan Statistics
}
