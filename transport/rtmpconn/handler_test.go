package rtmpconn

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/yutopp/go-amf0"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/lumen-live/lumen/transport"
)

// amf0Body encodes the given values in sequence, the way a server lays out
// an onStatus or onMetaData message body.
func amf0Body(t *testing.T, values ...interface{}) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	enc := amf0.NewEncoder(&buf)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			t.Fatalf("encode %v: %v", v, err)
		}
	}
	return bytes.NewReader(buf.Bytes())
}

func newTestHandler() (*handler, *Conn) {
	c := New(slog.Default())
	return &handler{conn: c, log: slog.Default()}, c
}

func TestOnVideoDeliversPacket(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()
	defer c.Invalidate()

	payload := []byte{0x17, 0x01, 0x00, 0x00, 0x21, 0xAA, 0xBB}
	if err := h.OnVideo(1500, bytes.NewReader(payload)); err != nil {
		t.Fatalf("OnVideo: %v", err)
	}

	select {
	case p := <-c.Video():
		if !bytes.Equal(p.Payload, payload) {
			t.Errorf("payload = % x, want % x", p.Payload, payload)
		}
		if p.Timestamp != 1500 {
			t.Errorf("timestamp = %d, want 1500", p.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("no video packet delivered")
	}

	if got := c.bytesReceived.Load(); got != int64(len(payload)) {
		t.Errorf("bytesReceived = %d, want %d", got, len(payload))
	}
	if got := c.videoMessages.Load(); got != 1 {
		t.Errorf("videoMessages = %d, want 1", got)
	}
}

func TestOnAudioDeliversPacket(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()
	defer c.Invalidate()

	payload := []byte{0xAF, 0x01, 0x21, 0x10, 0x04}
	if err := h.OnAudio(333, bytes.NewReader(payload)); err != nil {
		t.Fatalf("OnAudio: %v", err)
	}

	select {
	case p := <-c.Audio():
		if !bytes.Equal(p.Payload, payload) {
			t.Errorf("payload = % x, want % x", p.Payload, payload)
		}
		if p.Timestamp != 333 {
			t.Errorf("timestamp = %d, want 333", p.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("no audio packet delivered")
	}

	if got := c.audioMessages.Load(); got != 1 {
		t.Errorf("audioMessages = %d, want 1", got)
	}
}

func TestOnStatusPlayStart(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()
	defer c.Invalidate()

	body := amf0Body(t, nil, map[string]interface{}{
		"level": "status",
		"code":  "NetStream.Play.Start",
	})
	err := h.OnUnknownCommandMessage(0, &rtmpmsg.CommandMessage{
		CommandName: "onStatus",
		Body:        body,
	})
	if err != nil {
		t.Fatalf("OnUnknownCommandMessage: %v", err)
	}

	select {
	case s := <-c.Status():
		if s != transport.StatusPlayStart {
			t.Errorf("status = %v, want %v", s, transport.StatusPlayStart)
		}
	case <-time.After(time.Second):
		t.Fatal("no status delivered")
	}
}

func TestOnStatusStreamNotFound(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()
	defer c.Invalidate()

	body := amf0Body(t, nil, map[string]interface{}{
		"level": "error",
		"code":  "NetStream.Play.StreamNotFound",
	})
	err := h.OnUnknownCommandMessage(0, &rtmpmsg.CommandMessage{
		CommandName: "onStatus",
		Body:        body,
	})
	if err != nil {
		t.Fatalf("OnUnknownCommandMessage: %v", err)
	}

	select {
	case err := <-c.Errors():
		var se *StreamError
		if !errors.As(err, &se) {
			t.Fatalf("error = %T, want *StreamError", err)
		}
		if se.Code != "NetStream.Play.StreamNotFound" {
			t.Errorf("code = %q", se.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}
}

func TestOnStatusUnpublishDisconnects(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()
	defer c.Invalidate()

	body := amf0Body(t, nil, map[string]interface{}{
		"code": "NetStream.Play.UnpublishNotify",
	})
	if err := h.OnUnknownCommandMessage(0, &rtmpmsg.CommandMessage{
		CommandName: "onStatus",
		Body:        body,
	}); err != nil {
		t.Fatalf("OnUnknownCommandMessage: %v", err)
	}

	select {
	case s := <-c.Status():
		if s != transport.StatusDisconnected {
			t.Errorf("status = %v, want %v", s, transport.StatusDisconnected)
		}
	case <-time.After(time.Second):
		t.Fatal("no status delivered")
	}
}

func TestIgnoresOtherCommands(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()
	defer c.Invalidate()

	if err := h.OnUnknownCommandMessage(0, &rtmpmsg.CommandMessage{
		CommandName: "onBWDone",
		Body:        bytes.NewReader(nil),
	}); err != nil {
		t.Fatalf("OnUnknownCommandMessage: %v", err)
	}

	select {
	case s := <-c.Status():
		t.Errorf("unexpected status %v", s)
	default:
	}
}

func TestOnMetaDataDelivered(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()
	defer c.Invalidate()

	body := amf0Body(t, map[string]interface{}{
		"width":        float64(1280),
		"height":       float64(720),
		"videocodecid": float64(7),
	})
	if err := h.OnUnknownDataMessage(0, &rtmpmsg.DataMessage{
		Name: "onMetaData",
		Body: body,
	}); err != nil {
		t.Fatalf("OnUnknownDataMessage: %v", err)
	}

	select {
	case m := <-c.Metadata():
		if m["width"] != float64(1280) {
			t.Errorf("width = %v, want 1280", m["width"])
		}
		if m["videocodecid"] != float64(7) {
			t.Errorf("videocodecid = %v, want 7", m["videocodecid"])
		}
	case <-time.After(time.Second):
		t.Fatal("no metadata delivered")
	}
}

func TestOnCloseInvalidates(t *testing.T) {
	t.Parallel()
	h, c := newTestHandler()

	h.OnClose()

	sawDisconnected := false
	for s := range c.Status() {
		if s == transport.StatusDisconnected {
			sawDisconnected = true
		}
	}
	if !sawDisconnected {
		t.Error("expected disconnected status before close")
	}
	// All channels must be closed after teardown.
	if _, ok := <-c.Video(); ok {
		t.Error("video channel still open")
	}
}

func TestOnStatusCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		values []interface{}
		want   string
	}{
		{
			name:   "null then info object",
			values: []interface{}{nil, map[string]interface{}{"code": "NetStream.Play.Stop"}},
			want:   "NetStream.Play.Stop",
		},
		{
			name:   "bare info object",
			values: []interface{}{map[string]interface{}{"code": "NetStream.Play.Start"}},
			want:   "NetStream.Play.Start",
		},
		{
			name:   "no code field",
			values: []interface{}{nil, map[string]interface{}{"level": "status"}},
			want:   "",
		},
		{
			name:   "empty body",
			values: nil,
			want:   "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := onStatusCode(amf0Body(t, tt.values...)); got != tt.want {
				t.Errorf("onStatusCode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeMetaDataSkipsLeadingValues(t *testing.T) {
	t.Parallel()
	body := amf0Body(t, "@setDataFrame", map[string]interface{}{"duration": float64(0)})
	meta := decodeMetaData(body)
	if meta == nil {
		t.Fatal("expected metadata object")
	}
	if meta["duration"] != float64(0) {
		t.Errorf("duration = %v, want 0", meta["duration"])
	}
}

func TestDecodeMetaDataEmpty(t *testing.T) {
	t.Parallel()
	if meta := decodeMetaData(bytes.NewReader(nil)); meta != nil {
		t.Errorf("expected nil, got %v", meta)
	}
}
