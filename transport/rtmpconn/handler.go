package rtmpconn

import (
	"io"
	"log/slog"

	"github.com/yutopp/go-amf0"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/lumen-live/lumen/transport"
)

// handler receives demultiplexed RTMP messages from the library and turns
// them into transport events. Media payloads are copied out of the
// library-owned reader before they cross a channel.
type handler struct {
	rtmp.DefaultHandler

	conn *Conn
	log  *slog.Logger
}

func (h *handler) OnServe(c *rtmp.Conn) {
	h.log.Debug("serving connection")
}

func (h *handler) OnAudio(timestamp uint32, payload io.Reader) error {
	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	h.conn.bytesReceived.Add(int64(len(data)))
	h.conn.audioMessages.Add(1)
	h.conn.emitAudio(transport.Packet{Payload: data, Timestamp: int64(timestamp)})
	return nil
}

func (h *handler) OnVideo(timestamp uint32, payload io.Reader) error {
	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	h.conn.bytesReceived.Add(int64(len(data)))
	h.conn.videoMessages.Add(1)
	h.conn.emitVideo(transport.Packet{Payload: data, Timestamp: int64(timestamp)})
	return nil
}

// OnUnknownCommandMessage handles server-to-client commands the library has
// no dedicated callback for. onStatus carries the NetStream lifecycle codes
// this player reacts to.
func (h *handler) OnUnknownCommandMessage(timestamp uint32, cmd *rtmpmsg.CommandMessage) error {
	if cmd.CommandName != "onStatus" {
		h.log.Debug("ignoring command", "name", cmd.CommandName)
		return nil
	}

	code := onStatusCode(cmd.Body)
	h.log.Info("onStatus", "code", code)

	switch code {
	case "NetStream.Play.Start":
		h.conn.emitStatus(transport.StatusPlayStart)
	case "NetStream.Play.StreamNotFound", "NetStream.Play.Failed":
		h.conn.fail(&StreamError{Code: code})
	case "NetStream.Play.Stop", "NetStream.Play.UnpublishNotify":
		h.conn.emitStatus(transport.StatusDisconnected)
	}
	return nil
}

// OnUnknownDataMessage handles data messages; onMetaData announces the
// stream geometry and codec ids ahead of the first media tag.
func (h *handler) OnUnknownDataMessage(timestamp uint32, data *rtmpmsg.DataMessage) error {
	if data.Name != "onMetaData" {
		h.log.Debug("ignoring data message", "name", data.Name)
		return nil
	}

	meta := decodeMetaData(data.Body)
	if meta != nil {
		h.conn.emitMetadata(meta)
	}
	return nil
}

func (h *handler) OnClose() {
	h.conn.onClosed()
}

// onStatusCode extracts the info-object "code" field from an onStatus
// command body. The body is AMF0: a transaction id, a null, then the info
// object.
func onStatusCode(body io.Reader) string {
	dec := amf0.NewDecoder(body)
	for i := 0; i < 3; i++ {
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return ""
		}
		obj, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if code, ok := obj["code"].(string); ok {
			return code
		}
	}
	return ""
}

// decodeMetaData extracts the first AMF0 object or ECMA array from an
// onMetaData body.
func decodeMetaData(body io.Reader) transport.MetaData {
	dec := amf0.NewDecoder(body)
	for i := 0; i < 3; i++ {
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil
		}
		if obj, ok := v.(map[string]interface{}); ok {
			return transport.MetaData(obj)
		}
	}
	return nil
}
