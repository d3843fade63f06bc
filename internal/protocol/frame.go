package protocol

import (
	"encoding/json"
	"time"
)

// Frame types carried over the websocket transport.
const (
	FrameTitle    = "title"
	FrameResponse = "response"
	FrameUpdate   = "update"
	FrameClose    = "close"
	FrameError    = "error"
)

// Frame wraps bridge traffic on the websocket transport. A title frame
// carries the page title as a JSON string; response and update frames carry
// the envelope the host would otherwise inject into the page.
type Frame struct {
	MsgID     string          `json:"msg_id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewFrame builds a frame stamped with the current time.
func NewFrame(msgID, typ, sessionID string, payload any) Frame {
	return Frame{
		MsgID:     msgID,
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   MustJSON(payload),
	}
}
