package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest FrameType = "request"
	FrameTypeEvent   FrameType = "event"
)

// Frame is the envelope exchanged between client and server over WebSocket.
// Inbound requests carry the inbound event name in Method; outbound pushes
// carry the outbound event name.
type Frame struct {
	Type    FrameType       `json:"type"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
