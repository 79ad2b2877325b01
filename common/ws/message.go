package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Envelope is the typed frame shape used on the metrics push channel.
// Data is left raw so each message type decodes its own payload.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Message types seen on the metrics channel.
const (
	MessageTypeMetrics       = "metrics"
	MessageTypeMetricsUpdate = "metrics_update"
	MessageTypeHeartbeat     = "heartbeat"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)

// ErrNotObject is returned for frames that are not a JSON object.
var ErrNotObject = errors.New("ws: frame is not a JSON object")

// ParseEnvelope decodes a frame. ok is false when the frame is a JSON object
// without a "type" field, which callers treat as a bare payload.
func ParseEnvelope(frame []byte) (env Envelope, ok bool, err error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, false, ErrNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Envelope{}, false, err
	}
	if _, has := fields["type"]; !has {
		return Envelope{}, false, nil
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}
