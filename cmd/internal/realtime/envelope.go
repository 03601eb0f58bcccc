package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the envelope format version.
const Version = 1

// Envelope types.
const (
	// TypeHello is sent by the client after connecting.
	TypeHello = "hello"
	// TypeHelloAck answers hello with the unseen count.
	TypeHelloAck = "hello.ack"
	// TypeAlert carries one alert to the client.
	TypeAlert = "alert"
	// TypeSeen is sent by the client to mark alerts up to a time as read.
	TypeSeen = "seen"
	// TypeError reports a protocol problem to the client.
	TypeError = "error"
)

// Envelope is the frame exchanged on the alert stream.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloAckPayload answers hello.
type HelloAckPayload struct {
	Session string `json:"session"`
	Unseen  int    `json:"unseen"`
}

// SeenPayload marks alerts created at or before Seen (unix millis) as read.
type SeenPayload struct {
	Seen int64 `json:"seen"`
}

// ErrorPayload describes a rejected frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validate checks the fields every inbound envelope must carry.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported version: %d", e.V)
	}
	switch e.Type {
	case TypeHello, TypeSeen:
	case "":
		return errors.New("missing type")
	default:
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	return nil
}
