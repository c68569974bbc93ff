package chat

import (
	"encoding/json"
	"fmt"
)

// Envelope types sent to clients.
const (
	EnvelopeMessage = "message"
	EnvelopeSystem  = "system"
)

// Envelope is one node-to-client line.
//
// Chat envelopes carry the full message; system envelopes (join/leave
// notices) only carry Notice and Timestamp.
type Envelope struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	Message   string `json:"message,omitempty"`
	Notice    string `json:"text,omitempty"`
	Lamport   int64  `json:"lamport,omitempty"`
	ServerID  string `json:"server_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MessageEnvelope wraps a chat message for client delivery.
func MessageEnvelope(m Message) Envelope {
	return Envelope{
		Type:      EnvelopeMessage,
		User:      m.User,
		Message:   m.Text,
		Lamport:   m.Lamport,
		ServerID:  m.Origin,
		Timestamp: m.Timestamp,
	}
}

// SystemEnvelope builds a system notice.
func SystemEnvelope(notice, timestamp string) Envelope {
	return Envelope{Type: EnvelopeSystem, Notice: notice, Timestamp: timestamp}
}

// PushResult is the reply to a peer push.
type PushResult struct {
	Status       string `json:"status"`
	ServerID     string `json:"server_id"`
	LamportLocal int64  `json:"lamport_local"`
	Inserted     bool   `json:"inserted"`
}

// Push statuses.
const (
	PushStored    = "stored"
	PushDuplicate = "duplicate"
)

// SyncResponse is the reply to a sync or history request.
type SyncResponse struct {
	Messages []Message `json:"messages"`
}

// HeartbeatResponse is the reply to a liveness probe.
type HeartbeatResponse struct {
	Status   string `json:"status"`
	ServerID string `json:"server_id"`
}

// ErrorResponse is the body of a failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EncodeLine marshals v as one newline-terminated JSON line.
func EncodeLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode line: %w", err)
	}
	return append(b, '\n'), nil
}
