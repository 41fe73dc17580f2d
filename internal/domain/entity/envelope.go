package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// PayloadKind tags the variant carried by a RetryEnvelope. Decoding matches
// on the tag exhaustively; there is no attribute probing.
type PayloadKind string

const (
	KindUploadEvent PayloadKind = "upload_event"
	KindCompletion  PayloadKind = "completion"
)

// RetryEnvelope wraps a failed payload for redelivery. Attempt starts at 1 on
// the first delivery and is incremented on every redrive; past the configured
// maximum the envelope moves to the dead-letter queue instead.
type RetryEnvelope struct {
	Kind        PayloadKind     `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	FirstSeenAt time.Time       `json:"first_seen_at"`
}

// WrapUploadEvent builds a first-attempt envelope around an upload event.
func WrapUploadEvent(ev UploadEvent) (*RetryEnvelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal upload event: %w", err)
	}
	return &RetryEnvelope{
		Kind:        KindUploadEvent,
		Payload:     payload,
		Attempt:     1,
		FirstSeenAt: ev.ReceivedAt,
	}, nil
}

// WrapCompletion builds a first-attempt envelope around a completion
// notification.
func WrapCompletion(n CompletionNotification) (*RetryEnvelope, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal completion notification: %w", err)
	}
	return &RetryEnvelope{
		Kind:        KindCompletion,
		Payload:     payload,
		Attempt:     1,
		FirstSeenAt: time.Now().UTC(),
	}, nil
}

// WrapRaw builds an envelope around a body that failed decoding, preserving
// it for forensics on the dead-letter queue. The body is re-encoded as a JSON
// string so the envelope stays marshalable whatever bytes arrived.
func WrapRaw(kind PayloadKind, body []byte) *RetryEnvelope {
	payload, err := json.Marshal(string(body))
	if err != nil {
		payload = json.RawMessage(`""`)
	}
	return &RetryEnvelope{
		Kind:        kind,
		Payload:     payload,
		Attempt:     1,
		FirstSeenAt: time.Now().UTC(),
	}
}

// Next returns a copy scheduled for one more delivery.
func (e *RetryEnvelope) Next() *RetryEnvelope {
	return &RetryEnvelope{
		Kind:        e.Kind,
		Payload:     e.Payload,
		Attempt:     e.Attempt + 1,
		FirstSeenAt: e.FirstSeenAt,
	}
}

// UploadEvent decodes the payload of a KindUploadEvent envelope.
func (e *RetryEnvelope) UploadEvent() (UploadEvent, error) {
	if e.Kind != KindUploadEvent {
		return UploadEvent{}, fmt.Errorf("envelope kind is %q, not %q", e.Kind, KindUploadEvent)
	}
	var ev UploadEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return UploadEvent{}, fmt.Errorf("unmarshal upload event payload: %w", err)
	}
	return ev, nil
}

// Completion decodes the payload of a KindCompletion envelope.
func (e *RetryEnvelope) Completion() (CompletionNotification, error) {
	if e.Kind != KindCompletion {
		return CompletionNotification{}, fmt.Errorf("envelope kind is %q, not %q", e.Kind, KindCompletion)
	}
	var n CompletionNotification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return CompletionNotification{}, fmt.Errorf("unmarshal completion payload: %w", err)
	}
	return n, nil
}

// DecodeEnvelope parses a redelivered envelope, rejecting unknown kinds.
func DecodeEnvelope(body []byte) (*RetryEnvelope, error) {
	var e RetryEnvelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, Permanent("decode envelope", fmt.Errorf("unmarshal retry envelope: %w", err))
	}
	switch e.Kind {
	case KindUploadEvent, KindCompletion:
	default:
		return nil, Permanentf("decode envelope", "unknown payload kind %q", e.Kind)
	}
	if e.Attempt < 1 {
		e.Attempt = 1
	}
	return &e, nil
}

// IsEnvelope reports whether body looks like a RetryEnvelope rather than a
// first-delivery document. First deliveries come straight from the object
// store or the completion exchange and carry no kind tag.
func IsEnvelope(body []byte) bool {
	var probe struct {
		Kind PayloadKind `json:"kind"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Kind == KindUploadEvent || probe.Kind == KindCompletion
}
