// Package telephony implements the provider media-stream protocol: JSON
// events over a single WebSocket carrying base64 µ-law audio at 8 kHz, with
// clear and mark control messages and strict 20 ms outbound pacing.
package telephony

import "encoding/json"

// Audio framing constants for the wire format.
const (
	WireSampleRate = 8000  // µ-law audio on the wire
	PipeSampleRate = 16000 // PCM delivered to VAD and STT
	WireFrameBytes = 160   // one 20 ms µ-law frame
)

// Event names used by the media-stream protocol, both directions.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
	EventClear     = "clear"
)

// Envelope is a single JSON message on the media WebSocket. Fields other than
// Event are populated depending on the event type.
type Envelope struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
}

// StartPayload carries the stream identifiers and any custom parameters the
// originating application attached to the call.
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one base64-encoded µ-law audio frame.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// MarkPayload names a playback position marker.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload signals the end of the stream.
type StopPayload struct {
	CallSID string `json:"callSid,omitempty"`
}

func marshalMedia(streamSID, payload string) ([]byte, error) {
	return json.Marshal(Envelope{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: payload},
	})
}

func marshalClear(streamSID string) ([]byte, error) {
	return json.Marshal(Envelope{Event: EventClear, StreamSID: streamSID})
}

func marshalMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(Envelope{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	})
}
