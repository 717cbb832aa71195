package relay

import "time"

// State is the lifecycle state of a relay session
type State int

const (
	// StateAwaitingUpstream buffers inbound audio until the transcription
	// provider confirms its connection is open
	StateAwaitingUpstream State = iota
	// StateStreaming forwards inbound audio directly to the provider
	StateStreaming
	// StateDraining has no more inbound audio; the provider is finishing
	// any pending transcripts
	StateDraining
	// StateClosed is terminal; all session resources are released
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingUpstream:
		return "awaiting_upstream"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Broadcaster fans out a message to all connected observers. Implemented by
// the websocket server.
type Broadcaster interface {
	Broadcast(message interface{})
}

// TranscriptionMessage is the observer wire frame for one transcript event.
// TranscriptionID is stable across the partial/final updates of an utterance
// so observers can replace a prior partial in place.
type TranscriptionMessage struct {
	Type            string `json:"type"` // always "transcription"
	Text            string `json:"text"`
	Source          string `json:"source"`      // provider name
	MessageType     string `json:"messageType"` // "partial" or "final"
	Timestamp       string `json:"timestamp"`   // ISO-8601
	TranscriptionID string `json:"transcriptionId"`
}

// ConferenceStatusMessage is the observer wire frame for session lifecycle
type ConferenceStatusMessage struct {
	Type      string `json:"type"`   // always "conference_status"
	Status    string `json:"status"` // e.g. "ended"
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"` // ISO-8601
}

// mediaStreamFrame is the inbound telephony websocket frame. Only "media"
// events carry audio; every other event type is ignored by the relay.
type mediaStreamFrame struct {
	Event string `json:"event"`
	Media *struct {
		Payload string `json:"payload"` // base64 encoded mu-law audio
	} `json:"media,omitempty"`
}

func isoTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
