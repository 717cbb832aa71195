package transcriber

import (
	"context"
	"fmt"
	"time"

	"github.com/Vir-8/callrelay/pkg/logger"
)

// Finality marks a transcript event as superseding or definitive
type Finality string

const (
	// Partial is an interim hypothesis that a later event with the same ID replaces
	Partial Finality = "partial"
	// Final is the definitive transcript for an utterance
	Final Finality = "final"
)

// Event is the provider-agnostic representation of a recognized utterance.
// ID is stable across the partial/final updates of one utterance so that
// consumers can replace a prior partial instead of appending a duplicate.
type Event struct {
	ID        string
	Text      string
	Finality  Finality
	Provider  string
	Timestamp time.Time
}

// Callbacks are invoked from the client's read goroutine. All fields are
// optional; a panicking callback is logged, never propagated.
type Callbacks struct {
	OnReady      func()
	OnTranscript func(Event)
	OnError      func(error)
	OnClose      func()
}

// Client manages one outbound websocket connection to a streaming speech
// recognition provider.
//
// Connect begins the connection asynchronously and returns before the
// provider is ready; the caller must buffer audio until OnReady fires.
// SendAudio never returns an error: a send while the connection is not open
// is logged and dropped (queueing before readiness is the caller's job).
// EndStream and Close are idempotent and safe to call even if Connect was
// never called or failed.
type Client interface {
	Connect(ctx context.Context) error
	SendAudio(frame []byte)
	EndStream()
	Close() error
}

// Config carries the provider-independent audio/session settings plus the
// per-provider credentials and tuning
type Config struct {
	Provider     string
	Language     string
	Encoding     string
	SampleRate   int
	Keywords     []string
	Deepgram     DeepgramConfig
	Speechmatics SpeechmaticsConfig
}

// DeepgramConfig represents Deepgram connection settings
type DeepgramConfig struct {
	APIKey         string
	URL            string
	InterimResults bool
	Punctuate      bool
}

// SpeechmaticsConfig represents Speechmatics connection settings
type SpeechmaticsConfig struct {
	APIToken       string
	URL            string
	EnablePartials bool
	MaxDelaySec    int
	OperatingPoint string
}

// NewClient creates a client for the configured provider
func NewClient(config Config, callbacks Callbacks, logger *logger.Logger) (Client, error) {
	switch config.Provider {
	case "deepgram":
		return newDeepgramClient(config, callbacks, logger), nil
	case "speechmatics":
		return newSpeechmaticsClient(config, callbacks, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", config.Provider)
	}
}

// The emit helpers below are nil-safe and are what clients actually call.

func (cb Callbacks) emitReady(log *logger.Logger) {
	guard(log, "OnReady", cb.OnReady)
}

func (cb Callbacks) emitTranscript(log *logger.Logger, event Event) {
	if cb.OnTranscript == nil {
		return
	}
	guard(log, "OnTranscript", func() { cb.OnTranscript(event) })
}

func (cb Callbacks) emitError(log *logger.Logger, err error) {
	if cb.OnError == nil {
		return
	}
	guard(log, "OnError", func() { cb.OnError(err) })
}

func (cb Callbacks) emitClose(log *logger.Logger) {
	guard(log, "OnClose", cb.OnClose)
}

// guard runs a callback and converts a panic into a log entry so a
// misbehaving consumer cannot kill a provider read loop
func guard(log *logger.Logger, name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Callback panic",
				logger.String("callback", name),
				logger.Any("panic", r))
		}
	}()
	fn()
}

// preview returns a bounded prefix of a payload for log messages
func preview(data []byte) string {
	const max = 100
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
