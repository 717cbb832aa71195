package transcriber

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/Vir-8/callrelay/pkg/logger"
)

// eventRecorder collects transcript and error callbacks
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	errors []error
	ready  int
	closed int
}

func (r *eventRecorder) callbacks() Callbacks {
	return Callbacks{
		OnReady:      func() { r.mu.Lock(); r.ready++; r.mu.Unlock() },
		OnTranscript: func(e Event) { r.mu.Lock(); r.events = append(r.events, e); r.mu.Unlock() },
		OnError:      func(err error) { r.mu.Lock(); r.errors = append(r.errors, err); r.mu.Unlock() },
		OnClose:      func() { r.mu.Lock(); r.closed++; r.mu.Unlock() },
	}
}

func (r *eventRecorder) allEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) allErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errors))
	copy(out, r.errors)
	return out
}

func deepgramTestConfig() Config {
	return Config{
		Provider:   "deepgram",
		Language:   "en",
		Encoding:   "mulaw",
		SampleRate: 8000,
		Keywords:   []string{"invoice", "refund"},
		Deepgram: DeepgramConfig{
			APIKey:         "dg-test-key",
			URL:            "wss://api.deepgram.com/v1/listen",
			InterimResults: true,
			Punctuate:      true,
		},
	}
}

func TestDeepgram_BuildURL(t *testing.T) {
	c := newDeepgramClient(deepgramTestConfig(), Callbacks{}, logger.NewNop())

	endpoint, err := c.buildURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		t.Fatalf("failed to parse built URL: %v", err)
	}

	q := u.Query()
	if got := q.Get("encoding"); got != "mulaw" {
		t.Errorf("expected encoding mulaw, got %q", got)
	}
	if got := q.Get("sample_rate"); got != "8000" {
		t.Errorf("expected sample_rate 8000, got %q", got)
	}
	if got := q.Get("language"); got != "en" {
		t.Errorf("expected language en, got %q", got)
	}
	if got := q.Get("interim_results"); got != "true" {
		t.Errorf("expected interim_results true, got %q", got)
	}
	if got := q.Get("punctuate"); got != "true" {
		t.Errorf("expected punctuate true, got %q", got)
	}
	keywords := q["keywords"]
	if len(keywords) != 2 || keywords[0] != "invoice" || keywords[1] != "refund" {
		t.Errorf("expected keywords [invoice refund], got %v", keywords)
	}
}

func TestDeepgram_ConnectRequiresAPIKey(t *testing.T) {
	config := deepgramTestConfig()
	config.Deepgram.APIKey = ""
	c := newDeepgramClient(config, Callbacks{}, logger.NewNop())

	if err := c.Connect(context.Background()); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestDeepgram_HandleMessage_PartialAndFinal(t *testing.T) {
	rec := &eventRecorder{}
	c := newDeepgramClient(deepgramTestConfig(), rec.callbacks(), logger.NewNop())

	c.handleMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"start": 4.5,
		"channel": {"alternatives": [{"transcript": "hello wor", "confidence": 0.82}]}
	}`))
	c.handleMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"start": 4.5,
		"channel": {"alternatives": [{"transcript": "hello world", "confidence": 0.97}]}
	}`))

	events := rec.allEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if events[0].Finality != Partial {
		t.Errorf("expected partial finality, got %v", events[0].Finality)
	}
	if events[0].Text != "hello wor" {
		t.Errorf("expected partial text, got %q", events[0].Text)
	}
	if events[1].Finality != Final {
		t.Errorf("expected final finality, got %v", events[1].Finality)
	}
	if events[1].Provider != "deepgram" {
		t.Errorf("expected provider deepgram, got %q", events[1].Provider)
	}
	// Partial and final updates of one utterance share the start-offset ID
	if events[0].ID != events[1].ID {
		t.Errorf("expected matching IDs, got %q vs %q", events[0].ID, events[1].ID)
	}
	if events[0].ID != "4.50" {
		t.Errorf("expected ID 4.50, got %q", events[0].ID)
	}
}

func TestDeepgram_HandleMessage_SkipsEmptyAndNonResult(t *testing.T) {
	rec := &eventRecorder{}
	c := newDeepgramClient(deepgramTestConfig(), rec.callbacks(), logger.NewNop())

	// Silence interim: alternatives present but transcript empty
	c.handleMessage([]byte(`{"type":"Results","is_final":false,"start":1.0,"channel":{"alternatives":[{"transcript":""}]}}`))
	// Metadata frame: no alternatives at all
	c.handleMessage([]byte(`{"type":"Metadata","transaction_key":"deprecated"}`))
	// Malformed JSON
	c.handleMessage([]byte(`{{{`))

	if events := rec.allEvents(); len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
	if errs := rec.allErrors(); len(errs) != 0 {
		t.Errorf("expected no error callbacks for skippable frames, got %d", len(errs))
	}
}

func TestDeepgram_SendAudioBeforeOpenIsDropped(t *testing.T) {
	c := newDeepgramClient(deepgramTestConfig(), Callbacks{}, logger.NewNop())

	// Must not panic with no connection
	c.SendAudio([]byte{0x01, 0x02})
}

func TestDeepgram_CloseBeforeConnect(t *testing.T) {
	c := newDeepgramClient(deepgramTestConfig(), Callbacks{}, logger.NewNop())

	if err := c.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	// Idempotent
	if err := c.Close(); err != nil {
		t.Errorf("unexpected error on second close: %v", err)
	}
}

func TestNewClient_ProviderSelection(t *testing.T) {
	config := deepgramTestConfig()

	client, err := NewClient(config, Callbacks{}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*deepgramClient); !ok {
		t.Errorf("expected deepgram client, got %T", client)
	}

	config.Provider = "speechmatics"
	client, err = NewClient(config, Callbacks{}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.(*speechmaticsClient); !ok {
		t.Errorf("expected speechmatics client, got %T", client)
	}

	config.Provider = "whisper"
	if _, err := NewClient(config, Callbacks{}, logger.NewNop()); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
