package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vir-8/callrelay/pkg/logger"
)

const speechmaticsProviderName = "speechmatics"

// speechmaticsClient streams audio to the Speechmatics realtime API.
//
// Wire dialect: a fixed endpoint with a bearer token; one StartRecognition
// configuration frame must be sent before any audio; every incoming frame is
// tagged JSON dispatched on its "message" field; the stream is ended with an
// explicit EndOfStream message carrying the number of audio chunks sent.
type speechmaticsClient struct {
	config    Config
	callbacks Callbacks
	logger    *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	open      bool
	ended     bool
	audioSeq  int // count of binary frames sent, reported as last_seq_no
	closeOnce sync.Once
}

func newSpeechmaticsClient(config Config, callbacks Callbacks, log *logger.Logger) *speechmaticsClient {
	return &speechmaticsClient{
		config:    config,
		callbacks: callbacks,
		logger:    log.Named("speechmatics"),
	}
}

// startRecognitionMessage is the configuration frame sent immediately on open
type startRecognitionMessage struct {
	Message             string              `json:"message"`
	AudioFormat         audioFormat         `json:"audio_format"`
	TranscriptionConfig transcriptionConfig `json:"transcription_config"`
}

type audioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type transcriptionConfig struct {
	Language        string       `json:"language"`
	EnablePartials  bool         `json:"enable_partials"`
	MaxDelay        float64      `json:"max_delay"`
	OperatingPoint  string       `json:"operating_point"`
	AdditionalVocab []vocabEntry `json:"additional_vocab,omitempty"`
}

type vocabEntry struct {
	Content string `json:"content"`
}

type endOfStreamMessage struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

// speechmaticsMessage is the envelope of every server frame
type speechmaticsMessage struct {
	Message  string `json:"message"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Metadata *struct {
		Transcript string  `json:"transcript"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
	} `json:"metadata,omitempty"`
}

// Connect starts the websocket dial and read loop in the background
func (c *speechmaticsClient) Connect(ctx context.Context) error {
	if c.config.Speechmatics.APIToken == "" {
		return fmt.Errorf("speechmatics API token is required")
	}

	go c.run(ctx)
	return nil
}

func (c *speechmaticsClient) run(ctx context.Context) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.Speechmatics.APIToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.Speechmatics.URL, header)
	if err != nil {
		c.logger.Error("Failed to connect to Speechmatics", logger.Error(err))
		c.callbacks.emitError(c.logger, err)
		c.callbacks.emitClose(c.logger)
		return
	}

	c.mu.Lock()
	if c.ended {
		// Aborted while dialing
		c.mu.Unlock()
		conn.Close()
		c.callbacks.emitClose(c.logger)
		return
	}
	c.conn = conn

	// The configuration frame must precede any audio
	if err := conn.WriteJSON(c.startRecognition()); err != nil {
		c.mu.Unlock()
		c.logger.Error("Failed to send StartRecognition", logger.Error(err))
		conn.Close()
		c.callbacks.emitError(c.logger, err)
		c.callbacks.emitClose(c.logger)
		return
	}
	c.open = true
	c.mu.Unlock()

	c.logger.Info("Connected to Speechmatics streaming API",
		logger.String("language", c.config.Language),
		logger.String("operating_point", c.config.Speechmatics.OperatingPoint))
	c.callbacks.emitReady(c.logger)

	c.readLoop(conn)
}

func (c *speechmaticsClient) startRecognition() startRecognitionMessage {
	msg := startRecognitionMessage{
		Message: "StartRecognition",
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   c.config.Encoding,
			SampleRate: c.config.SampleRate,
		},
		TranscriptionConfig: transcriptionConfig{
			Language:       c.config.Language,
			EnablePartials: c.config.Speechmatics.EnablePartials,
			MaxDelay:       float64(c.config.Speechmatics.MaxDelaySec),
			OperatingPoint: c.config.Speechmatics.OperatingPoint,
		},
	}
	for _, keyword := range c.config.Keywords {
		msg.TranscriptionConfig.AdditionalVocab = append(
			msg.TranscriptionConfig.AdditionalVocab, vocabEntry{Content: keyword})
	}
	return msg
}

func (c *speechmaticsClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		conn.Close()
		c.callbacks.emitClose(c.logger)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Speechmatics connection closed unexpectedly", logger.Error(err))
				c.callbacks.emitError(c.logger, err)
			}
			return
		}
		if done := c.handleMessage(data); done {
			return
		}
	}
}

// handleMessage dispatches one server frame. Returns true when the server has
// signalled the end of the transcript and the socket should be closed.
func (c *speechmaticsClient) handleMessage(data []byte) bool {
	var msg speechmaticsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("Failed to parse Speechmatics message",
			logger.Error(err),
			logger.String("payload", preview(data)))
		return false
	}

	switch msg.Message {
	case "AddTranscript", "AddPartialTranscript":
		c.handleTranscript(&msg)
	case "Error":
		err := fmt.Errorf("speechmatics error: %s: %s", msg.Type, msg.Reason)
		c.logger.Error("Speechmatics reported an error",
			logger.String("type", msg.Type),
			logger.String("reason", msg.Reason))
		c.callbacks.emitError(c.logger, err)
	case "Warning":
		c.logger.Warn("Speechmatics warning",
			logger.String("type", msg.Type),
			logger.String("reason", msg.Reason))
	case "Info":
		c.logger.Info("Speechmatics info",
			logger.String("type", msg.Type),
			logger.String("reason", msg.Reason))
	case "RecognitionStarted":
		c.logger.Info("Speechmatics recognition started", logger.String("id", msg.ID))
	case "EndOfTranscript":
		c.logger.Info("Speechmatics end of transcript received")
		return true
	case "AudioAdded":
		// Ack for a sent audio chunk; nothing to do
	default:
		c.logger.Warn("Unknown Speechmatics message type",
			logger.String("message", msg.Message),
			logger.String("payload", preview(data)))
	}

	return false
}

func (c *speechmaticsClient) handleTranscript(msg *speechmaticsMessage) {
	if msg.Metadata == nil {
		c.logger.Warn("Speechmatics transcript message without metadata",
			logger.String("message", msg.Message))
		return
	}
	if msg.Metadata.Transcript == "" {
		return
	}

	finality := Partial
	if msg.Message == "AddTranscript" {
		finality = Final
	}

	event := Event{
		// The utterance start offset is stable across its partial/final updates
		ID:        strconv.FormatFloat(msg.Metadata.StartTime, 'f', 2, 64),
		Text:      msg.Metadata.Transcript,
		Finality:  finality,
		Provider:  speechmaticsProviderName,
		Timestamp: time.Now().UTC(),
	}

	c.callbacks.emitTranscript(c.logger, event)
}

// SendAudio forwards one raw audio frame. Drops (with a log entry) when the
// connection is not open; buffering before readiness is the caller's job.
func (c *speechmaticsClient) SendAudio(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.ended {
		c.logger.Debug("Dropping audio frame - Speechmatics connection not open",
			logger.Int("frame_bytes", len(frame)))
		return
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.logger.Warn("Failed to send audio to Speechmatics", logger.Error(err))
		c.open = false
		return
	}
	c.audioSeq++
}

// EndStream sends the explicit end-of-stream message with the sequence number
// of the last audio chunk. The socket closes once the server acknowledges with
// EndOfTranscript (or on its own close).
func (c *speechmaticsClient) EndStream() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return
	}
	c.ended = true

	if c.conn == nil {
		return
	}

	if c.open {
		msg := endOfStreamMessage{Message: "EndOfStream", LastSeqNo: c.audioSeq}
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Warn("Failed to send EndOfStream", logger.Error(err))
			c.conn.Close()
		}
	} else {
		c.conn.Close()
	}
}

// Close aborts the connection without waiting for EndOfTranscript
func (c *speechmaticsClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.ended = true
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
	})
	return nil
}
