package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vir-8/callrelay/pkg/logger"
)

const deepgramProviderName = "deepgram"

// deepgramClient streams audio to the Deepgram live transcription API.
//
// Wire dialect: all session parameters travel in the connection URL's query
// string and a token header; there is no configuration frame. Audio is sent
// as raw binary frames and the stream is ended by closing the socket.
type deepgramClient struct {
	config    Config
	callbacks Callbacks
	logger    *logger.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	open  bool
	ended bool

	closeOnce sync.Once
}

func newDeepgramClient(config Config, callbacks Callbacks, log *logger.Logger) *deepgramClient {
	return &deepgramClient{
		config:    config,
		callbacks: callbacks,
		logger:    log.Named("deepgram"),
	}
}

// Connect starts the websocket dial and read loop in the background
func (c *deepgramClient) Connect(ctx context.Context) error {
	if c.config.Deepgram.APIKey == "" {
		return fmt.Errorf("deepgram API key is required")
	}

	endpoint, err := c.buildURL()
	if err != nil {
		return fmt.Errorf("failed to build deepgram URL: %w", err)
	}

	go c.run(ctx, endpoint)
	return nil
}

// buildURL encodes the audio format, language and keyword boost list as
// query parameters
func (c *deepgramClient) buildURL() (string, error) {
	u, err := url.Parse(c.config.Deepgram.URL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("encoding", c.config.Encoding)
	q.Set("sample_rate", strconv.Itoa(c.config.SampleRate))
	q.Set("language", c.config.Language)
	q.Set("interim_results", strconv.FormatBool(c.config.Deepgram.InterimResults))
	q.Set("punctuate", strconv.FormatBool(c.config.Deepgram.Punctuate))
	for _, keyword := range c.config.Keywords {
		q.Add("keywords", keyword)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *deepgramClient) run(ctx context.Context, endpoint string) {
	header := http.Header{}
	header.Set("Authorization", "Token "+c.config.Deepgram.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		c.logger.Error("Failed to connect to Deepgram", logger.Error(err))
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
	c.open = true
	c.mu.Unlock()

	c.logger.Info("Connected to Deepgram streaming API")
	c.callbacks.emitReady(c.logger)

	c.readLoop(conn)
}

func (c *deepgramClient) readLoop(conn *websocket.Conn) {
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
				c.logger.Warn("Deepgram connection closed unexpectedly", logger.Error(err))
				c.callbacks.emitError(c.logger, err)
			}
			return
		}
		c.handleMessage(data)
	}
}

// deepgramResult is the subset of the Deepgram live result frame we consume
type deepgramResult struct {
	Type    string  `json:"type"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (c *deepgramClient) handleMessage(data []byte) {
	var msg deepgramResult
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("Failed to parse Deepgram message",
			logger.Error(err),
			logger.String("payload", preview(data)))
		return
	}

	// Metadata and non-result frames carry no alternatives
	if len(msg.Channel.Alternatives) == 0 {
		c.logger.Debug("Ignoring Deepgram message without alternatives",
			logger.String("type", msg.Type))
		return
	}

	text := msg.Channel.Alternatives[0].Transcript
	if text == "" {
		// Deepgram emits empty interim results during silence
		return
	}

	finality := Partial
	if msg.IsFinal {
		finality = Final
	}

	event := Event{
		// The utterance start offset is stable across its partial/final updates
		ID:        strconv.FormatFloat(msg.Start, 'f', 2, 64),
		Text:      text,
		Finality:  finality,
		Provider:  deepgramProviderName,
		Timestamp: time.Now().UTC(),
	}

	c.callbacks.emitTranscript(c.logger, event)
}

// SendAudio forwards one raw audio frame. Drops (with a log entry) when the
// connection is not open; buffering before readiness is the caller's job.
func (c *deepgramClient) SendAudio(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open || c.ended {
		c.logger.Debug("Dropping audio frame - Deepgram connection not open",
			logger.Int("frame_bytes", len(frame)))
		return
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.logger.Warn("Failed to send audio to Deepgram", logger.Error(err))
		c.open = false
	}
}

// EndStream ends the recognition stream. Deepgram has no explicit end-of-stream
// message; closing the socket finalizes any pending transcript.
func (c *deepgramClient) EndStream() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return
	}
	c.ended = true

	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
	}
}

// Close aborts the connection without ceremony
func (c *deepgramClient) Close() error {
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
