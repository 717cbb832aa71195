package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vir-8/callrelay/internal/transcriber"
	"github.com/Vir-8/callrelay/pkg/logger"
)

// SessionConfig carries the per-session tuning values
type SessionConfig struct {
	// ConnectTimeout bounds how long a session buffers audio while waiting
	// for the upstream provider to become ready
	ConnectTimeout time.Duration
	// DrainTimeout bounds how long a session waits for the provider to
	// deliver pending transcripts after the call ends
	DrainTimeout time.Duration
	// MaxQueuedFrames caps the pre-readiness audio buffer
	MaxQueuedFrames int
}

// newClientFunc builds an upstream transcriber client wired to the given
// callbacks
type newClientFunc func(callbacks transcriber.Callbacks) (transcriber.Client, error)

// Session bridges one phone call's media stream to an upstream transcription
// provider and pushes the resulting transcript events to the observer hub.
//
// It owns exactly one inbound media socket, one frame queue and one upstream
// client; none of these are ever touched by another session. All state
// transitions go through a single mutex, which is also what guarantees the
// audio ordering invariant across the queue-then-pass-through switch: the
// flush holds the lock, so a frame arriving mid-flush waits and is then sent
// directly, never ahead of queued frames.
type Session struct {
	id       string
	hub      Broadcaster
	config   SessionConfig
	logger   *logger.Logger
	onClosed func(id string)

	mu           sync.Mutex
	state        State
	queue        *FrameQueue
	client       transcriber.Client
	conn         *websocket.Conn
	upstreamDone bool
	connectTimer *time.Timer
	drainTimer   *time.Timer
}

func newSession(id string, hub Broadcaster, config SessionConfig, onClosed func(string), log *logger.Logger) *Session {
	return &Session{
		id:       id,
		hub:      hub,
		config:   config,
		logger:   log.Named("relay-session").With(logger.String("session_id", id)),
		onClosed: onClosed,
		state:    StateAwaitingUpstream,
		queue:    NewFrameQueue(config.MaxQueuedFrames),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// callbacks wires the upstream client's events into the session state machine
func (s *Session) callbacks() transcriber.Callbacks {
	return transcriber.Callbacks{
		OnReady:      s.onUpstreamReady,
		OnTranscript: s.onTranscript,
		OnError:      s.onUpstreamError,
		OnClose:      s.onUpstreamClose,
	}
}

// Run attaches the inbound media socket, starts the upstream connection and
// blocks reading media frames until the telephony side hangs up. It must be
// called at most once.
func (s *Session) Run(ctx context.Context, conn *websocket.Conn, newClient newClientFunc) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("session %s is already closed", s.id)
	}
	if s.conn != nil {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("session %s already has a media connection", s.id)
	}
	s.conn = conn

	client, err := newClient(s.callbacks())
	if err != nil {
		closed := s.closeLocked()
		s.mu.Unlock()
		if closed {
			s.announceClosed()
		}
		return fmt.Errorf("failed to create transcriber client: %w", err)
	}
	s.client = client
	s.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		s.logger.Error("Failed to start upstream connection", logger.Error(err))
		s.mu.Lock()
		closed := s.closeLocked()
		s.mu.Unlock()
		if closed {
			s.announceClosed()
		}
		client.Close()
		return fmt.Errorf("failed to start upstream connection: %w", err)
	}

	s.startConnectTimer()
	s.logger.Info("Relay session started")

	s.readLoop(conn)
	return nil
}

// readLoop consumes the inbound media socket until it closes
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Media stream read ended", logger.Error(err))
			}
			break
		}
		s.handleInboundMessage(data)
	}
	s.handleInboundClosed()
}

// handleInboundMessage parses one telephony frame. Only "media" events are
// consumed; call lifecycle events are ignored here. A malformed frame is
// dropped and processing continues.
func (s *Session) handleInboundMessage(data []byte) {
	var frame mediaStreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Error("Failed to parse media stream frame",
			logger.Error(err),
			logger.String("payload", framePreview(data)))
		return
	}

	if frame.Event != "media" || frame.Media == nil || frame.Media.Payload == "" {
		s.logger.Debug("Ignoring non-media stream event", logger.String("event", frame.Event))
		return
	}

	audio, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
	if err != nil {
		s.logger.Error("Failed to decode media payload", logger.Error(err))
		return
	}

	s.HandleAudioFrame(audio)
}

// HandleAudioFrame routes one raw audio frame according to the session state:
// queued before the upstream is ready, forwarded directly once streaming,
// dropped after the call has ended.
func (s *Session) HandleAudioFrame(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateAwaitingUpstream:
		if s.queue.Push(frame) {
			s.logger.Warn("Audio queue overflow - dropped oldest frame",
				logger.Int("dropped_total", s.queue.Dropped()))
		}
	case StateStreaming:
		s.client.SendAudio(frame)
	default:
		// Draining or Closed: the call is over, nothing to forward
	}
}

// onUpstreamReady flushes the queued audio in FIFO order and switches the
// session to direct pass-through
func (s *Session) onUpstreamReady() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopConnectTimerLocked()

	if s.state != StateAwaitingUpstream {
		// The call ended while the provider was still connecting
		s.logger.Debug("Upstream ready ignored", logger.String("state", s.state.String()))
		return
	}

	frames := s.queue.Drain()
	for _, frame := range frames {
		s.client.SendAudio(frame)
	}
	s.state = StateStreaming

	s.logger.Info("Upstream ready - streaming",
		logger.Int("flushed_frames", len(frames)))
}

// onTranscript converts a canonical transcript event into an observer frame
func (s *Session) onTranscript(event transcriber.Event) {
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return
	}

	s.hub.Broadcast(TranscriptionMessage{
		Type:            "transcription",
		Text:            event.Text,
		Source:          event.Provider,
		MessageType:     string(event.Finality),
		Timestamp:       isoTimestamp(event.Timestamp),
		TranscriptionID: event.ID,
	})
}

// onUpstreamError logs provider-side failures. The session deliberately
// continues: a call must not be torn down because transcription hiccupped.
func (s *Session) onUpstreamError(err error) {
	s.logger.Warn("Upstream transcriber error", logger.Error(err))
}

// onUpstreamClose finishes teardown when the provider connection ends
func (s *Session) onUpstreamClose() {
	s.mu.Lock()
	s.upstreamDone = true

	var closed bool
	switch s.state {
	case StateDraining:
		closed = s.closeLocked()
	case StateAwaitingUpstream, StateStreaming:
		// Mid-call upstream loss: audio and transcripts for the remainder
		// of the call are silently lost, the call itself continues
		s.logger.Warn("Upstream connection closed mid-call",
			logger.String("state", s.state.String()))
	}
	s.mu.Unlock()

	if closed {
		s.announceClosed()
	}
}

// handleInboundClosed reacts to the telephony side hanging up, the sole
// cancellation signal for a session
func (s *Session) handleInboundClosed() {
	s.mu.Lock()
	var closed bool
	switch s.state {
	case StateAwaitingUpstream:
		s.state = StateDraining
		s.logger.Info("Media stream closed before upstream ready - aborting upstream")
		if s.upstreamDone {
			closed = s.closeLocked()
		} else {
			s.client.Close()
			s.startDrainTimerLocked()
		}
	case StateStreaming:
		s.state = StateDraining
		s.logger.Info("Media stream closed - ending upstream stream")
		if s.upstreamDone {
			closed = s.closeLocked()
		} else {
			s.client.EndStream()
			s.startDrainTimerLocked()
		}
	default:
		// Already draining or closed
	}
	s.mu.Unlock()

	if closed {
		s.announceClosed()
	}
}

// closeLocked performs the terminal transition. Callers must hold s.mu and,
// when true is returned, call announceClosed after releasing it.
func (s *Session) closeLocked() bool {
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed

	s.stopConnectTimerLocked()
	if s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
	}
	s.queue.Drain()
	if s.conn != nil {
		s.conn.Close()
	}
	return true
}

// announceClosed broadcasts the session-ended frame and unregisters the
// session. Must be called without holding s.mu.
func (s *Session) announceClosed() {
	s.hub.Broadcast(ConferenceStatusMessage{
		Type:      "conference_status",
		Status:    "ended",
		SessionID: s.id,
		Timestamp: isoTimestamp(time.Now()),
	})

	s.logger.Info("Relay session closed")

	if s.onClosed != nil {
		s.onClosed(s.id)
	}
}

// Close force-terminates the session (used on server shutdown)
func (s *Session) Close() {
	s.mu.Lock()
	client := s.client
	closed := s.closeLocked()
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if closed {
		s.announceClosed()
	}
}

func (s *Session) startConnectTimer() {
	if s.config.ConnectTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingUpstream {
		return
	}
	s.connectTimer = time.AfterFunc(s.config.ConnectTimeout, s.onConnectTimeout)
}

// onConnectTimeout closes a session whose provider never became ready rather
// than buffering audio indefinitely
func (s *Session) onConnectTimeout() {
	s.mu.Lock()
	if s.state != StateAwaitingUpstream {
		s.mu.Unlock()
		return
	}
	s.logger.Warn("Upstream not ready within timeout - closing session",
		logger.Duration("timeout", s.config.ConnectTimeout),
		logger.Int("queued_frames", s.queue.Len()))
	client := s.client
	closed := s.closeLocked()
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if closed {
		s.announceClosed()
	}
}

func (s *Session) stopConnectTimerLocked() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

// startDrainTimerLocked bounds how long a draining session waits for the
// provider to close on its own
func (s *Session) startDrainTimerLocked() {
	if s.config.DrainTimeout <= 0 {
		return
	}
	s.drainTimer = time.AfterFunc(s.config.DrainTimeout, func() {
		s.mu.Lock()
		stuck := s.state == StateDraining && !s.upstreamDone
		client := s.client
		s.mu.Unlock()

		if stuck && client != nil {
			s.logger.Warn("Upstream did not close within drain timeout - aborting")
			client.Close()
		}
	})
}

func framePreview(data []byte) string {
	const max = 100
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
