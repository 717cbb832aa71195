package relay

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Vir-8/callrelay/internal/transcriber"
	"github.com/Vir-8/callrelay/pkg/logger"
)

// Manager tracks the live relay sessions for this process. The call
// orchestrator registers a session before the telephony provider is told
// where to stream, so the media socket always finds its session waiting.
type Manager struct {
	hub           Broadcaster
	sessionConfig SessionConfig
	transcription transcriber.Config
	logger        *logger.Logger
	upgrader      websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a new session manager
func NewManager(hub Broadcaster, sessionConfig SessionConfig, transcription transcriber.Config, log *logger.Logger) *Manager {
	return &Manager{
		hub:           hub,
		sessionConfig: sessionConfig,
		transcription: transcription,
		logger:        log.Named("relay-manager"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Twilio's media stream connections carry no browser origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// Create registers a session in its initial state. It must be called before
// the telephony provider is given the session's stream URL, otherwise the
// provider could connect before the session exists.
func (m *Manager) Create(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok {
		return existing
	}

	session := newSession(id, m.hub, m.sessionConfig, m.remove, m.logger)
	m.sessions[id] = session

	m.logger.Info("Relay session registered",
		logger.String("session_id", id),
		logger.Int("active_sessions", len(m.sessions)))
	return session
}

// Get returns the session with the given id, if registered
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Remove drops a session registration without running its teardown. Used by
// the orchestrator to roll back a registration whose call never started.
func (m *Manager) Remove(id string) {
	m.remove(id)
}

// HandleMediaStream upgrades an inbound telephony media connection and runs
// its relay session until the call ends. A connection for an id the
// orchestrator never registered still gets a session, logged; the telephony
// side is the source of truth for whether a call exists.
func (m *Manager) HandleMediaStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, known := m.Get(sessionID)
	if !known {
		m.logger.Warn("Media stream for unregistered session",
			logger.String("session_id", sessionID))
		session = m.Create(sessionID)
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade media stream connection",
			logger.String("session_id", sessionID),
			logger.Error(err))
		return
	}

	m.logger.Info("Media stream connected", logger.String("session_id", sessionID))

	if err := session.Run(r.Context(), conn, m.newClient); err != nil {
		m.logger.Error("Relay session ended with error",
			logger.String("session_id", sessionID),
			logger.Error(err))
	}
}

// newClient builds an upstream transcriber client for one session
func (m *Manager) newClient(callbacks transcriber.Callbacks) (transcriber.Client, error) {
	return transcriber.NewClient(m.transcription, callbacks, m.logger)
}

// ActiveSessions returns the number of registered sessions
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown force-closes all sessions
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}

	m.logger.Info("Relay manager shut down", logger.Int("closed_sessions", len(sessions)))
}

// remove unregisters a closed session
func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		m.logger.Debug("Relay session unregistered",
			logger.String("session_id", id),
			logger.Int("active_sessions", len(m.sessions)))
	}
}
