package call

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/Vir-8/callrelay/internal/relay"
	"github.com/Vir-8/callrelay/internal/storage/sqlite"
	"github.com/Vir-8/callrelay/internal/telephony"
	"github.com/Vir-8/callrelay/pkg/logger"
)

// destination numbers are E.164-ish: optional +, 7 to 15 digits
var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Dialer originates and terminates call legs. Implemented by the telephony
// client.
type Dialer interface {
	MakeCall(ctx context.Context, params telephony.MakeCallParams) (*telephony.Call, error)
	HangupCall(ctx context.Context, callSID string) error
}

// SessionRegistry registers relay sessions ahead of their media connections.
// Implemented by the relay manager.
type SessionRegistry interface {
	Create(id string) *relay.Session
	Remove(id string)
}

// CallStore persists call origination records. Implemented by the SQLite
// call storage.
type CallStore interface {
	StoreCall(record *sqlite.CallRecord) (int64, error)
}

// Config carries the orchestrator settings
type Config struct {
	// PhoneNumber is the caller ID used for both legs
	PhoneNumber string
	// AgentNumber is the internal agent dialed into every conference
	AgentNumber string
	// BaseURL is the public URL the telephony provider connects back to
	BaseURL string
}

// Result describes a successfully started conference call
type Result struct {
	ConferenceName  string `json:"conference_name"`
	SessionID       string `json:"session_id"`
	CustomerCallSID string `json:"customer_call_sid"`
	AgentCallSID    string `json:"agent_call_sid"`
}

// LegError reports which conference leg failed to originate. When the agent
// leg fails, CustomerCallSID identifies the already-originated (and by then
// hung up) customer leg for diagnostics.
type LegError struct {
	Leg             string // "customer" or "agent"
	CustomerCallSID string
	Err             error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("failed to originate %s leg: %v", e.Leg, e.Err)
}

func (e *LegError) Unwrap() error {
	return e.Err
}

// Service orchestrates two-party conference calls with live media relay
type Service struct {
	dialer   Dialer
	sessions SessionRegistry
	store    CallStore
	config   Config
	logger   *logger.Logger
}

// NewService creates a new call orchestration service
func NewService(dialer Dialer, sessions SessionRegistry, store CallStore, config Config, log *logger.Logger) (*Service, error) {
	if config.PhoneNumber == "" {
		return nil, fmt.Errorf("caller phone number is required")
	}
	if config.AgentNumber == "" {
		return nil, fmt.Errorf("agent number is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	return &Service{
		dialer:   dialer,
		sessions: sessions,
		store:    store,
		config:   config,
		logger:   log.Named("call-service"),
	}, nil
}

// StartCall originates a conference between the destination number and the
// configured agent, with both legs' media forked to a freshly registered
// relay session.
//
// The relay session is registered before either leg is dialed: the provider
// may open the media socket the moment the first leg answers, and the session
// must already exist by then. If the agent leg fails the customer leg is hung
// up so no half-open conference is left ringing.
func (s *Service) StartCall(ctx context.Context, destination string) (*Result, error) {
	if !phonePattern.MatchString(destination) {
		return nil, fmt.Errorf("invalid phone number: %q", destination)
	}

	conferenceName := "conference-" + uuid.NewString()
	sessionID := uuid.NewString()

	s.sessions.Create(sessionID)
	streamURL := telephony.StreamURL(s.config.BaseURL, sessionID)

	s.logger.Info("Starting conference call",
		logger.String("conference", conferenceName),
		logger.String("session_id", sessionID),
		logger.String("destination", destination))

	customerCall, err := s.dialer.MakeCall(ctx, telephony.MakeCallParams{
		To:   destination,
		From: s.config.PhoneNumber,
		Twiml: telephony.ConferenceLegTwiml(telephony.ConferenceLegParams{
			Greeting:            "You are being connected to a conference call.",
			StreamURL:           streamURL,
			ConferenceName:      conferenceName,
			EndConferenceOnExit: false,
		}),
	})
	if err != nil {
		s.sessions.Remove(sessionID)
		s.recordCall(conferenceName, sessionID, destination, "", "", "failed")
		return nil, &LegError{Leg: "customer", Err: err}
	}

	agentCall, err := s.dialer.MakeCall(ctx, telephony.MakeCallParams{
		To:   s.config.AgentNumber,
		From: s.config.PhoneNumber,
		Twiml: telephony.ConferenceLegTwiml(telephony.ConferenceLegParams{
			Greeting:            "You are being connected to a conference call. Please wait for the customer.",
			StreamURL:           streamURL,
			ConferenceName:      conferenceName,
			EndConferenceOnExit: true,
		}),
	})
	if err != nil {
		// Don't leave the customer leg ringing into an empty conference
		if hangupErr := s.dialer.HangupCall(ctx, customerCall.SID); hangupErr != nil {
			s.logger.Error("Failed to hang up customer leg after agent leg failure",
				logger.String("customer_call_sid", customerCall.SID),
				logger.Error(hangupErr))
		}
		s.sessions.Remove(sessionID)
		s.recordCall(conferenceName, sessionID, destination, customerCall.SID, "", "failed")
		return nil, &LegError{Leg: "agent", CustomerCallSID: customerCall.SID, Err: err}
	}

	s.recordCall(conferenceName, sessionID, destination, customerCall.SID, agentCall.SID, "started")

	s.logger.Info("Conference call started",
		logger.String("conference", conferenceName),
		logger.String("customer_call_sid", customerCall.SID),
		logger.String("agent_call_sid", agentCall.SID))

	return &Result{
		ConferenceName:  conferenceName,
		SessionID:       sessionID,
		CustomerCallSID: customerCall.SID,
		AgentCallSID:    agentCall.SID,
	}, nil
}

// recordCall persists the origination outcome; storage failures are logged,
// never surfaced to the caller
func (s *Service) recordCall(conference, sessionID, destination, customerSID, agentSID, status string) {
	if s.store == nil {
		return
	}

	_, err := s.store.StoreCall(&sqlite.CallRecord{
		ConferenceName:  conference,
		SessionID:       sessionID,
		CustomerNumber:  destination,
		AgentNumber:     s.config.AgentNumber,
		CustomerCallSID: customerSID,
		AgentCallSID:    agentSID,
		Status:          status,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("Failed to store call record",
			logger.String("conference", conference),
			logger.Error(err))
	}
}
