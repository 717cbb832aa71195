package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Vir-8/callrelay/internal/call"
	"github.com/Vir-8/callrelay/internal/config"
	"github.com/Vir-8/callrelay/internal/relay"
	"github.com/Vir-8/callrelay/internal/storage/sqlite"
	"github.com/Vir-8/callrelay/internal/websocket"
	"github.com/Vir-8/callrelay/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	callService *call.Service
	manager     *relay.Manager
	wsServer    *websocket.Server
	callStorage *sqlite.CallStorage
	config      *config.Config
	logger      *logger.Logger
	startedAt   time.Time
}

// NewHandler creates a new API handler
func NewHandler(
	callService *call.Service,
	manager *relay.Manager,
	wsServer *websocket.Server,
	callStorage *sqlite.CallStorage,
	config *config.Config,
	logger *logger.Logger,
) *Handler {
	return &Handler{
		callService: callService,
		manager:     manager,
		wsServer:    wsServer,
		callStorage: callStorage,
		config:      config,
		logger:      logger.Named("api-handler"),
		startedAt:   time.Now(),
	}
}

// startCallRequest is the body for the call origination endpoint
type startCallRequest struct {
	Number string `json:"number"`
}

// StartCall handles POST /api/v1/call
func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Number == "" {
		h.respondError(w, http.StatusBadRequest, "number is required")
		return
	}

	result, err := h.callService.StartCall(r.Context(), req.Number)
	if err != nil {
		h.logger.Error("Failed to start call",
			logger.String("number", req.Number),
			logger.Error(err))

		var legErr *call.LegError
		if errors.As(err, &legErr) {
			h.respondJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":             legErr.Error(),
				"failed_leg":        legErr.Leg,
				"customer_call_sid": legErr.CustomerCallSID,
			})
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, result)
}

// HandleMediaStream handles GET /api/v1/twilio-stream/{sessionID}: the
// websocket the telephony provider streams raw call audio into
func (h *Handler) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.respondError(w, http.StatusBadRequest, "session ID is required")
		return
	}
	h.manager.HandleMediaStream(w, r, sessionID)
}

// HandleWebSocket handles GET /api/v1/ws: observer connections receiving
// live transcription broadcasts
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleWebSocket(w, r)
}

// GetCalls handles GET /api/v1/calls
func (h *Handler) GetCalls(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	records, err := h.callStorage.GetRecentCalls(limit)
	if err != nil {
		h.logger.Error("Failed to fetch call records", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to fetch calls")
		return
	}
	if records == nil {
		records = []*sqlite.CallRecord{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"calls": records,
		"count": len(records),
	})
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
		"active_sessions":  h.manager.ActiveSessions(),
		"observer_clients": h.wsServer.ClientCount(),
	})
}

// GetConfig handles GET /api/v1/config. Credentials are redacted.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"base_url": h.config.Server.BaseURL,
		},
		"transcription": map[string]interface{}{
			"provider":    h.config.Transcription.Provider,
			"language":    h.config.Transcription.Language,
			"sample_rate": h.config.Transcription.SampleRate,
		},
		"twilio": map[string]interface{}{
			"phone_number": h.config.Twilio.PhoneNumber,
			"agent_number": h.config.Twilio.AgentNumber,
		},
	})
}

// respondJSON writes a JSON response with the given status code
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

// respondError writes a JSON error response
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
