package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/claudio/backend/internal/model/chat"
	"github.com/zhouzirui/claudio/backend/internal/model/persona"
	aiService "github.com/zhouzirui/claudio/backend/internal/service/ai"
	chatService "github.com/zhouzirui/claudio/backend/internal/service/chat"
	"github.com/zhouzirui/claudio/backend/pkg/utils"
)

// Handler delivers assistant replies over Server-Sent Events.
type Handler struct {
	aiService *aiService.Service
	chatSvc   *chatService.Service
	personas  persona.Store
	logger    zerolog.Logger
}

// New creates a new stream handler
func New(aiSvc *aiService.Service, chatSvc *chatService.Service, personas persona.Store) *Handler {
	return &Handler{
		aiService: aiSvc,
		chatSvc:   chatSvc,
		personas:  personas,
		logger:    log.Logger.With().Str("component", "sse").Logger(),
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string     `json:"event"`
	Content   string     `json:"content,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Turn      *chat.Turn `json:"turn,omitempty"`
	Finished  bool       `json:"finished,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := strings.TrimSpace(r.URL.Query().Get("message"))

	if h.aiService == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	p, err := h.getSessionPersona(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, p, userMessage); err != nil {
		h.logger.Debug().Err(err).Str("session", sessionID).Msg("stream finished with error")
	}
}

// HandleStreamRequest submits userMessage on behalf of persona p and reports
// the outcome as start, message and end events. Failures become a single
// error event.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, p *persona.Persona, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
		Content:   p.Name,
	})

	exchange, err := h.aiService.Reply(ctx, sessionID, userMessage)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.sendSSEError(w, flusher, aiService.UserMessage(err))
		}
		return err
	}

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   exchange.Assistant.Text,
		Turn:      exchange.Assistant,
	})

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	})

	h.logger.Info().Str("session", sessionID).Str("persona", p.ID).Msg("completed response")
	return nil
}

// getSessionPersona retrieves the persona bound to the session.
func (h *Handler) getSessionPersona(ctx context.Context, sessionID string) (*persona.Persona, error) {
	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	p, ok := persona.Resolve(h.personas, session.PersonaID)
	if !ok {
		return nil, fmt.Errorf("persona %s not found", session.PersonaID)
	}
	return &p, nil
}

// sendSSEError sends an error via Server-Sent Events
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event: "error",
		Error: errorMsg,
	})
}
