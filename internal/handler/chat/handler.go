package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/claudio/backend/internal/model/persona"
	aiService "github.com/zhouzirui/claudio/backend/internal/service/ai"
	chatService "github.com/zhouzirui/claudio/backend/internal/service/chat"
	"github.com/zhouzirui/claudio/backend/internal/service/completion"
	"github.com/zhouzirui/claudio/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	aiSvc        *aiService.Service
	personaStore persona.Store
	submitLimit  []func(http.Handler) http.Handler
}

// New 创建聊天处理器。aiSvc 为 nil 时提交消息返回 503。
func New(chatSvc *chatService.Service, aiSvc *aiService.Service, personaStore persona.Store) *Handler {
	return &Handler{
		chatSvc:      chatSvc,
		aiSvc:        aiSvc,
		personaStore: personaStore,
	}
}

// WithSubmitMiddleware 为提交消息的路由追加中间件（如限流）。
func (h *Handler) WithSubmitMiddleware(mw ...func(http.Handler) http.Handler) *Handler {
	h.submitLimit = append(h.submitLimit, mw...)
	return h
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Get("/messages", h.handleListMessages)
		r.With(h.submitLimit...).Post("/messages", h.handleSubmitMessage)
		r.Delete("/messages", h.handleClearMessages)
	})
}

// handleCreateSession 创建会话，未指定 personaId 时使用默认助手
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}

	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, ok := persona.Resolve(h.personaStore, payload.PersonaID)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), p.ID)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 查询会话
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleListMessages 返回会话全部消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	turns, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

// handleSubmitMessage 提交用户消息并同步返回助手回复
func (h *Handler) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	if h.aiSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exchange, err := h.aiSvc.Reply(r.Context(), chi.URLParam(r, "sessionID"), payload.Text)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, exchange)
	case errors.Is(err, completion.ErrEmptyInput):
		utils.RespondError(w, http.StatusBadRequest, aiService.UserMessage(err))
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	default:
		// 细节已在 ai 服务中记录，这里只返回通用提示与已保存的用户消息。
		utils.RespondJSON(w, http.StatusBadGateway, map[string]any{
			"error": aiService.UserMessage(err),
			"user":  exchange.User,
		})
	}
}

// handleClearMessages 清空会话历史
func (h *Handler) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ClearTranscript(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
