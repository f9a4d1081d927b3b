package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/claudio/backend/internal/model/chat"
	"github.com/zhouzirui/claudio/backend/internal/model/persona"
	"github.com/zhouzirui/claudio/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/claudio/backend/internal/service/chat"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultPingInterval = 54 * time.Second
	writeTimeout        = 10 * time.Second
)

// Handler WebSocket聊天处理器，同一连接上的消息按顺序处理
type Handler struct {
	aiSvc        *ai.Service
	chatSvc      *chatservice.Service
	personaStore persona.Store
	upgrader     websocket.Upgrader
	logger       zerolog.Logger
	// readTimeout 为空闲连接的读超时，正在生成回复时不计入。
	readTimeout  time.Duration
	pingInterval time.Duration
}

// New 创建WebSocket处理器
func New(aiSvc *ai.Service, chatSvc *chatservice.Service, personaStore persona.Store) *Handler {
	return &Handler{
		aiSvc:        aiSvc,
		chatSvc:      chatSvc,
		personaStore: personaStore,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:       log.Logger.With().Str("component", "websocket").Logger(),
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

// InboundMessage 客户端发送的消息
type InboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// OutgoingMessage 服务端推送的消息，Type 为 result 或 error。
// 一次 text 提交先推送 user 结果，补全完成后再推送 assistant 结果或 error。
type OutgoingMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	p, ok := persona.Resolve(h.personaStore, session.PersonaID)
	if !ok {
		http.Error(w, "persona not found", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("session", sessionID).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.With().Str("session", sessionID).Logger()
	logger.Info().Msg("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.sendResult(conn, sessionID, map[string]any{
		"type":    "connected",
		"persona": p.ID,
		"name":    p.Name,
	})

	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			logger.Info().Msg("connection closed")
			return
		}

		if msg.SessionID != "" && msg.SessionID != sessionID {
			_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
			h.sendError(conn, "session mismatch")
			continue
		}

		// 生成回复期间不读取连接，pong 无法续期，处理期间取消读超时。
		_ = conn.SetReadDeadline(time.Time{})
		h.handleMessage(ctx, conn, sessionID, &msg)
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, sessionID string, msg *InboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, conn, sessionID, msg.Data)
	case "clear":
		if err := h.chatSvc.ClearTranscript(ctx, sessionID); err != nil {
			h.sendError(conn, "session not found")
			return
		}
		h.sendResult(conn, sessionID, map[string]any{"type": "cleared"})
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, conn *websocket.Conn, sessionID string, raw json.RawMessage) {
	var text TextMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &text); err != nil {
			h.sendError(conn, "invalid text payload")
			return
		}
	}

	if h.aiSvc == nil {
		h.sendError(conn, "assistant unavailable")
		return
	}

	exchange, err := h.aiSvc.Reply(ctx, sessionID, text.Text, ai.OnUserTurn(func(turn chat.Turn) {
		h.sendResult(conn, sessionID, map[string]any{
			"type": "user",
			"turn": turn,
		})
	}))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.sendError(conn, ai.UserMessage(err))
		return
	}

	h.sendResult(conn, sessionID, map[string]any{
		"type": "assistant",
		"turn": exchange.Assistant,
	})
}

func (h *Handler) sendResult(conn *websocket.Conn, sessionID string, data map[string]any) {
	h.write(conn, OutgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (h *Handler) sendError(conn *websocket.Conn, message string) {
	h.write(conn, OutgoingMessage{
		Type:      "error",
		Data:      map[string]any{"message": message},
		Timestamp: time.Now().Unix(),
	})
}

func (h *Handler) write(conn *websocket.Conn, msg OutgoingMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("write failed")
	}
}

// pingLoop 定期发送ping消息。WriteControl 可与其他写操作并发调用。
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
