package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/claudio/backend/internal/model/chat"
	"github.com/zhouzirui/claudio/backend/internal/model/persona"
	"github.com/zhouzirui/claudio/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/claudio/backend/internal/service/chat"
	"github.com/zhouzirui/claudio/backend/internal/service/completion"
)

type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(_ context.Context, _ []chat.Turn, _ string) (string, error) {
	return s.reply, s.err
}

type slowCompleter struct {
	delay time.Duration
	calls atomic.Int32
}

func (s *slowCompleter) Complete(_ context.Context, _ []chat.Turn, text string) (string, error) {
	if s.calls.Add(1) == 1 {
		time.Sleep(s.delay)
	}
	return "reply to " + text, nil
}

type gatedCompleter struct {
	release chan struct{}
}

func (g *gatedCompleter) Complete(ctx context.Context, _ []chat.Turn, _ string) (string, error) {
	select {
	case <-g.release:
		return "released", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func startServer(t *testing.T, completer ai.Completer, mutate ...func(*Handler)) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService()
	store := persona.NewMemoryStore(persona.Seed())
	aiSvc := ai.NewService(completer, chatSvc, ai.Config{ContextWindow: chat.DefaultWindow})

	handler := New(aiSvc, chatSvc, store)
	for _, fn := range mutate {
		fn(handler)
	}

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, chatSvc
}

func dial(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) OutgoingMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg OutgoingMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketTextExchange(t *testing.T) {
	server, chatSvc := startServer(t, &stubCompleter{reply: "Hello there"})
	session, err := chatSvc.CreateSession(context.Background(), persona.DefaultID)
	require.NoError(t, err)

	conn := dial(t, server, session.ID)

	connected := readMessage(t, conn)
	assert.Equal(t, "result", connected.Type)
	assert.Equal(t, "connected", connected.Data["type"])
	assert.Equal(t, persona.DefaultID, connected.Data["persona"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "text",
		"data": map[string]string{"text": "hi"},
	}))

	user := readMessage(t, conn)
	assert.Equal(t, "user", user.Data["type"])

	assistant := readMessage(t, conn)
	require.Equal(t, "result", assistant.Type)
	assert.Equal(t, "assistant", assistant.Data["type"])
	turn, ok := assistant.Data["turn"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hello there", turn["text"])

	turns, err := chatSvc.LoadTranscript(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestWebSocketFailureSendsGenericError(t *testing.T) {
	failure := &completion.HTTPError{StatusCode: http.StatusBadGateway, Body: "upstream detail"}
	server, chatSvc := startServer(t, &stubCompleter{err: failure})
	session, _ := chatSvc.CreateSession(context.Background(), persona.DefaultID)

	conn := dial(t, server, session.ID)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "text",
		"data": map[string]string{"text": "hi"},
	}))

	assert.Equal(t, "user", readMessage(t, conn).Data["type"])
	errMsg := readMessage(t, conn)
	assert.Equal(t, "error", errMsg.Type)
	assert.Equal(t, ai.GenericFailureMessage, errMsg.Data["message"])
}

func TestWebSocketEmptyTextAndUnknownType(t *testing.T) {
	server, chatSvc := startServer(t, &stubCompleter{reply: "unused"})
	session, _ := chatSvc.CreateSession(context.Background(), persona.DefaultID)

	conn := dial(t, server, session.ID)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "  "}}))
	empty := readMessage(t, conn)
	assert.Equal(t, "error", empty.Type)
	assert.Equal(t, "Message cannot be empty", empty.Data["message"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "audio"}))
	unsupported := readMessage(t, conn)
	assert.Equal(t, "error", unsupported.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "sessionId": "other"}))
	mismatch := readMessage(t, conn)
	assert.Equal(t, "session mismatch", mismatch.Data["message"])
}

func TestWebSocketClear(t *testing.T) {
	server, chatSvc := startServer(t, &stubCompleter{reply: "ok"})
	session, _ := chatSvc.CreateSession(context.Background(), persona.DefaultID)
	_, err := chatSvc.AppendTurn(context.Background(), session.ID, chat.RoleUser, "earlier")
	require.NoError(t, err)

	conn := dial(t, server, session.ID)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "clear"}))
	cleared := readMessage(t, conn)
	assert.Equal(t, "cleared", cleared.Data["type"])

	turns, _ := chatSvc.LoadTranscript(context.Background(), session.ID)
	assert.Empty(t, turns)
}

func TestWebSocketUnknownSession(t *testing.T) {
	server, _ := startServer(t, &stubCompleter{})
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/missing"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketSurvivesReplySlowerThanReadTimeout(t *testing.T) {
	const timeout = 300 * time.Millisecond
	completer := &slowCompleter{delay: timeout + 400*time.Millisecond}
	server, chatSvc := startServer(t, completer, func(h *Handler) {
		h.readTimeout = timeout
	})
	session, _ := chatSvc.CreateSession(context.Background(), persona.DefaultID)

	conn := dial(t, server, session.ID)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "first"}}))
	assert.Equal(t, "user", readMessage(t, conn).Data["type"])
	assert.Equal(t, "assistant", readMessage(t, conn).Data["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "second"}}))
	assert.Equal(t, "user", readMessage(t, conn).Data["type"])
	second := readMessage(t, conn)
	require.Equal(t, "result", second.Type)
	turn, ok := second.Data["turn"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "reply to second", turn["text"])
}

func TestWebSocketSendsUserTurnBeforeCompletionFinishes(t *testing.T) {
	completer := &gatedCompleter{release: make(chan struct{})}
	var once sync.Once
	release := func() { once.Do(func() { close(completer.release) }) }
	t.Cleanup(release)
	server, chatSvc := startServer(t, completer)
	session, _ := chatSvc.CreateSession(context.Background(), persona.DefaultID)

	conn := dial(t, server, session.ID)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "hi"}}))

	user := readMessage(t, conn)
	assert.Equal(t, "user", user.Data["type"])

	release()
	assistant := readMessage(t, conn)
	assert.Equal(t, "assistant", assistant.Data["type"])
}
