package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/claudio/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/claudio/backend/internal/service/chat"
	"github.com/zhouzirui/claudio/backend/internal/service/completion"
)

type fakeCompleter struct {
	reply   string
	err     error
	calls   int
	history []chat.Turn
	text    string
}

func (f *fakeCompleter) Complete(_ context.Context, history []chat.Turn, text string) (string, error) {
	f.calls++
	f.history = history
	f.text = text
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newService(t *testing.T, completer Completer, window int) (*Service, *chatservice.Service, string) {
	t.Helper()
	chats := chatservice.NewService()
	session, err := chats.CreateSession(context.Background(), "claudio")
	require.NoError(t, err)
	svc := NewService(completer, chats, Config{ContextWindow: window}).WithLogger(zerolog.Nop())
	return svc, chats, session.ID
}

func TestReplyAppendsBothTurns(t *testing.T) {
	completer := &fakeCompleter{reply: "Hello"}
	svc, chats, sessionID := newService(t, completer, chat.DefaultWindow)
	ctx := context.Background()

	exchange, err := svc.Reply(ctx, sessionID, "  hi  ")
	require.NoError(t, err)

	assert.Equal(t, "hi", exchange.User.Text)
	require.NotNil(t, exchange.Assistant)
	assert.Equal(t, "Hello", exchange.Assistant.Text)
	assert.Equal(t, chat.RoleAssistant, exchange.Assistant.Role)
	assert.Equal(t, "hi", completer.text)
	assert.Empty(t, completer.history)

	turns, err := chats.LoadTranscript(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, chat.RoleUser, turns[0].Role)
	assert.Equal(t, "Hello", turns[1].Text)
}

func TestReplySendsOnlyPriorWindow(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	svc, chats, sessionID := newService(t, completer, chat.DefaultWindow)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		_, err := chats.AppendTurn(ctx, sessionID, role, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
	}

	_, err := svc.Reply(ctx, sessionID, "latest")
	require.NoError(t, err)

	require.Len(t, completer.history, chat.DefaultWindow)
	assert.Equal(t, "turn 5", completer.history[0].Text)
	assert.Equal(t, "turn 19", completer.history[len(completer.history)-1].Text)
}

func TestReplyOnUserTurnRunsBeforeCompletion(t *testing.T) {
	completer := &fakeCompleter{reply: "Hello"}
	svc, _, sessionID := newService(t, completer, chat.DefaultWindow)

	var seen []chat.Turn
	callsAtHook := -1
	_, err := svc.Reply(context.Background(), sessionID, "hi", OnUserTurn(func(turn chat.Turn) {
		seen = append(seen, turn)
		callsAtHook = completer.calls
	}))
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "hi", seen[0].Text)
	assert.Equal(t, chat.RoleUser, seen[0].Role)
	assert.Zero(t, callsAtHook)
}

func TestReplyOnUserTurnSkippedForEmptyInput(t *testing.T) {
	svc, _, sessionID := newService(t, &fakeCompleter{reply: "unused"}, chat.DefaultWindow)

	called := false
	_, err := svc.Reply(context.Background(), sessionID, "   ", OnUserTurn(func(chat.Turn) { called = true }))

	assert.ErrorIs(t, err, completion.ErrEmptyInput)
	assert.False(t, called)
}

func TestReplyFailureKeepsOnlyUserTurn(t *testing.T) {
	completer := &fakeCompleter{err: &completion.HTTPError{StatusCode: 500, Body: "internal details"}}
	svc, chats, sessionID := newService(t, completer, chat.DefaultWindow)
	ctx := context.Background()

	exchange, err := svc.Reply(ctx, sessionID, "hello")

	var httpErr *completion.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
	assert.Nil(t, exchange.Assistant)
	assert.Equal(t, "hello", exchange.User.Text)

	turns, err := chats.LoadTranscript(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, chat.RoleUser, turns[0].Role)
}

func TestReplyEmptyInputRecordsNothing(t *testing.T) {
	completer := &fakeCompleter{reply: "unused"}
	svc, chats, sessionID := newService(t, completer, chat.DefaultWindow)
	ctx := context.Background()

	_, err := svc.Reply(ctx, sessionID, " \t ")

	assert.ErrorIs(t, err, completion.ErrEmptyInput)
	assert.Zero(t, completer.calls)
	turns, _ := chats.LoadTranscript(ctx, sessionID)
	assert.Empty(t, turns)
}

func TestReplyUnknownSession(t *testing.T) {
	completer := &fakeCompleter{reply: "unused"}
	svc, _, _ := newService(t, completer, chat.DefaultWindow)

	_, err := svc.Reply(context.Background(), "missing", "hello")

	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
	assert.Zero(t, completer.calls)
}

func TestReplyZeroWindowSendsNoHistory(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	svc, _, sessionID := newService(t, completer, 0)
	ctx := context.Background()

	_, err := svc.Reply(ctx, sessionID, "one")
	require.NoError(t, err)
	_, err = svc.Reply(ctx, sessionID, "two")
	require.NoError(t, err)

	assert.Empty(t, completer.history)
}

func TestUserMessageNeverLeaksDetails(t *testing.T) {
	assert.Equal(t, "Message cannot be empty", UserMessage(completion.ErrEmptyInput))

	failures := []error{
		&completion.HTTPError{StatusCode: 500, Body: "secret stack trace"},
		&completion.NetworkError{Err: errors.New("dial tcp: connection refused")},
		&completion.ProviderError{Message: "quota exceeded for org-123"},
		completion.ErrMalformedResponse,
		completion.ErrEmptyChoices,
	}
	for _, err := range failures {
		assert.Equal(t, GenericFailureMessage, UserMessage(err))
	}
}
