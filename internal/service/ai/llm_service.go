package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/claudio/backend/internal/model/chat"
	"github.com/zhouzirui/claudio/backend/internal/service/completion"
)

const (
	// GenericFailureMessage is the only failure text shown to end users.
	GenericFailureMessage = "Failed to get response. Please try again."
	emptyInputMessage     = "Message cannot be empty"
)

// Completer turns a context window plus new user text into reply text.
type Completer interface {
	Complete(ctx context.Context, history []chat.Turn, text string) (string, error)
}

// Transcripts is the conversation store the service reads and appends to.
type Transcripts interface {
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Turn, error)
	AppendTurn(ctx context.Context, sessionID string, role chat.Role, text string) (chat.Turn, error)
}

// Config controls how much history is sent with each call.
type Config struct {
	ContextWindow int
}

// Exchange is the outcome of one submit. Assistant is nil when the call failed.
type Exchange struct {
	User      chat.Turn  `json:"user"`
	Assistant *chat.Turn `json:"assistant,omitempty"`
}

// Service runs the submit flow: record the user turn, ask the model with a
// bounded window of prior turns, record the reply.
type Service struct {
	completer   Completer
	transcripts Transcripts
	window      int
	logger      zerolog.Logger
}

// NewService creates a new assistant service.
func NewService(completer Completer, transcripts Transcripts, cfg Config) *Service {
	window := cfg.ContextWindow
	if window < 0 {
		window = 0
	}
	return &Service{
		completer:   completer,
		transcripts: transcripts,
		window:      window,
		logger:      log.Logger.With().Str("component", "ai").Logger(),
	}
}

// WithLogger replaces the service logger.
func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger
	return s
}

// ReplyOption customises a single Reply call.
type ReplyOption func(*replyOptions)

type replyOptions struct {
	onUserTurn func(chat.Turn)
}

// OnUserTurn registers fn to run once the user turn is recorded and before
// the completion call starts.
func OnUserTurn(fn func(chat.Turn)) ReplyOption {
	return func(o *replyOptions) {
		o.onUserTurn = fn
	}
}

// Reply submits text for sessionID. Blank text fails with
// completion.ErrEmptyInput before anything is recorded. On completion
// failure the user turn stays in the transcript and no assistant turn is added.
func (s *Service) Reply(ctx context.Context, sessionID, text string, opts ...ReplyOption) (Exchange, error) {
	var options replyOptions
	for _, opt := range opts {
		opt(&options)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Exchange{}, completion.ErrEmptyInput
	}

	prior, err := s.transcripts.LoadTranscript(ctx, sessionID)
	if err != nil {
		return Exchange{}, fmt.Errorf("load transcript: %w", err)
	}

	userTurn, err := s.transcripts.AppendTurn(ctx, sessionID, chat.RoleUser, text)
	if err != nil {
		return Exchange{}, fmt.Errorf("save user turn: %w", err)
	}
	exchange := Exchange{User: userTurn}
	if options.onUserTurn != nil {
		options.onUserTurn(userTurn)
	}

	window := chat.Windowed(prior, s.window)
	reply, err := s.completer.Complete(ctx, window, text)
	if err != nil {
		s.logFailure(sessionID, len(window), err)
		return exchange, err
	}

	assistantTurn, err := s.transcripts.AppendTurn(ctx, sessionID, chat.RoleAssistant, reply)
	if err != nil {
		return exchange, fmt.Errorf("save assistant turn: %w", err)
	}
	exchange.Assistant = &assistantTurn

	s.logger.Info().
		Str("session", sessionID).
		Int("context", len(window)).
		Int("length", len(reply)).
		Msg("generated response")
	return exchange, nil
}

func (s *Service) logFailure(sessionID string, contextLen int, err error) {
	event := s.logger.Error()
	if errors.Is(err, context.Canceled) {
		event = s.logger.Warn()
	}
	event = event.
		Err(err).
		Str("session", sessionID).
		Str("kind", completion.Kind(err)).
		Int("context", contextLen)

	var httpErr *completion.HTTPError
	if errors.As(err, &httpErr) {
		event = event.Int("status", httpErr.StatusCode).Str("body", httpErr.Body)
	}
	var providerErr *completion.ProviderError
	if errors.As(err, &providerErr) {
		event = event.Str("provider_type", providerErr.Type)
	}
	event.Msg("completion failed")
}

// UserMessage maps any Reply failure to text that is safe to render.
func UserMessage(err error) string {
	if errors.Is(err, completion.ErrEmptyInput) {
		return emptyInputMessage
	}
	return GenericFailureMessage
}
