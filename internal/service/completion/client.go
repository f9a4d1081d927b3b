package completion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/claudio/backend/internal/model/chat"
)

const (
	DefaultEndpoint            = "https://wbigu561gn7c40-8000.proxy.runpod.net/v1/chat/completions"
	DefaultModel               = "MiniMax-M1"
	DefaultTemperature float32 = 1.0
	DefaultTopP        float32 = 0.95
	DefaultMaxTokens           = 8192
	DefaultUserName            = "user"
	DefaultAssistantName       = "MiniMax AI"
)

// Config describes how the client talks to the completion endpoint.
type Config struct {
	Endpoint            string
	APIKey              string
	Model               string
	Temperature         float32
	TopP                float32
	MaxCompletionTokens int
	// UserName and AssistantName are sent as the "name" of each message.
	UserName      string
	AssistantName string
	// Extensions are merged verbatim into every request body.
	Extensions map[string]any
	Filter     ContentFilter
	// Timeout bounds the whole HTTP exchange. Zero leaves it to the transport.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// DefaultConfig returns the fixed generation settings used on every call.
func DefaultConfig() Config {
	return Config{
		Endpoint:            DefaultEndpoint,
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		TopP:                DefaultTopP,
		MaxCompletionTokens: DefaultMaxTokens,
		UserName:            DefaultUserName,
		AssistantName:       DefaultAssistantName,
		Filter:              DefaultContentFilter(),
	}
}

// Client sends one non-streaming chat completion per call.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ model.BaseChatModel = (*Client)(nil)

// NewClient creates a completion client. Empty identity fields fall back to
// the package defaults; sampling values are used as given.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxCompletionTokens <= 0 {
		cfg.MaxCompletionTokens = DefaultMaxTokens
	}
	if cfg.UserName == "" {
		cfg.UserName = DefaultUserName
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = DefaultAssistantName
	}
	if cfg.Filter.Fallback == "" {
		cfg.Filter.Fallback = FallbackReply
	}
	if cfg.Filter.EmptyReply == "" {
		cfg.Filter.EmptyReply = EmptyReply
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := log.Logger.With().Str("component", "completion").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Complete sends history plus the new user text and returns the cleaned reply.
// Blank text fails with ErrEmptyInput before any network activity.
func (c *Client) Complete(ctx context.Context, history []chat.Turn, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	messages := c.BuildMessages(history, text)
	c.logger.Debug().Int("context", len(history)).Int("messages", len(messages)).Msg("sending completion request")

	reply, err := c.Generate(ctx, messages)
	if err != nil {
		return "", err
	}

	cleaned, blocked := c.cfg.Filter.Apply(reply.Content)
	if blocked {
		c.logger.Warn().Msg("reply matched content denylist, using fallback")
	}
	return cleaned, nil
}

// BuildMessages maps prior turns role-for-role and appends the new user text.
// Every message is tagged with its author's display name.
func (c *Client) BuildMessages(history []chat.Turn, text string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			msg := schema.UserMessage(turn.Text)
			msg.Name = c.cfg.UserName
			messages = append(messages, msg)
		case chat.RoleAssistant:
			msg := schema.AssistantMessage(turn.Text, nil)
			msg.Name = c.cfg.AssistantName
			messages = append(messages, msg)
		}
	}

	msg := schema.UserMessage(text)
	msg.Name = c.cfg.UserName
	return append(messages, msg)
}

// Generate performs one raw completion call and returns the first candidate
// unfiltered. Common eino options override the configured model and sampling.
func (c *Client) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelName := c.cfg.Model
	temperature := c.cfg.Temperature
	topP := c.cfg.TopP
	maxTokens := c.cfg.MaxCompletionTokens

	options := model.GetCommonOptions(&model.Options{
		Model:       &modelName,
		Temperature: &temperature,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	}, opts...)

	req := Request{
		Model:               *options.Model,
		Messages:            toWireMessages(input),
		Temperature:         *options.Temperature,
		TopP:                *options.TopP,
		MaxCompletionTokens: *options.MaxTokens,
		Stream:              false,
		FrequencyPenalty:    0,
		PresencePenalty:     0,
		N:                   1,
		Stop:                options.Stop,
		Extensions:          c.cfg.Extensions,
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}

	choice := resp.Choices[0]
	msg := schema.AssistantMessage(choice.Message.Content, nil)
	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: choice.FinishReason}
	if resp.Usage != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return msg, nil
}

// Stream satisfies model.BaseChatModel. The endpoint is always called with
// stream=false, so the reader yields exactly one complete message.
func (c *Client) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := c.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed reading response body: %w", err)}
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("completion response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	parsed, err := DecodeResponse(body)
	if err != nil {
		return nil, err
	}

	if parsed.Error != nil {
		message := parsed.Error.Message
		if message == "" {
			message = "Unknown API error"
		}
		return nil, &ProviderError{Message: message, Type: parsed.Error.Type}
	}

	if len(parsed.Choices) == 0 {
		return nil, ErrEmptyChoices
	}
	return parsed, nil
}

func toWireMessages(input []*schema.Message) []Message {
	messages := make([]Message, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		messages = append(messages, Message{
			Role:    string(msg.Role),
			Content: msg.Content,
			Name:    msg.Name,
		})
	}
	return messages
}
