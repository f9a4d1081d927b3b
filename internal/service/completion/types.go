package completion

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message is one role/content pair on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Request is the body posted to the completion endpoint. Only the fields the
// client actually populates are typed; provider specific knobs travel in
// Extensions and are merged into the top-level object on encode.
type Request struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         float32   `json:"temperature"`
	TopP                float32   `json:"top_p"`
	MaxCompletionTokens int       `json:"max_completion_tokens"`
	Stream              bool      `json:"stream"`
	FrequencyPenalty    float32   `json:"frequency_penalty"`
	PresencePenalty     float32   `json:"presence_penalty"`
	N                   int       `json:"n"`
	Stop                []string  `json:"stop,omitempty"`

	Extensions map[string]any `json:"-"`
}

// Encode marshals the request. Extension keys never override a field that is
// already present in the typed payload.
func (r Request) Encode() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if len(r.Extensions) == 0 {
		return payload, nil
	}

	keys := make([]string, 0, len(r.Extensions))
	for key := range r.Extensions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		path := escapePath(key)
		if gjson.GetBytes(payload, path).Exists() {
			continue
		}
		payload, err = sjson.SetBytes(payload, path, r.Extensions[key])
		if err != nil {
			return nil, fmt.Errorf("failed to merge extension %q: %w", key, err)
		}
	}
	return payload, nil
}

func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Choice is one candidate reply.
type Choice struct {
	Index        int
	Message      Message
	FinishReason string
}

// Usage reports token accounting when the provider includes it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// APIError is the error object some providers embed in a 2xx or 4xx body.
type APIError struct {
	Message string
	Type    string
}

// Response is the decoded reply: either Choices or Error is meaningful.
type Response struct {
	Choices []Choice
	Usage   *Usage
	Error   *APIError
}

// DecodeResponse parses a completion body. It only fails with
// ErrMalformedResponse; semantic checks are left to the caller.
func DecodeResponse(body []byte) (*Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, truncate(string(body), 200))
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}

	resp := &Response{}

	if e := root.Get("error"); e.Exists() && e.Type != gjson.Null {
		apiErr := &APIError{}
		if e.IsObject() {
			apiErr.Message = e.Get("message").String()
			apiErr.Type = e.Get("type").String()
		} else {
			apiErr.Message = e.String()
		}
		resp.Error = apiErr
	}

	choices := root.Get("choices")
	if choices.Exists() && choices.Type != gjson.Null && !choices.IsArray() {
		return nil, fmt.Errorf("%w: choices is not an array", ErrMalformedResponse)
	}
	choices.ForEach(func(_, c gjson.Result) bool {
		resp.Choices = append(resp.Choices, Choice{
			Index: int(c.Get("index").Int()),
			Message: Message{
				Role:    c.Get("message.role").String(),
				Content: c.Get("message.content").String(),
			},
			FinishReason: c.Get("finish_reason").String(),
		})
		return true
	})

	if u := root.Get("usage"); u.IsObject() {
		resp.Usage = &Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}

	return resp, nil
}
