package genai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}

	for i, m := range r.Messages {
		if m.Role != RoleSystem && m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("invalid role %q in messages[%d]", m.Role, i)
		}
		if m.Content == "" && m.Role != RoleSystem {
			return fmt.Errorf("content is required for messages[%d]", i)
		}
	}

	if r.Temperature < 0 || r.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.TopP < 0 || r.TopP > 1 {
		return errors.New("top_p must be between 0 and 1")
	}

	return nil
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// Usage is token usage as reported by the provider. For image calls the
// prompt/completion split maps to input/output tokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	ID      string       `json:"id,omitempty"`
	Created time.Time    `json:"created,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ImageRequest describes one image generation. When ReferenceImage is set
// the request goes to the edits endpoint with the reference photo attached;
// otherwise the plain generations endpoint is used.
type ImageRequest struct {
	Model   string
	Prompt  string
	Size    string // e.g. "1024x1536"
	Quality string // "low", "medium" or "high"

	ReferenceImage []byte // optional reference photo bytes (PNG/JPEG)
	ReferenceName  string // filename for the multipart part, e.g. "reference.png"
}

func (r *ImageRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if r.Prompt == "" {
		return errors.New("prompt is required")
	}
	if len(r.ReferenceImage) > 0 && r.ReferenceName == "" {
		return errors.New("reference name is required when reference image is set")
	}
	return nil
}

// ImageResponse carries the decoded image bytes plus usage.
type ImageResponse struct {
	Created time.Time
	Image   []byte // raw PNG bytes decoded from the provider's b64 payload
	Usage   *Usage
}

// Client is the upstream generation API: story text via chat completions,
// illustrations and backdrops via image generation.
type Client interface {
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}
