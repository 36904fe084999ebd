// Package story generates the per-scene illustration prompts for a
// storybook via the chat completions API, with results cached by the
// content-addressed response cache so identical requests never pay twice.
package story

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"storybook-service/internal/cache"
	"storybook-service/internal/genai"
	"storybook-service/internal/metrics"
	"storybook-service/pkg/logging"
)

//go:embed template.txt
var defaultTemplate string

// Request carries the form inputs that shape a story.
type Request struct {
	ChildName  string
	Theme      string
	Traits     string
	SceneCount int
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.ChildName) == "" {
		return fmt.Errorf("story: child name is required")
	}
	if strings.TrimSpace(r.Theme) == "" {
		return fmt.Errorf("story: theme is required")
	}
	if r.SceneCount < 1 || r.SceneCount > 12 {
		return fmt.Errorf("story: scene count must be between 1 and 12")
	}
	return nil
}

// Result is what callers get back and what the cache stores as payload.
type Result struct {
	Prompts    []string    `json:"prompts"`
	TokenUsage genai.Usage `json:"token_usage"`
	FromCache  bool        `json:"from_cache"`
}

type Service struct {
	client genai.Client
	store  cache.Store
	model  string
	tmpl   *template.Template
}

// NewService builds the story service. model is the chat model used for
// prompt generation, e.g. "gpt-4".
func NewService(client genai.Client, store cache.Store, model string) (*Service, error) {
	tmpl, err := template.New("story").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("story: parse template: %w", err)
	}
	return &Service{
		client: client,
		store:  store,
		model:  model,
		tmpl:   tmpl,
	}, nil
}

// keyMaterial composes the cache-relevant subset of the request. Any change
// to the child, theme, scene count, traits or model produces a new key.
func (s *Service) keyMaterial(req *Request) string {
	return fmt.Sprintf("%s_%s_%d_%s_%s", req.ChildName, req.Theme, req.SceneCount, req.Traits, s.model)
}

// GeneratePrompts returns the scene prompts for a request, from cache when
// possible. A failed cache write is logged and swallowed; the generated
// result is returned regardless.
func (s *Service) GeneratePrompts(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := logging.L(ctx)
	key := cache.Key(s.keyMaterial(req), nil)

	res, _ := s.store.Get(ctx, key)
	if res.Hit {
		var cached Result
		if err := json.Unmarshal(res.Entry.Data, &cached); err == nil && len(cached.Prompts) > 0 {
			cached.FromCache = true
			logger.Info("using cached story prompts",
				zap.String("cache_key", key),
				zap.Int("prompt_count", len(cached.Prompts)),
			)
			return &cached, nil
		}
		logger.Warn("cached story payload unusable, regenerating", zap.String("cache_key", key))
	}

	prompt, err := s.renderPrompt(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.ChatCompletion(ctx, &genai.ChatRequest{
		Model: s.model,
		Messages: []genai.ChatMessage{
			{Role: genai.RoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("story: generate prompts: %w", err)
	}
	metrics.GenerationLatencySeconds.WithLabelValues("story").Observe(time.Since(start).Seconds())

	prompts, err := ParsePrompts(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	result := &Result{Prompts: prompts}
	if resp.Usage != nil {
		result.TokenUsage = *resp.Usage
	}

	if err := s.store.Set(ctx, key, result); err != nil {
		logger.Warn("caching story prompts failed", zap.Error(err))
	}

	return result, nil
}

func (s *Service) renderPrompt(req *Request) (string, error) {
	var b strings.Builder
	if err := s.tmpl.Execute(&b, req); err != nil {
		return "", fmt.Errorf("story: render template: %w", err)
	}
	return b.String(), nil
}
