package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize = 512 * 1024      // 512KB per message content
)

func (c *client) ChatCompletion(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("genai: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("genai: invalid request: %w", err)
	}

	// Per-message size guard
	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf(
				"genai: message[%d] content too large (%d bytes, max %d)",
				i, len(m.Content), maxMessageSize,
			)
		}
	}

	c.logger.Debug("chat request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	ctx, cancel := c.requestContext(parentCtx)
	defer cancel()

	pReq := providerChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}

	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("genai: marshal request: %w", err)
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf(
			"genai: request too large (%d bytes, max %d)",
			len(bodyBytes), maxRequestSize,
		)
	}

	url := c.cfg.BaseURL + "/v1/chat/completions"

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("genai: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	resp, err := c.doWithRetry(ctx, bodyBytes, doOnce)
	if err != nil {
		c.logger.Error("chat request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.upstreamError("chat", resp)
	}

	var pResp providerChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("genai: decode upstream response: %w", err)
	}

	if len(pResp.Choices) == 0 {
		c.logger.Error("provider returned no choices",
			zap.String("model", req.Model),
		)
		return nil, fmt.Errorf("genai: provider returned no choices")
	}

	out := &ChatResponse{
		ID:      pResp.ID,
		Created: time.Unix(pResp.Created, 0),
		Model:   pResp.Model,
		Choices: make([]ChatChoice, 0, len(pResp.Choices)),
	}
	for _, ch := range pResp.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			Message:      ch.Message,
			FinishReason: ch.FinishReason,
		})
	}

	// Always include usage (even if zero)
	out.Usage = &Usage{}
	if pResp.Usage != nil {
		out.Usage.PromptTokens = pResp.Usage.PromptTokens
		out.Usage.CompletionTokens = pResp.Usage.CompletionTokens
		out.Usage.TotalTokens = pResp.Usage.TotalTokens
	}

	c.logger.Info("chat request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

// requestContext derives the per-request context from the caller's.
func (c *client) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.UpstreamTimeout > 0 {
		return context.WithTimeout(parent, c.cfg.UpstreamTimeout)
	}
	return context.WithCancel(parent)
}

// upstreamError turns a non-2xx response into a typed error, preferring the
// provider's structured error body when present.
func (c *client) upstreamError(kind string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var perr providerErrorResponse
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		c.logger.Error("provider error",
			zap.String("kind", kind),
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", perr.Error.Type),
			zap.String("error_message", perr.Error.Message),
		)
		return fmt.Errorf("genai: upstream %d: %s (%s)",
			resp.StatusCode, perr.Error.Message, perr.Error.Type)
	}

	c.logger.Error("upstream error",
		zap.String("kind", kind),
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(string(body), 200)),
	)
	return fmt.Errorf("genai: upstream %d: %s",
		resp.StatusCode, truncate(string(body), 200))
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
