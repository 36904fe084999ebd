package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxReferenceSize = 8 * 1024 * 1024 // 8MB reference photo

// GenerateImage calls the images API. With a reference photo attached the
// request goes to /v1/images/edits as multipart form data; otherwise a JSON
// body goes to /v1/images/generations. Either way the response carries the
// image b64-encoded, which is decoded before returning.
func (c *client) GenerateImage(parentCtx context.Context, req *ImageRequest) (*ImageResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("genai: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("genai: invalid request: %w", err)
	}
	if len(req.ReferenceImage) > maxReferenceSize {
		return nil, fmt.Errorf(
			"genai: reference image too large (%d bytes, max %d)",
			len(req.ReferenceImage), maxReferenceSize,
		)
	}

	c.logger.Debug("image request starting",
		zap.String("model", req.Model),
		zap.String("size", req.Size),
		zap.String("quality", req.Quality),
		zap.Bool("has_reference", len(req.ReferenceImage) > 0),
	)

	ctx, cancel := c.requestContext(parentCtx)
	defer cancel()

	var resp *http.Response
	var err error
	if len(req.ReferenceImage) > 0 {
		resp, err = c.doImageEdit(ctx, req)
	} else {
		resp, err = c.doImageGeneration(ctx, req)
	}
	if err != nil {
		c.logger.Error("image request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.upstreamError("image", resp)
	}

	var pResp providerImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("genai: decode upstream response: %w", err)
	}
	if len(pResp.Data) == 0 {
		c.logger.Error("provider returned no image data",
			zap.String("model", req.Model),
		)
		return nil, fmt.Errorf("genai: provider returned no image data")
	}
	if pResp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("genai: provider returned no inline image payload")
	}

	img, err := base64.StdEncoding.DecodeString(pResp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("genai: decode image payload: %w", err)
	}

	out := &ImageResponse{
		Created: time.Unix(pResp.Created, 0),
		Image:   img,
		Usage:   &Usage{},
	}
	if pResp.Usage != nil {
		out.Usage.PromptTokens = pResp.Usage.InputTokens
		out.Usage.CompletionTokens = pResp.Usage.OutputTokens
		out.Usage.TotalTokens = pResp.Usage.TotalTokens
	}

	c.logger.Info("image request completed",
		zap.String("model", req.Model),
		zap.Int("image_bytes", len(out.Image)),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

func (c *client) doImageGeneration(ctx context.Context, req *ImageRequest) (*http.Response, error) {
	pReq := providerImageRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		N:       1,
		Size:    req.Size,
		Quality: req.Quality,
	}
	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("genai: marshal image request: %w", err)
	}

	url := c.cfg.BaseURL + "/v1/images/generations"

	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("genai: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	return c.doWithRetry(ctx, bodyBytes, doOnce)
}

func (c *client) doImageEdit(ctx context.Context, req *ImageRequest) (*http.Response, error) {
	// The multipart body is assembled once; retries replay the same bytes.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("image", req.ReferenceName)
	if err != nil {
		return nil, fmt.Errorf("genai: build multipart image part: %w", err)
	}
	if _, err := part.Write(req.ReferenceImage); err != nil {
		return nil, fmt.Errorf("genai: write reference image: %w", err)
	}

	fields := map[string]string{
		"model":   req.Model,
		"prompt":  req.Prompt,
		"n":       "1",
		"size":    req.Size,
		"quality": req.Quality,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("genai: write multipart field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("genai: finish multipart body: %w", err)
	}

	url := c.cfg.BaseURL + "/v1/images/edits"
	contentType := mw.FormDataContentType()

	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("genai: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", contentType)
		return c.httpClient.Do(httpReq)
	}

	return c.doWithRetry(ctx, buf.Bytes(), doOnce)
}
