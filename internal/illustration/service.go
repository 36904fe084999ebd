// Package illustration generates scene illustrations and theme backdrops
// via the images API. Results are cached keyed on prompt text plus quality
// and size; a hit is only honored while the referenced PNG is still in the
// asset store, which the cache's asset-validating decorator enforces.
package illustration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storybook-service/internal/assets"
	"storybook-service/internal/cache"
	"storybook-service/internal/genai"
	"storybook-service/internal/metrics"
	"storybook-service/pkg/logging"
)

// Request describes one illustration.
type Request struct {
	Prompt  string
	Quality string // "low", "medium" or "high"
	Size    string // e.g. "1024x1536"

	// Filename the generated PNG is saved under in the asset store.
	Filename string

	// Optional reference photo; routes the call to the edits endpoint so
	// the illustrated child resembles the photo.
	Reference     []byte
	ReferenceName string
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("illustration: prompt is required")
	}
	if r.Filename == "" {
		return fmt.Errorf("illustration: filename is required")
	}
	return nil
}

// Result is returned to callers and stored as the cache payload. Filename
// is what the asset-existence check inspects on later lookups.
type Result struct {
	Filename   string      `json:"filename"`
	TokenUsage genai.Usage `json:"token_usage"`
	Quality    string      `json:"quality"`
	Size       string      `json:"size"`
	FromCache  bool        `json:"from_cache"`
}

type Service struct {
	client genai.Client
	store  cache.Store
	assets *assets.Store
	model  string
}

// NewService builds the illustration service. model is the image model,
// e.g. "gpt-image-1". The store should already be wrapped with asset
// validation so stale entries pointing at deleted PNGs read as misses.
func NewService(client genai.Client, store cache.Store, assetStore *assets.Store, model string) *Service {
	return &Service{
		client: client,
		store:  store,
		assets: assetStore,
		model:  model,
	}
}

// Generate produces one illustration, from cache when the same prompt,
// quality and size were generated before and the PNG still exists. On a
// cache hit the previously saved file is reused as-is; requested filename
// and reference photo do not participate in the key, matching the upstream
// call they would have influenced being skipped entirely.
func (s *Service) Generate(ctx context.Context, req *Request) (*Result, error) {
	return s.generate(ctx, req, "illustration")
}

func (s *Service) generate(ctx context.Context, req *Request, kind string) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := logging.L(ctx)
	key := cache.Key(req.Prompt, map[string]string{
		"quality": req.Quality,
		"size":    req.Size,
	})

	res, _ := s.store.Get(ctx, key)
	if res.Hit {
		var cached Result
		if err := json.Unmarshal(res.Entry.Data, &cached); err == nil && cached.Filename != "" {
			cached.FromCache = true
			logger.Info("using cached illustration",
				zap.String("cache_key", key),
				zap.String("filename", cached.Filename),
			)
			return &cached, nil
		}
		logger.Warn("cached illustration payload unusable, regenerating", zap.String("cache_key", key))
	}

	start := time.Now()
	resp, err := s.client.GenerateImage(ctx, &genai.ImageRequest{
		Model:          s.model,
		Prompt:         req.Prompt,
		Size:           req.Size,
		Quality:        req.Quality,
		ReferenceImage: req.Reference,
		ReferenceName:  req.ReferenceName,
	})
	if err != nil {
		return nil, fmt.Errorf("illustration: generate image: %w", err)
	}
	metrics.GenerationLatencySeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err := s.assets.Save(req.Filename, resp.Image); err != nil {
		return nil, fmt.Errorf("illustration: save image: %w", err)
	}

	result := &Result{
		Filename: req.Filename,
		Quality:  req.Quality,
		Size:     req.Size,
	}
	if resp.Usage != nil {
		result.TokenUsage = *resp.Usage
	}

	if err := s.store.Set(ctx, key, result); err != nil {
		logger.Warn("caching illustration failed", zap.Error(err))
	}

	return result, nil
}

// GenerateBackdrop produces the shared background image for a story. Same
// cached path as Generate, with a theme-derived prompt and no reference.
func (s *Service) GenerateBackdrop(ctx context.Context, theme, quality, size, filename string) (*Result, error) {
	return s.generate(ctx, &Request{
		Prompt:   backdropPrompt(theme),
		Quality:  quality,
		Size:     size,
		Filename: filename,
	}, "backdrop")
}

func backdropPrompt(theme string) string {
	return fmt.Sprintf(
		"A soft, dreamy storybook background illustration for a children's story with a %s theme. "+
			"Gentle gradient colors, no characters, no text, lots of open space in the middle for overlaying story text. "+
			"Watercolor picture-book style.",
		theme,
	)
}
