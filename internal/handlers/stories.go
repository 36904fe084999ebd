package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-service/internal/assets"
	"storybook-service/internal/config"
	"storybook-service/internal/genai"
	"storybook-service/internal/illustration"
	"storybook-service/internal/session"
	"storybook-service/internal/story"
	"storybook-service/internal/tracker"
	"storybook-service/pkg/logging"
)

const maxUploadSize = 16 << 20 // 16MB multipart form

// StoryHandler holds dependencies for the /api/stories endpoints.
type StoryHandler struct {
	Stories       *story.Service
	Illustrations *illustration.Service
	Sessions      session.Store
	Assets        *assets.Store
	Tracker       *tracker.Tracker // optional
	Defaults      config.StoryConfig
	TextModel     string
	ImageModel    string
}

type storyResponse struct {
	*session.Session
	StoryFromCache    bool `json:"story_from_cache"`
	BackdropFromCache bool `json:"backdrop_from_cache"`
}

// CreateStory handles POST /api/stories: validates the form, generates the
// scene prompts and the backdrop (both cache-fronted), and persists a new
// session the illustration step can pick up later.
func (h *StoryHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		logger.Warn("invalid form", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	childName := r.FormValue("childName")
	theme := r.FormValue("theme")
	traits := r.FormValue("traits")
	if childName == "" || theme == "" || traits == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	sceneCount := h.Defaults.SceneCount
	if v := r.FormValue("sceneCount"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			writeError(w, http.StatusBadRequest, "invalid scene count")
			return
		}
		sceneCount = n
	}

	illQuality := formValueOr(r, "illustrationQuality", h.Defaults.IllustrationQuality)
	bgQuality := formValueOr(r, "backgroundQuality", h.Defaults.BackgroundQuality)

	sessionID := uuid.NewString()

	referenceName, err := h.saveReferenceUpload(r, sessionID)
	if err != nil {
		logger.Warn("reference upload failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid reference image")
		return
	}

	storyResult, err := h.Stories.GeneratePrompts(ctx, &story.Request{
		ChildName:  childName,
		Theme:      theme,
		Traits:     traits,
		SceneCount: sceneCount,
	})
	if err != nil {
		logger.Error("story generation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "story generation failed")
		return
	}
	h.trackUsage(r, sessionID, "story", h.TextModel, storyResult.TokenUsage, storyResult.FromCache)

	backdrop, err := h.Illustrations.GenerateBackdrop(
		ctx, theme, bgQuality, h.Defaults.ImageSize,
		fmt.Sprintf("%s_backdrop.png", sessionID),
	)
	if err != nil {
		logger.Error("backdrop generation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "backdrop generation failed")
		return
	}
	h.trackUsage(r, sessionID, "backdrop", h.ImageModel, backdrop.TokenUsage, backdrop.FromCache)

	sess := &session.Session{
		ID:                  sessionID,
		CreatedAt:           time.Now().UTC(),
		ChildName:           childName,
		Theme:               theme,
		Traits:              traits,
		SceneCount:          sceneCount,
		IllustrationQuality: illQuality,
		BackgroundQuality:   bgQuality,
		Prompts:             storyResult.Prompts,
		Backdrop:            backdrop.Filename,
		ReferenceImage:      referenceName,
	}
	sess.AddUsage(storyResult.TokenUsage)
	sess.AddUsage(backdrop.TokenUsage)

	if err := h.Sessions.Put(sess); err != nil {
		logger.Error("saving session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "saving session failed")
		return
	}

	writeJSON(w, http.StatusCreated, storyResponse{
		Session:           sess,
		StoryFromCache:    storyResult.FromCache,
		BackdropFromCache: backdrop.FromCache,
	})
}

// GenerateIllustrations handles POST /api/stories/{sessionID}/illustrations:
// one image per scene prompt, resuming after partial failures. Progress is
// persisted per scene so a retried request only generates what is missing.
func (h *StoryHandler) GenerateIllustrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	sess, ok := h.Sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if len(sess.Prompts) == 0 {
		writeError(w, http.StatusConflict, "session has no prompts")
		return
	}

	var reference []byte
	if sess.ReferenceImage != "" {
		data, err := h.Assets.Read(sess.ReferenceImage)
		if err != nil {
			// Reference photo lost: keep generating, just without it.
			logger.Warn("reference image unreadable", zap.Error(err))
		} else {
			reference = data
		}
	}

	for i := len(sess.Illustrations); i < len(sess.Prompts); i++ {
		result, err := h.Illustrations.Generate(ctx, &illustration.Request{
			Prompt:        sess.Prompts[i],
			Quality:       sess.IllustrationQuality,
			Size:          h.Defaults.ImageSize,
			Filename:      fmt.Sprintf("%s_scene_%02d.png", sess.ID, i+1),
			Reference:     reference,
			ReferenceName: sess.ReferenceImage,
		})
		if err != nil {
			logger.Error("illustration generation failed",
				zap.Int("scene", i+1),
				zap.Error(err),
			)
			if putErr := h.Sessions.Put(sess); putErr != nil {
				logger.Error("saving session failed", zap.Error(putErr))
			}
			writeError(w, http.StatusBadGateway, "illustration generation failed")
			return
		}

		sess.Illustrations = append(sess.Illustrations, result.Filename)
		sess.AddUsage(result.TokenUsage)
		h.trackUsage(r, sess.ID, "illustration", h.ImageModel, result.TokenUsage, result.FromCache)
	}

	if err := h.Sessions.Put(sess); err != nil {
		logger.Error("saving session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "saving session failed")
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// GetStory handles GET /api/stories/{sessionID}.
func (h *StoryHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.Sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// saveReferenceUpload stores an optional reference photo and returns the
// asset filename, or "" when no photo was sent.
func (h *StoryHandler) saveReferenceUpload(r *http.Request, sessionID string) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	file, header, err := r.FormFile("referenceImage")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s", sessionID, assets.SanitizeFilename(header.Filename))
	if err := h.Assets.Save(name, data); err != nil {
		return "", err
	}
	return name, nil
}

func (h *StoryHandler) trackUsage(r *http.Request, sessionID, kind, model string, usage genai.Usage, fromCache bool) {
	if h.Tracker == nil {
		return
	}
	err := h.Tracker.Add(r.Context(), tracker.Record{
		SessionID:        sessionID,
		Kind:             kind,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		FromCache:        fromCache,
	})
	if err != nil {
		logging.L(r.Context()).Warn("recording usage failed", zap.Error(err))
	}
}

func formValueOr(r *http.Request, key, def string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return def
}

// writeJSON sends JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
