package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"storybook-service/internal/assets"
	"storybook-service/internal/cache"
	"storybook-service/internal/config"
	"storybook-service/internal/genai"
	"storybook-service/internal/illustration"
	"storybook-service/internal/session"
	"storybook-service/internal/story"
)

type mockGenClient struct {
	chatResp   *genai.ChatResponse
	chatErr    error
	chatCalls  int
	imageResp  *genai.ImageResponse
	imageErr   error
	imageCalls int
}

func (m *mockGenClient) ChatCompletion(ctx context.Context, req *genai.ChatRequest) (*genai.ChatResponse, error) {
	m.chatCalls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func (m *mockGenClient) GenerateImage(ctx context.Context, req *genai.ImageRequest) (*genai.ImageResponse, error) {
	m.imageCalls++
	if m.imageErr != nil {
		return nil, m.imageErr
	}
	return m.imageResp, nil
}

func happyClient() *mockGenClient {
	return &mockGenClient{
		chatResp: &genai.ChatResponse{
			Choices: []genai.ChatChoice{
				{Message: genai.ChatMessage{Role: genai.RoleAssistant, Content: `["p1", "p2"]`}},
			},
			Usage: &genai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		},
		imageResp: &genai.ImageResponse{
			Image: []byte("png"),
			Usage: &genai.Usage{TotalTokens: 15},
		},
	}
}

func newTestHandler(t *testing.T, client genai.Client) (*StoryHandler, session.Store) {
	t.Helper()

	assetStore, err := assets.New(t.TempDir())
	if err != nil {
		t.Fatalf("assets.New: %v", err)
	}

	memStore := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { memStore.Close() })
	imageCache := cache.NewAssetValidatingStore(memStore, assetStore)

	storyService, err := story.NewService(client, memStore, "gpt-4")
	if err != nil {
		t.Fatalf("story.NewService: %v", err)
	}
	illustrationService := illustration.NewService(client, imageCache, assetStore, "gpt-image-1")

	sessions := session.NewMemoryStore()

	h := &StoryHandler{
		Stories:       storyService,
		Illustrations: illustrationService,
		Sessions:      sessions,
		Assets:        assetStore,
		Defaults: config.StoryConfig{
			SceneCount:          2,
			IllustrationQuality: "high",
			BackgroundQuality:   "medium",
			ImageSize:           "1024x1536",
		},
		TextModel:  "gpt-4",
		ImageModel: "gpt-image-1",
	}
	return h, sessions
}

func newTestRouter(h *StoryHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/stories", h.CreateStory)
	r.Get("/api/stories/{sessionID}", h.GetStory)
	r.Post("/api/stories/{sessionID}/illustrations", h.GenerateIllustrations)
	return r
}

func postForm(t *testing.T, r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestCreateStory(t *testing.T) {
	client := happyClient()
	h, sessions := newTestHandler(t, client)
	r := newTestRouter(h)

	rr := postForm(t, r, "/api/stories", url.Values{
		"childName": {"Alex"},
		"theme":     {"space"},
		"traits":    {"curious"},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ID                string   `json:"id"`
		Prompts           []string `json:"prompts"`
		Backdrop          string   `json:"backdrop"`
		StoryFromCache    bool     `json:"story_from_cache"`
		BackdropFromCache bool     `json:"backdrop_from_cache"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.ID == "" {
		t.Fatalf("missing session id")
	}
	if len(resp.Prompts) != 2 {
		t.Fatalf("unexpected prompts: %#v", resp.Prompts)
	}
	if !strings.HasSuffix(resp.Backdrop, "_backdrop.png") {
		t.Fatalf("unexpected backdrop filename: %s", resp.Backdrop)
	}
	if resp.StoryFromCache || resp.BackdropFromCache {
		t.Fatalf("first request must not report cache hits")
	}

	sess, ok := sessions.Get(resp.ID)
	if !ok {
		t.Fatalf("session not persisted")
	}
	if sess.SceneCount != 2 || sess.ChildName != "Alex" {
		t.Fatalf("unexpected session: %#v", sess)
	}
	if sess.TokenUsage.TotalTokens != 45 {
		t.Fatalf("token usage not accumulated: %#v", sess.TokenUsage)
	}
	if client.chatCalls != 1 || client.imageCalls != 1 {
		t.Fatalf("unexpected upstream calls: chat=%d image=%d", client.chatCalls, client.imageCalls)
	}
}

func TestCreateStoryRepeatServedFromCache(t *testing.T) {
	client := happyClient()
	h, _ := newTestHandler(t, client)
	r := newTestRouter(h)

	form := url.Values{
		"childName": {"Mia"},
		"theme":     {"ocean"},
		"traits":    {"brave"},
	}
	if rr := postForm(t, r, "/api/stories", form); rr.Code != http.StatusCreated {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr := postForm(t, r, "/api/stories", form)
	if rr.Code != http.StatusCreated {
		t.Fatalf("second request: %d", rr.Code)
	}

	var resp struct {
		StoryFromCache    bool `json:"story_from_cache"`
		BackdropFromCache bool `json:"backdrop_from_cache"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.StoryFromCache || !resp.BackdropFromCache {
		t.Fatalf("repeat request should be served from cache: %+v", resp)
	}
	if client.chatCalls != 1 || client.imageCalls != 1 {
		t.Fatalf("repeat request hit upstream: chat=%d image=%d", client.chatCalls, client.imageCalls)
	}
}

func TestCreateStoryValidation(t *testing.T) {
	h, _ := newTestHandler(t, happyClient())
	r := newTestRouter(h)

	cases := []url.Values{
		{"theme": {"space"}, "traits": {"curious"}},
		{"childName": {"Alex"}, "traits": {"curious"}},
		{"childName": {"Alex"}, "theme": {"space"}},
		{"childName": {"Alex"}, "theme": {"space"}, "traits": {"curious"}, "sceneCount": {"99"}},
		{"childName": {"Alex"}, "theme": {"space"}, "traits": {"curious"}, "sceneCount": {"abc"}},
	}
	for i, form := range cases {
		if rr := postForm(t, r, "/api/stories", form); rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, rr.Code)
		}
	}
}

func TestCreateStoryUpstreamFailure(t *testing.T) {
	client := happyClient()
	client.chatErr = context.DeadlineExceeded
	h, _ := newTestHandler(t, client)
	r := newTestRouter(h)

	rr := postForm(t, r, "/api/stories", url.Values{
		"childName": {"Alex"},
		"theme":     {"space"},
		"traits":    {"curious"},
	})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestGenerateIllustrations(t *testing.T) {
	client := happyClient()
	h, sessions := newTestHandler(t, client)
	r := newTestRouter(h)

	sess := &session.Session{
		ID:                  "sess-1",
		CreatedAt:           time.Now().UTC(),
		ChildName:           "Alex",
		Theme:               "space",
		SceneCount:          2,
		IllustrationQuality: "high",
		Prompts:             []string{"scene one", "scene two"},
	}
	if err := sessions.Put(sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/stories/sess-1/illustrations", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp session.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Illustrations) != 2 {
		t.Fatalf("expected 2 illustrations, got %#v", resp.Illustrations)
	}
	if resp.Illustrations[0] != "sess-1_scene_01.png" || resp.Illustrations[1] != "sess-1_scene_02.png" {
		t.Fatalf("unexpected filenames: %#v", resp.Illustrations)
	}
	if client.imageCalls != 2 {
		t.Fatalf("expected 2 image calls, got %d", client.imageCalls)
	}

	stored, _ := sessions.Get("sess-1")
	if len(stored.Illustrations) != 2 {
		t.Fatalf("illustrations not persisted: %#v", stored.Illustrations)
	}
}

func TestGenerateIllustrationsUnknownSession(t *testing.T) {
	h, _ := newTestHandler(t, happyClient())
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/stories/nope/illustrations", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetStory(t *testing.T) {
	h, sessions := newTestHandler(t, happyClient())
	r := newTestRouter(h)

	if err := sessions.Put(&session.Session{ID: "lookup", ChildName: "Mia", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stories/lookup", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var got session.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ChildName != "Mia" {
		t.Fatalf("unexpected session: %#v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stories/missing", nil)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rr.Code)
	}
}
