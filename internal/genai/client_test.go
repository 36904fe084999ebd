package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}

		resp := providerChatResponse{
			ID:      "chatcmpl-1",
			Object:  "chat.completion",
			Created: time.Unix(1_700_000_000, 0).Unix(),
			Model:   "gpt-4",
			Choices: []providerChatChoice{
				{
					Index: 0,
					Message: ChatMessage{
						Role:    RoleAssistant,
						Content: `["scene one", "scene two"]`,
					},
					FinishReason: "stop",
				},
			},
			Usage: &providerUsage{
				PromptTokens:     3,
				CompletionTokens: 2,
				TotalTokens:      5,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	req := &ChatRequest{
		Model: "gpt-4",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "generate prompts"},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	}

	resp, err := client.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Model != req.Model {
		t.Fatalf("expected model %s, got %s", req.Model, gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "generate prompts" {
		t.Fatalf("unexpected request messages: %#v", gotReq.Messages)
	}

	if resp == nil || len(resp.Choices) != 1 {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if !strings.Contains(resp.Choices[0].Message.Content, "scene one") {
		t.Fatalf("unexpected response message: %#v", resp.Choices[0].Message)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage not mapped correctly: %#v", resp.Usage)
	}
}

func TestChatCompletionValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("server should not be called for invalid request")
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.ChatCompletion(context.Background(), &ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChatCompletionUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.ChatCompletion(context.Background(), &ChatRequest{
		Model:    "nope",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected provider error message, got %v", err)
	}
}

func TestGenerateImageGeneration(t *testing.T) {
	t.Parallel()

	imageBytes := []byte("fake-png-data")
	var gotReq providerImageRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		resp := providerImageResponse{
			Created: time.Now().Unix(),
			Data: []providerImageData{
				{B64JSON: base64.StdEncoding.EncodeToString(imageBytes)},
			},
			Usage: &providerImageUsage{
				InputTokens:  4,
				OutputTokens: 6,
				TotalTokens:  10,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "image-key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	resp, err := client.GenerateImage(context.Background(), &ImageRequest{
		Model:   "gpt-image-1",
		Prompt:  "a glowing cave",
		Size:    "1024x1536",
		Quality: "high",
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}

	if gotAuth != "Bearer image-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.Model != "gpt-image-1" || gotReq.Prompt != "a glowing cave" {
		t.Fatalf("unexpected request: %#v", gotReq)
	}
	if gotReq.N != 1 {
		t.Fatalf("expected n=1, got %d", gotReq.N)
	}
	if gotReq.Size != "1024x1536" || gotReq.Quality != "high" {
		t.Fatalf("size/quality not forwarded: %#v", gotReq)
	}

	if string(resp.Image) != string(imageBytes) {
		t.Fatalf("image bytes not decoded: %q", resp.Image)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 4 || resp.Usage.CompletionTokens != 6 {
		t.Fatalf("image usage not mapped: %#v", resp.Usage)
	}
}

func TestGenerateImageEditWithReference(t *testing.T) {
	t.Parallel()

	imageBytes := []byte("edited-png")
	var gotModel, gotPrompt, gotQuality string
	var gotReference []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/edits" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotPrompt = r.FormValue("prompt")
		gotQuality = r.FormValue("quality")

		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("missing image part: %v", err)
		}
		defer file.Close()
		if header.Filename != "reference.png" {
			t.Fatalf("unexpected reference filename: %s", header.Filename)
		}
		gotReference, err = io.ReadAll(file)
		if err != nil {
			t.Fatalf("read reference: %v", err)
		}

		resp := providerImageResponse{
			Created: time.Now().Unix(),
			Data: []providerImageData{
				{B64JSON: base64.StdEncoding.EncodeToString(imageBytes)},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "edit-key",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	resp, err := client.GenerateImage(context.Background(), &ImageRequest{
		Model:          "gpt-image-1",
		Prompt:         "Alex in a forest",
		Size:           "1024x1536",
		Quality:        "medium",
		ReferenceImage: []byte("reference-photo"),
		ReferenceName:  "reference.png",
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}

	if gotModel != "gpt-image-1" || gotPrompt != "Alex in a forest" || gotQuality != "medium" {
		t.Fatalf("multipart fields not forwarded: model=%s prompt=%s quality=%s", gotModel, gotPrompt, gotQuality)
	}
	if string(gotReference) != "reference-photo" {
		t.Fatalf("reference photo not forwarded: %q", gotReference)
	}
	if string(resp.Image) != string(imageBytes) {
		t.Fatalf("image bytes not decoded: %q", resp.Image)
	}
}

func TestGenerateImageRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := providerImageResponse{
			Created: time.Now().Unix(),
			Data: []providerImageData{
				{B64JSON: base64.StdEncoding.EncodeToString([]byte("ok"))},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      "retry-key",
		BaseBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	resp, err := client.GenerateImage(context.Background(), &ImageRequest{
		Model:  "gpt-image-1",
		Prompt: "retry me",
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
	if string(resp.Image) != "ok" {
		t.Fatalf("unexpected image: %q", resp.Image)
	}
}

func closeClient(c Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
