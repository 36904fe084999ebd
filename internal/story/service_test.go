package story

import (
	"context"
	"strings"
	"testing"
	"time"

	"storybook-service/internal/cache"
	"storybook-service/internal/genai"
)

type mockGenClient struct {
	chatResp    *genai.ChatResponse
	chatErr     error
	chatCalls   int
	lastRequest *genai.ChatRequest
}

func (m *mockGenClient) ChatCompletion(ctx context.Context, req *genai.ChatRequest) (*genai.ChatResponse, error) {
	m.chatCalls++
	m.lastRequest = req
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func (m *mockGenClient) GenerateImage(ctx context.Context, req *genai.ImageRequest) (*genai.ImageResponse, error) {
	panic("story service must not generate images")
}

func newTestService(t *testing.T, client genai.Client) (*Service, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	svc, err := NewService(client, store, "gpt-4")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestGeneratePrompts(t *testing.T) {
	fake := &mockGenClient{
		chatResp: &genai.ChatResponse{
			Choices: []genai.ChatChoice{
				{Message: genai.ChatMessage{Role: genai.RoleAssistant, Content: `["p1", "p2", "p3"]`}},
			},
			Usage: &genai.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		},
	}
	svc, _ := newTestService(t, fake)

	req := &Request{ChildName: "Alex", Theme: "space", Traits: "curious", SceneCount: 3}
	result, err := svc.GeneratePrompts(context.Background(), req)
	if err != nil {
		t.Fatalf("GeneratePrompts: %v", err)
	}

	if len(result.Prompts) != 3 || result.Prompts[0] != "p1" {
		t.Fatalf("unexpected prompts: %#v", result.Prompts)
	}
	if result.FromCache {
		t.Fatalf("first call must not report from_cache")
	}
	if result.TokenUsage.TotalTokens != 30 {
		t.Fatalf("usage not mapped: %#v", result.TokenUsage)
	}
	if fake.chatCalls != 1 {
		t.Fatalf("expected one upstream call, got %d", fake.chatCalls)
	}
	if !strings.Contains(fake.lastRequest.Messages[0].Content, "Alex") {
		t.Fatalf("prompt template missing child name: %s", fake.lastRequest.Messages[0].Content)
	}
}

func TestGeneratePromptsSecondCallCached(t *testing.T) {
	fake := &mockGenClient{
		chatResp: &genai.ChatResponse{
			Choices: []genai.ChatChoice{
				{Message: genai.ChatMessage{Role: genai.RoleAssistant, Content: `["p1", "p2"]`}},
			},
		},
	}
	svc, _ := newTestService(t, fake)

	ctx := context.Background()
	req := &Request{ChildName: "Mia", Theme: "ocean", Traits: "brave", SceneCount: 2}

	first, err := svc.GeneratePrompts(ctx, req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := svc.GeneratePrompts(ctx, req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if fake.chatCalls != 1 {
		t.Fatalf("second call hit upstream, calls=%d", fake.chatCalls)
	}
	if !second.FromCache {
		t.Fatalf("second call should report from_cache")
	}
	if len(second.Prompts) != len(first.Prompts) || second.Prompts[0] != first.Prompts[0] {
		t.Fatalf("cached prompts differ: %#v vs %#v", second.Prompts, first.Prompts)
	}
}

func TestGeneratePromptsDistinctRequestsDistinctKeys(t *testing.T) {
	fake := &mockGenClient{
		chatResp: &genai.ChatResponse{
			Choices: []genai.ChatChoice{
				{Message: genai.ChatMessage{Role: genai.RoleAssistant, Content: `["p1"]`}},
			},
		},
	}
	svc, _ := newTestService(t, fake)

	ctx := context.Background()
	if _, err := svc.GeneratePrompts(ctx, &Request{ChildName: "Alex", Theme: "space", Traits: "curious", SceneCount: 1}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.GeneratePrompts(ctx, &Request{ChildName: "Alex", Theme: "space", Traits: "curious", SceneCount: 2}); err != nil {
		t.Fatalf("second: %v", err)
	}

	if fake.chatCalls != 2 {
		t.Fatalf("different scene counts must not share a cache entry, calls=%d", fake.chatCalls)
	}
}

func TestGeneratePromptsValidation(t *testing.T) {
	svc, _ := newTestService(t, &mockGenClient{})

	cases := []*Request{
		{Theme: "space", Traits: "curious", SceneCount: 3},
		{ChildName: "Alex", Traits: "curious", SceneCount: 3},
		{ChildName: "Alex", Theme: "space", Traits: "curious", SceneCount: 0},
		{ChildName: "Alex", Theme: "space", Traits: "curious", SceneCount: 13},
	}
	for i, req := range cases {
		if _, err := svc.GeneratePrompts(context.Background(), req); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
