// Package session holds per-story state between the generation steps:
// prompts first, illustrations later. An explicit store interface replaces
// ad-hoc process globals; the file backend survives restarts, the memory
// backend is for dev and tests.
package session

import (
	"time"

	"storybook-service/internal/genai"
)

// Session is everything accumulated for one storybook run.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ChildName  string `json:"child_name"`
	Theme      string `json:"theme"`
	Traits     string `json:"traits"`
	SceneCount int    `json:"scene_count"`

	IllustrationQuality string `json:"illustration_quality"`
	BackgroundQuality   string `json:"background_quality"`

	Prompts        []string `json:"prompts,omitempty"`
	Backdrop       string   `json:"backdrop,omitempty"`
	Illustrations  []string `json:"illustrations,omitempty"`
	ReferenceImage string   `json:"reference_image,omitempty"`

	TokenUsage genai.Usage `json:"token_usage"`
}

// AddUsage accumulates token usage across generation calls.
func (s *Session) AddUsage(u genai.Usage) {
	s.TokenUsage.PromptTokens += u.PromptTokens
	s.TokenUsage.CompletionTokens += u.CompletionTokens
	s.TokenUsage.TotalTokens += u.TotalTokens
}

// Store is the session persistence interface.
type Store interface {
	Get(id string) (*Session, bool)
	Put(s *Session) error
	Delete(id string) error
	All() []*Session
	// Cleanup removes sessions older than maxAge and returns how many.
	Cleanup(maxAge time.Duration) int
}

// New builds the configured backend: "file" (default, path required) or
// "memory".
func New(backend, path string) (Store, error) {
	if backend == "memory" {
		return NewMemoryStore(), nil
	}
	return NewFileStore(path)
}
