package testutil

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// FakeModel is an OpenAI-compatible chat completion backend that answers
// every request with the same fenced program and remembers the user prompts
// it saw. Serve it with httptest.NewServer.
type FakeModel struct {
	Program string
	// Delay holds each reply back, honoring request cancellation.
	Delay time.Duration
	// Status, when set, replaces the reply with an error response.
	Status int

	mu      sync.Mutex
	prompts []string
}

func (m *FakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	m.mu.Lock()
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			m.prompts = append(m.prompts, msg.Content)
		}
	}
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(m.Delay):
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if m.Status != 0 {
		w.WriteHeader(m.Status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": http.StatusText(m.Status)},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id": "chatcmpl-test",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": "```python\n" + m.Program + "\n```"}},
		},
	})
}

// LastPrompt returns the most recent user prompt, or "" before any call.
func (m *FakeModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// Calls returns the number of requests served.
func (m *FakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
