package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"bookrag/internal/domain"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
	Sources   []domain.SearchResult
}

// History is the chat transcript owned by one hosting surface.
type History struct {
	mu       sync.RWMutex
	now      func() time.Time
	messages []Message
}

func NewHistory() *History {
	return &History{now: time.Now}
}

func (h *History) Add(role, content string, sources []domain.SearchResult) Message {
	m := Message{
		Role:      role,
		Content:   content,
		Timestamp: h.now(),
		Sources:   append([]domain.SearchResult(nil), sources...),
	}
	h.mu.Lock()
	h.messages = append(h.messages, m)
	h.mu.Unlock()
	return m
}

func (h *History) Clear() {
	h.mu.Lock()
	h.messages = nil
	h.mu.Unlock()
}

// Messages returns a copy of the transcript, oldest first.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Message(nil), h.messages...)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// FormatSources lists retrieved passages as numbered page references.
func FormatSources(sources []domain.SearchResult) string {
	if len(sources) == 0 {
		return "No sources found"
	}
	lines := make([]string, 0, len(sources))
	for i, s := range sources {
		lines = append(lines, fmt.Sprintf("%d. Page %d (Relevance: %.3f)", i+1, s.Chunk.Page, s.Score))
	}
	return strings.Join(lines, "\n")
}
