package memory

import (
	"context"
	"sync"
	"time"

	"github.com/llmspell-go/kernel/internal/domain"
)

// Working is per-session ephemeral context, cleared explicitly and never
// persisted past process lifetime — it lives entirely in memory, unlike
// episodic/semantic memory, which are backed by storage and the graph.
type Working struct {
	mu       sync.RWMutex
	sessions map[string][]domain.MemoryItem
}

func NewWorking() *Working {
	return &Working{sessions: make(map[string][]domain.MemoryItem)}
}

// Add appends an item to sessionID's working context.
func (w *Working) Add(ctx context.Context, sessionID string, item domain.MemoryItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	item.MemoryType = domain.MemoryWorking
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	w.sessions[sessionID] = append(w.sessions[sessionID], item)
}

// List returns a copy of sessionID's current working context.
func (w *Working) List(ctx context.Context, sessionID string) []domain.MemoryItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	items := w.sessions[sessionID]
	out := make([]domain.MemoryItem, len(items))
	copy(out, items)
	return out
}

// ClearWorkingMemory empties sessionID's working context.
func (w *Working) ClearWorkingMemory(ctx context.Context, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
}
