package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is an in-process Index used by tests. Scoring is term overlap
// between query and content; filters match metadata exactly.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry

	// Down makes every call fail, simulating an unreachable service.
	Down bool
}

// NewMemoryIndex initializes an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Available() bool {
	return m != nil
}

func (m *MemoryIndex) Upsert(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return fmt.Errorf("index unreachable")
	}
	m.entries[entry.ID] = entry
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Down {
		return fmt.Errorf("index unreachable")
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, query string, filter map[string]string, topK int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Down {
		return nil, fmt.Errorf("index unreachable")
	}
	terms := strings.Fields(strings.ToLower(query))
	var hits []Hit
	for _, entry := range m.entries {
		if !matchesFilter(entry.Metadata, filter) {
			continue
		}
		content := strings.ToLower(entry.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, Hit{
			ID:       entry.ID,
			Content:  entry.Content,
			Metadata: entry.Metadata,
			Score:    float64(matched) / float64(len(terms)),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Has reports whether an entry exists, for test assertions.
func (m *MemoryIndex) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
