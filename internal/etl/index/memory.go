package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Index. Documents are stored as JSON so what it
// holds matches what a cluster would receive.
type Memory struct {
	mu       sync.RWMutex
	mappings map[string][]byte
	docs     map[string]map[string]json.RawMessage
	bulks    map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		mappings: make(map[string][]byte),
		docs:     make(map[string]map[string]json.RawMessage),
		bulks:    make(map[string]int),
	}
}

func (m *Memory) EnsureIndex(_ context.Context, name string, mapping []byte) error {
	if !json.Valid(mapping) {
		return fmt.Errorf("mapping of %s is not valid JSON", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[name]; ok {
		return nil
	}
	m.mappings[name] = mapping
	m.docs[name] = make(map[string]json.RawMessage)
	return nil
}

func (m *Memory) Bulk(_ context.Context, name string, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	encoded := make(map[string]json.RawMessage, len(actions))
	for _, a := range actions {
		data, err := json.Marshal(a.Doc)
		if err != nil {
			return fmt.Errorf("encoding document %s: %w", a.ID, err)
		}
		encoded[a.ID] = data
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.docs[name]
	if !ok {
		docs = make(map[string]json.RawMessage)
		m.docs[name] = docs
	}
	for id, data := range encoded {
		docs[id] = data
	}
	m.bulks[name]++
	return nil
}

func (m *Memory) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[name])
}

// Bulks returns how many non-empty bulk requests name received.
func (m *Memory) Bulks(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bulks[name]
}

// Get decodes the document id of index name into dst.
func (m *Memory) Get(name, id string, dst any) (bool, error) {
	m.mu.RLock()
	data, ok := m.docs[name][id]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dst)
}

// IDs returns the document ids of index name in sorted order.
func (m *Memory) IDs(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs[name]))
	for id := range m.docs[name] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Memory) Indexes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.mappings))
	for name := range m.mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
