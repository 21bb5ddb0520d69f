package storage

import (
	"context"
	"sync"
)

// MemoryKV 是进程内实现，用于测试和一次性任务。
type MemoryKV struct {
	mu     sync.RWMutex
	tables map[string]map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{tables: make(map[string]map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, table, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.tables[table][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Put(_ context.Context, table, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		t = make(map[string]string)
		m.tables[table] = t
	}
	t[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[table], key)
	return nil
}

func (m *MemoryKV) Exists(_ context.Context, table, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[table][key]
	return ok, nil
}

func (m *MemoryKV) Values(_ context.Context, table string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := sortedKeys(m.tables[table])
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.tables[table][k])
	}
	return out, nil
}

func (m *MemoryKV) Items(_ context.Context, table string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.tables[table]))
	for k, v := range m.tables[table] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryKV) Close() error { return nil }
