package blobs

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

type memory struct {
	mu      sync.RWMutex
	name    string
	created bool
	objects map[string][]byte
}

// NewMemory returns an in-memory bucket, for use in testing
func NewMemory(name string) Bucket {
	return &memory{name: name, objects: map[string][]byte{}}
}

func (m *memory) Name() string { return m.name }

func (m *memory) Ensure(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created {
		return false, nil
	}
	m.created = true
	return true, nil
}

func (m *memory) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[name] = b
	m.mu.Unlock()
	return URI(m.name, name), nil
}

func (m *memory) Put(ctx context.Context, name string, data []byte, onlyIfAbsent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; ok && onlyIfAbsent {
		return ErrExists
	}
	m.objects[name] = append([]byte(nil), data...)
	return nil
}

func (m *memory) Get(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[name]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), b...), nil
}

func (m *memory) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}
