package storage

import (
	"context"
	"sync"
)

type memoryObject struct {
	body        []byte
	contentType string
}

// Memory is an in-process Store used in development and tests.
type Memory struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemory(baseURL string) *Memory {
	return &Memory{baseURL: baseURL, objects: make(map[string]memoryObject)}
}

func (m *Memory) Upload(_ context.Context, key string, body []byte, contentType string, upsert bool) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; ok && !upsert {
		return "", ErrObjectExists
	}
	m.objects[key] = memoryObject{body: append([]byte(nil), body...), contentType: contentType}
	return m.PublicURL(key), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) PublicURL(key string) string {
	return joinURL(m.baseURL, key)
}

// Object returns the stored bytes and content type of key.
func (m *Memory) Object(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.body, obj.contentType, ok
}
