package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

type memObject struct {
	meta Metadata
	data []byte
}

// MemoryBackend keeps objects in process memory. Used in development and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]*memObject)}
}

func (b *MemoryBackend) Put(_ context.Context, key string, data []byte, meta *Metadata) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	b.mu.Lock()
	b.objects[key] = &memObject{meta: *meta, data: cp}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) (io.ReadCloser, *Metadata, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, notFound(key)
	}
	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.data)), &meta, nil
}

func (b *MemoryBackend) Stat(_ context.Context, key string) (*Metadata, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, notFound(key)
	}
	meta := obj.meta
	return &meta, nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return notFound(key)
	}
	delete(b.objects, key)
	return nil
}

func (b *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
