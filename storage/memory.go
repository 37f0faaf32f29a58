package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/ShoshinNikita/rthumb/rthumb"
)

// MemoryStore is an in-memory [rthumb.ObjectStore]. It is used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data               []byte
	contentType        string
	contentDisposition string
	metadata           map[string]string
}

var _ rthumb.ObjectStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*rthumb.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", rthumb.ErrNotFound, key)
	}
	return &rthumb.Object{
		Data:        slices.Clone(obj.data),
		ContentType: obj.contentType,
		Metadata:    maps.Clone(obj.metadata),
	}, nil
}

// ContentDisposition returns the Content-Disposition of the object, if any.
func (s *MemoryStore) ContentDisposition(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.objects[key].contentDisposition
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, opts rthumb.PutOptions) error {
	obj := memoryObject{
		data:        slices.Clone(data),
		contentType: opts.ContentType,
		metadata:    normalizeMetadata(opts.Metadata),
	}
	if obj.contentType == "" {
		obj.contentType = rthumb.DefaultContentType
	}
	if opts.Filename != "" {
		obj.contentDisposition = ContentDisposition(opts.Filename)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = obj
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Move(_ context.Context, src, dst string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[src]
	if !ok {
		return false, nil
	}
	if _, ok := s.objects[dst]; ok {
		return false, nil
	}

	s.objects[dst] = obj
	delete(s.objects, src)
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("prefix can't be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maps.DeleteFunc(s.objects, func(key string, _ memoryObject) bool {
		return strings.HasPrefix(key, prefix)
	})
	return nil
}
