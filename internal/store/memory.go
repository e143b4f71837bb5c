package store

import (
	"context"
	"sort"
	"sync"
)

type memoryDoc struct {
	version int64
	body    []byte
	idx     map[string]string
}

// MemoryStore keeps documents in process. It backs tests and single-node
// development setups.
type MemoryStore struct {
	mu     sync.RWMutex
	schema Schema
	docs   map[string]map[string]*memoryDoc
}

func NewMemoryStore(schema Schema) *MemoryStore {
	return &MemoryStore{
		schema: schema,
		docs:   make(map[string]map[string]*memoryDoc),
	}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, notFound(collection, id)
	}
	return doc.document(id), nil
}

func (s *MemoryStore) Put(_ context.Context, collection, id string, body any) (int64, error) {
	data, err := encode(body)
	if err != nil {
		return 0, err
	}
	idx, err := s.schema.indexes(collection, data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if current, ok := s.docs[collection][id]; ok {
		version = current.version
	}
	return s.writeLocked(collection, id, version+1, data, idx), nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) (int64, error) {
	return updateWithRetry(ctx, s, collection, id, fields)
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, collection, id string, expectedVersion int64, body any) (int64, error) {
	data, err := encode(body)
	if err != nil {
		return 0, err
	}
	idx, err := s.schema.indexes(collection, data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if current, ok := s.docs[collection][id]; ok {
		version = current.version
	}
	if version != expectedVersion {
		return 0, conflict(collection)
	}
	return s.writeLocked(collection, id, version+1, data, idx), nil
}

func (s *MemoryStore) QueryByIndex(_ context.Context, collection, index, value string) ([]*Document, error) {
	if err := s.schema.checkQuery(collection, index); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Document
	for id, doc := range s.docs[collection] {
		if doc.idx[index] == value {
			out = append(out, doc.document(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) writeLocked(collection, id string, version int64, data []byte, idx map[string]string) int64 {
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]*memoryDoc)
		s.docs[collection] = coll
	}

	body := make([]byte, len(data))
	copy(body, data)
	coll[id] = &memoryDoc{version: version, body: body, idx: idx}
	return version
}

func (d *memoryDoc) document(id string) *Document {
	body := make([]byte, len(d.body))
	copy(body, d.body)
	return &Document{ID: id, Version: d.version, Body: body}
}
