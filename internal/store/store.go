// Package store is a versioned JSON document store with secondary indexes.
//
// Every document carries a version that increases by one on each write.
// CompareAndSwap is the only primitive callers use for critical sections;
// there are no multi-document transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/monitoring"
)

type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Put writes body unconditionally, creating the document if needed.
	Put(ctx context.Context, collection, id string, body any) (int64, error)
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, collection, id string, fields map[string]any) (int64, error)
	// QueryByIndex returns documents whose indexed field equals value,
	// ordered by id.
	QueryByIndex(ctx context.Context, collection, index, value string) ([]*Document, error)
	// CompareAndSwap writes body only when the stored version equals
	// expectedVersion. An expectedVersion of 0 means create-if-absent.
	CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, body any) (int64, error)
	Ping(ctx context.Context) error
}

type Document struct {
	ID      string
	Version int64
	Body    json.RawMessage
}

func (d *Document) Decode(v any) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Schema lists the indexed top-level string fields of each collection.
type Schema map[string][]string

func DefaultSchema() Schema {
	return Schema{
		"registrations": {"eventId", "userId"},
		"tickets":       {"eventId", "userId", "registrationToken"},
		"payments":      {"userId"},
	}
}

func (s Schema) hasIndex(collection, index string) bool {
	for _, name := range s[collection] {
		if name == index {
			return true
		}
	}
	return false
}

// indexes extracts the index values present in body. Missing, empty and
// non-string fields are not indexed.
func (s Schema) indexes(collection string, body []byte) (map[string]string, error) {
	names := s[collection]
	if len(names) == 0 {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("index %s document: %w", collection, err)
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || v == "" {
			continue
		}
		out[name] = v
	}
	return out, nil
}

func (s Schema) checkQuery(collection, index string) error {
	if !s.hasIndex(collection, index) {
		return status.New(status.KindInvalidRequest, fmt.Sprintf("%s has no index %q", collection, index))
	}
	return nil
}

// encode turns a body argument into a JSON object.
func encode(body any) ([]byte, error) {
	var data []byte
	switch b := body.(type) {
	case json.RawMessage:
		data = b
	case []byte:
		data = b
	default:
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
	}

	if len(data) == 0 || data[0] != '{' {
		return nil, errors.New("encode document: body must be a JSON object")
	}
	return data, nil
}

func mergeFields(body []byte, fields map[string]any) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("merge fields: %w", err)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage, len(fields))
	}

	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("merge field %s: %w", k, err)
		}
		doc[k] = raw
	}
	return json.Marshal(doc)
}

const maxUpdateAttempts = 5

// updateWithRetry implements Update as read, merge, compare-and-swap.
func updateWithRetry(ctx context.Context, s Store, collection, id string, fields map[string]any) (int64, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			return 0, err
		}

		body, err := mergeFields(doc.Body, fields)
		if err != nil {
			return 0, err
		}

		version, err := s.CompareAndSwap(ctx, collection, id, doc.Version, json.RawMessage(body))
		if errors.Is(err, status.ErrVersionConflict) {
			continue
		}
		return version, err
	}
	return 0, fmt.Errorf("update %s/%s after %d attempts: %w", collection, id, maxUpdateAttempts, status.ErrVersionConflict)
}

func conflict(collection string) error {
	monitoring.RecordCASConflict(collection)
	return status.ErrVersionConflict
}

func notFound(collection, id string) error {
	return fmt.Errorf("%s/%s: %w", collection, id, status.ErrNotFound)
}
