package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a mutex-guarded in-process Store. Every call is atomic, so
// it preserves the conditional-write semantics the domain layer relies on.
// Used by tests and local development; production runs Postgres or Redis.
type MemoryStore struct {
	mu         sync.Mutex
	partitions map[string]map[string]map[string]any
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: map[string]map[string]map[string]any{}}
}

// Put writes the item, honoring cond when non-nil
func (m *MemoryStore) Put(ctx context.Context, item Item, cond *Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.lookup(item.Key)
	if err := checkCondition(existing, cond); err != nil {
		return err
	}

	part := m.partitions[item.Key.Partition]
	if part == nil {
		part = map[string]map[string]any{}
		m.partitions[item.Key.Partition] = part
	}
	part[item.Key.Sort] = copyAttrs(item.Attributes)
	return nil
}

// Delete removes the item at key, honoring cond when non-nil
func (m *MemoryStore) Delete(ctx context.Context, key Key, cond *Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.lookup(key)
	if err := checkCondition(existing, cond); err != nil {
		return err
	}
	if part := m.partitions[key.Partition]; part != nil {
		delete(part, key.Sort)
	}
	return nil
}

// Get fetches one item, or ErrNotFound
func (m *MemoryStore) Get(ctx context.Context, key Key) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attrs := m.lookup(key)
	if attrs == nil {
		return nil, ErrNotFound
	}
	return &Item{Key: key, Attributes: copyAttrs(attrs)}, nil
}

// BatchGet fetches the items at keys; absent keys are skipped
func (m *MemoryStore) BatchGet(ctx context.Context, keys []Key) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]Item, 0, len(keys))
	for _, key := range keys {
		if attrs := m.lookup(key); attrs != nil {
			items = append(items, Item{Key: key, Attributes: copyAttrs(attrs)})
		}
	}
	return items, nil
}

// Add atomically adds delta to a numeric attribute and returns the new value
func (m *MemoryStore) Add(ctx context.Context, key Key, field string, delta int64, bound *Bound) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attrs := m.lookup(key)
	if attrs == nil {
		return 0, ErrNotFound
	}
	next := Int(attrs, field) + delta
	if bound != nil {
		if bound.Max != nil && next > *bound.Max {
			return 0, ErrConditionFailed
		}
		if bound.Min != nil && next < *bound.Min {
			return 0, ErrConditionFailed
		}
	}
	attrs[field] = next
	return next, nil
}

// Query returns one ordered page of the partition
func (m *MemoryStore) Query(ctx context.Context, partition string, opts QueryOptions) (*QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	after, err := DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, ErrConditionFailed
	}

	part := m.partitions[partition]
	sorts := make([]string, 0, len(part))
	for sk := range part {
		if opts.Prefix == "" || strings.HasPrefix(sk, opts.Prefix) {
			sorts = append(sorts, sk)
		}
	}
	sort.Strings(sorts)
	if opts.Descending {
		for i, j := 0, len(sorts)-1; i < j; i, j = i+1, j-1 {
			sorts[i], sorts[j] = sorts[j], sorts[i]
		}
	}

	result := &QueryResult{}
	for _, sk := range sorts {
		if after != "" {
			if (!opts.Descending && sk <= after) || (opts.Descending && sk >= after) {
				continue
			}
		}
		if opts.Limit > 0 && len(result.Items) == opts.Limit {
			result.NextCursor = EncodeCursor(result.Items[len(result.Items)-1].Key.Sort)
			break
		}
		result.Items = append(result.Items, Item{
			Key:        Key{Partition: partition, Sort: sk},
			Attributes: copyAttrs(part[sk]),
		})
	}
	return result, nil
}

func (m *MemoryStore) lookup(key Key) map[string]any {
	if part := m.partitions[key.Partition]; part != nil {
		return part[key.Sort]
	}
	return nil
}

func checkCondition(existing map[string]any, cond *Condition) error {
	if cond == nil {
		return nil
	}
	if cond.NotExists {
		if existing != nil {
			return ErrConditionFailed
		}
		return nil
	}
	if len(cond.Equals) > 0 {
		if existing == nil {
			return ErrConditionFailed
		}
		for field, want := range cond.Equals {
			if !attributeEquals(existing[field], want) {
				return ErrConditionFailed
			}
		}
	}
	return nil
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
