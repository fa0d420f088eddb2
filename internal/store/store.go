package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Key identifies an item by partition and sort key
type Key struct {
	Partition string
	Sort      string
}

func (k Key) String() string {
	return k.Partition + "/" + k.Sort
}

// Item is a stored record. Attributes hold the item payload; numeric
// attributes can be mutated atomically through Add.
type Item struct {
	Key        Key
	Attributes map[string]any
}

// Condition guards a Put or Delete against the current state of the item.
// A violated condition fails with ErrConditionFailed.
type Condition struct {
	// NotExists requires that no item currently exists at the key
	NotExists bool
	// Equals requires the named attributes of the existing item to match.
	// Implies the item must exist.
	Equals map[string]any
}

// Bound gates an Add. Max applies to increments (new value must not exceed
// it), Min to decrements (new value must not fall below it).
type Bound struct {
	Max *int64
	Min *int64
}

// QueryOptions controls an ordered range query within one partition
type QueryOptions struct {
	// Prefix restricts results to sort keys starting with it
	Prefix string
	// Descending reverses the sort-key order
	Descending bool
	// Limit caps the page size; required, must be > 0
	Limit int
	// Cursor continues a previous query; opaque to callers
	Cursor string
}

// QueryResult is one page of a range query
type QueryResult struct {
	Items      []Item
	NextCursor string
}

// Store is the partitioned store adapter. No multi-item transaction is
// assumed; cross-item atomicity is built from conditional writes plus
// compensation by the callers.
type Store interface {
	// Put writes the item, honoring cond when non-nil
	Put(ctx context.Context, item Item, cond *Condition) error

	// Delete removes the item at key, honoring cond when non-nil.
	// Deleting an absent item without a condition is a no-op.
	Delete(ctx context.Context, key Key, cond *Condition) error

	// Get fetches one item, or ErrNotFound
	Get(ctx context.Context, key Key) (*Item, error)

	// BatchGet fetches the items at keys; absent keys are skipped
	BatchGet(ctx context.Context, keys []Key) ([]Item, error)

	// Add atomically adds delta to a numeric attribute, creating it at
	// delta if absent, and returns the new value. A violated bound fails
	// with ErrConditionFailed; an absent item with ErrNotFound.
	Add(ctx context.Context, key Key, field string, delta int64, bound *Bound) (int64, error)

	// Query returns one ordered page of the partition
	Query(ctx context.Context, partition string, opts QueryOptions) (*QueryResult, error)
}

// Adapter-level failures. Domain code branches on these two sentinels only;
// anything else out of a Store is an internal storage failure.
var (
	ErrNotFound        = errors.New("store: item not found")
	ErrConditionFailed = errors.New("store: condition failed")
)

// MarshalItem converts a struct into an attribute map via its json tags
func MarshalItem(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// UnmarshalItem converts an attribute map back into a struct
func UnmarshalItem(attrs map[string]any, v any) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Int reads a numeric attribute. JSON decoding yields float64 for numbers,
// so both representations are accepted.
func Int(attrs map[string]any, field string) int64 {
	switch n := attrs[field].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		v, _ := n.Int64()
		return v
	default:
		return 0
	}
}

// String reads a string attribute, empty when absent or non-string
func String(attrs map[string]any, field string) string {
	s, _ := attrs[field].(string)
	return s
}

// EncodeCursor turns the last-seen sort key into an opaque continuation token
func EncodeCursor(lastSort string) string {
	if lastSort == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(lastSort))
}

// DecodeCursor reverses EncodeCursor
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	return string(raw), nil
}

// attributeEquals compares a stored attribute against a condition value,
// tolerating the int/float64 split introduced by JSON decoding
func attributeEquals(stored, want any) bool {
	if sn, ok := numeric(stored); ok {
		if wn, ok := numeric(want); ok {
			return sn == wn
		}
		return false
	}
	return stored == want
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
