package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on a single partition/sort keyed table with
// jsonb attributes. Conditional semantics come from guarded UPDATE and
// INSERT ... ON CONFLICT affected-row checks; the bounded counter is a single
// guarded UPDATE, so it is atomic without explicit transactions.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStore creates a Store backed by db. timeout is the per-call
// budget applied to every store operation.
func NewPostgresStore(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

// Put writes the item, honoring cond when non-nil
func (p *PostgresStore) Put(ctx context.Context, item Item, cond *Condition) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	attrs, err := json.Marshal(item.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	switch {
	case cond == nil:
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO store_items (partition_key, sort_key, attrs)
			VALUES ($1, $2, $3)
			ON CONFLICT (partition_key, sort_key) DO UPDATE SET attrs = EXCLUDED.attrs
		`, item.Key.Partition, item.Key.Sort, attrs)
		return translate(err)

	case cond.NotExists:
		res, err := p.db.ExecContext(ctx, `
			INSERT INTO store_items (partition_key, sort_key, attrs)
			VALUES ($1, $2, $3)
			ON CONFLICT (partition_key, sort_key) DO NOTHING
		`, item.Key.Partition, item.Key.Sort, attrs)
		if err != nil {
			return translate(err)
		}
		return requireAffected(res)

	default:
		where, args := equalsClause(cond.Equals, 4)
		args = append([]any{item.Key.Partition, item.Key.Sort, attrs}, args...)
		res, err := p.db.ExecContext(ctx, `
			UPDATE store_items SET attrs = $3
			WHERE partition_key = $1 AND sort_key = $2`+where, args...)
		if err != nil {
			return translate(err)
		}
		return requireAffected(res)
	}
}

// Delete removes the item at key, honoring cond when non-nil
func (p *PostgresStore) Delete(ctx context.Context, key Key, cond *Condition) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := `DELETE FROM store_items WHERE partition_key = $1 AND sort_key = $2`
	args := []any{key.Partition, key.Sort}
	if cond != nil && len(cond.Equals) > 0 {
		where, extra := equalsClause(cond.Equals, 3)
		query += where
		args = append(args, extra...)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	if cond != nil {
		return requireAffected(res)
	}
	return nil
}

// Get fetches one item, or ErrNotFound
func (p *PostgresStore) Get(ctx context.Context, key Key) (*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT attrs FROM store_items WHERE partition_key = $1 AND sort_key = $2
	`, key.Partition, key.Sort).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, translate(err)
	}
	return decodeItem(key, raw)
}

// BatchGet fetches the items at keys; absent keys are skipped
func (p *PostgresStore) BatchGet(ctx context.Context, keys []Key) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parts := make([]string, len(keys))
	sorts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.Partition
		sorts[i] = k.Sort
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT partition_key, sort_key, attrs FROM store_items
		WHERE (partition_key, sort_key) IN (
			SELECT unnest($1::text[]), unnest($2::text[])
		)
	`, pq.Array(parts), pq.Array(sorts))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	found := map[Key]Item{}
	for rows.Next() {
		var key Key
		var raw []byte
		if err := rows.Scan(&key.Partition, &key.Sort, &raw); err != nil {
			return nil, translate(err)
		}
		item, err := decodeItem(key, raw)
		if err != nil {
			return nil, err
		}
		found[key] = *item
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}

	// Preserve request order
	items := make([]Item, 0, len(found))
	for _, k := range keys {
		if item, ok := found[k]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// Add atomically adds delta to a numeric attribute and returns the new value
func (p *PostgresStore) Add(ctx context.Context, key Key, field string, delta int64, bound *Bound) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	path := pq.QuoteLiteral(field)
	next := fmt.Sprintf("COALESCE((attrs->>%s)::bigint, 0) + $3", path)
	query := fmt.Sprintf(`
		UPDATE store_items
		SET attrs = jsonb_set(attrs, ARRAY[%s], to_jsonb(%s))
		WHERE partition_key = $1 AND sort_key = $2`, path, next)
	args := []any{key.Partition, key.Sort, delta}

	if bound != nil {
		if bound.Max != nil {
			query += fmt.Sprintf(" AND %s <= $%d", next, len(args)+1)
			args = append(args, *bound.Max)
		}
		if bound.Min != nil {
			query += fmt.Sprintf(" AND %s >= $%d", next, len(args)+1)
			args = append(args, *bound.Min)
		}
	}
	query += fmt.Sprintf(" RETURNING (attrs->>%s)::bigint", path)

	var value int64
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err == sql.ErrNoRows {
		// Distinguish a missing item from a violated bound
		var exists bool
		if e := p.db.QueryRowContext(ctx, `
			SELECT true FROM store_items WHERE partition_key = $1 AND sort_key = $2
		`, key.Partition, key.Sort).Scan(&exists); e == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, ErrConditionFailed
	}
	if err != nil {
		return 0, translate(err)
	}
	return value, nil
}

// Query returns one ordered page of the partition
func (p *PostgresStore) Query(ctx context.Context, partition string, opts QueryOptions) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	after, err := DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, ErrConditionFailed
	}

	query := `SELECT sort_key, attrs FROM store_items WHERE partition_key = $1`
	args := []any{partition}
	if opts.Prefix != "" {
		args = append(args, likePrefix(opts.Prefix))
		query += fmt.Sprintf(" AND sort_key LIKE $%d", len(args))
	}
	if after != "" {
		args = append(args, after)
		if opts.Descending {
			query += fmt.Sprintf(" AND sort_key < $%d", len(args))
		} else {
			query += fmt.Sprintf(" AND sort_key > $%d", len(args))
		}
	}
	if opts.Descending {
		query += " ORDER BY sort_key DESC"
	} else {
		query += " ORDER BY sort_key ASC"
	}
	args = append(args, opts.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	result := &QueryResult{}
	for rows.Next() {
		var sortKey string
		var raw []byte
		if err := rows.Scan(&sortKey, &raw); err != nil {
			return nil, translate(err)
		}
		item, err := decodeItem(Key{Partition: partition, Sort: sortKey}, raw)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	if opts.Limit > 0 && len(result.Items) == opts.Limit {
		result.NextCursor = EncodeCursor(result.Items[len(result.Items)-1].Key.Sort)
	}
	return result, nil
}

func equalsClause(equals map[string]any, firstArg int) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(equals))
	for field, want := range equals {
		raw, _ := json.Marshal(want)
		args = append(args, string(raw))
		fmt.Fprintf(&sb, " AND attrs->%s = $%d::jsonb", pq.QuoteLiteral(field), firstArg)
		firstArg++
	}
	return sb.String(), args
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

func decodeItem(key Key, raw []byte) (*Item, error) {
	attrs := map[string]any{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decode attrs for %s: %w", key, err)
	}
	return &Item{Key: key, Attributes: attrs}, nil
}

func likePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix) + "%"
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return fmt.Errorf("store call timed out: %w", err)
	}
	return fmt.Errorf("postgres store: %w", err)
}
