package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each item is a hash holding one
// JSON-encoded value per attribute; each partition keeps a sorted set of its
// sort keys for lexicographic range queries. Conditional writes and bounded
// counters run as Lua scripts so each call is atomic on the server.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore creates a Store backed by client. timeout is the per-call
// budget applied to every store operation.
func NewRedisStore(client *redis.Client, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisStore{client: client, timeout: timeout}
}

func itemKey(key Key) string {
	return "item:" + key.Partition + "|" + key.Sort
}

func partitionKey(partition string) string {
	return "part:" + partition
}

// putScript: KEYS[1] item hash, KEYS[2] partition zset.
// ARGV[1] mode (none|notexists|equals), ARGV[2] sort key,
// ARGV[3] attrs JSON object, ARGV[4] equals JSON object.
var putScript = redis.NewScript(`
local exists = redis.call('EXISTS', KEYS[1])
if ARGV[1] == 'notexists' and exists == 1 then
  return 0
end
if ARGV[1] == 'equals' then
  if exists == 0 then
    return 0
  end
  for field, want in pairs(cjson.decode(ARGV[4])) do
    local got = redis.call('HGET', KEYS[1], field)
    if got == false or got ~= cjson.encode(want) then
      return 0
    end
  end
end
redis.call('DEL', KEYS[1])
for field, value in pairs(cjson.decode(ARGV[3])) do
  redis.call('HSET', KEYS[1], field, cjson.encode(value))
end
redis.call('ZADD', KEYS[2], 0, ARGV[2])
return 1
`)

// deleteScript mirrors putScript's condition handling, then removes the item
var deleteScript = redis.NewScript(`
local exists = redis.call('EXISTS', KEYS[1])
if ARGV[1] == 'equals' then
  if exists == 0 then
    return 0
  end
  for field, want in pairs(cjson.decode(ARGV[4])) do
    local got = redis.call('HGET', KEYS[1], field)
    if got == false or got ~= cjson.encode(want) then
      return 0
    end
  end
end
if ARGV[1] == 'notexists' and exists == 1 then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return 1
`)

// addScript: ARGV[1] field, ARGV[2] delta, ARGV[3] max ('' = none),
// ARGV[4] min ('' = none). Returns {status, value} where status is
// -1 missing item, 0 bound violated, 1 applied.
var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1, 0}
end
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0') or 0
local next = current + tonumber(ARGV[2])
if ARGV[3] ~= '' and next > tonumber(ARGV[3]) then
  return {0, 0}
end
if ARGV[4] ~= '' and next < tonumber(ARGV[4]) then
  return {0, 0}
end
redis.call('HSET', KEYS[1], ARGV[1], tostring(next))
return {1, next}
`)

// Put writes the item, honoring cond when non-nil
func (r *RedisStore) Put(ctx context.Context, item Item, cond *Condition) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	mode, equals, err := encodeCondition(cond)
	if err != nil {
		return err
	}
	attrs, err := json.Marshal(item.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	keys := []string{itemKey(item.Key), partitionKey(item.Key.Partition)}
	ok, err := putScript.Run(ctx, r.client, keys, mode, item.Key.Sort, string(attrs), equals).Int()
	if err != nil {
		return translateRedis(err)
	}
	if ok == 0 {
		return ErrConditionFailed
	}
	return nil
}

// Delete removes the item at key, honoring cond when non-nil
func (r *RedisStore) Delete(ctx context.Context, key Key, cond *Condition) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	mode, equals, err := encodeCondition(cond)
	if err != nil {
		return err
	}

	keys := []string{itemKey(key), partitionKey(key.Partition)}
	ok, err := deleteScript.Run(ctx, r.client, keys, mode, key.Sort, "", equals).Int()
	if err != nil {
		return translateRedis(err)
	}
	if ok == 0 && cond != nil {
		return ErrConditionFailed
	}
	return nil
}

// Get fetches one item, or ErrNotFound
func (r *RedisStore) Get(ctx context.Context, key Key) (*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, itemKey(key)).Result()
	if err != nil {
		return nil, translateRedis(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(key, fields)
}

// BatchGet fetches the items at keys; absent keys are skipped
func (r *RedisStore) BatchGet(ctx context.Context, keys []Key) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, itemKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, translateRedis(err)
	}

	items := make([]Item, 0, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, translateRedis(err)
		}
		if len(fields) == 0 {
			continue
		}
		item, err := decodeFields(keys[i], fields)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// Add atomically adds delta to a numeric attribute and returns the new value
func (r *RedisStore) Add(ctx context.Context, key Key, field string, delta int64, bound *Bound) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	max, min := "", ""
	if bound != nil {
		if bound.Max != nil {
			max = strconv.FormatInt(*bound.Max, 10)
		}
		if bound.Min != nil {
			min = strconv.FormatInt(*bound.Min, 10)
		}
	}

	raw, err := addScript.Run(ctx, r.client, []string{itemKey(key)},
		field, strconv.FormatInt(delta, 10), max, min).Int64Slice()
	if err != nil {
		return 0, translateRedis(err)
	}
	if len(raw) != 2 {
		return 0, fmt.Errorf("redis store: unexpected add reply %v", raw)
	}
	switch raw[0] {
	case -1:
		return 0, ErrNotFound
	case 0:
		return 0, ErrConditionFailed
	}
	return raw[1], nil
}

// Query returns one ordered page of the partition
func (r *RedisStore) Query(ctx context.Context, partition string, opts QueryOptions) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	after, err := DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, ErrConditionFailed
	}

	low, high := "-", "+"
	if opts.Prefix != "" {
		low = "[" + opts.Prefix
		high = "[" + opts.Prefix + "\xff"
	}
	if after != "" {
		if opts.Descending {
			high = "(" + after
		} else {
			low = "(" + after
		}
	}

	rangeBy := &redis.ZRangeBy{Min: low, Max: high, Offset: 0, Count: int64(opts.Limit)}
	var sorts []string
	if opts.Descending {
		sorts, err = r.client.ZRevRangeByLex(ctx, partitionKey(partition), rangeBy).Result()
	} else {
		sorts, err = r.client.ZRangeByLex(ctx, partitionKey(partition), rangeBy).Result()
	}
	if err != nil {
		return nil, translateRedis(err)
	}

	keys := make([]Key, len(sorts))
	for i, sk := range sorts {
		keys[i] = Key{Partition: partition, Sort: sk}
	}
	items, err := r.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Items: items}
	if opts.Limit > 0 && len(sorts) == opts.Limit {
		result.NextCursor = EncodeCursor(sorts[len(sorts)-1])
	}
	return result, nil
}

func encodeCondition(cond *Condition) (mode string, equals string, err error) {
	mode, equals = "none", "{}"
	if cond == nil {
		return mode, equals, nil
	}
	if cond.NotExists {
		return "notexists", equals, nil
	}
	if len(cond.Equals) > 0 {
		raw, err := json.Marshal(cond.Equals)
		if err != nil {
			return "", "", fmt.Errorf("marshal condition: %w", err)
		}
		return "equals", string(raw), nil
	}
	return mode, equals, nil
}

func decodeFields(key Key, fields map[string]string) (*Item, error) {
	attrs := make(map[string]any, len(fields))
	for field, raw := range fields {
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode attr %s of %s: %w", field, key, err)
		}
		attrs[field] = value
	}
	return &Item{Key: key, Attributes: attrs}, nil
}

func translateRedis(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return fmt.Errorf("store call timed out: %w", err)
	}
	return fmt.Errorf("redis store: %w", err)
}
