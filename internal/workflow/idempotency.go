package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/bugtriage/model"
)

// IdempotencyStore remembers the outcome of keyed ExecuteAction calls so a
// retried request replays the original result instead of acting twice.
type IdempotencyStore interface {
	// Lookup returns the result recorded under key, or nil when there is
	// none. A record made for a different request is a CONFLICT.
	Lookup(ctx context.Context, key, fingerprint string) (*model.ActionResult, error)
	// Remember records result under key for ttl. An existing live record
	// is kept.
	Remember(ctx context.Context, key, fingerprint string, result model.ActionResult, ttl time.Duration) error
}

// FormatIdempotencyKey scopes a client key to its task.
func FormatIdempotencyKey(taskID, key string) string {
	return "idem:" + taskID + ":" + key
}

// fingerprint identifies what a request asks for. The idempotency key is
// excluded from the JSON form, so two keys for the same body match.
func fingerprint(req model.ActionRequest) string {
	body, _ := json.Marshal(req)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type replayRecord struct {
	Fingerprint string             `json:"fingerprint"`
	Result      model.ActionResult `json:"result"`
}

func (r replayRecord) replay(key, fingerprint string) (*model.ActionResult, error) {
	if r.Fingerprint != fingerprint {
		return nil, model.NewConflictError(fmt.Sprintf("idempotency key %q was used for a different request", key))
	}
	res := r.Result
	return &res, nil
}

// sweepEvery is how many writes pass between purges of expired entries.
const sweepEvery = 256

// MemoryIdempotencyStore keeps records in process. It suits single-replica
// deployments and tests.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	writes  int
	now     func() time.Time
}

type memoryRecord struct {
	replayRecord
	expires time.Time
}

// NewMemoryIdempotencyStore creates an empty in-process store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: map[string]memoryRecord{}, now: time.Now}
}

// Lookup returns the live record under key. Expired records are dropped.
func (s *MemoryIdempotencyStore) Lookup(_ context.Context, key, fingerprint string) (*model.ActionResult, error) {
	s.mu.Lock()
	rec, ok := s.records[key]
	if ok && !s.now().Before(rec.expires) {
		delete(s.records, key)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return rec.replay(key, fingerprint)
}

// Remember stores result unless a live record already holds key.
func (s *MemoryIdempotencyStore) Remember(_ context.Context, key, fingerprint string, result model.ActionResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.writes++; s.writes%sweepEvery == 0 {
		for k, rec := range s.records {
			if !now.Before(rec.expires) {
				delete(s.records, k)
			}
		}
	}
	if rec, ok := s.records[key]; ok && now.Before(rec.expires) {
		return nil
	}
	s.records[key] = memoryRecord{
		replayRecord: replayRecord{Fingerprint: fingerprint, Result: result},
		expires:      now.Add(ttl),
	}
	return nil
}

// Len counts stored records, expired ones not yet purged included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// RedisIdempotencyStore shares records across replicas. Expiry is left to
// Redis key TTLs.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a store over client.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Lookup reads and decodes the record under key.
func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key, fingerprint string) (*model.ActionResult, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("idempotency lookup %s: %w", key, err)
	}

	var rec replayRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("idempotency lookup %s: decode: %w", key, err)
	}
	return rec.replay(key, fingerprint)
}

// Remember writes the record with SETNX, so the first writer wins.
func (s *RedisIdempotencyStore) Remember(ctx context.Context, key, fingerprint string, result model.ActionResult, ttl time.Duration) error {
	raw, err := json.Marshal(replayRecord{Fingerprint: fingerprint, Result: result})
	if err != nil {
		return fmt.Errorf("idempotency remember %s: encode: %w", key, err)
	}
	if err := s.client.SetNX(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency remember %s: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
