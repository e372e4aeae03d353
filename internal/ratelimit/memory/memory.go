// Package memory keeps token buckets in process memory, keyed by tier.
package memory

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/AlexKimmel/edgeguard/internal/ratelimit"
)

type record struct {
	bucket *bucket
	limit  int64 // limit the bucket was built with
}

type shard struct {
	mu      sync.Mutex
	records map[ratelimit.TierKey]*record
	lru     *lruKeys
}

// Store is a sharded bucket store. Lookup and creation are serialized per
// shard; check-and-deduct is serialized per bucket.
type Store struct {
	shards      []shard
	window      time.Duration
	maxPerShard int
	now         func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithWindow sets the refill window of new buckets.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shards = make([]shard, n)
		}
	}
}

// WithMaxKeysPerShard bounds the principal and address buckets each shard
// keeps; the least recently used are evicted. 0 means unbounded.
func WithMaxKeysPerShard(n int) Option {
	return func(s *Store) { s.maxPerShard = n }
}

func New(opts ...Option) *Store {
	s := &Store{
		shards:      make([]shard, 16),
		window:      ratelimit.DefaultWindow,
		maxPerShard: 4096,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i].records = make(map[ratelimit.TierKey]*record)
		s.shards[i].lru = newLRUKeys(s.maxPerShard)
	}
	return s
}

// Consume implements ratelimit.Consumer. A non-positive limit disables the tier.
func (s *Store) Consume(key ratelimit.TierKey, limit int64) bool {
	if limit <= 0 {
		return true
	}
	now := s.now()
	return s.bucketFor(key, limit, now).take(now)
}

// bucketFor returns the live bucket for key, building a full one on first
// use or when the asserted limit no longer matches.
// Replacement keys on the asserted limit, not a monotonic version: callers
// racing with different limits may each rebuild a full bucket.
func (s *Store) bucketFor(key ratelimit.TierKey, limit int64, now time.Time) *bucket {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok || rec.limit != limit {
		rec = &record{bucket: newBucket(limit, s.window, now), limit: limit}
		sh.records[key] = rec
	}
	if evictable(key.Kind) {
		sh.lru.touch(key)
		for _, k := range sh.lru.evict() {
			delete(sh.records, k)
		}
	}
	return rec.bucket
}

// Len reports how many buckets are live.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) shardFor(key ratelimit.TierKey) *shard {
	if len(s.shards) == 1 {
		return &s.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(key.Kind)})
	_, _ = h.Write([]byte(key.ID))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Tenant and global buckets carry operator-set limits and are never evicted.
func evictable(k ratelimit.TierKind) bool {
	return k == ratelimit.TierPrincipal || k == ratelimit.TierAddress
}
