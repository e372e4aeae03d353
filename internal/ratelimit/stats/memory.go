package stats

import (
	"context"
	"maps"
	"sync"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

// OtherKeys collects per-key denials once the tracked key set is full.
const OtherKeys = "*other*"

// DefaultMaxKeys bounds the per-key table of a Memory recorder.
const DefaultMaxKeys = 10000

// Memory keeps counters in process. It never expires anything; the per-key
// table stops growing at maxKeys and later keys are summed under OtherKeys.
type Memory struct {
	mu     sync.Mutex
	total  Counters
	byTier map[string]int64 // denials per tier
	byKey  map[string]int64 // denials per tier:key, when tracked

	trackKeys bool
	maxKeys   int
}

type MemoryOption func(*Memory)

func WithTrackKeys(track bool) MemoryOption {
	return func(m *Memory) { m.trackKeys = track }
}

// WithMaxKeys bounds the per-key table. Non-positive values keep the default.
func WithMaxKeys(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxKeys = n
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byTier:  make(map[string]int64),
		byKey:   make(map[string]int64),
		maxKeys: DefaultMaxKeys,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Allowed {
		m.total.Allowed++
		return nil
	}
	m.total.Denied++
	m.byTier[ev.Tier]++
	if m.trackKeys && ev.Key != "" {
		key := ev.Tier + ":" + ev.Key
		if _, ok := m.byKey[key]; !ok && len(m.byKey) >= m.maxKeys {
			key = OtherKeys
		}
		m.byKey[key]++
	}
	return nil
}

// Snapshot is a point-in-time copy of a Memory recorder's counters.
type Snapshot struct {
	Allowed      int64            `json:"allowed"`
	Denied       int64            `json:"denied"`
	DeniedByTier map[string]int64 `json:"deniedByTier"`
	DeniedByKey  map[string]int64 `json:"deniedByKey,omitempty"`
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Allowed:      m.total.Allowed,
		Denied:       m.total.Denied,
		DeniedByTier: maps.Clone(m.byTier),
		DeniedByKey:  maps.Clone(m.byKey),
	}
}

func (m *Memory) Total() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *Memory) DeniedByTier() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.byTier))
	for k, v := range m.byTier {
		out[k] = v
	}
	return out
}

func (m *Memory) DeniedByKey() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.byKey))
	for k, v := range m.byKey {
		out[k] = v
	}
	return out
}
