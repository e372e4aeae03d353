package memory

import (
	"container/list"

	"github.com/AlexKimmel/edgeguard/internal/ratelimit"
)

// lruKeys tracks keys in recency order. Not safe for concurrent use; the
// owning shard's mutex guards it.
type lruKeys struct {
	max   int
	items map[ratelimit.TierKey]*list.Element
	list  *list.List
}

func newLRUKeys(n int) *lruKeys {
	if n < 0 {
		n = 0
	}
	return &lruKeys{
		max:   n,
		items: make(map[ratelimit.TierKey]*list.Element),
		list:  list.New(),
	}
}

// touch marks key as most recently used, adding it if needed.
func (l *lruKeys) touch(key ratelimit.TierKey) {
	if el, ok := l.items[key]; ok {
		l.list.MoveToFront(el)
		return
	}
	l.items[key] = l.list.PushFront(key)
}

// evict drops least recently used keys until at most max remain.
// max == 0 means unbounded.
func (l *lruKeys) evict() []ratelimit.TierKey {
	if l.max == 0 || len(l.items) <= l.max {
		return nil
	}
	count := len(l.items) - l.max
	out := make([]ratelimit.TierKey, 0, count)
	for i := 0; i < count; i++ {
		el := l.list.Back()
		if el == nil {
			break
		}
		key := el.Value.(ratelimit.TierKey)
		l.list.Remove(el)
		delete(l.items, key)
		out = append(out, key)
	}
	return out
}

func (l *lruKeys) len() int { return len(l.items) }
