package cache

import (
	"container/list"
	"time"
)

// lruEntry is one L1 cache slot.
type lruEntry struct {
	namespace string
	key       string
	value     []byte
	expiresAt time.Time
}

// lru is a bounded least-recently-used map with lazy TTL expiry. It is not
// goroutine-safe; Cache serializes access. No third-party LRU appears
// anywhere in our dependency surface, so this stays hand-rolled on
// container/list.
type lru struct {
	capacity  int
	order     *list.List // front = most recently used
	entries   map[string]*list.Element
	sizeBytes int64
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = 1024
	}
	return &lru{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func l1Key(namespace, key string) string { return namespace + "\x00" + key }

// get returns the entry value if present and unexpired. Expired entries are
// evicted on read.
func (l *lru) get(namespace, key string, now time.Time) ([]byte, bool) {
	elem, ok := l.entries[l1Key(namespace, key)]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*lruEntry)
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		l.remove(elem)
		return nil, false
	}
	l.order.MoveToFront(elem)
	return ent.value, true
}

func (l *lru) set(namespace, key string, value []byte, expiresAt time.Time) {
	k := l1Key(namespace, key)
	if elem, ok := l.entries[k]; ok {
		ent := elem.Value.(*lruEntry)
		l.sizeBytes += int64(len(value)) - int64(len(ent.value))
		ent.value = value
		ent.expiresAt = expiresAt
		l.order.MoveToFront(elem)
		return
	}

	ent := &lruEntry{namespace: namespace, key: key, value: value, expiresAt: expiresAt}
	l.entries[k] = l.order.PushFront(ent)
	l.sizeBytes += int64(len(value))

	for len(l.entries) > l.capacity {
		oldest := l.order.Back()
		if oldest == nil {
			break
		}
		l.remove(oldest)
	}
}

func (l *lru) clearNamespace(namespace string) {
	for elem := l.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*lruEntry).namespace == namespace {
			l.remove(elem)
		}
		elem = next
	}
}

func (l *lru) clearAll() {
	l.order.Init()
	l.entries = make(map[string]*list.Element)
	l.sizeBytes = 0
}

func (l *lru) remove(elem *list.Element) {
	ent := elem.Value.(*lruEntry)
	l.order.Remove(elem)
	delete(l.entries, l1Key(ent.namespace, ent.key))
	l.sizeBytes -= int64(len(ent.value))
}

func (l *lru) len() int { return len(l.entries) }
