package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/metrics"
)

const (
	resultHit     = "hit"
	resultMiss    = "miss"
	resultExpired = "expired"
)

// DefaultMaxEntries bounds a Memory cache when Options.MaxEntries is unset.
const DefaultMaxEntries = 10000

// Cache is an expiring key -> value store. An entry older than the cache's TTL
// reads as absent; Set always replaces whatever was stored under the key.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Set(ctx context.Context, key string, value T)
}

type Entry[T any] struct {
	Value      T         `json:"value"`
	InsertedAt time.Time `json:"inserted_at"`
}

func (e Entry[T]) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.InsertedAt) > ttl
}

type Options struct {
	// Name labels the cache in metrics, e.g. "search" or "location".
	Name string
	TTL  time.Duration
	// MaxEntries caps a Memory cache; the oldest insertion is evicted first.
	MaxEntries int
	Clock      clock.Clock
	Metrics    *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Name == "" {
		o.Name = "default"
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	return o
}

type memoryItem[T any] struct {
	key   string
	entry Entry[T]
}

// Memory keeps entries in insertion order, oldest at the front. Every Set drops
// expired entries from the front and evicts the oldest ones past MaxEntries, so
// keys that are never read again do not pile up.
type Memory[T any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	opts    Options
}

func NewMemory[T any](opts Options) *Memory[T] {
	return &Memory[T]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		opts:    opts.withDefaults(),
	}
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	element, ok := m.entries[key]
	if !ok {
		m.opts.Metrics.ObserveCacheLookup(m.opts.Name, resultMiss)
		return zero, false
	}
	item := element.Value.(*memoryItem[T])
	if item.entry.expired(m.opts.Clock.Now(), m.opts.TTL) {
		m.remove(element)
		m.opts.Metrics.ObserveCacheLookup(m.opts.Name, resultExpired)
		return zero, false
	}

	m.opts.Metrics.ObserveCacheLookup(m.opts.Name, resultHit)
	return item.entry.Value, true
}

func (m *Memory[T]) Set(_ context.Context, key string, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock.Now()
	entry := Entry[T]{Value: value, InsertedAt: now}
	if element, ok := m.entries[key]; ok {
		element.Value.(*memoryItem[T]).entry = entry
		m.order.MoveToBack(element)
	} else {
		m.entries[key] = m.order.PushBack(&memoryItem[T]{key: key, entry: entry})
	}

	for front := m.order.Front(); front != nil; front = m.order.Front() {
		if !front.Value.(*memoryItem[T]).entry.expired(now, m.opts.TTL) && m.order.Len() <= m.opts.MaxEntries {
			break
		}
		m.remove(front)
	}
}

func (m *Memory[T]) remove(element *list.Element) {
	m.order.Remove(element)
	delete(m.entries, element.Value.(*memoryItem[T]).key)
}

// Len counts stored entries, including expired ones not yet dropped by a read or write.
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
