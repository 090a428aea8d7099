package store

import (
	"container/list"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
)

// DefaultCapacity is the number of executions kept when none is configured.
const DefaultCapacity = 20

type cacheItem struct {
	id    string
	entry domain.TraceEntry
}

// Cache is an access-ordered map of trace entries with a hard capacity.
// The active execution is evicted only when it is the last candidate.
// Cache is not safe for concurrent use; Store serialises access.
type Cache struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	active   string
}

// NewCache creates a cache holding at most capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the entry for id and marks it most recently used.
func (c *Cache) Get(id string) (domain.TraceEntry, bool) {
	el, ok := c.items[id]
	if !ok {
		return domain.TraceEntry{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheItem).entry, true
}

// Contains reports whether id is cached without touching it.
func (c *Cache) Contains(id string) bool {
	_, ok := c.items[id]
	return ok
}

// Put stores entry under id, marks it most recently used and returns the
// ids evicted to stay within capacity.
func (c *Cache) Put(id string, entry domain.TraceEntry) []string {
	if el, ok := c.items[id]; ok {
		el.Value.(*cacheItem).entry = entry
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[id] = c.ll.PushFront(&cacheItem{id: id, entry: entry})

	var evicted []string
	for c.ll.Len() > c.capacity {
		victim := c.victim()
		c.ll.Remove(victim)
		vid := victim.Value.(*cacheItem).id
		delete(c.items, vid)
		evicted = append(evicted, vid)
	}
	return evicted
}

// victim returns the least recently used element that is not the active
// execution, or the least recently used one when nothing else is left.
func (c *Cache) victim() *list.Element {
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		if el.Value.(*cacheItem).id != c.active {
			return el
		}
	}
	return c.ll.Back()
}

// SetActive pins id as the execution currently being viewed.
func (c *Cache) SetActive(id string) {
	c.active = id
}

// Active returns the pinned execution id.
func (c *Cache) Active() string {
	return c.active
}

// Keys returns cached ids from most to least recently used.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*cacheItem).id)
	}
	return keys
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.ll.Len()
}
