package store

import (
	"sync"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
)

// Observer receives every entry written to the store.
type Observer func(entry domain.TraceEntry)

// EvictHook is called with the id of every evicted execution.
type EvictHook func(executionID string)

// Store owns the trace entries. All writers go through Update so that a
// read-modify-write of one entry is atomic; observers and evict hooks run
// after the lock is released.
//
// Observers see the writes of one execution in commit order. A write whose
// delivery is overtaken by a later commit for the same execution is not
// delivered. Observers may read the store but must not write to it.
type Store struct {
	mu         sync.Mutex
	cache      *Cache
	observers  map[int]Observer
	nextObsID  int
	evictHooks []EvictHook
	seq        uint64

	// notifyMu serialises observer delivery; delivered holds the last
	// delivered commit sequence per execution.
	notifyMu  sync.Mutex
	delivered map[string]uint64
}

// New creates a store backed by a cache of the given capacity.
func New(capacity int) *Store {
	return &Store{
		cache:     NewCache(capacity),
		observers: make(map[int]Observer),
		delivered: make(map[string]uint64),
	}
}

// Get returns the entry for id and marks it most recently used.
func (s *Store) Get(id string) (domain.TraceEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(id)
}

// Contains reports whether id has an entry, without touching it.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(id)
}

// Prime returns the entry for id, creating it from fallback if needed.
func (s *Store) Prime(id string, fallback domain.ExecutionSummary) domain.TraceEntry {
	return s.Update(id, fallback, func(e domain.TraceEntry) domain.TraceEntry { return e })
}

// Update applies fn to the current entry for id (primed from fallback when
// missing) and stores the result.
func (s *Store) Update(id string, fallback domain.ExecutionSummary, fn func(domain.TraceEntry) domain.TraceEntry) domain.TraceEntry {
	s.mu.Lock()
	var existing *domain.TraceEntry
	if cur, ok := s.cache.Get(id); ok {
		existing = &cur
	}
	next := fn(PrimeEntry(existing, id, fallback))
	evicted := s.cache.Put(id, next)
	s.seq++
	seq := s.seq
	hooks := append([]EvictHook(nil), s.evictHooks...)
	observers := s.snapshotObservers()
	s.mu.Unlock()

	for _, vid := range evicted {
		for _, h := range hooks {
			h(vid)
		}
	}
	s.notify(id, seq, next, evicted, observers)
	return next
}

func (s *Store) notify(id string, seq uint64, entry domain.TraceEntry, evicted []string, observers []Observer) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	for _, vid := range evicted {
		delete(s.delivered, vid)
	}
	if seq < s.delivered[id] {
		return
	}
	s.delivered[id] = seq
	for _, o := range observers {
		o(entry)
	}
}

// SetActive pins id as the execution being viewed.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.SetActive(id)
}

// Active returns the pinned execution id, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Active()
}

// Keys returns known execution ids from most to least recently used.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Keys()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Subscribe registers an observer and returns a function removing it.
func (s *Store) Subscribe(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = o
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// OnEvict registers a hook called for every evicted execution.
func (s *Store) OnEvict(h EvictHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictHooks = append(s.evictHooks, h)
}

func (s *Store) snapshotObservers() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		out = append(out, o)
	}
	return out
}
