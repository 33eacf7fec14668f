package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

// l1Entry tracks the bookkeeping an LFU/LRU hybrid eviction needs on top of
// the plain Entry.
type l1Entry struct {
	Entry
	alias     string
	frequency int64
}

// l1Shard is one independently-locked partition of the L1 store, the same
// per-resource mutex-striping idiom as the teacher's HealthMonitor
// (statusesMu/clientMu split), generalized from "lock per server" to
// "lock per fingerprint shard".
type l1Shard struct {
	mu       sync.Mutex
	entries  map[string]*l1Entry
	capacity int
	lfuW     float64
}

func (s *l1Shard) get(fingerprint string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, false
	}
	e.frequency++
	e.LastAccessAt = time.Now()
	e.AccessCount++
	cp := e.Entry
	return &cp, true
}

func (s *l1Shard) put(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]*l1Entry)
	}
	existing, had := s.entries[e.Fingerprint]
	alias := ""
	if had {
		alias = existing.alias
	}
	s.entries[e.Fingerprint] = &l1Entry{Entry: e, alias: alias, frequency: 1}
	s.evictIfOverCapacity()
}

func (s *l1Shard) setAlias(fingerprint, alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[fingerprint]; ok {
		e.alias = alias
	}
}

func (s *l1Shard) delete(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
}

// evictIfOverCapacity drops the lowest-scoring entry under a blended
// LFU/LRU score: score = lfuWeight*frequency - (1-lfuWeight)*age_seconds.
// Must be called with mu held.
func (s *l1Shard) evictIfOverCapacity() {
	if s.capacity <= 0 || len(s.entries) <= s.capacity {
		return
	}
	var worstKey string
	var worstScore float64
	first := true
	now := time.Now()
	for k, e := range s.entries {
		age := now.Sub(e.LastAccessAt).Seconds()
		score := s.lfuW*float64(e.frequency) - (1-s.lfuW)*age
		if first || score < worstScore {
			worstScore = score
			worstKey = k
			first = false
		}
	}
	if worstKey != "" {
		delete(s.entries, worstKey)
	}
}

func (s *l1Shard) matchAliases(pattern string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for fp, e := range s.entries {
		if e.alias != "" && globMatch(pattern, e.alias) {
			out = append(out, fp)
		}
	}
	return out
}

// l1Store is the full L1 tier: N independently-locked shards selected by
// hashing the fingerprint, so a hot key in one shard never blocks readers
// of another (SPEC_FULL.md §3.3).
type l1Store struct {
	shards []*l1Shard
}

func newL1Store(numShards, capacity int, lfuWeight float64) *l1Store {
	perShardCapacity := capacity / numShards
	if perShardCapacity < 1 {
		perShardCapacity = 1
	}
	shards := make([]*l1Shard, numShards)
	for i := range shards {
		shards[i] = &l1Shard{entries: make(map[string]*l1Entry), capacity: perShardCapacity, lfuW: lfuWeight}
	}
	return &l1Store{shards: shards}
}

func (s *l1Store) shardFor(fingerprint string) *l1Shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fingerprint))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *l1Store) get(fingerprint string) (*Entry, bool) {
	return s.shardFor(fingerprint).get(fingerprint)
}

func (s *l1Store) put(e Entry) {
	s.shardFor(e.Fingerprint).put(e)
}

func (s *l1Store) setAlias(fingerprint, alias string) {
	s.shardFor(fingerprint).setAlias(fingerprint, alias)
}

func (s *l1Store) delete(fingerprint string) {
	s.shardFor(fingerprint).delete(fingerprint)
}

func (s *l1Store) matchAliases(pattern string) []string {
	var out []string
	for _, sh := range s.shards {
		out = append(out, sh.matchAliases(pattern)...)
	}
	return out
}

// globMatch supports a single trailing "*" wildcard, the only glob form
// spec.md §4.2 names ("mail:inbox:*").
func globMatch(pattern, s string) bool {
	if pattern == s {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(s) >= len(prefix) && s[:len(prefix)] == prefix
	}
	return false
}
