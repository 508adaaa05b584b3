package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/loykin/procsentry/internal/metrics"
	"github.com/loykin/procsentry/internal/record"
)

// Config bounds the store. Zero values fall back to defaults.
type Config struct {
	MaxEntries int           // hard ceiling on entry count (default 2048)
	MaxBytes   int           // estimated byte ceiling (default 4MB)
	TTL        time.Duration // entries older than TTL are swept (default 60s)
	HighWater  float64       // eviction trigger as fraction of ceiling (default 0.8)
	LowWater   float64       // eviction target as fraction of MaxEntries (default 0.8 of max)
}

const (
	DefaultMaxEntries = 2048
	DefaultMaxBytes   = 4 << 20
	DefaultTTL        = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.HighWater <= 0 || c.HighWater > 1 {
		c.HighWater = 0.8
	}
	if c.LowWater <= 0 || c.LowWater > 1 {
		c.LowWater = 0.8
	}
	return c
}

type entry struct {
	rec         record.ProcessRecord
	size        int
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount uint64
}

// Stats is a point-in-time view of store counters.
type Stats struct {
	Entries   int
	Bytes     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// HitRate returns hits/(hits+misses), 0 when no lookups happened yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Store is the bounded, multiply-indexed process record cache.
// All mutations happen under one mutex so the secondary indexes never
// observe a partial update.
type Store struct {
	mu         sync.Mutex
	cfg        Config
	entries    map[int]*entry
	byName     map[string]map[int]struct{}
	byIdentity map[string]map[int]struct{}
	pins       map[int]int
	bytes      int
	retention  float64 // health throttle: scales the effective entry ceiling

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	now func() time.Time
}

func New(cfg Config) *Store {
	return &Store{
		cfg:        cfg.withDefaults(),
		entries:    make(map[int]*entry),
		byName:     make(map[string]map[int]struct{}),
		byIdentity: make(map[string]map[int]struct{}),
		pins:       make(map[int]int),
		retention:  1.0,
		now:        time.Now,
	}
}

// Upsert inserts or replaces the record keyed by its PID, keeping the
// name/identity indexes transactional with the primary map. Access history
// survives a replace so eviction scoring stays meaningful across updates.
func (s *Store) Upsert(rec record.ProcessRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if old, ok := s.entries[rec.PID]; ok {
		s.unindexLocked(old.rec)
		s.bytes -= old.size
		old.rec = rec
		old.size = rec.EstimatedSize()
		old.lastAccess = now
		s.bytes += old.size
		s.indexLocked(rec)
	} else {
		e := &entry{rec: rec, size: rec.EstimatedSize(), insertedAt: now, lastAccess: now}
		s.entries[rec.PID] = e
		s.bytes += e.size
		s.indexLocked(rec)
	}
	s.maybeEvictLocked(now)
}

// Get returns a copy of the record for pid. A miss is not an error.
func (s *Store) Get(pid int) (record.ProcessRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pid]
	if !ok {
		s.misses++
		metrics.IncCacheMiss()
		return record.ProcessRecord{}, false
	}
	s.hits++
	metrics.IncCacheHit()
	e.lastAccess = s.now()
	e.accessCount++
	return e.rec, true
}

// Remove deletes pid from the store and its indexes. Removing an absent
// pid is a no-op. Pins do not block explicit removal: a process observed
// as gone is gone.
func (s *Store) Remove(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(pid)
}

// Update applies fn to the record for pid under the store lock, if present.
// This is the only way components mutate a stored record in place.
func (s *Store) Update(pid int, fn func(*record.ProcessRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pid]
	if !ok {
		return false
	}
	s.unindexLocked(e.rec)
	s.bytes -= e.size
	fn(&e.rec)
	e.rec.PID = pid // pid is the map key; fn must not rekey the entry
	e.size = e.rec.EstimatedSize()
	s.bytes += e.size
	s.indexLocked(e.rec)
	return true
}

// Query returns copies of all records matching pred, unordered.
func (s *Store) Query(pred func(record.ProcessRecord) bool) []record.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.ProcessRecord, 0, len(s.entries))
	for _, e := range s.entries {
		if pred == nil || pred(e.rec) {
			out = append(out, e.rec)
		}
	}
	return out
}

// GetByName returns all records whose name matches exactly.
func (s *Store) GetByName(name string) []record.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(s.byName[name])
}

// GetByIdentity returns all records sharing a stable identity.
func (s *Store) GetByIdentity(identity string) []record.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(s.byIdentity[identity])
}

// Pids returns the current set of cached pids.
func (s *Store) Pids() map[int]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]struct{}, len(s.entries))
	for pid := range s.entries {
		out[pid] = struct{}{}
	}
	return out
}

// Pin marks pid as the subject of an in-flight termination; pinned entries
// are skipped by eviction. Pins nest.
func (s *Store) Pin(pid int) {
	s.mu.Lock()
	s.pins[pid]++
	s.mu.Unlock()
}

func (s *Store) Unpin(pid int) {
	s.mu.Lock()
	if n := s.pins[pid]; n <= 1 {
		delete(s.pins, pid)
	} else {
		s.pins[pid] = n - 1
	}
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:   len(s.entries),
		Bytes:     s.bytes,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Expired:   s.expired,
	}
}

// SetRetention scales the effective entry ceiling to f in (0,1]. The health
// monitor lowers it under memory pressure and restores it on recovery.
func (s *Store) SetRetention(f float64) {
	if f <= 0 || f > 1 {
		f = 1
	}
	s.mu.Lock()
	s.retention = f
	s.maybeEvictLocked(s.now())
	s.mu.Unlock()
}

// --- internals (caller holds mu) ---

func (s *Store) collectLocked(set map[int]struct{}) []record.ProcessRecord {
	if len(set) == 0 {
		return nil
	}
	out := make([]record.ProcessRecord, 0, len(set))
	for pid := range set {
		if e, ok := s.entries[pid]; ok {
			out = append(out, e.rec)
		}
	}
	return out
}

func (s *Store) indexLocked(rec record.ProcessRecord) {
	if rec.Name != "" {
		set := s.byName[rec.Name]
		if set == nil {
			set = make(map[int]struct{})
			s.byName[rec.Name] = set
		}
		set[rec.PID] = struct{}{}
	}
	if rec.Identity != "" {
		set := s.byIdentity[rec.Identity]
		if set == nil {
			set = make(map[int]struct{})
			s.byIdentity[rec.Identity] = set
		}
		set[rec.PID] = struct{}{}
	}
}

func (s *Store) unindexLocked(rec record.ProcessRecord) {
	if set := s.byName[rec.Name]; set != nil {
		delete(set, rec.PID)
		if len(set) == 0 {
			delete(s.byName, rec.Name)
		}
	}
	if set := s.byIdentity[rec.Identity]; set != nil {
		delete(set, rec.PID)
		if len(set) == 0 {
			delete(s.byIdentity, rec.Identity)
		}
	}
}

func (s *Store) removeLocked(pid int) {
	e, ok := s.entries[pid]
	if !ok {
		return
	}
	s.unindexLocked(e.rec)
	s.bytes -= e.size
	delete(s.entries, pid)
}

func (s *Store) effectiveMax() int {
	max := int(float64(s.cfg.MaxEntries) * s.retention)
	if max < 1 {
		max = 1
	}
	return max
}

// valueScore ranks entries for eviction; lower scores go first.
// Fresh, frequently accessed, small entries score high.
func (s *Store) valueScore(e *entry, now time.Time) float64 {
	age := now.Sub(e.lastAccess).Seconds()
	recency := 1.0 / (1.0 + age)
	freq := float64(e.accessCount) / (1.0 + float64(e.accessCount))
	size := 1.0 / (1.0 + float64(e.size)/1024.0)
	return 0.5*recency + 0.3*freq + 0.2*size
}

// maybeEvictLocked sweeps expired entries, then evicts by ascending value
// score down to the low-water mark once either ceiling crosses high water.
func (s *Store) maybeEvictLocked(now time.Time) {
	max := s.effectiveMax()
	overCount := float64(len(s.entries)) >= float64(max)*s.cfg.HighWater
	overBytes := float64(s.bytes) >= float64(s.cfg.MaxBytes)*s.cfg.HighWater
	if !overCount && !overBytes {
		return
	}
	// TTL sweep first; it often frees enough on its own.
	for pid, e := range s.entries {
		if now.Sub(e.lastAccess) > s.cfg.TTL {
			if _, pinned := s.pins[pid]; pinned {
				continue
			}
			s.removeLocked(pid)
			s.expired++
		}
	}
	target := int(float64(max) * s.cfg.LowWater)
	if len(s.entries) <= target {
		return
	}
	type scored struct {
		pid   int
		score float64
	}
	cand := make([]scored, 0, len(s.entries))
	for pid, e := range s.entries {
		if _, pinned := s.pins[pid]; pinned {
			continue
		}
		cand = append(cand, scored{pid: pid, score: s.valueScore(e, now)})
	}
	sort.Slice(cand, func(i, j int) bool { return cand[i].score < cand[j].score })
	for _, c := range cand {
		if len(s.entries) <= target {
			break
		}
		s.removeLocked(c.pid)
		s.evictions++
		metrics.IncCacheEviction()
	}
	metrics.SetCacheEntries(len(s.entries))
}
