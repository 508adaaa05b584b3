package behavior

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const tableShards = 16

// DefaultMaxIdentities caps the table; the least-recently-seen identities
// are dropped past the cap. Entries are otherwise never deleted.
const DefaultMaxIdentities = 4096

// Table is the in-memory learned-behavior table. Updates are serialized
// per identity through sharded locks; a debounced saver flushes dirty
// state to the injected Store.
type Table struct {
	shards [tableShards]tableShard
	max    int

	saveMu   sync.Mutex
	store    Store
	dirty    chan struct{}
	stopSave chan struct{}
	saveWG   sync.WaitGroup

	now func() time.Time
}

type tableShard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewTable builds a table capped at max identities (<=0 means the default).
func NewTable(max int) *Table {
	if max <= 0 {
		max = DefaultMaxIdentities
	}
	t := &Table{max: max, dirty: make(chan struct{}, 1), now: time.Now}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*Entry)
	}
	return t
}

func (t *Table) shard(identity string) *tableShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &t.shards[h.Sum32()%tableShards]
}

// Get returns a copy of the entry for identity.
func (t *Table) Get(identity string) (Entry, bool) {
	sh := t.shard(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[identity]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// RecordTermination counts one termination attempt for identity.
func (t *Table) RecordTermination(identity string, success bool) {
	if identity == "" {
		return
	}
	t.update(identity, func(e *Entry) {
		e.TerminationAttempts++
		if !success {
			e.TerminationFailures++
		}
	})
}

// RecordRestart counts one restart attempt for identity.
func (t *Table) RecordRestart(identity string, success bool) {
	if identity == "" {
		return
	}
	t.update(identity, func(e *Entry) {
		e.RestartAttempts++
		if success {
			e.RestartSuccesses++
		}
	})
}

func (t *Table) update(identity string, fn func(*Entry)) {
	sh := t.shard(identity)
	sh.mu.Lock()
	e, ok := sh.entries[identity]
	if !ok {
		e = &Entry{Identity: identity}
		sh.entries[identity] = e
	}
	fn(e)
	e.LastSeen = t.now()
	sh.mu.Unlock()
	t.evictOverCap()
	t.markDirty()
}

// Len counts tracked identities across all shards.
func (t *Table) Len() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].entries)
		t.shards[i].mu.Unlock()
	}
	return n
}

// Snapshot copies every entry, unordered.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0, t.Len())
	for i := range t.shards {
		t.shards[i].mu.Lock()
		for _, e := range t.shards[i].entries {
			out = append(out, *e)
		}
		t.shards[i].mu.Unlock()
	}
	return out
}

// evictOverCap drops least-recently-seen identities when the cap is passed.
func (t *Table) evictOverCap() {
	if t.Len() <= t.max {
		return
	}
	all := t.Snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].LastSeen.Before(all[j].LastSeen) })
	drop := len(all) - t.max
	for _, e := range all[:drop] {
		sh := t.shard(e.Identity)
		sh.mu.Lock()
		delete(sh.entries, e.Identity)
		sh.mu.Unlock()
	}
}

// --- persistence ---

// AttachStore loads persisted entries and starts the debounced saver.
// interval bounds write frequency; updates between ticks coalesce.
func (t *Table) AttachStore(ctx context.Context, s Store, interval time.Duration) error {
	if s == nil {
		return nil
	}
	entries, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ec := e
		sh := t.shard(e.Identity)
		sh.mu.Lock()
		sh.entries[e.Identity] = &ec
		sh.mu.Unlock()
	}
	t.saveMu.Lock()
	t.store = s
	t.stopSave = make(chan struct{})
	t.saveMu.Unlock()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t.saveWG.Add(1)
	go t.saveLoop(interval)
	return nil
}

// DetachStore flushes pending state and stops the saver.
func (t *Table) DetachStore() {
	t.saveMu.Lock()
	stop := t.stopSave
	t.stopSave = nil
	t.saveMu.Unlock()
	if stop != nil {
		close(stop)
		t.saveWG.Wait()
	}
	t.flush()
	t.saveMu.Lock()
	t.store = nil
	t.saveMu.Unlock()
}

func (t *Table) markDirty() {
	select {
	case t.dirty <- struct{}{}:
	default:
	}
}

func (t *Table) saveLoop(interval time.Duration) {
	defer t.saveWG.Done()
	t.saveMu.Lock()
	stop := t.stopSave
	t.saveMu.Unlock()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			select {
			case <-t.dirty:
				t.flush()
			default:
			}
		case <-stop:
			return
		}
	}
}

// flush writes the full table. Persistence failure is logged and swallowed;
// it must never block a termination decision.
func (t *Table) flush() {
	t.saveMu.Lock()
	s := t.store
	t.saveMu.Unlock()
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Save(ctx, t.Snapshot()); err != nil {
		slog.Warn("behavior table save failed", "error", err)
	}
}
