// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"hash/fnv"
	"sync"

	"github.com/google/btree"

	"grimm.is/dpicore/internal/errors"
	"grimm.is/dpicore/internal/logging"
)

// entry is the (fingerprint, record) pair stored in a shard's tree.
type entry struct {
	fp  Fingerprint
	rec *Record
}

// Table is the sharded, tree-per-root flow table of spec.md §4.4. NumRoots
// must be a power of two; each root holds an independently-locked ordered
// tree (github.com/google/btree), replacing the teacher's open-coded
// per-bucket structures with a concrete ordered map primitive per the
// design notes.
type Table struct {
	logger *logging.Logger

	maxFlows int
	numRoots uint32

	roots []*shard

	count   int
	countMu sync.Mutex
}

type shard struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

// DefaultNumRoots matches a typical nDPI deployment's shard count: enough
// parallelism to keep any one tree small without wasting memory on unused
// shards for small deployments.
const DefaultNumRoots = 64

// DefaultMaxFlows bounds total table capacity; insertion past this fails
// cleanly rather than growing unbounded (spec.md §4.4 "capacity bound").
const DefaultMaxFlows = 100000

// NewTable builds a flow table with numRoots shards (rounded up to the next
// power of two) and a maxFlows capacity bound.
func NewTable(numRoots int, maxFlows int, logger *logging.Logger) *Table {
	if numRoots <= 0 {
		numRoots = DefaultNumRoots
	}
	numRoots = nextPow2(numRoots)
	if maxFlows <= 0 {
		maxFlows = DefaultMaxFlows
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	t := &Table{
		logger:   logger,
		maxFlows: maxFlows,
		numRoots: uint32(numRoots),
		roots:    make([]*shard, numRoots),
	}
	for i := range t.roots {
		t.roots[i] = &shard{
			tree: btree.NewG(32, func(a, b entry) bool { return a.fp.Less(b.fp) }),
		}
	}
	return t
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *Table) rootFor(fp Fingerprint) *shard {
	h := fnv.New64a()
	h.Write([]byte(fp.SrcAddr.String()))
	h.Write([]byte(fp.DstAddr.String()))
	var portBuf [5]byte
	portBuf[0] = byte(fp.Transport)
	portBuf[1] = byte(fp.SrcPort >> 8)
	portBuf[2] = byte(fp.SrcPort)
	portBuf[3] = byte(fp.DstPort >> 8)
	portBuf[4] = byte(fp.DstPort)
	h.Write(portBuf[:])
	idx := h.Sum64() & uint64(t.numRoots-1)
	return t.roots[idx]
}

// FindOrInsert returns the existing record for fp, or creates and inserts a
// new one. created reports which happened. Insertion fails with
// KindUnavailable once the table is at maxFlows capacity — the caller's
// packet is counted but not attached to a flow, per spec.md §4.4/§7.
func (t *Table) FindOrInsert(fp Fingerprint) (rec *Record, created bool, err error) {
	root := t.rootFor(fp)

	root.mu.Lock()
	defer root.mu.Unlock()

	if found, ok := root.tree.Get(entry{fp: fp}); ok {
		return found.rec, false, nil
	}

	t.countMu.Lock()
	if t.count >= t.maxFlows {
		t.countMu.Unlock()
		return nil, false, errors.New(errors.KindUnavailable, "flow table at capacity")
	}
	t.count++
	t.countMu.Unlock()

	rec = NewRecord(fp)
	root.tree.ReplaceOrInsert(entry{fp: fp, rec: rec})
	t.logger.Debug("flow created", "fingerprint", fp)
	return rec, true, nil
}

// Find looks up fp's record without creating one.
func (t *Table) Find(fp Fingerprint) (*Record, bool) {
	root := t.rootFor(fp)
	root.mu.RLock()
	defer root.mu.RUnlock()

	found, ok := root.tree.Get(entry{fp: fp})
	if !ok {
		return nil, false
	}
	return found.rec, true
}

// Delete removes fp's record, if any.
func (t *Table) Delete(fp Fingerprint) {
	root := t.rootFor(fp)

	root.mu.Lock()
	_, existed := root.tree.Delete(entry{fp: fp})
	root.mu.Unlock()

	if existed {
		t.countMu.Lock()
		t.count--
		t.countMu.Unlock()
	}
}

// Count returns the number of flows currently tracked.
func (t *Table) Count() int {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.count
}

// Walk performs an in-order traversal of every root, visiting each flow
// exactly once, used for end-of-capture finalization (spec.md §4.6). The
// visitor may be called concurrently with mutation of other shards but
// holds its own shard's read lock for the duration of that shard's walk.
func (t *Table) Walk(visit func(fp Fingerprint, rec *Record)) {
	for _, root := range t.roots {
		root.mu.RLock()
		root.tree.Ascend(func(e entry) bool {
			visit(e.fp, e.rec)
			return true
		})
		root.mu.RUnlock()
	}
}

// Destroy tears down every shard, invoking free for each record before
// dropping it. After Destroy the table is empty and reusable.
func (t *Table) Destroy(free func(fp Fingerprint, rec *Record)) {
	for _, root := range t.roots {
		root.mu.Lock()
		if free != nil {
			root.tree.Ascend(func(e entry) bool {
				free(e.fp, e.rec)
				return true
			})
		}
		root.tree.Clear(false)
		root.mu.Unlock()
	}
	t.countMu.Lock()
	t.count = 0
	t.countMu.Unlock()
}
