package olcart

import (
	"fmt"
	"time"

	"github.com/ezreal1997/olcart/internal/arena"
)

// NodeID identifies an inner node while it is linked into the tree.
type NodeID uint32

// NodeVersion is an inner node together with the version it was read at.
// The zero value refers to no node and never validates.
type NodeVersion struct {
	Node    NodeID
	Version uint64

	n     *node
	gen   uint64
	depth int // Key position of the children of n, -1 when unknown
}

func observe(n *node, v uint64) NodeVersion {
	return observeAt(n, v, -1)
}

// observeAt records n together with the key position its children start at.
func observeAt(n *node, v uint64, depth int) NodeVersion {
	return NodeVersion{Node: NodeID(n.self), Version: v, n: n, gen: n.gen.Load(), depth: depth}
}

// Validate reports whether the observed node is still linked and unchanged
// since it was read.
func (t *Tree) Validate(nv NodeVersion) bool {
	if nv.n == nil {
		return false
	}
	// Handles are reused after reclamation; the object must be the same.
	if t.node(arena.Handle(nv.Node)) != nv.n {
		return false
	}
	return nv.n.lock.Version() == nv.Version
}

// Intent is a planned insert or remove whose nodes are write-locked but not
// yet changed. Exactly one of Commit and Abort must be called; until then
// the session stays inside its epoch and other writers on the same nodes
// wait.
type Intent struct {
	tree   *Tree
	s      *Session
	m      *mutation
	insert bool
	start  time.Time
	done   bool
}

// Kind returns the structural change the intent will make.
func (i *Intent) Kind() MutationKind {
	return i.m.kind
}

// Locked returns the write-locked nodes in locking order, each with the
// version it had before it was locked.
func (i *Intent) Locked() []NodeVersion {
	out := make([]NodeVersion, 0, i.m.nlocked)
	for _, l := range i.m.locked[:i.m.nlocked] {
		out = append(out, observe(l.n, l.version))
	}
	return out
}

// Slot returns the key byte of the slot the change is made in. For splits it
// is the slot of the new leaf inside the new Node4.
func (i *Intent) Slot() byte {
	switch i.m.kind {
	case MutationSplitPrefix, MutationSplitLeaf:
		return i.m.leafKey
	}
	return i.m.key
}

// PrevTID returns the TID an update replaces or a remove deletes, or 0.
func (i *Intent) PrevTID() TID {
	return i.m.prevTID
}

// Commit applies the intent and releases its locks.
func (i *Intent) Commit() error {
	if i.done {
		return ErrIntentDone
	}
	i.done = true
	i.tree.apply(i.s, i.m)
	if i.insert {
		i.tree.metrics.RecordInsert(time.Since(i.start), nil)
	} else {
		i.tree.metrics.RecordRemove(time.Since(i.start), true)
	}
	i.s.exit()
	return nil
}

// Abort releases the locks of the intent without changing the tree.
func (i *Intent) Abort() error {
	if i.done {
		return ErrIntentDone
	}
	i.done = true
	i.m.release()
	i.s.exit()
	return nil
}

// PrepareInsert plans storing tid under k and locks the nodes the insert
// changes. Nothing is modified until the intent is committed.
func (t *Tree) PrepareInsert(s *Session, k Key, tid TID) (*Intent, error) {
	if tid == 0 || tid > MaxTID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTID, tid)
	}

	start := time.Now()
	s.enter()
	m, err := t.prepareInsert(k, tid)
	if err != nil {
		s.exit()
		return nil, err
	}
	return &Intent{tree: t, s: s, m: m, insert: true, start: start}, nil
}

// PrepareRemove plans removing k and locks the nodes the removal changes.
// It returns false, holding nothing, when k is absent or stored with
// another TID.
func (t *Tree) PrepareRemove(s *Session, k Key, tid TID) (*Intent, bool) {
	start := time.Now()
	s.enter()
	m, ok := t.prepareRemove(k, tid)
	if !ok {
		s.exit()
		return nil, false
	}
	return &Intent{tree: t, s: s, m: m, start: start}, true
}

// LookupObserved is Lookup that also returns the node that holds, or would
// hold, the leaf of k. Validating it later detects inserts and removes of k
// made in between.
func (t *Tree) LookupObserved(s *Session, k Key) (TID, bool, NodeVersion) {
	tid, found, nv, _ := t.lookup(s, k, NodeVersion{})
	return tid, found, nv
}

// LookupFrom repeats a lookup of k starting at the node nv, which an earlier
// LookupObserved of the same key returned. It fails with ErrObsolete once
// that node was unlinked: whatever the caller concluded from the earlier
// lookup no longer holds and its transaction has to abort. A zero nv, or one
// that did not come from a point lookup, descends from the root after the
// obsolete check.
func (t *Tree) LookupFrom(s *Session, k Key, nv NodeVersion) (TID, bool, NodeVersion, error) {
	return t.lookup(s, k, nv)
}

// RangeObserver is told about every result of LookupRangeObserved.
// Returning false from either method aborts the lookup.
type RangeObserver interface {
	// ObserveLeaf is called for each returned TID in key order.
	ObserveLeaf(tid TID) bool
	// ObserveNode is called with the node a leaf was read from, once per
	// run of consecutive leaves from the same node version.
	ObserveNode(nv NodeVersion) bool
}

// LookupRangeObserved is LookupRange that reports its results to obs. It
// returns ErrAborted when the observer stops it.
func (t *Tree) LookupRangeObserved(s *Session, start, end Key, limit int, obs RangeObserver) ([]TID, Key, error) {
	tids, next, parents := t.lookupRange(s, start, end, limit)

	var last NodeVersion
	for i, tid := range tids {
		if parents[i] != last {
			if !obs.ObserveNode(parents[i]) {
				return nil, nil, ErrAborted
			}
			last = parents[i]
		}
		if !obs.ObserveLeaf(tid) {
			return nil, nil, ErrAborted
		}
	}
	return tids, next, nil
}
