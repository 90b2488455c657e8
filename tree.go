package olcart

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ezreal1997/olcart/internal/arena"
	"github.com/ezreal1997/olcart/internal/epoch"
	"github.com/ezreal1997/olcart/internal/olc"
)

// Tree is a concurrent adaptive radix tree. All methods are safe for
// concurrent use; each goroutine passes its own Session.
type Tree struct {
	root    *node
	nodes   *arena.Arena[node]
	epochs  *epoch.Manager[arena.Handle]
	pools   [Node256 + 1]sync.Pool
	loadKey LoadKeyFunc
	logger  *Logger
	metrics MetricsCollector
	size    atomic.Int64
	closed  atomic.Bool
}

// newTree returns a tree whose root is an empty Node256.
func newTree(loadKey LoadKeyFunc, o options) *Tree {
	t := &Tree{
		nodes:   arena.New[node](),
		loadKey: loadKey,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}
	for kind := Node4; kind <= Node256; kind++ {
		t.pools[kind].New = func() any { return newNodeOfKind(kind) }
	}
	t.epochs = epoch.New(t.free,
		epoch.WithThreshold(o.reclaimThreshold),
		epoch.WithAdvanceInterval(o.advanceInterval),
	)
	t.root = t.newNode(Node256, nil)
	return t
}

// Session is a goroutine's handle for epoch membership. A Session must not
// be used by two goroutines at the same time.
type Session struct {
	id   uuid.UUID
	tree *Tree
	p    *epoch.Participant[arena.Handle]
	log  *Logger
}

// NewSession registers a new session. Reuse it across calls and Close it
// when the goroutine is done with the tree.
func (t *Tree) NewSession() *Session {
	id := uuid.New()
	s := &Session{
		id:   id,
		tree: t,
		p:    t.epochs.Register(),
		log:  t.logger.WithSession(id),
	}
	s.log.Debug("session opened", "sessions", t.epochs.Participants())
	return s
}

// ID returns the identifier the session is logged with.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Close unregisters the session. Nodes it retired and that are still
// pending are reclaimed by other sessions.
func (s *Session) Close() {
	pending := s.p.Pending()
	s.p.Close()
	s.log.Debug("session closed", "pending", pending)
}

func (s *Session) enter() {
	s.p.Enter()
}

func (s *Session) exit() {
	if n := s.p.Exit(); n > 0 {
		s.tree.reclaimed(s, n)
	}
}

// retire hands an unlinked node to epoch reclamation.
func (s *Session) retire(n *node) {
	s.p.Retire(n.self)
}

func (t *Tree) reclaimed(s *Session, n int) {
	t.metrics.RecordReclaim(n)
	s.log.Debug("reclaimed nodes", "count", n, "epoch", t.epochs.Epoch())
}

// newNode takes a node of the given kind from its pool and registers it.
func (t *Tree) newNode(kind NodeType, p *prefix) *node {
	n := t.pools[kind].Get().(*node)
	if p != nil && p.n > 0 {
		n.prefix.Store(p)
	}
	n.self = t.nodes.Alloc(n)
	return n
}

// free is called by epoch reclamation once no session can reach h.
func (t *Tree) free(h arena.Handle) {
	n := t.nodes.Free(h)
	if n == nil {
		panic(fmt.Sprintf("olcart: reclaimed unknown node %d", h))
	}
	n.reset()
	t.pools[n.kind].Put(n)
}

// node resolves a child handle. It returns nil for a handle that does not
// resolve, which callers treat as a concurrent change.
func (t *Tree) node(h arena.Handle) *node {
	return t.nodes.Get(h)
}

// attempt is the outcome of one optimistic traversal.
type attempt uint8

const (
	attemptOK attempt = iota
	attemptNotFound
	attemptRestart
	// attemptObsolete: the node a resumed lookup starts at was unlinked.
	attemptObsolete
	// attemptDiverged: the key left the prefix of the start node.
	attemptDiverged
)

// retry runs op until it completes without detecting a conflict.
func (t *Tree) retry(op func() attempt) attempt {
	for {
		if a := op(); a != attemptRestart {
			return a
		}
		t.metrics.RecordRestart()
	}
}

// Lookup returns the TID stored for k.
func (t *Tree) Lookup(s *Session, k Key) (TID, bool) {
	tid, found, _, _ := t.lookup(s, k, NodeVersion{})
	return tid, found
}

func (t *Tree) lookup(s *Session, k Key, from NodeVersion) (TID, bool, NodeVersion, error) {
	start := time.Now()
	s.enter()
	defer s.exit()

	var (
		tid TID
		obs NodeVersion
	)
	a := t.retry(func() attempt {
		var a attempt
		tid, obs, a = t.lookupAttempt(k, from)
		if a == attemptDiverged {
			// k leaves the prefix of the start node; a node spliced in
			// above it may hold k now.
			from = NodeVersion{}
			return attemptRestart
		}
		return a
	})
	found := a == attemptOK
	t.metrics.RecordLookup(time.Since(start), found)
	if a == attemptObsolete {
		return 0, false, NodeVersion{}, ErrObsolete
	}
	return tid, found, obs, nil
}

// lookupAttempt makes one optimistic descent, from the root or from the node
// in from. Besides the result it reports the node that holds, or would hold,
// the leaf of k.
func (t *Tree) lookupAttempt(k Key, from NodeVersion) (TID, NodeVersion, attempt) {
	n := t.root
	if from.n != nil && from.n != t.root {
		// The lock word is read first: a recycled node has its generation
		// bumped before it loses the obsolete bit.
		if olc.IsObsolete(from.n.lock.Version()) || from.n.gen.Load() != from.gen {
			return 0, NodeVersion{}, attemptObsolete
		}
		if from.depth >= 0 {
			n = from.n
		}
	}

	v, ok := n.lock.ReadLock()
	if !ok {
		return 0, NodeVersion{}, attemptRestart
	}

	level := 0
	if n != t.root {
		// Splits and collapses move the start of a prefix but never the
		// position its children start at.
		if level = from.depth - n.prefixSnapshot().n; level < 0 {
			return 0, NodeVersion{}, attemptRestart
		}
	}

	for {
		depth := level + n.prefixSnapshot().n
		if checkPrefix(n, k, &level) == prefixNoMatch {
			if !n.lock.Check(v) {
				return 0, NodeVersion{}, attemptRestart
			}
			if n == from.n {
				return 0, NodeVersion{}, attemptDiverged
			}
			return 0, observeAt(n, v, depth), attemptNotFound
		}

		b, ended := keyByte(k, level)
		r := n.getChild(b)
		if !n.lock.Check(v) {
			return 0, NodeVersion{}, attemptRestart
		}
		owner := observeAt(n, v, depth)

		switch {
		case r == 0, ended && !r.isLeaf():
			return 0, owner, attemptNotFound
		case r.isLeaf():
			// Stored prefixes can be truncated and the byte-0 slot is
			// shared, so only the full key proves a match.
			tid := r.tid()
			if !bytes.Equal(t.loadKey(tid), k) {
				return 0, owner, attemptNotFound
			}
			return tid, owner, attemptOK
		}

		next := t.node(r.handle())
		if next == nil {
			return 0, NodeVersion{}, attemptRestart
		}
		nv, ok := next.lock.ReadLock()
		if !ok || !n.lock.Check(v) {
			return 0, NodeVersion{}, attemptRestart
		}
		n, v = next, nv
		level++
	}
}

// Insert stores tid under k, replacing the TID of an existing key.
func (t *Tree) Insert(s *Session, k Key, tid TID) error {
	if tid == 0 || tid > MaxTID {
		return fmt.Errorf("%w: %d", ErrInvalidTID, tid)
	}

	start := time.Now()
	s.enter()
	defer s.exit()

	m, err := t.prepareInsert(k, tid)
	if err == nil {
		t.apply(s, m)
	}
	t.metrics.RecordInsert(time.Since(start), err)
	return err
}

// prepareInsert plans an insert and returns it with its locks held.
func (t *Tree) prepareInsert(k Key, tid TID) (*mutation, error) {
	var (
		m   *mutation
		err error
	)
	t.retry(func() attempt {
		var a attempt
		m, a, err = t.planInsert(k, tid)
		return a
	})
	if err != nil {
		t.logger.Warn("insert rejected", "key", fmt.Sprintf("%x", []byte(k)), "tid", tid, "error", err)
		return nil, fmt.Errorf("%w: key %x", err, []byte(k))
	}
	return m, nil
}

// Remove deletes k if it is stored with tid. It returns false when k is
// absent or stored with another TID.
func (t *Tree) Remove(s *Session, k Key, tid TID) bool {
	start := time.Now()
	s.enter()
	defer s.exit()

	m, ok := t.prepareRemove(k, tid)
	if ok {
		t.apply(s, m)
	}
	t.metrics.RecordRemove(time.Since(start), ok)
	return ok
}

// prepareRemove plans a removal and returns it with its locks held.
func (t *Tree) prepareRemove(k Key, tid TID) (*mutation, bool) {
	var m *mutation
	a := t.retry(func() attempt {
		var a attempt
		m, a = t.planRemove(k, tid)
		return a
	})
	return m, a == attemptOK
}

// Len returns the number of keys in the tree.
func (t *Tree) Len() int {
	return int(t.size.Load())
}

// nodeView is the Node handed to Each callbacks.
type nodeView struct {
	kind NodeType
	key  Key
	tid  TID
}

// NodeType returns the type of the node.
func (v nodeView) NodeType() NodeType { return v.kind }

// Key returns the key of a leaf, or nil for an inner node.
func (v nodeView) Key() Key { return v.key }

// TID returns the TID of a leaf, or 0 for an inner node.
func (v nodeView) TID() TID { return v.tid }

// Each iterates the whole tree in lexicographical order and calls the
// callback for every inner node and leaf, parents before children. While
// writers are active it sees each node as of some point during the walk;
// nodes replaced before the walk reaches them are skipped.
func (t *Tree) Each(s *Session, callback Callback) {
	s.enter()
	defer s.exit()

	t.eachHelper(t.root, callback)
}

// eachHelper is a helper function of Each.
func (t *Tree) eachHelper(current *node, callback Callback) {
	kids, _, ok := current.children(0, 255, nil)
	if !ok {
		return
	}

	callback(nodeView{kind: current.kind})

	for _, c := range kids {
		if c.ref.isLeaf() {
			tid := c.ref.tid()
			callback(nodeView{kind: LeafNode, key: t.loadKey(tid), tid: tid})
			continue
		}
		if next := t.node(c.ref.handle()); next != nil {
			t.eachHelper(next, callback)
		}
	}
}

// Close frees every retired node. Call it once no session is inside an
// operation; the tree must not be used afterwards.
func (t *Tree) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	n := t.epochs.Drain()
	if n > 0 {
		t.metrics.RecordReclaim(n)
	}
	st := t.nodes.Stats()
	t.logger.Info("tree closed",
		"keys", t.Len(),
		"nodes", st.Live,
		"drained", n,
		"reclaimed", t.epochs.Freed(),
	)
}
