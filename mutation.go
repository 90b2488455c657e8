package olcart

import "bytes"

// MutationKind names the structural change behind an insert or a remove.
type MutationKind uint8

const (
	// MutationInsert puts a new leaf into an empty slot.
	MutationInsert MutationKind = iota
	// MutationGrow replaces a full node with a bigger one holding the new leaf.
	MutationGrow
	// MutationUpdate stores a new TID in the leaf of an existing key.
	MutationUpdate
	// MutationSplitPrefix splices a Node4 above a node whose prefix the key
	// leaves early.
	MutationSplitPrefix
	// MutationSplitLeaf replaces a leaf with a Node4 holding the old and the
	// new leaf.
	MutationSplitLeaf
	// MutationRemove clears a leaf slot.
	MutationRemove
	// MutationShrink replaces an underfull node with a smaller one without
	// the removed leaf.
	MutationShrink
	// MutationCollapse replaces a two-child node with its remaining child.
	MutationCollapse
)

func (k MutationKind) String() string {
	switch k {
	case MutationInsert:
		return "insert"
	case MutationGrow:
		return "grow"
	case MutationUpdate:
		return "update"
	case MutationSplitPrefix:
		return "split-prefix"
	case MutationSplitLeaf:
		return "split-leaf"
	case MutationRemove:
		return "remove"
	case MutationShrink:
		return "shrink"
	case MutationCollapse:
		return "collapse"
	}
	return "unknown"
}

type lockedNode struct {
	n       *node
	version uint64 // Version before the write lock was taken
}

// mutation is a planned structural change. Planning write-locks every node
// the change touches; apply performs the change and releases the locks,
// release gives them up without changing anything.
type mutation struct {
	kind    MutationKind
	locked  [3]lockedNode
	nlocked int

	parent    *node
	parentKey byte // Slot in parent that points to node
	node      *node
	key       byte // Slot in node the change is about

	leaf    ref  // New leaf for inserts and updates
	leafKey byte // Slot of the new leaf inside a new Node4
	prevTID TID  // Replaced or removed TID

	split  *prefixMismatch // MutationSplitPrefix
	prefix *prefix         // Prefix of the new Node4
	oldRef ref             // MutationSplitLeaf: leaf moved into the new Node4
	oldKey byte            // MutationSplitLeaf: slot of the moved leaf

	second    ref   // MutationCollapse: remaining child
	secondKey byte  // MutationCollapse: slot of the remaining child
	child     *node // MutationCollapse: remaining child when it is a node
}

func (m *mutation) hold(n *node, version uint64) {
	m.locked[m.nlocked] = lockedNode{n: n, version: version}
	m.nlocked++
}

// release unlocks every held node in reverse locking order.
func (m *mutation) release() {
	for i := m.nlocked - 1; i >= 0; i-- {
		m.locked[i].n.lock.WriteUnlock()
	}
	m.nlocked = 0
}

// delta returns the change in the number of keys once the mutation applies.
func (m *mutation) delta() int64 {
	switch m.kind {
	case MutationUpdate:
		return 0
	case MutationRemove, MutationShrink, MutationCollapse:
		return -1
	}
	return 1
}

// planInsert descends to the place k belongs and write-locks what the
// insert will change.
func (t *Tree) planInsert(k Key, tid TID) (*mutation, attempt, error) {
	var (
		parent        *node
		parentKey     byte
		parentVersion uint64
		n             *node
		nodeKey       byte
		level         int
	)
	next := t.root
	leaf := leafRef(tid)

	for {
		parent, parentKey = n, nodeKey
		n = next
		v, ok := n.lock.ReadLock()
		if !ok {
			return nil, attemptRestart, nil
		}

		nextLevel := level
		mm, ok := t.checkPrefixPessimistic(n, k, &nextLevel)
		if !ok {
			return nil, attemptRestart, nil
		}
		if mm != nil {
			// The root has no prefix, so parent is set here.
			leafKey, ended := keyByte(k, nextLevel)
			if ended && mm.nonMatching == 0 {
				if !n.lock.Check(v) {
					return nil, attemptRestart, nil
				}
				return nil, attemptOK, ErrAmbiguousKey
			}
			if !parent.lock.Upgrade(parentVersion) {
				return nil, attemptRestart, nil
			}
			if !n.lock.Upgrade(v) {
				parent.lock.WriteUnlock()
				return nil, attemptRestart, nil
			}
			m := &mutation{
				kind:      MutationSplitPrefix,
				parent:    parent,
				parentKey: parentKey,
				node:      n,
				key:       leafKey,
				leaf:      leaf,
				leafKey:   leafKey,
				split:     mm,
				prefix:    newPrefix(n.prefixSnapshot().stored(), mm.matched),
			}
			m.hold(parent, parentVersion)
			m.hold(n, v)
			return m, attemptOK, nil
		}

		level = nextLevel
		var ended bool
		nodeKey, ended = keyByte(k, level)
		r := n.getChild(nodeKey)
		if !n.lock.Check(v) {
			return nil, attemptRestart, nil
		}

		if r == 0 {
			if n.isFull() {
				// The root never fills up, so parent is set here.
				if !parent.lock.Upgrade(parentVersion) {
					return nil, attemptRestart, nil
				}
				if !n.lock.Upgrade(v) {
					parent.lock.WriteUnlock()
					return nil, attemptRestart, nil
				}
				m := &mutation{kind: MutationGrow, parent: parent, parentKey: parentKey, node: n, key: nodeKey, leaf: leaf}
				m.hold(parent, parentVersion)
				m.hold(n, v)
				return m, attemptOK, nil
			}
			if parent != nil && !parent.lock.Check(parentVersion) {
				return nil, attemptRestart, nil
			}
			if !n.lock.Upgrade(v) {
				return nil, attemptRestart, nil
			}
			m := &mutation{kind: MutationInsert, node: n, key: nodeKey, leaf: leaf}
			m.hold(n, v)
			return m, attemptOK, nil
		}

		if parent != nil && !parent.lock.Check(parentVersion) {
			return nil, attemptRestart, nil
		}

		if !r.isLeaf() {
			if ended {
				// Keys below r continue with byte 0 where k ends.
				return nil, attemptOK, ErrAmbiguousKey
			}
			if next = t.node(r.handle()); next == nil {
				return nil, attemptRestart, nil
			}
			level++
			parentVersion = v
			continue
		}

		old := r.tid()
		oldKey := t.loadKey(old)
		if bytes.Equal(oldKey, k) {
			if !n.lock.Upgrade(v) {
				return nil, attemptRestart, nil
			}
			m := &mutation{kind: MutationUpdate, node: n, key: nodeKey, leaf: leaf, prevTID: old}
			m.hold(n, v)
			return m, attemptOK, nil
		}

		// Both keys share the slot at level; one ending there means the
		// other continues with byte 0.
		if ended || level >= len(oldKey) {
			return nil, attemptOK, ErrAmbiguousKey
		}
		end := level + 1
		for end < len(k) && end < len(oldKey) && k[end] == oldKey[end] {
			end++
		}
		newSlot, _ := keyByte(k, end)
		oldSlot, _ := keyByte(oldKey, end)
		if newSlot == oldSlot {
			return nil, attemptOK, ErrAmbiguousKey
		}

		if !n.lock.Upgrade(v) {
			return nil, attemptRestart, nil
		}
		m := &mutation{
			kind:    MutationSplitLeaf,
			node:    n,
			key:     nodeKey,
			leaf:    leaf,
			leafKey: newSlot,
			prefix:  newPrefix(k[level+1:], end-level-1),
			oldRef:  r,
			oldKey:  oldSlot,
		}
		m.hold(n, v)
		return m, attemptOK, nil
	}
}

// planRemove descends to the leaf of k and write-locks what the removal
// will change. It reports attemptNotFound when k is absent or maps to a
// different TID.
func (t *Tree) planRemove(k Key, tid TID) (*mutation, attempt) {
	var (
		parent        *node
		parentKey     byte
		parentVersion uint64
		n             *node
		nodeKey       byte
		level         int
	)
	next := t.root

	for {
		parent, parentKey = n, nodeKey
		n = next
		v, ok := n.lock.ReadLock()
		if !ok {
			return nil, attemptRestart
		}

		if checkPrefix(n, k, &level) == prefixNoMatch {
			if !n.lock.Check(v) {
				return nil, attemptRestart
			}
			return nil, attemptNotFound
		}

		var ended bool
		nodeKey, ended = keyByte(k, level)
		r := n.getChild(nodeKey)
		count := n.count.Load()
		underfull := n.isUnderfull()
		if !n.lock.Check(v) {
			return nil, attemptRestart
		}
		if r == 0 || (ended && !r.isLeaf()) {
			return nil, attemptNotFound
		}

		if !r.isLeaf() {
			if next = t.node(r.handle()); next == nil {
				return nil, attemptRestart
			}
			level++
			parentVersion = v
			continue
		}

		if r.tid() != tid || !bytes.Equal(t.loadKey(tid), k) {
			return nil, attemptNotFound
		}

		switch {
		case count == 2 && parent != nil:
			if !parent.lock.Upgrade(parentVersion) {
				return nil, attemptRestart
			}
			if !n.lock.Upgrade(v) {
				parent.lock.WriteUnlock()
				return nil, attemptRestart
			}
			m := &mutation{kind: MutationCollapse, parent: parent, parentKey: parentKey, node: n, key: nodeKey, prevTID: tid}
			m.hold(parent, parentVersion)
			m.hold(n, v)

			m.second, m.secondKey = n.secondChild(nodeKey)
			if m.second == 0 {
				panic("olcart: collapsing a node without a second child")
			}
			if !m.second.isLeaf() {
				c := t.node(m.second.handle())
				if c == nil {
					panic("olcart: collapsing into an unknown node")
				}
				cv, ok := c.lock.ReadLock()
				if !ok || !c.lock.Upgrade(cv) {
					m.release()
					return nil, attemptRestart
				}
				m.child = c
				m.hold(c, cv)
			}
			return m, attemptOK

		case underfull && parent != nil:
			if !parent.lock.Upgrade(parentVersion) {
				return nil, attemptRestart
			}
			if !n.lock.Upgrade(v) {
				parent.lock.WriteUnlock()
				return nil, attemptRestart
			}
			m := &mutation{kind: MutationShrink, parent: parent, parentKey: parentKey, node: n, key: nodeKey, prevTID: tid}
			m.hold(parent, parentVersion)
			m.hold(n, v)
			return m, attemptOK

		default:
			if parent != nil && !parent.lock.Check(parentVersion) {
				return nil, attemptRestart
			}
			if !n.lock.Upgrade(v) {
				return nil, attemptRestart
			}
			m := &mutation{kind: MutationRemove, node: n, key: nodeKey, prevTID: tid}
			m.hold(n, v)
			return m, attemptOK
		}
	}
}

// apply performs a planned mutation and releases its locks. Replaced nodes
// are retired through the session.
func (t *Tree) apply(s *Session, m *mutation) {
	switch m.kind {
	case MutationInsert:
		m.node.insert(m.key, m.leaf)
		m.node.lock.WriteUnlock()

	case MutationGrow:
		bigger := t.newNode(m.node.kind+1, nil)
		m.node.copyTo(bigger, -1)
		bigger.insert(m.key, m.leaf)
		m.parent.change(m.parentKey, nodeRef(bigger.self))
		m.node.lock.WriteUnlockObsolete()
		s.retire(m.node)
		m.parent.lock.WriteUnlock()

	case MutationUpdate:
		m.node.change(m.key, m.leaf)
		m.node.lock.WriteUnlock()

	case MutationSplitPrefix:
		n4 := t.newNode(Node4, m.prefix)
		n4.insert(m.leafKey, m.leaf)
		n4.insert(m.split.nonMatching, nodeRef(m.node.self))
		m.parent.change(m.parentKey, nodeRef(n4.self))
		m.parent.lock.WriteUnlock()
		m.node.setPrefix(m.split.remaining)
		m.node.lock.WriteUnlock()

	case MutationSplitLeaf:
		n4 := t.newNode(Node4, m.prefix)
		n4.insert(m.leafKey, m.leaf)
		n4.insert(m.oldKey, m.oldRef)
		m.node.change(m.key, nodeRef(n4.self))
		m.node.lock.WriteUnlock()

	case MutationRemove:
		m.node.remove(m.key)
		m.node.lock.WriteUnlock()

	case MutationShrink:
		smaller := t.newNode(m.node.kind-1, nil)
		m.node.copyTo(smaller, int(m.key))
		m.parent.change(m.parentKey, nodeRef(smaller.self))
		m.node.lock.WriteUnlockObsolete()
		s.retire(m.node)
		m.parent.lock.WriteUnlock()

	case MutationCollapse:
		m.parent.change(m.parentKey, m.second)
		m.parent.lock.WriteUnlock()
		if m.child != nil {
			m.child.addPrefixBefore(m.node, m.secondKey)
			m.child.lock.WriteUnlock()
		}
		m.node.lock.WriteUnlockObsolete()
		s.retire(m.node)
	}

	m.nlocked = 0
	t.size.Add(m.delta())
}
