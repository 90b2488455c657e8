package olcart

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/bits-and-blooms/bitset"

	"github.com/ezreal1997/olcart/internal/arena"
	"github.com/ezreal1997/olcart/internal/olc"
)

const (
	// Inner nodes of type Node4 hold up to 4 children.
	node4Max = 4

	// Inner nodes of type Node16 hold up to 16 children.
	node16Max = 16

	// Inner nodes of type Node48 hold up to 48 children.
	node48Max = 48

	// Inner nodes of type Node256 hold up to 256 children.
	node256Max = 256

	// Removing a child from a node holding this many children replaces the
	// node with the next smaller type. Node4 never shrinks; a Node4 left
	// with a single child is collapsed into its parent instead.
	node16Underfull  = 3
	node48Underfull  = 12
	node256Underfull = 37
)

// ref is a child slot value: 0 for an empty slot, a TID with leafTag set
// for a leaf, or the arena handle of an inner node.
type ref uint64

const leafTag ref = 1 << 63

// leafRef returns the slot value of a leaf holding tid.
func leafRef(tid TID) ref { return ref(tid) | leafTag }

// nodeRef returns the slot value of the inner node with handle h.
func nodeRef(h arena.Handle) ref { return ref(h) }

// isLeaf returns whether r refers to a leaf.
func (r ref) isLeaf() bool { return r&leafTag != 0 }

// tid returns the TID of a leaf ref.
func (r ref) tid() TID { return TID(r &^ leafTag) }

// handle returns the arena handle of an inner node ref.
func (r ref) handle() arena.Handle { return arena.Handle(r) }

// node is the header shared by every inner node type. It is the first field
// of node4, node16, node48 and node256, so a *node can be converted to the
// concrete type selected by kind.
//
// Every field an optimistic reader looks at is an atomic. Readers may see a
// mix of old and new values while a writer holds the lock; validating the
// version afterwards tells them whether what they saw was consistent.
type node struct {
	lock   olc.Lock
	kind   NodeType
	self   arena.Handle
	count  atomic.Uint32
	prefix atomic.Pointer[prefix]
	gen    atomic.Uint64 // Bumped each time the node is recycled
}

// node4 is of type Node4
type node4 struct {
	node
	keys     [1]atomic.Uint64 // 4 sorted key bytes
	children [node4Max]atomic.Uint64
}

// node16 is of type Node16
type node16 struct {
	node
	keys     [2]atomic.Uint64 // 16 sorted key bytes
	children [node16Max]atomic.Uint64
}

// node48 is of type Node48
type node48 struct {
	node
	index    [32]atomic.Uint64            // index[$(key byte)] = $(slot in children)
	children [node48Max + 1]atomic.Uint64 // Do not use children[0] as 0 marks an empty index entry
	slots    *bitset.BitSet               // Occupied children slots, only touched under the write lock
}

// node256 is of type Node256
type node256 struct {
	node
	children [node256Max]atomic.Uint64 // children[$(key byte)] = $(child)
}

// child is one entry of an ordered children enumeration.
type child struct {
	key byte
	ref ref
}

// newNodeOfKind allocates an empty node of the given kind.
func newNodeOfKind(kind NodeType) *node {
	var n *node
	switch kind {
	case Node4:
		n = &(&node4{}).node
	case Node16:
		n = &(&node16{}).node
	case Node48:
		n = &(&node48{slots: bitset.New(node48Max + 1)}).node
	case Node256:
		n = &(&node256{}).node
	default:
		panic("olcart: unknown node kind " + kind.String())
	}
	n.kind = kind
	return n
}

// node4 returns the node4 of the current node.
func (n *node) node4() *node4 {
	return (*node4)(unsafe.Pointer(n))
}

// node16 returns the node16 of the current node.
func (n *node) node16() *node16 {
	return (*node16)(unsafe.Pointer(n))
}

// node48 returns the node48 of the current node.
func (n *node) node48() *node48 {
	return (*node48)(unsafe.Pointer(n))
}

// node256 returns the node256 of the current node.
func (n *node) node256() *node256 {
	return (*node256)(unsafe.Pointer(n))
}

// sorted returns the key and child arrays of a Node4 or Node16.
func (n *node) sorted() ([]atomic.Uint64, []atomic.Uint64) {
	switch n.kind {
	case Node4:
		nn := n.node4()
		return nn.keys[:], nn.children[:]
	case Node16:
		nn := n.node16()
		return nn.keys[:], nn.children[:]
	}
	return nil, nil
}

// loadCount returns the child count clamped to limit. A torn read can show
// a count that does not fit the node; the caller's validation rejects it.
func (n *node) loadCount(limit int) int {
	return min(int(n.count.Load()), limit)
}

// maxSize returns the maximum number of children for the current node.
func (n *node) maxSize() int {
	switch n.kind {
	case Node4:
		return node4Max
	case Node16:
		return node16Max
	case Node48:
		return node48Max
	case Node256:
		return node256Max
	}
	return 0
}

// isFull returns whether an insert needs a bigger node.
func (n *node) isFull() bool {
	return int(n.count.Load()) >= n.maxSize()
}

// isUnderfull returns whether removing one more child should shrink the node.
func (n *node) isUnderfull() bool {
	cnt := n.count.Load()
	switch n.kind {
	case Node16:
		return cnt == node16Underfull
	case Node48:
		return cnt == node48Underfull
	case Node256:
		return cnt == node256Underfull
	}
	return false
}

// getChild returns the child stored under key byte b, or 0.
func (n *node) getChild(b byte) ref {
	switch n.kind {
	case Node4, Node16:
		keys, children := n.sorted()
		for i, cnt := 0, n.loadCount(len(children)); i < cnt; i++ {
			if loadByte(keys, i) == b {
				return ref(children[i].Load())
			}
		}
	case Node48:
		nn := n.node48()
		if idx := loadByte(nn.index[:], int(b)); idx != 0 && idx <= node48Max {
			return ref(nn.children[idx].Load())
		}
	case Node256:
		return ref(n.node256().children[b].Load())
	}
	return 0
}

// insert adds r under key byte b. The caller holds the write lock and has
// checked that the node is not full.
func (n *node) insert(b byte, r ref) {
	switch n.kind {
	case Node4, Node16:
		keys, children := n.sorted()
		cnt := int(n.count.Load())
		pos := 0
		for pos < cnt && loadByte(keys, pos) < b {
			pos++
		}
		for i := cnt; i > pos; i-- {
			storeByte(keys, i, loadByte(keys, i-1))
			children[i].Store(children[i-1].Load())
		}
		storeByte(keys, pos, b)
		children[pos].Store(uint64(r))
	case Node48:
		nn := n.node48()
		slot, ok := nn.slots.NextClear(1)
		if !ok || slot > node48Max {
			panic("olcart: node48 has no free slot")
		}
		nn.children[slot].Store(uint64(r))
		nn.slots.Set(slot)
		storeByte(nn.index[:], int(b), byte(slot))
	case Node256:
		n.node256().children[b].Store(uint64(r))
	}
	n.count.Add(1)
}

// change replaces the child stored under key byte b. The caller holds the
// write lock.
func (n *node) change(b byte, r ref) {
	switch n.kind {
	case Node4, Node16:
		keys, children := n.sorted()
		for i, cnt := 0, int(n.count.Load()); i < cnt; i++ {
			if loadByte(keys, i) == b {
				children[i].Store(uint64(r))
				return
			}
		}
	case Node48:
		nn := n.node48()
		if idx := loadByte(nn.index[:], int(b)); idx != 0 {
			nn.children[idx].Store(uint64(r))
			return
		}
	case Node256:
		nn := n.node256()
		if nn.children[b].Load() != 0 {
			nn.children[b].Store(uint64(r))
			return
		}
	}
	panic("olcart: change of a missing child")
}

// remove deletes the child stored under key byte b. The caller holds the
// write lock.
func (n *node) remove(b byte) {
	switch n.kind {
	case Node4, Node16:
		keys, children := n.sorted()
		cnt := int(n.count.Load())
		pos := 0
		for pos < cnt && loadByte(keys, pos) != b {
			pos++
		}
		if pos == cnt {
			panic("olcart: remove of a missing child")
		}
		for i := pos; i < cnt-1; i++ {
			storeByte(keys, i, loadByte(keys, i+1))
			children[i].Store(children[i+1].Load())
		}
		storeByte(keys, cnt-1, 0)
		children[cnt-1].Store(0)
	case Node48:
		nn := n.node48()
		idx := loadByte(nn.index[:], int(b))
		if idx == 0 {
			panic("olcart: remove of a missing child")
		}
		storeByte(nn.index[:], int(b), 0)
		nn.children[idx].Store(0)
		nn.slots.Clear(uint(idx))
	case Node256:
		nn := n.node256()
		if nn.children[b].Load() == 0 {
			panic("olcart: remove of a missing child")
		}
		nn.children[b].Store(0)
	}
	n.count.Add(^uint32(0))
}

// scan calls fn for every child with a key byte in [lo, hi], in key order,
// until fn returns false.
func (n *node) scan(lo, hi int, fn func(b byte, r ref) bool) {
	switch n.kind {
	case Node4, Node16:
		keys, children := n.sorted()
		for i, cnt := 0, n.loadCount(len(children)); i < cnt; i++ {
			k := int(loadByte(keys, i))
			if k < lo || k > hi {
				continue
			}
			if r := ref(children[i].Load()); r != 0 && !fn(byte(k), r) {
				return
			}
		}
	case Node48:
		nn := n.node48()
		for b := lo; b <= hi; b++ {
			idx := loadByte(nn.index[:], b)
			if idx == 0 || idx > node48Max {
				continue
			}
			if r := ref(nn.children[idx].Load()); r != 0 && !fn(byte(b), r) {
				return
			}
		}
	case Node256:
		nn := n.node256()
		for b := lo; b <= hi; b++ {
			if r := ref(nn.children[b].Load()); r != 0 && !fn(byte(b), r) {
				return
			}
		}
	}
}

// children returns the children with key bytes in [lo, hi] together with
// the version they were read under. It waits out concurrent writers and
// returns ok == false only when the node became obsolete.
func (n *node) children(lo, hi int, buf []child) (out []child, version uint64, ok bool) {
	for {
		v, ok := n.lock.ReadLock()
		if !ok {
			if olc.IsObsolete(v) {
				return nil, v, false
			}
			runtime.Gosched()
			continue
		}
		out = buf[:0]
		n.scan(lo, hi, func(b byte, r ref) bool {
			out = append(out, child{key: b, ref: r})
			return true
		})
		if n.lock.Check(v) {
			return out, v, true
		}
	}
}

// secondChild returns the only child whose key byte is not exclude. The
// caller holds the write lock on a node with two children.
func (n *node) secondChild(exclude byte) (ref, byte) {
	var (
		found ref
		key   byte
	)
	n.scan(0, 255, func(b byte, r ref) bool {
		if b == exclude {
			return true
		}
		found, key = r, b
		return false
	})
	return found, key
}

// anyChild returns a leaf child if there is one, otherwise the first inner
// child. Used to rebuild prefix bytes that are not stored.
func (n *node) anyChild() ref {
	var first ref
	n.scan(0, 255, func(_ byte, r ref) bool {
		if r.isLeaf() {
			first = r
			return false
		}
		if first == 0 {
			first = r
		}
		return true
	})
	return first
}

// copyTo copies prefix and children into dst, which must have room for
// them. The caller holds the write lock on n.
func (n *node) copyTo(dst *node, skip int) {
	dst.prefix.Store(n.prefix.Load())
	n.scan(0, 255, func(b byte, r ref) bool {
		if int(b) != skip {
			dst.insert(b, r)
		}
		return true
	})
}

// prefixSnapshot returns the current prefix, never nil.
func (n *node) prefixSnapshot() *prefix {
	if p := n.prefix.Load(); p != nil {
		return p
	}
	return &emptyPrefix
}

// hasPrefix reports whether the node has a non-empty prefix.
func (n *node) hasPrefix() bool {
	p := n.prefix.Load()
	return p != nil && p.n > 0
}

// setPrefix publishes a new prefix. The caller holds the write lock.
func (n *node) setPrefix(p *prefix) {
	if p.n == 0 {
		p = nil
	}
	n.prefix.Store(p)
}

// addPrefixBefore prepends the prefix of parent and the key byte b that
// led from parent to n. Used when parent is collapsed into n.
func (n *node) addPrefixBefore(parent *node, b byte) {
	pp, np := parent.prefixSnapshot(), n.prefixSnapshot()

	joined := &prefix{n: pp.n + 1 + np.n}
	i := copy(joined.b[:], pp.stored())
	if i < maxStoredPrefixLen {
		joined.b[i] = b
		i++
	}
	copy(joined.b[i:], np.stored())
	n.setPrefix(joined)
}

// reset prepares a reclaimed node for reuse. Its lock keeps counting
// versions so that no stale reader can validate against the new contents.
func (n *node) reset() {
	// The generation moves before the lock loses its obsolete bit.
	n.gen.Add(1)
	n.lock.Recycle()
	n.self = arena.Nil
	n.count.Store(0)
	n.prefix.Store(nil)

	switch n.kind {
	case Node4:
		nn := n.node4()
		clearWords(nn.keys[:])
		clearWords(nn.children[:])
	case Node16:
		nn := n.node16()
		clearWords(nn.keys[:])
		clearWords(nn.children[:])
	case Node48:
		nn := n.node48()
		clearWords(nn.index[:])
		clearWords(nn.children[:])
		nn.slots.ClearAll()
	case Node256:
		clearWords(n.node256().children[:])
	}
}

// nodeSize returns the memory footprint of a node of the given kind.
func nodeSize(kind NodeType) uintptr {
	switch kind {
	case Node4:
		return unsafe.Sizeof(node4{})
	case Node16:
		return unsafe.Sizeof(node16{})
	case Node48:
		return unsafe.Sizeof(node48{}) + uintptr((node48Max+1+63)/64*8)
	case Node256:
		return unsafe.Sizeof(node256{})
	}
	return 0
}

// loadByte returns byte i of a byte array packed into atomic words.
func loadByte(words []atomic.Uint64, i int) byte {
	return byte(words[i>>3].Load() >> ((i & 7) * 8))
}

// storeByte sets byte i of a byte array packed into atomic words. Only the
// lock holder writes, so the read-modify-write needs no CAS.
func storeByte(words []atomic.Uint64, i int, b byte) {
	w := &words[i>>3]
	shift := (i & 7) * 8
	w.Store(w.Load()&^(0xff<<shift) | uint64(b)<<shift)
}

// clearWords zeroes every word of words.
func clearWords(words []atomic.Uint64) {
	for i := range words {
		words[i].Store(0)
	}
}
