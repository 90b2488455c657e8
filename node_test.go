package olcart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allKinds() []*node {
	return []*node{newNodeOfKind(Node4), newNodeOfKind(Node16), newNodeOfKind(Node48), newNodeOfKind(Node256)}
}

func TestNodeAddChild(t *testing.T) {
	for _, n := range allKinds() {
		for i := 0; i < n.maxSize(); i++ {
			n.insert(byte(i), leafRef(TID(i+1)))
		}
		assert.True(t, n.isFull(), n.kind.String())

		for i := 0; i < n.maxSize(); i++ {
			r := n.getChild(byte(i))
			require.True(t, r.isLeaf(), n.kind.String())
			assert.Equal(t, TID(i+1), r.tid())
		}
	}
}

func TestNodeGetChildMissing(t *testing.T) {
	for _, n := range allKinds() {
		n.insert(7, leafRef(1))
		assert.Zero(t, n.getChild(8), n.kind.String())
		assert.Zero(t, n.getChild(0), n.kind.String())
	}
}

func TestNode48Index(t *testing.T) {
	n := newNodeOfKind(Node48)
	for i := 0; i < node48Max; i++ {
		n.insert(byte(i), leafRef(TID(i+1)))
	}
	for i := 0; i < node48Max; i++ {
		assert.Equal(t, byte(i+1), loadByte(n.node48().index[:], i))
	}

	// A freed slot is handed out again.
	n.remove(10)
	n.insert(200, leafRef(99))
	assert.Equal(t, byte(11), loadByte(n.node48().index[:], 200))
}

func TestNode4InsertPreservesSorted(t *testing.T) {
	n := newNodeOfKind(Node4)
	for i := 4; i > 0; i-- {
		n.insert(byte(i), leafRef(TID(i)))
	}

	assert.Equal(t, uint32(4), n.count.Load())
	keys, _ := n.sorted()
	for i := 0; i < 4; i++ {
		assert.Equal(t, byte(i+1), loadByte(keys, i))
	}
}

func TestNodeScanOrder(t *testing.T) {
	for _, n := range allKinds() {
		for _, b := range []byte{3, 1, 2, 0} {
			n.insert(b, leafRef(TID(b)+1))
		}

		var got []byte
		n.scan(1, 2, func(b byte, _ ref) bool {
			got = append(got, b)
			return true
		})
		assert.Equal(t, []byte{1, 2}, got, n.kind.String())

		kids, _, ok := n.children(0, 255, nil)
		require.True(t, ok)
		require.Len(t, kids, 4)
		for i, c := range kids {
			assert.Equal(t, byte(i), c.key)
		}
	}
}

func TestNodeRemove(t *testing.T) {
	for _, n := range allKinds() {
		for i := 0; i < 4; i++ {
			n.insert(byte(i), leafRef(TID(i+1)))
		}
		n.remove(1)

		assert.Equal(t, uint32(3), n.count.Load())
		assert.Zero(t, n.getChild(1))
		assert.Equal(t, TID(3), n.getChild(2).tid())
		assert.Panics(t, func() { n.remove(1) }, n.kind.String())
	}
}

func TestNodeRemoveMissingKeepsCount(t *testing.T) {
	for _, n := range allKinds() {
		assert.Panics(t, func() { n.remove(7) }, n.kind.String())
		assert.Zero(t, n.count.Load(), n.kind.String())
	}
}

func TestNodeChange(t *testing.T) {
	for _, n := range allKinds() {
		n.insert(5, leafRef(1))
		n.change(5, leafRef(2))
		assert.Equal(t, TID(2), n.getChild(5).tid())
		assert.Panics(t, func() { n.change(6, leafRef(3)) })
	}
}

func TestGrow(t *testing.T) {
	nodes := []*node{newNodeOfKind(Node4), newNodeOfKind(Node16), newNodeOfKind(Node48)}
	expectedTypes := []NodeType{Node16, Node48, Node256}

	for i, n := range nodes {
		for j := 0; j < n.maxSize(); j++ {
			n.insert(byte(j*2), leafRef(TID(j+1)))
		}
		n.setPrefix(newPrefix([]byte("ab"), 2))

		bigger := newNodeOfKind(expectedTypes[i])
		n.copyTo(bigger, -1)
		bigger.insert(255, leafRef(1000))

		assert.Equal(t, uint32(n.maxSize()+1), bigger.count.Load())
		assert.Equal(t, []byte("ab"), bigger.prefixSnapshot().stored())
		for j := 0; j < n.maxSize(); j++ {
			assert.Equal(t, TID(j+1), bigger.getChild(byte(j*2)).tid())
		}
	}
}

func TestShrink(t *testing.T) {
	var testData = []struct {
		kind    NodeType
		smaller NodeType
		count   int
	}{
		{Node16, Node4, node16Underfull},
		{Node48, Node16, node48Underfull},
		{Node256, Node48, node256Underfull},
	}

	for _, data := range testData {
		n := newNodeOfKind(data.kind)
		for j := 0; j < data.count; j++ {
			n.insert(byte(j), leafRef(TID(j+1)))
		}
		require.True(t, n.isUnderfull(), data.kind.String())

		smaller := newNodeOfKind(data.smaller)
		n.copyTo(smaller, 0)
		assert.Equal(t, uint32(data.count-1), smaller.count.Load())
		assert.Zero(t, smaller.getChild(0))
		assert.Equal(t, TID(2), smaller.getChild(1).tid())
	}
}

func TestNode4NeverUnderfull(t *testing.T) {
	n := newNodeOfKind(Node4)
	n.insert(1, leafRef(1))
	assert.False(t, n.isUnderfull())
}

func TestSecondChild(t *testing.T) {
	n := newNodeOfKind(Node4)
	n.insert('a', leafRef(1))
	n.insert('b', nodeRef(7))

	r, key := n.secondChild('a')
	assert.Equal(t, byte('b'), key)
	assert.Equal(t, nodeRef(7), r)

	r, key = n.secondChild('b')
	assert.Equal(t, byte('a'), key)
	assert.Equal(t, TID(1), r.tid())
}

func TestAnyChildPrefersLeaf(t *testing.T) {
	n := newNodeOfKind(Node16)
	n.insert(1, nodeRef(3))
	n.insert(9, leafRef(5))
	assert.Equal(t, TID(5), n.anyChild().tid())

	n.remove(9)
	assert.Equal(t, nodeRef(3), n.anyChild())
}

func TestAddPrefixBefore(t *testing.T) {
	parent := newNodeOfKind(Node4)
	parent.setPrefix(newPrefix([]byte("ab"), 2))
	n := newNodeOfKind(Node4)
	n.setPrefix(newPrefix([]byte("cd"), 2))

	n.addPrefixBefore(parent, 'x')
	p := n.prefixSnapshot()
	assert.Equal(t, 5, p.n)
	assert.Equal(t, []byte("abxcd"), p.stored())
}

func TestAddPrefixBeforeTruncates(t *testing.T) {
	parent := newNodeOfKind(Node4)
	parent.setPrefix(newPrefix([]byte("0123456789"), 10))
	n := newNodeOfKind(Node4)
	n.setPrefix(newPrefix([]byte("abc"), 3))

	n.addPrefixBefore(parent, 'x')
	p := n.prefixSnapshot()
	assert.Equal(t, 14, p.n)
	assert.Equal(t, []byte("0123456789x"), p.stored())
}

func TestNodeResetKeepsVersionMonotonic(t *testing.T) {
	n := newNodeOfKind(Node48)
	n.insert(1, leafRef(1))
	n.setPrefix(newPrefix([]byte("zz"), 2))

	v, ok := n.lock.ReadLock()
	require.True(t, ok)
	require.True(t, n.lock.Upgrade(v))
	n.lock.WriteUnlockObsolete()

	gen := n.gen.Load()
	n.reset()
	nv, ok := n.lock.ReadLock()
	require.True(t, ok)
	assert.Greater(t, nv, v)
	assert.Equal(t, gen+1, n.gen.Load())
	assert.Zero(t, n.count.Load())
	assert.False(t, n.hasPrefix())
	assert.Zero(t, n.getChild(1))

	// Slot 1 is free again after the reset.
	n.insert(2, leafRef(2))
	assert.Equal(t, byte(1), loadByte(n.node48().index[:], 2))
}

func TestNodeTypeString(t *testing.T) {
	assert.Equal(t, "Leaf", LeafNode.String())
	assert.Equal(t, "Node48", Node48.String())
	assert.Equal(t, "Unknown", NodeType(42).String())
}
