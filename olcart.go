// Package olcart implements a concurrent adaptive radix tree that maps
// byte-string keys to 64-bit record identifiers.
//
// Readers never block: every traversal reads node versions optimistically
// and restarts from the root when a concurrent writer invalidated what it
// saw. Writers lock only the nodes they change. Nodes unlinked by a writer
// are reclaimed through epochs once no session can still reach them.
//
// The tree does not store keys. Leaves hold a TID and the caller supplies a
// LoadKeyFunc that rebuilds the key of a TID whenever the tree must compare
// full keys.
//
// A key that is a strict prefix of another key is stored in the child slot
// for byte 0 at the level where it ends. Two keys that would share that
// slot (one ends where the other continues with byte 0) cannot be told
// apart and Insert rejects the second with ErrAmbiguousKey.
package olcart

// NodeType - adaptive radix tree node type.
type NodeType uint8

// Types of node.
const (
	LeafNode NodeType = iota
	Node4
	Node16
	Node48
	Node256
)

func (t NodeType) String() string {
	switch t {
	case LeafNode:
		return "Leaf"
	case Node4:
		return "Node4"
	case Node16:
		return "Node16"
	case Node48:
		return "Node48"
	case Node256:
		return "Node256"
	}
	return "Unknown"
}

// TID identifies a record. Zero means "not found" and the highest bit is
// reserved, so valid TIDs are 1 through MaxTID.
type TID uint64

// MaxTID is the largest TID the tree accepts.
const MaxTID TID = 1<<63 - 1

// LoadKeyFunc returns the full key of the record identified by tid. It must
// be deterministic and must not call back into the tree.
type LoadKeyFunc func(tid TID) Key

// Node interfaces
type Node interface {
	NodeType() NodeType
	Key() Key
	TID() TID
}

// Callback - callback function that is passed in Each.
type Callback func(node Node)

// New creates an empty tree that rebuilds keys with loadKey.
func New(loadKey LoadKeyFunc, opts ...Option) (*Tree, error) {
	if loadKey == nil {
		return nil, ErrNilLoadKey
	}

	return newTree(loadKey, applyOptions(opts)), nil
}
