package olcart

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Stats describes the shape and memory use of a tree.
type Stats struct {
	Keys      int              // Keys counted by Len
	Nodes     [Node256 + 1]int // Reachable inner nodes per type
	Leaves    int              // Leaves seen by the walk
	MaxDepth  int              // Deepest inner node, the root being 1
	Bytes     uint64           // Footprint of the reachable inner nodes
	Handles   int              // Node handles in use, including retired nodes
	FreeSlots int              // Released handles waiting for reuse
	Epoch     uint64           // Global reclamation epoch
	Reclaimed int64            // Nodes freed since the tree was created
	Sessions  int              // Registered sessions
}

// InnerNodes returns the number of reachable inner nodes.
func (s Stats) InnerNodes() int {
	total := 0
	for _, n := range s.Nodes[Node4:] {
		total += n
	}
	return total
}

func (s Stats) String() string {
	return fmt.Sprintf("keys=%s leaves=%s nodes=%s (n4=%d n16=%d n48=%d n256=%d) depth=%d mem=%s handles=%d free=%d epoch=%d reclaimed=%s",
		humanize.Comma(int64(s.Keys)),
		humanize.Comma(int64(s.Leaves)),
		humanize.Comma(int64(s.InnerNodes())),
		s.Nodes[Node4], s.Nodes[Node16], s.Nodes[Node48], s.Nodes[Node256],
		s.MaxDepth,
		humanize.IBytes(s.Bytes),
		s.Handles, s.FreeSlots,
		s.Epoch,
		humanize.Comma(s.Reclaimed),
	)
}

// Stats walks the tree and returns its statistics. Under concurrent writes
// the walk sees every node as of some moment during the call.
func (t *Tree) Stats(s *Session) Stats {
	var st Stats
	s.enter()
	t.statsHelper(t.root, 1, &st)
	s.exit()

	as := t.nodes.Stats()
	st.Keys = t.Len()
	st.Handles = as.Live
	st.FreeSlots = as.Free
	st.Epoch = t.epochs.Epoch()
	st.Reclaimed = t.epochs.Freed()
	st.Sessions = t.epochs.Participants()
	return st
}

func (t *Tree) statsHelper(n *node, depth int, st *Stats) {
	kids, _, ok := n.children(0, 255, nil)
	if !ok {
		return
	}
	st.Nodes[n.kind]++
	st.Bytes += uint64(nodeSize(n.kind))
	st.MaxDepth = max(st.MaxDepth, depth)

	for _, c := range kids {
		if c.ref.isLeaf() {
			st.Leaves++
			continue
		}
		if next := t.node(c.ref.handle()); next != nil {
			t.statsHelper(next, depth+1, st)
		}
	}
}
