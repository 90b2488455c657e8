package olcart

import (
	"bytes"
	"runtime"
	"time"

	"github.com/ezreal1997/olcart/internal/olc"
)

// LookupRange returns up to limit TIDs whose keys lie in [start, end], in
// key order. When more keys match, the second result is the key of the
// next match; pass it as start of the following call to continue. A range
// with start > end is empty.
func (t *Tree) LookupRange(s *Session, start, end Key, limit int) ([]TID, Key) {
	tids, next, _ := t.lookupRange(s, start, end, limit)
	return tids, next
}

func (t *Tree) lookupRange(s *Session, start, end Key, limit int) ([]TID, Key, []NodeVersion) {
	if limit <= 0 || bytes.Compare(start, end) > 0 {
		return nil, nil, nil
	}

	begin := time.Now()
	s.enter()
	defer s.exit()

	r := &rangeScan{
		t:     t,
		start: start,
		end:   end,
		limit: limit,
	}
	t.retry(func() attempt {
		r.reset()
		if !r.run() {
			return attemptRestart
		}
		return attemptOK
	})

	if len(r.results) == 0 {
		r.results, r.parents = nil, nil
	}
	var next Key
	if r.toContinue != 0 {
		next = t.loadKey(r.toContinue)
	}
	t.metrics.RecordRangeLookup(time.Since(begin), len(r.results))
	return r.results, next, r.parents
}

// rangeScan is the state of one range lookup. The find and copy methods
// return false when the whole scan has to start over.
type rangeScan struct {
	t          *Tree
	start, end Key
	limit      int

	results    []TID
	parents    []NodeVersion // Node each result was read from
	toContinue TID
}

func (r *rangeScan) reset() {
	r.results = r.results[:0]
	r.parents = r.parents[:0]
	r.toContinue = 0
}

func (r *rangeScan) done() bool {
	return r.toContinue != 0
}

// emit records a matching leaf read from parent at version vp.
func (r *rangeScan) emit(tid TID, parent *node, vp uint64) {
	if len(r.results) == r.limit {
		r.toContinue = tid
		return
	}
	r.results = append(r.results, tid)
	r.parents = append(r.parents, observe(parent, vp))
}

// run descends while both bounds follow the same path and hands the
// subtrees where they part to copyAll, findStart and findEnd.
func (r *rangeScan) run() bool {
	var (
		parent    *node
		parentKey byte
		vp        uint64
	)
	n := r.t.root
	v, ok := n.lock.ReadLock()
	if !ok {
		return false
	}

	level := 0
	for {
		next := level
		res, ok := r.t.checkPrefixEquals(n, r.start, r.end, &next)
		if !ok || !n.lock.Check(v) || (parent != nil && !parent.lock.Check(vp)) {
			return false
		}

		switch res {
		case equalsNoMatch:
			return true
		case equalsContained:
			return r.copyAll(nodeRef(n.self), parent, vp)
		case equalsStart:
			return r.findStart(nodeRef(n.self), parentKey, level, parent, vp)
		case equalsEnd:
			return r.findEnd(nodeRef(n.self), parentKey, level, parent, vp)
		}
		level = next

		lo, hi := boundByte(r.start, level), boundByte(r.end, level)
		if lo == hi && lo >= 0 {
			c := n.getChild(byte(lo))
			if !n.lock.Check(v) {
				return false
			}
			switch {
			case c == 0:
				return true
			case c.isLeaf():
				if key := r.t.loadKey(c.tid()); bytes.Compare(key, r.start) >= 0 && bytes.Compare(key, r.end) <= 0 {
					r.emit(c.tid(), n, v)
				}
				return true
			}
			child := r.t.node(c.handle())
			if child == nil {
				return false
			}
			cv, ok := child.lock.ReadLock()
			if !ok || !n.lock.Check(v) {
				return false
			}
			parent, parentKey, vp = n, byte(lo), v
			n, v = child, cv
			level++
			continue
		}

		// The bounds part here. An exhausted end only admits the key that
		// ends at this level, which sits in slot 0.
		from, to := max(lo, 0), max(hi, 0)
		kids, cv, ok := n.children(from, to, nil)
		if !ok {
			return false
		}
		for _, c := range kids {
			b := int(c.key)
			switch {
			case lo >= 0 && b == lo:
				ok = r.findStart(c.ref, c.key, level+1, n, cv)
			case hi < 0 || b == hi:
				ok = r.findEnd(c.ref, c.key, level+1, n, cv)
			default:
				ok = r.copyAll(c.ref, n, cv)
			}
			if !ok {
				return false
			}
			if r.done() {
				break
			}
		}
		return true
	}
}

// copyAll emits every leaf below c, which was read from parent at vp.
func (r *rangeScan) copyAll(c ref, parent *node, vp uint64) bool {
	if c.isLeaf() {
		r.emit(c.tid(), parent, vp)
		return true
	}
	n := r.t.node(c.handle())
	if n == nil {
		return false
	}
	kids, v, ok := n.children(0, 255, nil)
	if !ok {
		return false
	}
	for _, k := range kids {
		if !r.copyAll(k.ref, n, v) {
			return false
		}
		if r.done() {
			break
		}
	}
	return true
}

// findStart emits the leaves below c that are at or after start. c was
// read from slot key of parent at version vp; level is the depth of c.
func (r *rangeScan) findStart(c ref, key byte, level int, parent *node, vp uint64) bool {
	return r.findBound(c, key, level, parent, vp, true)
}

// findEnd emits the leaves below c that are at or before end.
func (r *rangeScan) findEnd(c ref, key byte, level int, parent *node, vp uint64) bool {
	return r.findBound(c, key, level, parent, vp, false)
}

func (r *rangeScan) findBound(c ref, key byte, level int, parent *node, vp uint64, lower bool) bool {
	bound := r.end
	if lower {
		bound = r.start
	}

	for {
		if c.isLeaf() {
			cmp := bytes.Compare(r.t.loadKey(c.tid()), bound)
			if (lower && cmp >= 0) || (!lower && cmp <= 0) {
				r.emit(c.tid(), parent, vp)
			}
			return true
		}

		n := r.t.node(c.handle())
		if n == nil {
			return false
		}

		next := level
		v, ok := n.lock.ReadLock()
		var res compareResult
		if ok {
			res, ok = r.t.checkPrefixCompare(n, bound, &next)
		}
		if !ok && !olc.IsObsolete(v) {
			runtime.Gosched()
			continue
		}

		if !ok || !parent.lock.Check(vp) {
			// n was replaced or parent changed: read the edge again.
			var alive bool
			if c, vp, alive = r.rereadEdge(parent, key); !alive {
				return false
			}
			if c == 0 {
				return true
			}
			continue
		}
		if !n.lock.Check(v) {
			continue
		}

		switch {
		case lower && res == compareBigger, !lower && res == compareSmaller:
			return r.copyAll(c, parent, vp)
		case res != compareEqual:
			return true
		}

		b := boundByte(bound, next)
		var kids []child
		switch {
		case lower && b < 0:
			// start ends here, so everything below n is at or after it.
			return r.copyAll(c, parent, vp)
		case lower:
			kids, v, ok = n.children(b, 255, nil)
		case b < 0:
			kids, v, ok = n.children(0, 0, nil)
		default:
			kids, v, ok = n.children(0, b, nil)
		}
		if !ok {
			return false
		}
		for _, k := range kids {
			if b < 0 || int(k.key) == b {
				ok = r.findBound(k.ref, k.key, next+1, n, v, lower)
			} else {
				ok = r.copyAll(k.ref, n, v)
			}
			if !ok {
				return false
			}
			if r.done() {
				break
			}
		}
		return true
	}
}

// rereadEdge returns the current child in slot key of parent together with
// the version it was read under. alive is false once parent itself was
// replaced.
func (r *rangeScan) rereadEdge(parent *node, key byte) (ref, uint64, bool) {
	for {
		v, ok := parent.lock.ReadLock()
		if !ok {
			if olc.IsObsolete(v) {
				return 0, v, false
			}
			runtime.Gosched()
			continue
		}
		c := parent.getChild(key)
		if parent.lock.Check(v) {
			return c, v, true
		}
	}
}
