package olcart

// maxStoredPrefixLen is the number of prefix bytes kept inside a node.
// Longer prefixes keep their full length but the remaining bytes are read
// from the key of any leaf below the node.
const maxStoredPrefixLen = 11

// prefix is an immutable compressed path. Nodes publish a new value instead
// of editing one in place.
type prefix struct {
	n int // Full prefix length, may exceed len(b)
	b [maxStoredPrefixLen]byte
}

var emptyPrefix prefix

// newPrefix returns a prefix of length n whose stored bytes come from src.
func newPrefix(src []byte, n int) *prefix {
	p := &prefix{n: n}
	copy(p.b[:], src[:min(len(src), n, maxStoredPrefixLen)])
	return p
}

// stored returns the bytes of the prefix held in the node.
func (p *prefix) stored() []byte {
	return p.b[:min(p.n, maxStoredPrefixLen)]
}

type prefixResult uint8

const (
	prefixMatch prefixResult = iota
	prefixNoMatch
	// prefixOptimisticMatch means the stored bytes matched but the prefix
	// is longer than what is stored; the rest was skipped unchecked.
	prefixOptimisticMatch
)

// checkPrefix compares the stored prefix of n with k starting at *level and
// advances *level past the full prefix on a match.
func checkPrefix(n *node, k Key, level *int) prefixResult {
	p := n.prefix.Load()
	if p == nil || p.n == 0 {
		return prefixMatch
	}
	// Every key below n has real bytes for the whole prefix.
	if len(k) < *level+p.n {
		return prefixNoMatch
	}
	for _, b := range p.stored() {
		if b != k[*level] {
			return prefixNoMatch
		}
		*level++
	}
	if p.n > maxStoredPrefixLen {
		*level += p.n - maxStoredPrefixLen
		return prefixOptimisticMatch
	}
	return prefixMatch
}

// prefixMismatch describes where a key leaves the prefix of a node.
type prefixMismatch struct {
	matched     int     // Prefix bytes shared with the key
	nonMatching byte    // Prefix byte at the mismatch
	remaining   *prefix // Prefix after the mismatching byte
}

// checkPrefixPessimistic compares the full prefix of n with k, reading
// bytes beyond the stored ones from a leaf below n. On a match *level is
// advanced past the prefix. On a mismatch *level points at the first
// differing position. ok is false when a concurrent change was detected.
func (t *Tree) checkPrefixPessimistic(n *node, k Key, level *int) (mm *prefixMismatch, ok bool) {
	p := n.prefix.Load()
	if p == nil || p.n == 0 {
		return nil, true
	}

	start := *level
	var full Key
	loadFull := func() bool {
		if full != nil {
			return true
		}
		tid, ok := t.anyChildTID(n)
		if !ok {
			return false
		}
		full = t.loadKey(tid)
		// A leaf below n always covers the whole prefix.
		return len(full) >= start+p.n
	}

	for i := 0; i < p.n; i++ {
		var cur byte
		if i < maxStoredPrefixLen {
			cur = p.b[i]
		} else {
			if !loadFull() {
				return nil, false
			}
			cur = full[*level]
		}

		if *level < len(k) && cur == k[*level] {
			*level++
			continue
		}

		mm = &prefixMismatch{matched: i, nonMatching: cur}
		rest := p.n - i - 1
		if p.n > maxStoredPrefixLen {
			if !loadFull() {
				return nil, false
			}
			mm.remaining = newPrefix(full[*level+1:], rest)
		} else {
			mm.remaining = newPrefix(p.b[i+1:p.n], rest)
		}
		return mm, true
	}
	return nil, true
}

// anyChildTID returns the TID of some leaf below n. ok is false when a
// concurrent change was detected on the way down.
func (t *Tree) anyChildTID(n *node) (TID, bool) {
	for {
		v, ok := n.lock.ReadLock()
		if !ok {
			return 0, false
		}
		r := n.anyChild()
		if !n.lock.Check(v) || r == 0 {
			return 0, false
		}
		if r.isLeaf() {
			return r.tid(), true
		}
		if n = t.node(r.handle()); n == nil {
			return 0, false
		}
	}
}

type compareResult uint8

const (
	compareSmaller compareResult = iota
	compareEqual
	compareBigger
)

// checkPrefixCompare orders the prefix of n against the bytes of bound at
// the same positions. An exhausted bound compares below every byte. *level
// is advanced past the prefix when the result is compareEqual.
func (t *Tree) checkPrefixCompare(n *node, bound Key, level *int) (compareResult, bool) {
	p := n.prefix.Load()
	if p == nil || p.n == 0 {
		return compareEqual, true
	}

	from := *level
	var full Key
	for i := 0; i < p.n; i++ {
		var cur byte
		if i < maxStoredPrefixLen {
			cur = p.b[i]
		} else {
			if full == nil {
				tid, ok := t.anyChildTID(n)
				if !ok {
					return compareEqual, false
				}
				if full = t.loadKey(tid); len(full) < from+p.n {
					return compareEqual, false
				}
			}
			cur = full[*level]
		}

		b := boundByte(bound, *level)
		switch {
		case int(cur) < b:
			return compareSmaller, true
		case int(cur) > b:
			return compareBigger, true
		}
		*level++
	}
	return compareEqual, true
}

type equalsResult uint8

const (
	// equalsBoth means the prefix matched both bounds byte for byte.
	equalsBoth equalsResult = iota
	// equalsContained means every key below the node lies inside the range.
	equalsContained
	// equalsNoMatch means no key below the node lies inside the range.
	equalsNoMatch
	// equalsStart means the keys below the node are below end and only
	// start still needs checking.
	equalsStart
	// equalsEnd means the keys below the node are above start and only end
	// still needs checking.
	equalsEnd
)

// checkPrefixEquals classifies the subtree of n against both range bounds.
// *level is advanced past the prefix when the result is equalsBoth.
func (t *Tree) checkPrefixEquals(n *node, start, end Key, level *int) (equalsResult, bool) {
	p := n.prefix.Load()
	if p == nil || p.n == 0 {
		return equalsBoth, true
	}

	from := *level
	var full Key
	for i := 0; i < p.n; i++ {
		var cur byte
		if i < maxStoredPrefixLen {
			cur = p.b[i]
		} else {
			if full == nil {
				tid, ok := t.anyChildTID(n)
				if !ok {
					return equalsBoth, false
				}
				if full = t.loadKey(tid); len(full) < from+p.n {
					return equalsBoth, false
				}
			}
			cur = full[*level]
		}

		c, lo, hi := int(cur), boundByte(start, *level), boundByte(end, *level)
		switch {
		case c < lo || c > hi:
			return equalsNoMatch, true
		case c > lo && c < hi:
			return equalsContained, true
		case lo != hi && c == lo:
			return equalsStart, true
		case lo != hi && c == hi:
			return equalsEnd, true
		}
		*level++
	}
	return equalsBoth, true
}
