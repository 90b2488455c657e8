package olcart

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// keyStore plays the record store: TID i holds keys[i-1].
type keyStore struct {
	mu   sync.RWMutex
	keys []Key
}

func (s *keyStore) add(k Key) TID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, append(Key(nil), k...))
	return TID(len(s.keys))
}

func (s *keyStore) load(tid TID) Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[tid-1]
}

func newTestTree(tb testing.TB, opts ...Option) (*Tree, *Session, *keyStore) {
	tb.Helper()
	ks := &keyStore{}
	tree, err := New(ks.load, opts...)
	require.NoError(tb, err)
	s := tree.NewSession()
	tb.Cleanup(func() {
		s.Close()
		tree.Close()
	})
	return tree, s, ks
}

func mustInsert(tb testing.TB, tree *Tree, s *Session, ks *keyStore, k Key) TID {
	tb.Helper()
	tid := ks.add(k)
	require.NoError(tb, tree.Insert(s, k, tid))
	return tid
}

// testWords returns n distinct lowercase words of 1 to 12 letters.
func testWords(seed int64, n int) []Key {
	rng := rand.New(rand.NewSource(seed))
	seen := make(map[string]bool, n)
	words := make([]Key, 0, n)
	for len(words) < n {
		b := make([]byte, 1+rng.Intn(12))
		for i := range b {
			b[i] = 'a' + byte(rng.Intn(26))
		}
		if seen[string(b)] {
			continue
		}
		seen[string(b)] = true
		words = append(words, b)
	}
	return words
}

// collect walks the tree with Each and returns every visited node.
func collect(tree *Tree, s *Session) []Node {
	var out []Node
	tree.Each(s, func(n Node) {
		out = append(out, n)
	})
	return out
}
