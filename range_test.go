package olcart

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupRangeContinuation(t *testing.T) {
	tree, s, ks := newTestTree(t)

	var tids []TID
	for i := uint64(1); i <= 3; i++ {
		tids = append(tids, mustInsert(t, tree, s, ks, KeyFromUint64(i)))
	}

	res, next := tree.LookupRange(s, KeyFromUint64(1), KeyFromUint64(3), 2)
	assert.Equal(t, tids[:2], res)
	assert.Equal(t, KeyFromUint64(3), next)

	res, next = tree.LookupRange(s, next, KeyFromUint64(3), 2)
	assert.Equal(t, tids[2:], res)
	assert.Nil(t, next)
}

func TestLookupRangeEmpty(t *testing.T) {
	tree, s, ks := newTestTree(t)
	for i := uint64(0); i < 10; i++ {
		mustInsert(t, tree, s, ks, KeyFromUint64(i*10))
	}

	var testData = []struct {
		name       string
		start, end Key
		limit      int
	}{
		{"start after end", KeyFromUint64(50), KeyFromUint64(40), 10},
		{"zero limit", KeyFromUint64(0), KeyFromUint64(90), 0},
		{"negative limit", KeyFromUint64(0), KeyFromUint64(90), -1},
		{"gap", KeyFromUint64(11), KeyFromUint64(19), 10},
		{"beyond", KeyFromUint64(91), KeyFromUint64(1000), 10},
	}

	for _, data := range testData {
		t.Run(data.name, func(t *testing.T) {
			res, next := tree.LookupRange(s, data.start, data.end, data.limit)
			assert.Empty(t, res)
			assert.Nil(t, next)
		})
	}
}

func TestLookupRangeInclusiveBounds(t *testing.T) {
	tree, s, ks := newTestTree(t)
	tids := make(map[uint64]TID)
	for i := uint64(0); i < 1000; i++ {
		tids[i] = mustInsert(t, tree, s, ks, KeyFromUint64(i*3))
	}

	res, next := tree.LookupRange(s, KeyFromUint64(300), KeyFromUint64(600), 1000)
	require.Len(t, res, 101)
	assert.Nil(t, next)
	assert.Equal(t, tids[100], res[0])
	assert.Equal(t, tids[200], res[100])

	res, next = tree.LookupRange(s, KeyFromUint64(301), KeyFromUint64(599), 1000)
	require.Len(t, res, 99)
	assert.Nil(t, next)
	assert.Equal(t, tids[101], res[0])
	assert.Equal(t, tids[199], res[98])
}

func TestLookupRangePrefixKeys(t *testing.T) {
	tree, s, ks := newTestTree(t)

	words := []string{"A", "AB", "ABBA", "ABC", "B"}
	tids := make(map[string]TID)
	for _, w := range words {
		tids[w] = mustInsert(t, tree, s, ks, Key(w))
	}

	var testData = []struct {
		start, end string
		expected   []string
	}{
		{"A", "B", []string{"A", "AB", "ABBA", "ABC", "B"}},
		{"A", "AB", []string{"A", "AB"}},
		{"AB", "ABBA", []string{"AB", "ABBA"}},
		{"A", "ABB", []string{"A", "AB"}},
		{"ABB", "ABC", []string{"ABBA", "ABC"}},
		{"AB", "AB", []string{"AB"}},
		{"ABBA", "ABBA", []string{"ABBA"}},
		{"AA", "AAA", nil},
		{"", "A", []string{"A"}},
		{"ABBAA", "ABBB", nil},
		{"ABD", "Z", []string{"B"}},
	}

	for _, data := range testData {
		t.Run(data.start+".."+data.end, func(t *testing.T) {
			res, next := tree.LookupRange(s, Key(data.start), Key(data.end), 10)
			var expected []TID
			for _, w := range data.expected {
				expected = append(expected, tids[w])
			}
			assert.Equal(t, expected, res)
			assert.Nil(t, next)
		})
	}
}

func TestLookupRangeLongPrefixes(t *testing.T) {
	tree, s, ks := newTestTree(t)

	base := []byte("common-prefix-longer-than-stored/")
	var keys []Key
	for _, suffix := range []string{"a", "b", "c1", "c2", "d"} {
		keys = append(keys, append(append(Key(nil), base...), suffix...))
	}
	tids := make([]TID, len(keys))
	for i, k := range keys {
		tids[i] = mustInsert(t, tree, s, ks, k)
	}

	res, next := tree.LookupRange(s, keys[1], keys[3], 10)
	assert.Equal(t, tids[1:4], res)
	assert.Nil(t, next)

	// Bounds that leave the prefix beyond the stored bytes.
	lo := append(Key(nil), base[:20]...)
	hi := append(append(Key(nil), base[:20]...), 0xff)
	res, _ = tree.LookupRange(s, lo, hi, 10)
	assert.Equal(t, tids, res)

	lo[15]++
	res, _ = tree.LookupRange(s, lo, append(append(Key(nil), lo...), 0xff), 10)
	assert.Empty(t, res)
}

func TestLookupRangeRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	alphabet := []byte{1, 2, 3, 'a', 'b', 0xfe, 0xff}
	randomKey := func(minLen int) Key {
		k := make(Key, minLen+rng.Intn(8))
		for i := range k {
			k[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return k
	}

	tree, s, ks := newTestTree(t)
	tidOf := make(map[string]TID)
	for i := 0; i < 3000; i++ {
		k := randomKey(1)
		if _, ok := tidOf[string(k)]; ok {
			continue
		}
		tidOf[string(k)] = mustInsert(t, tree, s, ks, k)
	}
	sorted := make([]string, 0, len(tidOf))
	for k := range tidOf {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for i := 0; i < 500; i++ {
		start, end := randomKey(0), randomKey(0)
		if bytes.Compare(start, end) > 0 {
			start, end = end, start
		}
		limit := 1 + rng.Intn(50)

		var (
			want     []TID
			wantNext Key
		)
		for _, k := range sorted {
			if k < string(start) || k > string(end) {
				continue
			}
			if len(want) == limit {
				wantNext = Key(k)
				break
			}
			want = append(want, tidOf[k])
		}

		res, next := tree.LookupRange(s, start, end, limit)
		require.Equal(t, want, res, "range [%x, %x] limit %d", start, end, limit)
		require.Equal(t, wantNext, next, "range [%x, %x] limit %d", start, end, limit)
	}
}

func TestLookupRangePagination(t *testing.T) {
	tree, s, ks := newTestTree(t)

	words := testWords(3, 2000)
	for _, w := range words {
		mustInsert(t, tree, s, ks, w)
	}
	sort.Slice(words, func(i, j int) bool { return bytes.Compare(words[i], words[j]) < 0 })

	var (
		seen  []Key
		start = Key("a")
		end   = Key("zzzzzzzzzzzzz")
	)
	for start != nil {
		res, next := tree.LookupRange(s, start, end, 7)
		require.NotEmpty(t, res)
		for _, tid := range res {
			seen = append(seen, ks.load(tid))
		}
		start = next
	}
	assert.Equal(t, words, seen)
}
