package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id int
}

func TestAllocGet(t *testing.T) {
	a := New[item]()

	h1 := a.Alloc(&item{id: 1})
	h2 := a.Alloc(&item{id: 2})

	assert.NotEqual(t, Nil, h1)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 1, a.Get(h1).id)
	assert.Equal(t, 2, a.Get(h2).id)
	assert.Equal(t, 2, a.Live())
}

func TestGetUnknownHandle(t *testing.T) {
	a := New[item]()

	assert.Nil(t, a.Get(Nil))
	assert.Nil(t, a.Get(Handle(1<<20)))
}

func TestFreeReusesLowestHandle(t *testing.T) {
	a := New[item]()

	var hs []Handle
	for i := 0; i < 5; i++ {
		hs = append(hs, a.Alloc(&item{id: i}))
	}

	assert.Equal(t, 3, a.Free(hs[3]).id)
	assert.Equal(t, 1, a.Free(hs[1]).id)
	assert.Nil(t, a.Free(hs[1]), "double free returns nil")
	assert.Nil(t, a.Get(hs[1]))

	st := a.Stats()
	assert.Equal(t, 3, st.Live)
	assert.Equal(t, 2, st.Free)
	assert.Equal(t, 5, st.HighMark)

	assert.Equal(t, hs[1], a.Alloc(&item{id: 10}))
	assert.Equal(t, hs[3], a.Alloc(&item{id: 11}))
	assert.Equal(t, Handle(6), a.Alloc(&item{id: 12}))
}

func TestGrowAcrossPages(t *testing.T) {
	a := New[item]()

	const n = 3*pageSize + 7
	hs := make([]Handle, n)
	for i := range hs {
		hs[i] = a.Alloc(&item{id: i})
	}

	for i, h := range hs {
		require.Equal(t, i, a.Get(h).id)
	}
	assert.Equal(t, 4, a.Stats().Pages)
}

func TestConcurrentAllocAndGet(t *testing.T) {
	a := New[item]()

	const workers, perWorker = 8, 2000
	var wg sync.WaitGroup
	results := make([][]Handle, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h := a.Alloc(&item{id: w*perWorker + i})
				results[w] = append(results[w], h)
				if got := a.Get(h); got == nil || got.id != w*perWorker+i {
					t.Errorf("handle %d resolved to %v", h, got)
				}
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[Handle]bool)
	for _, hs := range results {
		for _, h := range hs {
			assert.False(t, seen[h], "duplicate handle %d", h)
			seen[h] = true
		}
	}
	assert.Equal(t, workers*perWorker, a.Live())
}
