// Package epoch implements epoch-based deferred reclamation.
//
// Every goroutine that reads shared structures lock-free registers a
// Participant and brackets each operation with Enter and Exit. Objects that
// were unlinked while readers may still hold them are handed to Retire
// together with the global epoch at that moment. An object retired in epoch
// e is freed only once every active participant announced an epoch newer
// than e; participants outside an operation announce no epoch at all.
//
// A participant that enters and never exits pins every later retirement.
// That stalls reclamation but never frees anything early.
package epoch

import (
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	inactive = math.MaxUint64

	// DefaultThreshold is the retire list length that triggers a sweep on Exit.
	DefaultThreshold = 256

	// DefaultAdvanceInterval is the number of retirements between global
	// epoch increments.
	DefaultAdvanceInterval = 64
)

type retired[T any] struct {
	epoch uint64
	v     T
}

// Manager owns the global epoch and the set of participants.
type Manager[T any] struct {
	global atomic.Uint64

	mu      sync.Mutex // Protects membership changes and orphans
	members atomic.Pointer[[]*Participant[T]]
	orphans []retired[T]

	free      func(T)
	threshold int
	interval  uint64

	freed atomic.Int64
}

// Option configures a Manager.
type Option func(*config)

type config struct {
	threshold int
	interval  uint64
}

// WithThreshold sets how many retirements a participant accumulates before
// it attempts a sweep on Exit. Values below 1 sweep on every Exit.
func WithThreshold(n int) Option {
	return func(c *config) {
		c.threshold = max(n, 1)
	}
}

// WithAdvanceInterval sets how many retirements pass between global epoch
// increments. Values below 1 advance on every retirement.
func WithAdvanceInterval(n int) Option {
	return func(c *config) {
		c.interval = uint64(max(n, 1))
	}
}

// New creates a Manager that calls free for every reclaimed value.
func New[T any](free func(T), opts ...Option) *Manager[T] {
	c := config{
		threshold: DefaultThreshold,
		interval:  DefaultAdvanceInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}

	m := &Manager[T]{
		free:      free,
		threshold: c.threshold,
		interval:  c.interval,
	}
	m.global.Store(1)
	empty := make([]*Participant[T], 0)
	m.members.Store(&empty)
	return m
}

// Epoch returns the current global epoch.
func (m *Manager[T]) Epoch() uint64 {
	return m.global.Load()
}

// Freed returns the total number of values handed to the free function.
func (m *Manager[T]) Freed() int64 {
	return m.freed.Load()
}

// Participants returns the number of registered participants.
func (m *Manager[T]) Participants() int {
	return len(*m.members.Load())
}

// Register adds a participant. A Participant must only be used by one
// goroutine at a time.
func (m *Manager[T]) Register() *Participant[T] {
	p := &Participant[T]{m: m}
	p.local.Store(inactive)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.members.Load()
	next := make([]*Participant[T], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, p)
	m.members.Store(&next)
	return p
}

func (m *Manager[T]) unregister(p *Participant[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.members.Load()
	next := make([]*Participant[T], 0, len(cur))
	for _, q := range cur {
		if q != p {
			next = append(next, q)
		}
	}
	m.members.Store(&next)
	m.orphans = append(m.orphans, p.retired...)
	p.retired = nil
}

// oldest returns the smallest epoch announced by an active participant.
func (m *Manager[T]) oldest() uint64 {
	oldest := uint64(inactive)
	for _, p := range *m.members.Load() {
		if e := p.local.Load(); e < oldest {
			oldest = e
		}
	}
	return oldest
}

// sweep frees every entry older than bound and returns the survivors
// together with the number of entries freed.
func (m *Manager[T]) sweep(list []retired[T], bound uint64) ([]retired[T], int) {
	kept := list[:0]
	n := 0
	for _, r := range list {
		if r.epoch < bound {
			m.free(r.v)
			n++
			continue
		}
		kept = append(kept, r)
	}
	clear(list[len(kept):])
	m.freed.Add(int64(n))
	return kept, n
}

func (m *Manager[T]) sweepOrphans(bound uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.orphans) == 0 {
		return 0
	}
	var n int
	m.orphans, n = m.sweep(m.orphans, bound)
	return n
}

// Drain frees every retired value regardless of epochs and returns how
// many were freed. It is meant for shutdown: it rewrites the retire lists
// of registered participants, so none of them may be used concurrently.
// Drain panics when a participant is inside an operation.
func (m *Manager[T]) Drain() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.oldest() != inactive {
		panic("epoch: Drain while a participant is inside an operation")
	}

	var total, n int
	m.orphans, n = m.sweep(m.orphans, inactive)
	total += n
	for _, p := range *m.members.Load() {
		p.retired, n = m.sweep(p.retired, inactive)
		total += n
	}
	return total
}

// Participant is one goroutine's membership in a Manager.
type Participant[T any] struct {
	_     cpu.CacheLinePad
	local atomic.Uint64
	_     cpu.CacheLinePad

	m       *Manager[T]
	depth   int
	retired []retired[T]
	marks   uint64
	closed  bool
}

// Enter announces the current global epoch. Calls nest; only the outermost
// Enter announces.
func (p *Participant[T]) Enter() {
	if p.closed {
		panic("epoch: Enter on closed participant")
	}
	p.depth++
	if p.depth == 1 {
		p.local.Store(p.m.global.Load())
	}
}

// Exit leaves the epoch entered by the matching Enter. The outermost Exit
// withdraws the announcement and sweeps when enough values are pending. It
// returns the number of values freed.
func (p *Participant[T]) Exit() int {
	if p.depth == 0 {
		panic("epoch: Exit without Enter")
	}
	p.depth--
	if p.depth > 0 {
		return 0
	}
	p.local.Store(inactive)
	if len(p.retired) < p.m.threshold {
		return 0
	}
	return p.collect()
}

// Active reports whether the participant is inside an operation.
func (p *Participant[T]) Active() bool {
	return p.depth > 0
}

// Retire defers freeing v until no participant can still observe it. It
// must be called after v was unlinked from every shared structure.
func (p *Participant[T]) Retire(v T) {
	p.retired = append(p.retired, retired[T]{epoch: p.m.global.Load(), v: v})
	p.marks++
	if p.marks%p.m.interval == 1 || p.m.interval == 1 {
		p.m.global.Add(1)
	}
}

// Pending returns the number of values retired by p and not yet freed.
func (p *Participant[T]) Pending() int {
	return len(p.retired)
}

// Flush attempts a sweep immediately. It returns the number of values freed.
func (p *Participant[T]) Flush() int {
	return p.collect()
}

func (p *Participant[T]) collect() int {
	p.m.global.Add(1)
	bound := p.m.oldest()
	var n int
	p.retired, n = p.m.sweep(p.retired, bound)
	return n + p.m.sweepOrphans(bound)
}

// Close unregisters p. Values it retired and could not free yet are handed
// over to the Manager and freed by later sweeps of other participants.
func (p *Participant[T]) Close() {
	if p.closed {
		return
	}
	if p.depth > 0 {
		panic("epoch: Close inside an operation")
	}
	p.closed = true
	p.m.unregister(p)
}
