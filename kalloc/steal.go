package kalloc

import (
	"fmt"
	"sync/atomic"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/xv6-kmem/proc"
)

type stealState int

const (
	// pick the next core to steal from
	stealLocate stealState = iota
	// lock the victim and read how many pages it has
	stealSnapshot
	// unlink a batch from the victim's list and unlock it
	stealDetach
	// lock our own list and splice in all but one stolen page
	stealAttach
	stealDone
	stealFailed
)

var stealStateNames = []string{
	stealLocate:   "locate",
	stealSnapshot: "snapshot",
	stealDetach:   "detach",
	stealAttach:   "attach",
	stealDone:     "done",
	stealFailed:   "failed",
}

func (s stealState) String() string {
	return stealStateNames[s]
}

// stealer is one attempt by a core with an empty free list to take a batch
// of pages from another core. It holds at most one core lock at any point:
// the victim's while detaching, then its own while attaching.
type stealer struct {
	km    *Kmem
	c     *proc.Cpu
	state stealState

	// how many other cores have been tried
	visited int
	victim  int
	// core whose lock is held, or -1
	held int

	avail uint64
	// the detached batch, linked through km.next
	head, tail int32
	n          uint64
}

func newStealer(km *Kmem, c *proc.Cpu) *stealer {
	km.core(c)
	return &stealer{
		km:     km,
		c:      c,
		state:  stealLocate,
		victim: c.ID,
		held:   -1,
		head:   nilSlot,
		tail:   nilSlot,
	}
}

func (s *stealer) lock(id int) {
	if s.held != -1 {
		panic(fmt.Sprintf("kalloc: steal by %v locks kmem%d holding kmem%d",
			s.c, id, s.held))
	}
	s.km.cpus[id].lock.Acquire(s.c)
	s.held = id
}

func (s *stealer) unlock(id int) {
	if s.held != id {
		panic(fmt.Sprintf("kalloc: steal by %v unlocks kmem%d not held", s.c, id))
	}
	s.km.cpus[id].lock.Release(s.c)
	s.held = -1
}

func (s *stealer) step() {
	km := s.km
	switch s.state {
	case stealLocate:
		if s.visited == len(km.cpus)-1 {
			s.state = stealFailed
			return
		}
		s.visited++
		s.victim = (s.c.ID + s.visited) % len(km.cpus)
		s.state = stealSnapshot
	case stealSnapshot:
		s.lock(s.victim)
		s.avail = atomic.LoadUint64(&km.cpus[s.victim].nfree)
		if s.avail == 0 {
			s.unlock(s.victim)
			s.state = stealLocate
			return
		}
		s.state = stealDetach
	case stealDetach:
		// still holding the victim's lock from the snapshot
		kc := &km.cpus[s.victim]
		n := s.avail
		if batch := uint64(km.cfg.StealBatch); n > batch {
			n = batch
		}
		s.head = kc.head
		s.tail = s.head
		for i := uint64(1); i < n; i++ {
			s.tail = km.next[s.tail]
		}
		kc.head = km.next[s.tail]
		km.next[s.tail] = nilSlot
		atomic.AddUint64(&kc.nfree, ^(n - 1))
		s.n = n
		s.unlock(s.victim)
		s.state = stealAttach
	case stealAttach:
		got := s.head
		rest := km.next[got]
		if rest != nilSlot {
			kc := &km.cpus[s.c.ID]
			s.lock(s.c.ID)
			km.next[s.tail] = kc.head
			kc.head = rest
			atomic.AddUint64(&kc.nfree, s.n-1)
			s.unlock(s.c.ID)
		}
		km.next[got] = nilSlot
		km.state[got] = slotAllocated
		s.head = got
		s.state = stealDone
		util.DPrintf(3, "kalloc: %v stole %d pages from cpu%d\n",
			s.c, s.n, s.victim)
	default:
		panic("kalloc: step of finished steal")
	}
}

// run drives the steal to completion and returns the page it took for the
// caller.
func (s *stealer) run() (int32, bool) {
	for s.state != stealDone && s.state != stealFailed {
		s.step()
	}
	if s.held != -1 {
		panic("kalloc: steal finished holding a lock")
	}
	if s.state == stealFailed {
		return nilSlot, false
	}
	return s.head, true
}
