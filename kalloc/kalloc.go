// Package kalloc is the physical memory allocator, for user processes,
// kernel stacks, page-table pages, pipe buffers and the buffer cache.
// It allocates whole 4096-byte pages.
//
// Each core has its own free list so that most allocations never touch
// another core's lock. A core whose list is empty steals a batch of pages
// from another core. A reference count per page supports copy-on-write
// sharing: a page goes back to a free list only when its last reference
// is freed.
package kalloc

import (
	"fmt"
	"sync/atomic"

	"github.com/mit-pdos/go-journal/util"
	"github.com/pkg/errors"

	"github.com/mit-pdos/xv6-kmem/lock"
	"github.com/mit-pdos/xv6-kmem/proc"
)

const nilSlot = int32(-1)

type slotState uint8

const (
	slotAllocated slotState = iota
	slotFree
)

// kmemCpu is one core's free list.
type kmemCpu struct {
	// written under lock, read atomically by NFree
	nfree uint64
	lock  lock.Spinlock
	head  int32
}

type Kmem struct {
	cfg   Config
	arena *arena
	cpus  []kmemCpu

	// next links free slots into a list; state tags each slot. Both are
	// protected by the lock of the list the slot is on.
	next  []int32
	state []slotState

	ref   refTable
	stats counters
}

// New initializes the allocator on the boot core c: every page between
// the end of the kernel and PhysTop goes on c's free list. It must run
// before any other core uses the allocator.
func New(c *proc.Cpu, cfg Config) (*Kmem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "kinit")
	}
	if c.ID < 0 || c.ID >= cfg.NCPU {
		return nil, errors.Errorf("kinit: boot %v out of range for %d cores",
			c, cfg.NCPU)
	}
	npages := cfg.NPages()
	a, err := newArena(cfg.start(), npages)
	if err != nil {
		return nil, errors.Wrap(err, "kinit")
	}
	km := &Kmem{
		cfg:   cfg,
		arena: a,
		cpus:  make([]kmemCpu, cfg.NCPU),
		next:  make([]int32, npages),
		state: make([]slotState, npages),
	}
	for i := range km.cpus {
		km.cpus[i].lock.Init(fmt.Sprintf("kmem%d", i))
		km.cpus[i].head = nilSlot
	}
	km.ref.init(npages)
	util.DPrintf(1, "kinit: [%v, %v) %d pages, %d cores\n",
		a.start, cfg.PhysTop, npages, cfg.NCPU)
	km.freerange(c)
	return km, nil
}

func (km *Kmem) freerange(c *proc.Cpu) {
	// push in reverse so the list hands out ascending addresses
	for slot := km.arena.npages - 1; slot >= 0; slot-- {
		memset(km.arena.page(slot), freeJunk)
		km.push(c, slot)
	}
}

// Close releases the memory backing the pages. The allocator must not be
// used afterward.
func (km *Kmem) Close() error {
	return km.arena.close()
}

func (km *Kmem) Config() Config {
	return km.cfg
}

func (km *Kmem) NCPU() int {
	return len(km.cpus)
}

// NPages is the number of pages the allocator manages.
func (km *Kmem) NPages() uint64 {
	return uint64(km.arena.npages)
}

func (km *Kmem) core(c *proc.Cpu) *kmemCpu {
	if c.ID < 0 || c.ID >= len(km.cpus) {
		panic(fmt.Sprintf("kalloc: %v out of range", c))
	}
	return &km.cpus[c.ID]
}

// push puts slot on c's free list.
func (km *Kmem) push(c *proc.Cpu, slot int32) {
	kc := km.core(c)
	kc.lock.Acquire(c)
	if km.state[slot] == slotFree {
		kc.lock.Release(c)
		panic("kfree: page already free")
	}
	km.state[slot] = slotFree
	km.next[slot] = kc.head
	kc.head = slot
	atomic.AddUint64(&kc.nfree, 1)
	kc.lock.Release(c)
}

// pop takes a slot from c's own free list.
func (km *Kmem) pop(c *proc.Cpu) (int32, bool) {
	kc := km.core(c)
	kc.lock.Acquire(c)
	slot := kc.head
	if slot == nilSlot {
		kc.lock.Release(c)
		return nilSlot, false
	}
	if km.state[slot] != slotFree {
		kc.lock.Release(c)
		panic("kalloc: allocated page on free list")
	}
	kc.head = km.next[slot]
	atomic.AddUint64(&kc.nfree, ^uint64(0))
	km.state[slot] = slotAllocated
	km.next[slot] = nilSlot
	kc.lock.Release(c)
	return slot, true
}

// Kalloc allocates one 4096-byte page of physical memory on behalf of
// core c. It reports false if no core has a free page.
func (km *Kmem) Kalloc(c *proc.Cpu) (Pa, bool) {
	for attempt := 0; attempt < 2; attempt++ {
		if slot, ok := km.pop(c); ok {
			return km.allocated(c, slot), true
		}
		s := newStealer(km, c)
		if slot, ok := s.run(); ok {
			atomic.AddUint64(&km.stats.steals, 1)
			atomic.AddUint64(&km.stats.stolen, s.n)
			return km.allocated(c, slot), true
		}
		if attempt == 0 {
			atomic.AddUint64(&km.stats.stealRetries, 1)
		}
	}
	atomic.AddUint64(&km.stats.failed, 1)
	util.DPrintf(3, "kalloc: %v out of memory\n", c)
	return 0, false
}

func (km *Kmem) allocated(c *proc.Cpu, slot int32) Pa {
	km.ref.set(c, slot, 1)
	memset(km.arena.page(slot), allocJunk)
	atomic.AddUint64(&km.stats.allocs, 1)
	pa := km.arena.pa(slot)
	util.DPrintf(5, "kalloc: %v -> %v\n", c, pa)
	return pa
}

// checkPa panics unless pa is a page that the allocator manages.
func (km *Kmem) checkPa(what string, pa Pa) int32 {
	if pa%PGSIZE != 0 || pa < km.arena.start || pa >= km.cfg.PhysTop {
		panic(what)
	}
	return km.arena.slot(pa)
}

// Kfree drops one reference to the page at pa, which normally was returned
// by Kalloc. The page goes back on c's free list when no references remain.
func (km *Kmem) Kfree(c *proc.Cpu, pa Pa) {
	slot := km.checkPa("kfree", pa)
	if km.ref.dec(c, slot) != 0 {
		atomic.AddUint64(&km.stats.sharedFrees, 1)
		return
	}
	// fill with junk to catch dangling refs
	memset(km.arena.page(slot), freeJunk)
	km.push(c, slot)
	atomic.AddUint64(&km.stats.frees, 1)
	util.DPrintf(5, "kfree: %v <- %v\n", c, pa)
}

// Page returns the memory of the page at pa.
func (km *Kmem) Page(pa Pa) []byte {
	slot := km.checkPa("page", pa)
	return km.arena.page(slot)
}

// NFree counts the free pages on all cores' lists.
func (km *Kmem) NFree() uint64 {
	var n uint64
	for i := range km.cpus {
		n += km.NFreeOn(i)
	}
	return n
}

// NFreeOn returns the length of core id's free list.
func (km *Kmem) NFreeOn(id int) uint64 {
	return atomic.LoadUint64(&km.cpus[id].nfree)
}
