package kalloc

import (
	"sync/atomic"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/xv6-kmem/lock"
	"github.com/mit-pdos/xv6-kmem/proc"
)

// refTable counts the page-table mappings of each page. It has its own
// lock, separate from the free lists: neither lock is held while taking
// the other.
type refTable struct {
	lock  lock.Spinlock
	count []uint32
}

func (rt *refTable) init(npages uint64) {
	rt.lock.Init("pgref")
	rt.count = make([]uint32, npages)
}

func (rt *refTable) set(c *proc.Cpu, slot int32, n uint32) {
	rt.lock.Acquire(c)
	rt.count[slot] = n
	rt.lock.Release(c)
}

func (rt *refTable) get(c *proc.Cpu, slot int32) uint32 {
	rt.lock.Acquire(c)
	n := rt.count[slot]
	rt.lock.Release(c)
	return n
}

// dec drops one reference and returns the remaining count.
func (rt *refTable) dec(c *proc.Cpu, slot int32) uint32 {
	rt.lock.Acquire(c)
	if rt.count[slot] == 0 {
		rt.lock.Release(c)
		panic("kfree: page not allocated")
	}
	rt.count[slot]--
	n := rt.count[slot]
	rt.lock.Release(c)
	return n
}

// IncRef records one more mapping of the allocated page at pa.
func (km *Kmem) IncRef(c *proc.Cpu, pa Pa) {
	slot := km.checkPa("incref", pa)
	rt := &km.ref
	rt.lock.Acquire(c)
	if rt.count[slot] == 0 {
		rt.lock.Release(c)
		panic("incref: page not allocated")
	}
	rt.count[slot]++
	rt.lock.Release(c)
}

// DecRefIfShared atomically does the following:
//  1. if the page's reference count is 1 (not shared), return true
//     without changing it: the caller may write the page in place;
//  2. otherwise drop one reference and return false: the caller must copy
//     the page before writing.
func (km *Kmem) DecRefIfShared(c *proc.Cpu, pa Pa) bool {
	slot := km.checkPa("decref", pa)
	rt := &km.ref
	rt.lock.Acquire(c)
	defer rt.lock.Release(c)
	switch rt.count[slot] {
	case 0:
		panic("decref: page not allocated")
	case 1:
		return true
	default:
		rt.count[slot]--
		return false
	}
}

// RefCount returns the number of references to the page at pa.
func (km *Kmem) RefCount(c *proc.Cpu, pa Pa) uint32 {
	slot := km.checkPa("refcount", pa)
	return km.ref.get(c, slot)
}

// Cow makes the page at pa writable by the caller, as a copy-on-write
// fault does. An exclusively owned page is returned as is. A shared page
// is copied into a fresh page and the caller's reference to the original
// is dropped. Cow reports false if no page is available for the copy, in
// which case the caller keeps its reference to pa.
func (km *Kmem) Cow(c *proc.Cpu, pa Pa) (Pa, bool) {
	// only a holder can add references, so a count of 1 is stable
	if km.RefCount(c, pa) == 1 {
		return pa, true
	}
	npa, ok := km.Kalloc(c)
	if !ok {
		return 0, false
	}
	// our reference keeps pa allocated during the copy
	copy(km.Page(npa), km.Page(pa))
	if km.DecRefIfShared(c, pa) {
		// the other sharers went away while we copied
		km.Kfree(c, npa)
		return pa, true
	}
	atomic.AddUint64(&km.stats.cowCopies, 1)
	util.DPrintf(5, "cow: %v copied %v -> %v\n", c, pa, npa)
	return npa, true
}
