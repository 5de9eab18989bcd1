package kalloc

import "sync/atomic"

type counters struct {
	allocs       uint64
	frees        uint64
	sharedFrees  uint64
	failed       uint64
	steals       uint64
	stolen       uint64
	stealRetries uint64
	cowCopies    uint64
}

// Stats is a snapshot of the allocator's counters.
type Stats struct {
	// pages handed out by Kalloc
	Allocs uint64
	// Kfree calls that returned a page to a free list
	Frees uint64
	// Kfree calls that only dropped a reference to a shared page
	SharedFrees uint64
	// Kalloc calls that found no free page
	Failed uint64
	// successful steals, and the pages they moved
	Steals uint64
	Stolen uint64
	// steal attempts that found nothing and were retried
	StealRetries uint64
	CowCopies    uint64

	Free  uint64
	Pages uint64
}

func (km *Kmem) Stats() Stats {
	return Stats{
		Allocs:       atomic.LoadUint64(&km.stats.allocs),
		Frees:        atomic.LoadUint64(&km.stats.frees),
		SharedFrees:  atomic.LoadUint64(&km.stats.sharedFrees),
		Failed:       atomic.LoadUint64(&km.stats.failed),
		Steals:       atomic.LoadUint64(&km.stats.steals),
		Stolen:       atomic.LoadUint64(&km.stats.stolen),
		StealRetries: atomic.LoadUint64(&km.stats.stealRetries),
		CowCopies:    atomic.LoadUint64(&km.stats.cowCopies),
		Free:         km.NFree(),
		Pages:        km.NPages(),
	}
}
