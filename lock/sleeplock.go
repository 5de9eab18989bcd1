package lock

import (
	"sync"

	"github.com/mit-pdos/xv6-kmem/proc"
)

type waiter struct {
	pid   int
	ready chan struct{}
}

// Sleeplock is a long-term lock for processes. A process that finds it
// held is suspended on the lock's waiter queue; Release hands ownership
// directly to the oldest waiter, so a wakeup can never be lost and a late
// arrival cannot barge ahead of a process already waiting.
type Sleeplock struct {
	name string

	mu      sync.Mutex
	locked  bool
	pid     int
	waiters []waiter
}

func NewSleeplock(name string) *Sleeplock {
	return &Sleeplock{name: name}
}

// Init resets lk; for sleep locks embedded in other structures.
func (lk *Sleeplock) Init(name string) {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if len(lk.waiters) != 0 {
		panic("initsleeplock " + name + ": waiters")
	}
	lk.name = name
	lk.locked = false
	lk.pid = 0
}

func (lk *Sleeplock) Name() string {
	return lk.name
}

// Acquire blocks p until it owns lk.
func (lk *Sleeplock) Acquire(p *proc.Proc) {
	lk.mu.Lock()
	if !lk.locked {
		lk.locked = true
		lk.pid = p.Pid
		lk.mu.Unlock()
		return
	}
	if lk.pid == p.Pid {
		lk.mu.Unlock()
		panic("acquiresleep " + lk.name + ": already holding")
	}
	w := waiter{pid: p.Pid, ready: make(chan struct{})}
	lk.waiters = append(lk.waiters, w)
	lk.mu.Unlock()
	// ownership was transferred to p by Release
	<-w.ready
}

// Release gives up p's ownership of lk and wakes one waiter, if any.
func (lk *Sleeplock) Release(p *proc.Proc) {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if !lk.locked || lk.pid != p.Pid {
		panic("releasesleep " + lk.name)
	}
	if len(lk.waiters) == 0 {
		lk.locked = false
		lk.pid = 0
		return
	}
	w := lk.waiters[0]
	lk.waiters[0] = waiter{}
	lk.waiters = lk.waiters[1:]
	lk.pid = w.pid
	close(w.ready)
}

func (lk *Sleeplock) Holding(p *proc.Proc) bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	return lk.locked && lk.pid == p.Pid
}

// NWaiters returns the number of processes blocked in Acquire.
func (lk *Sleeplock) NWaiters() int {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	return len(lk.waiters)
}
