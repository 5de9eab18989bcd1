// Package lock provides the kernel's two lock classes: spin locks, held
// for short critical sections with interrupts off, and sleep locks, which
// block the calling process until the holder releases them.
package lock

import (
	"runtime"
	"sync/atomic"

	"github.com/mit-pdos/xv6-kmem/proc"
)

const noCpu = -1

// Spinlock is a mutual-exclusion lock that busy-waits.
type Spinlock struct {
	name   string
	locked uint32
	// id of the cpu holding the lock, or noCpu
	cpu int32
}

func NewSpinlock(name string) *Spinlock {
	lk := &Spinlock{}
	lk.Init(name)
	return lk
}

// Init resets lk; for spin locks embedded in other structures.
func (lk *Spinlock) Init(name string) {
	lk.name = name
	atomic.StoreUint32(&lk.locked, 0)
	atomic.StoreInt32(&lk.cpu, noCpu)
}

func (lk *Spinlock) Name() string {
	return lk.name
}

// Acquire spins until the lock is taken. Interrupts stay disabled on c
// until the matching Release, so a timer interrupt cannot re-enter a
// critical section on the same core.
func (lk *Spinlock) Acquire(c *proc.Cpu) {
	c.PushOff()
	if lk.Holding(c) {
		panic("acquire " + lk.name)
	}
	for !atomic.CompareAndSwapUint32(&lk.locked, 0, 1) {
		runtime.Gosched()
	}
	atomic.StoreInt32(&lk.cpu, int32(c.ID))
}

func (lk *Spinlock) Release(c *proc.Cpu) {
	if !lk.Holding(c) {
		panic("release " + lk.name)
	}
	atomic.StoreInt32(&lk.cpu, noCpu)
	atomic.StoreUint32(&lk.locked, 0)
	c.PopOff()
}

// Holding reports whether c holds lk. Interrupts must be off.
func (lk *Spinlock) Holding(c *proc.Cpu) bool {
	return atomic.LoadUint32(&lk.locked) == 1 &&
		atomic.LoadInt32(&lk.cpu) == int32(c.ID)
}
