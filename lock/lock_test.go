package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/xv6-kmem/proc"
)

func TestSpinlockHolding(t *testing.T) {
	assert := assert.New(t)
	c0, c1 := proc.NewCpu(0), proc.NewCpu(1)
	lk := NewSpinlock("test")

	lk.Acquire(c0)
	assert.True(lk.Holding(c0))
	assert.False(lk.Holding(c1))
	assert.False(c0.IntrGet(), "interrupts off while holding")
	lk.Release(c0)
	assert.False(lk.Holding(c0))
	assert.True(c0.IntrGet())
}

func TestSpinlockReacquirePanics(t *testing.T) {
	c := proc.NewCpu(0)
	lk := NewSpinlock("kmem")
	lk.Acquire(c)
	assert.PanicsWithValue(t, "acquire kmem", func() { lk.Acquire(c) })
}

func TestSpinlockReleaseNotHeld(t *testing.T) {
	c0, c1 := proc.NewCpu(0), proc.NewCpu(1)
	lk := NewSpinlock("bcache")
	assert.PanicsWithValue(t, "release bcache", func() { lk.Release(c0) })

	lk.Acquire(c0)
	assert.PanicsWithValue(t, "release bcache", func() { lk.Release(c1) })
}

func TestSpinlockCounter(t *testing.T) {
	// the xv6 spinlock test: every increment must survive
	const ncpu = 4
	const iters = 2000
	lk := NewSpinlock("count")
	count := 0
	var wg sync.WaitGroup
	for _, c := range proc.NewCpus(ncpu) {
		wg.Add(1)
		go func(c *proc.Cpu) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				lk.Acquire(c)
				count++
				lk.Release(c)
			}
		}(c)
	}
	wg.Wait()
	assert.Equal(t, ncpu*iters, count)
}

func TestSleeplockHandoff(t *testing.T) {
	assert := assert.New(t)
	p1 := proc.NewProc(1, proc.NewCpu(0))
	p2 := proc.NewProc(2, proc.NewCpu(1))
	lk := NewSleeplock("buffer")

	lk.Acquire(p1)
	acquired := make(chan struct{})
	go func() {
		lk.Acquire(p2)
		close(acquired)
	}()

	assert.Eventually(func() bool { return lk.NWaiters() == 1 },
		time.Second, time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("p2 acquired a held lock")
	default:
	}

	lk.Release(p1)
	<-acquired
	assert.True(lk.Holding(p2))
	assert.False(lk.Holding(p1))
	lk.Release(p2)
	assert.False(lk.Holding(p2))
}

func TestSleeplockFIFO(t *testing.T) {
	assert := assert.New(t)
	owner := proc.NewProc(1, proc.NewCpu(0))
	lk := NewSleeplock("buffer")
	lk.Acquire(owner)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for pid := 2; pid <= 5; pid++ {
		p := proc.NewProc(pid, proc.NewCpu(pid))
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk.Acquire(p)
			mu.Lock()
			order = append(order, p.Pid)
			mu.Unlock()
			lk.Release(p)
		}()
		// queue the waiters in pid order
		n := pid - 1
		assert.Eventually(func() bool { return lk.NWaiters() == n },
			time.Second, time.Millisecond)
	}
	lk.Release(owner)
	wg.Wait()
	assert.Equal([]int{2, 3, 4, 5}, order)
}

func TestSleeplockReleaseNotHolder(t *testing.T) {
	p1 := proc.NewProc(1, proc.NewCpu(0))
	p2 := proc.NewProc(2, proc.NewCpu(1))
	lk := NewSleeplock("buffer")
	assert.PanicsWithValue(t, "releasesleep buffer", func() { lk.Release(p1) })
	lk.Acquire(p1)
	assert.PanicsWithValue(t, "releasesleep buffer", func() { lk.Release(p2) })
	assert.Panics(t, func() { lk.Acquire(p1) })
}
