package kalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStealBatch(t *testing.T) {
	assert := assert.New(t)
	km, cpus := newTestKmem(t, 4, 8)

	pa, ok := km.Kalloc(cpus[2])
	assert.True(ok, "cpu2 steals from the boot core")
	assert.Equal(uint64(7), km.NFreeOn(2), "batch minus the page returned")
	assert.Equal(uint64(testPages-8), km.NFreeOn(0))
	assert.Equal(uint32(1), km.RefCount(cpus[2], pa))

	s := km.Stats()
	assert.Equal(uint64(1), s.Steals)
	assert.Equal(uint64(8), s.Stolen)

	// the next seven allocations are served locally
	for i := 0; i < 7; i++ {
		_, ok := km.Kalloc(cpus[2])
		assert.True(ok)
	}
	assert.Equal(uint64(1), km.Stats().Steals)
	assert.Equal(uint64(0), km.NFreeOn(2))
}

func TestStealSmallVictim(t *testing.T) {
	assert := assert.New(t)
	km, cpus := newTestKmem(t, 2, 1024)

	// cpu1 takes everything the boot core has
	pa, ok := km.Kalloc(cpus[1])
	assert.True(ok)
	assert.Equal(uint64(0), km.NFreeOn(0))
	assert.Equal(uint64(testPages-1), km.NFreeOn(1))

	// and the boot core gets its pages back through a steal
	km.Kfree(cpus[1], pa)
	_, ok = km.Kalloc(cpus[0])
	assert.True(ok)
	assert.Equal(uint64(testPages-1), km.NFreeOn(0))
}

func TestStealSkipsEmptyCores(t *testing.T) {
	km, cpus := newTestKmem(t, 4, 4)
	// cpu1 and cpu2 are empty; cpu3 must reach the boot core
	_, ok := km.Kalloc(cpus[3])
	assert.True(t, ok)
	assert.Equal(t, uint64(3), km.NFreeOn(3))
}

func TestStealRetriedOnce(t *testing.T) {
	assert := assert.New(t)
	km, cpus := newTestKmem(t, 2, 1024)
	for {
		if _, ok := km.Kalloc(cpus[0]); !ok {
			break
		}
	}
	before := km.Stats()

	_, ok := km.Kalloc(cpus[1])
	assert.False(ok)
	after := km.Stats()
	assert.Equal(before.StealRetries+1, after.StealRetries)
	assert.Equal(before.Failed+1, after.Failed)
}

func TestStealerStates(t *testing.T) {
	assert := assert.New(t)
	km, cpus := newTestKmem(t, 3, 2)

	s := newStealer(km, cpus[1])
	var states []stealState
	for s.state != stealDone && s.state != stealFailed {
		s.step()
		states = append(states, s.state)
		switch s.state {
		case stealDetach:
			assert.Equal(s.victim, s.held, "victim locked across snapshot and detach")
		default:
			assert.Equal(-1, s.held, "no lock held in state %v", s.state)
		}
	}
	// cpu2 is empty, cpu0 has pages
	assert.Equal([]stealState{
		stealSnapshot, stealLocate,
		stealSnapshot, stealDetach, stealAttach, stealDone,
	}, states)
	assert.Equal(0, s.victim)
	assert.Equal(uint64(2), s.n)
}

func TestStealerFailsWithoutVictims(t *testing.T) {
	km, cpus := newTestKmem(t, 1, 2)
	s := newStealer(km, cpus[0])
	_, ok := s.run()
	assert.False(t, ok)
	assert.Equal(t, stealFailed, s.state)
	assert.Equal(t, "failed", s.state.String())
}

func TestStealerDoubleLock(t *testing.T) {
	km, cpus := newTestKmem(t, 2, 2)
	s := newStealer(km, cpus[1])
	s.lock(0)
	assert.Panics(t, func() { s.lock(1) })
}
