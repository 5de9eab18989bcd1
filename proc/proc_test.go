package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushOffNests(t *testing.T) {
	assert := assert.New(t)
	c := NewCpu(0)
	assert.True(c.IntrGet())

	c.PushOff()
	c.PushOff()
	assert.False(c.IntrGet())
	assert.Equal(2, c.Noff())

	c.PopOff()
	assert.False(c.IntrGet(), "still inside outer section")
	c.PopOff()
	assert.True(c.IntrGet())
	assert.Equal(0, c.Noff())
}

func TestPushOffPreservesDisabled(t *testing.T) {
	c := NewCpu(1)
	c.IntrOff()
	c.PushOff()
	c.PopOff()
	assert.False(t, c.IntrGet(), "interrupts were off before PushOff")
}

func TestPopOffUnbalanced(t *testing.T) {
	c := NewCpu(0)
	c.IntrOff()
	assert.PanicsWithValue(t, "pop_off", func() { c.PopOff() })

	c2 := NewCpu(1)
	assert.PanicsWithValue(t, "pop_off - interruptible", func() { c2.PopOff() })
}

func TestNewCpus(t *testing.T) {
	cpus := NewCpus(4)
	assert.Len(t, cpus, 4)
	for i, c := range cpus {
		assert.Equal(t, i, c.ID)
	}
	assert.Equal(t, "cpu3", cpus[3].String())
}

func TestNewProcPid0(t *testing.T) {
	assert.Panics(t, func() { NewProc(0, NewCpu(0)) })
	p := NewProc(7, NewCpu(2))
	assert.Equal(t, "proc 7 on cpu2", p.String())
}
