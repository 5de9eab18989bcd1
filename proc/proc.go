// Package proc models the execution contexts kernel code runs on: cores
// (Cpu) and the processes scheduled on them (Proc).
//
// A Cpu must be driven by a single goroutine at a time, the same way a
// hart runs one thread of kernel code at a time.
package proc

import "fmt"

// Cpu is the per-core state the locking code needs: the core's id and
// the depth of nested interrupt-disable sections.
type Cpu struct {
	ID int

	// depth of PushOff nesting
	noff int
	// were interrupts enabled before the outermost PushOff?
	intena bool
	// simulated interrupt-enable bit (sstatus.SIE)
	intr bool
}

func NewCpu(id int) *Cpu {
	return &Cpu{ID: id, intr: true}
}

// NewCpus returns n cores with ids 0..n-1, interrupts enabled.
func NewCpus(n int) []*Cpu {
	cpus := make([]*Cpu, n)
	for i := range cpus {
		cpus[i] = NewCpu(i)
	}
	return cpus
}

func (c *Cpu) IntrOn() {
	c.intr = true
}

func (c *Cpu) IntrOff() {
	c.intr = false
}

func (c *Cpu) IntrGet() bool {
	return c.intr
}

// PushOff disables interrupts; PushOff/PopOff pairs nest, so it takes two
// PopOffs to undo two PushOffs. Interrupts are re-enabled only if they
// were on before the outermost PushOff.
func (c *Cpu) PushOff() {
	old := c.IntrGet()
	c.IntrOff()
	if c.noff == 0 {
		c.intena = old
	}
	c.noff++
}

func (c *Cpu) PopOff() {
	if c.IntrGet() {
		panic("pop_off - interruptible")
	}
	if c.noff < 1 {
		panic("pop_off")
	}
	c.noff--
	if c.noff == 0 && c.intena {
		c.IntrOn()
	}
}

// Noff returns the current interrupt-disable nesting depth.
func (c *Cpu) Noff() int {
	return c.noff
}

func (c *Cpu) String() string {
	return fmt.Sprintf("cpu%d", c.ID)
}

// Proc is a process context. Its pid identifies the owner of a blocking
// lock; Cpu is the core it is currently running on.
type Proc struct {
	Pid int
	Cpu *Cpu
}

func NewProc(pid int, c *Cpu) *Proc {
	if pid == 0 {
		panic("proc: pid 0 is reserved")
	}
	return &Proc{Pid: pid, Cpu: c}
}

func (p *Proc) String() string {
	return fmt.Sprintf("proc %d on %v", p.Pid, p.Cpu)
}
