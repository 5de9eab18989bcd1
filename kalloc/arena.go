package kalloc

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// arena is the physical memory backing the allocatable pages, one
// anonymous mapping addressed by slot number.
type arena struct {
	start  Pa
	npages int32
	mem    []byte
}

func newArena(start Pa, npages uint64) (*arena, error) {
	mem, err := unix.Mmap(-1, 0, int(npages)*PGSIZE,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "could not map %d pages", npages)
	}
	return &arena{start: start, npages: int32(npages), mem: mem}, nil
}

func (a *arena) slot(pa Pa) int32 {
	return int32((pa - a.start) >> PGSHIFT)
}

func (a *arena) pa(slot int32) Pa {
	return a.start + Pa(slot)<<PGSHIFT
}

func (a *arena) page(slot int32) []byte {
	off := int(slot) << PGSHIFT
	return a.mem[off : off+PGSIZE : off+PGSIZE]
}

func (a *arena) close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return errors.Wrap(err, "unmap arena")
}
