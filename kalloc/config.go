package kalloc

import (
	"math"

	"github.com/pkg/errors"
)

// Config describes the machine the allocator manages.
type Config struct {
	// number of cores, each with its own free list
	NCPU int
	// start of RAM
	Base Pa
	// first address after the kernel image
	End Pa
	// top of usable RAM (exclusive)
	PhysTop Pa
	// maximum number of pages taken from a victim in one steal
	StealBatch int
}

// DefaultConfig is a 128MB machine with eight cores and a 1MB kernel.
func DefaultConfig() Config {
	return Config{
		NCPU:       8,
		Base:       KERNBASE,
		End:        KERNBASE + 0x100000,
		PhysTop:    PHYSTOP,
		StealBatch: 1024,
	}
}

// start is the first allocatable page.
func (cfg Config) start() Pa {
	return PGROUNDUP(cfg.End)
}

// NPages is the number of allocatable pages.
func (cfg Config) NPages() uint64 {
	start := cfg.start()
	if start >= cfg.PhysTop {
		return 0
	}
	return uint64(cfg.PhysTop-start) >> PGSHIFT
}

func (cfg Config) Validate() error {
	if cfg.NCPU < 1 {
		return errors.Errorf("NCPU %d must be at least 1", cfg.NCPU)
	}
	if cfg.StealBatch < 1 {
		return errors.Errorf("steal batch %d must be at least 1", cfg.StealBatch)
	}
	if cfg.Base%PGSIZE != 0 {
		return errors.Errorf("base %v is not page-aligned", cfg.Base)
	}
	if cfg.PhysTop%PGSIZE != 0 {
		return errors.Errorf("PHYSTOP %v is not page-aligned", cfg.PhysTop)
	}
	if cfg.End < cfg.Base || cfg.End >= cfg.PhysTop {
		return errors.Errorf("kernel end %v outside of RAM [%v, %v)",
			cfg.End, cfg.Base, cfg.PhysTop)
	}
	n := cfg.NPages()
	if n == 0 {
		return errors.New("no allocatable pages above the kernel")
	}
	if n > math.MaxInt32 {
		return errors.Errorf("%d pages is too many to track", n)
	}
	return nil
}
