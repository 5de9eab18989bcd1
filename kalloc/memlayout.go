package kalloc

import "fmt"

// Physical memory layout, after qemu's -machine virt:
//
//	80000000 -- the kernel image is loaded here (KERNBASE)
//	end      -- first address after the kernel image; page allocation
//	            starts at the next page boundary
//	PHYSTOP  -- end of RAM used by the kernel
const (
	PGSIZE  = 4096
	PGSHIFT = 12

	KERNBASE = Pa(0x80000000)
	PHYSTOP  = KERNBASE + 128*1024*1024
)

// Pa is a physical address.
type Pa uint64

func PGROUNDUP(a Pa) Pa {
	return (a + PGSIZE - 1) &^ (PGSIZE - 1)
}

func PGROUNDDOWN(a Pa) Pa {
	return a &^ (PGSIZE - 1)
}

func (pa Pa) String() string {
	return fmt.Sprintf("%#x", uint64(pa))
}

// junk patterns written over page contents
const (
	// written on free: surfaces dangling references
	freeJunk = 1
	// written on allocation: surfaces reads of uninitialized memory
	allocJunk = 5
)

func memset(pg []byte, c byte) {
	for i := range pg {
		pg[i] = c
	}
}
