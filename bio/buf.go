package bio

import (
	"fmt"

	"github.com/mit-pdos/xv6-kmem/kalloc"
	"github.com/mit-pdos/xv6-kmem/lock"
)

// Buf is the in-memory copy of one disk block.
type Buf struct {
	// block contents; the page the buffer was allocated from
	Data []byte

	dev     uint32
	blockno uint64
	pa      kalloc.Pa

	// protected by lock: has data been read from disk?
	valid bool
	lock  lock.Sleeplock

	// protected by the bucket lock
	refcnt     uint32
	linked     bool
	prev, next *Buf
}

func (b *Buf) Dev() uint32 {
	return b.dev
}

func (b *Buf) Blockno() uint64 {
	return b.blockno
}

// Valid reports whether Data holds the block's contents. Only meaningful
// to the holder of the buffer.
func (b *Buf) Valid() bool {
	return b.valid
}

func (b *Buf) String() string {
	return fmt.Sprintf("buf(%d, %d)", b.dev, b.blockno)
}
