// Package bio is the buffer cache.
//
// The buffer cache holds in-memory copies of disk blocks. Caching disk
// blocks in memory reduces the number of disk reads and also provides a
// synchronization point for disk blocks used by multiple processes.
//
// Interface:
//   - To get a buffer for a particular disk block, call Bread.
//   - After changing buffer data, call Bwrite to write it to disk.
//   - When done with the buffer, call Brelse.
//   - Do not use the buffer after calling Brelse.
//   - Only one process at a time can use a buffer,
//     so do not keep them longer than necessary.
//
// Buffers are spread over hash buckets, each a ring with its own lock, so
// that lookups of unrelated blocks do not contend. A buffer is allocated
// from the page allocator when its block is first requested and goes back
// to the allocator as soon as nobody holds or pins it.
package bio

import (
	"fmt"
	"sync/atomic"

	"github.com/mit-pdos/go-journal/util"
	"github.com/pkg/errors"

	"github.com/mit-pdos/xv6-kmem/kalloc"
	"github.com/mit-pdos/xv6-kmem/lock"
	"github.com/mit-pdos/xv6-kmem/proc"
)

// Disk is the block device under the cache. Rw transfers b.Data to or from
// block b.Blockno() of device b.Dev() and returns when the transfer is
// complete.
type Disk interface {
	Rw(b *Buf, write bool)
}

// ErrNoBuffers is returned by Bread when the page allocator has no page
// for a new buffer.
var ErrNoBuffers = errors.New("bget: no buffers")

type Config struct {
	NBucket int
}

// DefaultConfig uses 13 buckets, a prime, so that strided block numbers
// still spread over all buckets.
func DefaultConfig() Config {
	return Config{NBucket: 13}
}

func (cfg Config) Validate() error {
	if cfg.NBucket < 1 {
		return errors.Errorf("bucket count %d must be at least 1", cfg.NBucket)
	}
	return nil
}

type bucket struct {
	lock lock.Spinlock
	// sentinel of the ring; head.next is the oldest buffer
	head Buf
}

type Bcache struct {
	km      *kalloc.Kmem
	disk    Disk
	buckets []bucket
	stats   counters
}

// New creates an empty cache. It must be called once, before any Bread.
func New(km *kalloc.Kmem, d Disk, cfg Config) (*Bcache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "binit")
	}
	bc := &Bcache{
		km:      km,
		disk:    d,
		buckets: make([]bucket, cfg.NBucket),
	}
	for i := range bc.buckets {
		bk := &bc.buckets[i]
		bk.lock.Init(fmt.Sprintf("bcache%d", i))
		bk.head.prev = &bk.head
		bk.head.next = &bk.head
	}
	util.DPrintf(1, "binit: %d buckets\n", cfg.NBucket)
	return bc, nil
}

func (bc *Bcache) NBucket() int {
	return len(bc.buckets)
}

func (bc *Bcache) hash(dev uint32, blockno uint64) int {
	return int((uint64(dev) + blockno) % uint64(len(bc.buckets)))
}

func (bc *Bcache) bucketOf(b *Buf) *bucket {
	return &bc.buckets[bc.hash(b.dev, b.blockno)]
}

// bget looks through the cache for block blockno on device dev. If not
// found, it allocates a buffer. In either case it returns the buffer
// locked by p.
func (bc *Bcache) bget(p *proc.Proc, dev uint32, blockno uint64) (*Buf, error) {
	atomic.AddUint64(&bc.stats.lookups, 1)
	bk := &bc.buckets[bc.hash(dev, blockno)]
	bk.lock.Acquire(p.Cpu)

	// Is the block already cached?
	for b := bk.head.next; b != &bk.head; b = b.next {
		if b.dev == dev && b.blockno == blockno {
			b.refcnt++
			bk.lock.Release(p.Cpu)
			atomic.AddUint64(&bc.stats.hits, 1)
			b.lock.Acquire(p)
			return b, nil
		}
	}

	// Not cached; allocate a page for a new buffer. The allocator only
	// takes spin locks, so this is safe under the bucket lock.
	pa, ok := bc.km.Kalloc(p.Cpu)
	if !ok {
		bk.lock.Release(p.Cpu)
		atomic.AddUint64(&bc.stats.noBuffers, 1)
		return nil, errors.Wrapf(ErrNoBuffers, "dev %d block %d", dev, blockno)
	}
	b := &Buf{
		Data:    bc.km.Page(pa),
		dev:     dev,
		blockno: blockno,
		pa:      pa,
		refcnt:  1,
	}
	b.lock.Init("buffer")
	bk.link(b)
	bk.lock.Release(p.Cpu)
	atomic.AddUint64(&bc.stats.misses, 1)
	atomic.AddInt64(&bc.stats.live, 1)
	util.DPrintf(5, "bget: %v new %v\n", p, b)

	b.lock.Acquire(p)
	return b, nil
}

// link appends b at the tail of the ring.
func (bk *bucket) link(b *Buf) {
	b.prev = bk.head.prev
	b.next = &bk.head
	bk.head.prev.next = b
	bk.head.prev = b
	b.linked = true
}

func (bk *bucket) unlink(b *Buf) {
	b.next.prev = b.prev
	b.prev.next = b.next
	b.next = nil
	b.prev = nil
	b.linked = false
}

// Bread returns a buffer locked by p holding the contents of block blockno
// of device dev.
func (bc *Bcache) Bread(p *proc.Proc, dev uint32, blockno uint64) (*Buf, error) {
	b, err := bc.bget(p, dev, blockno)
	if err != nil {
		return nil, err
	}
	if !b.valid {
		bc.disk.Rw(b, false)
		b.valid = true
		atomic.AddUint64(&bc.stats.reads, 1)
	}
	return b, nil
}

// Bwrite writes b's contents to disk. p must hold b.
func (bc *Bcache) Bwrite(p *proc.Proc, b *Buf) {
	if !b.lock.Holding(p) {
		panic("bwrite")
	}
	bc.disk.Rw(b, true)
	atomic.AddUint64(&bc.stats.writes, 1)
}

// Brelse releases a buffer locked by p, waking one process waiting for
// it. The buffer is freed when nobody else holds or pins it.
func (bc *Bcache) Brelse(p *proc.Proc, b *Buf) {
	if !b.lock.Holding(p) {
		panic("brelse")
	}
	b.lock.Release(p)

	bk := bc.bucketOf(b)
	bk.lock.Acquire(p.Cpu)
	bc.put(p.Cpu, bk, b, "brelse")
	bk.lock.Release(p.Cpu)
}

// put drops one reference to b, freeing it at zero. Caller holds bk.lock.
func (bc *Bcache) put(c *proc.Cpu, bk *bucket, b *Buf, what string) {
	if !b.linked || b.refcnt == 0 {
		bk.lock.Release(c)
		panic(what + ": buffer not in cache")
	}
	b.refcnt--
	if b.refcnt > 0 {
		return
	}
	// no one is waiting for it
	bk.unlink(b)
	pa := b.pa
	b.Data = nil
	bc.km.Kfree(c, pa)
	atomic.AddUint64(&bc.stats.reclaims, 1)
	atomic.AddInt64(&bc.stats.live, -1)
	util.DPrintf(3, "%s: reclaim %v\n", what, b)
}

// Bpin keeps b cached across Brelse calls, for example while a
// transaction that wrote it is not yet committed. p need not hold b.
func (bc *Bcache) Bpin(p *proc.Proc, b *Buf) {
	bk := bc.bucketOf(b)
	bk.lock.Acquire(p.Cpu)
	if !b.linked || b.refcnt == 0 {
		bk.lock.Release(p.Cpu)
		panic("bpin: buffer not in cache")
	}
	b.refcnt++
	bk.lock.Release(p.Cpu)
}

// Bunpin undoes one Bpin. The buffer is freed if nobody else holds or
// pins it.
func (bc *Bcache) Bunpin(p *proc.Proc, b *Buf) {
	bk := bc.bucketOf(b)
	bk.lock.Acquire(p.Cpu)
	bc.put(p.Cpu, bk, b, "bunpin")
	bk.lock.Release(p.Cpu)
}

// Refcnt returns b's use count: its holders, waiters and pins.
func (bc *Bcache) Refcnt(p *proc.Proc, b *Buf) uint32 {
	bk := bc.bucketOf(b)
	bk.lock.Acquire(p.Cpu)
	n := b.refcnt
	bk.lock.Release(p.Cpu)
	return n
}

// Cached reports whether block blockno of dev has a buffer in the cache.
func (bc *Bcache) Cached(p *proc.Proc, dev uint32, blockno uint64) bool {
	bk := &bc.buckets[bc.hash(dev, blockno)]
	bk.lock.Acquire(p.Cpu)
	defer bk.lock.Release(p.Cpu)
	for b := bk.head.next; b != &bk.head; b = b.next {
		if b.dev == dev && b.blockno == blockno {
			return true
		}
	}
	return false
}
