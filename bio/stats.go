package bio

import "sync/atomic"

type counters struct {
	lookups   uint64
	hits      uint64
	misses    uint64
	reads     uint64
	writes    uint64
	reclaims  uint64
	noBuffers uint64
	live      int64
}

type Stats struct {
	Lookups uint64
	// lookups that found the block cached
	Hits uint64
	// lookups that allocated a new buffer
	Misses uint64
	// disk transfers
	Reads  uint64
	Writes uint64
	// buffers returned to the page allocator
	Reclaims uint64
	// lookups that failed for lack of memory
	NoBuffers uint64
	// buffers currently in the cache
	Live int64
}

func (bc *Bcache) Stats() Stats {
	return Stats{
		Lookups:   atomic.LoadUint64(&bc.stats.lookups),
		Hits:      atomic.LoadUint64(&bc.stats.hits),
		Misses:    atomic.LoadUint64(&bc.stats.misses),
		Reads:     atomic.LoadUint64(&bc.stats.reads),
		Writes:    atomic.LoadUint64(&bc.stats.writes),
		Reclaims:  atomic.LoadUint64(&bc.stats.reclaims),
		NoBuffers: atomic.LoadUint64(&bc.stats.noBuffers),
		Live:      atomic.LoadInt64(&bc.stats.live),
	}
}
