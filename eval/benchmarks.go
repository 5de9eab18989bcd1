package eval

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/xv6-kmem/bio"
	"github.com/mit-pdos/xv6-kmem/kalloc"
	"github.com/mit-pdos/xv6-kmem/proc"
)

// result is what a benchmark measured, besides time
type result struct {
	ops    uint64
	values KeyValue
}

type Benchmark struct {
	// Config has configuration related to the benchmark workload under test
	// "bench" is a map with benchmark options
	Config KeyValue
	run    func(s *system) (result, error)
}

func (b Benchmark) Name() string {
	return b.Config["name"].(string)
}

func newBenchmark(name string, opts KeyValue,
	run func(s *system) (result, error)) Benchmark {
	return Benchmark{
		Config: KeyValue{"name": name, "bench": opts},
		run:    run,
	}
}

// onEachCpu runs f concurrently once per core and returns the first error.
func onEachCpu(s *system, f func(i int, c *proc.Cpu) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(s.cpus))
	for i, c := range s.cpus {
		wg.Add(1)
		go func(i int, c *proc.Cpu) {
			defer wg.Done()
			errs[i] = f(i, c)
		}(i, c)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func checkAllFree(km *kalloc.Kmem) error {
	if km.NFree() != km.NPages() {
		return errors.Errorf("leaked pages: %d of %d free",
			km.NFree(), km.NPages())
	}
	return nil
}

// AllocChurnBench has every core repeatedly allocate a batch of pages and
// free them again, so cores drain and steal from each other.
func AllocChurnBench(iters int, batch int) Benchmark {
	return newBenchmark("alloc-churn",
		KeyValue{"iters": float64(iters), "batch": float64(batch)},
		func(s *system) (result, error) {
			var ops uint64
			err := onEachCpu(s, func(_ int, c *proc.Cpu) error {
				held := make([]kalloc.Pa, 0, batch)
				for i := 0; i < iters; i++ {
					for len(held) < batch {
						pa, ok := s.km.Kalloc(c)
						if !ok {
							break
						}
						held = append(held, pa)
					}
					atomic.AddUint64(&ops, uint64(len(held)))
					for _, pa := range held {
						s.km.Kfree(c, pa)
					}
					held = held[:0]
				}
				return nil
			})
			if err == nil {
				err = checkAllFree(s.km)
			}
			st := s.km.Stats()
			return result{ops: ops, values: KeyValue{
				"steals": float64(st.Steals),
				"failed": float64(st.Failed),
			}}, err
		})
}

// CowShareBench shares pages between two owners and breaks the sharing
// with copy-on-write, checking reference counts and page contents.
func CowShareBench(iters int) Benchmark {
	return newBenchmark("cow-share",
		KeyValue{"iters": float64(iters)},
		func(s *system) (result, error) {
			var ops uint64
			err := onEachCpu(s, func(id int, c *proc.Cpu) error {
				km := s.km
				for i := 0; i < iters; i++ {
					pa, ok := km.Kalloc(c)
					if !ok {
						continue
					}
					pg := km.Page(pa)
					pg[0], pg[kalloc.PGSIZE-1] = byte(id), byte(i)
					km.IncRef(c, pa)
					npa, ok := km.Cow(c, pa)
					if !ok {
						// keep our reference and drop both
						km.Kfree(c, pa)
						km.Kfree(c, pa)
						continue
					}
					if npa == pa {
						return errors.Errorf("cow of shared page %v not copied", pa)
					}
					if n := km.RefCount(c, pa); n != 1 {
						return errors.Errorf("page %v has %d refs after cow", pa, n)
					}
					npg := km.Page(npa)
					if npg[0] != byte(id) || npg[kalloc.PGSIZE-1] != byte(i) {
						return errors.Errorf("cow copy %v differs from %v", npa, pa)
					}
					// the last owner writes in place
					if again, _ := km.Cow(c, pa); again != pa {
						return errors.Errorf("cow of exclusive page %v moved", pa)
					}
					km.Kfree(c, npa)
					km.Kfree(c, pa)
					atomic.AddUint64(&ops, 1)
				}
				return nil
			})
			if err == nil {
				err = checkAllFree(s.km)
			}
			st := s.km.Stats()
			return result{ops: ops, values: KeyValue{
				"cow-copies":   float64(st.CowCopies),
				"shared-frees": float64(st.SharedFrees),
			}}, err
		})
}

// stamp is the header bcache-rw writes at the start of each block
type stamp struct {
	dev     uint64
	blockno uint64
	gen     uint64
}

const stampSize = 3 * 8

func (st stamp) encode() []byte {
	enc := marshal.NewEnc(stampSize)
	enc.PutInt(st.dev)
	enc.PutInt(st.blockno)
	enc.PutInt(st.gen)
	return enc.Finish()
}

func decodeStamp(data []byte) stamp {
	dec := marshal.NewDec(data[:stampSize])
	var st stamp
	st.dev = dec.GetInt()
	st.blockno = dec.GetInt()
	st.gen = dec.GetInt()
	return st
}

func checkStamp(b *bio.Buf, gen uint64) error {
	st := decodeStamp(b.Data)
	want := stamp{uint64(b.Dev()), b.Blockno(), gen}
	if gen == 0 {
		// never written
		want = stamp{}
	}
	if st != want {
		return errors.Errorf("%v: stamp %+v, expected %+v", b, st, want)
	}
	return nil
}

// BcacheRwBench has one process per core read, restamp and write back
// random blocks, then reads every block back to check that no update was
// lost.
func BcacheRwBench(iters int, blocks uint64) Benchmark {
	return newBenchmark("bcache-rw",
		KeyValue{"iters": float64(iters), "blocks": float64(blocks)},
		func(s *system) (result, error) {
			if blocks > s.vd.Size(benchDev) {
				return result{}, errors.Errorf("%d blocks on a %d-block disk",
					blocks, s.vd.Size(benchDev))
			}
			bc := s.bc
			// writes to each block; only changed while holding its buffer
			gens := make([]uint64, blocks)
			var ops uint64
			err := onEachCpu(s, func(id int, _ *proc.Cpu) error {
				p := s.procs[id]
				rnd := rand.New(rand.NewSource(int64(id)))
				for i := 0; i < iters; i++ {
					bn := rnd.Uint64() % blocks
					b, err := bc.Bread(p, benchDev, bn)
					if err != nil {
						return err
					}
					if err := checkStamp(b, gens[bn]); err != nil {
						bc.Brelse(p, b)
						return err
					}
					gens[bn]++
					copy(b.Data, stamp{benchDev, bn, gens[bn]}.encode())
					bc.Bwrite(p, b)
					bc.Brelse(p, b)
					atomic.AddUint64(&ops, 1)
				}
				return nil
			})
			if err != nil {
				return result{}, err
			}
			p := s.procs[0]
			for bn := uint64(0); bn < blocks; bn++ {
				b, err := bc.Bread(p, benchDev, bn)
				if err != nil {
					return result{}, err
				}
				err = checkStamp(b, gens[bn])
				bc.Brelse(p, b)
				if err != nil {
					return result{}, err
				}
			}
			st := bc.Stats()
			if st.Live != 0 {
				err = errors.Errorf("%d buffers still cached", st.Live)
			} else {
				err = checkAllFree(s.km)
			}
			return result{ops: ops, values: KeyValue{
				"disk-reads": float64(st.Reads),
				"hits":       float64(st.Hits),
			}}, err
		})
}
