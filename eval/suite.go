package eval

import (
	"math/rand"
	"time"

	"github.com/mit-pdos/go-journal/util"
	"github.com/pkg/errors"
)

type BenchmarkSuite struct {
	Iters     int
	Randomize bool
	Machines  []Machine
	Benches   []Benchmark
}

type Workload struct {
	Machine Machine
	Bench   Benchmark
}

// Run boots a fresh machine and runs the benchmark on it. The observation
// reports throughput in operations per second as "val".
func (w Workload) Run() (Observation, error) {
	s, err := w.Machine.boot()
	if err != nil {
		return Observation{}, err
	}
	defer s.close()
	start := time.Now()
	res, err := w.Bench.run(s)
	elapsed := time.Since(start)
	if err != nil {
		return Observation{}, errors.Wrapf(err, "%s", w.Bench.Name())
	}
	util.DPrintf(1, "%s: %d ops in %v\n", w.Bench.Name(), res.ops, elapsed)
	values := KeyValue{
		"val":     float64(res.ops) / elapsed.Seconds(),
		"ops":     float64(res.ops),
		"seconds": elapsed.Seconds(),
	}
	values.Extend(res.values)
	config := w.Bench.Config.Clone()
	config["machine"] = w.Machine.Config()
	return Observation{Values: values, Config: config}, nil
}

func (bs *BenchmarkSuite) Workloads() []Workload {
	var benches []Benchmark
	for i := 0; i < bs.Iters; i++ {
		for _, b := range bs.Benches {
			config := b.Config.Clone()
			config["meta"] = KeyValue{"iter": float64(i)}
			benches = append(benches, Benchmark{Config: config, run: b.run})
		}
	}
	if bs.Randomize {
		rand.Shuffle(len(benches), func(i int, j int) {
			benches[i], benches[j] = benches[j], benches[i]
		})
	}
	var ws []Workload
	for _, m := range bs.Machines {
		for _, b := range benches {
			ws = append(ws, Workload{m, b})
		}
	}
	return ws
}

// Run runs every workload in order, calling progress after each one
// (progress may be nil).
func (bs *BenchmarkSuite) Run(progress func()) ([]Observation, error) {
	var obs []Observation
	for _, w := range bs.Workloads() {
		o, err := w.Run()
		if err != nil {
			return obs, err
		}
		obs = append(obs, o)
		if progress != nil {
			progress()
		}
	}
	return obs, nil
}

func BenchSuite(iters int) []Benchmark {
	return []Benchmark{
		AllocChurnBench(iters, 64),
		CowShareBench(iters),
		BcacheRwBench(iters, 256),
	}
}

// ScaleMachines returns m with 1 up to ncpu cores.
func ScaleMachines(m Machine, ncpu int) []Machine {
	var ms []Machine
	for i := 1; i <= ncpu; i++ {
		m.NCPU = i
		ms = append(ms, m)
	}
	return ms
}

// StealBatchMachines returns m with each of the given steal batch sizes.
func StealBatchMachines(m Machine, batches []int) []Machine {
	var ms []Machine
	for _, b := range batches {
		m.StealBatch = b
		ms = append(ms, m)
	}
	return ms
}
