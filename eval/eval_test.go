package eval

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationSerialization(t *testing.T) {
	assert := assert.New(t)
	o := Observation{
		Values: KeyValue{"throughput": 0.54},
		Config: KeyValue{"bench": "read", "iterations": float64(5)},
	}
	assert.NoError(o.Values.Validate())
	assert.NoError(o.Config.Validate())

	var b bytes.Buffer
	err := o.Write(&b)
	assert.NoError(err)

	o2, err := ReadObservation(&b)
	assert.NoError(err)
	assert.Equal(o, o2, "should read same observation")
}

func TestKeyValueValidate(t *testing.T) {
	kv := KeyValue{"num": 5}
	assert.Error(t, kv.Validate())

	kv = KeyValue{"num": []float64{3, 4}}
	assert.Error(t, kv.Validate())
}

func TestFlatten(t *testing.T) {
	kv := KeyValue{
		"name":  "bcache-rw",
		"bench": KeyValue{"iters": 10.0},
		"meta":  KeyValue{"run": KeyValue{"iter": 2.0}},
	}
	flat := kv.Flatten()
	assert.Equal(t, KeyValue{
		"name":          "bcache-rw",
		"bench.iters":   10.0,
		"meta.run.iter": 2.0,
	}, flat)
	assert.NoError(t, flat.Validate())
}

func TestStamp(t *testing.T) {
	st := stamp{dev: 1, blockno: 17, gen: 3}
	data := make([]byte, 4096)
	copy(data, st.encode())
	assert.Equal(t, st, decodeStamp(data))
}

func smallMachine() Machine {
	m := DefaultMachine()
	m.NCPU = 3
	m.Pages = 64
	m.Blocks = 32
	m.StealBatch = 4
	return m
}

func TestBenchmarks(t *testing.T) {
	for _, b := range []Benchmark{
		AllocChurnBench(20, 8),
		CowShareBench(20),
		BcacheRwBench(50, 32),
	} {
		t.Run(b.Name(), func(t *testing.T) {
			o, err := Workload{smallMachine(), b}.Run()
			require.NoError(t, err)
			assert.Greater(t, o.Values["ops"].(float64), 0.0)
			assert.NoError(t, o.Config.Flatten().Validate())
			assert.NoError(t, o.Values.Validate())
		})
	}
}

func TestAllocChurnSteals(t *testing.T) {
	o, err := Workload{smallMachine(), AllocChurnBench(10, 8)}.Run()
	require.NoError(t, err)
	// only the boot core starts with pages
	assert.Greater(t, o.Values["steals"].(float64), 0.0)
}

func TestBcacheRwTooManyBlocks(t *testing.T) {
	_, err := Workload{smallMachine(), BcacheRwBench(1, 100)}.Run()
	assert.Error(t, err)
}

func TestSuiteWorkloads(t *testing.T) {
	assert := assert.New(t)
	suite := &BenchmarkSuite{
		Iters:     2,
		Randomize: true,
		Machines:  ScaleMachines(smallMachine(), 2),
		Benches:   []Benchmark{CowShareBench(5), AllocChurnBench(5, 4)},
	}
	ws := suite.Workloads()
	assert.Len(ws, 2*2*2)
	iters := make(map[float64]int)
	for _, w := range ws {
		iters[w.Bench.Config["meta"].(KeyValue)["iter"].(float64)]++
	}
	assert.Equal(map[float64]int{0: 4, 1: 4}, iters)

	n := 0
	obs, err := suite.Run(func() { n++ })
	require.NoError(t, err)
	assert.Len(obs, 8)
	assert.Equal(8, n)
	assert.Equal(1.0, obs[0].Config.Flatten()["machine.ncpu"])
}
