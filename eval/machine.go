package eval

import (
	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/xv6-kmem/bio"
	"github.com/mit-pdos/xv6-kmem/kalloc"
	"github.com/mit-pdos/xv6-kmem/proc"
	"github.com/mit-pdos/xv6-kmem/virtio"
)

// benchDev is the device number workloads use for their disk.
const benchDev = 1

// Machine describes the simulated hardware a benchmark boots.
type Machine struct {
	NCPU int
	// allocatable pages
	Pages uint64
	// blocks on the (in-memory) disk
	Blocks     uint64
	StealBatch int
	NBucket    int
}

func DefaultMachine() Machine {
	return Machine{
		NCPU:       4,
		Pages:      4096,
		Blocks:     1024,
		StealBatch: kalloc.DefaultConfig().StealBatch,
		NBucket:    bio.DefaultConfig().NBucket,
	}
}

func (m Machine) Config() KeyValue {
	return KeyValue{
		"ncpu":        float64(m.NCPU),
		"pages":       float64(m.Pages),
		"blocks":      float64(m.Blocks),
		"steal-batch": float64(m.StealBatch),
		"nbucket":     float64(m.NBucket),
	}
}

// system is a booted Machine.
type system struct {
	cpus  []*proc.Cpu
	procs []*proc.Proc
	km    *kalloc.Kmem
	vd    *virtio.Disk
	bc    *bio.Bcache
}

func (m Machine) boot() (*system, error) {
	cfg := kalloc.DefaultConfig()
	cfg.NCPU = m.NCPU
	cfg.StealBatch = m.StealBatch
	cfg.PhysTop = kalloc.PGROUNDUP(cfg.End) + kalloc.Pa(m.Pages*kalloc.PGSIZE)
	cpus := proc.NewCpus(m.NCPU)
	km, err := kalloc.New(cpus[0], cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kinit")
	}
	vd := virtio.New()
	if err := vd.Attach(benchDev, disk.NewMemDisk(m.Blocks)); err != nil {
		km.Close()
		return nil, err
	}
	bc, err := bio.New(km, vd, bio.Config{NBucket: m.NBucket})
	if err != nil {
		vd.Close()
		km.Close()
		return nil, errors.Wrap(err, "binit")
	}
	s := &system{cpus: cpus, km: km, vd: vd, bc: bc}
	for i, c := range cpus {
		s.procs = append(s.procs, proc.NewProc(i+1, c))
	}
	return s, nil
}

func (s *system) close() {
	s.vd.Close()
	s.km.Close()
}
