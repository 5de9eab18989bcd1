package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"sync"

	"github.com/mit-pdos/go-journal/util"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/xv6-kmem/bio"
	"github.com/mit-pdos/xv6-kmem/kalloc"
	"github.com/mit-pdos/xv6-kmem/kstats"
	"github.com/mit-pdos/xv6-kmem/proc"
	"github.com/mit-pdos/xv6-kmem/virtio"
)

const rootDev = 1

// kallocTest allocates every page from all cores at once, checks that no
// page is handed out twice, and frees them all.
func kallocTest(km *kalloc.Kmem, cpus []*proc.Cpu) error {
	held := make([][]kalloc.Pa, len(cpus))
	var wg sync.WaitGroup
	for i, c := range cpus {
		wg.Add(1)
		go func(i int, c *proc.Cpu) {
			defer wg.Done()
			for {
				pa, ok := km.Kalloc(c)
				if !ok {
					return
				}
				held[i] = append(held[i], pa)
			}
		}(i, c)
	}
	wg.Wait()
	seen := make(map[kalloc.Pa]bool)
	for _, pas := range held {
		for _, pa := range pas {
			if seen[pa] {
				return errors.Errorf("kalloctest: %v allocated twice", pa)
			}
			seen[pa] = true
		}
	}
	if uint64(len(seen)) != km.NPages() {
		return errors.Errorf("kalloctest: allocated %d of %d pages",
			len(seen), km.NPages())
	}
	for i, pas := range held {
		for _, pa := range pas {
			km.Kfree(cpus[i], pa)
		}
	}
	if km.NFree() != km.NPages() {
		return errors.Errorf("kalloctest: %d of %d pages free after kfree",
			km.NFree(), km.NPages())
	}
	fmt.Printf("kalloctest: OK (%d pages)\n", km.NPages())
	return nil
}

// bioTest writes a pattern to the first nblocks blocks and reads it back.
func bioTest(bc *bio.Bcache, p *proc.Proc, nblocks uint64) error {
	pattern := func(bn uint64) []byte {
		return []byte(fmt.Sprintf("block %d", bn))
	}
	bar := progressbar.Default(int64(2*nblocks), "biotest")
	for bn := uint64(0); bn < nblocks; bn++ {
		b, err := bc.Bread(p, rootDev, bn)
		if err != nil {
			return err
		}
		copy(b.Data, pattern(bn))
		bc.Bwrite(p, b)
		bc.Brelse(p, b)
		bar.Add(1)
	}
	for bn := uint64(0); bn < nblocks; bn++ {
		b, err := bc.Bread(p, rootDev, bn)
		if err != nil {
			return err
		}
		ok := bytes.HasPrefix(b.Data, pattern(bn))
		bc.Brelse(p, b)
		if !ok {
			return errors.Errorf("biotest: block %d lost its contents", bn)
		}
		bar.Add(1)
	}
	fmt.Printf("biotest: OK (%d blocks)\n", nblocks)
	return nil
}

func main() {
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file")
	var diskfile string
	flag.StringVar(&diskfile, "disk", "", "file to store disk in (empty uses MemDisk)")

	var diskMegabytes uint64
	flag.Uint64Var(&diskMegabytes, "size", 40, "size of disk (in MB)")

	var memMegabytes uint64
	flag.Uint64Var(&memMegabytes, "mem", 128, "size of RAM (in MB)")

	ncpu := flag.Int("ncpu", kalloc.DefaultConfig().NCPU, "number of cores")
	nbucket := flag.Int("nbucket", bio.DefaultConfig().NBucket, "buffer cache buckets")
	testBlocks := flag.Uint64("test-blocks", 1024, "blocks to exercise in the self-test")
	metrics := flag.String("metrics", "", "address to serve /metrics on (empty disables)")

	flag.Uint64Var(&util.Debug, "debug", 0, "debug level (higher is more verbose)")

	flag.Parse()

	diskBlocks := diskMegabytes * 1000 / 4

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	cfg := kalloc.DefaultConfig()
	cfg.NCPU = *ncpu
	cfg.PhysTop = cfg.Base + kalloc.Pa(memMegabytes*1024*1024)
	cpus := proc.NewCpus(cfg.NCPU)
	km, err := kalloc.New(cpus[0], cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer km.Close()

	var d disk.Disk
	if diskfile == "" {
		d = disk.NewMemDisk(diskBlocks)
	} else {
		var err error
		d, err = disk.NewFileDisk(diskfile, diskBlocks)
		if err != nil {
			panic("could not create disk file: " + err.Error())
		}
	}
	vd := virtio.New()
	if err := vd.Attach(rootDev, d); err != nil {
		log.Fatal(err)
	}
	defer vd.Close()
	bc, err := bio.New(km, vd, bio.Config{NBucket: *nbucket})
	if err != nil {
		log.Fatal(err)
	}

	if err := kallocTest(km, cpus); err != nil {
		log.Fatal(err)
	}
	n := *testBlocks
	if n > diskBlocks {
		n = diskBlocks
	}
	if err := bioTest(bc, proc.NewProc(1, cpus[0]), n); err != nil {
		log.Fatal(err)
	}
	vd.Barrier()

	if *metrics == "" {
		return
	}
	h, err := kstats.Handler(km, bc)
	if err != nil {
		log.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: *metrics, Handler: mux}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		srv.Close()
	}()

	fmt.Printf("serving metrics on %s\n", *metrics)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Printf("serve: %v\n", err)
	}
}
