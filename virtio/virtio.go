// Package virtio provides the disk under the buffer cache: a set of block
// devices, each backed by a goose disk.Disk, serving synchronous
// single-block transfers.
package virtio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mit-pdos/go-journal/util"
	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/xv6-kmem/bio"
)

type device struct {
	// held for the whole transfer: the driver owns the device during Rw
	mu sync.Mutex
	d  disk.Disk

	reads  uint64
	writes uint64
}

// Disk routes buffer transfers to the device each buffer names.
type Disk struct {
	mu   sync.RWMutex
	devs map[uint32]*device
}

func New() *Disk {
	return &Disk{devs: make(map[uint32]*device)}
}

// Attach makes d available as device number dev.
func (vd *Disk) Attach(dev uint32, d disk.Disk) error {
	vd.mu.Lock()
	defer vd.mu.Unlock()
	if _, ok := vd.devs[dev]; ok {
		return errors.Errorf("virtio: device %d already attached", dev)
	}
	vd.devs[dev] = &device{d: d}
	util.DPrintf(1, "virtio: dev %d, %d blocks\n", dev, d.Size())
	return nil
}

func (vd *Disk) device(dev uint32) *device {
	vd.mu.RLock()
	dv, ok := vd.devs[dev]
	vd.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("virtio: no device %d", dev))
	}
	return dv
}

// Rw reads or writes the block named by b.
func (vd *Disk) Rw(b *bio.Buf, write bool) {
	dv := vd.device(b.Dev())
	if uint64(len(b.Data)) != disk.BlockSize {
		panic(fmt.Sprintf("virtio: %v has %d bytes", b, len(b.Data)))
	}
	dv.mu.Lock()
	defer dv.mu.Unlock()
	if b.Blockno() >= dv.d.Size() {
		panic(fmt.Sprintf("virtio: %v out of range", b))
	}
	if write {
		// the device keeps the block; the buffer's page gets reused
		blk := make(disk.Block, disk.BlockSize)
		copy(blk, b.Data)
		dv.d.Write(b.Blockno(), blk)
		atomic.AddUint64(&dv.writes, 1)
		return
	}
	copy(b.Data, dv.d.Read(b.Blockno()))
	atomic.AddUint64(&dv.reads, 1)
}

// Size returns the number of blocks of device dev.
func (vd *Disk) Size(dev uint32) uint64 {
	return vd.device(dev).d.Size()
}

// Reads returns the number of blocks read from device dev.
func (vd *Disk) Reads(dev uint32) uint64 {
	return atomic.LoadUint64(&vd.device(dev).reads)
}

func (vd *Disk) Writes(dev uint32) uint64 {
	return atomic.LoadUint64(&vd.device(dev).writes)
}

// Barrier waits for every device's writes to be durable.
func (vd *Disk) Barrier() {
	vd.mu.RLock()
	defer vd.mu.RUnlock()
	for _, dv := range vd.devs {
		dv.mu.Lock()
		dv.d.Barrier()
		dv.mu.Unlock()
	}
}

// Close closes every device.
func (vd *Disk) Close() {
	vd.mu.Lock()
	defer vd.mu.Unlock()
	for dev, dv := range vd.devs {
		dv.mu.Lock()
		dv.d.Close()
		dv.mu.Unlock()
		delete(vd.devs, dev)
	}
}
