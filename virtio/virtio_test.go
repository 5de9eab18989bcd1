package virtio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/xv6-kmem/bio"
	"github.com/mit-pdos/xv6-kmem/kalloc"
	"github.com/mit-pdos/xv6-kmem/proc"
)

func newCache(t *testing.T, vd *Disk) (*bio.Bcache, *proc.Proc) {
	c := proc.NewCpu(0)
	cfg := kalloc.DefaultConfig()
	cfg.NCPU = 1
	cfg.PhysTop = cfg.End + 32*kalloc.PGSIZE
	km, err := kalloc.New(c, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { km.Close() })
	bc, err := bio.New(km, vd, bio.DefaultConfig())
	require.NoError(t, err)
	return bc, proc.NewProc(1, c)
}

func TestMemDiskRoundTrip(t *testing.T) {
	assert := assert.New(t)
	vd := New()
	defer vd.Close()
	require.NoError(t, vd.Attach(1, disk.NewMemDisk(10)))
	bc, p := newCache(t, vd)

	b, err := bc.Bread(p, 1, 3)
	require.NoError(t, err)
	assert.Equal(make([]byte, disk.BlockSize), b.Data, "fresh disk is zero")
	copy(b.Data, "superblock")
	bc.Bwrite(p, b)
	// the device keeps its own copy
	b.Data[0] = 'S'
	bc.Brelse(p, b)

	b, err = bc.Bread(p, 1, 3)
	require.NoError(t, err)
	assert.Equal([]byte("superblock"), b.Data[:10])
	bc.Brelse(p, b)

	assert.Equal(uint64(2), vd.Reads(1))
	assert.Equal(uint64(1), vd.Writes(1))
	assert.Equal(uint64(10), vd.Size(1))
}

func TestTwoDevices(t *testing.T) {
	assert := assert.New(t)
	vd := New()
	defer vd.Close()
	require.NoError(t, vd.Attach(1, disk.NewMemDisk(10)))
	require.NoError(t, vd.Attach(2, disk.NewMemDisk(10)))
	assert.Error(vd.Attach(2, disk.NewMemDisk(10)), "device 2 taken")
	bc, p := newCache(t, vd)

	b, err := bc.Bread(p, 2, 0)
	require.NoError(t, err)
	copy(b.Data, "dev2")
	bc.Bwrite(p, b)
	bc.Brelse(p, b)

	b, err = bc.Bread(p, 1, 0)
	require.NoError(t, err)
	assert.Equal(byte(0), b.Data[0], "devices are independent")
	bc.Brelse(p, b)
}

func TestFileDiskPersists(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "disk.img")

	d, err := disk.NewFileDisk(path, 20)
	require.NoError(t, err)
	vd := New()
	require.NoError(t, vd.Attach(1, d))
	bc, p := newCache(t, vd)
	b, err := bc.Bread(p, 1, 19)
	require.NoError(t, err)
	copy(b.Data, "persisted")
	bc.Bwrite(p, b)
	bc.Brelse(p, b)
	vd.Barrier()
	vd.Close()

	d, err = disk.NewFileDisk(path, 20)
	require.NoError(t, err)
	vd = New()
	defer vd.Close()
	require.NoError(t, vd.Attach(1, d))
	bc, p = newCache(t, vd)
	b, err = bc.Bread(p, 1, 19)
	require.NoError(t, err)
	assert.Equal([]byte("persisted"), b.Data[:9])
	bc.Brelse(p, b)
}

func TestBadTransfers(t *testing.T) {
	vd := New()
	defer vd.Close()
	require.NoError(t, vd.Attach(1, disk.NewMemDisk(4)))
	bc, p := newCache(t, vd)

	assert.Panics(t, func() { bc.Bread(p, 7, 0) }, "no such device")
	assert.Panics(t, func() { bc.Bread(p, 1, 4) },
		"past the end of the device")
}
