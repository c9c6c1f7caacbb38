package waynefs

import (
	"path/filepath"
	"testing"
)

func newTestFilesystem(t *testing.T, opts ImageOptions) *Filesystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.img")
	if err := MakeImage(path, opts); err != nil {
		t.Fatalf("MakeImage: %v", err)
	}
	fs, err := Mount(path)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() { fs.Unmount() })
	return fs
}

func smallImageOpts() ImageOptions {
	return ImageOptions{SizeMB: 4, BlockSize: 512, Inodes: 256, JournalSize: 1}
}

func TestGetOrAllocDirectSlots(t *testing.T) {
	fs := newTestFilesystem(t, smallImageOpts())
	inode := &DiskInode{Mode: S_IFREG | 0644}

	tx := fs.journal.Begin()
	defer tx.Close()

	for i := uint64(0); i < NumDirect; i++ {
		addr, err := fs.getOrAlloc(inode, i, tx)
		if err != nil {
			t.Fatalf("getOrAlloc(%d): %v", i, err)
		}
		if addr == 0 {
			t.Fatalf("getOrAlloc(%d) returned 0", i)
		}
		if inode.Direct[i] != addr {
			t.Fatalf("Direct[%d] = %d, want %d", i, inode.Direct[i], addr)
		}
	}

	// Re-requesting an already-allocated slot must return the same
	// address without allocating a second block.
	again, err := fs.getOrAlloc(inode, 0, tx)
	if err != nil {
		t.Fatalf("getOrAlloc(0) again: %v", err)
	}
	if again != inode.Direct[0] {
		t.Fatalf("second getOrAlloc(0) = %d, want %d", again, inode.Direct[0])
	}
}

func TestGetOrAllocIndirectAndDoubleIndirect(t *testing.T) {
	fs := newTestFilesystem(t, smallImageOpts())
	inode := &DiskInode{Mode: S_IFREG | 0644}
	ppb := uint64(pointersPerBlock(fs.sb.BlockSize))

	tx := fs.journal.Begin()

	// First indirect-range block.
	indIdx := uint64(NumDirect)
	addr, err := fs.getOrAlloc(inode, indIdx, tx)
	if err != nil {
		t.Fatalf("getOrAlloc(indirect): %v", err)
	}
	if addr == 0 || inode.Direct[IndirectIdx] == 0 {
		t.Fatalf("expected an allocated indirect block")
	}
	// getAddr reads index blocks through the page cache, which sees the
	// staged index-block contents only once the transaction commits.
	if err := tx.Close(); err != nil {
		t.Fatalf("tx.Close: %v", err)
	}

	got, err := fs.getAddr(inode, indIdx)
	if err != nil {
		t.Fatalf("getAddr(indirect): %v", err)
	}
	if got != addr {
		t.Fatalf("getAddr(indirect) = %d, want %d", got, addr)
	}

	// First double-indirect block.
	dblIdx := NumDirect + ppb
	tx2 := fs.journal.Begin()
	addr2, err := fs.getOrAlloc(inode, dblIdx, tx2)
	if err != nil {
		t.Fatalf("getOrAlloc(double-indirect): %v", err)
	}
	if addr2 == 0 || inode.Direct[DoubleIndirectIdx] == 0 {
		t.Fatalf("expected an allocated double-indirect block")
	}
	if err := tx2.Close(); err != nil {
		t.Fatalf("tx2.Close: %v", err)
	}

	got2, err := fs.getAddr(inode, dblIdx)
	if err != nil {
		t.Fatalf("getAddr(double-indirect): %v", err)
	}
	if got2 != addr2 {
		t.Fatalf("getAddr(double-indirect) = %d, want %d", got2, addr2)
	}
}

func TestGetAddrUnallocatedReturnsZero(t *testing.T) {
	fs := newTestFilesystem(t, smallImageOpts())
	inode := &DiskInode{Mode: S_IFREG | 0644}

	addr, err := fs.getAddr(inode, 0)
	if err != nil {
		t.Fatalf("getAddr on empty inode: %v", err)
	}
	if addr != 0 {
		t.Fatalf("getAddr on unallocated direct slot = %d, want 0", addr)
	}

	ppb := uint64(pointersPerBlock(fs.sb.BlockSize))
	addr, err = fs.getAddr(inode, NumDirect+ppb)
	if err != nil {
		t.Fatalf("getAddr on empty double-indirect range: %v", err)
	}
	if addr != 0 {
		t.Fatalf("getAddr on unallocated double-indirect slot = %d, want 0", addr)
	}
}

func TestGetOrAllocTooBig(t *testing.T) {
	fs := newTestFilesystem(t, smallImageOpts())
	inode := &DiskInode{Mode: S_IFREG | 0644}

	tx := fs.journal.Begin()
	defer tx.Close()

	_, err := fs.getOrAlloc(inode, maxLogicalBlocks(fs.sb.BlockSize), tx)
	if e, ok := err.(*Error); !ok || e.Kind != TooBig {
		t.Fatalf("getOrAlloc beyond maxLogicalBlocks: err = %v, want TooBig", err)
	}
}

func TestFreeBlocksFromFreesIndexBlocksWhenEmpty(t *testing.T) {
	fs := newTestFilesystem(t, smallImageOpts())
	inode := &DiskInode{Mode: S_IFREG | 0644}

	tx := fs.journal.Begin()
	if _, err := fs.getOrAlloc(inode, NumDirect, tx); err != nil {
		t.Fatalf("getOrAlloc: %v", err)
	}
	indAddr := inode.Direct[IndirectIdx]
	if indAddr == 0 {
		t.Fatalf("expected indirect block allocated")
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("tx.Close: %v", err)
	}

	tx2 := fs.journal.Begin()
	if err := fs.freeBlocksFrom(inode, 0, tx2); err != nil {
		t.Fatalf("freeBlocksFrom: %v", err)
	}
	if err := tx2.Close(); err != nil {
		t.Fatalf("tx2.Close: %v", err)
	}

	if inode.Direct[IndirectIdx] != 0 {
		t.Fatalf("expected indirect pointer cleared once emptied, got %d", inode.Direct[IndirectIdx])
	}
	if fs.blkBitmap.IsSet(indAddr) {
		t.Fatalf("expected former indirect block %d freed in the block bitmap", indAddr)
	}
}
