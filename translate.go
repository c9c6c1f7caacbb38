package waynefs

import "encoding/binary"

// readPtr reads the i'th u32 pointer out of a block-sized index-block
// payload.
func readPtr(block []byte, i uint64) uint32 {
	return binary.LittleEndian.Uint32(block[i*4:])
}

func writePtr(block []byte, i uint64, v uint32) {
	binary.LittleEndian.PutUint32(block[i*4:], v)
}

// getAddr returns the physical block address for logical block index
// i of inode, or 0 if unallocated. It never mutates state.
func (fs *Filesystem) getAddr(inode *DiskInode, i uint64) (uint32, error) {
	if i >= maxLogicalBlocks(fs.sb.BlockSize) {
		return 0, newErr(TooBig, "read", "")
	}
	ppb := uint64(pointersPerBlock(fs.sb.BlockSize))

	if i < NumDirect {
		return inode.Direct[i], nil
	}

	if i < NumDirect+ppb {
		indAddr := inode.Direct[IndirectIdx]
		if indAddr == 0 {
			// Unallocated indirect block: every pointer under it is
			// implicitly zero. Must not dereference a zero address.
			return 0, nil
		}
		data, err := fs.cache.Get(indAddr)
		if err != nil {
			return 0, err
		}
		return readPtr(data, i-NumDirect), nil
	}

	i2 := i - NumDirect - ppb
	dblAddr := inode.Direct[DoubleIndirectIdx]
	if dblAddr == 0 {
		return 0, nil
	}
	l1data, err := fs.cache.Get(dblAddr)
	if err != nil {
		return 0, err
	}
	l1ptr := readPtr(l1data, i2/ppb)
	if l1ptr == 0 {
		return 0, nil
	}
	l2data, err := fs.cache.Get(l1ptr)
	if err != nil {
		return 0, err
	}
	return readPtr(l2data, i2%ppb), nil
}

// allocBlock finds a free data block, marks it used, and stages the
// block bitmap change into tx. The caller owns the block's content.
func (fs *Filesystem) allocBlock(tx *Transaction) (uint32, error) {
	idx := fs.blkBitmap.FindFree(0)
	if idx < 0 {
		return 0, newErr(NoSpace, "alloc", "")
	}
	addr := uint32(idx)
	fs.blkBitmap.Set(addr)
	if err := fs.blkBitmap.Flush(tx, nil); err != nil {
		return 0, err
	}
	return addr, nil
}

// freeBlock marks addr free and stages the block bitmap change.
func (fs *Filesystem) freeBlock(addr uint32, tx *Transaction) error {
	if addr == 0 {
		return nil
	}
	fs.blkBitmap.Clear(addr)
	return fs.blkBitmap.Flush(tx, nil)
}

func (fs *Filesystem) zeroBlock(addr uint32, tx *Transaction, kind BlockKind) error {
	data := make([]byte, fs.sb.BlockSize)
	return tx.Write(addr, data, kind)
}

// zeroDataBlock zeroes a freshly allocated leaf data block. Data
// blocks are ordered, not logged: the zero content goes
// straight into the page cache and the transaction only records that
// it must be flushed before the descriptor is written.
func (fs *Filesystem) zeroDataBlock(addr uint32, tx *Transaction) {
	fs.cache.MarkDirty(addr, make([]byte, fs.sb.BlockSize))
	tx.OrderedData(addr)
}

// getOrAlloc returns the physical address for logical block index i
// of inode, allocating any missing intermediate index block and the
// leaf itself, updating index-block contents and staging them in tx
//. It mutates inode.Direct in place; the caller must persist
// the inode record afterward.
func (fs *Filesystem) getOrAlloc(inode *DiskInode, i uint64, tx *Transaction) (uint32, error) {
	if i >= maxLogicalBlocks(fs.sb.BlockSize) {
		return 0, newErr(TooBig, "write", "")
	}
	ppb := uint64(pointersPerBlock(fs.sb.BlockSize))

	if i < NumDirect {
		if inode.Direct[i] == 0 {
			addr, err := fs.allocBlock(tx)
			if err != nil {
				return 0, err
			}
			fs.zeroDataBlock(addr, tx)
			inode.Direct[i] = addr
		}
		return inode.Direct[i], nil
	}

	if i < NumDirect+ppb {
		indAddr, err := fs.ensureIndexBlock(&inode.Direct[IndirectIdx], tx)
		if err != nil {
			return 0, err
		}
		return fs.ensureLeafInIndex(indAddr, i-NumDirect, tx)
	}

	i2 := i - NumDirect - ppb
	dblAddr, err := fs.ensureIndexBlock(&inode.Direct[DoubleIndirectIdx], tx)
	if err != nil {
		return 0, err
	}
	l1Addr, err := fs.ensureIndexBlockAt(dblAddr, i2/ppb, tx)
	if err != nil {
		return 0, err
	}
	return fs.ensureLeafInIndex(l1Addr, i2%ppb, tx)
}

// ensureIndexBlock makes sure *slot holds an allocated, zeroed index
// block address, allocating one if it was 0.
func (fs *Filesystem) ensureIndexBlock(slot *uint32, tx *Transaction) (uint32, error) {
	if *slot != 0 {
		return *slot, nil
	}
	addr, err := fs.allocBlock(tx)
	if err != nil {
		return 0, err
	}
	if err := fs.zeroBlock(addr, tx, KindIndirect); err != nil {
		return 0, err
	}
	*slot = addr
	return addr, nil
}

// ensureIndexBlockAt makes sure pointer idx within the index block at
// addr holds an allocated, zeroed index block, returning its address.
func (fs *Filesystem) ensureIndexBlockAt(addr uint32, idx uint64, tx *Transaction) (uint32, error) {
	data, err := tx.StageRead(addr)
	if err != nil {
		return 0, err
	}
	ptr := readPtr(data, idx)
	if ptr != 0 {
		return ptr, nil
	}
	child, err := fs.allocBlock(tx)
	if err != nil {
		return 0, err
	}
	if err := fs.zeroBlock(child, tx, KindIndirect); err != nil {
		return 0, err
	}
	writePtr(data, idx, child)
	if err := tx.Write(addr, data, KindIndirect); err != nil {
		return 0, err
	}
	return child, nil
}

// ensureLeafInIndex makes sure pointer idx within the index block at
// addr holds an allocated data block, returning its address.
func (fs *Filesystem) ensureLeafInIndex(addr uint32, idx uint64, tx *Transaction) (uint32, error) {
	data, err := tx.StageRead(addr)
	if err != nil {
		return 0, err
	}
	ptr := readPtr(data, idx)
	if ptr != 0 {
		return ptr, nil
	}
	leaf, err := fs.allocBlock(tx)
	if err != nil {
		return 0, err
	}
	fs.zeroDataBlock(leaf, tx)
	writePtr(data, idx, leaf)
	if err := tx.Write(addr, data, KindIndirect); err != nil {
		return 0, err
	}
	return leaf, nil
}
