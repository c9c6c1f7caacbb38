package waynefs

// BlockKind tags a staged write with what it represents, for logging
// and for the ordered-data bookkeeping in commit. It carries no
// behavior of its own beyond documentation and test assertions.
type BlockKind int

const (
	KindSuperblock BlockKind = iota
	KindBitmapInode
	KindBitmapBlock
	KindInodeTable
	KindIndirect
	KindDirectory
	KindData
)

// Bitmap is a bit-array allocator backed by a contiguous run of
// blocks. The whole region is kept decoded in memory as one
// byte slice; flush() re-splits it into per-block writes.
type Bitmap struct {
	kind        BlockKind
	startBlock  uint32
	numBlocks   uint32
	blockSize   uint32
	totalItems  uint32
	searchFloor uint32 // lowest index find_free will ever return
	bits        []byte
	dirtyBlocks map[uint32]bool
}

// loadBitmap reads numBlocks blocks starting at startBlock and decodes
// them into an in-memory bit array covering totalItems bits.
func loadBitmap(dev *BlockDevice, kind BlockKind, startBlock, numBlocks, totalItems, searchFloor uint32) (*Bitmap, error) {
	b := &Bitmap{
		kind:        kind,
		startBlock:  startBlock,
		numBlocks:   numBlocks,
		blockSize:   dev.BlockSize(),
		totalItems:  totalItems,
		searchFloor: searchFloor,
		bits:        make([]byte, numBlocks*dev.BlockSize()),
		dirtyBlocks: make(map[uint32]bool),
	}
	for i := uint32(0); i < numBlocks; i++ {
		blk, err := dev.ReadBlock(startBlock + i)
		if err != nil {
			return nil, err
		}
		copy(b.bits[i*b.blockSize:], blk)
	}
	return b, nil
}

// IsSet reports whether bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	byteIdx := i / 8
	bitIdx := i % 8
	return b.bits[byteIdx]&(1<<bitIdx) != 0
}

// Set marks bit i used.
func (b *Bitmap) Set(i uint32) {
	byteIdx := i / 8
	bitIdx := i % 8
	b.bits[byteIdx] |= 1 << bitIdx
	b.dirtyBlocks[byteIdx/b.blockSize] = true
}

// Clear marks bit i free.
func (b *Bitmap) Clear(i uint32) {
	byteIdx := i / 8
	bitIdx := i % 8
	b.bits[byteIdx] &^= 1 << bitIdx
	b.dirtyBlocks[byteIdx/b.blockSize] = true
}

// FindFree scans forward from max(from, searchFloor) and returns the
// first free index, or -1 if the region is exhausted.
func (b *Bitmap) FindFree(from uint32) int64 {
	if from < b.searchFloor {
		from = b.searchFloor
	}
	for i := from; i < b.totalItems; i++ {
		if !b.IsSet(i) {
			return int64(i)
		}
	}
	return -1
}

// Flush stages every dirty underlying block into tx. Outside a
// transaction (tx == nil) it writes straight to the device, which is
// used only by the image maker building a fresh image.
func (b *Bitmap) Flush(tx *Transaction, dev *BlockDevice) error {
	for blkIdx := range b.dirtyBlocks {
		addr := b.startBlock + blkIdx
		data := make([]byte, b.blockSize)
		copy(data, b.bits[blkIdx*b.blockSize:(blkIdx+1)*b.blockSize])
		if tx != nil {
			if err := tx.Write(addr, data, b.kind); err != nil {
				return err
			}
		} else if dev != nil {
			if err := dev.WriteBlock(addr, data); err != nil {
				return err
			}
		}
	}
	b.dirtyBlocks = make(map[uint32]bool)
	return nil
}
