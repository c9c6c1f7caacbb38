package waynefs

import (
	"bytes"
	"encoding/binary"
)

// InodeSize is the fixed on-disk size of one inode record.
const InodeSize = 128

// NumDirect is the number of direct block pointers in an inode.
const NumDirect = 10

// IndirectIdx and DoubleIndirectIdx are the positions within Direct[]
// that hold the single- and double-indirect block pointers.
const (
	IndirectIdx       = 10
	DoubleIndirectIdx = 11
	directSlots       = 12
)

// DiskInode is the 128-byte fixed inode record. Mode 0 means the
// slot is free, mirrored by the inode bitmap.
type DiskInode struct {
	Mode   uint32
	Nlink  uint32
	Size   uint64
	Ctime  uint64
	Mtime  uint64
	Atime  uint64
	Direct [directSlots]uint32
}

// MarshalBinary encodes the inode to its 128-byte on-disk form,
// reserved bytes zeroed.
func (i *DiskInode) MarshalBinary() []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, i.Mode)
	binary.Write(buf, binary.LittleEndian, i.Nlink)
	binary.Write(buf, binary.LittleEndian, i.Size)
	binary.Write(buf, binary.LittleEndian, i.Ctime)
	binary.Write(buf, binary.LittleEndian, i.Mtime)
	binary.Write(buf, binary.LittleEndian, i.Atime)
	for _, d := range i.Direct {
		binary.Write(buf, binary.LittleEndian, d)
	}
	out := make([]byte, InodeSize)
	copy(out, buf.Bytes())
	return out
}

// UnmarshalBinary decodes an inode from a 128-byte (or larger) slice.
func (i *DiskInode) UnmarshalBinary(data []byte) error {
	if len(data) < InodeSize {
		return newErr(Invalid, "inode decode", "")
	}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &i.Mode); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &i.Nlink); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &i.Size); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &i.Ctime); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &i.Mtime); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &i.Atime); err != nil {
		return err
	}
	for k := range i.Direct {
		if err := binary.Read(r, binary.LittleEndian, &i.Direct[k]); err != nil {
			return err
		}
	}
	return nil
}

// IsFree reports whether this inode slot is unallocated.
func (i *DiskInode) IsFree() bool { return i.Mode == 0 }

// InodeTable is the fixed-size array of inode records addressed by
// index.
type InodeTable struct {
	cache          *PageCache
	startBlock     uint32
	blockSize      uint32
	inodesPerBlock uint32
}

func newInodeTable(cache *PageCache, startBlock, blockSize uint32) *InodeTable {
	return &InodeTable{
		cache:          cache,
		startBlock:     startBlock,
		blockSize:      blockSize,
		inodesPerBlock: blockSize / InodeSize,
	}
}

func (t *InodeTable) blockAndOffset(ino uint32) (uint32, uint32) {
	blk := t.startBlock + ino/t.inodesPerBlock
	off := (ino % t.inodesPerBlock) * InodeSize
	return blk, off
}

// Read loads the inode record for index ino.
func (t *InodeTable) Read(ino uint32) (*DiskInode, error) {
	blk, off := t.blockAndOffset(ino)
	data, err := t.cache.Get(blk)
	if err != nil {
		return nil, err
	}
	rec := &DiskInode{}
	if err := rec.UnmarshalBinary(data[off : off+InodeSize]); err != nil {
		return nil, err
	}
	return rec, nil
}

// Write stores inode to index ino. When tx is non-nil, the write is
// staged as a read-modify-write of the containing block, so multiple
// inode updates to the same block within one transaction coalesce
// into a single log entry.
func (t *InodeTable) Write(ino uint32, inode *DiskInode, tx *Transaction) error {
	blk, off := t.blockAndOffset(ino)

	var data []byte
	var err error
	if tx != nil {
		data, err = tx.StageRead(blk)
	} else {
		data, err = t.cache.Get(blk)
	}
	if err != nil {
		return err
	}

	copy(data[off:off+InodeSize], inode.MarshalBinary())

	if tx != nil {
		return tx.Write(blk, data, KindInodeTable)
	}
	t.cache.Put(blk, data)
	return nil
}
