package waynefs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

const superblockMagic = "WAYNE_FS"

// Superblock is the static layout descriptor loaded from block 0.
// Every integer field is a little-endian u32; the field order below
// is bit-exact with the on-disk layout and must not change.
type Superblock struct {
	BlockSize         uint32
	TotalBlocks       uint32
	InodeCount        uint32
	InodeBitmapStart  uint32
	InodeBitmapBlocks uint32
	BlockBitmapStart  uint32
	BlockBitmapBlocks uint32
	InodeTableStart   uint32
	InodeTableBlocks  uint32
	JournalAreaStart  uint32
	DataStart         uint32
	Reserved          uint32
}

// superblockSize is magic (8 bytes) + 12 u32 fields.
const superblockSize = len(superblockMagic) + 12*4

// LoadSuperblock reads and validates the superblock from block 0 of dev.
func LoadSuperblock(dev *BlockDevice) (*Superblock, error) {
	buf := make([]byte, superblockSize)
	if err := dev.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	sb := &Superblock{}
	if err := sb.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return sb, nil
}

// MarshalBinary encodes the superblock to its bit-exact on-disk form,
// zero-padded to fill a block.
func (s *Superblock) MarshalBinary() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(superblockMagic)

	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Write(buf, binary.LittleEndian, v.Field(i).Interface()); err != nil {
			return nil, err
		}
	}

	out := make([]byte, s.blockSizeOrDefault())
	copy(out, buf.Bytes())
	return out, nil
}

// blockSizeOrDefault avoids padding to a zero-length block before
// BlockSize has been set (e.g. while building a fresh superblock).
func (s *Superblock) blockSizeOrDefault() uint32 {
	if s.BlockSize == 0 {
		return 4096
	}
	return s.BlockSize
}

// UnmarshalBinary decodes a superblock from data, which must be at
// least superblockSize bytes. It fails with Corrupt if the magic
// string is not present.
func (s *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < superblockSize {
		return newErr(Corrupt, "superblock", "")
	}
	if string(data[:len(superblockMagic)]) != superblockMagic {
		return newErr(Corrupt, "superblock", "")
	}

	r := bytes.NewReader(data[len(superblockMagic):])
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Read(r, binary.LittleEndian, v.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo writes the superblock to block 0 of dev.
func (s *Superblock) WriteTo(dev *BlockDevice) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	return dev.WriteBlock(0, data)
}

// maxLogicalBlocks returns the number of logical block indices
// addressable by an inode under this superblock's block size:
// 10 direct + one indirect level + one double-indirect level.
func maxLogicalBlocks(blockSize uint32) uint64 {
	p := uint64(blockSize / 4)
	return 10 + p + p*p
}

// pointersPerBlock is the number of u32 block pointers that fit in one
// block (B/4).
func pointersPerBlock(blockSize uint32) uint32 {
	return blockSize / 4
}
