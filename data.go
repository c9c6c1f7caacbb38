package waynefs

import "encoding/binary"

// Directories occupy exactly one data block, addressed through
// Direct[0] like any other inode's first block.

// readDirEntries returns dirIno's entries, or nil if it has no data
// block allocated yet (shouldn't happen for a live directory). When tx
// is non-nil the read goes through the transaction's staging map, so
// an entry removed earlier in the same transaction stays removed for a
// later add (rename within one directory needs this).
func (fs *Filesystem) readDirEntries(dirInode *DiskInode, tx *Transaction) ([]DirEntry, error) {
	if dirInode.Direct[0] == 0 {
		return nil, nil
	}
	var data []byte
	var err error
	if tx != nil {
		data, err = tx.StageRead(dirInode.Direct[0])
	} else {
		data, err = fs.cache.Get(dirInode.Direct[0])
	}
	if err != nil {
		return nil, err
	}
	return unpackDir(data)
}

// writeDirEntries packs entries and stages them into dirInode's data
// block, allocating the block on first use. The caller persists
// dirInode afterward.
func (fs *Filesystem) writeDirEntries(dirInode *DiskInode, entries []DirEntry, tx *Transaction) error {
	if !dirFitsInBlock(entries, fs.sb.BlockSize) {
		return newErr(NoSpace, "directory", "")
	}
	if dirInode.Direct[0] == 0 {
		addr, err := fs.allocBlock(tx)
		if err != nil {
			return err
		}
		dirInode.Direct[0] = addr
	}
	packed, err := packDir(entries)
	if err != nil {
		return err
	}
	block := make([]byte, fs.sb.BlockSize)
	copy(block, packed)
	if err := tx.Write(dirInode.Direct[0], block, KindDirectory); err != nil {
		return err
	}
	dirInode.Size = uint64(len(packed))
	return nil
}

// addDirEntry appends (childIno, name) to dirInode's entry list.
func (fs *Filesystem) addDirEntry(dirInode *DiskInode, name string, childIno uint32, tx *Transaction) error {
	entries, err := fs.readDirEntries(dirInode, tx)
	if err != nil {
		return err
	}
	entries = append(entries, DirEntry{Ino: childIno, Name: name})
	return fs.writeDirEntries(dirInode, entries, tx)
}

// removeDirEntry drops the entry named name from dirInode.
func (fs *Filesystem) removeDirEntry(dirInode *DiskInode, name string, tx *Transaction) error {
	entries, err := fs.readDirEntries(dirInode, tx)
	if err != nil {
		return err
	}
	out := entries[:0:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return fs.writeDirEntries(dirInode, out, tx)
}

// readSymlinkTarget decodes a symlink inode's stored target, inline
// from Direct[] when Size <= maxInlineSymlink, otherwise from its
// data blocks.
func (fs *Filesystem) readSymlinkTarget(inode *DiskInode) (string, error) {
	if int(inode.Size) <= maxInlineSymlink {
		buf := make([]byte, maxInlineSymlink)
		for i, d := range inode.Direct {
			binary.LittleEndian.PutUint32(buf[i*4:], d)
		}
		return string(buf[:inode.Size]), nil
	}
	data, err := fs.readFileData(inode, 0, inode.Size)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeSymlinkTarget stores target into a freshly allocated symlink
// inode, inline when it fits, else through normal data blocks.
func (fs *Filesystem) writeSymlinkTarget(inode *DiskInode, target string, tx *Transaction) error {
	if len(target) <= maxInlineSymlink {
		var buf [directSlots * 4]byte
		copy(buf[:], target)
		for i := range inode.Direct {
			inode.Direct[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		inode.Size = uint64(len(target))
		return nil
	}
	return fs.writeFileData(inode, 0, []byte(target), tx)
}

// readFileData reads up to size bytes starting at offset, clamped to
// the inode's recorded size, zero-filling holes.
func (fs *Filesystem) readFileData(inode *DiskInode, offset, size uint64) ([]byte, error) {
	if offset >= inode.Size {
		return nil, nil
	}
	if offset+size > inode.Size {
		size = inode.Size - offset
	}
	bs := uint64(fs.sb.BlockSize)
	out := make([]byte, 0, size)
	for remaining := size; remaining > 0; {
		logIdx := offset / bs
		inBlock := offset % bs
		n := bs - inBlock
		if n > remaining {
			n = remaining
		}
		addr, err := fs.getAddr(inode, logIdx)
		if err != nil {
			return nil, err
		}
		if addr == 0 {
			out = append(out, make([]byte, n)...)
		} else {
			data, err := fs.cache.Get(addr)
			if err != nil {
				return nil, err
			}
			out = append(out, data[inBlock:inBlock+n]...)
		}
		offset += n
		remaining -= n
	}
	return out, nil
}

// writeFileData writes data at offset into inode, allocating blocks
// as needed, read-modify-writing partial blocks and bypassing the
// pre-read on full-block writes. It updates inode.Size
// but not Mtime; the caller bumps that alongside persisting the
// inode record.
func (fs *Filesystem) writeFileData(inode *DiskInode, offset uint64, data []byte, tx *Transaction) error {
	bs := uint64(fs.sb.BlockSize)
	pos := uint64(0)
	remaining := uint64(len(data))
	for remaining > 0 {
		logIdx := offset / bs
		inBlock := offset % bs
		n := bs - inBlock
		if n > remaining {
			n = remaining
		}

		addr, err := fs.getOrAlloc(inode, logIdx, tx)
		if err != nil {
			return err
		}

		var block []byte
		if n == bs {
			block = make([]byte, bs)
		} else {
			block, err = fs.cache.Get(addr)
			if err != nil {
				return err
			}
		}
		copy(block[inBlock:inBlock+n], data[pos:pos+n])
		fs.cache.MarkDirty(addr, block)
		tx.OrderedData(addr)

		offset += n
		pos += n
		remaining -= n
	}
	if offset > inode.Size {
		inode.Size = offset
	}
	return nil
}

// freeAllBlocks frees every block reachable from inode, including
// indirect and double-indirect index blocks themselves.
// An inline symlink's Direct[] holds packed target bytes, not block
// addresses, so there is nothing to free for one.
func (fs *Filesystem) freeAllBlocks(inode *DiskInode, tx *Transaction) error {
	if IsSymlink(inode.Mode) && int(inode.Size) <= maxInlineSymlink {
		return nil
	}
	return fs.freeBlocksFrom(inode, 0, tx)
}

// freeBlocksFrom frees every logical block at index >= startIdx,
// freeing an index block itself once every entry it holds is gone.
func (fs *Filesystem) freeBlocksFrom(inode *DiskInode, startIdx uint64, tx *Transaction) error {
	ppb := uint64(pointersPerBlock(fs.sb.BlockSize))

	for i := uint64(0); i < NumDirect; i++ {
		if i >= startIdx && inode.Direct[i] != 0 {
			if err := fs.freeBlock(inode.Direct[i], tx); err != nil {
				return err
			}
			inode.Direct[i] = 0
		}
	}

	if indAddr := inode.Direct[IndirectIdx]; indAddr != 0 {
		emptied, err := fs.freeIndexRange(indAddr, NumDirect, startIdx, ppb, tx)
		if err != nil {
			return err
		}
		if emptied {
			if err := fs.freeBlock(indAddr, tx); err != nil {
				return err
			}
			inode.Direct[IndirectIdx] = 0
		}
	}

	if dblAddr := inode.Direct[DoubleIndirectIdx]; dblAddr != 0 {
		base := NumDirect + ppb
		data, err := tx.StageRead(dblAddr)
		if err != nil {
			return err
		}
		changed := false
		allEmpty := true
		for l1 := uint64(0); l1 < ppb; l1++ {
			l1Addr := readPtr(data, l1)
			if l1Addr == 0 {
				continue
			}
			emptied, err := fs.freeIndexRange(l1Addr, base+l1*ppb, startIdx, ppb, tx)
			if err != nil {
				return err
			}
			if emptied {
				if err := fs.freeBlock(l1Addr, tx); err != nil {
					return err
				}
				writePtr(data, l1, 0)
				changed = true
			} else {
				allEmpty = false
			}
		}
		if changed {
			if err := tx.Write(dblAddr, data, KindIndirect); err != nil {
				return err
			}
		}
		if allEmpty {
			if err := fs.freeBlock(dblAddr, tx); err != nil {
				return err
			}
			inode.Direct[DoubleIndirectIdx] = 0
		}
	}

	return nil
}

// freeIndexRange frees every leaf in the index block at addr whose
// logical index (base+slot) is >= startIdx, reporting whether every
// slot in the block ended up empty (so the caller can free addr too).
func (fs *Filesystem) freeIndexRange(addr uint32, base, startIdx, ppb uint64, tx *Transaction) (bool, error) {
	data, err := tx.StageRead(addr)
	if err != nil {
		return false, err
	}
	changed := false
	allEmpty := true
	for slot := uint64(0); slot < ppb; slot++ {
		ptr := readPtr(data, slot)
		if ptr == 0 {
			continue
		}
		if base+slot >= startIdx {
			if err := fs.freeBlock(ptr, tx); err != nil {
				return false, err
			}
			writePtr(data, slot, 0)
			changed = true
		} else {
			allEmpty = false
		}
	}
	if changed {
		if err := tx.Write(addr, data, KindIndirect); err != nil {
			return false, err
		}
	}
	return allEmpty, nil
}
