package waynefs

// FsckReport is the result of a read-only allocator-consistency walk
// (cmd/waynefs fsck).
type FsckReport struct {
	InodesChecked  int
	BlocksChecked  int
	OrphanedInodes []uint32 // bitmap marks used, nothing in the tree references it
	OrphanedBlocks []uint32
	UnmarkedInodes []uint32 // referenced by the tree but bitmap marks free
	UnmarkedBlocks []uint32
}

func (r *FsckReport) Clean() bool {
	return len(r.OrphanedInodes) == 0 && len(r.OrphanedBlocks) == 0 &&
		len(r.UnmarkedInodes) == 0 && len(r.UnmarkedBlocks) == 0
}

// Fsck walks the directory tree from the root, collecting every
// inode and block it reaches, and cross-checks that set against the
// inode and block bitmaps. It never mutates the image.
func (fs *Filesystem) Fsck() (*FsckReport, error) {
	visitedInodes := map[uint32]bool{}
	visitedBlocks := map[uint32]bool{}

	if err := fs.fsckWalk(RootIno, visitedInodes, visitedBlocks); err != nil {
		return nil, err
	}

	report := &FsckReport{InodesChecked: len(visitedInodes), BlocksChecked: len(visitedBlocks)}

	for i := uint32(0); i < fs.sb.InodeCount; i++ {
		allocated := fs.inoBitmap.IsSet(i)
		referenced := visitedInodes[i]
		switch {
		case allocated && !referenced:
			report.OrphanedInodes = append(report.OrphanedInodes, i)
		case referenced && !allocated:
			report.UnmarkedInodes = append(report.UnmarkedInodes, i)
		}
	}

	for b := fs.sb.DataStart; b < fs.sb.TotalBlocks; b++ {
		allocated := fs.blkBitmap.IsSet(b)
		referenced := visitedBlocks[b]
		switch {
		case allocated && !referenced:
			report.OrphanedBlocks = append(report.OrphanedBlocks, b)
		case referenced && !allocated:
			report.UnmarkedBlocks = append(report.UnmarkedBlocks, b)
		}
	}

	return report, nil
}

func (fs *Filesystem) fsckWalk(ino uint32, visitedInodes, visitedBlocks map[uint32]bool) error {
	if visitedInodes[ino] {
		return nil
	}
	visitedInodes[ino] = true

	inode, err := fs.itable.Read(ino)
	if err != nil {
		return err
	}
	if err := fs.fsckWalkBlocks(inode, visitedBlocks); err != nil {
		return err
	}

	if !IsDir(inode.Mode) {
		return nil
	}
	entries, err := fs.readDirEntries(inode, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if err := fs.fsckWalk(e.Ino, visitedInodes, visitedBlocks); err != nil {
			return err
		}
	}
	return nil
}

// fsckWalkBlocks marks every physical block (data leaves and the
// index blocks that address them) reachable from inode.
func (fs *Filesystem) fsckWalkBlocks(inode *DiskInode, visited map[uint32]bool) error {
	if IsSymlink(inode.Mode) && int(inode.Size) <= maxInlineSymlink {
		return nil // target lives inline in Direct[], not as block pointers
	}

	bs := uint64(fs.sb.BlockSize)
	ppb := uint64(pointersPerBlock(fs.sb.BlockSize))

	blocksUsed := uint64(0)
	if IsDir(inode.Mode) {
		blocksUsed = 1
	} else if inode.Size > 0 {
		blocksUsed = (inode.Size + bs - 1) / bs
	}

	for i := uint64(0); i < NumDirect && i < blocksUsed; i++ {
		if inode.Direct[i] != 0 {
			visited[inode.Direct[i]] = true
		}
	}

	if indAddr := inode.Direct[IndirectIdx]; indAddr != 0 && blocksUsed > NumDirect {
		visited[indAddr] = true
		data, err := fs.cache.Get(indAddr)
		if err != nil {
			return err
		}
		for slot := uint64(0); slot < ppb && NumDirect+slot < blocksUsed; slot++ {
			if p := readPtr(data, slot); p != 0 {
				visited[p] = true
			}
		}
	}

	base := NumDirect + ppb
	if dblAddr := inode.Direct[DoubleIndirectIdx]; dblAddr != 0 && blocksUsed > base {
		visited[dblAddr] = true
		l1data, err := fs.cache.Get(dblAddr)
		if err != nil {
			return err
		}
		for l1 := uint64(0); l1 < ppb; l1++ {
			if base+l1*ppb >= blocksUsed {
				break
			}
			l1Addr := readPtr(l1data, l1)
			if l1Addr == 0 {
				continue
			}
			visited[l1Addr] = true
			l2data, err := fs.cache.Get(l1Addr)
			if err != nil {
				return err
			}
			for slot := uint64(0); slot < ppb && base+l1*ppb+slot < blocksUsed; slot++ {
				if p := readPtr(l2data, slot); p != 0 {
					visited[p] = true
				}
			}
		}
	}

	return nil
}
