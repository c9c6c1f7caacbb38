package waynefs

import "time"

const bytesPerMiB = 1 << 20

// ImageOptions parameterizes MakeImage's layout computation; the
// fields map one-to-one onto cmd/mkwaynefs's flags.
type ImageOptions struct {
	SizeMB      uint32
	BlockSize   uint32
	Inodes      uint32
	JournalSize uint32 // MiB
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// layout computes every region boundary for an image described by
// opts, resolving every region's start offset in a fixed order
// before writing a single byte.
func layout(opts ImageOptions) (*Superblock, error) {
	if opts.BlockSize == 0 || opts.SizeMB == 0 || opts.Inodes == 0 {
		return nil, newErr(Invalid, "mkimage", "")
	}
	totalBlocks := opts.SizeMB * bytesPerMiB / opts.BlockSize
	if totalBlocks == 0 {
		return nil, newErr(Invalid, "mkimage", "")
	}

	inodeBitmapStart := uint32(1)
	inodeBitmapBlocks := ceilDiv(ceilDiv(opts.Inodes, 8), opts.BlockSize)
	if inodeBitmapBlocks == 0 {
		inodeBitmapBlocks = 1
	}

	blockBitmapStart := inodeBitmapStart + inodeBitmapBlocks
	blockBitmapBlocks := ceilDiv(ceilDiv(totalBlocks, 8), opts.BlockSize)
	if blockBitmapBlocks == 0 {
		blockBitmapBlocks = 1
	}

	inodeTableStart := blockBitmapStart + blockBitmapBlocks
	inodeTableBlocks := ceilDiv(opts.Inodes*InodeSize, opts.BlockSize)

	journalAreaStart := inodeTableStart + inodeTableBlocks
	journalMB := opts.JournalSize
	if journalMB == 0 {
		journalMB = 1
	}
	journalAreaBlocks := ceilDiv(journalMB*bytesPerMiB, opts.BlockSize)
	if journalAreaBlocks < 2 {
		journalAreaBlocks = 2
	}

	dataStart := journalAreaStart + journalAreaBlocks
	if dataStart >= totalBlocks {
		return nil, newErr(NoSpace, "mkimage", "layout does not fit in requested size")
	}

	return &Superblock{
		BlockSize:         opts.BlockSize,
		TotalBlocks:       totalBlocks,
		InodeCount:        opts.Inodes,
		InodeBitmapStart:  inodeBitmapStart,
		InodeBitmapBlocks: inodeBitmapBlocks,
		BlockBitmapStart:  blockBitmapStart,
		BlockBitmapBlocks: blockBitmapBlocks,
		InodeTableStart:   inodeTableStart,
		InodeTableBlocks:  inodeTableBlocks,
		JournalAreaStart:  journalAreaStart,
		DataStart:         dataStart,
	}, nil
}

// MakeImage formats a fresh WayneFS image at path per opts: it lays
// out every region, writes the superblock, the root directory block
// and inode, marks the metadata and root-directory blocks used in
// the block bitmap, marks inode 0 used, and initializes an empty
// journal.
func MakeImage(path string, opts ImageOptions) error {
	sb, err := layout(opts)
	if err != nil {
		return err
	}

	dev, err := CreateBlockDevice(path, sb.BlockSize, int64(sb.TotalBlocks)*int64(sb.BlockSize))
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := sb.WriteTo(dev); err != nil {
		return err
	}

	packed, err := packDir([]DirEntry{{Ino: RootIno, Name: "."}, {Ino: RootIno, Name: ".."}})
	if err != nil {
		return err
	}
	rootDirBlock := make([]byte, sb.BlockSize)
	copy(rootDirBlock, packed)
	if err := dev.WriteBlock(sb.DataStart, rootDirBlock); err != nil {
		return err
	}

	now := uint64(0)
	if !disableImageTimestamps {
		now = uint64(time.Now().Unix())
	}
	root := &DiskInode{
		Mode:  S_IFDIR | 0755,
		Nlink: 2,
		Size:  uint64(len(packed)),
		Ctime: now,
		Mtime: now,
		Atime: now,
	}
	root.Direct[0] = sb.DataStart

	itable := newInodeTable(NewPageCache(dev), sb.InodeTableStart, sb.BlockSize)
	blk, off := itable.blockAndOffset(RootIno)
	itBlock, err := dev.ReadBlock(blk)
	if err != nil {
		return err
	}
	copy(itBlock[off:off+InodeSize], root.MarshalBinary())
	if err := dev.WriteBlock(blk, itBlock); err != nil {
		return err
	}

	inoBitmap, err := loadBitmap(dev, KindBitmapInode, sb.InodeBitmapStart, sb.InodeBitmapBlocks, sb.InodeCount, 1)
	if err != nil {
		return err
	}
	inoBitmap.Set(RootIno)
	if err := inoBitmap.Flush(nil, dev); err != nil {
		return err
	}

	blkBitmap, err := loadBitmap(dev, KindBitmapBlock, sb.BlockBitmapStart, sb.BlockBitmapBlocks, sb.TotalBlocks, sb.DataStart)
	if err != nil {
		return err
	}
	for b := uint32(0); b <= sb.DataStart; b++ {
		blkBitmap.Set(b)
	}
	if err := blkBitmap.Flush(nil, dev); err != nil {
		return err
	}

	if _, err := InitJournal(dev, sb.JournalAreaStart, journalBlocksFor(sb)); err != nil {
		return err
	}

	return dev.Fsync()
}

// journalBlocksFor recovers the journal area's block count from the
// superblock's own region boundaries (data_start is the first block
// after the journal area).
func journalBlocksFor(sb *Superblock) uint32 {
	return sb.DataStart - sb.JournalAreaStart
}

// disableImageTimestamps lets tests produce byte-identical images
// across runs by zeroing the root inode's times instead of stamping
// wall-clock time.
var disableImageTimestamps = false

// VerifyImage re-opens an image and walks the root directory,
// confirming the root inode and "."/".." entries are readable.
func VerifyImage(path string) error {
	fs, err := Mount(path)
	if err != nil {
		return err
	}
	defer fs.Unmount()

	root, err := fs.itable.Read(RootIno)
	if err != nil {
		return err
	}
	if !IsDir(root.Mode) {
		return newErr(Corrupt, "verify", "root is not a directory")
	}
	entries, err := fs.readDirEntries(root, nil)
	if err != nil {
		return err
	}
	var hasDot, hasDotDot bool
	for _, e := range entries {
		switch e.Name {
		case ".":
			hasDot = e.Ino == RootIno
		case "..":
			hasDotDot = e.Ino == RootIno
		}
	}
	if !hasDot || !hasDotDot {
		return newErr(Corrupt, "verify", "root directory missing . or ..")
	}
	return nil
}
