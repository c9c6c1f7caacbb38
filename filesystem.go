package waynefs

import (
	"github.com/google/uuid"
)

// RootIno is the inode number of the filesystem root, always
// allocated.
const RootIno = 0

// maxInlineSymlink is the largest symlink target stored packed into
// an inode's Direct[] array instead of spilled to data blocks.
const maxInlineSymlink = directSlots * 4

// Filesystem is the mount-wide dispatcher: it owns every subsystem
// for the lifetime of one mount, from Mount to Unmount.
type Filesystem struct {
	dev       *BlockDevice
	cache     *PageCache
	sb        *Superblock
	inoBitmap *Bitmap
	blkBitmap *Bitmap
	itable    *InodeTable
	journal   *Journal
	resolver  *Resolver
	handles   *handleTable
	mountID   string
}

// Mount opens imagePath, validates its superblock, recovers the
// journal, and returns a ready Filesystem. Recovery always
// runs before any operation.
func Mount(imagePath string, opts ...Option) (*Filesystem, error) {
	dev, err := OpenBlockDevice(imagePath, 4096)
	if err != nil {
		return nil, err
	}
	sb, err := LoadSuperblock(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	dev.blockSize = sb.BlockSize

	cache := NewPageCache(dev)
	itable := newInodeTable(cache, sb.InodeTableStart, sb.BlockSize)

	journal, err := OpenJournal(dev, cache, sb.JournalAreaStart)
	if err != nil {
		dev.Close()
		return nil, err
	}
	if err := journal.Recover(); err != nil {
		dev.Close()
		return nil, err
	}

	// Bitmaps snapshot the on-disk state eagerly, so they must load
	// after recovery has replayed any committed bitmap updates.
	inoBitmap, err := loadBitmap(dev, KindBitmapInode, sb.InodeBitmapStart, sb.InodeBitmapBlocks, sb.InodeCount, 1)
	if err != nil {
		dev.Close()
		return nil, err
	}
	blkBitmap, err := loadBitmap(dev, KindBitmapBlock, sb.BlockBitmapStart, sb.BlockBitmapBlocks, sb.TotalBlocks, sb.DataStart)
	if err != nil {
		dev.Close()
		return nil, err
	}

	fs := &Filesystem{
		dev:       dev,
		cache:     cache,
		sb:        sb,
		inoBitmap: inoBitmap,
		blkBitmap: blkBitmap,
		itable:    itable,
		journal:   journal,
		handles:   newHandleTable(),
		mountID:   uuid.NewString(),
	}
	fs.resolver = newResolver(fs)

	for _, opt := range opts {
		if err := opt(fs); err != nil {
			dev.Close()
			return nil, err
		}
	}

	return fs, nil
}

// Unmount flushes and closes the backing device. No operation may run
// on fs after this returns.
func (fs *Filesystem) Unmount() error {
	if err := fs.dev.Fsync(); err != nil {
		fs.dev.Close()
		return err
	}
	return fs.dev.Close()
}

// BlockSize returns the mounted filesystem's block size.
func (fs *Filesystem) BlockSize() uint32 { return fs.sb.BlockSize }

// MountID returns the random identifier stamped at mount time, used
// only in log lines to tell mounts of the same image apart.
func (fs *Filesystem) MountID() string { return fs.mountID }

// Handles returns a snapshot of the open-file table.
func (fs *Filesystem) Handles() []HandleInfo { return fs.handles.snapshot() }
