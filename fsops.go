package waynefs

import (
	"io/fs"
	"path"
	"time"
)

func nowUnix() uint64 { return uint64(time.Now().Unix()) }

// splitParent splits an absolute path into its containing directory
// and final component, POSIX-style regardless of host OS.
func splitParent(p string) (dir, name string) {
	return path.Dir(p), path.Base(p)
}

// finishTx commits tx when the operation succeeded. When it failed,
// the transaction is discarded instead — a failed operation must never
// log its partial writes — and both allocators are re-read from
// the device, dropping whatever bitmap bits the failed operation set
// in memory.
func (fs *Filesystem) finishTx(tx *Transaction, opErr error) error {
	if opErr == nil {
		return tx.Close()
	}
	tx.Discard()
	if b, err := loadBitmap(fs.dev, KindBitmapInode, fs.sb.InodeBitmapStart, fs.sb.InodeBitmapBlocks, fs.sb.InodeCount, 1); err == nil {
		fs.inoBitmap = b
	}
	if b, err := loadBitmap(fs.dev, KindBitmapBlock, fs.sb.BlockBitmapStart, fs.sb.BlockBitmapBlocks, fs.sb.TotalBlocks, fs.sb.DataStart); err == nil {
		fs.blkBitmap = b
	}
	return opErr
}

// findEntry scans dirInode's entries for name.
func (fs *Filesystem) findEntry(dirInode *DiskInode, name string) (uint32, bool, error) {
	entries, err := fs.readDirEntries(dirInode, nil)
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Ino, true, nil
		}
	}
	return 0, false, nil
}

// Stat is the accessor handed back by Stat/Getattr, a host-facing
// view of a DiskInode's fields.
type Stat struct {
	Ino   uint32
	Mode  uint32
	Nlink uint32
	Size  uint64
	Ctime uint64
	Mtime uint64
	Atime uint64
}

// FileMode returns st.Mode translated to an io/fs.FileMode, for
// callers (cmd/waynefs) that want an ls-style mode string rather than
// a bare POSIX mode word.
func (st Stat) FileMode() fs.FileMode { return UnixToMode(st.Mode) }

// Stat resolves path and returns its attributes.
func (fs *Filesystem) Stat(p string) (Stat, error) {
	ino, err := fs.resolver.Lookup(p)
	if err != nil {
		return Stat{}, err
	}
	return fs.Getattr(ino)
}

// Getattr returns the attributes of an already-resolved inode, for
// callers (the mount adapter) that hold an inode number rather than a
// path.
func (fs *Filesystem) Getattr(ino uint32) (Stat, error) {
	inode, err := fs.itable.Read(ino)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Ino:   ino,
		Mode:  inode.Mode,
		Nlink: inode.Nlink,
		Size:  inode.Size,
		Ctime: inode.Ctime,
		Mtime: inode.Mtime,
		Atime: inode.Atime,
	}, nil
}

// ReadDir lists the entries of the directory named by path.
func (fs *Filesystem) ReadDir(p string) ([]DirEntry, error) {
	ino, err := fs.resolver.Lookup(p)
	if err != nil {
		return nil, err
	}
	inode, err := fs.itable.Read(ino)
	if err != nil {
		return nil, err
	}
	if !IsDir(inode.Mode) {
		return nil, newErr(NotDir, "readdir", p)
	}
	return fs.readDirEntries(inode, nil)
}

// Create allocates an inode for a new regular file named by path and
// returns an open handle to it.
func (fs *Filesystem) Create(p string, perm uint32) (h Handle, err error) {
	dir, name := splitParent(p)
	parentIno, err := fs.resolver.Lookup(dir)
	if err != nil {
		return 0, err
	}
	parent, err := fs.itable.Read(parentIno)
	if err != nil {
		return 0, err
	}
	if !IsDir(parent.Mode) {
		return 0, newErr(NotDir, "create", p)
	}
	if _, ok, err := fs.findEntry(parent, name); err != nil {
		return 0, err
	} else if ok {
		return 0, newErr(Exists, "create", p)
	}

	idx := fs.inoBitmap.FindFree(0)
	if idx < 0 {
		return 0, newErr(NoSpace, "create", p)
	}
	ino := uint32(idx)

	now := nowUnix()
	child := &DiskInode{Mode: S_IFREG | (perm & 0777), Nlink: 1, Ctime: now, Mtime: now, Atime: now}

	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	fs.inoBitmap.Set(ino)
	if err := fs.inoBitmap.Flush(tx, nil); err != nil {
		return 0, err
	}
	if err := fs.itable.Write(ino, child, tx); err != nil {
		return 0, err
	}

	if err := fs.addDirEntry(parent, name, ino, tx); err != nil {
		return 0, err
	}
	parent.Mtime = now
	parent.Ctime = now
	if err := fs.itable.Write(parentIno, parent, tx); err != nil {
		return 0, err
	}

	fs.resolver.Invalidate(p)
	return fs.handles.open(ino, OFlagRead|OFlagWrite), nil
}

// Mkdir creates a new directory, allocating its single data block
// with the conventional "." / ".." entries.
func (fs *Filesystem) Mkdir(p string, perm uint32) (err error) {
	dir, name := splitParent(p)
	parentIno, err := fs.resolver.Lookup(dir)
	if err != nil {
		return err
	}
	parent, err := fs.itable.Read(parentIno)
	if err != nil {
		return err
	}
	if !IsDir(parent.Mode) {
		return newErr(NotDir, "mkdir", p)
	}
	if _, ok, err := fs.findEntry(parent, name); err != nil {
		return err
	} else if ok {
		return newErr(Exists, "mkdir", p)
	}

	idx := fs.inoBitmap.FindFree(0)
	if idx < 0 {
		return newErr(NoSpace, "mkdir", p)
	}
	ino := uint32(idx)

	now := nowUnix()
	child := &DiskInode{Mode: S_IFDIR | (perm & 0777), Nlink: 2, Ctime: now, Mtime: now, Atime: now}

	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	fs.inoBitmap.Set(ino)
	if err := fs.inoBitmap.Flush(tx, nil); err != nil {
		return err
	}
	if err := fs.writeDirEntries(child, []DirEntry{{Ino: ino, Name: "."}, {Ino: parentIno, Name: ".."}}, tx); err != nil {
		return err
	}
	if err := fs.itable.Write(ino, child, tx); err != nil {
		return err
	}

	if err := fs.addDirEntry(parent, name, ino, tx); err != nil {
		return err
	}
	parent.Nlink++
	parent.Mtime = now
	parent.Ctime = now
	if err := fs.itable.Write(parentIno, parent, tx); err != nil {
		return err
	}

	fs.resolver.Invalidate(p)
	return nil
}

// Rmdir removes an empty, non-root directory.
func (fs *Filesystem) Rmdir(p string) (err error) {
	dir, name := splitParent(p)
	if name == "/" {
		return newErr(Perm, "rmdir", p)
	}
	parentIno, err := fs.resolver.Lookup(dir)
	if err != nil {
		return err
	}
	parent, err := fs.itable.Read(parentIno)
	if err != nil {
		return err
	}

	childIno, ok, err := fs.findEntry(parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return newErr(NotFound, "rmdir", p)
	}
	if childIno == RootIno {
		return newErr(Perm, "rmdir", p)
	}

	child, err := fs.itable.Read(childIno)
	if err != nil {
		return err
	}
	if !IsDir(child.Mode) {
		return newErr(NotDir, "rmdir", p)
	}

	entries, err := fs.readDirEntries(child, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name != "." && e.Name != ".." {
			return newErr(NotEmpty, "rmdir", p)
		}
	}

	now := nowUnix()
	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	if child.Direct[0] != 0 {
		if err := fs.freeBlock(child.Direct[0], tx); err != nil {
			return err
		}
	}
	fs.inoBitmap.Clear(childIno)
	if err := fs.inoBitmap.Flush(tx, nil); err != nil {
		return err
	}
	if err := fs.itable.Write(childIno, &DiskInode{}, tx); err != nil {
		return err
	}

	if err := fs.removeDirEntry(parent, name, tx); err != nil {
		return err
	}
	parent.Nlink--
	parent.Mtime = now
	parent.Ctime = now
	if err := fs.itable.Write(parentIno, parent, tx); err != nil {
		return err
	}

	fs.resolver.Invalidate(p)
	return nil
}

// Unlink removes a non-directory entry, freeing its inode and blocks
// once its link count reaches zero.
func (fs *Filesystem) Unlink(p string) (err error) {
	dir, name := splitParent(p)
	parentIno, err := fs.resolver.Lookup(dir)
	if err != nil {
		return err
	}
	parent, err := fs.itable.Read(parentIno)
	if err != nil {
		return err
	}

	childIno, ok, err := fs.findEntry(parent, name)
	if err != nil {
		return err
	}
	if !ok {
		return newErr(NotFound, "unlink", p)
	}

	child, err := fs.itable.Read(childIno)
	if err != nil {
		return err
	}
	if IsDir(child.Mode) {
		return newErr(IsDirKind, "unlink", p)
	}

	now := nowUnix()
	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	if err := fs.removeDirEntry(parent, name, tx); err != nil {
		return err
	}
	parent.Mtime = now
	parent.Ctime = now
	if err := fs.itable.Write(parentIno, parent, tx); err != nil {
		return err
	}

	child.Nlink--
	if child.Nlink == 0 {
		if err := fs.freeAllBlocks(child, tx); err != nil {
			return err
		}
		fs.inoBitmap.Clear(childIno)
		if err := fs.inoBitmap.Flush(tx, nil); err != nil {
			return err
		}
		child = &DiskInode{}
	}
	if err := fs.itable.Write(childIno, child, tx); err != nil {
		return err
	}

	fs.resolver.Invalidate(p)
	return nil
}

// Rename moves oldPath to newPath, replacing an existing destination
// first. Replacing the destination runs as its own transaction via
// Rmdir/Unlink; the move itself is a second, independent transaction.
func (fs *Filesystem) Rename(oldPath, newPath string) (err error) {
	oldDir, oldName := splitParent(oldPath)
	newDir, newName := splitParent(newPath)

	oldParentIno, err := fs.resolver.Lookup(oldDir)
	if err != nil {
		return err
	}
	oldParent, err := fs.itable.Read(oldParentIno)
	if err != nil {
		return err
	}
	srcIno, ok, err := fs.findEntry(oldParent, oldName)
	if err != nil {
		return err
	}
	if !ok {
		return newErr(NotFound, "rename", oldPath)
	}

	newParentIno, err := fs.resolver.Lookup(newDir)
	if err != nil {
		return err
	}
	newParent, err := fs.itable.Read(newParentIno)
	if err != nil {
		return err
	}
	if !IsDir(newParent.Mode) {
		return newErr(NotDir, "rename", newPath)
	}

	if dstIno, ok, err := fs.findEntry(newParent, newName); err != nil {
		return err
	} else if ok {
		dst, err := fs.itable.Read(dstIno)
		if err != nil {
			return err
		}
		if IsDir(dst.Mode) {
			if err := fs.Rmdir(newPath); err != nil {
				return err
			}
		} else {
			if err := fs.Unlink(newPath); err != nil {
				return err
			}
		}
		newParent, err = fs.itable.Read(newParentIno)
		if err != nil {
			return err
		}
	}

	src, err := fs.itable.Read(srcIno)
	if err != nil {
		return err
	}

	now := nowUnix()
	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	if err := fs.removeDirEntry(oldParent, oldName, tx); err != nil {
		return err
	}
	oldParent.Mtime = now
	oldParent.Ctime = now

	if err := fs.addDirEntry(newParent, newName, srcIno, tx); err != nil {
		return err
	}
	newParent.Mtime = now
	newParent.Ctime = now

	movingDir := IsDir(src.Mode) && oldParentIno != newParentIno
	if movingDir {
		entries, err := fs.readDirEntries(src, tx)
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].Name == ".." {
				entries[i].Ino = newParentIno
			}
		}
		if err := fs.writeDirEntries(src, entries, tx); err != nil {
			return err
		}
		if err := fs.itable.Write(srcIno, src, tx); err != nil {
			return err
		}
		oldParent.Nlink--
		newParent.Nlink++
	}

	if err := fs.itable.Write(oldParentIno, oldParent, tx); err != nil {
		return err
	}
	if err := fs.itable.Write(newParentIno, newParent, tx); err != nil {
		return err
	}

	fs.resolver.Invalidate(oldPath)
	fs.resolver.Invalidate(newPath)
	return nil
}

// Link adds a second name for an existing non-directory inode,
// bumping its link count.
func (fs *Filesystem) Link(newPath, existingPath string) (err error) {
	existingIno, err := fs.resolver.Lookup(existingPath)
	if err != nil {
		return err
	}
	existing, err := fs.itable.Read(existingIno)
	if err != nil {
		return err
	}
	if IsDir(existing.Mode) {
		return newErr(Perm, "link", newPath)
	}

	dir, name := splitParent(newPath)
	parentIno, err := fs.resolver.Lookup(dir)
	if err != nil {
		return err
	}
	parent, err := fs.itable.Read(parentIno)
	if err != nil {
		return err
	}
	if !IsDir(parent.Mode) {
		return newErr(NotDir, "link", newPath)
	}
	if _, ok, err := fs.findEntry(parent, name); err != nil {
		return err
	} else if ok {
		return newErr(Exists, "link", newPath)
	}

	now := nowUnix()
	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	if err := fs.addDirEntry(parent, name, existingIno, tx); err != nil {
		return err
	}
	parent.Mtime = now
	parent.Ctime = now
	if err := fs.itable.Write(parentIno, parent, tx); err != nil {
		return err
	}

	existing.Nlink++
	existing.Ctime = now
	if err := fs.itable.Write(existingIno, existing, tx); err != nil {
		return err
	}

	fs.resolver.Invalidate(newPath)
	return nil
}

// Symlink creates a symbolic link, storing its target inline when it
// fits in 48 bytes and otherwise through ordinary data blocks.
func (fs *Filesystem) Symlink(newPath, target string) (err error) {
	dir, name := splitParent(newPath)
	parentIno, err := fs.resolver.Lookup(dir)
	if err != nil {
		return err
	}
	parent, err := fs.itable.Read(parentIno)
	if err != nil {
		return err
	}
	if !IsDir(parent.Mode) {
		return newErr(NotDir, "symlink", newPath)
	}
	if _, ok, err := fs.findEntry(parent, name); err != nil {
		return err
	} else if ok {
		return newErr(Exists, "symlink", newPath)
	}

	idx := fs.inoBitmap.FindFree(0)
	if idx < 0 {
		return newErr(NoSpace, "symlink", newPath)
	}
	ino := uint32(idx)

	now := nowUnix()
	link := &DiskInode{Mode: S_IFLNK | 0o777, Nlink: 1, Ctime: now, Mtime: now, Atime: now}

	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	if err := fs.writeSymlinkTarget(link, target, tx); err != nil {
		return err
	}

	fs.inoBitmap.Set(ino)
	if err := fs.inoBitmap.Flush(tx, nil); err != nil {
		return err
	}
	if err := fs.itable.Write(ino, link, tx); err != nil {
		return err
	}

	if err := fs.addDirEntry(parent, name, ino, tx); err != nil {
		return err
	}
	parent.Mtime = now
	parent.Ctime = now
	if err := fs.itable.Write(parentIno, parent, tx); err != nil {
		return err
	}

	fs.resolver.Invalidate(newPath)
	return nil
}

// Readlink returns the target stored in the symlink named by path.
func (fs *Filesystem) Readlink(p string) (string, error) {
	ino, err := fs.resolver.Lookup(p)
	if err != nil {
		return "", err
	}
	inode, err := fs.itable.Read(ino)
	if err != nil {
		return "", err
	}
	if !IsSymlink(inode.Mode) {
		return "", newErr(Invalid, "readlink", p)
	}
	return fs.readSymlinkTarget(inode)
}

// Chmod updates an inode's permission bits and bumps ctime.
func (fs *Filesystem) Chmod(p string, perm uint32) (err error) {
	ino, err := fs.resolver.Lookup(p)
	if err != nil {
		return err
	}
	inode, err := fs.itable.Read(ino)
	if err != nil {
		return err
	}

	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	inode.Mode = (inode.Mode &^ 0777) | (perm & 0777)
	inode.Ctime = nowUnix()
	return fs.itable.Write(ino, inode, tx)
}

// Utimens sets an inode's access and modification times and bumps
// ctime.
func (fs *Filesystem) Utimens(p string, atime, mtime uint64) (err error) {
	ino, err := fs.resolver.Lookup(p)
	if err != nil {
		return err
	}
	inode, err := fs.itable.Read(ino)
	if err != nil {
		return err
	}

	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	inode.Atime = atime
	inode.Mtime = mtime
	inode.Ctime = nowUnix()
	return fs.itable.Write(ino, inode, tx)
}

// Open resolves path to a regular file and returns a handle for
// subsequent Read/Write calls, truncating first if OFlagTrunc is set.
func (fs *Filesystem) Open(p string, flags OpenFlags) (Handle, error) {
	ino, err := fs.resolver.Lookup(p)
	if err != nil {
		return 0, err
	}
	inode, err := fs.itable.Read(ino)
	if err != nil {
		return 0, err
	}
	if IsDir(inode.Mode) {
		return 0, newErr(IsDirKind, "open", p)
	}
	if flags&OFlagTrunc != 0 {
		if err := fs.Truncate(ino, 0); err != nil {
			return 0, err
		}
	}
	return fs.handles.open(ino, flags), nil
}

// Close releases an open handle. Reusing it afterward fails with
// BadHandle.
func (fs *Filesystem) Close(h Handle) error {
	if !fs.handles.release(h) {
		return newErr(BadHandle, "close", "")
	}
	return nil
}

// Write writes data at offset through h, bounds-checking against the
// maximum addressable block index before allocating anything.
func (fs *Filesystem) Write(h Handle, data []byte, offset uint64) (n int, err error) {
	of, ok := fs.handles.lookup(h)
	if !ok {
		return 0, newErr(BadHandle, "write", "")
	}
	if of.flags&OFlagWrite == 0 {
		return 0, newErr(Perm, "write", "")
	}
	if len(data) == 0 {
		return 0, nil
	}

	inode, err := fs.itable.Read(of.ino)
	if err != nil {
		return 0, err
	}

	maxBlocks := maxLogicalBlocks(fs.sb.BlockSize)
	lastLogIdx := (offset + uint64(len(data)) - 1) / uint64(fs.sb.BlockSize)
	if lastLogIdx >= maxBlocks {
		return 0, newErr(TooBig, "write", "")
	}

	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	if err := fs.writeFileData(inode, offset, data, tx); err != nil {
		return 0, err
	}
	inode.Mtime = nowUnix()
	if err := fs.itable.Write(of.ino, inode, tx); err != nil {
		return 0, err
	}

	of.offset = offset + uint64(len(data))
	return len(data), nil
}

// Read reads up to size bytes at offset through h, bumping atime.
func (fs *Filesystem) Read(h Handle, size, offset uint64) (data []byte, err error) {
	of, ok := fs.handles.lookup(h)
	if !ok {
		return nil, newErr(BadHandle, "read", "")
	}
	if of.flags&OFlagRead == 0 {
		return nil, newErr(Perm, "read", "")
	}

	inode, err := fs.itable.Read(of.ino)
	if err != nil {
		return nil, err
	}

	data, err = fs.readFileData(inode, offset, size)
	if err != nil {
		return nil, err
	}

	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	inode.Atime = nowUnix()
	if err := fs.itable.Write(of.ino, inode, tx); err != nil {
		return nil, err
	}

	of.offset = offset + uint64(len(data))
	return data, nil
}

// Truncate resizes ino to newLen. Extending allocates zero-filled
// blocks (and whatever index blocks the new extent needs)
// up to the new length; shrinking frees every block and index block
// strictly beyond the kept extent and zeroes the tail of the last kept
// block so a later extend reads back zeros.
func (fs *Filesystem) Truncate(ino uint32, newLen uint64) (err error) {
	inode, err := fs.itable.Read(ino)
	if err != nil {
		return err
	}

	bs := uint64(fs.sb.BlockSize)
	tx := fs.journal.Begin()
	defer func() { err = fs.finishTx(tx, err) }()

	switch {
	case newLen < inode.Size:
		var keepBlocks uint64
		if newLen > 0 {
			keepBlocks = (newLen + bs - 1) / bs
		}
		if err := fs.freeBlocksFrom(inode, keepBlocks, tx); err != nil {
			return err
		}
		if rem := newLen % bs; rem != 0 {
			addr, err := fs.getAddr(inode, newLen/bs)
			if err != nil {
				return err
			}
			if addr != 0 {
				block, err := fs.cache.Get(addr)
				if err != nil {
					return err
				}
				for i := rem; i < bs; i++ {
					block[i] = 0
				}
				fs.cache.MarkDirty(addr, block)
				tx.OrderedData(addr)
			}
		}
	case newLen > inode.Size:
		for i := uint64(0); i*bs < newLen; i++ {
			if _, err := fs.getOrAlloc(inode, i, tx); err != nil {
				return err
			}
		}
	}
	inode.Size = newLen
	inode.Mtime = nowUnix()
	return fs.itable.Write(ino, inode, tx)
}
