//go:build fuse

package waynefs

import (
	"context"
	"log"
	"path"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// wayneNode adapts one resolved path in a Filesystem to go-fuse's
// InodeEmbedder. The FUSE glue stays behind the fuse build tag,
// apart from the format engine.
type wayneNode struct {
	fs.Inode
	fsys *Filesystem
	ino  uint32
	path string
}

var (
	_ fs.NodeGetattrer  = (*wayneNode)(nil)
	_ fs.NodeLookuper   = (*wayneNode)(nil)
	_ fs.NodeReaddirer  = (*wayneNode)(nil)
	_ fs.NodeOpener     = (*wayneNode)(nil)
	_ fs.NodeReader     = (*wayneNode)(nil)
	_ fs.NodeWriter     = (*wayneNode)(nil)
	_ fs.NodeCreater    = (*wayneNode)(nil)
	_ fs.NodeMkdirer    = (*wayneNode)(nil)
	_ fs.NodeUnlinker   = (*wayneNode)(nil)
	_ fs.NodeRmdirer    = (*wayneNode)(nil)
	_ fs.NodeRenamer    = (*wayneNode)(nil)
	_ fs.NodeSymlinker  = (*wayneNode)(nil)
	_ fs.NodeReadlinker = (*wayneNode)(nil)
	_ fs.NodeLinker     = (*wayneNode)(nil)
	_ fs.NodeSetattrer  = (*wayneNode)(nil)
)

// errToErrno maps a WayneFS error to the errno go-fuse expects back.
func errToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if e, ok := err.(*Error); ok {
		return e.Errno()
	}
	return syscall.EIO
}

func fuseModeFor(mode uint32) uint32 {
	switch {
	case IsDir(mode):
		return fuse.S_IFDIR
	case IsSymlink(mode):
		return fuse.S_IFLNK
	default:
		return fuse.S_IFREG
	}
}

func fillAttr(out *fuse.Attr, st Stat) {
	out.Ino = uint64(st.Ino)
	out.Size = st.Size
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Ctime = uint64(st.Ctime)
	out.Mtime = uint64(st.Mtime)
	out.Atime = uint64(st.Atime)
}

func (n *wayneNode) childPath(name string) string {
	return path.Join(n.path, name)
}

func (n *wayneNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := n.fsys.Getattr(n.ino)
	if err != nil {
		return errToErrno(err)
	}
	fillAttr(&out.Attr, st)
	return 0
}

func (n *wayneNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if mode, ok := in.GetMode(); ok {
		if err := n.fsys.Chmod(n.path, mode&0777); err != nil {
			return errToErrno(err)
		}
	}
	if size, ok := in.GetSize(); ok {
		if err := n.fsys.Truncate(n.ino, size); err != nil {
			return errToErrno(err)
		}
	}
	atime, haveA := in.GetATime()
	mtime, haveM := in.GetMTime()
	if haveA || haveM {
		st, err := n.fsys.Getattr(n.ino)
		if err != nil {
			return errToErrno(err)
		}
		a, m := st.Atime, st.Mtime
		if haveA {
			a = uint64(atime.Unix())
		}
		if haveM {
			m = uint64(mtime.Unix())
		}
		if err := n.fsys.Utimens(n.path, a, m); err != nil {
			return errToErrno(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *wayneNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.childPath(name)
	st, err := n.fsys.Stat(p)
	if err != nil {
		return nil, errToErrno(err)
	}
	fillAttr(&out.Attr, st)
	out.SetEntryTimeout(time.Second)
	out.SetAttrTimeout(time.Second)

	child := &wayneNode{fsys: n.fsys, ino: st.Ino, path: p}
	stable := fs.StableAttr{Mode: fuseModeFor(st.Mode), Ino: uint64(st.Ino)}
	return n.NewInode(ctx, child, stable), 0
}

func (n *wayneNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fsys.ReadDir(n.path)
	if err != nil {
		return nil, errToErrno(err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		st, err := n.fsys.Getattr(e.Ino)
		if err != nil {
			continue
		}
		list = append(list, fuse.DirEntry{Ino: uint64(e.Ino), Mode: fuseModeFor(st.Mode), Name: e.Name})
	}
	return fs.NewListDirStream(list), 0
}

// wayneFile wraps an open Handle as a go-fuse FileHandle.
type wayneFile struct {
	fsys *Filesystem
	h    Handle
}

func (f *wayneFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.fsys.Read(f.h, uint64(len(dest)), uint64(off))
	if err != nil {
		return nil, errToErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (f *wayneFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.fsys.Write(f.h, data, uint64(off))
	if err != nil {
		return 0, errToErrno(err)
	}
	return uint32(n), 0
}

func (f *wayneFile) Release(ctx context.Context) syscall.Errno {
	return errToErrno(f.fsys.Close(f.h))
}

func toOpenFlags(fuseFlags uint32) OpenFlags {
	var flags OpenFlags
	switch fuseFlags & 3 {
	case 0:
		flags = OFlagRead
	case 1:
		flags = OFlagWrite
	default:
		flags = OFlagRead | OFlagWrite
	}
	if fuseFlags&syscall.O_TRUNC != 0 {
		flags |= OFlagTrunc
	}
	return flags
}

func (n *wayneNode) Open(ctx context.Context, fuseFlags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, err := n.fsys.Open(n.path, toOpenFlags(fuseFlags))
	if err != nil {
		return nil, 0, errToErrno(err)
	}
	return &wayneFile{fsys: n.fsys, h: h}, 0, 0
}

func (n *wayneNode) Create(ctx context.Context, name string, fuseFlags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := n.childPath(name)
	h, err := n.fsys.Create(p, mode&0777)
	if err != nil {
		return nil, nil, 0, errToErrno(err)
	}
	st, err := n.fsys.Stat(p)
	if err != nil {
		return nil, nil, 0, errToErrno(err)
	}
	fillAttr(&out.Attr, st)
	child := &wayneNode{fsys: n.fsys, ino: st.Ino, path: p}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuseModeFor(st.Mode), Ino: uint64(st.Ino)})
	return inode, &wayneFile{fsys: n.fsys, h: h}, 0, 0
}

func (n *wayneNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.childPath(name)
	if err := n.fsys.Mkdir(p, mode&0777); err != nil {
		return nil, errToErrno(err)
	}
	st, err := n.fsys.Stat(p)
	if err != nil {
		return nil, errToErrno(err)
	}
	fillAttr(&out.Attr, st)
	child := &wayneNode{fsys: n.fsys, ino: st.Ino, path: p}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: uint64(st.Ino)}), 0
}

func (n *wayneNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errToErrno(n.fsys.Unlink(n.childPath(name)))
}

func (n *wayneNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errToErrno(n.fsys.Rmdir(n.childPath(name)))
}

func (n *wayneNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst, ok := newParent.(*wayneNode)
	if !ok {
		return syscall.EINVAL
	}
	return errToErrno(n.fsys.Rename(n.childPath(name), dst.childPath(newName)))
}

func (n *wayneNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.childPath(name)
	if err := n.fsys.Symlink(p, target); err != nil {
		return nil, errToErrno(err)
	}
	st, err := n.fsys.Stat(p)
	if err != nil {
		return nil, errToErrno(err)
	}
	fillAttr(&out.Attr, st)
	child := &wayneNode{fsys: n.fsys, ino: st.Ino, path: p}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFLNK, Ino: uint64(st.Ino)}), 0
}

func (n *wayneNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fsys.Readlink(n.path)
	if err != nil {
		return nil, errToErrno(err)
	}
	return []byte(target), 0
}

func (n *wayneNode) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	src, ok := target.(*wayneNode)
	if !ok {
		return nil, syscall.EINVAL
	}
	p := n.childPath(name)
	if err := n.fsys.Link(p, src.path); err != nil {
		return nil, errToErrno(err)
	}
	st, err := n.fsys.Stat(p)
	if err != nil {
		return nil, errToErrno(err)
	}
	fillAttr(&out.Attr, st)
	child := &wayneNode{fsys: n.fsys, ino: st.Ino, path: p}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuseModeFor(st.Mode), Ino: uint64(st.Ino)}), 0
}

// MountFUSE mounts fsys at mountpoint using go-fuse's high-level node
// API and blocks until the filesystem is unmounted.
func MountFUSE(fsys *Filesystem, mountpoint string) error {
	root := &wayneNode{fsys: fsys, ino: RootIno, path: "/"}
	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{FsName: "waynefs", Name: "waynefs"},
	})
	if err != nil {
		return err
	}
	log.Printf("waynefs: mounted %s at %s (mount id %s)", mountpoint, mountpoint, fsys.MountID())
	server.Wait()
	return nil
}
