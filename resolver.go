package waynefs

import (
	"strings"
	"sync"
)

// maxSymlinkDepth bounds the number of link hops Lookup will follow
// before giving up, the way most POSIX implementations cap ELOOP.
const maxSymlinkDepth = 40

// Resolver walks paths to inode numbers and caches the result.
// A path's entry is invalidated whenever an operation changes
// what it names; stale entries elsewhere in the tree are left alone,
// matching a plain name cache rather than a full dentry tree.
type Resolver struct {
	fs           *Filesystem
	mu           sync.Mutex
	cache        map[string]uint32
	disableCache bool
}

func newResolver(fs *Filesystem) *Resolver {
	return &Resolver{fs: fs, cache: make(map[string]uint32)}
}

// splitPath breaks path into non-empty, non-"." segments.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Lookup resolves path to an inode number, consulting and then
// populating the dentry cache.
func (r *Resolver) Lookup(path string) (uint32, error) {
	if !r.disableCache {
		if ino, ok := r.cacheGet(path); ok {
			return ino, nil
		}
	}
	ino, err := r.resolveFrom(RootIno, splitPath(path), 0)
	if err != nil {
		return 0, err
	}
	if !r.disableCache {
		r.cacheSet(path, ino)
	}
	return ino, nil
}

// resolveFrom walks segs starting at directory base, splicing in
// symlink targets as they're encountered on any but the final
// segment. An absolute target restarts the walk at the root;
// a relative one continues from the directory that held the link.
func (r *Resolver) resolveFrom(base uint32, segs []string, depth int) (uint32, error) {
	if depth > maxSymlinkDepth {
		return 0, newErr(Invalid, "lookup", "too many levels of symbolic links")
	}

	cur := base
	for i := 0; i < len(segs); i++ {
		name := segs[i]
		if name == ".." {
			parent, err := r.dotdot(cur)
			if err != nil {
				return 0, err
			}
			cur = parent
			continue
		}

		childIno, err := r.lookupChild(cur, name)
		if err != nil {
			return 0, err
		}

		if i+1 == len(segs) {
			cur = childIno
			continue
		}

		inode, err := r.fs.itable.Read(childIno)
		if err != nil {
			return 0, err
		}
		if !IsSymlink(inode.Mode) {
			cur = childIno
			continue
		}

		target, err := r.fs.readSymlinkTarget(inode)
		if err != nil {
			return 0, err
		}
		rest := segs[i+1:]
		newSegs := append(splitPath(target), rest...)
		if strings.HasPrefix(target, "/") {
			return r.resolveFrom(RootIno, newSegs, depth+1)
		}
		return r.resolveFrom(cur, newSegs, depth+1)
	}
	return cur, nil
}

// lookupChild scans parentIno's directory block for name.
func (r *Resolver) lookupChild(parentIno uint32, name string) (uint32, error) {
	parent, err := r.fs.itable.Read(parentIno)
	if err != nil {
		return 0, err
	}
	if !IsDir(parent.Mode) {
		return 0, newErr(NotDir, "lookup", name)
	}
	entries, err := r.fs.readDirEntries(parent, nil)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Ino, nil
		}
	}
	return 0, newErr(NotFound, "lookup", name)
}

// dotdot returns the inode that cur's ".." entry names. Only the root
// directory's ".." entry points back at itself.
func (r *Resolver) dotdot(cur uint32) (uint32, error) {
	inode, err := r.fs.itable.Read(cur)
	if err != nil {
		return 0, err
	}
	entries, err := r.fs.readDirEntries(inode, nil)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == ".." {
			return e.Ino, nil
		}
	}
	return RootIno, nil
}

func (r *Resolver) cacheGet(path string) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ino, ok := r.cache[path]
	return ino, ok
}

func (r *Resolver) cacheSet(path string, ino uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[path] = ino
}

// Invalidate drops path's cached entry, used after any operation that
// changes what the name resolves to (rename, unlink, rmdir, create).
func (r *Resolver) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, path)
}

// InvalidateAll clears the whole cache. Nothing in this package calls
// it; every operation invalidates single paths through Invalidate.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]uint32)
}
