package waynefs

import (
	"sort"
	"sync"
)

// Handle identifies an open file within a mount. Handles are
// monotonically increasing and never reused within a mount.
type Handle uint64

// OpenFlags mirrors the subset of POSIX open(2) flags WayneFS cares
// about.
type OpenFlags int

const (
	OFlagRead OpenFlags = 1 << iota
	OFlagWrite
	OFlagCreate
	OFlagTrunc
	OFlagAppend
)

// HandleInfo is a read-only snapshot of one open-file-table entry.
type HandleInfo struct {
	Handle Handle
	Ino    uint32
	Flags  OpenFlags
	Offset uint64
}

type openFile struct {
	ino    uint32
	flags  OpenFlags
	offset uint64
}

// handleTable is the ordered map from handle to { ino, flags, offset }.
// It is process-wide state, initialized at mount and
// torn down at unmount.
type handleTable struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]*openFile
}

func newHandleTable() *handleTable {
	return &handleTable{entries: make(map[Handle]*openFile)}
}

func (t *handleTable) open(ino uint32, flags OpenFlags) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	h := t.next
	t.entries[h] = &openFile{ino: ino, flags: flags}
	return h
}

func (t *handleTable) lookup(h Handle) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.entries[h]
	return f, ok
}

func (t *handleTable) release(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[h]; !ok {
		return false
	}
	delete(t.entries, h)
	return true
}

func (t *handleTable) snapshot() []HandleInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]HandleInfo, 0, len(t.entries))
	for h, f := range t.entries {
		out = append(out, HandleInfo{Handle: h, Ino: f.ino, Flags: f.flags, Offset: f.offset})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Handle < out[b].Handle })
	return out
}
