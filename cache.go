package waynefs

import "sync"

// cacheEntry is a cached block's { data, dirty } pair.
type cacheEntry struct {
	data  []byte
	dirty bool
}

// PageCache is an in-memory cache of recently read/written blocks,
// with dirty tracking for the ordered-data fast path used by commit
//. Eviction policy is unspecified; this implementation keeps
// everything, which is acceptable for an image-sized single mount.
type PageCache struct {
	dev *BlockDevice
	mu  sync.Mutex
	pg  map[uint32]*cacheEntry
}

func NewPageCache(dev *BlockDevice) *PageCache {
	return &PageCache{dev: dev, pg: make(map[uint32]*cacheEntry)}
}

// Get returns the cached copy of block addr, reading it from the
// device on a miss. The returned slice is a copy; callers may mutate
// it freely.
func (c *PageCache) Get(addr uint32) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.pg[addr]; ok {
		out := make([]byte, len(e.data))
		copy(out, e.data)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	data, err := c.dev.ReadBlock(addr)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if _, ok := c.pg[addr]; !ok {
		c.pg[addr] = &cacheEntry{data: data}
	}
	out := make([]byte, len(data))
	copy(out, data)
	c.mu.Unlock()
	return out, nil
}

// Put replaces the cached copy of addr and marks it clean. Used by
// checkpoint, which writes the final destination and
// wants subsequent reads to see that content without rereading.
func (c *PageCache) Put(addr uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.mu.Lock()
	c.pg[addr] = &cacheEntry{data: cp, dirty: false}
	c.mu.Unlock()
}

// MarkDirty replaces the cached copy of addr and marks it dirty. This
// is the ordered-data fast path: a write() call updates a data
// block's cached content directly, and the transaction records addr
// in its ordered-data set so it gets flushed ahead of the metadata
// log record at commit time.
func (c *PageCache) MarkDirty(addr uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.mu.Lock()
	c.pg[addr] = &cacheEntry{data: cp, dirty: true}
	c.mu.Unlock()
}

// IsDirty reports whether addr currently holds unflushed data.
func (c *PageCache) IsDirty(addr uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pg[addr]
	return ok && e.dirty
}

// Flush writes addr's dirty cached content straight to the device and
// clears its dirty bit. Callers are responsible for calling Fsync on
// the device afterward if durability is required before proceeding.
func (c *PageCache) Flush(addr uint32) error {
	c.mu.Lock()
	e, ok := c.pg[addr]
	if !ok || !e.dirty {
		c.mu.Unlock()
		return nil
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	c.mu.Unlock()

	if err := c.dev.WriteBlock(addr, data); err != nil {
		return err
	}

	c.mu.Lock()
	if e, ok := c.pg[addr]; ok {
		e.dirty = false
	}
	c.mu.Unlock()
	return nil
}

// Invalidate drops any cached copy of addr, forcing the next Get to
// reread it from the device.
func (c *PageCache) Invalidate(addr uint32) {
	c.mu.Lock()
	delete(c.pg, addr)
	c.mu.Unlock()
}
