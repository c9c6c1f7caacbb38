package waynefs

import (
	"fmt"
	"os"
	"sync"
)

// BlockDevice is a fixed-block-size view over a backing image file.
// It is the leaf dependency of every other subsystem:
// nothing above it is allowed to touch the file directly.
type BlockDevice struct {
	f         *os.File
	blockSize uint32
	mu        sync.Mutex
}

// OpenBlockDevice opens path for read/write use as a block device with
// the given block size. The file is not truncated or formatted here;
// use the image maker (cmd/mkwaynefs) to lay out a fresh image.
func OpenBlockDevice(path string, blockSize uint32) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &BlockDevice{f: f, blockSize: blockSize}, nil
}

// CreateBlockDevice creates (or truncates) path to the given byte size
// and returns a BlockDevice over it. Used only by the image maker.
func CreateBlockDevice(path string, blockSize uint32, totalBytes int64) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(totalBytes); err != nil {
		f.Close()
		return nil, err
	}
	return &BlockDevice{f: f, blockSize: blockSize}, nil
}

// BlockSize returns the device's fixed block size.
func (d *BlockDevice) BlockSize() uint32 { return d.blockSize }

// ReadBlock reads block n in full.
func (d *BlockDevice) ReadBlock(n uint32) ([]byte, error) {
	buf := make([]byte, d.blockSize)
	if err := d.ReadAt(buf, int64(n)*int64(d.blockSize)); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBlock writes block n. data must be exactly BlockSize() long.
func (d *BlockDevice) WriteBlock(n uint32, data []byte) error {
	if uint32(len(data)) != d.blockSize {
		return fmt.Errorf("waynefs: write_block(%d): got %d bytes, want %d", n, len(data), d.blockSize)
	}
	return d.WriteAt(data, int64(n)*int64(d.blockSize))
}

// ReadAt reads len(p) bytes at byte offset off.
func (d *BlockDevice) ReadAt(p []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(p, off)
	return err
}

// WriteAt writes p at byte offset off.
func (d *BlockDevice) WriteAt(p []byte, off int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.WriteAt(p, off)
	return err
}

// Fsync guarantees that every write issued before this call is durable
// before it returns. Higher layers may only assume write ordering
// across this barrier.
func (d *BlockDevice) Fsync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fdatasync(d.f)
}

// Close closes the backing file.
func (d *BlockDevice) Close() error {
	return d.f.Close()
}
