//go:build unix

package waynefs

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes f's data (and the minimum metadata needed to
// retrieve it) to the device, the same syscall jacobsa/fuse and
// hanwen/go-fuse reach for on the durability path.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
