//go:build !unix

package waynefs

import "os"

// fdatasync falls back to a full sync on platforms without a distinct
// fdatasync syscall.
func fdatasync(f *os.File) error {
	return f.Sync()
}
