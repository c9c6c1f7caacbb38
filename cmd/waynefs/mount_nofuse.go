//go:build !fuse

package main

import "fmt"

func runMount(imagePath, mountpoint string) error {
	return fmt.Errorf("this binary was built without the fuse tag; rebuild with -tags fuse to mount")
}
