//go:build fuse

package main

import "github.com/waynefs/waynefs"

func runMount(imagePath, mountpoint string) error {
	fsys, err := waynefs.Mount(imagePath)
	if err != nil {
		return err
	}
	return waynefs.MountFUSE(fsys, mountpoint)
}
