// Command waynefs mounts a WayneFS image (when built with the fuse
// tag) and runs a read-only consistency check against one.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/waynefs/waynefs"
)

const usage = `waynefs - WayneFS mount and maintenance tool

Usage:
  waynefs mount <image> <mountpoint>   Mount the image (requires a fuse build)
  waynefs fsck <image>                 Walk the tree and check allocator consistency
  waynefs stat <image> <path>          Print one path's attributes, ls -l style
  waynefs help                         Show this help message
`

func main() {
	flag.Usage = func() { fmt.Print(usage) }
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "mount":
		if len(os.Args) < 4 {
			fmt.Println("Error: missing <image> or <mountpoint>")
			fmt.Print(usage)
			os.Exit(1)
		}
		if err := runMount(os.Args[2], os.Args[3]); err != nil {
			fmt.Fprintf(os.Stderr, "waynefs: %s\n", err)
			os.Exit(1)
		}

	case "fsck":
		if len(os.Args) < 3 {
			fmt.Println("Error: missing <image>")
			fmt.Print(usage)
			os.Exit(1)
		}
		if err := runFsck(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "waynefs: %s\n", err)
			os.Exit(1)
		}

	case "stat":
		if len(os.Args) < 4 {
			fmt.Println("Error: missing <image> or <path>")
			fmt.Print(usage)
			os.Exit(1)
		}
		if err := runStat(os.Args[2], os.Args[3]); err != nil {
			fmt.Fprintf(os.Stderr, "waynefs: %s\n", err)
			os.Exit(1)
		}

	case "help":
		fmt.Print(usage)

	default:
		fmt.Printf("Error: unknown command %q\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}
}

func runStat(imagePath, path string) error {
	fsys, err := waynefs.Mount(imagePath)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer fsys.Unmount()

	st, err := fsys.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	fmt.Printf("%s %6d %d %s\n", st.FileMode(), st.Size, st.Nlink, path)
	return nil
}

func runFsck(imagePath string) error {
	fsys, err := waynefs.Mount(imagePath)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer fsys.Unmount()

	report, err := fsys.Fsck()
	if err != nil {
		return fmt.Errorf("fsck: %w", err)
	}

	log.Printf("waynefs fsck: %d inodes, %d blocks checked", report.InodesChecked, report.BlocksChecked)
	if report.Clean() {
		fmt.Println("waynefs fsck: clean")
		return nil
	}

	fmt.Printf("waynefs fsck: orphaned inodes: %v\n", report.OrphanedInodes)
	fmt.Printf("waynefs fsck: orphaned blocks: %v\n", report.OrphanedBlocks)
	fmt.Printf("waynefs fsck: unmarked inodes: %v\n", report.UnmarkedInodes)
	fmt.Printf("waynefs fsck: unmarked blocks: %v\n", report.UnmarkedBlocks)
	os.Exit(1)
	return nil
}
