// Command mkwaynefs formats a fresh WayneFS image file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/waynefs/waynefs"
)

func main() {
	var (
		imagePath   = flag.String("image", "waynefs-"+uuid.NewString()[:8]+".img", "path to the image file to create")
		sizeMB      = flag.Uint("size-mb", 64, "total image size in MiB")
		blockSize   = flag.Uint("block-size", 4096, "block size in bytes")
		inodes      = flag.Uint("inodes", 4096, "number of inodes to allocate")
		journalSize = flag.Uint("journal-size", 4, "journal area size in MiB")
		verify      = flag.Bool("verify", false, "re-open the image after formatting and sanity-check the root directory")
	)
	flag.Parse()

	opts := waynefs.ImageOptions{
		SizeMB:      uint32(*sizeMB),
		BlockSize:   uint32(*blockSize),
		Inodes:      uint32(*inodes),
		JournalSize: uint32(*journalSize),
	}

	if err := waynefs.MakeImage(*imagePath, opts); err != nil {
		fmt.Fprintf(os.Stderr, "mkwaynefs: %s\n", err)
		os.Exit(1)
	}
	log.Printf("mkwaynefs: wrote %s (%d MiB, %d inodes, %d-byte blocks)", *imagePath, *sizeMB, *inodes, *blockSize)

	if *verify {
		if err := waynefs.VerifyImage(*imagePath); err != nil {
			fmt.Fprintf(os.Stderr, "mkwaynefs: verify failed: %s\n", err)
			os.Exit(1)
		}
		log.Printf("mkwaynefs: verify ok")
	}
}
