package waynefs_test

import (
	"path/filepath"
	"testing"

	"github.com/waynefs/waynefs"
)

func testImageOpts() waynefs.ImageOptions {
	return waynefs.ImageOptions{SizeMB: 4, BlockSize: 512, Inodes: 256, JournalSize: 1}
}

func TestMakeImageAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mk.img")
	if err := waynefs.MakeImage(path, testImageOpts()); err != nil {
		t.Fatalf("MakeImage: %v", err)
	}
	if err := waynefs.VerifyImage(path); err != nil {
		t.Fatalf("VerifyImage: %v", err)
	}
}

func TestMakeImageRejectsLayoutThatDoesNotFit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toosmall.img")
	opts := waynefs.ImageOptions{SizeMB: 1, BlockSize: 4096, Inodes: 65536, JournalSize: 1}
	if err := waynefs.MakeImage(path, opts); err == nil {
		t.Fatalf("expected MakeImage to reject a layout that does not fit the requested size")
	}
}

func TestMountRootDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mount.img")
	if err := waynefs.MakeImage(path, testImageOpts()); err != nil {
		t.Fatalf("MakeImage: %v", err)
	}

	fs, err := waynefs.Mount(path)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer fs.Unmount()

	st, err := fs.Stat("/")
	if err != nil {
		t.Fatalf("Stat(/): %v", err)
	}
	if !waynefs.IsDir(st.Mode) {
		t.Fatalf("root is not a directory: mode=%o", st.Mode)
	}
	if st.Ino != waynefs.RootIno {
		t.Fatalf("root ino = %d, want %d", st.Ino, waynefs.RootIno)
	}

	entries, err := fs.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir(/): %v", err)
	}
	var hasDot, hasDotDot bool
	for _, e := range entries {
		switch e.Name {
		case ".":
			hasDot = true
		case "..":
			hasDotDot = true
		}
	}
	if !hasDot || !hasDotDot {
		t.Fatalf("root directory missing . or .., got %+v", entries)
	}
}
