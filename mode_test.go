package waynefs_test

import (
	"io/fs"
	"testing"

	"github.com/waynefs/waynefs"
)

func TestIsDirIsRegularIsSymlink(t *testing.T) {
	cases := []struct {
		mode                            uint32
		isDir, isRegular, isSymlink     bool
	}{
		{waynefs.S_IFDIR | 0755, true, false, false},
		{waynefs.S_IFREG | 0644, false, true, false},
		{waynefs.S_IFLNK | 0777, false, false, true},
		{waynefs.S_IFDIR | waynefs.S_ISVTX | 0755, true, false, false},
	}
	for _, c := range cases {
		if got := waynefs.IsDir(c.mode); got != c.isDir {
			t.Errorf("IsDir(%o) = %v, want %v", c.mode, got, c.isDir)
		}
		if got := waynefs.IsRegular(c.mode); got != c.isRegular {
			t.Errorf("IsRegular(%o) = %v, want %v", c.mode, got, c.isRegular)
		}
		if got := waynefs.IsSymlink(c.mode); got != c.isSymlink {
			t.Errorf("IsSymlink(%o) = %v, want %v", c.mode, got, c.isSymlink)
		}
	}
}

func TestModeToUnixAndBack(t *testing.T) {
	cases := []fs.FileMode{
		0644,
		fs.ModeDir | 0755,
		fs.ModeSymlink | 0777,
		fs.ModeDir | fs.ModeSetgid | 0750,
		fs.ModeSticky | 0777,
	}
	for _, want := range cases {
		unix := waynefs.ModeToUnix(want)
		got := waynefs.UnixToMode(unix)
		if got != want {
			t.Errorf("UnixToMode(ModeToUnix(%v)) = %v, want %v", want, got, want)
		}
	}
}
