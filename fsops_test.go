package waynefs_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/waynefs/waynefs"
)

func mountFreshFS(t *testing.T) *waynefs.Filesystem {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fsops.img")
	if err := waynefs.MakeImage(path, testImageOpts()); err != nil {
		t.Fatalf("MakeImage: %v", err)
	}
	fs, err := waynefs.Mount(path)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() { fs.Unmount() })
	return fs
}

func mustWriteFile(t *testing.T, fs *waynefs.Filesystem, path string, content []byte) {
	t.Helper()
	h, err := fs.Create(path, 0644)
	if err != nil {
		t.Fatalf("Create(%s): %v", path, err)
	}
	if _, err := fs.Write(h, content, 0); err != nil {
		t.Fatalf("Write(%s): %v", path, err)
	}
	if err := fs.Close(h); err != nil {
		t.Fatalf("Close(%s): %v", path, err)
	}
}

func TestCreateWriteReadFile(t *testing.T) {
	fs := mountFreshFS(t)
	content := []byte("the quick brown fox jumps over the lazy dog")
	mustWriteFile(t, fs, "/hello.txt", content)

	h, err := fs.Open("/hello.txt", waynefs.OFlagRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close(h)

	got, err := fs.Read(h, uint64(len(content)), 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Read = %q, want %q", got, content)
	}

	st, err := fs.Stat("/hello.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != uint64(len(content)) {
		t.Fatalf("Stat.Size = %d, want %d", st.Size, len(content))
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/dup.txt", []byte("one"))

	_, err := fs.Create("/dup.txt", 0644)
	if !errors.Is(err, waynefs.ErrExists) {
		t.Fatalf("Create on existing name: err = %v, want ErrExists", err)
	}
}

func TestMkdirReaddirRmdir(t *testing.T) {
	fs := mountFreshFS(t)
	if err := fs.Mkdir("/sub", 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	mustWriteFile(t, fs, "/sub/file.txt", []byte("data"))

	entries, err := fs.ReadDir("/sub")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["."] || !names[".."] || !names["file.txt"] {
		t.Fatalf("ReadDir(/sub) = %+v", entries)
	}

	if err := fs.Rmdir("/sub"); !errors.Is(err, waynefs.ErrNotEmpty) {
		t.Fatalf("Rmdir non-empty dir: err = %v, want ErrNotEmpty", err)
	}

	if err := fs.Unlink("/sub/file.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := fs.Rmdir("/sub"); err != nil {
		t.Fatalf("Rmdir empty dir: %v", err)
	}
	if _, err := fs.Stat("/sub"); !errors.Is(err, waynefs.ErrNotFound) {
		t.Fatalf("Stat after Rmdir: err = %v, want ErrNotFound", err)
	}
}

func TestRmdirRootRejected(t *testing.T) {
	fs := mountFreshFS(t)
	if err := fs.Mkdir("/x", 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	// Rmdir("/") is rejected on its name alone; here the root is reached
	// through /x's ".." entry instead, and removing the root inode is
	// rejected regardless of path spelling.
	if err := fs.Rmdir("/x/.."); !errors.Is(err, waynefs.ErrPerm) {
		t.Fatalf("Rmdir(root): err = %v, want ErrPerm", err)
	}
}

func TestUnlinkOnDirectoryFails(t *testing.T) {
	fs := mountFreshFS(t)
	if err := fs.Mkdir("/adir", 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := fs.Unlink("/adir"); !errors.Is(err, waynefs.ErrIsDir) {
		t.Fatalf("Unlink(dir): err = %v, want ErrIsDir", err)
	}
}

func TestRenameReplacesDestinationFile(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/a.txt", []byte("AAA"))
	mustWriteFile(t, fs, "/b.txt", []byte("BBB"))

	if err := fs.Rename("/a.txt", "/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if _, err := fs.Stat("/a.txt"); !errors.Is(err, waynefs.ErrNotFound) {
		t.Fatalf("Stat(/a.txt) after rename: err = %v, want ErrNotFound", err)
	}

	h, err := fs.Open("/b.txt", waynefs.OFlagRead)
	if err != nil {
		t.Fatalf("Open(/b.txt): %v", err)
	}
	defer fs.Close(h)
	got, err := fs.Read(h, 16, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("AAA")) {
		t.Fatalf("/b.txt content = %q, want %q", got, "AAA")
	}
}

func TestRenameAcrossDirectoriesFixesDotDot(t *testing.T) {
	fs := mountFreshFS(t)
	if err := fs.Mkdir("/src", 0755); err != nil {
		t.Fatalf("Mkdir(/src): %v", err)
	}
	if err := fs.Mkdir("/dst", 0755); err != nil {
		t.Fatalf("Mkdir(/dst): %v", err)
	}
	if err := fs.Mkdir("/src/child", 0755); err != nil {
		t.Fatalf("Mkdir(/src/child): %v", err)
	}

	if err := fs.Rename("/src/child", "/dst/child"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	entries, err := fs.ReadDir("/dst/child")
	if err != nil {
		t.Fatalf("ReadDir(/dst/child): %v", err)
	}
	for _, e := range entries {
		if e.Name == ".." {
			dstIno, err := fs.Stat("/dst")
			if err != nil {
				t.Fatalf("Stat(/dst): %v", err)
			}
			if e.Ino != dstIno.Ino {
				t.Fatalf("moved dir's .. points at ino %d, want %d", e.Ino, dstIno.Ino)
			}
		}
	}

	dst, err := fs.Stat("/dst")
	if err != nil {
		t.Fatalf("Stat(/dst): %v", err)
	}
	if dst.Nlink != 3 { // ".", "child/..", plus the dir entry from the root
		t.Fatalf("/dst.Nlink = %d, want 3", dst.Nlink)
	}
}

func TestLinkBumpsNlinkAndSharesData(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/orig.txt", []byte("shared"))

	if err := fs.Link("/alias.txt", "/orig.txt"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	st, err := fs.Stat("/orig.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Nlink != 2 {
		t.Fatalf("Nlink = %d, want 2", st.Nlink)
	}

	if err := fs.Unlink("/orig.txt"); err != nil {
		t.Fatalf("Unlink(/orig.txt): %v", err)
	}
	h, err := fs.Open("/alias.txt", waynefs.OFlagRead)
	if err != nil {
		t.Fatalf("Open(/alias.txt) after unlinking the original name: %v", err)
	}
	defer fs.Close(h)
	got, err := fs.Read(h, 16, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("shared")) {
		t.Fatalf("content via alias = %q, want %q", got, "shared")
	}
}

func TestSymlinkReadlinkAndResolution(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/target.txt", []byte("payload"))
	if err := fs.Symlink("/link.txt", "target.txt"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	target, err := fs.Readlink("/link.txt")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "target.txt" {
		t.Fatalf("Readlink = %q, want %q", target, "target.txt")
	}

	st, err := fs.Stat("/link.txt")
	if err != nil {
		t.Fatalf("Stat(/link.txt) should follow the symlink: %v", err)
	}
	want, err := fs.Stat("/target.txt")
	if err != nil {
		t.Fatalf("Stat(/target.txt): %v", err)
	}
	if st.Ino != want.Ino {
		t.Fatalf("Stat(/link.txt).Ino = %d, want %d (the target's)", st.Ino, want.Ino)
	}
}

func TestChmodAndUtimens(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/perm.txt", []byte("x"))

	if err := fs.Chmod("/perm.txt", 0600); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	st, err := fs.Stat("/perm.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Mode&0777 != 0600 {
		t.Fatalf("mode bits = %o, want %o", st.Mode&0777, 0600)
	}

	if err := fs.Utimens("/perm.txt", 111, 222); err != nil {
		t.Fatalf("Utimens: %v", err)
	}
	st, err = fs.Stat("/perm.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Atime != 111 || st.Mtime != 222 {
		t.Fatalf("Atime/Mtime = %d/%d, want 111/222", st.Atime, st.Mtime)
	}
}

func TestTruncateExtendZeroFills(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/grow.txt", []byte("abc"))

	ino, err := fs.Stat("/grow.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := fs.Truncate(ino.Ino, 4096); err != nil {
		t.Fatalf("Truncate (extend): %v", err)
	}

	st, err := fs.Stat("/grow.txt")
	if err != nil {
		t.Fatalf("Stat after extend: %v", err)
	}
	if st.Size != 4096 {
		t.Fatalf("Size after extend = %d, want 4096", st.Size)
	}

	h, err := fs.Open("/grow.txt", waynefs.OFlagRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close(h)
	tail, err := fs.Read(h, 16, 4000)
	if err != nil {
		t.Fatalf("Read tail: %v", err)
	}
	if !bytes.Equal(tail, make([]byte, 16)) {
		t.Fatalf("expected the extended tail to read back as zero, got %q", tail)
	}
}

func TestTruncateExtendAllocatesThroughIndirect(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/big.txt", nil)

	before, err := fs.Fsck()
	if err != nil {
		t.Fatalf("Fsck before: %v", err)
	}

	ino, err := fs.Stat("/big.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	// 13 logical blocks: 10 direct leaves, 3 indirect leaves, plus the
	// single-indirect index block itself.
	bs := uint64(fs.BlockSize())
	newLen := 12*bs + bs/4
	if err := fs.Truncate(ino.Ino, newLen); err != nil {
		t.Fatalf("Truncate (extend): %v", err)
	}

	st, err := fs.Stat("/big.txt")
	if err != nil {
		t.Fatalf("Stat after extend: %v", err)
	}
	if st.Size != newLen {
		t.Fatalf("Size = %d, want %d", st.Size, newLen)
	}

	after, err := fs.Fsck()
	if err != nil {
		t.Fatalf("Fsck after: %v", err)
	}
	if !after.Clean() {
		t.Fatalf("Fsck not clean after extend: %+v", after)
	}
	if got := after.BlocksChecked - before.BlocksChecked; got != 14 {
		t.Fatalf("extend allocated %d blocks, want 14 (13 data + 1 index)", got)
	}

	h, err := fs.Open("/big.txt", waynefs.OFlagRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close(h)
	last, err := fs.Read(h, 1, newLen-1)
	if err != nil {
		t.Fatalf("Read last byte: %v", err)
	}
	if !bytes.Equal(last, []byte{0}) {
		t.Fatalf("last byte = %v, want 0", last)
	}
}

func TestTruncateShrinkFreesBlocks(t *testing.T) {
	fs := mountFreshFS(t)
	mustWriteFile(t, fs, "/shrink.txt", bytes.Repeat([]byte{0x11}, 3000))

	ino, err := fs.Stat("/shrink.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := fs.Truncate(ino.Ino, 10); err != nil {
		t.Fatalf("Truncate (shrink): %v", err)
	}

	st, err := fs.Stat("/shrink.txt")
	if err != nil {
		t.Fatalf("Stat after shrink: %v", err)
	}
	if st.Size != 10 {
		t.Fatalf("Size after shrink = %d, want 10", st.Size)
	}

	// Blocks past the new size that stayed marked in the bitmap would
	// show up as orphans.
	report, err := fs.Fsck()
	if err != nil {
		t.Fatalf("Fsck after shrink: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("blocks beyond the new size were not freed: %+v", report)
	}

	h, err := fs.Open("/shrink.txt", waynefs.OFlagRead)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fs.Close(h)
	got, err := fs.Read(h, 100, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("Read past the new size returned %d bytes, want 10", len(got))
	}
}

func TestCloseInvalidHandleFails(t *testing.T) {
	fs := mountFreshFS(t)
	if err := fs.Close(waynefs.Handle(9999)); !errors.Is(err, waynefs.ErrBadHandle) {
		t.Fatalf("Close unknown handle: err = %v, want ErrBadHandle", err)
	}
}
