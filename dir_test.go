package waynefs

import "testing"

func TestPackUnpackDirRoundTrip(t *testing.T) {
	entries := []DirEntry{
		{Ino: 0, Name: "."},
		{Ino: 1, Name: ".."},
		{Ino: 5, Name: "hello.txt"},
		{Ino: 6, Name: "a-much-longer-file-name.bin"},
	}
	packed, err := packDir(entries)
	if err != nil {
		t.Fatalf("packDir: %v", err)
	}

	got, err := unpackDir(packed)
	if err != nil {
		t.Fatalf("unpackDir: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i] != e {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestUnpackDirEmpty(t *testing.T) {
	packed, err := packDir(nil)
	if err != nil {
		t.Fatalf("packDir: %v", err)
	}
	got, err := unpackDir(packed)
	if err != nil {
		t.Fatalf("unpackDir: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %v", got)
	}
}

func TestUnpackDirTruncatedBlock(t *testing.T) {
	// Zero-padded block past the header's declared length must not
	// be read as further entries.
	packed, err := packDir([]DirEntry{{Ino: 2, Name: "x"}})
	if err != nil {
		t.Fatalf("packDir: %v", err)
	}
	block := make([]byte, 512)
	copy(block, packed)
	got, err := unpackDir(block)
	if err != nil {
		t.Fatalf("unpackDir: %v", err)
	}
	if len(got) != 1 || got[0].Name != "x" {
		t.Fatalf("unpackDir on padded block = %+v", got)
	}
}

func TestDirFitsInBlock(t *testing.T) {
	small := []DirEntry{{Ino: 1, Name: "a"}}
	if !dirFitsInBlock(small, 512) {
		t.Fatalf("expected small entry set to fit in a 512-byte block")
	}

	var many []DirEntry
	for i := 0; i < 100; i++ {
		many = append(many, DirEntry{Ino: uint32(i), Name: "some-reasonably-long-name"})
	}
	if dirFitsInBlock(many, 512) {
		t.Fatalf("expected 100 long-named entries not to fit in a 512-byte block")
	}
}
