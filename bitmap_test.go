package waynefs

import "testing"

func TestBitmapSetClearFindFree(t *testing.T) {
	dev := newTestDevice(t)
	b, err := loadBitmap(dev, KindBitmapBlock, 0, 1, testBlockSize*8, 0)
	if err != nil {
		t.Fatalf("loadBitmap: %v", err)
	}

	if idx := b.FindFree(0); idx != 0 {
		t.Fatalf("FindFree on empty bitmap = %d, want 0", idx)
	}

	b.Set(0)
	b.Set(1)
	b.Set(2)
	if !b.IsSet(1) {
		t.Fatalf("expected bit 1 set")
	}
	if idx := b.FindFree(0); idx != 3 {
		t.Fatalf("FindFree after setting 0-2 = %d, want 3", idx)
	}

	b.Clear(1)
	if b.IsSet(1) {
		t.Fatalf("expected bit 1 cleared")
	}
	if idx := b.FindFree(0); idx != 1 {
		t.Fatalf("FindFree after clearing bit 1 = %d, want 1", idx)
	}
}

func TestBitmapSearchFloor(t *testing.T) {
	dev := newTestDevice(t)
	// searchFloor of 5 models the inode bitmap's "inode 0 is always
	// reserved" and the block bitmap's "below data_start is metadata".
	b, err := loadBitmap(dev, KindBitmapInode, 0, 1, testBlockSize*8, 5)
	if err != nil {
		t.Fatalf("loadBitmap: %v", err)
	}
	if idx := b.FindFree(0); idx != 5 {
		t.Fatalf("FindFree(0) with searchFloor 5 = %d, want 5", idx)
	}
}

func TestBitmapFlushPersistsToDevice(t *testing.T) {
	dev := newTestDevice(t)
	b, err := loadBitmap(dev, KindBitmapBlock, 0, 1, testBlockSize*8, 0)
	if err != nil {
		t.Fatalf("loadBitmap: %v", err)
	}
	b.Set(7)
	if err := b.Flush(nil, dev); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reloaded, err := loadBitmap(dev, KindBitmapBlock, 0, 1, testBlockSize*8, 0)
	if err != nil {
		t.Fatalf("reload loadBitmap: %v", err)
	}
	if !reloaded.IsSet(7) {
		t.Fatalf("bit 7 did not survive a Flush+reload round trip")
	}
}
