package waynefs

import (
	"encoding/binary"
)

// DirEntry is one name -> inode mapping inside a directory block.
type DirEntry struct {
	Ino  uint32
	Name string
}

// dirHeaderSize is the 4-byte total_len prefix.
const dirHeaderSize = 4

// packDir encodes entries into a directory block payload: the header
// (total_len) followed by each entry back-to-back, in insertion
// order. The caller is responsible for checking the result fits in
// one block (NoSpace otherwise) and for zero-padding to block size
// before writing.
func packDir(entries []DirEntry) ([]byte, error) {
	body := make([]byte, 0, 64)
	for _, e := range entries {
		var rec [4 + 2]byte
		binary.LittleEndian.PutUint32(rec[0:4], e.Ino)
		binary.LittleEndian.PutUint16(rec[4:6], uint16(len(e.Name)))
		body = append(body, rec[:]...)
		body = append(body, []byte(e.Name)...)
	}

	out := make([]byte, dirHeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[dirHeaderSize:], body)
	return out, nil
}

// unpackDir reads the header length, restricts its view to that
// length, and walks entries until exhaustion or a short read
// terminates the loop. Names are raw UTF-8 and are not
// normalized or validated beyond the length prefix.
func unpackDir(data []byte) ([]DirEntry, error) {
	if len(data) < dirHeaderSize {
		return nil, nil
	}
	total := binary.LittleEndian.Uint32(data[0:4])
	end := dirHeaderSize + int(total)
	if end > len(data) {
		end = len(data)
	}
	body := data[dirHeaderSize:end]

	var entries []DirEntry
	pos := 0
	for pos+6 <= len(body) {
		ino := binary.LittleEndian.Uint32(body[pos : pos+4])
		nameLen := int(binary.LittleEndian.Uint16(body[pos+4 : pos+6]))
		pos += 6
		if pos+nameLen > len(body) {
			break
		}
		name := string(body[pos : pos+nameLen])
		pos += nameLen
		entries = append(entries, DirEntry{Ino: ino, Name: name})
	}
	return entries, nil
}

// fitsInBlock reports whether packing entries would fit within one
// block of the given size.
func dirFitsInBlock(entries []DirEntry, blockSize uint32) bool {
	size := dirHeaderSize
	for _, e := range entries {
		size += 6 + len(e.Name)
	}
	return size <= int(blockSize)
}
