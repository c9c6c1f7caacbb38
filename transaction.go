package waynefs

import "encoding/binary"

// stagedWrite is one entry in a transaction's insertion-ordered
// staging map.
type stagedWrite struct {
	kind BlockKind
	data []byte
}

// Transaction is a staging buffer collecting metadata writes under
// one tid. It begins on operation entry (Journal.Begin)
// and dies on scope exit: callers defer tx.Close() and it emits one
// commit record, or nothing if nothing was staged. Close never
// panics and is safe to call more than once.
type Transaction struct {
	j       *Journal
	tid     uint32
	order   []uint32
	staged  map[uint32]*stagedWrite
	ordered map[uint32]bool
	closed  bool
}

// Write records addr -> (kind, data) in the transaction. A second
// write to the same addr within the same transaction overwrites the
// staged bytes without duplicating its position in commit order.
func (tx *Transaction) Write(addr uint32, data []byte, kind BlockKind) error {
	if uint32(len(data)) != tx.j.blockSize {
		return newErr(Invalid, "transaction write", "")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	if _, exists := tx.staged[addr]; !exists {
		tx.order = append(tx.order, addr)
	}
	tx.staged[addr] = &stagedWrite{kind: kind, data: cp}
	return nil
}

// writeDirectNoLog writes data straight to the device at addr,
// bypassing the staging map and the log. persistSB routes the journal
// superblock (the log's own bookkeeping, which recovery never replays)
// through it when given a transaction; every current persistSB caller
// passes nil and writes the device directly instead.
func (tx *Transaction) writeDirectNoLog(addr uint32, data []byte) error {
	return tx.j.dev.WriteBlock(addr, data)
}

// StageRead returns addr's staged bytes if this transaction has
// already written them, otherwise it reads through the page cache.
// This is what lets inode-table and indirect-block writers
// read-modify-write the containing block and have a later write in
// the same transaction see the earlier one.
func (tx *Transaction) StageRead(addr uint32) ([]byte, error) {
	if sw, ok := tx.staged[addr]; ok {
		cp := make([]byte, len(sw.data))
		copy(cp, sw.data)
		return cp, nil
	}
	return tx.j.cache.Get(addr)
}

// OrderedData registers addr as a data block that must reach the
// device, if dirty, before the descriptor record is written.
func (tx *Transaction) OrderedData(addr uint32) {
	tx.ordered[addr] = true
}

// Tid returns the transaction's id.
func (tx *Transaction) Tid() uint32 { return tx.tid }

// Discard drops every staged write without logging anything. A
// transaction whose operation failed mid-flight must be discarded, not
// closed: committing it would make the partial mutation durable.
func (tx *Transaction) Discard() {
	tx.closed = true
}

// Close commits the transaction if anything was staged, and is a
// no-op otherwise or on a second call.
func (tx *Transaction) Close() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	if len(tx.order) == 0 {
		return nil
	}
	return tx.commit()
}

// commit runs the ordered log sequence: flush ordered data, write
// descriptor, data and commit records, advance tail, checkpoint,
// advance head.
func (tx *Transaction) commit() error {
	j := tx.j
	n := uint32(len(tx.order))
	if n+2 > j.sb.NumBlocks-1 {
		return newErr(Invalid, "commit", "transaction exceeds journal capacity")
	}
	if maxAddrs := (j.blockSize - uint32(journalHeaderFixedSize) - 4) / 4; n > maxAddrs {
		return newErr(Invalid, "commit", "descriptor addresses exceed one block")
	}

	// 1. Flush ordered-data dependencies.
	for addr := range tx.ordered {
		if j.cache.IsDirty(addr) {
			if err := j.cache.Flush(addr); err != nil {
				return err
			}
		}
	}
	if len(tx.ordered) > 0 {
		if err := j.dev.Fsync(); err != nil {
			return err
		}
	}

	// 2. Write descriptor block at tail.
	descAddr := j.sb.Tail
	desc := buildDescriptorBlock(tx.tid, tx.order, j.blockSize)
	if err := j.dev.WriteBlock(descAddr, desc); err != nil {
		return err
	}

	// 3. Write data payloads to the following ring slots, in order.
	pos := j.advance(descAddr, 1)
	for _, addr := range tx.order {
		if err := j.dev.WriteBlock(pos, tx.staged[addr].data); err != nil {
			return err
		}
		pos = j.advance(pos, 1)
	}

	// 4. Write commit block.
	commitAddr := pos
	commitHdr := &journalHeader{BlockType: journalCommit, Tid: tx.tid}
	if err := j.dev.WriteBlock(commitAddr, commitHdr.marshal(j.blockSize)); err != nil {
		return err
	}

	if err := j.dev.Fsync(); err != nil {
		return err
	}

	// 5. Advance tail past the commit block; persist the journal
	// superblock.
	j.sb.Tail = j.advance(commitAddr, 1)
	if err := j.persistSB(nil); err != nil {
		return err
	}

	// 6. Checkpoint: write every staged block to its final
	// destination.
	for _, addr := range tx.order {
		sw := tx.staged[addr]
		if err := j.dev.WriteBlock(addr, sw.data); err != nil {
			return err
		}
		j.cache.Put(addr, sw.data)
	}

	if err := j.dev.Fsync(); err != nil {
		return err
	}

	// 7. Advance head = tail; persist the journal superblock.
	j.sb.Head = j.sb.Tail
	return j.persistSB(nil)
}

func buildDescriptorBlock(tid uint32, addrs []uint32, blockSize uint32) []byte {
	hdr := &journalHeader{BlockType: journalDescriptor, Tid: tid}
	out := hdr.marshal(blockSize)
	body := out[journalHeaderFixedSize:]
	binary.LittleEndian.PutUint32(body, uint32(len(addrs)))
	for i, a := range addrs {
		binary.LittleEndian.PutUint32(body[4+i*4:], a)
	}
	return out
}
