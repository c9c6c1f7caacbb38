package waynefs

import (
	"bytes"
	"encoding/binary"
)

const journalSBMagic = "WAYNE_JOURNAL_SB"
const journalBlockMagic = "WAYNE_JOURNAL"

type journalBlockType uint32

const (
	journalDescriptor journalBlockType = 1
	journalMetadata   journalBlockType = 2
	journalCommit     journalBlockType = 3
)

// JournalSuperblock is stored at journal_area_start.
type JournalSuperblock struct {
	StartBlock uint32
	NumBlocks  uint32
	Head       uint32
	Tail       uint32
	LastTid    uint32
}

const journalSBFixedSize = len(journalSBMagic) + 5*4

func (j *JournalSuperblock) MarshalBinary(blockSize uint32) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(journalSBMagic)
	for _, v := range []uint32{j.StartBlock, j.NumBlocks, j.Head, j.Tail, j.LastTid} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	out := make([]byte, blockSize)
	copy(out, buf.Bytes())
	return out, nil
}

func (j *JournalSuperblock) UnmarshalBinary(data []byte) error {
	if len(data) < journalSBFixedSize {
		return newErr(Corrupt, "journal superblock", "")
	}
	if string(data[:len(journalSBMagic)]) != journalSBMagic {
		return newErr(Corrupt, "journal superblock", "")
	}
	r := bytes.NewReader(data[len(journalSBMagic):])
	fields := []*uint32{&j.StartBlock, &j.NumBlocks, &j.Head, &j.Tail, &j.LastTid}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// journalHeader begins every log block.
type journalHeader struct {
	BlockType journalBlockType
	Tid       uint32
}

const journalHeaderFixedSize = len(journalBlockMagic) + 8

func (h *journalHeader) marshal(blockSize uint32) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(journalBlockMagic)
	binary.Write(buf, binary.LittleEndian, uint32(h.BlockType))
	binary.Write(buf, binary.LittleEndian, h.Tid)
	out := make([]byte, blockSize)
	copy(out, buf.Bytes())
	return out
}

func parseJournalHeader(data []byte) (*journalHeader, bool) {
	if len(data) < journalHeaderFixedSize {
		return nil, false
	}
	if string(data[:len(journalBlockMagic)]) != journalBlockMagic {
		return nil, false
	}
	h := &journalHeader{}
	r := bytes.NewReader(data[len(journalBlockMagic):])
	var bt uint32
	if err := binary.Read(r, binary.LittleEndian, &bt); err != nil {
		return nil, false
	}
	h.BlockType = journalBlockType(bt)
	if err := binary.Read(r, binary.LittleEndian, &h.Tid); err != nil {
		return nil, false
	}
	return h, true
}

// Journal is a ring of log blocks inside the journal area.
type Journal struct {
	dev       *BlockDevice
	cache     *PageCache
	sb        *JournalSuperblock
	blockSize uint32
}

// OpenJournal reads the journal superblock at startBlock and returns a
// Journal ready for Recover() or Begin(). numBlocks is read from the
// on-disk journal superblock, not passed in, since it is fixed at
// format time.
func OpenJournal(dev *BlockDevice, cache *PageCache, startBlock uint32) (*Journal, error) {
	data, err := dev.ReadBlock(startBlock)
	if err != nil {
		return nil, err
	}
	sb := &JournalSuperblock{}
	if err := sb.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &Journal{dev: dev, cache: cache, sb: sb, blockSize: dev.BlockSize()}, nil
}

// InitJournal formats a fresh, empty journal area: head = tail =
// startBlock+1 (slot 0 of the area holds the journal superblock
// itself), last_tid = 0. Used only by the image maker.
func InitJournal(dev *BlockDevice, startBlock, areaBlocks uint32) (*Journal, error) {
	j := &Journal{
		dev:       dev,
		cache:     NewPageCache(dev),
		blockSize: dev.BlockSize(),
		sb: &JournalSuperblock{
			StartBlock: startBlock + 1,
			NumBlocks:  areaBlocks - 1,
			Head:       startBlock + 1,
			Tail:       startBlock + 1,
			LastTid:    0,
		},
	}
	return j, j.persistSB(nil)
}

func (j *Journal) persistSB(tx *Transaction) error {
	data, err := j.sb.MarshalBinary(j.blockSize)
	if err != nil {
		return err
	}
	// The journal superblock's own slot is one block before the ring
	// proper (StartBlock-1), so writing it is never itself logged.
	sbAddr := j.sb.StartBlock - 1
	if tx != nil {
		return tx.writeDirectNoLog(sbAddr, data)
	}
	return j.dev.WriteBlock(sbAddr, data)
}

// advance computes the ring address num blocks after addr, wrapping
// within [StartBlock, StartBlock+NumBlocks).
func (j *Journal) advance(addr uint32, n uint32) uint32 {
	rel := addr - j.sb.StartBlock
	rel = (rel + n) % j.sb.NumBlocks
	return j.sb.StartBlock + rel
}

// Begin allocates a new transaction with tid = last_tid + 1.
func (j *Journal) Begin() *Transaction {
	j.sb.LastTid++
	return &Transaction{
		j:       j,
		tid:     j.sb.LastTid,
		staged:  make(map[uint32]*stagedWrite),
		ordered: make(map[uint32]bool),
	}
}

// Recover replays the log at mount time, before any operation runs
//. It must be idempotent.
func (j *Journal) Recover() error {
	type pending struct {
		addrs []uint32
		data  [][]byte
	}
	pendings := make(map[uint32]*pending)

	pos := j.sb.Head
	for pos != j.sb.Tail {
		raw, err := j.dev.ReadBlock(pos)
		if err != nil {
			break
		}
		hdr, ok := parseJournalHeader(raw)
		if !ok {
			// Corruption: stop the scan at the bad block and proceed
			// to a clean head=tail, discarding anything pending.
			break
		}

		switch hdr.BlockType {
		case journalDescriptor:
			n, addrs, ok := parseDescriptorPayload(raw, j.blockSize)
			if !ok || n > j.sb.NumBlocks-1 {
				break
			}
			p := j.advance(pos, 1)
			data := make([][]byte, 0, n)
			complete := true
			for k := uint32(0); k < n; k++ {
				if p == j.sb.Tail {
					complete = false
					break
				}
				blk, err := j.dev.ReadBlock(p)
				if err != nil {
					complete = false
					break
				}
				data = append(data, blk)
				p = j.advance(p, 1)
			}
			if complete {
				pendings[hdr.Tid] = &pending{addrs: addrs, data: data}
			}
			pos = p
			continue
		case journalCommit:
			if pt, has := pendings[hdr.Tid]; has {
				for idx, addr := range pt.addrs {
					if err := j.dev.WriteBlock(addr, pt.data[idx]); err != nil {
						return err
					}
					j.cache.Put(addr, pt.data[idx])
				}
				delete(pendings, hdr.Tid)
			}
			pos = j.advance(pos, 1)
			continue
		default:
			// Unrecognized content: nothing further in the ring is
			// trustworthy, stop scanning.
		}
		break
	}

	j.sb.Head = j.sb.Tail
	return j.persistSB(nil)
}

func parseDescriptorPayload(raw []byte, blockSize uint32) (uint32, []uint32, bool) {
	body := raw[journalHeaderFixedSize:]
	if len(body) < 4 {
		return 0, nil, false
	}
	n := binary.LittleEndian.Uint32(body[:4])
	need := 4 + int(n)*4
	if need > len(body) {
		return 0, nil, false
	}
	addrs := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		addrs[i] = binary.LittleEndian.Uint32(body[4+int(i)*4:])
	}
	return n, addrs, true
}
