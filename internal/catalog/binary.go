package catalog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"slices"

	"github.com/hupe1980/mvccindex/internal/txn"
	"github.com/hupe1980/mvccindex/model"
)

const (
	metaMagic     = 0x4d564d54 // "MVMT"
	listMagic     = 0x4d56534c // "MVSL"
	binaryVersion = 2
	headerSize    = 16
)

// Record format shared by the metapage and the segment list:
// Magic (4 bytes)
// Version (4 bytes)
// Checksum (4 bytes) - CRC32 of payload
// PayloadLength (4 bytes)
// Payload
func encodeRecord(magic uint32, payload []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], magic)
	binary.LittleEndian.PutUint32(out[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(payload)))
	return append(out, payload...)
}

func decodeRecord(magic uint32, data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, &CorruptError{Reason: "short record header"}
	}
	if m := binary.LittleEndian.Uint32(data[0:4]); m != magic {
		return nil, &CorruptError{Reason: fmt.Sprintf("invalid magic: %x", m)}
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != binaryVersion {
		return nil, &CorruptError{Reason: fmt.Sprintf("unsupported version: %d", v)}
	}
	checksum := binary.LittleEndian.Uint32(data[8:12])
	length := binary.LittleEndian.Uint32(data[12:16])
	if int(length) > len(data)-headerSize {
		return nil, &CorruptError{Reason: "truncated payload"}
	}
	payload := data[headerSize : headerSize+int(length)]
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, &CorruptError{Reason: "checksum mismatch"}
	}
	return payload, nil
}

// metapage points at the current segment list.
type metapage struct {
	Generation uint64
	List       model.FileEntry
}

func (m metapage) encode() []byte {
	pb := newPayloadBuffer(make([]byte, 0, 24))
	pb.writeUint64(m.Generation)
	pb.writeUint32(uint32(m.List.StartingBlock))
	pb.writeUint64(m.List.TotalBytes)
	return encodeRecord(metaMagic, pb.buf)
}

func decodeMetapage(page []byte) (metapage, error) {
	payload, err := decodeRecord(metaMagic, page)
	if err != nil {
		return metapage{}, err
	}
	pb := newPayloadBuffer(payload)
	m := metapage{Generation: pb.readUint64()}
	m.List.StartingBlock = model.BlockNumber(pb.readUint32())
	m.List.TotalBytes = pb.readUint64()
	if pb.err != nil {
		return metapage{}, &CorruptError{Reason: "metapage", Err: pb.err}
	}
	return m, nil
}

// Segment list payload:
//
//	NumSegments (4 bytes)
//	Segments...
//	  ID (16 bytes)
//	  NumDocs, NumDeleted (4 bytes each)
//	  XMin, XMax (4 bytes each)
//	  Kind (1 byte)
//	  Persisted: NumFiles (1 byte), then Component (1) StartingBlock (4) TotalBytes (8)
//	             NumRetired (4 bytes), then StartingBlock (4) TotalBytes (8)
//	  Memory: HeaderBlock (4) Frozen (1) NumRows (4) Rows (8 each) Snapshot
func encodeList(entries []SegmentEntry) ([]byte, error) {
	pb := newPayloadBuffer(make([]byte, 0, 4+len(entries)*96))
	pb.writeUint32(uint32(len(entries)))

	for _, e := range entries {
		pb.writeBytes(e.ID[:])
		pb.writeUint32(e.NumDocs)
		pb.writeUint32(e.NumDeleted)
		pb.writeUint32(uint32(e.XMin))
		pb.writeUint32(uint32(e.XMax))
		pb.writeUint8(uint8(e.Kind()))

		switch e.Kind() {
		case KindPersisted:
			var files map[model.Component]model.FileEntry
			var retired []model.FileEntry
			if e.Persisted != nil {
				files = e.Persisted.Files
				retired = e.Persisted.Retired
			}
			pb.writeUint8(uint8(len(files)))
			for _, c := range model.Components {
				fe, ok := files[c]
				if !ok {
					continue
				}
				pb.writeUint8(uint8(c))
				pb.writeUint32(uint32(fe.StartingBlock))
				pb.writeUint64(fe.TotalBytes)
			}
			pb.writeUint32(uint32(len(retired)))
			for _, fe := range retired {
				pb.writeUint32(uint32(fe.StartingBlock))
				pb.writeUint64(fe.TotalBytes)
			}
		case KindMemory:
			m := e.Memory
			pb.writeUint32(uint32(m.HeaderBlock))
			pb.writeBool(m.Frozen)
			pb.writeUint32(uint32(len(m.StagedRows)))
			for _, r := range m.StagedRows {
				pb.writeUint64(r.Uint64())
			}
			pb.writeSnapshot(m.Snapshot)
		}
	}

	if pb.err != nil {
		return nil, pb.err
	}
	return encodeRecord(listMagic, pb.buf), nil
}

func decodeList(data []byte) ([]SegmentEntry, error) {
	payload, err := decodeRecord(listMagic, data)
	if err != nil {
		return nil, err
	}
	pb := newPayloadBuffer(payload)

	n := pb.readUint32()
	if pb.err == nil && int(n) > len(payload)/headerSize {
		return nil, &CorruptError{Reason: fmt.Sprintf("segment count %d exceeds payload", n)}
	}
	entries := make([]SegmentEntry, 0, n)
	for i := 0; i < int(n) && pb.err == nil; i++ {
		var e SegmentEntry
		copy(e.ID[:], pb.readBytes(16))
		e.NumDocs = pb.readUint32()
		e.NumDeleted = pb.readUint32()
		e.XMin = model.XID(pb.readUint32())
		e.XMax = model.XID(pb.readUint32())

		switch kind := Kind(pb.readUint8()); kind {
		case KindPersisted:
			nfiles := int(pb.readUint8())
			e.Persisted = &PersistedContent{Files: make(map[model.Component]model.FileEntry, nfiles)}
			for range nfiles {
				c := model.Component(pb.readUint8())
				fe := model.FileEntry{StartingBlock: model.BlockNumber(pb.readUint32())}
				fe.TotalBytes = pb.readUint64()
				e.Persisted.Files[c] = fe
			}
			nretired := pb.readUint32()
			if pb.err == nil && int(nretired) > (len(payload)-pb.pos)/12 {
				return nil, &CorruptError{Reason: fmt.Sprintf("retired extent count %d exceeds payload", nretired)}
			}
			for range nretired {
				fe := model.FileEntry{StartingBlock: model.BlockNumber(pb.readUint32())}
				fe.TotalBytes = pb.readUint64()
				e.Persisted.Retired = append(e.Persisted.Retired, fe)
			}
		case KindMemory:
			m := &MemoryContent{HeaderBlock: model.BlockNumber(pb.readUint32())}
			m.Frozen = pb.readBool()
			nrows := pb.readUint32()
			if pb.err == nil && int(nrows) > (len(payload)-pb.pos)/8 {
				return nil, &CorruptError{Reason: fmt.Sprintf("row count %d exceeds payload", nrows)}
			}
			m.StagedRows = make([]model.RowID, 0, nrows)
			for range nrows {
				m.StagedRows = append(m.StagedRows, model.RowIDFromUint64(pb.readUint64()))
			}
			m.Snapshot = pb.readSnapshot()
			e.Memory = m
		default:
			if pb.err == nil {
				return nil, &CorruptError{Reason: fmt.Sprintf("unknown segment kind %d", kind)}
			}
		}
		entries = append(entries, e)
	}

	if pb.err != nil {
		return nil, &CorruptError{Reason: "segment list", Err: pb.err}
	}
	return entries, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, v)
}

func (p *payloadBuffer) writeBool(v bool) {
	if v {
		p.writeUint8(1)
		return
	}
	p.writeUint8(0)
}

func (p *payloadBuffer) writeBytes(b []byte) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, b...)
}

func (p *payloadBuffer) writeSnapshot(s *txn.Snapshot) {
	if s == nil {
		p.writeBool(false)
		return
	}
	p.writeBool(true)
	p.writeUint32(uint32(s.XMin))
	p.writeUint32(uint32(s.XMax))
	p.writeUint32(uint32(s.Self))
	p.writeUint32(uint32(len(s.InProgress)))
	for _, xid := range s.InProgress {
		p.writeUint32(uint32(xid))
	}
}

func (p *payloadBuffer) need(n int) bool {
	if p.err != nil {
		return false
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (p *payloadBuffer) readUint64() uint64 {
	if !p.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if !p.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readUint8() uint8 {
	if !p.need(1) {
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *payloadBuffer) readBool() bool {
	return p.readUint8() != 0
}

func (p *payloadBuffer) readBytes(n int) []byte {
	if !p.need(n) {
		return make([]byte, n)
	}
	b := slices.Clone(p.buf[p.pos : p.pos+n])
	p.pos += n
	return b
}

func (p *payloadBuffer) readSnapshot() *txn.Snapshot {
	if !p.readBool() {
		return nil
	}
	s := &txn.Snapshot{
		XMin: model.XID(p.readUint32()),
		XMax: model.XID(p.readUint32()),
		Self: model.XID(p.readUint32()),
	}
	n := p.readUint32()
	if p.err != nil || int(n) > (len(p.buf)-p.pos)/4 {
		if p.err == nil {
			p.err = io.ErrUnexpectedEOF
		}
		return nil
	}
	if n > 0 {
		s.InProgress = make([]model.XID, 0, n)
		for range n {
			s.InProgress = append(s.InProgress, model.XID(p.readUint32()))
		}
	}
	return s
}
