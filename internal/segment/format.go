package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strings"
)

// termEntry locates the posting list of one (field, term) pair.
type termEntry struct {
	Field   string
	Term    string
	Offset  uint64
	Length  uint32
	DocFreq uint32
}

type termKey struct {
	field string
	term  string
}

func compareTermEntries(a, b termEntry) int {
	if c := strings.Compare(a.Field, b.Field); c != 0 {
		return c
	}
	return strings.Compare(a.Term, b.Term)
}

// Terms layout:
// NumTerms (4 bytes)
// Terms... sorted by field, then term
//
//	FieldLen (2 bytes) Field
//	TermLen (2 bytes) Term
//	Offset (8 bytes) Length (4 bytes) DocFreq (4 bytes)
func encodeTerms(entries []termEntry) ([]byte, error) {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(entries)*32), uint32(len(entries)))
	for _, e := range entries {
		if len(e.Field) > 0xffff || len(e.Term) > 0xffff {
			return nil, fmt.Errorf("term too long: %d/%d bytes", len(e.Field), len(e.Term))
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Field)))
		buf = append(buf, e.Field...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Term)))
		buf = append(buf, e.Term...)
		buf = binary.LittleEndian.AppendUint64(buf, e.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, e.Length)
		buf = binary.LittleEndian.AppendUint32(buf, e.DocFreq)
	}
	return buf, nil
}

func decodeTerms(data []byte) ([]termEntry, error) {
	r := termReader{buf: data}
	n := r.uint32()
	if r.err == nil && int(n) > len(data)/20 {
		return nil, fmt.Errorf("terms: count %d exceeds payload", n)
	}
	entries := make([]termEntry, 0, n)
	for i := 0; i < int(n) && r.err == nil; i++ {
		e := termEntry{Field: r.string(), Term: r.string()}
		e.Offset = r.uint64()
		e.Length = r.uint32()
		e.DocFreq = r.uint32()
		entries = append(entries, e)
	}
	if r.err != nil {
		return nil, fmt.Errorf("terms: %w", r.err)
	}
	if !slices.IsSortedFunc(entries, compareTermEntries) {
		return nil, fmt.Errorf("terms: dictionary not sorted")
	}
	return entries, nil
}

type termReader struct {
	buf []byte
	pos int
	err error
}

func (r *termReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (r *termReader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *termReader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *termReader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *termReader) string() string {
	n := int(r.uint16())
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}

// fastFields holds row ids and sparse typed columns, keyed by doc id.
type fastFields struct {
	Rows    []uint64                 `json:"rows"`
	Numeric map[string]numericColumn `json:"numeric,omitempty"`
	Keyword map[string]keywordColumn `json:"keyword,omitempty"`
}

type numericColumn struct {
	Docs   []uint32  `json:"docs"`
	Values []float64 `json:"values"`
}

type keywordColumn struct {
	Docs   []uint32 `json:"docs"`
	Values []string `json:"values"`
}

func (c numericColumn) get(doc uint32) (float64, bool) {
	i, ok := slices.BinarySearch(c.Docs, doc)
	if !ok {
		return 0, false
	}
	return c.Values[i], true
}

func (c keywordColumn) get(doc uint32) (string, bool) {
	i, ok := slices.BinarySearch(c.Docs, doc)
	if !ok {
		return "", false
	}
	return c.Values[i], true
}
