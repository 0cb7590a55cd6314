package segment

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/bleve/v2/analysis"

	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/model"
)

// Options configures building and reading segments.
type Options struct {
	// Analyzer tokenizes text fields. Defaults to DefaultAnalyzer.
	Analyzer analysis.Analyzer
	// FastFieldCompression applies to terms, postings, fast fields and norms.
	FastFieldCompression Compression
	// StoreCompression applies to the document store.
	StoreCompression Compression
	// Codec encodes the column components. Defaults to codec.Default.
	Codec codec.Codec
}

func resolveOptions(optFns []func(o *Options)) (Options, error) {
	opts := Options{
		FastFieldCompression: CompressionLZ4,
		StoreCompression:     CompressionZSTD,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Analyzer == nil {
		an, err := DefaultAnalyzer()
		if err != nil {
			return Options{}, fmt.Errorf("load analyzer: %w", err)
		}
		opts.Analyzer = an
	}
	return opts, nil
}

// Data is a built segment: the encoded bytes of every component.
type Data struct {
	NumDocs    uint32
	Components map[model.Component][]byte
}

// Size returns the total encoded size.
func (d *Data) Size() int64 {
	var n int64
	for _, b := range d.Components {
		n += int64(len(b))
	}
	return n
}

// Builder accumulates documents into a segment. Doc ids are assigned in
// insertion order. Non-finite numeric values are not indexed.
type Builder struct {
	opts Options
	rows []model.RowID
	docs []model.Document
}

// NewBuilder creates an empty builder.
func NewBuilder(optFns ...func(o *Options)) (*Builder, error) {
	opts, err := resolveOptions(optFns)
	if err != nil {
		return nil, err
	}
	return &Builder{opts: opts}, nil
}

// Add appends the document stored at tid.
func (b *Builder) Add(tid model.RowID, doc model.Document) {
	b.rows = append(b.rows, tid)
	b.docs = append(b.docs, doc.Clone())
}

// Len returns the number of added documents.
func (b *Builder) Len() int {
	return len(b.docs)
}

// Build encodes all components.
func (b *Builder) Build(ctx context.Context) (*Data, error) {
	if len(b.docs) > math.MaxUint32 {
		return nil, fmt.Errorf("segment too large: %d documents", len(b.docs))
	}

	postings := make(map[termKey]*roaring.Bitmap)
	norms := make(map[string][]uint32)
	fast := fastFields{
		Rows:    make([]uint64, len(b.rows)),
		Numeric: make(map[string]numericColumn),
		Keyword: make(map[string]keywordColumn),
	}

	for i, doc := range b.docs {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id := uint32(i)
		fast.Rows[i] = b.rows[i].Uint64()

		for _, field := range slices.Sorted(maps.Keys(doc.Text)) {
			terms := Tokenize(b.opts.Analyzer, doc.Text[field])
			if norms[field] == nil {
				norms[field] = make([]uint32, len(b.docs))
			}
			norms[field][i] = uint32(len(terms))
			for _, term := range terms {
				k := termKey{field: field, term: term}
				bm := postings[k]
				if bm == nil {
					bm = roaring.New()
					postings[k] = bm
				}
				bm.Add(id)
			}
		}
		for field, v := range doc.Numeric {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			col := fast.Numeric[field]
			col.Docs = append(col.Docs, id)
			col.Values = append(col.Values, v)
			fast.Numeric[field] = col
		}
		for field, v := range doc.Keyword {
			col := fast.Keyword[field]
			col.Docs = append(col.Docs, id)
			col.Values = append(col.Values, v)
			fast.Keyword[field] = col
		}
	}

	keys := slices.SortedFunc(maps.Keys(postings), func(a, b termKey) int {
		return compareTermEntries(termEntry{Field: a.field, Term: a.term}, termEntry{Field: b.field, Term: b.term})
	})
	var postingBytes []byte
	entries := make([]termEntry, 0, len(keys))
	for _, k := range keys {
		bm := postings[k]
		bm.RunOptimize()
		data, err := bm.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("encode postings %s:%s: %w", k.field, k.term, err)
		}
		entries = append(entries, termEntry{
			Field:   k.field,
			Term:    k.term,
			Offset:  uint64(len(postingBytes)),
			Length:  uint32(len(data)),
			DocFreq: uint32(bm.GetCardinality()),
		})
		postingBytes = append(postingBytes, data...)
	}

	termBytes, err := encodeTerms(entries)
	if err != nil {
		return nil, err
	}
	fastBytes, err := b.opts.Codec.Marshal(&fast)
	if err != nil {
		return nil, fmt.Errorf("encode fast fields: %w", err)
	}
	normBytes, err := b.opts.Codec.Marshal(norms)
	if err != nil {
		return nil, fmt.Errorf("encode field norms: %w", err)
	}
	storeBytes, err := b.opts.Codec.Marshal(b.docs)
	if err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}

	d := &Data{NumDocs: uint32(len(b.docs)), Components: make(map[model.Component][]byte, 5)}
	raw := []struct {
		comp model.Component
		data []byte
		c    Compression
	}{
		{model.ComponentTerms, termBytes, b.opts.FastFieldCompression},
		{model.ComponentPostings, postingBytes, b.opts.FastFieldCompression},
		{model.ComponentFastFields, fastBytes, b.opts.FastFieldCompression},
		{model.ComponentFieldNorms, normBytes, b.opts.FastFieldCompression},
		{model.ComponentStore, storeBytes, b.opts.StoreCompression},
	}
	for _, r := range raw {
		enc, err := compress(r.data, r.c)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", r.comp, err)
		}
		d.Components[r.comp] = enc
	}
	return d, nil
}

// EncodeDeletes encodes a delete bitmap as a delete component.
func EncodeDeletes(deleted *roaring.Bitmap) ([]byte, error) {
	bm := deleted.Clone()
	bm.RunOptimize()
	data, err := bm.ToBytes()
	if err != nil {
		return nil, err
	}
	return compress(data, CompressionNone)
}

// ExtentWriter stores component bytes as page extents.
type ExtentWriter interface {
	WriteExtent(ctx context.Context, data []byte) (model.FileEntry, error)
	FreeExtent(fe model.FileEntry) error
}

// Write stores every component of d and returns their locations. On error
// extents already written are freed.
func Write(ctx context.Context, w ExtentWriter, d *Data) (map[model.Component]model.FileEntry, error) {
	files := make(map[model.Component]model.FileEntry, len(d.Components))
	for _, comp := range model.Components {
		data, ok := d.Components[comp]
		if !ok {
			continue
		}
		fe, err := w.WriteExtent(ctx, data)
		if err != nil {
			for _, written := range files {
				_ = w.FreeExtent(written)
			}
			return nil, fmt.Errorf("write %s: %w", comp, err)
		}
		files[comp] = fe
	}
	return files, nil
}
