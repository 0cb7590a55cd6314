package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/mvccindex/model"
	"github.com/hupe1980/mvccindex/query"
)

// Reader evaluates queries against one segment.
type Reader struct {
	opts Options
	open Opener

	terms    map[termKey]termEntry
	postings []byte
	fast     fastFields
	norms    map[string][]uint32
	deleted  *roaring.Bitmap

	storeOnce sync.Once
	store     []model.Document
	storeErr  error
}

// Open reads the index components of a segment. The document store is
// loaded on first use.
func Open(ctx context.Context, open Opener, optFns ...func(o *Options)) (*Reader, error) {
	opts, err := resolveOptions(optFns)
	if err != nil {
		return nil, err
	}
	r := &Reader{opts: opts, open: open}

	termBytes, err := r.component(ctx, model.ComponentTerms)
	if err != nil {
		return nil, err
	}
	entries, err := decodeTerms(termBytes)
	if err != nil {
		return nil, err
	}
	r.terms = make(map[termKey]termEntry, len(entries))
	for _, e := range entries {
		r.terms[termKey{field: e.Field, term: e.Term}] = e
	}

	if r.postings, err = r.component(ctx, model.ComponentPostings); err != nil {
		return nil, err
	}

	fastBytes, err := r.component(ctx, model.ComponentFastFields)
	if err != nil {
		return nil, err
	}
	if err := opts.Codec.Unmarshal(fastBytes, &r.fast); err != nil {
		return nil, fmt.Errorf("decode fast fields: %w", err)
	}

	normBytes, err := r.component(ctx, model.ComponentFieldNorms)
	if err != nil {
		return nil, err
	}
	if err := opts.Codec.Unmarshal(normBytes, &r.norms); err != nil {
		return nil, fmt.Errorf("decode field norms: %w", err)
	}

	r.deleted = roaring.New()
	delBytes, err := r.component(ctx, model.ComponentDelete)
	switch {
	case errors.Is(err, ErrNoComponent):
	case err != nil:
		return nil, err
	default:
		if err := r.deleted.UnmarshalBinary(delBytes); err != nil {
			return nil, fmt.Errorf("decode deletes: %w", err)
		}
	}
	return r, nil
}

func (r *Reader) component(ctx context.Context, comp model.Component) ([]byte, error) {
	h, err := r.open(ctx, comp)
	if err != nil {
		return nil, err
	}
	raw, err := ReadAll(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", comp, err)
	}
	data, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", comp, err)
	}
	return data, nil
}

// NumDocs returns the number of documents, deleted ones included.
func (r *Reader) NumDocs() uint32 {
	return uint32(len(r.fast.Rows))
}

// Deleted returns a copy of the delete bitmap.
func (r *Reader) Deleted() *roaring.Bitmap {
	return r.deleted.Clone()
}

// IsDeleted reports whether doc is marked deleted.
func (r *Reader) IsDeleted(doc uint32) bool {
	return r.deleted.Contains(doc)
}

// RowID returns the heap row doc was indexed from.
func (r *Reader) RowID(doc uint32) model.RowID {
	if int(doc) >= len(r.fast.Rows) {
		return model.InvalidRowID
	}
	return model.RowIDFromUint64(r.fast.Rows[doc])
}

// Numeric returns a numeric fast field value.
func (r *Reader) Numeric(field string, doc uint32) (float64, bool) {
	col, ok := r.fast.Numeric[field]
	if !ok {
		return 0, false
	}
	return col.get(doc)
}

// Keyword returns a keyword fast field value.
func (r *Reader) Keyword(field string, doc uint32) (string, bool) {
	col, ok := r.fast.Keyword[field]
	if !ok {
		return "", false
	}
	return col.get(doc)
}

// FieldNorm returns the number of tokens of a text field in doc.
func (r *Reader) FieldNorm(field string, doc uint32) uint32 {
	norms := r.norms[field]
	if int(doc) >= len(norms) {
		return 0
	}
	return norms[doc]
}

// DocFreq returns the number of documents containing term, deletes included.
func (r *Reader) DocFreq(field, term string) uint32 {
	return r.terms[termKey{field: field, term: term}].DocFreq
}

// Postings returns the doc ids containing an already analyzed term.
func (r *Reader) Postings(field, term string) (*roaring.Bitmap, error) {
	e, ok := r.terms[termKey{field: field, term: term}]
	if !ok {
		return roaring.New(), nil
	}
	end := e.Offset + uint64(e.Length)
	if end > uint64(len(r.postings)) {
		return nil, fmt.Errorf("postings %s:%s beyond component", field, term)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(r.postings[e.Offset:end]); err != nil {
		return nil, fmt.Errorf("decode postings %s:%s: %w", field, term, err)
	}
	return bm, nil
}

// Search returns the live doc ids matching q.
func (r *Reader) Search(ctx context.Context, q query.Query) (*roaring.Bitmap, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	bm, err := r.eval(ctx, q)
	if err != nil {
		return nil, err
	}
	bm.AndNot(r.deleted)
	return bm, nil
}

func (r *Reader) eval(ctx context.Context, q query.Query) (*roaring.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch q.Kind {
	case query.KindMatchAll:
		bm := roaring.New()
		bm.AddRange(0, uint64(r.NumDocs()))
		return bm, nil

	case query.KindTerm:
		terms := Tokenize(r.opts.Analyzer, q.Text)
		if len(terms) == 0 {
			return roaring.New(), nil
		}
		var out *roaring.Bitmap
		for _, term := range terms {
			bm, err := r.Postings(q.Field, term)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = bm
			} else {
				out.And(bm)
			}
		}
		return out, nil

	case query.KindAnd:
		var out *roaring.Bitmap
		for _, c := range q.Clauses {
			bm, err := r.eval(ctx, c)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = bm
			} else {
				out.And(bm)
			}
			if out.IsEmpty() {
				break
			}
		}
		return out, nil

	default: // query.KindOr
		out := roaring.New()
		for _, c := range q.Clauses {
			bm, err := r.eval(ctx, c)
			if err != nil {
				return nil, err
			}
			out.Or(bm)
		}
		return out, nil
	}
}

// Document returns the stored document doc.
func (r *Reader) Document(ctx context.Context, doc uint32) (model.Document, error) {
	r.storeOnce.Do(func() {
		data, err := r.component(ctx, model.ComponentStore)
		if err != nil {
			r.storeErr = err
			return
		}
		r.storeErr = r.opts.Codec.Unmarshal(data, &r.store)
	})
	if r.storeErr != nil {
		return model.Document{}, r.storeErr
	}
	if int(doc) >= len(r.store) {
		return model.Document{}, fmt.Errorf("doc %d beyond %d stored documents", doc, len(r.store))
	}
	return r.store[doc].Clone(), nil
}
