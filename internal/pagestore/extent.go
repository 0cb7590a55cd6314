package pagestore

import (
	"context"
	"fmt"

	"github.com/hupe1980/mvccindex/model"
)

// ExtentBlocks returns the number of pages an extent of size bytes occupies.
// Empty extents still own one page so they have a pinnable location.
func ExtentBlocks(size uint64) int {
	if size == 0 {
		return 1
	}
	return int((size + PageSize - 1) / PageSize)
}

// WriteExtent allocates a contiguous run of pages and stores data in it.
func (s *Store) WriteExtent(ctx context.Context, data []byte) (model.FileEntry, error) {
	n := ExtentBlocks(uint64(len(data)))
	start, err := s.Extend(n)
	if err != nil {
		return model.FileEntry{}, err
	}
	for i := range n {
		lo := i * PageSize
		hi := min(lo+PageSize, len(data))
		var chunk []byte
		if lo < len(data) {
			chunk = data[lo:hi]
		}
		if err := s.WritePage(ctx, start+model.BlockNumber(i), chunk); err != nil {
			return model.FileEntry{}, err
		}
	}
	return model.FileEntry{StartingBlock: start, TotalBytes: uint64(len(data))}, nil
}

// ReadExtent reads back an extent written by WriteExtent.
func (s *Store) ReadExtent(ctx context.Context, fe model.FileEntry) ([]byte, error) {
	out := make([]byte, fe.TotalBytes)
	if _, err := s.NewExtentReader(fe).ReadAt(ctx, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// FreeExtent returns the pages of fe to the free list.
func (s *Store) FreeExtent(fe model.FileEntry) error {
	return s.Free(fe.StartingBlock, ExtentBlocks(fe.TotalBytes))
}

// ExtentReader reads an extent page by page.
type ExtentReader struct {
	store *Store
	fe    model.FileEntry
}

// NewExtentReader returns a reader over fe.
func (s *Store) NewExtentReader(fe model.FileEntry) *ExtentReader {
	return &ExtentReader{store: s, fe: fe}
}

// Size returns the extent length in bytes.
func (r *ExtentReader) Size() int64 {
	return int64(r.fe.TotalBytes)
}

// ReadAt reads len(p) bytes at off. It fails rather than returning a short read.
func (r *ExtentReader) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(r.fe.TotalBytes) {
		return 0, fmt.Errorf("extent read [%d,%d) beyond %d bytes", off, off+int64(len(p)), r.fe.TotalBytes)
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		blk := r.fe.StartingBlock + model.BlockNumber(pos/PageSize)
		page, err := r.store.ReadPage(ctx, blk)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], page[pos%PageSize:])
	}
	return n, nil
}
