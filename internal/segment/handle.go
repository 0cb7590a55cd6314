package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/mvccindex/model"
)

// ErrNoComponent is returned by an Opener for components a segment lacks.
var ErrNoComponent = errors.New("component not present")

// Handle is a readable component of one segment.
type Handle interface {
	Size() int64
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// Opener resolves component handles of one segment.
type Opener func(ctx context.Context, comp model.Component) (Handle, error)

// ReadAll reads a whole component.
func ReadAll(ctx context.Context, h Handle) ([]byte, error) {
	out := make([]byte, h.Size())
	if len(out) == 0 {
		return out, nil
	}
	if _, err := h.ReadAt(ctx, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// BytesHandle serves a component held in memory.
type BytesHandle []byte

// Size implements Handle.
func (h BytesHandle) Size() int64 { return int64(len(h)) }

// ReadAt implements Handle.
func (h BytesHandle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > int64(len(h)) {
		return 0, fmt.Errorf("read [%d,%d) beyond %d bytes", off, off+int64(len(p)), len(h))
	}
	return copy(p, h[off:]), nil
}

// DataOpener serves the components of a built segment.
func DataOpener(d *Data) Opener {
	return func(ctx context.Context, comp model.Component) (Handle, error) {
		b, ok := d.Components[comp]
		if !ok {
			return nil, fmt.Errorf("%s: %w", comp, ErrNoComponent)
		}
		return BytesHandle(b), nil
	}
}
