package pagestore

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/model"
)

const manifestVersion = 1

// manifest describes one published checkpoint.
type manifest struct {
	Version    int        `json:"version"`
	Generation uint64     `json:"generation"`
	NumBlocks  uint32     `json:"num_blocks"`
	Free       []Run      `json:"free,omitempty"`
	Images     []imageRef `json:"images,omitempty"`
}

type imageRef struct {
	Block      model.BlockNumber `json:"block"`
	Generation uint64            `json:"generation"`
}

func imageName(gen uint64, blk model.BlockNumber) string {
	return fmt.Sprintf("pages/%020d/%010d", gen, blk)
}

func manifestName(gen uint64, c codec.Codec) string {
	return fmt.Sprintf("manifests/%020d.%s", gen, c.Name())
}

// codecFromManifestName returns the codec that wrote the manifest.
func codecFromManifestName(name string) (codec.Codec, error) {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	c, ok := codec.ByName(ext)
	if !ok {
		return nil, fmt.Errorf("manifest %q: unknown codec %q", name, ext)
	}
	return c, nil
}

// CheckpointStats reports what one Checkpoint call did.
type CheckpointStats struct {
	Generation   uint64
	PagesWritten int
	ImagesPruned int
}

// Checkpoint persists every dirty page and publishes a new manifest.
// Pages dirtied while the checkpoint runs stay dirty for the next one.
func (s *Store) Checkpoint(ctx context.Context) (CheckpointStats, error) {
	if s.opts.Backend == nil {
		return CheckpointStats{}, ErrNoBackend
	}

	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	rc := s.opts.ResourceController
	if err := rc.AcquireBackground(ctx); err != nil {
		return CheckpointStats{}, err
	}
	defer rc.ReleaseBackground()

	type dirtyPage struct {
		block model.BlockNumber
		seq   uint64
		data  []byte
	}

	s.mu.Lock()
	gen := s.generation + 1
	garbage := s.garbage
	s.garbage = nil
	pages := make([]dirtyPage, 0, len(s.dirty))
	for blk, seq := range s.dirty {
		pages = append(pages, dirtyPage{block: blk, seq: seq, data: slices.Clone(s.resident[blk])})
	}
	m := manifest{
		Version:    manifestVersion,
		Generation: gen,
		NumBlocks:  s.nblocks,
		Free:       slices.Clone(s.free),
	}
	for blk, g := range s.images {
		if _, ok := s.dirty[blk]; !ok {
			m.Images = append(m.Images, imageRef{Block: blk, Generation: g})
		}
	}
	s.mu.Unlock()

	published := false
	defer func() {
		if !published {
			s.mu.Lock()
			s.garbage = append(s.garbage, garbage...)
			s.mu.Unlock()
		}
	}()

	slices.SortFunc(pages, func(a, b dirtyPage) int { return cmp.Compare(a.block, b.block) })
	for _, p := range pages {
		if err := rc.AcquireIO(ctx, len(p.data)); err != nil {
			return CheckpointStats{}, err
		}
		if err := s.opts.Backend.Put(ctx, imageName(gen, p.block), p.data); err != nil {
			return CheckpointStats{}, fmt.Errorf("checkpoint page %d: %w", p.block, err)
		}
		m.Images = append(m.Images, imageRef{Block: p.block, Generation: gen})
	}
	slices.SortFunc(m.Images, func(a, b imageRef) int { return cmp.Compare(a.Block, b.Block) })

	data, err := s.opts.Codec.Marshal(&m)
	if err != nil {
		return CheckpointStats{}, fmt.Errorf("encode manifest: %w", err)
	}
	name := manifestName(gen, s.opts.Codec)
	if err := s.opts.Backend.Put(ctx, name, data); err != nil {
		return CheckpointStats{}, fmt.Errorf("write manifest: %w", err)
	}
	if err := s.opts.Committer.Commit(ctx, gen, name); err != nil {
		return CheckpointStats{}, fmt.Errorf("publish manifest %d: %w", gen, err)
	}

	// Published. Swap the new images in and collect superseded ones.
	published = true
	obsolete := garbage
	s.mu.Lock()
	s.generation = gen
	for _, p := range pages {
		seq, stillDirty := s.dirty[p.block]
		if !stillDirty {
			// Freed while the checkpoint was running.
			obsolete = append(obsolete, imageName(gen, p.block))
			continue
		}
		if old, ok := s.images[p.block]; ok {
			obsolete = append(obsolete, imageName(old, p.block))
		}
		s.images[p.block] = gen
		if seq == p.seq {
			delete(s.dirty, p.block)
			delete(s.resident, p.block)
		}
	}
	s.mu.Unlock()

	pruned := 0
	for _, name := range obsolete {
		if err := s.opts.Backend.Delete(ctx, name); err != nil {
			s.logger().Warn("Failed to prune page image", "name", name, "error", err)
			continue
		}
		pruned++
	}

	s.logger().Info("Checkpoint completed", "generation", gen, "pages", len(pages), "pruned", pruned)
	return CheckpointStats{Generation: gen, PagesWritten: len(pages), ImagesPruned: pruned}, nil
}

func (s *Store) recover(ctx context.Context) error {
	gen, name, err := s.opts.Committer.Latest(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint pointer: %w", err)
	}
	if gen == 0 {
		return nil
	}

	c, err := codecFromManifestName(name)
	if err != nil {
		return err
	}
	data, err := readBlob(ctx, s, name)
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", name, err)
	}
	var m manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode manifest %s: %w", name, err)
	}
	if m.Version != manifestVersion {
		return fmt.Errorf("manifest %s: unsupported version %d", name, m.Version)
	}
	if m.Generation != gen {
		return fmt.Errorf("manifest %s: generation %d does not match pointer %d", name, m.Generation, gen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation = m.Generation
	s.nblocks = m.NumBlocks
	s.free = m.Free
	for _, ref := range m.Images {
		if uint32(ref.Block) >= m.NumBlocks {
			return fmt.Errorf("manifest %s: image for block %d beyond %d blocks", name, ref.Block, m.NumBlocks)
		}
		s.images[ref.Block] = ref.Generation
	}
	s.logger().Info("Recovered checkpoint", "generation", gen, "blocks", m.NumBlocks, "images", len(m.Images))
	return nil
}

func readBlob(ctx context.Context, s *Store, name string) ([]byte, error) {
	b, err := s.opts.Backend.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()
	if err := s.opts.ResourceController.AcquireIO(ctx, int(b.Size())); err != nil {
		return nil, err
	}
	out := make([]byte, b.Size())
	if _, err := b.ReadAt(ctx, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}
