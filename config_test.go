package mvccindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvccindex/query"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
storage:
  kind: local
  dir: /var/lib/mvccindex
max_parallel_workers: 8
leader_participation: false
compression: zstd
codec: json
analyzer: simple
log_level: debug
log_format: json
`))
	require.NoError(t, err)

	assert.Equal(t, StorageLocal, cfg.Storage.Kind)
	assert.Equal(t, "/var/lib/mvccindex", cfg.Storage.Dir)
	assert.Equal(t, 8, cfg.MaxParallelWorkers)
	assert.False(t, cfg.LeaderParticipation)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, "json", cfg.Codec)
	assert.Equal(t, "simple", cfg.Analyzer)
	assert.Equal(t, "json", cfg.LogFormat)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultConfig().PageCacheBytes, cfg.PageCacheBytes)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"local without dir", "storage: {kind: local}"},
		{"s3 without bucket", "storage: {kind: s3}"},
		{"minio without endpoint", "storage: {kind: minio, bucket: b}"},
		{"unknown storage", "storage: {kind: tape}"},
		{"dynamo without s3", "storage: {kind: memory, dynamo_table: t}"},
		{"negative workers", "max_parallel_workers: -1"},
		{"negative limit", "memory_limit_bytes: -5"},
		{"unknown compression", "compression: brotli"},
		{"unknown codec", "codec: xml"},
		{"unknown analyzer", "analyzer: klingon"},
		{"bad log level", "log_level: loud"},
		{"bad log format", "log_format: xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	require.NoError(t, DefaultConfig().Validate())
	_, err := ParseConfig([]byte("max_parallel_workers: [1"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mvccindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel_workers: 2\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxParallelWorkers)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{Kind: StorageLocal, Dir: t.TempDir()}
	cfg.Compression = "lz4"

	db := openDB(t, WithConfig(cfg))
	flush(t, db, body("disk drive"), body("tape drive"))
	_, err := db.Checkpoint(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened := openDB(t, WithConfig(cfg))
	assert.Equal(t, uint64(2), count(t, reopened, nil, query.Term("body", "drive")))
	assert.Equal(t, uint64(1), count(t, reopened, nil, query.Term("body", "disk")))
}
