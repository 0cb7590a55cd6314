package mvccindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/mvccindex/blobstore"
	"github.com/hupe1980/mvccindex/blobstore/minio"
	"github.com/hupe1980/mvccindex/blobstore/s3"
	"github.com/hupe1980/mvccindex/codec"
	"github.com/hupe1980/mvccindex/internal/fs"
	"github.com/hupe1980/mvccindex/internal/segment"
)

// Storage kinds.
const (
	StorageNone   = ""
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageS3     = "s3"
	StorageMinIO  = "minio"
)

// Config is the file configuration of a DB.
type Config struct {
	Storage StorageConfig `yaml:"storage"`

	PageCacheBytes      int64 `yaml:"page_cache_bytes"`
	MaxParallelWorkers  int   `yaml:"max_parallel_workers"`
	LeaderParticipation bool  `yaml:"leader_participation"`
	MemoryLimitBytes    int64 `yaml:"memory_limit_bytes"`
	IOLimitBytesPerSec  int64 `yaml:"io_limit_bytes_per_sec"`

	// Compression applies to every segment component: none, lz4 or zstd.
	// Empty keeps lz4 for columns and zstd for the document store.
	Compression string `yaml:"compression"`
	Codec       string `yaml:"codec"`
	Analyzer    string `yaml:"analyzer"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StorageConfig selects where checkpoints go.
type StorageConfig struct {
	Kind   string `yaml:"kind"`
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`

	// DynamoTable publishes S3 checkpoints through DynamoDB conditional writes.
	DynamoTable string `yaml:"dynamo_table"`
}

// DefaultConfig returns an in-memory configuration with parallel scans.
func DefaultConfig() Config {
	return Config{
		PageCacheBytes:      64 << 20,
		MaxParallelWorkers:  4,
		LeaderParticipation: true,
		Codec:               codec.Default.Name(),
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values and the fields each storage kind requires.
func (c Config) Validate() error {
	switch c.Storage.Kind {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.Dir == "" {
			return fmt.Errorf("%w: local storage requires dir", ErrInvalidConfig)
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("%w: s3 storage requires bucket", ErrInvalidConfig)
		}
	case StorageMinIO:
		if c.Storage.Bucket == "" || c.Storage.Endpoint == "" {
			return fmt.Errorf("%w: minio storage requires bucket and endpoint", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage kind %q", ErrInvalidConfig, c.Storage.Kind)
	}
	if c.Storage.DynamoTable != "" && c.Storage.Kind != StorageS3 {
		return fmt.Errorf("%w: dynamo_table requires s3 storage", ErrInvalidConfig)
	}

	if c.PageCacheBytes < 0 || c.MemoryLimitBytes < 0 || c.IOLimitBytesPerSec < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidConfig)
	}
	if c.MaxParallelWorkers < 0 {
		return fmt.Errorf("%w: max_parallel_workers must not be negative", ErrInvalidConfig)
	}
	if _, err := c.compression(); err != nil {
		return err
	}
	if _, ok := codec.ByName(c.codecName()); !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrInvalidConfig, c.Codec)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if _, err := segment.AnalyzerNamed(c.Analyzer); err != nil {
		return fmt.Errorf("%w: analyzer %q: %w", ErrInvalidConfig, c.Analyzer, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

func (c Config) codecName() string {
	if c.Codec == "" {
		return codec.Default.Name()
	}
	return c.Codec
}

func (c Config) compression() (*segment.Compression, error) {
	var comp segment.Compression
	switch strings.ToLower(c.Compression) {
	case "":
		return nil, nil
	case "none":
		comp = segment.CompressionNone
	case "lz4":
		comp = segment.CompressionLZ4
	case "zstd":
		comp = segment.CompressionZSTD
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrInvalidConfig, c.Compression)
	}
	return &comp, nil
}

func (c Config) level() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return l, nil
}

// logger builds the logger the configuration describes.
func (c Config) logger() *Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	if c.LogFormat == "json" {
		return NewJSONLogger(os.Stderr, level)
	}
	return NewTextLogger(os.Stderr, level)
}

// backend opens the blob store and committer of the storage section.
// Both are nil for StorageNone.
func (s StorageConfig) backend(ctx context.Context) (blobstore.BlobStore, blobstore.Committer, error) {
	switch s.Kind {
	case StorageNone:
		return nil, nil, nil
	case StorageMemory:
		return blobstore.NewMemoryStore(), nil, nil
	case StorageLocal:
		return blobstore.NewLocalStore(s.Dir, fs.LocalFS{}), nil, nil
	case StorageS3:
		st, err := s3.New(ctx, s.Bucket, func(o *s3.Options) {
			o.Prefix = s.Prefix
			o.Region = s.Region
			o.Endpoint = s.Endpoint
		})
		if err != nil {
			return nil, nil, err
		}
		if s.DynamoTable == "" {
			return st, nil, nil
		}
		baseURI := "s3://" + s.Bucket + "/" + s.Prefix
		committer, err := s3.NewDDBCommitStoreFromConfig(ctx, s.Region, s.DynamoTable, baseURI)
		if err != nil {
			return nil, nil, err
		}
		return st, committer, nil
	case StorageMinIO:
		st, err := minio.New(s.Bucket, minio.Options{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Secure:    s.Secure,
			Region:    s.Region,
			Prefix:    s.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown storage kind %q", ErrInvalidConfig, s.Kind)
	}
}

// remote reports whether checkpoints leave the process.
func (s StorageConfig) remote() bool {
	return s.Kind == StorageS3 || s.Kind == StorageMinIO
}
