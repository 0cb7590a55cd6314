package aggregate

import (
	"errors"
	"fmt"
)

// MetricKind names an aggregation function.
type MetricKind string

const (
	MetricCount MetricKind = "count"
	MetricSum   MetricKind = "sum"
	MetricMin   MetricKind = "min"
	MetricMax   MetricKind = "max"
	MetricAvg   MetricKind = "avg"
)

var (
	// ErrInvalidSpec is returned by Validate.
	ErrInvalidSpec = errors.New("invalid aggregation spec")
	// ErrMemoryLimit is returned when a partial outgrows Spec.MemoryLimit.
	ErrMemoryLimit = errors.New("aggregation memory limit exceeded")
)

// Metric is one output column.
type Metric struct {
	Name string     `json:"name"`
	Kind MetricKind `json:"kind"`
	// Field is the numeric fast field; count ignores it.
	Field string `json:"field,omitempty"`
}

// Spec describes an aggregation request.
type Spec struct {
	Metrics []Metric `json:"metrics"`
	// GroupBy is a keyword fast field. Empty aggregates into a single bucket.
	GroupBy string `json:"group_by,omitempty"`
	// BucketLimit keeps the largest buckets after the final merge. Zero keeps all.
	BucketLimit int `json:"bucket_limit,omitempty"`
	// MemoryLimit bounds the estimated size of one partial in bytes. Zero
	// means unbounded.
	MemoryLimit int64 `json:"memory_limit,omitempty"`
	// SkipVisibility trusts the index and skips row visibility checks.
	SkipVisibility bool `json:"skip_visibility,omitempty"`
}

// Count returns a spec counting matching documents.
func Count() Spec {
	return Spec{Metrics: []Metric{{Name: "count", Kind: MetricCount}}}
}

// Validate checks the spec.
func (s Spec) Validate() error {
	if len(s.Metrics) == 0 {
		return fmt.Errorf("%w: no metrics", ErrInvalidSpec)
	}
	seen := make(map[string]struct{}, len(s.Metrics))
	for _, m := range s.Metrics {
		if m.Name == "" {
			return fmt.Errorf("%w: metric without name", ErrInvalidSpec)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("%w: duplicate metric %q", ErrInvalidSpec, m.Name)
		}
		seen[m.Name] = struct{}{}
		switch m.Kind {
		case MetricCount:
		case MetricSum, MetricMin, MetricMax, MetricAvg:
			if m.Field == "" {
				return fmt.Errorf("%w: %s metric %q without field", ErrInvalidSpec, m.Kind, m.Name)
			}
		default:
			return fmt.Errorf("%w: unknown metric kind %q", ErrInvalidSpec, m.Kind)
		}
	}
	if s.BucketLimit < 0 {
		return fmt.Errorf("%w: negative bucket limit", ErrInvalidSpec)
	}
	return nil
}
