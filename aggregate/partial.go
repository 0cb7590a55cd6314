package aggregate

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Stat accumulates one metric of one bucket.
type Stat struct {
	Count uint64  `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (s *Stat) add(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Count++
	s.Sum += v
}

func (s *Stat) merge(o Stat) {
	if o.Count == 0 {
		return
	}
	if s.Count == 0 || o.Min < s.Min {
		s.Min = o.Min
	}
	if s.Count == 0 || o.Max > s.Max {
		s.Max = o.Max
	}
	s.Count += o.Count
	s.Sum += o.Sum
}

// Bucket is the partial state of one group.
type Bucket struct {
	DocCount uint64 `json:"doc_count"`
	// Stats is indexed like Spec.Metrics.
	Stats []Stat `json:"stats"`
}

// Partial is a worker-local, not yet finalized result.
type Partial struct {
	Buckets map[string]*Bucket `json:"buckets"`
	// Segments and Rows count the work that produced the partial.
	Segments    int    `json:"segments"`
	RowsMatched uint64 `json:"rows_matched"`
	RowsVisible uint64 `json:"rows_visible"`

	metrics int
}

// NewPartial creates an empty partial for spec.
func NewPartial(spec Spec) *Partial {
	return &Partial{Buckets: make(map[string]*Bucket), metrics: len(spec.Metrics)}
}

func (p *Partial) bucket(key string) *Bucket {
	b := p.Buckets[key]
	if b == nil {
		b = &Bucket{Stats: make([]Stat, p.metrics)}
		p.Buckets[key] = b
	}
	return b
}

// EstimatedBytes approximates the memory held by the partial.
func (p *Partial) EstimatedBytes() int64 {
	var n int64
	for k, b := range p.Buckets {
		n += int64(len(k)) + 64 + int64(len(b.Stats))*32
	}
	return n
}

// Merge folds o into p.
func (p *Partial) Merge(o *Partial) error {
	if o == nil {
		return nil
	}
	if p.Buckets == nil {
		p.Buckets = make(map[string]*Bucket, len(o.Buckets))
	}
	for key, ob := range o.Buckets {
		if p.metrics == 0 {
			p.metrics = len(ob.Stats)
		}
		if len(ob.Stats) != p.metrics {
			return fmt.Errorf("merge bucket %q: %d metrics, want %d", key, len(ob.Stats), p.metrics)
		}
		b := p.bucket(key)
		b.DocCount += ob.DocCount
		for i := range ob.Stats {
			b.Stats[i].merge(ob.Stats[i])
		}
	}
	p.Segments += o.Segments
	p.RowsMatched += o.RowsMatched
	p.RowsVisible += o.RowsVisible
	return nil
}

// BucketResult is one finalized group.
type BucketResult struct {
	Key      string `json:"key"`
	DocCount uint64 `json:"doc_count"`
	// Values maps metric names to results. Min, max and avg are absent
	// for buckets without values.
	Values map[string]float64 `json:"values"`
}

// Result is the final aggregation output.
type Result struct {
	Buckets  []BucketResult `json:"buckets"`
	Segments int            `json:"segments"`
	// TotalDocs counts every aggregated document, including those in
	// buckets the limit dropped.
	TotalDocs uint64 `json:"total_docs"`
}

// Finalize computes metric values and applies the bucket limit. Buckets are
// ordered by doc count, largest first, then by key.
func (p *Partial) Finalize(spec Spec) Result {
	res := Result{Segments: p.Segments, Buckets: make([]BucketResult, 0, len(p.Buckets))}
	for _, key := range slices.Sorted(maps.Keys(p.Buckets)) {
		b := p.Buckets[key]
		res.TotalDocs += b.DocCount

		br := BucketResult{Key: key, DocCount: b.DocCount, Values: make(map[string]float64, len(spec.Metrics))}
		for i, m := range spec.Metrics {
			if i >= len(b.Stats) {
				break
			}
			st := b.Stats[i]
			switch m.Kind {
			case MetricCount:
				br.Values[m.Name] = float64(b.DocCount)
			case MetricSum:
				br.Values[m.Name] = st.Sum
			case MetricMin:
				if st.Count > 0 {
					br.Values[m.Name] = st.Min
				}
			case MetricMax:
				if st.Count > 0 {
					br.Values[m.Name] = st.Max
				}
			case MetricAvg:
				if st.Count > 0 {
					br.Values[m.Name] = st.Sum / float64(st.Count)
				}
			}
		}
		res.Buckets = append(res.Buckets, br)
	}

	slices.SortStableFunc(res.Buckets, func(a, b BucketResult) int {
		if c := cmp.Compare(b.DocCount, a.DocCount); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	if spec.BucketLimit > 0 && len(res.Buckets) > spec.BucketLimit {
		res.Buckets = res.Buckets[:spec.BucketLimit]
	}
	return res
}
