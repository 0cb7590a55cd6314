package segment

import (
	"sync"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/registry"

	// Register the analyzers AnalyzerNamed can resolve.
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"
)

var (
	defaultAnalyzerOnce sync.Once
	defaultAnalyzer     analysis.Analyzer
	defaultAnalyzerErr  error
)

// DefaultAnalyzer returns bleve's standard analyzer: unicode word
// segmentation, lower-casing and English stop words.
func DefaultAnalyzer() (analysis.Analyzer, error) {
	defaultAnalyzerOnce.Do(func() {
		defaultAnalyzer, defaultAnalyzerErr = registry.NewCache().AnalyzerNamed(standard.Name)
	})
	return defaultAnalyzer, defaultAnalyzerErr
}

// AnalyzerNamed resolves a registered bleve analyzer such as "standard",
// "simple", "keyword" or "en". The empty name is the default analyzer.
func AnalyzerNamed(name string) (analysis.Analyzer, error) {
	if name == "" || name == standard.Name {
		return DefaultAnalyzer()
	}
	return registry.NewCache().AnalyzerNamed(name)
}

// Tokenize returns the terms of text in order of appearance, duplicates
// included.
func Tokenize(an analysis.Analyzer, text string) []string {
	stream := an.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		terms = append(terms, string(tok.Term))
	}
	return terms
}
