// Package query defines the serializable query tree scans evaluate against
// segments.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a query node.
type Kind string

const (
	KindMatchAll Kind = "match_all"
	KindTerm     Kind = "term"
	KindAnd      Kind = "and"
	KindOr       Kind = "or"
)

// ErrInvalidQuery is returned by Validate.
var ErrInvalidQuery = errors.New("invalid query")

// Query is a node of the query tree. Term text is analyzed with the same
// analyzer documents were indexed with; a multi-token text matches documents
// containing every token.
type Query struct {
	Kind    Kind    `json:"kind"`
	Field   string  `json:"field,omitempty"`
	Text    string  `json:"text,omitempty"`
	Clauses []Query `json:"clauses,omitempty"`
}

// MatchAll matches every live document.
func MatchAll() Query { return Query{Kind: KindMatchAll} }

// Term matches documents whose text field contains the analyzed text.
func Term(field, text string) Query { return Query{Kind: KindTerm, Field: field, Text: text} }

// And matches documents matching every clause.
func And(clauses ...Query) Query { return Query{Kind: KindAnd, Clauses: clauses} }

// Or matches documents matching any clause.
func Or(clauses ...Query) Query { return Query{Kind: KindOr, Clauses: clauses} }

// Validate checks the tree is well formed.
func (q Query) Validate() error {
	switch q.Kind {
	case KindMatchAll:
		return nil
	case KindTerm:
		if q.Field == "" {
			return fmt.Errorf("%w: term without field", ErrInvalidQuery)
		}
		return nil
	case KindAnd, KindOr:
		if len(q.Clauses) == 0 {
			return fmt.Errorf("%w: %s without clauses", ErrInvalidQuery, q.Kind)
		}
		for _, c := range q.Clauses {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, q.Kind)
	}
}

func (q Query) String() string {
	switch q.Kind {
	case KindTerm:
		return fmt.Sprintf("%s:%q", q.Field, q.Text)
	case KindAnd, KindOr:
		parts := make([]string, len(q.Clauses))
		for i, c := range q.Clauses {
			parts[i] = c.String()
		}
		return fmt.Sprintf("%s(%s)", q.Kind, strings.Join(parts, ", "))
	default:
		return string(q.Kind)
	}
}
