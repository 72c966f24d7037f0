package engine

import (
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// Query selects documents of a segment.
type Query interface {
	// docs returns the matching local document ids of s, deleted ones included.
	docs(s *segment) *roaring.Bitmap
	// terms returns the terms contributing to the score.
	terms() []string
}

// TermQuery matches documents containing Term in Field.
type TermQuery struct {
	Field string
	Term  string
}

func (q TermQuery) key() string {
	field := q.Field
	if field == "" {
		field = AllField
	}
	return termKey(field, q.Term)
}

func (q TermQuery) docs(s *segment) *roaring.Bitmap {
	if p, ok := s.postings[q.key()]; ok {
		return p.docs.Clone()
	}
	return roaring.New()
}

func (q TermQuery) terms() []string { return []string{q.key()} }

// MatchAllQuery matches every document.
type MatchAllQuery struct{}

func (MatchAllQuery) docs(s *segment) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(s.docCount()))
	return bm
}

func (MatchAllQuery) terms() []string { return nil }

// BooleanQuery combines clauses. A document matches when it matches every
// Must clause, at least one Should clause if there are no Must clauses, and
// no MustNot clause. Should clauses add to the score of Must matches.
type BooleanQuery struct {
	Must    []Query
	Should  []Query
	MustNot []Query
}

func (q BooleanQuery) docs(s *segment) *roaring.Bitmap {
	var out *roaring.Bitmap
	switch {
	case len(q.Must) > 0:
		for _, c := range q.Must {
			if out == nil {
				out = c.docs(s)
			} else {
				out.And(c.docs(s))
			}
		}
	case len(q.Should) > 0:
		out = roaring.New()
		for _, c := range q.Should {
			out.Or(c.docs(s))
		}
	default:
		out = MatchAllQuery{}.docs(s)
	}
	for _, c := range q.MustNot {
		out.AndNot(c.docs(s))
	}
	return out
}

func (q BooleanQuery) terms() []string {
	var out []string
	for _, c := range q.Must {
		out = append(out, c.terms()...)
	}
	for _, c := range q.Should {
		out = append(out, c.terms()...)
	}
	return out
}

// ParseQuery parses a simple query string. Whitespace separated words are
// optional terms; a leading '+' makes a word required and '-' excludes it.
// "field:word" restricts a word to a field. An empty query or "*" matches
// all documents.
func ParseQuery(analyzer Analyzer, text string) Query {
	text = strings.TrimSpace(text)
	if text == "" || text == "*" {
		return MatchAllQuery{}
	}
	if analyzer == nil {
		analyzer = StandardAnalyzer{}
	}

	var q BooleanQuery
	for _, word := range strings.Fields(text) {
		occur := byte(0)
		if word[0] == '+' || word[0] == '-' {
			occur, word = word[0], word[1:]
		}
		field := AllField
		if name, value, ok := strings.Cut(word, ":"); ok && name != "" && value != "" {
			field, word = name, value
		}

		tokens := analyzer.Analyze(word)
		if len(tokens) == 0 {
			continue
		}
		var clause Query
		if len(tokens) == 1 {
			clause = TermQuery{Field: field, Term: tokens[0]}
		} else {
			var all BooleanQuery
			for _, tok := range tokens {
				all.Must = append(all.Must, TermQuery{Field: field, Term: tok})
			}
			clause = all
		}

		switch occur {
		case '+':
			q.Must = append(q.Must, clause)
		case '-':
			q.MustNot = append(q.MustNot, clause)
		default:
			q.Should = append(q.Should, clause)
		}
	}
	if len(q.Must) == 0 && len(q.Should) == 0 && len(q.MustNot) == 0 {
		return MatchAllQuery{}
	}
	return q
}
