package engine

import (
	"cmp"
	"encoding/json"
	"math"
	"slices"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Hit is one search result.
type Hit struct {
	Key    string          `json:"key"`
	Score  float64         `json:"score"`
	Source json.RawMessage `json:"source,omitempty"`
}

type termStats struct {
	idf map[string]float64
	avg float64
}

// stats computes collection statistics over all documents of the reader,
// deleted ones included.
func (r *Reader) stats(terms []string) termStats {
	var total, totalLen uint64
	for _, rs := range r.segs {
		total += uint64(rs.seg.docCount())
		totalLen += rs.seg.totalLen
	}
	st := termStats{idf: make(map[string]float64, len(terms))}
	if total == 0 {
		return st
	}
	st.avg = float64(totalLen) / float64(total)
	for _, t := range terms {
		if _, ok := st.idf[t]; ok {
			continue
		}
		var df uint64
		for _, rs := range r.segs {
			if p, ok := rs.seg.postings[t]; ok {
				df += p.docs.GetCardinality()
			}
		}
		n := float64(total)
		st.idf[t] = math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	}
	return st
}

func (st termStats) score(s *segment, doc uint32, terms []string) float64 {
	var score float64
	dl := float64(s.lengths[doc])
	for _, t := range terms {
		p, ok := s.postings[t]
		if !ok {
			continue
		}
		tf := float64(p.freq(doc))
		if tf == 0 {
			continue
		}
		norm := 1 - bm25B
		if st.avg > 0 {
			norm += bm25B * dl / st.avg
		}
		score += st.idf[t] * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
	}
	return score
}

// Search returns the best matching live documents, highest score first and
// by key among equal scores. limit <= 0 returns all matches.
func (r *Reader) Search(q Query, limit int) ([]Hit, error) {
	if err := r.IncRef(); err != nil {
		return nil, err
	}
	defer r.DecRef()

	terms := q.terms()
	st := r.stats(terms)

	var hits []Hit
	for _, rs := range r.segs {
		matches := q.docs(rs.seg)
		matches.AndNot(rs.deleted)
		it := matches.Iterator()
		for it.HasNext() {
			doc := it.Next()
			hits = append(hits, Hit{
				Key:    rs.seg.keys[doc],
				Score:  st.score(rs.seg, doc, terms),
				Source: rs.seg.sources[doc],
			})
		}
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count returns the number of live documents matching q.
func (r *Reader) Count(q Query) (int, error) {
	if err := r.IncRef(); err != nil {
		return 0, err
	}
	defer r.DecRef()

	var n uint64
	for _, rs := range r.segs {
		matches := q.docs(rs.seg)
		matches.AndNot(rs.deleted)
		n += matches.GetCardinality()
	}
	return int(n), nil
}
