package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/jsonindex/internal/hash"
)

const (
	segmentMagic   = "JIXS"
	segmentVersion = 1
)

// postings holds the documents containing a term and the term frequency in
// each, aligned with the ascending iteration order of docs.
type postings struct {
	docs  *roaring.Bitmap
	freqs []uint32
}

func (p *postings) freq(doc uint32) uint32 {
	r := p.docs.Rank(doc)
	if r == 0 || int(r) > len(p.freqs) {
		return 0
	}
	return p.freqs[r-1]
}

// segment is an immutable set of documents. Deletions are tracked outside
// the segment, by the writer and by each reader.
type segment struct {
	id       uint64
	keys     []string
	sources  [][]byte
	lengths  []uint32
	postings map[string]*postings
	byKey    map[string]uint32
	totalLen uint64

	// persisted is only read and written under the writer lock.
	persisted bool
}

func (s *segment) docCount() int { return len(s.keys) }

func (s *segment) fileName() string { return segmentFileName(s.id) }

// segmentBuilder accumulates documents in memory.
type segmentBuilder struct {
	keys     []string
	sources  [][]byte
	lengths  []uint32
	postings map[string]*postingsBuilder
	byKey    map[string]uint32
	deleted  *roaring.Bitmap
}

type postingsBuilder struct {
	docs  []uint32
	freqs []uint32
}

func newSegmentBuilder() *segmentBuilder {
	return &segmentBuilder{
		postings: make(map[string]*postingsBuilder),
		byKey:    make(map[string]uint32),
		deleted:  roaring.New(),
	}
}

func (b *segmentBuilder) len() int { return len(b.keys) }

func (b *segmentBuilder) live() int { return len(b.keys) - int(b.deleted.GetCardinality()) }

func (b *segmentBuilder) add(doc Document, analyzer Analyzer) {
	local := uint32(len(b.keys))
	freqs := make(map[string]uint32)
	var length uint32
	for _, f := range doc.Fields {
		for _, tok := range analyzer.Analyze(f.Value) {
			freqs[termKey(f.Name, tok)]++
			if f.Name != AllField {
				freqs[termKey(AllField, tok)]++
			}
			length++
		}
	}
	for term, n := range freqs {
		p, ok := b.postings[term]
		if !ok {
			p = &postingsBuilder{}
			b.postings[term] = p
		}
		p.docs = append(p.docs, local)
		p.freqs = append(p.freqs, n)
	}

	b.keys = append(b.keys, doc.Key)
	b.sources = append(b.sources, slices.Clone(doc.Source))
	b.lengths = append(b.lengths, length)
	b.byKey[doc.Key] = local
}

// delete marks the buffered document with key as deleted.
func (b *segmentBuilder) delete(key string) bool {
	local, ok := b.byKey[key]
	if !ok || b.deleted.Contains(local) {
		return false
	}
	b.deleted.Add(local)
	return true
}

// build freezes the buffered documents into a segment. The builder must not
// be used afterwards.
func (b *segmentBuilder) build(id uint64) (*segment, *roaring.Bitmap) {
	s := &segment{
		id:       id,
		keys:     b.keys,
		sources:  b.sources,
		lengths:  b.lengths,
		postings: make(map[string]*postings, len(b.postings)),
		byKey:    b.byKey,
	}
	for _, l := range b.lengths {
		s.totalLen += uint64(l)
	}
	for term, p := range b.postings {
		s.postings[term] = &postings{docs: roaring.BitmapOf(p.docs...), freqs: p.freqs}
	}
	return s, b.deleted
}

// mergeSegments copies the live documents of refs, in order, into one new
// segment. Postings are remapped rather than re-analyzed.
func mergeSegments(id uint64, refs []*segmentRef) *segment {
	b := newSegmentBuilder()
	remaps := make([]map[uint32]uint32, len(refs))

	for i, ref := range refs {
		remap := make(map[uint32]uint32, ref.seg.docCount())
		for local := range ref.seg.keys {
			if ref.deleted.Contains(uint32(local)) {
				continue
			}
			next := uint32(len(b.keys))
			remap[uint32(local)] = next
			b.keys = append(b.keys, ref.seg.keys[local])
			b.sources = append(b.sources, ref.seg.sources[local])
			b.lengths = append(b.lengths, ref.seg.lengths[local])
			b.byKey[ref.seg.keys[local]] = next
		}
		remaps[i] = remap
	}

	for i, ref := range refs {
		for term, p := range ref.seg.postings {
			it := p.docs.Iterator()
			for j := 0; it.HasNext(); j++ {
				doc := it.Next()
				next, ok := remaps[i][doc]
				if !ok {
					continue
				}
				pb, exists := b.postings[term]
				if !exists {
					pb = &postingsBuilder{}
					b.postings[term] = pb
				}
				pb.docs = append(pb.docs, next)
				pb.freqs = append(pb.freqs, p.freqs[j])
			}
		}
	}

	seg, _ := b.build(id)
	return seg
}

// encode serializes a segment:
//
//	magic | version u16 | docs u32
//	stored block length u32 | lz4(uvarint key, uvarint source...)
//	lengths u32 * docs
//	terms u32 | (uvarint term, uvarint bitmap, bitmap, uvarint freq * card)...
//	crc32c
func (s *segment) encode() ([]byte, error) {
	var stored bytes.Buffer
	zw := lz4.NewWriter(&stored)
	var scratch []byte
	for i, key := range s.keys {
		scratch = binary.AppendUvarint(scratch[:0], uint64(len(key)))
		scratch = append(scratch, key...)
		scratch = binary.AppendUvarint(scratch, uint64(len(s.sources[i])))
		scratch = append(scratch, s.sources[i]...)
		if _, err := zw.Write(scratch); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, stored.Len()+64)
	buf = append(buf, segmentMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, segmentVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.keys)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(stored.Len()))
	buf = append(buf, stored.Bytes()...)
	for _, l := range s.lengths {
		buf = binary.LittleEndian.AppendUint32(buf, l)
	}

	terms := make([]string, 0, len(s.postings))
	for t := range s.postings {
		terms = append(terms, t)
	}
	slices.Sort(terms)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(terms)))
	for _, t := range terms {
		p := s.postings[t]
		bm, err := p.docs.ToBytes()
		if err != nil {
			return nil, err
		}
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		buf = append(buf, t...)
		buf = binary.AppendUvarint(buf, uint64(len(bm)))
		buf = append(buf, bm...)
		for _, f := range p.freqs {
			buf = binary.AppendUvarint(buf, uint64(f))
		}
	}
	return hash.AppendTrailer(buf), nil
}

func decodeSegment(id uint64, data []byte) (*segment, error) {
	payload, ok := hash.VerifyTrailer(data)
	if !ok {
		return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, segmentFileName(id))
	}
	r := &byteReader{buf: payload}
	if string(r.bytes(len(segmentMagic))) != segmentMagic {
		return nil, fmt.Errorf("%w: %s bad magic", ErrCorrupt, segmentFileName(id))
	}
	if v := r.u16(); v != segmentVersion {
		return nil, fmt.Errorf("%w: %s unsupported version %d", ErrCorrupt, segmentFileName(id), v)
	}
	n := int(r.u32())
	storedLen := int(r.u32())
	storedBlock := r.bytes(storedLen)
	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, segmentFileName(id), r.err)
	}

	stored, err := io.ReadAll(lz4.NewReader(bytes.NewReader(storedBlock)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s stored block: %v", ErrCorrupt, segmentFileName(id), err)
	}

	s := &segment{
		id:        id,
		keys:      make([]string, 0, n),
		sources:   make([][]byte, 0, n),
		lengths:   make([]uint32, 0, n),
		byKey:     make(map[string]uint32, n),
		persisted: true,
	}
	sr := &byteReader{buf: stored}
	for i := 0; i < n; i++ {
		key := string(sr.bytes(int(sr.uvarint())))
		src := sr.bytes(int(sr.uvarint()))
		s.keys = append(s.keys, key)
		s.sources = append(s.sources, src)
		s.byKey[key] = uint32(i)
	}
	if sr.err != nil {
		return nil, fmt.Errorf("%w: %s stored docs: %v", ErrCorrupt, segmentFileName(id), sr.err)
	}
	for i := 0; i < n; i++ {
		l := r.u32()
		s.lengths = append(s.lengths, l)
		s.totalLen += uint64(l)
	}

	terms := int(r.u32())
	s.postings = make(map[string]*postings, terms)
	for i := 0; i < terms && r.err == nil; i++ {
		term := string(r.bytes(int(r.uvarint())))
		bm := roaring.New()
		if err := bm.UnmarshalBinary(r.bytes(int(r.uvarint()))); err != nil {
			return nil, fmt.Errorf("%w: %s postings %q: %v", ErrCorrupt, segmentFileName(id), term, err)
		}
		card := int(bm.GetCardinality())
		freqs := make([]uint32, card)
		for j := range freqs {
			freqs[j] = uint32(r.uvarint())
		}
		s.postings[term] = &postings{docs: bm, freqs: freqs}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, segmentFileName(id), r.err)
	}
	return s, nil
}

func encodeDeletes(bm *roaring.Bitmap) ([]byte, error) {
	data, err := bm.ToBytes()
	if err != nil {
		return nil, err
	}
	return hash.AppendTrailer(data), nil
}

func decodeDeletes(name string, data []byte) (*roaring.Bitmap, error) {
	payload, ok := hash.VerifyTrailer(data)
	if !ok {
		return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, name)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return bm, nil
}

// byteReader decodes little-endian and uvarint values, recording the first
// error instead of returning it from every call.
type byteReader struct {
	buf []byte
	pos int
	err error
}

var errShortRead = fmt.Errorf("unexpected end of data")

func (r *byteReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = errShortRead
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *byteReader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *byteReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		r.err = errShortRead
		return 0
	}
	r.pos += n
	return v
}
