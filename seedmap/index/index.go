// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package index builds the seed index of a read set: a hash table mapping
// seed codes to the (read, offset) positions containing them.
package index

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/shenwei356/SeedMap/seedmap/util"
)

// ErrEmptyReadSet means there is no read to index.
var ErrEmptyReadSet = errors.New("index: empty read set")

// ErrInvalidRange means the read id range is invalid.
var ErrInvalidRange = errors.New("index: invalid read id range")

// Reads is the read set to index.
type Reads interface {
	Len() int
	Seq(id int) []byte
}

// Options contains the options for building an index.
type Options struct {
	Shape string // seed shape, e.g., 11111111111 or 1101101101101

	// Step only indexes offsets that are multiples of Step.
	// The window-count filter uses 1, the partition filter uses the segment step.
	Step int

	// Reverse indexes the reverse complements of the reads.
	Reverse bool

	// A bucket with more than max(MinAbundance, AbundanceCut × #reads)
	// occurrences is disabled. AbundanceCut <= 0 or >= 1 disables masking.
	AbundanceCut float64
	MinAbundance int

	// TotalReads is the #reads of the abundance limit when the index only
	// holds a block of a read set, 0 for the reads of the index.
	TotalReads int
}

// DefaultOptions is the default option
var DefaultOptions = Options{
	Shape:        "11111111111",
	Step:         1,
	AbundanceCut: 1,
	MinAbundance: 100,
}

// CheckOptions checks the options.
func CheckOptions(opt *Options) error {
	if _, err := ParseShape(opt.Shape); err != nil {
		return err
	}
	if opt.Step < 1 {
		return fmt.Errorf("invalid step value: %d, should be >= 1", opt.Step)
	}
	if opt.AbundanceCut < 0 {
		return fmt.Errorf("invalid abundance cut: %f, should be >= 0", opt.AbundanceCut)
	}
	if opt.MinAbundance < 1 {
		return fmt.Errorf("invalid minimum abundance: %d, should be >= 1", opt.MinAbundance)
	}
	if opt.TotalReads < 0 {
		return fmt.Errorf("invalid number of reads: %d, should be >= 0", opt.TotalReads)
	}
	return nil
}

// Occurrence is a seed position in a read.
type Occurrence struct {
	ReadID uint32
	Offset uint32
}

// Index is an open-addressing seed index over a range of reads.
// It is read-only after building and safe for concurrent use.
type Index struct {
	opt   Options
	shape *Shape

	lo, hi int // read id range [lo, hi)

	mask    uint64
	keys    []uint64
	offsets []int // occurrences of slot i: occs[offsets[i]:offsets[i+1]]
	occs    []Occurrence

	limit       int             // abundance limit, 0 for no masking
	disabled    *roaring.Bitmap // disabled slots
	hasDisabled bool
}

// Build builds the index of reads with ids in [lo, hi).
func Build(reads Reads, lo, hi int, opt *Options) (*Index, error) {
	if reads == nil || reads.Len() == 0 || hi <= lo {
		return nil, ErrEmptyReadSet
	}
	if lo < 0 || hi > reads.Len() {
		return nil, fmt.Errorf("%w: [%d, %d) of %d reads", ErrInvalidRange, lo, hi, reads.Len())
	}
	if err := CheckOptions(opt); err != nil {
		return nil, err
	}
	shape, _ := ParseShape(opt.Shape)

	idx := &Index{
		opt:      *opt,
		shape:    shape,
		lo:       lo,
		hi:       hi,
		disabled: roaring.New(),
	}

	// an upper bound of distinct seeds
	var total int
	span := shape.Span()
	for i := lo; i < hi; i++ {
		if n := len(reads.Seq(i)); n >= span {
			total += (n-span)/opt.Step + 1
		}
	}
	size := 1 << bits.Len64(uint64(total*2))
	if size < 16 {
		size = 16
	}
	idx.mask = uint64(size - 1)
	idx.keys = make([]uint64, size)
	counts := make([]uint32, size)

	var buf []byte
	seqOf := func(i int) []byte {
		if !opt.Reverse {
			return reads.Seq(i)
		}
		buf = util.RCTo(buf, reads.Seq(i))
		return buf
	}

	// ------------------------------------------------------------------
	// pass 1: count

	for i := lo; i < hi; i++ {
		shape.Iterate(seqOf(i), opt.Step, func(pos int, code uint64) {
			slot := idx.slot(code, counts)
			if counts[slot] == 0 {
				idx.keys[slot] = code
			}
			counts[slot]++
		})
	}

	idx.offsets = make([]int, size+1)
	var n int
	for slot, c := range counts {
		idx.offsets[slot] = n
		n += int(c)
	}
	idx.offsets[size] = n
	idx.occs = make([]Occurrence, n)

	// ------------------------------------------------------------------
	// pass 2: fill, reads and offsets are visited in ascending order

	for i := range counts {
		counts[i] = 0
	}
	for i := lo; i < hi; i++ {
		id := uint32(i)
		shape.Iterate(seqOf(i), opt.Step, func(pos int, code uint64) {
			slot := idx.find(code)
			idx.occs[idx.offsets[slot]+int(counts[slot])] = Occurrence{ReadID: id, Offset: uint32(pos)}
			counts[slot]++
		})
	}

	// ------------------------------------------------------------------
	// abundance masking

	if opt.AbundanceCut > 0 && opt.AbundanceCut < 1 {
		total := hi - lo
		if opt.TotalReads > 0 {
			total = opt.TotalReads
		}
		limit := int(opt.AbundanceCut * float64(total))
		if limit < opt.MinAbundance {
			limit = opt.MinAbundance
		}
		idx.limit = limit
		for slot := 0; slot < size; slot++ {
			if idx.offsets[slot+1]-idx.offsets[slot] > limit {
				idx.disabled.Add(uint32(slot))
			}
		}
		idx.hasDisabled = !idx.disabled.IsEmpty()
	}

	return idx, nil
}

// slot returns the slot of a code during building, an empty slot if absent.
func (idx *Index) slot(code uint64, counts []uint32) uint64 {
	slot := util.Hash64(code) & idx.mask
	for counts[slot] > 0 && idx.keys[slot] != code {
		slot = (slot + 1) & idx.mask
	}
	return slot
}

// find returns the slot of a code in a built index.
func (idx *Index) find(code uint64) uint64 {
	slot := util.Hash64(code) & idx.mask
	for idx.offsets[slot] != idx.offsets[slot+1] {
		if idx.keys[slot] == code {
			return slot
		}
		slot = (slot + 1) & idx.mask
	}
	return slot // empty slot
}

// Lookup returns the occurrences of a seed, ordered by read id and offset.
// Nothing is returned for a disabled bucket.
func (idx *Index) Lookup(code uint64) []Occurrence {
	slot := idx.find(code)
	start, end := idx.offsets[slot], idx.offsets[slot+1]
	if start == end {
		return nil
	}
	if idx.hasDisabled && idx.disabled.Contains(uint32(slot)) {
		return nil
	}
	return idx.occs[start:end]
}

// Count returns the number of occurrences of a seed, including disabled ones,
// and whether the bucket is disabled.
func (idx *Index) Count(code uint64) (int, bool) {
	slot := idx.find(code)
	n := idx.offsets[slot+1] - idx.offsets[slot]
	if n == 0 {
		return 0, false
	}
	return n, idx.hasDisabled && idx.disabled.Contains(uint32(slot))
}

// Shape returns the seed shape.
func (idx *Index) Shape() *Shape { return idx.shape }

// Step returns the offset step of indexed seeds.
func (idx *Index) Step() int { return idx.opt.Step }

// Reverse tells if reverse complements of reads are indexed.
func (idx *Index) Reverse() bool { return idx.opt.Reverse }

// Range returns the read id range [lo, hi).
func (idx *Index) Range() (int, int) { return idx.lo, idx.hi }

// Contains tells whether a read is in the indexed range.
func (idx *Index) Contains(readID int) bool { return readID >= idx.lo && readID < idx.hi }

// Stats is the summary of an index.
type Stats struct {
	Reads               int
	Buckets             int
	Occurrences         int
	DisabledBuckets     int
	DisabledOccurrences int
	AbundanceLimit      int
}

// Stats returns the summary of the index.
func (idx *Index) Stats() Stats {
	s := Stats{
		Reads:           idx.hi - idx.lo,
		Occurrences:     len(idx.occs),
		DisabledBuckets: int(idx.disabled.GetCardinality()),
		AbundanceLimit:  idx.limit,
	}
	for slot := 0; slot+1 < len(idx.offsets); slot++ {
		if idx.offsets[slot+1] > idx.offsets[slot] {
			s.Buckets++
		}
	}
	it := idx.disabled.Iterator()
	var slot uint32
	for it.HasNext() {
		slot = it.Next()
		s.DisabledOccurrences += idx.offsets[slot+1] - idx.offsets[slot]
	}
	return s
}

// SeedCount is a seed and the number of its occurrences.
type SeedCount struct {
	Code     uint64
	Count    int
	Disabled bool
}

// TopSeeds returns the n most abundant seeds.
func (idx *Index) TopSeeds(n int) []SeedCount {
	list := make([]SeedCount, 0, 1024)
	var c int
	for slot := 0; slot+1 < len(idx.offsets); slot++ {
		c = idx.offsets[slot+1] - idx.offsets[slot]
		if c == 0 {
			continue
		}
		list = append(list, SeedCount{
			Code:     idx.keys[slot],
			Count:    c,
			Disabled: idx.hasDisabled && idx.disabled.Contains(uint32(slot)),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Count == list[j].Count {
			return list[i].Code < list[j].Code
		}
		return list[i].Count > list[j].Count
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list
}
