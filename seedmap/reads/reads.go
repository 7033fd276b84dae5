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

// Package reads holds the in-memory read sets that the mapping core works on.
package reads

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyReadSet means there is no read to map.
var ErrEmptyReadSet = errors.New("reads: empty read set")

// ErrMateCountMismatch means the two mate files have different numbers of reads.
var ErrMateCountMismatch = errors.New("reads: numbers of mates do not match")

// ReadSet is an immutable-after-loading collection of reads.
// A read is identified by its index in the set.
type ReadSet struct {
	names [][]byte
	seqs  [][]byte
	quals [][]byte // nil for reads without qualities

	minLen int
	maxLen int
	bases  int64
}

// NewReadSet creates an empty read set with preallocated space.
func NewReadSet(n int) *ReadSet {
	return &ReadSet{
		names: make([][]byte, 0, n),
		seqs:  make([][]byte, 0, n),
		quals: make([][]byte, 0, n),
	}
}

// Add appends a read and returns its id.
// The slices are retained, the caller should not modify them afterwards.
// Qualities are phred+33 encoded and optional.
func (rs *ReadSet) Add(name, seq, qual []byte) (int, error) {
	if len(qual) > 0 && len(qual) != len(seq) {
		return -1, fmt.Errorf("reads: quality length (%d) does not match sequence length (%d) for %s",
			len(qual), len(seq), name)
	}
	if len(qual) == 0 {
		qual = nil
	}
	id := len(rs.seqs)
	rs.names = append(rs.names, name)
	rs.seqs = append(rs.seqs, seq)
	rs.quals = append(rs.quals, qual)

	n := len(seq)
	if id == 0 || n < rs.minLen {
		rs.minLen = n
	}
	if n > rs.maxLen {
		rs.maxLen = n
	}
	rs.bases += int64(n)
	return id, nil
}

// Len returns the number of reads.
func (rs *ReadSet) Len() int { return len(rs.seqs) }

// Seq returns the sequence of a read.
func (rs *ReadSet) Seq(id int) []byte { return rs.seqs[id] }

// Qual returns the qualities of a read, or nil.
func (rs *ReadSet) Qual(id int) []byte { return rs.quals[id] }

// Name returns the name of a read.
func (rs *ReadSet) Name(id int) []byte { return rs.names[id] }

// MinLen returns the length of the shortest read.
func (rs *ReadSet) MinLen() int { return rs.minLen }

// MaxLen returns the length of the longest read.
func (rs *ReadSet) MaxLen() int { return rs.maxLen }

// Bases returns the total number of bases.
func (rs *ReadSet) Bases() int64 { return rs.bases }

// Lengths returns the distinct read lengths in ascending order.
func (rs *ReadSet) Lengths() []int {
	seen := make(map[int]struct{}, 64)
	for _, s := range rs.seqs {
		seen[len(s)] = struct{}{}
	}
	lens := make([]int, 0, len(seen))
	for n := range seen {
		lens = append(lens, n)
	}
	sort.Ints(lens)
	return lens
}

// HasQualities tells whether any read carries qualities.
func (rs *ReadSet) HasQualities() bool {
	for _, q := range rs.quals {
		if q != nil {
			return true
		}
	}
	return false
}

// Pairs is a paired-end read set. Left.Seq(i) and Right.Seq(i) are mates.
type Pairs struct {
	Left  *ReadSet
	Right *ReadSet
}

// NewPairs checks the two mate sets and wraps them.
func NewPairs(left, right *ReadSet) (*Pairs, error) {
	if left == nil || right == nil || left.Len() == 0 {
		return nil, ErrEmptyReadSet
	}
	if left.Len() != right.Len() {
		return nil, fmt.Errorf("%w: %d vs %d", ErrMateCountMismatch, left.Len(), right.Len())
	}
	return &Pairs{Left: left, Right: right}, nil
}

// Len returns the number of pairs.
func (p *Pairs) Len() int { return p.Left.Len() }
