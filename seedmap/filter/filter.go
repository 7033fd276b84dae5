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

// Package filter streams a reference sequence through a seed index
// and proposes candidate regions, which may contain approximate matches of reads.
package filter

import (
	"errors"

	"github.com/shenwei356/SeedMap/seedmap/index"
	"github.com/shenwei356/lexichash/iterator"
)

// ErrLowThreshold means the seed shape is too long or too heavy for the
// read length and error bound, the filter can not guarantee to find all matches.
var ErrLowThreshold = errors.New("filter: q-gram threshold < 1, please use a shorter or lighter shape")

// Cutoffs gives the current error cutoff of a read.
// A match must have fewer errors than the cutoff, and 0 means the read is disabled.
type Cutoffs interface {
	Get(readID int) int
}

// Candidate is a reference region [Begin, End) which may contain a match of a read.
type Candidate struct {
	ReadID int
	Begin  int
	End    int
}

// Finder produces candidates by scanning a reference from left to right.
// A Finder is not safe for concurrent use.
type Finder interface {
	// Reset starts a new scan of ref.
	Reset(ref []byte)
	// Next returns the next candidate, false when the scan is finished or cancelled.
	Next() (Candidate, bool)
	// Pos returns the current scan position of the reference.
	Pos() int
	// Stats returns the counters of all scans.
	Stats() Stats
}

// Stats contains the counters of a Finder.
type Stats struct {
	Positions  int64 // scanned reference positions
	Hits       int64 // seed occurrences
	Candidates int64 // emitted candidates
}

// Add merges counters.
func (s *Stats) Add(o Stats) {
	s.Positions += o.Positions
	s.Hits += o.Hits
	s.Candidates += o.Candidates
}

// Threshold returns the minimum number of shared seeds of a read of length n
// and a reference substring with at most e errors (q-gram lemma).
// Each error destroys at most weight seeds.
func Threshold(n, e int, shape *index.Shape) int {
	return n - shape.Span() + 1 - e*shape.Weight()
}

// clip limits a region to [0, n).
func clip(begin, end, n int) (int, int) {
	if begin < 0 {
		begin = 0
	}
	if end > n {
		end = n
	}
	return begin, end
}

// cancelCheckInterval is the number of scanned positions between
// checks of the context.
const cancelCheckInterval = 4096

// scanner iterates the seeds of a reference.
type scanner struct {
	shape *index.Shape
	s     []byte
	iter  *iterator.Iterator
	pos   int // the next position for gapped shapes
	last  int // position of the last returned seed
}

func (sc *scanner) reset(shape *index.Shape, s []byte) {
	sc.shape = shape
	sc.s = s
	sc.pos = 0
	sc.last = -1
	sc.iter = nil
	if shape.Contiguous() && len(s) >= shape.Span() {
		sc.iter, _ = iterator.NewKmerIterator(s, shape.Span())
	}
}

func (sc *scanner) next() (int, uint64, bool) {
	if sc.shape.Contiguous() {
		if sc.iter == nil {
			return 0, 0, false
		}
		code, ok, _ := sc.iter.NextPositiveKmer()
		if !ok {
			sc.iter = nil
			sc.last = len(sc.s)
			return 0, 0, false
		}
		sc.last = sc.iter.Index()
		return sc.last, code, true
	}

	if sc.pos+sc.shape.Span() > len(sc.s) {
		sc.last = len(sc.s)
		return 0, 0, false
	}
	sc.last = sc.pos
	sc.pos++
	return sc.last, sc.shape.Code(sc.s, sc.last), true
}
