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

// Package store keeps confirmed matches, compacts them to the best
// hits per read, and tightens the per-read error cutoffs.
package store

import "fmt"

// Strand is the strand of a match on the contig.
type Strand uint8

const (
	// Forward strand.
	Forward Strand = iota
	// Reverse strand, the read maps as its reverse complement.
	Reverse
	// Invalid marks a deleted record.
	Invalid
)

func (s Strand) String() string {
	switch s {
	case Forward:
		return "+"
	case Reverse:
		return "-"
	}
	return "."
}

// Record is a confirmed match. Begin and End are 0-based positions
// on the forward strand of the contig, End is exclusive.
type Record struct {
	ContigID uint32
	ReadID   uint32
	Begin    int64
	End      int64

	Errors int32
	Score  int32 // higher is better

	PairID    uint64 // 0 for single matches
	PairScore int32  // combined score of the two mates
	LibDiff   uint32 // deviation of the insert size from the library length

	Strand Strand
	Mate   uint8 // 0 for the left mate, 1 for the right one
}

// recordSize is the in-memory size of a Record.
const recordSize = 56

func (r *Record) String() string {
	return fmt.Sprintf("read %d, contig %d:%d-%d%s, errors %d, score %d, pair %d",
		r.ReadID, r.ContigID, r.Begin, r.End, r.Strand, r.Errors, r.Score, r.PairID)
}

// Valid tells whether the record is not deleted.
func (r *Record) Valid() bool { return r.Strand != Invalid }
