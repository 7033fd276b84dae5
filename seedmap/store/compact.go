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

package store

import (
	"github.com/twotwotwo/sorts"
)

// units is a list of matches to compact. A unit is a single record,
// or two adjacent records of a mate pair.
type units struct {
	recs   []Record
	idx    []int
	paired bool
}

func newUnits(recs []Record, paired bool) *units {
	step := 1
	if paired {
		step = 2
	}
	idx := make([]int, 0, len(recs)/step)
	for i := 0; i+step <= len(recs); i += step {
		if recs[i].Strand == Invalid || recs[i+step-1].Strand == Invalid {
			continue
		}
		idx = append(idx, i)
	}
	return &units{recs: recs, idx: idx, paired: paired}
}

func (u *units) Len() int      { return len(u.idx) }
func (u *units) Swap(i, j int) { u.idx[i], u.idx[j] = u.idx[j], u.idx[i] }

func (u *units) first(i int) *Record { return &u.recs[u.idx[i]] }

func (u *units) last(i int) *Record {
	if u.paired {
		return &u.recs[u.idx[i]+1]
	}
	return &u.recs[u.idx[i]]
}

func (u *units) score(i int) int32 {
	if u.paired {
		return u.recs[u.idx[i]].PairScore
	}
	return u.recs[u.idx[i]].Score
}

func (u *units) errors(i int) int32 {
	if u.paired {
		return u.recs[u.idx[i]].Errors + u.recs[u.idx[i]+1].Errors
	}
	return u.recs[u.idx[i]].Errors
}

// samePlace compares read, contig and strand.
func (u *units) samePlace(i, j int) bool {
	a, b := u.first(i), u.first(j)
	return a.ReadID == b.ReadID && a.ContigID == b.ContigID && a.Strand == b.Strand
}

func (u *units) comparePlace(i, j int) int {
	a, b := u.first(i), u.first(j)
	if a.ReadID != b.ReadID {
		return compare(a.ReadID, b.ReadID)
	}
	if a.ContigID != b.ContigID {
		return compare(a.ContigID, b.ContigID)
	}
	return compare(a.Strand, b.Strand)
}

func compare[T ~uint8 | ~uint32 | ~int32 | ~int64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// byBegin sorts units by read, contig, strand, begin, score (desc) and end (desc).
type byBegin struct{ *units }

func (u byBegin) Less(i, j int) bool {
	if c := u.comparePlace(i, j); c != 0 {
		return c < 0
	}
	a, b := u.first(i), u.first(j)
	if a.Begin != b.Begin {
		return a.Begin < b.Begin
	}
	if si, sj := u.score(i), u.score(j); si != sj {
		return si > sj
	}
	return u.last(i).End > u.last(j).End
}

// byEnd sorts units by read, contig, strand, end, score (desc) and begin.
type byEnd struct{ *units }

func (u byEnd) Less(i, j int) bool {
	if c := u.comparePlace(i, j); c != 0 {
		return c < 0
	}
	a, b := u.last(i), u.last(j)
	if a.End != b.End {
		return a.End < b.End
	}
	if si, sj := u.score(i), u.score(j); si != sj {
		return si > sj
	}
	return u.first(i).Begin < u.first(j).Begin
}

// byScore sorts units by read, score (desc), library deviation, begin, end (desc),
// contig and strand.
type byScore struct{ *units }

func (u byScore) Less(i, j int) bool {
	a, b := u.first(i), u.first(j)
	if a.ReadID != b.ReadID {
		return a.ReadID < b.ReadID
	}
	if si, sj := u.score(i), u.score(j); si != sj {
		return si > sj
	}
	if u.paired && a.LibDiff != b.LibDiff {
		return a.LibDiff < b.LibDiff
	}
	if a.Begin != b.Begin {
		return a.Begin < b.Begin
	}
	if ei, ej := u.last(i).End, u.last(j).End; ei != ej {
		return ei > ej
	}
	if a.ContigID != b.ContigID {
		return a.ContigID < b.ContigID
	}
	return a.Strand < b.Strand
}

// byPosition sorts units by contig, begin, read, strand, end and score (desc).
type byPosition struct{ *units }

func (u byPosition) Less(i, j int) bool {
	return positionLess(u.first(i), u.last(i), u.first(j), u.last(j), u.score(i), u.score(j))
}

// positionLess compares two units given their first and last records and scores.
func positionLess(a, al, b, bl *Record, sa, sb int32) bool {
	if a.ContigID != b.ContigID {
		return a.ContigID < b.ContigID
	}
	if a.Begin != b.Begin {
		return a.Begin < b.Begin
	}
	if a.ReadID != b.ReadID {
		return a.ReadID < b.ReadID
	}
	if a.Strand != b.Strand {
		return a.Strand < b.Strand
	}
	if al.End != bl.End {
		return al.End < bl.End
	}
	return sa > sb
}

// dedup removes units sharing the read, contig, strand and the begin (or end)
// of the previous unit. Units should be sorted with byBegin or byEnd.
func (u *units) dedup(begin bool) {
	if len(u.idx) < 2 {
		return
	}
	var dup bool
	j := 1
	for i := 1; i < len(u.idx); i++ {
		if begin {
			dup = u.samePlace(i, j-1) && u.first(i).Begin == u.first(j-1).Begin
		} else {
			dup = u.samePlace(i, j-1) && u.last(i).End == u.last(j-1).End
		}
		if dup {
			continue
		}
		u.idx[j] = u.idx[i]
		j++
	}
	u.idx = u.idx[:j]
}

// sweep keeps the best units of every read and updates the cutoffs.
// Units should be sorted with byScore.
func (u *units) sweep(opt *Options, cutoffs *Cutoffs, stats *Stats) {
	var i, j, k, kept, ties int
	var read uint32
	var best int32
	out := u.idx[:0]
	n := len(u.idx)
	for i = 0; i < n; i = j {
		read = u.first(i).ReadID
		best = u.score(i)
		for j = i + 1; j < n && u.first(j).ReadID == read; j++ {
		}

		if opt.PurgeAmbiguous {
			ties = 0
			for k = i; k < j && u.score(k) == best; k++ {
				ties++
			}
			if ties > opt.MaxHits {
				if cutoffs != nil {
					cutoffs.Disable(int(read))
				}
				stats.PurgedReads++
				continue
			}
		}

		kept = 0
		for k = i; k < j && kept < opt.MaxHits; k++ {
			if opt.DistanceRange >= 0 && int(best-u.score(k)) > opt.DistanceRange {
				break
			}
			out = append(out, u.idx[k])
			kept++
		}

		if cutoffs == nil || opt.QualityScores {
			continue
		}
		if kept == opt.MaxHits {
			if opt.PurgeAmbiguous && u.score(k-1) == best {
				// later ties must still arrive to be counted
				cutoffs.Tighten(int(read), int(u.errors(k-1))+1)
			} else {
				cutoffs.Tighten(int(read), int(u.errors(k-1)))
			}
		}
		if opt.DistanceRange >= 0 {
			// all matches worse than the distance range are useless
			cutoffs.Tighten(int(read), int(-best)+opt.DistanceRange+1)
		}
	}
	u.idx = out
}

// compact compacts records and returns the kept ones in a new slice.
func compact(recs []Record, opt *Options, cutoffs *Cutoffs, order Order, final bool, stats *Stats) []Record {
	u := newUnits(recs, opt.Paired)

	sorts.Quicksort(byBegin{u})
	u.dedup(true)
	sorts.Quicksort(byEnd{u})
	u.dedup(false)

	sorts.Quicksort(byScore{u})
	u.sweep(opt, cutoffs, stats)

	if final && order == ByPosition {
		sorts.Quicksort(byPosition{u})
	}

	size := 1
	if opt.Paired {
		size = 2
	}
	kept := make([]Record, 0, len(u.idx)*size)
	for _, i := range u.idx {
		kept = append(kept, recs[i:i+size]...)
	}
	return kept
}
