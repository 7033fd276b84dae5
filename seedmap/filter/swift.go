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

package filter

import (
	"context"
	"fmt"
	"math"

	"github.com/shenwei356/SeedMap/seedmap/index"
	"github.com/shenwei356/SeedMap/seedmap/util"
)

// SwiftOptions contains the options of the window-count filter.
type SwiftOptions struct {
	Delta       int // width of a parallelogram, in diagonals
	Overlap     int // overlap of adjacent parallelograms, should be >= the maximum errors
	TabooLength int // minimum distance between two emissions of a bucket, 0 for the read length
}

// DefaultSwiftOptions is the default option
var DefaultSwiftOptions = SwiftOptions{
	Delta:       16,
	Overlap:     0,
	TabooLength: 0,
}

// CheckSwiftOptions checks the options.
func CheckSwiftOptions(opt *SwiftOptions) error {
	if opt.Delta < 1 {
		return fmt.Errorf("invalid parallelogram width: %d, should be >= 1", opt.Delta)
	}
	if opt.Overlap < 0 {
		return fmt.Errorf("invalid parallelogram overlap: %d, should be >= 0", opt.Overlap)
	}
	if opt.TabooLength < 0 {
		return fmt.Errorf("invalid taboo length: %d, should be >= 0", opt.TabooLength)
	}
	return nil
}

// CheckSwiftThreshold returns ErrLowThreshold if the q-gram threshold
// for reads of length minLen with maxErrors errors is lower than 1.
func CheckSwiftThreshold(minLen, maxErrors int, shape *index.Shape) error {
	if t := Threshold(minLen, maxErrors, shape); t < 1 {
		return fmt.Errorf("%w: shape %s, read length %d, errors %d, threshold %d",
			ErrLowThreshold, shape, minLen, maxErrors, t)
	}
	return nil
}

// bucket counts the seed hits of a parallelogram of a read.
type bucket struct {
	epoch    int32
	p        int32 // parallelogram number
	count    int32
	last     int32 // position of the last hit
	lastEmit int32
}

// Swift is the window-count filter. Seed hits of a read are counted in
// overlapping parallelograms of diagonals, and a candidate is emitted once
// a parallelogram collects enough hits for the read's current error bound.
type Swift struct {
	ctx     context.Context
	idx     *index.Index
	reads   index.Reads
	cutoffs Cutoffs
	opt     SwiftOptions

	lo        int
	ringStart []int
	ringLen   []int32
	buckets   []bucket
	epoch     int32

	ref   []byte
	sc    scanner
	queue []Candidate
	qi    int
	done  bool

	stats Stats
}

// NewSwift creates a window-count filter for the reads of an index.
func NewSwift(ctx context.Context, idx *index.Index, reads index.Reads, cutoffs Cutoffs, opt *SwiftOptions) (*Swift, error) {
	if err := CheckSwiftOptions(opt); err != nil {
		return nil, err
	}
	lo, hi := idx.Range()
	f := &Swift{
		ctx:       ctx,
		idx:       idx,
		reads:     reads,
		cutoffs:   cutoffs,
		opt:       *opt,
		lo:        lo,
		ringStart: make([]int, hi-lo),
		ringLen:   make([]int32, hi-lo),
		queue:     make([]Candidate, 0, 64),
	}

	var total, n, e int
	for i := lo; i < hi; i++ {
		n = len(reads.Seq(i))
		e = cutoffs.Get(i) - 1
		if e < opt.Overlap {
			e = opt.Overlap
		}
		f.ringStart[i-lo] = total
		f.ringLen[i-lo] = int32((n+e)/opt.Delta + 4)
		total += int(f.ringLen[i-lo])
	}
	f.buckets = make([]bucket, total)
	return f, nil
}

// Reset starts a new scan of ref.
func (f *Swift) Reset(ref []byte) {
	if len(ref) > math.MaxInt32 {
		panic(fmt.Sprintf("filter: reference too long: %d", len(ref)))
	}
	f.ref = ref
	f.sc.reset(f.idx.Shape(), ref)
	f.queue = f.queue[:0]
	f.qi = 0
	f.done = false
	f.epoch++
	if f.epoch == math.MaxInt32 { // rarely happens
		for i := range f.buckets {
			f.buckets[i].epoch = 0
		}
		f.epoch = 1
	}
}

// Pos returns the current scan position.
func (f *Swift) Pos() int {
	if f.sc.last < 0 {
		return 0
	}
	return f.sc.last
}

// Stats returns the counters.
func (f *Swift) Stats() Stats { return f.stats }

// Next returns the next candidate.
// Candidates of reads disabled after being queued are dropped.
func (f *Swift) Next() (Candidate, bool) {
	var c Candidate
	for {
		for f.qi >= len(f.queue) {
			if f.done {
				return Candidate{}, false
			}
			f.queue = f.queue[:0]
			f.qi = 0
			f.scan()
		}
		c = f.queue[f.qi]
		f.qi++
		if f.cutoffs.Get(c.ReadID) > 0 {
			return c, true
		}
	}
}

// scan processes reference positions until some candidates are found
// or the reference is finished.
func (f *Swift) scan() {
	var j, d, p, r int
	var code uint64
	var ok bool
	var occs []index.Occurrence
	var cutoff int
	delta := f.opt.Delta
	var scanned int
	for len(f.queue) == 0 {
		if scanned&(cancelCheckInterval-1) == 0 && f.ctx != nil && f.ctx.Err() != nil {
			f.done = true
			return
		}
		j, code, ok = f.sc.next()
		if !ok {
			f.done = true
			return
		}
		scanned++
		f.stats.Positions++

		occs = f.idx.Lookup(code)
		for _, o := range occs {
			f.stats.Hits++
			r = int(o.ReadID)
			cutoff = f.cutoffs.Get(r)
			if cutoff <= 0 { // disabled
				continue
			}
			d = j - int(o.Offset)
			p = util.FloorDiv(d, delta)
			f.hit(r, p, j, cutoff-1)
			if d-p*delta < f.opt.Overlap {
				f.hit(r, p-1, j, cutoff-1)
			}
		}
	}
}

func (f *Swift) hit(r, p, j, e int) {
	k := r - f.lo
	ring := int32(p) % f.ringLen[k]
	if ring < 0 {
		ring += f.ringLen[k]
	}
	b := &f.buckets[f.ringStart[k]+int(ring)]

	n := len(f.reads.Seq(r))
	if b.epoch != f.epoch || b.p != int32(p) {
		*b = bucket{epoch: f.epoch, p: int32(p), last: -1, lastEmit: math.MinInt32}
	} else if b.last == int32(j) {
		return
	} else if j-int(b.last) > n+e { // too far from the previous hit
		b.count = 0
	}
	b.count++
	b.last = int32(j)

	t := Threshold(n, e, f.idx.Shape())
	if t < 1 {
		t = 1
	}
	if int(b.count) < t {
		return
	}

	taboo := f.opt.TabooLength
	if taboo == 0 {
		taboo = n
	}
	if int64(j)-int64(b.lastEmit) < int64(taboo) {
		return
	}
	b.lastEmit = int32(j)

	delta := f.opt.Delta
	begin, end := clip(p*delta-e, (p+1)*delta+f.opt.Overlap+n+e, len(f.ref))
	if end-begin < n-e {
		return
	}
	f.queue = append(f.queue, Candidate{ReadID: r, Begin: begin, End: end})
	f.stats.Candidates++
}
