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

	"github.com/shenwei356/SeedMap/seedmap/index"
)

// PigeonholeOptions contains the options of the partition filter.
type PigeonholeOptions struct {
	// SeedErrors is the number of substitutions allowed in a segment match, 0 or 1.
	SeedErrors int
}

// DefaultPigeonholeOptions is the default option
var DefaultPigeonholeOptions = PigeonholeOptions{
	SeedErrors: 0,
}

// CheckPigeonholeOptions checks the options.
func CheckPigeonholeOptions(opt *PigeonholeOptions) error {
	if opt.SeedErrors < 0 || opt.SeedErrors > 1 {
		return fmt.Errorf("invalid seed errors: %d, valid range: [0, 1]", opt.SeedErrors)
	}
	return nil
}

// Pigeonhole is the partition filter. Reads are partitioned into segments,
// and the index only contains seeds at segment starts.
// Every seed hit emits a region covering the whole read.
type Pigeonhole struct {
	ctx     context.Context
	idx     *index.Index
	reads   index.Reads
	cutoffs Cutoffs
	opt     PigeonholeOptions

	lo       int
	lastDiag []int
	lastSeen []int32
	epoch    int32

	ref   []byte
	sc    scanner
	queue []Candidate
	qi    int
	done  bool

	shifts []uint // for enumerating one-substitution neighbours

	stats Stats
}

// NewPigeonhole creates a partition filter for the reads of an index,
// which should be built with contiguous shape of the segment length
// and a step of the segment step.
func NewPigeonhole(ctx context.Context, idx *index.Index, reads index.Reads, cutoffs Cutoffs, opt *PigeonholeOptions) (*Pigeonhole, error) {
	if err := CheckPigeonholeOptions(opt); err != nil {
		return nil, err
	}
	if !idx.Shape().Contiguous() {
		return nil, fmt.Errorf("%w: the partition filter needs a contiguous shape", index.ErrInvalidShape)
	}
	lo, hi := idx.Range()
	f := &Pigeonhole{
		ctx:      ctx,
		idx:      idx,
		reads:    reads,
		cutoffs:  cutoffs,
		opt:      *opt,
		lo:       lo,
		lastDiag: make([]int, hi-lo),
		lastSeen: make([]int32, hi-lo),
		queue:    make([]Candidate, 0, 64),
	}
	if opt.SeedErrors > 0 {
		q := idx.Shape().Span()
		f.shifts = make([]uint, q)
		for i := 0; i < q; i++ {
			f.shifts[i] = uint(2 * (q - 1 - i))
		}
	}
	return f, nil
}

// Reset starts a new scan of ref.
func (f *Pigeonhole) Reset(ref []byte) {
	f.ref = ref
	f.sc.reset(f.idx.Shape(), ref)
	f.queue = f.queue[:0]
	f.qi = 0
	f.done = false
	f.epoch++
	if f.epoch == 1<<31-1 {
		for i := range f.lastSeen {
			f.lastSeen[i] = 0
		}
		f.epoch = 1
	}
}

// Pos returns the current scan position.
func (f *Pigeonhole) Pos() int {
	if f.sc.last < 0 {
		return 0
	}
	return f.sc.last
}

// Stats returns the counters.
func (f *Pigeonhole) Stats() Stats { return f.stats }

// Next returns the next candidate.
// Candidates of reads disabled after being queued are dropped.
func (f *Pigeonhole) Next() (Candidate, bool) {
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

func (f *Pigeonhole) scan() {
	var j int
	var code, v, b uint64
	var shift uint
	var ok bool
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

		f.hits(j, f.idx.Lookup(code))

		if f.opt.SeedErrors == 0 {
			continue
		}
		for _, shift = range f.shifts {
			v = code >> shift & 3
			for b = 0; b < 4; b++ {
				if b == v {
					continue
				}
				f.hits(j, f.idx.Lookup(code&^(3<<shift)|b<<shift))
			}
		}
	}
}

func (f *Pigeonhole) hits(j int, occs []index.Occurrence) {
	var r, k, d, e, n, cutoff int
	for _, o := range occs {
		f.stats.Hits++
		r = int(o.ReadID)
		cutoff = f.cutoffs.Get(r)
		if cutoff <= 0 { // disabled
			continue
		}
		e = cutoff - 1
		d = j - int(o.Offset)

		k = r - f.lo
		if f.lastSeen[k] == f.epoch && f.lastDiag[k] == d {
			continue
		}
		f.lastSeen[k] = f.epoch
		f.lastDiag[k] = d

		n = len(f.reads.Seq(r))
		begin, end := clip(d-e, d+n+e, len(f.ref))
		if end-begin < n-e {
			continue
		}
		f.queue = append(f.queue, Candidate{ReadID: r, Begin: begin, End: end})
		f.stats.Candidates++
	}
}
