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

// Package mates combines candidates of the two mates of read pairs
// into pair matches consistent with the library size.
package mates

import (
	"fmt"

	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/store"
	"github.com/shenwei356/SeedMap/seedmap/verify"
)

// Options contains the options of a Combiner.
type Options struct {
	LibLen int // expected insert size, from the begin of the left mate to the end of the right one
	LibErr int // maximum deviation of the insert size
}

// DefaultOptions is the default option
var DefaultOptions = Options{
	LibLen: 220,
	LibErr: 50,
}

// CheckOptions checks the options.
func CheckOptions(opt *Options) error {
	if opt.LibLen <= 0 {
		return fmt.Errorf("the library length should be > 0: %d", opt.LibLen)
	}
	if opt.LibErr < 0 || opt.LibErr >= opt.LibLen {
		return fmt.Errorf("the library error should be in range of [0, %d): %d", opt.LibLen, opt.LibErr)
	}
	return nil
}

// MateCutoffs gives the error cutoffs of one mate: the cutoff of the pair,
// bounded by the maximum errors allowed for the mate itself.
type MateCutoffs struct {
	pairs  filter.Cutoffs
	limits []int
}

// NewMateCutoffs creates cutoffs of one mate, limits holds the cutoff of every mate.
func NewMateCutoffs(pairs filter.Cutoffs, limits []int) *MateCutoffs {
	return &MateCutoffs{pairs: pairs, limits: limits}
}

// Get returns the cutoff of a mate.
func (c *MateCutoffs) Get(id int) int {
	v := c.pairs.Get(id)
	if v > c.limits[id] {
		return c.limits[id]
	}
	return v
}

// Stats contains the counters of a Combiner.
type Stats struct {
	RightCandidates    int64
	LeftCandidates     int64
	LeftVerifications  int64
	RightVerifications int64
	Pairs              int64
}

// Add merges counters.
func (s *Stats) Add(o Stats) {
	s.RightCandidates += o.RightCandidates
	s.LeftCandidates += o.LeftCandidates
	s.LeftVerifications += o.LeftVerifications
	s.RightVerifications += o.RightVerifications
	s.Pairs += o.Pairs
}

// Combiner combines the candidates of left and right mates scanned on one strand of a contig.
// The right-mate finder and verifier should work on reverse complements of right mates.
// A Combiner is not safe for concurrent use.
type Combiner struct {
	left, right filter.Finder
	vl, vr      *verify.Verifier
	st          *store.Store
	cutoffs     filter.Cutoffs // of pairs

	opt        Options
	maxLeftLen int

	win   *window
	stats Stats
}

// NewCombiner creates a Combiner. maxLeftLen is the length of the longest left mate.
func NewCombiner(left, right filter.Finder, vl, vr *verify.Verifier, st *store.Store,
	cutoffs filter.Cutoffs, maxLeftLen int, opt *Options) (*Combiner, error) {
	if err := CheckOptions(opt); err != nil {
		return nil, err
	}
	return &Combiner{
		left:       left,
		right:      right,
		vl:         vl,
		vr:         vr,
		st:         st,
		cutoffs:    cutoffs,
		opt:        *opt,
		maxLeftLen: maxLeftLen,
		win:        newWindow(),
	}, nil
}

// Stats returns the counters.
func (c *Combiner) Stats() Stats { return c.stats }

// Run scans a strand of a contig, ref is the reverse complement sequence
// for the reverse strand. Matches are pushed to the store in forward-strand coordinates.
func (c *Combiner) Run(ref []byte, contigID int, strand store.Strand) {
	c.left.Reset(ref)
	c.right.Reset(ref)
	c.vl.Reset()
	c.vr.Reset()
	c.win.reset()

	libLen, libErr := c.opt.LibLen, c.opt.LibErr
	var leftDone bool
	var rc, lc filter.Candidate
	var ok bool
	var read, cutoff, limit int
	for {
		rc, ok = c.right.Next()
		if !ok {
			break
		}
		c.stats.RightCandidates++
		read = rc.ReadID
		cutoff = c.cutoffs.Get(read)
		if cutoff <= 0 {
			continue
		}

		// left mates ending here could not pair with this or later right mates
		c.win.evict(rc.Begin - libLen - libErr)

		// compatible left mates end before this
		limit = rc.End - libLen + libErr + c.maxLeftLen + cutoff - 1
		for !leftDone && c.left.Pos() <= limit {
			lc, ok = c.left.Next()
			if !ok {
				leftDone = true
				break
			}
			c.stats.LeftCandidates++
			c.win.push(lc)
		}

		c.pair(ref, rc, contigID, strand)
	}
}

// pair walks the pending left candidates of the read of a right candidate.
func (c *Combiner) pair(ref []byte, rc filter.Candidate, contigID int, strand store.Strand) {
	read := rc.ReadID
	libLen, libErr := c.opt.LibLen, c.opt.LibErr

	var rightHit, leftHit verify.Hit
	var rightState = unverified
	var found bool
	var bestScore, bestDiff int
	var score, diff int

	var next int64 = -1
	var en *entry
	for i := c.win.head(read); i >= c.win.first; {
		en = c.win.get(i)
		if en.state == unverified {
			c.stats.LeftVerifications++
			if h, ok := c.vl.Best(ref, en.cand); ok {
				en.state, en.hit = positive, h
			} else {
				en.state = negative
			}
		}
		if en.state == negative {
			prev := en.prev
			c.win.unlink(read, i, next)
			i = prev
			continue
		}

		if rightState == unverified {
			c.stats.RightVerifications++
			if h, ok := c.vr.Best(ref, rc); ok {
				rightState, rightHit = positive, h
			} else {
				rightState = negative
			}
		}
		if rightState == negative {
			return
		}

		if en.hit.Begin <= rightHit.Begin {
			diff = rightHit.End - en.hit.Begin - libLen
			if diff < 0 {
				diff = -diff
			}
			if diff <= libErr {
				score = en.hit.Score + rightHit.Score
				if !found || score > bestScore || (score == bestScore && diff < bestDiff) {
					found, bestScore, bestDiff, leftHit = true, score, diff, en.hit
				}
			}
		}

		next = i
		i = en.prev
	}

	if !found || leftHit.Errors+rightHit.Errors >= c.cutoffs.Get(read) {
		return
	}

	l := c.record(leftHit, contigID, read, strand, len(ref))
	r := c.record(rightHit, contigID, read, strand, len(ref))
	l.PairScore, r.PairScore = int32(bestScore), int32(bestScore)
	l.LibDiff, r.LibDiff = uint32(bestDiff), uint32(bestDiff)
	c.st.PushPair(l, r)
	c.stats.Pairs++
}

func (c *Combiner) record(h verify.Hit, contigID, read int, strand store.Strand, n int) store.Record {
	begin, end := h.Begin, h.End
	if strand == store.Reverse {
		begin, end = n-h.End, n-h.Begin
	}
	if begin >= end {
		panic(fmt.Sprintf("mates: invalid match of read %d: [%d, %d)", read, begin, end))
	}
	return store.Record{
		ContigID: uint32(contigID),
		ReadID:   uint32(read),
		Begin:    int64(begin),
		End:      int64(end),
		Errors:   int32(h.Errors),
		Score:    int32(h.Score),
		Strand:   strand,
	}
}
