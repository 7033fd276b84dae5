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

// Package verify confirms candidate regions and scores the matches,
// with a bit-parallel bounded edit distance or a (quality-weighted) mismatch scan.
package verify

import (
	"fmt"

	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/util"
)

// Mode is the scoring mode.
type Mode int

const (
	// ModeEdit scores matches by edit distance.
	ModeEdit Mode = iota
	// ModeHamming scores matches by the number of mismatches.
	ModeHamming
	// ModeQuality counts mismatches, but scores them by the sum of base qualities.
	ModeQuality
)

func (m Mode) String() string {
	switch m {
	case ModeEdit:
		return "edit"
	case ModeHamming:
		return "hamming"
	case ModeQuality:
		return "quality"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the name of a scoring mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "edit":
		return ModeEdit, nil
	case "hamming":
		return ModeHamming, nil
	case "quality":
		return ModeQuality, nil
	}
	return 0, fmt.Errorf("invalid scoring mode: %s, available: edit, hamming, quality", s)
}

// Options contains the options of a Verifier.
type Options struct {
	Mode Mode

	// Prefix-seed mode of the mismatch scan: the first PrefixSeed bases
	// should have at most PrefixSeedErrors mismatches, and the match is
	// extended as long as the error cutoff allows.
	PrefixSeed       int
	PrefixSeedErrors int

	// MaxPenalty bounds the quality sum of mismatches in ModeQuality, 0 for no limit.
	MaxPenalty int
}

// DefaultOptions is the default option
var DefaultOptions = Options{
	Mode: ModeEdit,
}

// CheckOptions checks the options.
func CheckOptions(opt *Options) error {
	if opt.Mode < ModeEdit || opt.Mode > ModeQuality {
		return fmt.Errorf("invalid scoring mode: %d", opt.Mode)
	}
	if opt.PrefixSeed < 0 || opt.PrefixSeedErrors < 0 || opt.MaxPenalty < 0 {
		return fmt.Errorf("prefix seed length, prefix seed errors and max penalty should be >= 0")
	}
	if opt.PrefixSeed > 0 && opt.Mode == ModeEdit {
		return fmt.Errorf("the prefix-seed mode only works with mismatch scoring")
	}
	return nil
}

// Reads gives the sequences and qualities of reads.
type Reads interface {
	Len() int
	Seq(id int) []byte
	Qual(id int) []byte
}

// Hit is a confirmed match, [Begin, End) on the scanned strand.
type Hit struct {
	Begin  int
	End    int
	Errors int
	Score  int // higher is better
}

// Stats contains the counters of a Verifier.
type Stats struct {
	Verifications int64
	Matches       int64
}

// Add merges counters.
func (s *Stats) Add(o Stats) {
	s.Verifications += o.Verifications
	s.Matches += o.Matches
}

// Verifier verifies candidates of one worker, it is not safe for concurrent use.
type Verifier struct {
	opt     Options
	reads   Reads
	cutoffs filter.Cutoffs
	reverse bool // verify reverse complements of the reads

	// the current read
	readID int
	seq    []byte
	qual   []byte
	rcBuf  []byte
	qBuf   []byte

	fwd, rev  myers
	revSeq    []byte
	patternOK bool

	watermarks map[int]int

	stats Stats
}

// New creates a Verifier. With reverse, reads are verified as their reverse complements.
func New(reads Reads, cutoffs filter.Cutoffs, reverse bool, opt *Options) (*Verifier, error) {
	if err := CheckOptions(opt); err != nil {
		return nil, err
	}
	return &Verifier{
		opt:        *opt,
		reads:      reads,
		cutoffs:    cutoffs,
		reverse:    reverse,
		readID:     -1,
		watermarks: make(map[int]int, 1024),
	}, nil
}

// Reset clears the reported positions, call it before scanning a new contig or strand.
func (v *Verifier) Reset() {
	clear(v.watermarks)
}

// Stats returns the counters.
func (v *Verifier) Stats() Stats { return v.stats }

// Mode returns the scoring mode.
func (v *Verifier) Mode() Mode { return v.opt.Mode }

func (v *Verifier) load(id int) {
	if id == v.readID {
		return
	}
	v.readID = id
	v.patternOK = false
	if !v.reverse {
		v.seq = v.reads.Seq(id)
		v.qual = v.reads.Qual(id)
		return
	}
	v.rcBuf = util.RCTo(v.rcBuf, v.reads.Seq(id))
	v.seq = v.rcBuf
	q := v.reads.Qual(id)
	if q == nil {
		v.qual = nil
		return
	}
	if cap(v.qBuf) < len(q) {
		v.qBuf = make([]byte, len(q))
	}
	v.qBuf = v.qBuf[:len(q)]
	copy(v.qBuf, q)
	util.Reverse(v.qBuf)
	v.qual = v.qBuf
}

func (v *Verifier) loadPatterns() {
	if v.patternOK {
		return
	}
	v.fwd.init(v.seq)
	if cap(v.revSeq) < len(v.seq) {
		v.revSeq = make([]byte, len(v.seq))
	}
	v.revSeq = v.revSeq[:len(v.seq)]
	copy(v.revSeq, v.seq)
	util.Reverse(v.revSeq)
	v.rev.init(v.revSeq)
	v.patternOK = true
}

// Verify reports the distinct matches of a candidate read in the region.
// Matches overlapping the last one reported for the same read are skipped,
// so overlapping candidate regions do not report a match twice.
// It returns the number of reported matches.
func (v *Verifier) Verify(ref []byte, c filter.Candidate, fn func(Hit)) int {
	v.stats.Verifications++
	cutoff := v.cutoffs.Get(c.ReadID)
	if cutoff <= 0 {
		return 0
	}
	v.load(c.ReadID)
	if c.End-c.Begin < len(v.seq) || len(v.seq) == 0 {
		return 0
	}

	wm, ok := v.watermarks[c.ReadID]
	if !ok {
		wm = -1
	}

	var n int
	report := func(h Hit) {
		if h.Begin >= h.End {
			panic(fmt.Sprintf("verify: invalid match of read %d: [%d, %d)", c.ReadID, h.Begin, h.End))
		}
		if h.Begin < wm { // the tail of the last match
			return
		}
		n++
		wm = h.End
		fn(h)
	}

	if v.opt.Mode == ModeEdit {
		v.editScan(ref, c, cutoff-1, wm, false, report)
	} else {
		if h, ok := v.mismatchScan(ref, c, cutoff-1, wm); ok {
			report(h)
		}
	}

	if n > 0 {
		v.watermarks[c.ReadID] = wm
		v.stats.Matches += int64(n)
	}
	return n
}

// Best returns the best match of a candidate read in the region,
// ignoring previously reported matches.
func (v *Verifier) Best(ref []byte, c filter.Candidate) (Hit, bool) {
	v.stats.Verifications++
	cutoff := v.cutoffs.Get(c.ReadID)
	if cutoff <= 0 {
		return Hit{}, false
	}
	v.load(c.ReadID)
	if c.End-c.Begin < len(v.seq) || len(v.seq) == 0 {
		return Hit{}, false
	}

	var best Hit
	var found bool
	if v.opt.Mode == ModeEdit {
		v.editScan(ref, c, cutoff-1, -1, true, func(h Hit) {
			best, found = h, true
		})
	} else {
		best, found = v.mismatchScan(ref, c, cutoff-1, -1)
	}
	if found {
		v.stats.Matches++
	}
	return best, found
}

// editScan scans the region for alignment ends with at most e errors.
// Consecutive qualified ends form an island, and the best end of each island
// is reported, ties to the earliest. With single, only the best island is reported.
func (v *Verifier) editScan(ref []byte, c filter.Candidate, e, wm int, single bool, fn func(Hit)) {
	v.loadPatterns()
	n := len(v.seq)
	my := &v.fwd
	my.reset()
	score := n

	var inIsland bool
	var best, bestEnd int
	var end int
	globalBest, globalEnd := e+1, -1
	for j := c.Begin; j < c.End; j++ {
		score += my.step(util.BaseCode[ref[j]], 0)
		end = j + 1
		if score <= e && end > wm {
			if !inIsland || score < best {
				best, bestEnd = score, end
			}
			inIsland = true
			continue
		}
		if inIsland {
			inIsland = false
			if single {
				if best < globalBest {
					globalBest, globalEnd = best, bestEnd
				}
			} else {
				fn(v.locate(ref, c.Begin, bestEnd, best, e))
			}
		}
	}
	if inIsland {
		if single {
			if best < globalBest {
				globalBest, globalEnd = best, bestEnd
			}
		} else {
			fn(v.locate(ref, c.Begin, bestEnd, best, e))
		}
	}
	if single && globalEnd > 0 {
		fn(v.locate(ref, c.Begin, globalEnd, globalBest, e))
	}
}

// locate finds the begin position of an alignment ending at end with the given score,
// by scanning the reversed read over the reversed reference. Ties go to the leftmost begin.
func (v *Verifier) locate(ref []byte, lower, end, score, e int) Hit {
	n := len(v.seq)
	if l := end - n - e; l > lower {
		lower = l
	}
	if lower < 0 {
		lower = 0
	}

	my := &v.rev
	my.reset()
	sc := n
	bestScore, bestBegin := n+e+1, -1
	for k := end - 1; k >= lower; k-- {
		sc += my.step(util.BaseCode[ref[k]], 1)
		if sc <= bestScore {
			bestScore, bestBegin = sc, k
		}
	}
	if bestScore != score || bestBegin < 0 {
		panic(fmt.Sprintf("verify: inconsistent scores of read %d ending at %d: forward %d, reverse %d",
			v.readID, end, score, bestScore))
	}
	return Hit{Begin: bestBegin, End: end, Errors: score, Score: -score}
}

// mismatchScan checks every offset of the region and returns the best one.
func (v *Verifier) mismatchScan(ref []byte, c filter.Candidate, e, wm int) (Hit, bool) {
	read := v.seq
	qual := v.qual
	n := len(read)
	quality := v.opt.Mode == ModeQuality
	prefix := v.opt.PrefixSeed
	if prefix > n {
		prefix = n
	}

	var best Hit
	var found bool
	var errs, penalty, ext, i int
	var a, b uint8
	for o := c.Begin; o+n <= c.End; o++ {
		if o < wm {
			continue
		}
		errs, penalty = 0, 0
		ext = n
		for i = 0; i < n; i++ {
			a, b = util.BaseCode[read[i]], util.BaseCode[ref[o+i]]
			if a == b && a != util.BaseN {
				continue
			}
			errs++
			if prefix > 0 {
				if i < prefix && errs > v.opt.PrefixSeedErrors {
					break
				}
				if i >= prefix && errs > e {
					ext = i // extension stops before this mismatch
					errs--
					break
				}
			} else if errs > e {
				break
			}
			if quality {
				if qual != nil {
					penalty += int(qual[i]) - 33
				} else {
					penalty++
				}
				if v.opt.MaxPenalty > 0 && penalty > v.opt.MaxPenalty {
					errs = e + 1
					break
				}
			}
		}
		if errs > e || (prefix > 0 && i < prefix && i < n) {
			continue
		}

		h := Hit{Begin: o, End: o + ext, Errors: errs, Score: -errs}
		if quality {
			h.Score = -penalty
		}
		if !found || better(h, best) {
			best, found = h, true
		}
	}
	return best, found
}

// better compares two hits of the same read: higher score, fewer errors,
// longer extension, then leftmost.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Errors != b.Errors {
		return a.Errors < b.Errors
	}
	if a.End-a.Begin != b.End-b.Begin {
		return a.End-a.Begin > b.End-b.Begin
	}
	return a.Begin < b.Begin
}
