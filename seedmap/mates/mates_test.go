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

package mates

import (
	"math/rand"
	"testing"

	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/reads"
	"github.com/shenwei356/SeedMap/seedmap/store"
	"github.com/shenwei356/SeedMap/seedmap/util"
	"github.com/shenwei356/SeedMap/seedmap/verify"
)

// listFinder returns given candidates, the scan position of a candidate is its end.
type listFinder struct {
	cands []filter.Candidate
	i     int
}

func (f *listFinder) Reset(ref []byte) { f.i = 0 }

func (f *listFinder) Next() (filter.Candidate, bool) {
	if f.i >= len(f.cands) {
		return filter.Candidate{}, false
	}
	f.i++
	return f.cands[f.i-1], true
}

func (f *listFinder) Pos() int {
	if f.i == 0 {
		return 0
	}
	return f.cands[f.i-1].End
}

func (f *listFinder) Stats() filter.Stats { return filter.Stats{} }

func randSeq(r *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = "ACGT"[r.Intn(4)]
	}
	return s
}

type setup struct {
	left, right *reads.ReadSet
	cutoffs     *store.Cutoffs
	st          *store.Store
}

func newSetup(t *testing.T, ref []byte, pairs [][2]int, n int) *setup {
	s := &setup{
		left:  reads.NewReadSet(len(pairs)),
		right: reads.NewReadSet(len(pairs)),
	}
	for _, p := range pairs {
		s.left.Add([]byte("r"), ref[p[0]:p[0]+n], nil)
		s.right.Add([]byte("r"), util.RC(append([]byte(nil), ref[p[1]-n:p[1]]...)), nil)
	}
	s.cutoffs = store.NewCutoffs(len(pairs), 5)

	opt := store.DefaultOptions
	opt.Paired = true
	var err error
	if s.st, err = store.New(s.cutoffs, &opt); err != nil {
		t.Fatal(err)
	}
	return s
}

func (s *setup) combiner(t *testing.T, left, right []filter.Candidate, opt Options) *Combiner {
	limits := make([]int, s.left.Len())
	for i := range limits {
		limits[i] = 3
	}
	vl, err := verify.New(s.left, NewMateCutoffs(s.cutoffs, limits), false, &verify.DefaultOptions)
	if err != nil {
		t.Fatal(err)
	}
	vr, err := verify.New(s.right, NewMateCutoffs(s.cutoffs, limits), true, &verify.DefaultOptions)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewCombiner(&listFinder{cands: left}, &listFinder{cands: right}, vl, vr, s.st,
		s.cutoffs, s.left.MaxLen(), &opt)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLibrarySize(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	ref := randSeq(r, 1000)

	for _, test := range []struct {
		libErr int
		pairs  int
	}{
		{20, 1},
		{10, 0},
	} {
		s := newSetup(t, ref, [][2]int{{100, 320}}, 20)
		c := s.combiner(t,
			[]filter.Candidate{{ReadID: 0, Begin: 90, End: 130}},
			[]filter.Candidate{{ReadID: 0, Begin: 290, End: 330}},
			Options{LibLen: 200, LibErr: test.libErr})
		c.Run(ref, 0, store.Forward)

		s.st.Compact(store.Final)
		recs, _ := s.st.Records()
		if len(recs) != 2*test.pairs || int(c.Stats().Pairs) != test.pairs {
			t.Errorf("library 200±%d: expected %d pairs, got %v", test.libErr, test.pairs, recs)
			continue
		}
		if test.pairs == 0 {
			continue
		}
		l, rr := recs[0], recs[1]
		if l.Begin != 100 || l.End != 120 || rr.Begin != 300 || rr.End != 320 {
			t.Errorf("unexpected pair: %s, %s", &l, &rr)
		}
		if l.PairID == 0 || l.PairID != rr.PairID || l.Mate != 0 || rr.Mate != 1 {
			t.Errorf("unexpected pair ids: %s, %s", &l, &rr)
		}
		if l.LibDiff != 20 || l.PairScore != 0 {
			t.Errorf("unexpected pair score: %d, library deviation: %d", l.PairScore, l.LibDiff)
		}
	}
}

func TestPairs(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	ref := randSeq(r, 3000)
	n := 30
	libLen, libErr := 250, 10

	var pairs [][2]int
	var left, right []filter.Candidate
	for i := 0; i < 3; i++ {
		p := 200 + 800*i
		pairs = append(pairs, [2]int{p, p + libLen})
		left = append(left,
			filter.Candidate{ReadID: i, Begin: p - 150, End: p - 110}, // nothing here
			filter.Candidate{ReadID: i, Begin: p - 5, End: p + n + 5},
		)
		right = append(right, filter.Candidate{ReadID: i, Begin: p + libLen - n - 5, End: p + libLen + 5})
	}

	s := newSetup(t, ref, pairs, n)
	c := s.combiner(t, left, right, Options{LibLen: libLen, LibErr: libErr})
	c.Run(ref, 3, store.Forward)

	// the empty left regions of the last two pairs are evicted before being verified
	st := c.Stats()
	if st.Pairs != 3 || st.LeftVerifications != 4 || st.RightVerifications != 3 {
		t.Errorf("unexpected stats: %+v", st)
	}

	s.st.Compact(store.Final)
	recs, _ := s.st.Records()
	if len(recs) != 6 {
		t.Errorf("expected 3 pairs, got %d records", len(recs))
		return
	}
	ids := make(map[uint64]bool)
	var insert int
	for i := 0; i < len(recs); i += 2 {
		l, rr := recs[i], recs[i+1]
		if l.PairID != rr.PairID || ids[l.PairID] {
			t.Errorf("pair ids are not unique: %s, %s", &l, &rr)
		}
		ids[l.PairID] = true
		insert = int(rr.End - l.Begin)
		if insert < libLen-libErr || insert > libLen+libErr {
			t.Errorf("unexpected insert size: %d", insert)
		}
		if l.ContigID != 3 || l.Begin != int64(pairs[l.ReadID][0]) {
			t.Errorf("unexpected left mate: %s", &l)
		}
	}
}

func TestReverseStrand(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	ref := randSeq(r, 1000)
	s := newSetup(t, ref, [][2]int{{100, 320}}, 20)

	// the pair is found on the reverse complement of the contig
	rc := util.RC(append([]byte(nil), ref...))
	c := s.combiner(t,
		[]filter.Candidate{{ReadID: 0, Begin: 90, End: 130}},
		[]filter.Candidate{{ReadID: 0, Begin: 290, End: 330}},
		Options{LibLen: 200, LibErr: 30})
	c.Run(rc, 0, store.Reverse)
	if c.Stats().Pairs != 0 {
		t.Errorf("no pair should be found on the reverse strand")
	}

	// a pair on the reverse strand
	n := len(ref)
	s = newSetup(t, rc, [][2]int{{n - 320, n - 100}}, 20)
	c = s.combiner(t,
		[]filter.Candidate{{ReadID: 0, Begin: n - 330, End: n - 290}},
		[]filter.Candidate{{ReadID: 0, Begin: n - 130, End: n - 90}},
		Options{LibLen: 220, LibErr: 10})
	c.Run(rc, 0, store.Reverse)
	s.st.Compact(store.Final)
	recs, _ := s.st.Records()
	if len(recs) != 2 {
		t.Errorf("expected a pair, got %v", recs)
		return
	}
	if recs[0].Begin != 300 || recs[0].End != 320 || recs[1].Begin != 100 || recs[1].End != 120 ||
		recs[0].Strand != store.Reverse {
		t.Errorf("unexpected coordinates: %s, %s", &recs[0], &recs[1])
	}
}

func TestWindow(t *testing.T) {
	w := newWindow()
	for i := 0; i < 5; i++ {
		w.push(filter.Candidate{ReadID: i % 2, Begin: i * 10, End: i*10 + 20})
	}
	// read 0: 0, 2, 4; read 1: 1, 3
	if h := w.head(0); h != 4 {
		t.Errorf("unexpected head: %d", h)
	}
	w.unlink(0, 2, 4)
	if p := w.get(4).prev; p != 0 {
		t.Errorf("entry 2 should be skipped: %d", p)
	}
	w.unlink(1, 3, -1)
	if h := w.head(1); h != 1 {
		t.Errorf("unexpected head after unlinking: %d", h)
	}

	w.evict(35) // ends: 20, 30, 40, ...
	if w.first != 2 || w.Len() != 3 {
		t.Errorf("unexpected window: first %d, len %d", w.first, w.Len())
	}
	if h := w.head(1); h != -1 {
		t.Errorf("evicted entries should not be returned: %d", h)
	}
	if i := w.push(filter.Candidate{ReadID: 1, Begin: 100, End: 120}); i != 5 || w.get(5).prev != -1 {
		t.Errorf("unexpected new entry: %d, %+v", i, w.get(i))
	}

	// reclaiming space keeps global indexes
	for i := 0; i < 3000; i++ {
		w.push(filter.Candidate{ReadID: 7, Begin: 200 + i, End: 220 + i})
	}
	w.evict(2000)
	if w.base != w.first {
		t.Errorf("dead entries should be reclaimed: base %d, first %d", w.base, w.first)
	}
	h := w.head(7)
	if h != 3005 || w.get(h).cand.Begin != 3199 {
		t.Errorf("unexpected head: %d, %+v", h, w.get(h))
	}
}
