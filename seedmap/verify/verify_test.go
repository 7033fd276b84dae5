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

package verify

import (
	"math/rand"
	"testing"

	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/reads"
	"github.com/shenwei356/SeedMap/seedmap/util"
)

type fixedCutoffs []int

func (c fixedCutoffs) Get(i int) int { return c[i] }

func randSeq(r *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = "ACGT"[r.Intn(4)]
	}
	return s
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// semiGlobal returns, for every end position j, the minimal edit distance
// between p and any substring of t ending at j.
func semiGlobal(p, t []byte) []int {
	m := len(p)
	col := make([]int, m+1)
	prev := make([]int, m+1)
	for i := range prev {
		prev[i] = i
	}
	scores := make([]int, len(t))
	var cost int
	for j := range t {
		col[0] = 0
		for i := 1; i <= m; i++ {
			cost = 1
			if util.BaseCode[p[i-1]] == util.BaseCode[t[j]] && util.BaseCode[t[j]] != util.BaseN {
				cost = 0
			}
			col[i] = min3(prev[i-1]+cost, prev[i]+1, col[i-1]+1)
		}
		scores[j] = col[m]
		col, prev = prev, col
	}
	return scores
}

func TestMyers(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	var my myers
	for _, m := range []int{1, 7, 63, 64, 65, 150} {
		for round := 0; round < 5; round++ {
			p := randSeq(r, m)
			text := randSeq(r, 300)
			copy(text[100:], p) // at least one exact hit
			if m > 3 {
				text[100+m/2] = 'N'
			}

			expected := semiGlobal(p, text)
			my.init(p)
			my.reset()
			score := m
			for j, b := range text {
				score += my.step(util.BaseCode[b], 0)
				if score != expected[j] {
					t.Errorf("m=%d, round %d, column %d: score %d, expected %d", m, round, j, score, expected[j])
					return
				}
			}
		}
	}
}

func newReads(seqs ...string) *reads.ReadSet {
	rs := reads.NewReadSet(len(seqs))
	for _, s := range seqs {
		rs.Add([]byte("r"), []byte(s), nil)
	}
	return rs
}

func TestHammingScenario(t *testing.T) {
	rs := newReads("ACGTACGTAC")
	ref := []byte("TTTTTTACGTCCGTACTTTTTT")
	opt := Options{Mode: ModeHamming}
	v, err := New(rs, fixedCutoffs{2}, false, &opt)
	if err != nil {
		t.Error(err)
		return
	}

	var hits []Hit
	n := v.Verify(ref, filter.Candidate{ReadID: 0, Begin: 0, End: len(ref)}, func(h Hit) {
		hits = append(hits, h)
	})
	if n != 1 || len(hits) != 1 {
		t.Errorf("expected exactly one match, got %d: %v", n, hits)
		return
	}
	h := hits[0]
	if h.Begin != 6 || h.End != 16 || h.Errors != 1 || h.Score != -1 {
		t.Errorf("unexpected match: %+v", h)
	}

	// reported already
	if n = v.Verify(ref, filter.Candidate{ReadID: 0, Begin: 2, End: 20}, func(Hit) {}); n != 0 {
		t.Errorf("a reported match should not be reported again")
	}
	v.Reset()
	if n = v.Verify(ref, filter.Candidate{ReadID: 0, Begin: 2, End: 20}, func(Hit) {}); n != 1 {
		t.Errorf("the match should be reported after Reset")
	}

	// an exclusive cutoff of 1 accepts exact matches only
	v, _ = New(rs, fixedCutoffs{1}, false, &opt)
	if _, ok := v.Best(ref, filter.Candidate{ReadID: 0, Begin: 0, End: len(ref)}); ok {
		t.Errorf("a match with 1 mismatch should be rejected with a cutoff of 1")
	}
}

func TestNoMatch(t *testing.T) {
	rs := newReads("ACGTACGTAC")
	ref := []byte("TTTTTTACGTACGTACTTTTTT")
	for _, mode := range []Mode{ModeEdit, ModeHamming, ModeQuality} {
		opt := Options{Mode: mode}

		// disabled read
		v, _ := New(rs, fixedCutoffs{0}, false, &opt)
		if _, ok := v.Best(ref, filter.Candidate{ReadID: 0, Begin: 0, End: len(ref)}); ok {
			t.Errorf("%s: a disabled read should have no match", mode)
		}

		// short region
		v, _ = New(rs, fixedCutoffs{3}, false, &opt)
		if _, ok := v.Best(ref, filter.Candidate{ReadID: 0, Begin: 6, End: 15}); ok {
			t.Errorf("%s: a region shorter than the read should have no match", mode)
		}

		// found
		h, ok := v.Best(ref, filter.Candidate{ReadID: 0, Begin: 6, End: 16})
		if !ok || h.Begin != 6 || h.End != 16 || h.Errors != 0 {
			t.Errorf("%s: unexpected match: %+v, %v", mode, h, ok)
		}
	}
}

func TestEdit(t *testing.T) {
	r := rand.New(rand.NewSource(12))
	ref := randSeq(r, 1000)
	read := make([]byte, 0, 100)
	read = append(read, ref[200:240]...)
	read = append(read, ref[241:300]...) // deletion of ref[240]
	read[10] = util.RC([]byte{read[10]})[0]

	rs := reads.NewReadSet(1)
	rs.Add([]byte("r0"), read, nil)
	v, _ := New(rs, fixedCutoffs{4}, false, &DefaultOptions)

	var hits []Hit
	v.Verify(ref, filter.Candidate{ReadID: 0, Begin: 150, End: 400}, func(h Hit) {
		hits = append(hits, h)
	})
	if len(hits) != 1 {
		t.Errorf("expected one match, got %v", hits)
		return
	}
	h := hits[0]
	if h.Begin != 200 || h.End != 300 || h.Errors != 2 || h.Score != -2 {
		t.Errorf("unexpected match: %+v", h)
	}

	// the reverse complement of the read
	rs = reads.NewReadSet(1)
	rs.Add([]byte("r0"), util.RC(append([]byte(nil), read...)), nil)
	v, _ = New(rs, fixedCutoffs{4}, true, &DefaultOptions)
	h2, ok := v.Best(ref, filter.Candidate{ReadID: 0, Begin: 150, End: 400})
	if !ok || h2 != h {
		t.Errorf("unexpected match of the reverse complement: %+v, %v", h2, ok)
	}
}

func TestEditIslands(t *testing.T) {
	r := rand.New(rand.NewSource(13))
	read := randSeq(r, 30)
	ref := randSeq(r, 400)
	copy(ref[50:], read)
	copy(ref[250:], read)
	ref[260] = util.RC([]byte{ref[260]})[0]

	rs := reads.NewReadSet(1)
	rs.Add([]byte("r0"), read, nil)
	v, _ := New(rs, fixedCutoffs{3}, false, &DefaultOptions)

	var hits []Hit
	c := filter.Candidate{ReadID: 0, Begin: 0, End: len(ref)}
	v.Verify(ref, c, func(h Hit) { hits = append(hits, h) })
	if len(hits) != 2 {
		t.Errorf("expected two distinct matches, got %v", hits)
		return
	}
	if hits[0] != (Hit{Begin: 50, End: 80, Errors: 0, Score: 0}) {
		t.Errorf("unexpected first match: %+v", hits[0])
	}
	if hits[1] != (Hit{Begin: 250, End: 280, Errors: 1, Score: -1}) {
		t.Errorf("unexpected second match: %+v", hits[1])
	}
	for _, h := range hits {
		if h.Begin >= h.End || h.Errors > 2 {
			t.Errorf("invalid match: %+v", h)
		}
	}

	// overlapping candidate regions do not report them again
	if n := v.Verify(ref, filter.Candidate{ReadID: 0, Begin: 40, End: 290}, func(Hit) {}); n != 0 {
		t.Errorf("matches were reported again")
	}

	best, ok := v.Best(ref, c)
	if !ok || best.Begin != 50 || best.Errors != 0 {
		t.Errorf("unexpected best match: %+v", best)
	}
}

func TestQuality(t *testing.T) {
	rs := reads.NewReadSet(1)
	rs.Add([]byte("r0"), []byte("ACGTACGTAC"), []byte("IIIII#IIII")) // '#' is 2, 'I' is 40
	// an exact match, and mismatches at bases of low or high quality
	ref := []byte("GGACGTACGTAAGGGGACGTACGTACGGGACGTAGGTACGG")

	opt := Options{Mode: ModeQuality}
	v, _ := New(rs, fixedCutoffs{2}, false, &opt)
	h, ok := v.Best(ref, filter.Candidate{ReadID: 0, Begin: 0, End: len(ref)})
	if !ok {
		t.Errorf("no match found")
		return
	}
	if h.Begin != 16 || h.Errors != 0 || h.Score != 0 {
		t.Errorf("the exact match should be the best: %+v", h)
	}

	h, ok = v.Best(ref[26:], filter.Candidate{ReadID: 0, Begin: 0, End: len(ref) - 26})
	if !ok || h.Begin != 3 || h.Errors != 1 || h.Score != -2 {
		t.Errorf("unexpected match: %+v", h)
	}

	opt.MaxPenalty = 1
	v, _ = New(rs, fixedCutoffs{2}, false, &opt)
	if _, ok = v.Best(ref[:12], filter.Candidate{ReadID: 0, Begin: 0, End: 12}); ok {
		t.Errorf("penalty %d should exceed the limit", 40)
	}
}

func TestPrefixSeed(t *testing.T) {
	rs := newReads("ACGTACGTACGTACGTACGT")
	//           prefix 8      errors at 12 and 16
	ref := []byte("ACGTACGTACGTTCGTTCGT")

	opt := Options{Mode: ModeHamming, PrefixSeed: 8, PrefixSeedErrors: 0}
	v, _ := New(rs, fixedCutoffs{2}, false, &opt)
	h, ok := v.Best(ref, filter.Candidate{ReadID: 0, Begin: 0, End: len(ref)})
	if !ok || h.Begin != 0 || h.End != 16 || h.Errors != 1 {
		t.Errorf("the match should be extended to the second mismatch: %+v, %v", h, ok)
	}

	if err := CheckOptions(&Options{Mode: ModeEdit, PrefixSeed: 8}); err == nil {
		t.Errorf("prefix-seed with edit distance should be rejected")
	}
}

func BenchmarkMyers(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	p := randSeq(r, 150)
	text := randSeq(r, 10000)
	var my myers
	my.init(p)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		my.reset()
		for _, c := range text {
			my.step(util.BaseCode[c], 0)
		}
	}
}
