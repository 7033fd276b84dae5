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

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/shenwei356/SeedMap/seedmap/contig"
	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/index"
	"github.com/shenwei356/SeedMap/seedmap/reads"
	"github.com/shenwei356/SeedMap/seedmap/store"
	"github.com/shenwei356/SeedMap/seedmap/util"
	"github.com/shenwei356/SeedMap/seedmap/verify"
)

func randSeq(r *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = "ACGT"[r.Intn(4)]
	}
	return s
}

// substitute changes bases at the given positions of a copy of s.
func substitute(s []byte, positions ...int) []byte {
	s2 := append([]byte(nil), s...)
	for _, p := range positions {
		switch s2[p] {
		case 'A':
			s2[p] = 'C'
		case 'C':
			s2[p] = 'G'
		case 'G':
			s2[p] = 'T'
		default:
			s2[p] = 'A'
		}
	}
	return s2
}

type placement struct {
	contig int
	begin  int
	strand store.Strand
}

// simulate samples reads of length n with two substitutions from both strands of the contigs.
func simulate(r *rand.Rand, contigs [][]byte, num, n int) (*reads.ReadSet, []placement) {
	rs := reads.NewReadSet(num)
	truth := make([]placement, num)
	var c, p int
	var s []byte
	for i := 0; i < num; i++ {
		c = r.Intn(len(contigs))
		p = r.Intn(len(contigs[c]) - n)
		s = substitute(contigs[c][p:p+n], n/3, 2*n/3)
		truth[i] = placement{contig: c, begin: p, strand: store.Forward}
		if i%2 == 1 {
			util.RC(s)
			truth[i].strand = store.Reverse
		}
		rs.Add([]byte(fmt.Sprintf("read_%d", i)), s, nil)
	}
	return rs, truth
}

func newContigs(r *rand.Rand, lens ...int) ([][]byte, *contig.MemLoader) {
	seqs := make([][]byte, len(lens))
	loader := contig.NewMemLoader()
	for i, n := range lens {
		seqs[i] = randSeq(r, n)
		loader.Add([]byte(fmt.Sprintf("contig_%d", i)), seqs[i])
	}
	return seqs, loader
}

// best returns the first record of every read.
func best(t *testing.T, st *store.Store) map[uint32]store.Record {
	m := make(map[uint32]store.Record)
	err := st.Each(func(rec *store.Record) error {
		if _, ok := m[rec.ReadID]; !ok {
			m[rec.ReadID] = *rec
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMap(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	seqs, loader := newContigs(r, 5000, 3000)
	n := 100
	rs, truth := simulate(r, seqs, 60, n)

	for _, test := range []struct {
		policy FilterPolicy
		mode   verify.Mode
		blocks int
	}{
		{Swift, verify.ModeEdit, 1},
		{Swift, verify.ModeHamming, 3},
		{Pigeonhole, verify.ModeEdit, 2},
		{Pigeonhole, verify.ModeHamming, 1},
	} {
		opt := DefaultOptions
		opt.Threads = 4
		opt.Policy = test.policy
		opt.ScoreMode = test.mode
		opt.ReadBlocks = test.blocks

		var done atomic.Int64
		opt.OnTaskDone = func() { done.Add(1) }

		m, err := NewMapper(rs, contig.NewStore(loader, 0), &opt)
		if err != nil {
			t.Errorf("%s/%s: %s", test.policy, test.mode, err)
			continue
		}
		res, err := m.Map(context.Background())
		if err != nil {
			t.Errorf("%s/%s: %s", test.policy, test.mode, err)
			continue
		}

		if int(done.Load()) != m.NumTasks() || res.Stats.Tasks != m.NumTasks() {
			t.Errorf("%s/%s: %d tasks done, expected %d", test.policy, test.mode, done.Load(), m.NumTasks())
		}
		if len(res.ContigErrors) != 0 || len(res.Warnings) != 0 {
			t.Errorf("%s/%s: unexpected errors or warnings: %v, %v",
				test.policy, test.mode, res.ContigErrors, res.Warnings)
		}

		hits := best(t, res.Store)
		if len(hits) != rs.Len() {
			t.Errorf("%s/%s: %d of %d reads mapped", test.policy, test.mode, len(hits), rs.Len())
		}
		for i, p := range truth {
			rec, ok := hits[uint32(i)]
			if !ok {
				continue
			}
			if int(rec.ContigID) != p.contig || int(rec.Begin) != p.begin || int(rec.End) != p.begin+n ||
				rec.Strand != p.strand || rec.Errors != 2 || rec.Score != -2 {
				t.Errorf("%s/%s: read %d, expected %d:%d%s, got %s",
					test.policy, test.mode, i, p.contig, p.begin, p.strand, &rec)
			}
		}

		st := res.Stats
		if st.Verify.Matches < int64(rs.Len()) || st.Filter.Candidates == 0 || len(st.Indexes) != st.Blocks {
			t.Errorf("%s/%s: unexpected stats: %+v", test.policy, test.mode, st)
		}
		t.Logf("%s/%s: shape %s, %d candidates, %d verifications",
			test.policy, test.mode, st.Shape, st.Filter.Candidates, st.Verify.Verifications)

		if _, err = m.Map(context.Background()); !errors.Is(err, ErrMapped) {
			t.Errorf("a mapper should only run once: %v", err)
		}
		res.Store.Close()
	}
}

func TestMapExternal(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	seqs, loader := newContigs(r, 4000)
	rs, _ := simulate(r, seqs, 40, 80)

	for _, order := range []store.Order{store.ByRead, store.ByPosition} {
		var results [2][]store.Record
		for i := range results {
			opt := DefaultOptions
			opt.Threads = 2
			opt.SortOrder = order
			if i == 1 {
				opt.MaxMemory = 100
				opt.TmpDir = t.TempDir()
			}
			m, err := NewMapper(rs, contig.NewStore(loader, 0), &opt)
			if err != nil {
				t.Fatal(err)
			}
			res, err := m.Map(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if res.Stats.Store.External != (i == 1) {
				t.Errorf("order %s: unexpected compaction path: %+v", order, res.Stats.Store)
			}
			if results[i], err = res.Store.Records(); err != nil {
				t.Fatal(err)
			}
			res.Store.Close()
		}

		if len(results[0]) == 0 || len(results[0]) != len(results[1]) {
			t.Errorf("order %s: %d records in memory, %d with the external sort",
				order, len(results[0]), len(results[1]))
			continue
		}
		for i := range results[0] {
			if results[0][i] != results[1][i] {
				t.Errorf("order %s: record %d differs: %s vs %s", order, i, &results[0][i], &results[1][i])
				break
			}
		}
	}
}

func TestMapPairs(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	seqs, loader := newContigs(r, 6000)
	ref := seqs[0]
	rc := util.RC(append([]byte(nil), ref...))
	L := len(ref)
	n, insert := 50, 250

	left, right := reads.NewReadSet(20), reads.NewReadSet(20)
	type pair struct {
		begin, end int // forward coordinates of the left and the right mate
		strand     store.Strand
	}
	var truth []pair
	var s []byte
	var q int
	for i := 0; i < 20; i++ {
		q = 100 + i*280
		s = ref
		if i%2 == 1 {
			s = rc
		}
		left.Add([]byte(fmt.Sprintf("p%d/1", i)), substitute(s[q:q+n], 20), nil)
		right.Add([]byte(fmt.Sprintf("p%d/2", i)),
			util.RC(substitute(s[q+insert-n:q+insert], 10)), nil)

		if i%2 == 0 {
			truth = append(truth, pair{begin: q, end: q + insert, strand: store.Forward})
		} else {
			truth = append(truth, pair{begin: L - q - n, end: L - q - insert + n, strand: store.Reverse})
		}
	}
	p, err := reads.NewPairs(left, right)
	if err != nil {
		t.Fatal(err)
	}

	opt := DefaultOptions
	opt.Threads = 3
	opt.ErrorRate = 0.04
	opt.LibLen, opt.LibErr = insert, 20
	m, err := NewPairedMapper(p, contig.NewStore(loader, 0), &opt)
	if err != nil {
		t.Fatal(err)
	}
	res, err := m.Map(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer res.Store.Close()

	recs, err := res.Store.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2*p.Len() || res.Stats.Mates.Pairs < int64(p.Len()) {
		t.Errorf("expected %d pairs, got %d records, stats: %+v", p.Len(), len(recs), res.Stats.Mates)
		return
	}

	ids := make(map[uint64]bool)
	var l, rr store.Record
	var tr pair
	for i := 0; i < len(recs); i += 2 {
		l, rr = recs[i], recs[i+1]
		if l.PairID == 0 || l.PairID != rr.PairID || ids[l.PairID] || l.Mate != 0 || rr.Mate != 1 {
			t.Errorf("invalid pair: %s, %s", &l, &rr)
			continue
		}
		ids[l.PairID] = true

		tr = truth[l.ReadID]
		if l.Strand != tr.strand || rr.Strand != tr.strand || l.Errors+rr.Errors != 2 {
			t.Errorf("pair %d: unexpected strand or errors: %s, %s", l.ReadID, &l, &rr)
		}
		if tr.strand == store.Forward && (int(l.Begin) != tr.begin || int(rr.End) != tr.end) {
			t.Errorf("pair %d: expected [%d, %d), got %s, %s", l.ReadID, tr.begin, tr.end, &l, &rr)
		}
		if tr.strand == store.Reverse && (int(l.Begin) != tr.begin || int(rr.Begin) != tr.end-n) {
			t.Errorf("pair %d: expected left at %d, right at %d, got %s, %s",
				l.ReadID, tr.begin, tr.end-n, &l, &rr)
		}
	}
}

// failingLoader fails to load one contig.
type failingLoader struct {
	*contig.MemLoader
	bad int
}

var errLoad = errors.New("disk failure")

func (l *failingLoader) Load(id int) ([]byte, error) {
	if id == l.bad {
		return nil, errLoad
	}
	return l.MemLoader.Load(id)
}

func TestContigErrors(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	seqs, loader := newContigs(r, 3000, 3000, 3000)
	rs, truth := simulate(r, seqs, 30, 100)

	opt := DefaultOptions
	opt.Threads = 2
	m, err := NewMapper(rs, contig.NewStore(&failingLoader{MemLoader: loader, bad: 1}, 4000), &opt)
	if err != nil {
		t.Fatal(err)
	}
	res, err := m.Map(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer res.Store.Close()

	if len(res.ContigErrors) != 1 || !errors.Is(res.ContigErrors[1], errLoad) {
		t.Errorf("unexpected contig errors: %v", res.ContigErrors)
	}
	hits := best(t, res.Store)
	for i, p := range truth {
		_, ok := hits[uint32(i)]
		if ok == (p.contig == 1) {
			t.Errorf("read %d from contig %d: mapped: %v", i, p.contig, ok)
		}
	}
}

func TestCancel(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	seqs, loader := newContigs(r, 3000)
	rs, _ := simulate(r, seqs, 10, 100)

	m, err := NewMapper(rs, contig.NewStore(loader, 0), &DefaultOptions)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err = m.Map(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOptions(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	seqs, loader := newContigs(r, 1000)
	rs, _ := simulate(r, seqs, 5, 40)
	contigs := contig.NewStore(loader, 0)

	if _, err := NewMapper(reads.NewReadSet(0), contigs, &DefaultOptions); !errors.Is(err, ErrNoReads) {
		t.Errorf("expected ErrNoReads, got %v", err)
	}
	if _, err := NewPairedMapper(nil, contigs, &DefaultOptions); !errors.Is(err, ErrNoReads) {
		t.Errorf("expected ErrNoReads, got %v", err)
	}

	for _, test := range []struct {
		name string
		set  func(*Options)
		err  error
	}{
		{"error rate", func(o *Options) { o.ErrorRate = 0.6 }, ErrInvalidOptions},
		{"recognition rate", func(o *Options) { o.RecognitionRate = 0 }, ErrInvalidOptions},
		{"threads", func(o *Options) { o.Threads = 0 }, ErrInvalidOptions},
		{"prefix seed", func(o *Options) { o.PrefixSeed = 10 }, ErrInvalidOptions},
		{"max hits", func(o *Options) { o.MaxHits = 0 }, ErrInvalidOptions},
		{"library", func(o *Options) { o.LibErr = o.LibLen }, ErrInvalidOptions},
		{"segments", func(o *Options) { o.SegmentLength, o.SegmentOverlap = 10, 10 }, ErrInvalidOptions},
		{"shape", func(o *Options) { o.Shape = "1121" }, index.ErrInvalidShape},
		{"long shape", func(o *Options) { o.Shape = "1111111111111111111111111" }, filter.ErrLowThreshold},
	} {
		opt := DefaultOptions
		test.set(&opt)
		if _, err := NewMapper(rs, contigs, &opt); !errors.Is(err, test.err) {
			t.Errorf("%s: expected %v, got %v", test.name, test.err, err)
		}
	}

	if p, err := ParseFilterPolicy("pigeonhole"); err != nil || p != Pigeonhole {
		t.Errorf("unexpected policy: %s, %v", p, err)
	}
	if _, err := ParseFilterPolicy("bloom"); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions, got %v", err)
	}

	opt := DefaultOptions
	if e := opt.MaxErrors(100); e != 5 {
		t.Errorf("expected 5 errors for 100 bp, got %d", e)
	}
}

func TestRecognitionWarning(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	seqs, loader := newContigs(r, 2000)
	rs, _ := simulate(r, seqs, 5, 100)

	opt := DefaultOptions
	opt.Policy = Pigeonhole
	opt.SegmentLength = 30 // only 3 disjoint segments for 5 errors
	m, err := NewMapper(rs, contig.NewStore(loader, 0), &opt)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Warnings()) != 1 {
		t.Errorf("expected a warning of the recognition rate, got %v", m.Warnings())
	}
}

func TestMixedReadLengths(t *testing.T) {
	r := rand.New(rand.NewSource(8))
	seqs, loader := newContigs(r, 2000)
	ref := seqs[0]

	rs := reads.NewReadSet(2)
	rs.Add([]byte("short"), append([]byte(nil), ref[300:319]...), nil)
	// one substitution in every 19-bp piece of the long read
	rs.Add([]byte("long"), substitute(ref[1000:1100], 10, 29, 48, 67, 86), nil)

	opt := DefaultOptions
	opt.Threads = 1
	opt.Policy = Pigeonhole
	opt.ScoreMode = verify.ModeHamming
	opt.RecognitionRate = 1
	m, err := NewMapper(rs, contig.NewStore(loader, 0), &opt)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", m.Warnings())
	}
	res, err := m.Map(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer res.Store.Close()

	if seg := res.Stats.Segments; seg.Length > 16 {
		t.Errorf("segments too long for 100-bp reads with 5 errors: %+v", seg)
	}
	hits := best(t, res.Store)
	if rec, ok := hits[0]; !ok || rec.Begin != 300 || rec.Errors != 0 {
		t.Errorf("the short read is not mapped: %v", hits)
	}
	if rec, ok := hits[1]; !ok || rec.Begin != 1000 || rec.End != 1100 || rec.Errors != 5 {
		t.Errorf("the long read with 5 errors is not mapped: %v", hits)
	}
}

func TestPurgeAmbiguousEarlyCompaction(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	ref := randSeq(r, 1500)
	read := randSeq(r, 60)
	for _, p := range []int{100, 600, 1100} {
		copy(ref[p:], read)
	}
	loader := contig.NewMemLoader()
	loader.Add([]byte("contig"), ref)

	for _, threshold := range []int{2, 1024} {
		rs := reads.NewReadSet(1)
		rs.Add([]byte("read"), read, nil)

		opt := DefaultOptions
		opt.Threads = 1
		opt.ScoreMode = verify.ModeHamming
		opt.MaxHits = 2
		opt.PurgeAmbiguous = true
		opt.CompactThreshold = threshold
		m, err := NewMapper(rs, contig.NewStore(loader, 0), &opt)
		if err != nil {
			t.Fatal(err)
		}
		res, err := m.Map(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		recs, err := res.Store.Records()
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 0 || res.Stats.Store.PurgedReads != 1 {
			t.Errorf("compaction threshold %d: the read with 3 equal placements should be purged: %v, %+v",
				threshold, recs, res.Stats.Store)
		}
		res.Store.Close()
	}
}
