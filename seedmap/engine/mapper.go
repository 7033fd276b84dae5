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
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/shenwei356/SeedMap/seedmap/contig"
	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/index"
	"github.com/shenwei356/SeedMap/seedmap/mates"
	"github.com/shenwei356/SeedMap/seedmap/reads"
	"github.com/shenwei356/SeedMap/seedmap/store"
	"github.com/shenwei356/SeedMap/seedmap/util"
	"github.com/shenwei356/SeedMap/seedmap/verify"
)

// ErrMapped means Map has been called.
var ErrMapped = errors.New("engine: a mapper can only run once")

// Stats contains the counters of a mapping job.
type Stats struct {
	Shape    string          // the seed shape used
	Segments filter.Segments // segments of the partition filter

	Blocks  int
	Tasks   int
	Indexes []index.Stats

	Filter filter.Stats
	Verify verify.Stats
	Mates  mates.Stats
	Store  store.Stats

	DisabledReads int // reads with a cutoff of 0
}

// Result is the result of a mapping job.
type Result struct {
	// Store holds the matches in the final order, the caller should close it.
	Store *store.Store

	ContigErrors map[int]error // contigs failed to load
	Warnings     []string

	Stats Stats
}

// block is a range of reads with its own indexes.
type block struct {
	lo, hi      int
	left, right *index.Index // right is only used for pairs
	pool        sync.Pool    // of *worker
}

// worker holds the finders and verifiers of a block, it is used by one task at a time.
type worker struct {
	finder   filter.Finder
	verifier *verify.Verifier

	// pairs
	right    filter.Finder
	vr       *verify.Verifier
	combiner *mates.Combiner

	buf []byte // reverse complement of the contig
}

// Mapper is the run context of a mapping job.
type Mapper struct {
	opt     Options
	contigs *contig.Store

	reads *reads.ReadSet // single-end reads or left mates
	pairs *reads.Pairs

	cutoffs *store.Cutoffs // of reads or pairs
	limits  [2][]int       // cutoffs of mates
	mateCut [2]*mates.MateCutoffs
	store   *store.Store

	shape    string
	segments filter.Segments
	warnings []string
	blocks   []*block

	mu      sync.Mutex
	workers []*worker
	errs    map[int]error
	ran     bool
}

// NewMapper creates a Mapper of single-end reads.
func NewMapper(rs *reads.ReadSet, contigs *contig.Store, opt *Options) (*Mapper, error) {
	if rs == nil || rs.Len() == 0 {
		return nil, ErrNoReads
	}
	m, err := newMapper(contigs, opt)
	if err != nil {
		return nil, err
	}
	m.reads = rs

	m.cutoffs = store.NewCutoffs(rs.Len(), 0)
	for i := 0; i < rs.Len(); i++ {
		m.cutoffs.Init(i, m.opt.MaxErrors(len(rs.Seq(i)))+1)
	}

	if err = m.prepare(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewPairedMapper creates a Mapper of read pairs.
// The right mates are mapped to the strand opposite to the left mates.
func NewPairedMapper(p *reads.Pairs, contigs *contig.Store, opt *Options) (*Mapper, error) {
	if p == nil || p.Len() == 0 {
		return nil, ErrNoReads
	}
	if p.Left.Len() != p.Right.Len() {
		return nil, errors.Wrapf(reads.ErrMateCountMismatch, "%d vs %d", p.Left.Len(), p.Right.Len())
	}
	m, err := newMapper(contigs, opt)
	if err != nil {
		return nil, err
	}
	m.reads = p.Left
	m.pairs = p

	n := p.Len()
	m.cutoffs = store.NewCutoffs(n, 0)
	m.limits[0], m.limits[1] = make([]int, n), make([]int, n)
	var el, er int
	for i := 0; i < n; i++ {
		el = m.opt.MaxErrors(len(p.Left.Seq(i)))
		er = m.opt.MaxErrors(len(p.Right.Seq(i)))
		m.limits[0][i], m.limits[1][i] = el+1, er+1
		m.cutoffs.Init(i, el+er+1)
	}
	m.mateCut[0] = mates.NewMateCutoffs(m.cutoffs, m.limits[0])
	m.mateCut[1] = mates.NewMateCutoffs(m.cutoffs, m.limits[1])

	if err = m.prepare(); err != nil {
		return nil, err
	}
	return m, nil
}

func newMapper(contigs *contig.Store, opt *Options) (*Mapper, error) {
	if contigs == nil {
		return nil, fmt.Errorf("%w: no contigs", ErrInvalidOptions)
	}
	if err := opt.Check(); err != nil {
		return nil, err
	}
	return &Mapper{
		opt:     *opt,
		contigs: contigs,
		errs:    make(map[int]error),
	}, nil
}

// Paired tells whether the reads are paired.
func (m *Mapper) Paired() bool { return m.pairs != nil }

// NumTasks returns the number of tasks of Map.
func (m *Mapper) NumTasks() int { return len(m.blocks) * m.contigs.NumContigs() * 2 }

// Warnings returns the warnings raised when preparing the filters.
func (m *Mapper) Warnings() []string { return m.warnings }

// readSets returns the read sets to index.
func (m *Mapper) readSets() []*reads.ReadSet {
	if m.pairs != nil {
		return []*reads.ReadSet{m.pairs.Left, m.pairs.Right}
	}
	return []*reads.ReadSet{m.reads}
}

// prepare chooses seeds and builds the indexes of read blocks.
func (m *Mapper) prepare() error {
	sets := m.readSets()
	lengths := distinctLengths(sets)
	if len(lengths) == 0 {
		return errors.Wrap(ErrNoReads, "all reads are empty")
	}

	iopt := index.Options{
		Shape:        m.opt.Shape,
		Step:         1,
		AbundanceCut: m.opt.AbundanceCut,
		MinAbundance: index.DefaultOptions.MinAbundance,
		TotalReads:   m.reads.Len(),
	}

	switch m.opt.Policy {
	case Swift:
		shape, err := index.ParseShape(m.opt.Shape)
		if err != nil {
			return err
		}
		for _, n := range lengths {
			if err = filter.CheckSwiftThreshold(n, m.opt.MaxErrors(n), shape); err != nil {
				return err
			}
		}
	case Pigeonhole:
		seg, losses, err := filter.ChooseSegmentsFor(lengths, m.opt.MaxErrors, m.opt.SeedErrors,
			m.opt.RecognitionRate, filter.HammingLoss{}, m.opt.SegmentLength, m.opt.SegmentOverlap)
		if err != nil {
			return err
		}
		maxLoss := 1 - m.opt.RecognitionRate
		for _, l := range losses {
			if l.Loss > maxLoss {
				m.warnings = append(m.warnings,
					fmt.Sprintf("estimated loss rate of %d-bp reads with %d errors using segments of length %d: %.4f, higher than the target %.4f",
						l.Length, l.Errors, seg.Length, l.Loss, maxLoss))
			}
		}
		m.segments = seg
		iopt.Shape = strings.Repeat("1", seg.Length)
		iopt.Step = seg.Step
	}
	m.shape = iopt.Shape

	// read blocks
	n := m.reads.Len()
	nb := m.opt.ReadBlocks
	if nb == 0 {
		nb = 1
		if m.pairs != nil {
			nb = m.opt.Threads
		}
	}
	if nb > n {
		nb = n
	}
	m.blocks = make([]*block, nb)
	size := (n + nb - 1) / nb
	var lo, hi int
	for i := range m.blocks {
		lo = i * size
		hi = lo + size
		if hi > n {
			hi = n
		}
		m.blocks[i] = &block{lo: lo, hi: hi}
	}
	// rounding leaves the last blocks empty for a few reads
	for len(m.blocks) > 1 && m.blocks[len(m.blocks)-1].lo >= n {
		m.blocks = m.blocks[:len(m.blocks)-1]
	}

	g := new(errgroup.Group)
	g.SetLimit(m.opt.Threads)
	for _, b := range m.blocks {
		b := b
		g.Go(func() (err error) {
			b.left, err = index.Build(sets[0], b.lo, b.hi, &iopt)
			if err != nil || len(sets) == 1 {
				return err
			}
			ropt := iopt
			ropt.Reverse = true
			b.right, err = index.Build(sets[1], b.lo, b.hi, &ropt)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var err error
	m.store, err = store.New(m.cutoffs, m.opt.storeOptions(m.pairs != nil))
	return err
}

// distinctLengths returns the distinct non-zero read lengths of all read sets.
func distinctLengths(sets []*reads.ReadSet) []int {
	seen := make(map[int]struct{}, 64)
	for _, rs := range sets {
		for _, n := range rs.Lengths() {
			if n > 0 {
				seen[n] = struct{}{}
			}
		}
	}
	lengths := make([]int, 0, len(seen))
	for n := range seen {
		lengths = append(lengths, n)
	}
	sort.Ints(lengths)
	return lengths
}

func (m *Mapper) newFinder(ctx context.Context, idx *index.Index, rs *reads.ReadSet, cutoffs filter.Cutoffs) (filter.Finder, error) {
	if m.opt.Policy == Pigeonhole {
		return filter.NewPigeonhole(ctx, idx, rs, cutoffs, m.opt.pigeonholeOptions())
	}
	return filter.NewSwift(ctx, idx, rs, cutoffs, m.opt.swiftOptions(m.opt.MaxErrors(rs.MaxLen())))
}

func (m *Mapper) newWorker(ctx context.Context, b *block) (w *worker, err error) {
	w = &worker{}
	vopt := m.opt.verifyOptions()
	if m.pairs == nil {
		if w.finder, err = m.newFinder(ctx, b.left, m.reads, m.cutoffs); err != nil {
			return nil, err
		}
		if w.verifier, err = verify.New(m.reads, m.cutoffs, false, vopt); err != nil {
			return nil, err
		}
	} else {
		left, right := m.pairs.Left, m.pairs.Right
		if w.finder, err = m.newFinder(ctx, b.left, left, m.mateCut[0]); err != nil {
			return nil, err
		}
		if w.right, err = m.newFinder(ctx, b.right, right, m.mateCut[1]); err != nil {
			return nil, err
		}
		if w.verifier, err = verify.New(left, m.mateCut[0], false, vopt); err != nil {
			return nil, err
		}
		if w.vr, err = verify.New(right, m.mateCut[1], true, vopt); err != nil {
			return nil, err
		}
		w.combiner, err = mates.NewCombiner(w.finder, w.right, w.verifier, w.vr, m.store,
			m.cutoffs, left.MaxLen(), m.opt.matesOptions())
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.workers = append(m.workers, w)
	m.mu.Unlock()
	return w, nil
}

func (m *Mapper) getWorker(ctx context.Context, b *block) (*worker, error) {
	if w, ok := b.pool.Get().(*worker); ok {
		return w, nil
	}
	return m.newWorker(ctx, b)
}

// Map scans both strands of all contigs, and returns the matches after the final compaction.
// A contig failed to load is skipped and reported in Result.ContigErrors.
func (m *Mapper) Map(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.ran {
		m.mu.Unlock()
		return nil, ErrMapped
	}
	m.ran = true
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opt.Threads)

	nContigs := m.contigs.NumContigs()
	strands := [2]store.Strand{store.Forward, store.Reverse}
	var tasks int
LOOP:
	for id := 0; id < nContigs; id++ {
		for _, strand := range strands {
			for _, b := range m.blocks {
				if gctx.Err() != nil {
					break LOOP
				}
				tasks++
				id, strand, b := id, strand, b
				g.Go(func() error {
					if m.opt.OnTaskDone != nil {
						defer m.opt.OnTaskDone()
					}
					return m.task(gctx, b, id, strand)
				})
			}
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.store.Close()
		return nil, err
	}

	if err = m.store.Compact(store.Final); err != nil {
		m.store.Close()
		return nil, errors.Wrap(err, "final compaction")
	}

	r := &Result{
		Store:        m.store,
		ContigErrors: m.errs,
		Warnings:     m.warnings,
	}
	r.Stats = m.stats()
	r.Stats.Tasks = tasks
	return r, nil
}

// task scans one strand of a contig with the reads of a block.
func (m *Mapper) task(ctx context.Context, b *block, id int, strand store.Strand) error {
	c, err := m.contigs.Lock(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.mu.Lock()
		if _, ok := m.errs[id]; !ok {
			m.errs[id] = errors.Wrapf(err, "contig #%d (%s)", id, m.contigs.Name(id))
		}
		m.mu.Unlock()
		return nil
	}

	w, err := m.getWorker(ctx, b)
	if err != nil {
		m.contigs.Release(c)
		return err
	}

	ref := c.Seq
	if strand == store.Reverse {
		w.buf = util.RCTo(w.buf, c.Seq)
		ref = w.buf
	}

	if m.pairs != nil {
		w.combiner.Run(ref, id, strand)
	} else {
		m.scan(w, ref, id, strand)
	}

	b.pool.Put(w)
	if err = m.contigs.Release(c); err != nil {
		return err
	}
	return ctx.Err()
}

// scan verifies the candidates of single-end reads.
func (m *Mapper) scan(w *worker, ref []byte, id int, strand store.Strand) {
	w.finder.Reset(ref)
	w.verifier.Reset()

	n := len(ref)
	var cand filter.Candidate
	var ok bool
	var rec store.Record
	push := func(h verify.Hit) {
		rec = store.Record{
			ContigID: uint32(id),
			ReadID:   uint32(cand.ReadID),
			Begin:    int64(h.Begin),
			End:      int64(h.End),
			Errors:   int32(h.Errors),
			Score:    int32(h.Score),
			Strand:   strand,
		}
		if strand == store.Reverse {
			rec.Begin, rec.End = int64(n-h.End), int64(n-h.Begin)
		}
		m.store.Push(rec)
	}
	for {
		cand, ok = w.finder.Next()
		if !ok {
			break
		}
		w.verifier.Verify(ref, cand, push)
	}
}

func (m *Mapper) stats() Stats {
	s := Stats{
		Shape:    m.shape,
		Segments: m.segments,
		Blocks:   len(m.blocks),
		Store:    m.store.Stats(),
	}
	for _, b := range m.blocks {
		s.Indexes = append(s.Indexes, b.left.Stats())
		if b.right != nil {
			s.Indexes = append(s.Indexes, b.right.Stats())
		}
	}

	m.mu.Lock()
	for _, w := range m.workers {
		s.Filter.Add(w.finder.Stats())
		s.Verify.Add(w.verifier.Stats())
		if w.combiner != nil {
			s.Filter.Add(w.right.Stats())
			s.Verify.Add(w.vr.Stats())
			s.Mates.Add(w.combiner.Stats())
		}
	}
	m.mu.Unlock()

	s.DisabledReads = m.cutoffs.Disabled()
	return s
}
