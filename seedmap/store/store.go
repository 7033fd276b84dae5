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
	"errors"
	"fmt"
	"os"
	"sync"
)

// Mode is the mode of a compaction.
type Mode int

const (
	// Periodic compaction is triggered by pushes when the store grows over the threshold.
	Periodic Mode = iota
	// Final compaction runs at the end of mapping and imposes the output order.
	Final
)

// Order is the order of records after the final compaction.
type Order int

const (
	// ByRead sorts records by read, score (desc) and position.
	ByRead Order = iota
	// ByPosition sorts records by contig, position and read.
	ByPosition
)

// ParseOrder parses the name of an order.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "read":
		return ByRead, nil
	case "position":
		return ByPosition, nil
	}
	return 0, fmt.Errorf("invalid sort order: %s, available: read, position", s)
}

func (o Order) String() string {
	if o == ByPosition {
		return "position"
	}
	return "read"
}

// ErrClosed means the store is closed.
var ErrClosed = errors.New("store: closed")

// Options contains the options of a Store.
type Options struct {
	MaxHits        int  // the maximum number of matches per read
	DistanceRange  int  // only keep matches with scores within the range of the best one, < 0 for no limit
	PurgeAmbiguous bool // discard reads with more than MaxHits best matches

	QualityScores bool // scores are not negative errors, cutoffs are not tightened
	Paired        bool // records are pushed in pairs

	CompactThreshold int     // the initial number of records triggering a compaction
	CompactMult      float64 // growth rate of the threshold

	Order Order

	// the external compaction is used when the records need more memory than
	// MaxMemory bytes and TmpDir is given
	MaxMemory int64
	TmpDir    string
}

// DefaultOptions is the default option
var DefaultOptions = Options{
	MaxHits:       100,
	DistanceRange: -1,

	CompactThreshold: 1024,
	CompactMult:      2,

	Order: ByRead,
}

// CheckOptions checks the options.
func CheckOptions(opt *Options) error {
	if opt.MaxHits < 1 {
		return fmt.Errorf("the maximum number of hits should be >= 1: %d", opt.MaxHits)
	}
	if opt.CompactThreshold < 2 {
		return fmt.Errorf("the compaction threshold should be >= 2: %d", opt.CompactThreshold)
	}
	if opt.CompactMult < 1 {
		return fmt.Errorf("the growth rate of the compaction threshold should be >= 1: %f", opt.CompactMult)
	}
	if opt.MaxMemory < 0 {
		return fmt.Errorf("the memory limit should be >= 0: %d", opt.MaxMemory)
	}
	if opt.Order != ByRead && opt.Order != ByPosition {
		return fmt.Errorf("invalid sort order: %d", opt.Order)
	}
	return nil
}

// Stats contains the counters of a Store.
type Stats struct {
	Pushed      int64 // records pushed
	Compactions int64 // compaction passes
	Removed     int64 // records removed by compactions
	PurgedReads int64 // ambiguous reads discarded
	Threshold   int   // current compaction threshold
	External    bool  // the external compaction was used
}

// Store keeps matches. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	opt     Options
	cutoffs *Cutoffs

	recs      []Record
	threshold int
	pairID    uint64

	spill  *spilled // records of the external compaction
	dirty  bool     // records pushed after the last final compaction
	final  bool
	closed bool

	stats Stats
}

// New creates a Store. The cutoffs are tightened by compactions,
// it could be nil.
func New(cutoffs *Cutoffs, opt *Options) (*Store, error) {
	if err := CheckOptions(opt); err != nil {
		return nil, err
	}
	size := opt.CompactThreshold
	if size > 1<<16 {
		size = 1 << 16
	}
	s := &Store{
		opt:       *opt,
		cutoffs:   cutoffs,
		threshold: opt.CompactThreshold,
		recs:      make([]Record, 0, size),
	}
	return s, nil
}

// Cutoffs returns the cutoffs of reads.
func (s *Store) Cutoffs() *Cutoffs { return s.cutoffs }

// Options returns the options.
func (s *Store) Options() Options { return s.opt }

func checkRecord(r *Record) {
	if r.Begin >= r.End || r.Begin < 0 {
		panic(fmt.Sprintf("store: invalid record: %s", r))
	}
}

// Push adds a match, and compacts the store when it grows over the threshold.
func (s *Store) Push(r Record) {
	if !r.Valid() {
		return
	}
	checkRecord(&r)
	r.PairID, r.Mate = 0, 0

	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.dirty = true
	s.stats.Pushed++
	if len(s.recs) >= s.threshold {
		s.compact(Periodic)
	}
	s.mu.Unlock()
}

// PushPair adds the matches of two mates, and returns the pair id shared by them.
// The read ids of the two records are the index of the read pair.
func (s *Store) PushPair(left, right Record) uint64 {
	checkRecord(&left)
	checkRecord(&right)

	s.mu.Lock()
	s.pairID++
	id := s.pairID
	left.PairID, right.PairID = id, id
	left.Mate, right.Mate = 0, 1
	s.recs = append(s.recs, left, right)
	s.dirty = true
	s.stats.Pushed += 2
	if len(s.recs) >= s.threshold {
		s.compact(Periodic)
	}
	s.mu.Unlock()
	return id
}

// Compact compacts the records. A final compaction without
// any new pushes since the last one changes nothing.
func (s *Store) Compact(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if mode == Periodic {
		s.compact(Periodic)
		return nil
	}
	return s.compactFinal()
}

// compact runs an in-memory compaction.
func (s *Store) compact(mode Mode) {
	before := len(s.recs)
	s.recs = compact(s.recs, &s.opt, s.cutoffs, s.opt.Order, mode == Final, &s.stats)
	removed := before - len(s.recs)

	s.stats.Compactions++
	s.stats.Removed += int64(removed)
	if mode == Periodic && removed*4 < before*3 {
		s.threshold = int(float64(s.threshold) * s.opt.CompactMult)
	}
	if s.threshold < len(s.recs)+1 {
		s.threshold = len(s.recs) + 1
	}
	s.stats.Threshold = s.threshold
}

func (s *Store) compactFinal() error {
	if s.final && !s.dirty {
		return nil
	}

	total := len(s.recs)
	if s.spill != nil {
		total += s.spill.total
	}
	if s.spill != nil || (s.opt.TmpDir != "" && s.opt.MaxMemory > 0 &&
		int64(total)*recordSize > s.opt.MaxMemory) {
		if err := s.compactExternal(total); err != nil {
			return err
		}
	} else {
		s.compact(Final)
	}

	s.final = true
	s.dirty = false
	return nil
}

// compactExternal distributes records into buckets of disjoint read ranges,
// compacts every bucket in memory, and keeps the results in files.
func (s *Store) compactExternal(total int) (err error) {
	s.stats.External = true

	nb := int((int64(total)*recordSize)/(s.opt.MaxMemory/2+1)) + 1
	if nb < 2 {
		nb = 2
	}
	if nb > 1024 {
		nb = 1024
	}
	numReads := s.numReads()
	bucketOf := func(read uint32) int {
		b := int(int64(read) * int64(nb) / int64(numReads))
		if b >= nb {
			return nb - 1
		}
		return b
	}

	// distribute
	buckets := make([]*spillWriter, nb)
	sp := &spilled{runs: make([]string, 0, nb), counts: make([]int, 0, nb)}
	defer func() {
		if err == nil {
			return
		}
		for _, w := range buckets {
			if w != nil {
				w.fh.Close()
				os.Remove(w.file)
			}
		}
		sp.remove()
	}()
	for i := range buckets {
		if buckets[i], err = newSpillWriter(s.opt.TmpDir); err != nil {
			return err
		}
	}
	write := func(r *Record) error {
		return buckets[bucketOf(r.ReadID)].write(r)
	}
	if s.spill != nil {
		if err = s.spill.each(ByRead, s.opt.Paired, write); err != nil {
			return err
		}
		if err = s.spill.remove(); err != nil {
			return err
		}
		s.spill = nil
	}
	for i := range s.recs {
		if err = write(&s.recs[i]); err != nil {
			return err
		}
	}
	s.recs = s.recs[:0]

	files := make([]string, nb)
	for i, w := range buckets {
		if err = w.close(); err != nil {
			return err
		}
		files[i] = w.file
	}

	// compact buckets
	var recs []Record
	var w *spillWriter
	for _, file := range files {
		recs, err = readSpill(file, recs[:0])
		if err != nil {
			return err
		}
		if err = os.Remove(file); err != nil {
			return err
		}

		before := len(recs)
		recs = compact(recs, &s.opt, s.cutoffs, s.opt.Order, true, &s.stats)
		s.stats.Removed += int64(before - len(recs))

		if w, err = newSpillWriter(s.opt.TmpDir); err != nil {
			return err
		}
		for i := range recs {
			if err = w.write(&recs[i]); err != nil {
				return err
			}
		}
		if err = w.close(); err != nil {
			return err
		}
		sp.runs = append(sp.runs, w.file)
		sp.counts = append(sp.counts, len(recs))
		sp.total += len(recs)
	}
	s.stats.Compactions++
	s.spill = sp
	return nil
}

func (s *Store) numReads() int {
	if s.cutoffs != nil && s.cutoffs.Len() > 0 {
		return s.cutoffs.Len()
	}
	var max uint32
	for i := range s.recs {
		if s.recs[i].ReadID > max {
			max = s.recs[i].ReadID
		}
	}
	if s.spill != nil {
		s.spill.each(ByRead, s.opt.Paired, func(r *Record) error {
			if r.ReadID > max {
				max = r.ReadID
			}
			return nil
		})
	}
	return int(max) + 1
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recs)
	if s.spill != nil {
		n += s.spill.total
	}
	return n
}

// Each calls fn on every record, in the final order after a final compaction.
// Spilled records come before records pushed after the last final compaction.
func (s *Store) Each(fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.spill != nil {
		if err := s.spill.each(s.opt.Order, s.opt.Paired, fn); err != nil {
			return err
		}
	}
	for i := range s.recs {
		if err := fn(&s.recs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Records returns a copy of all records.
func (s *Store) Records() ([]Record, error) {
	recs := make([]Record, 0, s.Len())
	err := s.Each(func(r *Record) error {
		recs = append(recs, *r)
		return nil
	})
	return recs, err
}

// Stats returns the counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Threshold = s.threshold
	return st
}

// Close removes temporary files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.recs = nil
	if s.spill != nil {
		return s.spill.remove()
	}
	return nil
}
