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

// Package engine runs a mapping job: it builds the seed indexes of the reads,
// scans every strand of every contig with a pool of workers, and collects
// the verified matches in a store.
package engine

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"

	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/index"
	"github.com/shenwei356/SeedMap/seedmap/mates"
	"github.com/shenwei356/SeedMap/seedmap/store"
	"github.com/shenwei356/SeedMap/seedmap/verify"
)

// ErrNoReads means there is no read to map.
var ErrNoReads = errors.New("engine: no reads to map")

// ErrInvalidOptions means an invalid value or combination of options.
var ErrInvalidOptions = errors.New("engine: invalid options")

// FilterPolicy is the policy of candidate filtration.
type FilterPolicy int

const (
	// Swift counts seed hits in parallelograms.
	Swift FilterPolicy = iota
	// Pigeonhole looks up read segments.
	Pigeonhole
)

// ParseFilterPolicy parses the name of a policy.
func ParseFilterPolicy(s string) (FilterPolicy, error) {
	switch s {
	case "swift":
		return Swift, nil
	case "pigeonhole":
		return Pigeonhole, nil
	}
	return 0, fmt.Errorf("%w: filter policy: %s, available: swift, pigeonhole", ErrInvalidOptions, s)
}

func (p FilterPolicy) String() string {
	if p == Pigeonhole {
		return "pigeonhole"
	}
	return "swift"
}

// Options contains the options of a mapping job.
type Options struct {
	// general
	Threads    int
	ReadBlocks int    // number of read blocks with their own indexes, 0 for auto
	OnTaskDone func() // called after every task, it should be safe for concurrent use

	// errors
	ErrorRate       float64 // maximum errors of a read: ⌊ErrorRate × length⌋
	RecognitionRate float64 // the minimum ratio of matches to find

	// filtration
	Policy       FilterPolicy
	Shape        string  // seed shape of the window-count filter
	AbundanceCut float64 // ratio of reads sharing a seed to disable it

	Delta       int // parallelogram width
	TabooLength int // distance between two emissions of a parallelogram, 0 for the read length

	SeedErrors     int // substitutions in a segment match, 0 or 1
	SegmentLength  int // 0 for choosing by the recognition rate
	SegmentOverlap int

	// verification
	ScoreMode        verify.Mode
	PrefixSeed       int
	PrefixSeedErrors int
	MaxPenalty       int

	// matches
	MaxHits        int
	PurgeAmbiguous bool
	DistanceRange  int

	CompactThreshold int
	CompactMult      float64

	SortOrder store.Order
	MaxMemory int64 // memory of matches before using the external sort
	TmpDir    string

	// pairs
	LibLen int
	LibErr int
}

// DefaultOptions is the default option
var DefaultOptions = Options{
	Threads: runtime.NumCPU(),

	ErrorRate:       0.05,
	RecognitionRate: 0.99,

	Policy:       Swift,
	Shape:        "11111111111",
	AbundanceCut: 1,
	Delta:        16,

	ScoreMode: verify.ModeEdit,

	MaxHits:       100,
	DistanceRange: -1,

	CompactThreshold: 1024,
	CompactMult:      2,

	SortOrder: store.ByRead,

	LibLen: 220,
	LibErr: 50,
}

// Check checks the options.
func (opt *Options) Check() error {
	if opt.Threads < 1 {
		return fmt.Errorf("%w: number of threads: %d, should be >= 1", ErrInvalidOptions, opt.Threads)
	}
	if opt.ReadBlocks < 0 {
		return fmt.Errorf("%w: number of read blocks: %d, should be >= 0", ErrInvalidOptions, opt.ReadBlocks)
	}
	if opt.ErrorRate < 0 || opt.ErrorRate >= 0.5 {
		return fmt.Errorf("%w: error rate: %f, valid range: [0, 0.5)", ErrInvalidOptions, opt.ErrorRate)
	}
	if opt.RecognitionRate <= 0 || opt.RecognitionRate > 1 {
		return fmt.Errorf("%w: recognition rate: %f, valid range: (0, 1]", ErrInvalidOptions, opt.RecognitionRate)
	}
	if opt.Policy != Swift && opt.Policy != Pigeonhole {
		return fmt.Errorf("%w: filter policy: %d", ErrInvalidOptions, opt.Policy)
	}

	if _, err := index.ParseShape(opt.Shape); err != nil {
		return err
	}
	if opt.AbundanceCut < 0 {
		return fmt.Errorf("%w: abundance cut: %f, should be >= 0", ErrInvalidOptions, opt.AbundanceCut)
	}
	if err := filter.CheckSwiftOptions(opt.swiftOptions(0)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, err)
	}
	if err := filter.CheckPigeonholeOptions(opt.pigeonholeOptions()); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, err)
	}
	if opt.SegmentLength < 0 || (opt.SegmentLength > 0 && opt.SegmentOverlap >= opt.SegmentLength) ||
		opt.SegmentOverlap < 0 {
		return fmt.Errorf("%w: segment length %d and overlap %d", ErrInvalidOptions,
			opt.SegmentLength, opt.SegmentOverlap)
	}

	if err := verify.CheckOptions(opt.verifyOptions()); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, err)
	}
	if err := store.CheckOptions(opt.storeOptions(false)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, err)
	}
	if err := mates.CheckOptions(opt.matesOptions()); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, err)
	}
	return nil
}

// MaxErrors returns the maximum number of errors of a read of length n.
func (opt *Options) MaxErrors(n int) int {
	return int(opt.ErrorRate * float64(n))
}

func (opt *Options) swiftOptions(overlap int) *filter.SwiftOptions {
	return &filter.SwiftOptions{
		Delta:       opt.Delta,
		Overlap:     overlap,
		TabooLength: opt.TabooLength,
	}
}

func (opt *Options) pigeonholeOptions() *filter.PigeonholeOptions {
	return &filter.PigeonholeOptions{SeedErrors: opt.SeedErrors}
}

func (opt *Options) verifyOptions() *verify.Options {
	return &verify.Options{
		Mode:             opt.ScoreMode,
		PrefixSeed:       opt.PrefixSeed,
		PrefixSeedErrors: opt.PrefixSeedErrors,
		MaxPenalty:       opt.MaxPenalty,
	}
}

func (opt *Options) storeOptions(paired bool) *store.Options {
	return &store.Options{
		MaxHits:          opt.MaxHits,
		DistanceRange:    opt.DistanceRange,
		PurgeAmbiguous:   opt.PurgeAmbiguous,
		QualityScores:    opt.ScoreMode == verify.ModeQuality,
		Paired:           paired,
		CompactThreshold: opt.CompactThreshold,
		CompactMult:      opt.CompactMult,
		Order:            opt.SortOrder,
		MaxMemory:        opt.MaxMemory,
		TmpDir:           opt.TmpDir,
	}
}

func (opt *Options) matesOptions() *mates.Options {
	return &mates.Options{LibLen: opt.LibLen, LibErr: opt.LibErr}
}
