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
	"fmt"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/shenwei356/SeedMap/seedmap/index"
)

// LossEstimator estimates the probability of missing a match of a read
// of length n with e errors, using segments of length q and the given step,
// with at most s errors allowed in a segment match.
type LossEstimator interface {
	Loss(n, e, q, step, s int) float64
}

// HammingLoss estimates the loss assuming errors are substitutions at
// uniformly random distinct positions. Only disjoint segments are counted,
// so the estimate is an upper bound for overlapping segments.
type HammingLoss struct{}

// Loss returns the probability that every segment has more than s errors.
func (HammingLoss) Loss(n, e, q, step, s int) float64 {
	if e <= 0 || q <= 0 || q > n {
		return 0
	}
	if e > n {
		return 1
	}
	m := n / q // disjoint segments
	rest := n - m*q
	if m*(s+1) > e {
		return 0
	}

	// ways[k]: placements of k errors in the segments visited, each with > s errors
	ways := make([]float64, e+1)
	tmp := make([]float64, e+1)
	ways[0] = 1
	var i, k, x int
	for i = 0; i < m; i++ {
		for k = range tmp {
			tmp[k] = 0
		}
		for k = 0; k <= e; k++ {
			if ways[k] == 0 {
				continue
			}
			for x = s + 1; x <= q && k+x <= e; x++ {
				tmp[k+x] += ways[k] * combin.GeneralizedBinomial(float64(q), float64(x))
			}
		}
		ways, tmp = tmp, ways
	}

	var missed float64
	for k = 0; k <= e; k++ {
		if ways[k] == 0 || e-k > rest {
			continue
		}
		missed += ways[k] * combin.GeneralizedBinomial(float64(rest), float64(e-k))
	}
	return missed / combin.GeneralizedBinomial(float64(n), float64(e))
}

// Segments is the partition of reads used by the partition filter.
type Segments struct {
	Length int     // segment length, also the seed length
	Step   int     // distance between segment starts
	Loss   float64 // estimated loss rate
}

// ChooseSegments chooses the longest segments for reads of length n with
// e errors whose estimated loss does not exceed 1 - recognitionRate.
// A positive length forces the segment length and overlap instead,
// the loss is still estimated.
func ChooseSegments(n, e, seedErrors int, recognitionRate float64, est LossEstimator, length, overlap int) (Segments, error) {
	if est == nil {
		est = HammingLoss{}
	}
	if length > 0 {
		if length > index.MaxWeight || length > n {
			return Segments{}, fmt.Errorf("%w: segment length %d, read length %d", index.ErrInvalidShape, length, n)
		}
		if overlap < 0 || overlap >= length {
			return Segments{}, fmt.Errorf("invalid segment overlap: %d, valid range: [0, %d)", overlap, length)
		}
		return Segments{
			Length: length,
			Step:   length - overlap,
			Loss:   est.Loss(n, e, length, length-overlap, seedErrors),
		}, nil
	}

	k := e/(seedErrors+1) + 1 // number of segments for lossless filtration
	q := n / k
	if q < 1 {
		return Segments{}, fmt.Errorf("%w: read length %d is too short for %d errors", ErrLowThreshold, n, e)
	}
	if q > index.MaxWeight {
		q = index.MaxWeight
	}
	best := Segments{Length: q, Step: q, Loss: est.Loss(n, e, q, q, seedErrors)}

	maxLoss := 1 - recognitionRate
	var loss float64
	for q++; q <= index.MaxWeight && q <= n; q++ {
		loss = est.Loss(n, e, q, q, seedErrors)
		if loss > maxLoss {
			break
		}
		best = Segments{Length: q, Step: q, Loss: loss}
	}
	return best, nil
}

// LengthLoss is the estimated loss of reads of one length.
type LengthLoss struct {
	Length int // read length
	Errors int // maximum errors of the reads
	Loss   float64
}

// ChooseSegmentsFor chooses segments shared by reads of the given lengths.
// Segments are chosen for every length with its own error bound and the
// shortest ones are used, so that no read gets fewer segments than it needs.
// The loss of the result is the highest one over all lengths,
// and the loss of every length is returned too.
func ChooseSegmentsFor(lengths []int, maxErrors func(n int) int, seedErrors int, recognitionRate float64,
	est LossEstimator, length, overlap int) (Segments, []LengthLoss, error) {
	if len(lengths) == 0 {
		return Segments{}, nil, fmt.Errorf("%w: no read lengths", ErrLowThreshold)
	}
	if est == nil {
		est = HammingLoss{}
	}

	var best Segments
	for i, n := range lengths {
		seg, err := ChooseSegments(n, maxErrors(n), seedErrors, recognitionRate, est, length, overlap)
		if err != nil {
			return Segments{}, nil, err
		}
		if i == 0 || seg.Length < best.Length {
			best = seg
		}
	}

	losses := make([]LengthLoss, len(lengths))
	best.Loss = 0
	var e int
	for i, n := range lengths {
		e = maxErrors(n)
		losses[i] = LengthLoss{Length: n, Errors: e, Loss: est.Loss(n, e, best.Length, best.Step, seedErrors)}
		if losses[i].Loss > best.Loss {
			best.Loss = losses[i].Loss
		}
	}
	return best, losses, nil
}
