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

package index

import (
	"errors"
	"fmt"

	"github.com/shenwei356/SeedMap/seedmap/util"
	"github.com/shenwei356/kmers"
	"github.com/shenwei356/lexichash/iterator"
)

// ErrInvalidShape means the seed shape is not usable.
var ErrInvalidShape = errors.New("index: invalid seed shape")

// MaxWeight is the maximum number of care positions of a shape.
const MaxWeight = 32

// Shape is a contiguous or gapped seed pattern, e.g., 11111111111 or 1101101101101,
// where '1' marks a care position.
type Shape struct {
	pattern    string
	span       int
	weight     int
	pos        []int // care positions
	contiguous bool
}

// ParseShape parses a shape string of '1' and '0' (or '-', '*' for don't-care positions).
// The first and last positions must be care positions.
func ParseShape(s string) (*Shape, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: empty shape", ErrInvalidShape)
	}
	if s[0] != '1' || s[len(s)-1] != '1' {
		return nil, fmt.Errorf("%w: %s, the first and last positions should be 1", ErrInvalidShape, s)
	}

	sh := &Shape{pattern: s, span: len(s), pos: make([]int, 0, len(s))}
	for i, c := range []byte(s) {
		switch c {
		case '1':
			sh.pos = append(sh.pos, i)
		case '0', '-', '*':
		default:
			return nil, fmt.Errorf("%w: %s, illegal character: %c", ErrInvalidShape, s, c)
		}
	}
	sh.weight = len(sh.pos)
	if sh.weight > MaxWeight {
		return nil, fmt.Errorf("%w: %s, weight (%d) should be <= %d", ErrInvalidShape, s, sh.weight, MaxWeight)
	}
	sh.contiguous = sh.weight == sh.span
	return sh, nil
}

// ContiguousShape returns a ungapped shape of length k.
func ContiguousShape(k int) (*Shape, error) {
	if k < 1 || k > MaxWeight {
		return nil, fmt.Errorf("%w: k (%d) should be in range of [1, %d]", ErrInvalidShape, k, MaxWeight)
	}
	b := make([]byte, k)
	for i := range b {
		b[i] = '1'
	}
	return ParseShape(string(b))
}

func (sh *Shape) String() string { return sh.pattern }

// Span returns the length of the shape.
func (sh *Shape) Span() int { return sh.span }

// Weight returns the number of care positions.
func (sh *Shape) Weight() int { return sh.weight }

// Contiguous tells if the shape has no gaps.
func (sh *Shape) Contiguous() bool { return sh.contiguous }

// Code returns the seed code at position i of s, i+Span() <= len(s).
// Bases are packed 2 bits each (A=0, C=1, G=2, T=3, others as A),
// the first base in the highest bits.
func (sh *Shape) Code(s []byte, i int) uint64 {
	var code uint64
	for _, p := range sh.pos {
		code = code<<2 | uint64(util.Base2Bit[s[i+p]])
	}
	return code
}

// Iterate calls fn with the code of every position of s.
// Positions not satisfying pos%step == 0 are skipped.
func (sh *Shape) Iterate(s []byte, step int, fn func(pos int, code uint64)) {
	if len(s) < sh.span {
		return
	}
	if step < 1 {
		step = 1
	}

	if !sh.contiguous {
		for i := 0; i+sh.span <= len(s); i += step {
			fn(i, sh.Code(s, i))
		}
		return
	}

	iter, err := iterator.NewKmerIterator(s, sh.span)
	if err != nil { // only happens for short sequences
		return
	}
	var code uint64
	var ok bool
	var i int
	for {
		code, ok, _ = iter.NextPositiveKmer()
		if !ok {
			break
		}
		i = iter.Index()
		if i%step != 0 {
			continue
		}
		fn(i, code)
	}
}

// Decode converts a code back to bases, with '-' at don't-care positions.
func (sh *Shape) Decode(code uint64) []byte {
	bases := kmers.MustDecode(code, sh.weight)
	if sh.contiguous {
		return bases
	}
	s := make([]byte, sh.span)
	for i := range s {
		s[i] = '-'
	}
	for i, p := range sh.pos {
		s[p] = bases[i]
	}
	return s
}
