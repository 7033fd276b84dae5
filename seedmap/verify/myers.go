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

import "github.com/shenwei356/SeedMap/seedmap/util"

const wordSize = 64

// myers is the multi-word bit-parallel edit distance of Myers (1999),
// in the block form of Hyyrö. The score is tracked at the last row,
// i.e., the distance of the whole pattern.
type myers struct {
	m     int
	nb    int
	peq   [5][]uint64 // A, C, G, T, and other symbols which match nothing
	pv    []uint64
	mv    []uint64
	hbits []uint64 // bit of the bottom row of each block
}

// init prepares the bit vectors of a pattern.
func (my *myers) init(p []byte) {
	m := len(p)
	nb := (m + wordSize - 1) / wordSize
	my.m = m
	my.nb = nb
	for c := range my.peq {
		my.peq[c] = resize(my.peq[c], nb)
		for i := range my.peq[c] {
			my.peq[c][i] = 0
		}
	}
	var code uint8
	for i, b := range p {
		code = util.BaseCode[b]
		if code == util.BaseN {
			continue
		}
		my.peq[code][i/wordSize] |= 1 << uint(i%wordSize)
	}
	my.pv = resize(my.pv, nb)
	my.mv = resize(my.mv, nb)
	my.hbits = resize(my.hbits, nb)
	for i := range my.hbits {
		my.hbits[i] = 1 << (wordSize - 1)
	}
	if nb > 0 {
		my.hbits[nb-1] = 1 << uint((m-1)%wordSize)
	}
}

func resize(s []uint64, n int) []uint64 {
	if cap(s) < n {
		return make([]uint64, n)
	}
	return s[:n]
}

// reset starts a new column sequence, the score of column 0 is m.
func (my *myers) reset() {
	for i := range my.pv {
		my.pv[i] = ^uint64(0)
		my.mv[i] = 0
	}
}

// step processes one text symbol, hin is the horizontal delta of the top row:
// 0 for a free start in the text, 1 for a fixed start.
// It returns the change of the score of the last row.
func (my *myers) step(c uint8, hin int) int {
	for b := 0; b < my.nb; b++ {
		hin = advanceBlock(&my.pv[b], &my.mv[b], my.peq[c][b], hin, my.hbits[b])
	}
	return hin
}

func advanceBlock(pv, mv *uint64, eq uint64, hin int, hb uint64) int {
	Pv, Mv := *pv, *mv
	Xv := eq | Mv
	if hin < 0 {
		eq |= 1
	}
	Xh := (((eq & Pv) + Pv) ^ Pv) | eq
	Ph := Mv | ^(Xh | Pv)
	Mh := Pv & Xh

	hout := 0
	if Ph&hb != 0 {
		hout = 1
	} else if Mh&hb != 0 {
		hout = -1
	}

	Ph <<= 1
	Mh <<= 1
	if hin < 0 {
		Mh |= 1
	} else if hin > 0 {
		Ph |= 1
	}

	*pv = Mh | ^(Xv | Ph)
	*mv = Ph & Xv
	return hout
}
