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

package util

// Hash64 mixes the bits of a seed code (Thomas Wang's 64-bit integer hash).
func Hash64(k uint64) uint64 {
	k = ^k + k<<21
	k ^= k >> 24
	k += k<<3 + k<<8
	k ^= k >> 14
	k += k<<2 + k<<4
	k ^= k >> 28
	k += k << 31
	return k
}

// FloorDiv returns ⌊a/b⌋ for b > 0, also for negative a.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// RC computes the reverse complement sequence in place.
func RC(s []byte) []byte {
	for i, b := range s {
		s[i] = rcTable[b]
	}
	Reverse(s)
	return s
}

// RCTo writes the reverse complement of s into dst, reusing its capacity,
// and leaves s untouched.
func RCTo(dst, s []byte) []byte {
	n := len(s)
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, b := range s {
		dst[n-1-i] = rcTable[b]
	}
	return dst
}

// Reverse reverses a byte slice in place.
func Reverse(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

var rcTable [256]byte

func init() {
	for i := range rcTable {
		rcTable[i] = byte(i)
	}
	for _, p := range []string{"AT", "CG", "RY", "KM", "BV", "DH", "at", "cg", "ry", "km", "bv", "dh"} {
		rcTable[p[0]], rcTable[p[1]] = p[1], p[0]
	}
}
