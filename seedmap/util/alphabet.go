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

// BaseN is the code of any symbol other than A, C, G and T.
const BaseN uint8 = 4

// BaseCode maps a byte to 0-3 for A/C/G/T (case-insensitive, U as T),
// and to BaseN for everything else.
var BaseCode [256]uint8

// Base2Bit maps a byte to its 2-bit code, with non-ACGT bases packed as A.
var Base2Bit [256]uint8

func init() {
	for i := range BaseCode {
		BaseCode[i] = BaseN
	}
	for _, b := range []byte("Aa") {
		BaseCode[b] = 0
	}
	for _, b := range []byte("Cc") {
		BaseCode[b] = 1
	}
	for _, b := range []byte("Gg") {
		BaseCode[b] = 2
	}
	for _, b := range []byte("TtUu") {
		BaseCode[b] = 3
	}

	for i, c := range BaseCode {
		if c == BaseN {
			Base2Bit[i] = 0
		} else {
			Base2Bit[i] = c
		}
	}
}

// IsACGT tells whether the byte is one of the four unambiguous bases.
func IsACGT(b byte) bool {
	return BaseCode[b] != BaseN
}
