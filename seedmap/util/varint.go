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

// Group varint encoding, used for records written to spill files.
// A control byte stores the byte lengths of a group of values
// and the values follow in big-endian order using the minimum number of bytes.

// PutUint64s writes v1 and v2 with their lengths in the control byte.
// The buffer should have at least 16 bytes.
func PutUint64s(buf []byte, v1, v2 uint64) (ctrl byte, n int) {
	l1 := minBytes64(v1)
	l2 := minBytes64(v2)
	ctrl = byte(l1-1)<<3 | byte(l2-1)

	n = putBE(buf, v1, int(l1))
	n += putBE(buf[n:], v2, int(l2))
	return
}

// Uint64s decodes two uint64s encoded by PutUint64s.
// It returns n = 0 when the buffer is too short.
func Uint64s(ctrl byte, buf []byte) (v1, v2 uint64, n int) {
	l1 := int(ctrl>>3&7) + 1
	l2 := int(ctrl&7) + 1
	if len(buf) < l1+l2 {
		return 0, 0, 0
	}
	v1 = getBE(buf[:l1])
	v2 = getBE(buf[l1 : l1+l2])
	return v1, v2, l1 + l2
}

// PutUint32s writes four values with their lengths in the control byte.
// The buffer should have at least 16 bytes.
func PutUint32s(buf []byte, v1, v2, v3, v4 uint32) (ctrl byte, n int) {
	var l uint8
	for _, v := range [4]uint32{v1, v2, v3, v4} {
		l = minBytes32(v)
		ctrl = ctrl<<2 | byte(l-1)
		n += putBE(buf[n:], uint64(v), int(l))
	}
	return
}

// Uint32s decodes four uint32s encoded by PutUint32s.
// It returns n = 0 when the buffer is too short.
func Uint32s(ctrl byte, buf []byte) (v1, v2, v3, v4 uint32, n int) {
	if len(buf) < GroupLen32(ctrl) {
		return 0, 0, 0, 0, 0
	}
	var vs [4]uint32
	var l int
	for i := 0; i < 4; i++ {
		l = int(ctrl>>uint(6-i<<1)&3) + 1
		vs[i] = uint32(getBE(buf[n : n+l]))
		n += l
	}
	return vs[0], vs[1], vs[2], vs[3], n
}

func putBE(buf []byte, v uint64, l int) int {
	for i := l - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return l
}

func getBE(buf []byte) (v uint64) {
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}

func minBytes64(n uint64) uint8 {
	var l uint8 = 1
	for n >>= 8; n > 0; n >>= 8 {
		l++
	}
	return l
}

func minBytes32(n uint32) uint8 {
	return minBytes64(uint64(n))
}

// GroupLen64 returns the bytes following the control byte of PutUint64s.
func GroupLen64(ctrl byte) int {
	return int(ctrl>>3&7+ctrl&7) + 2
}

// GroupLen32 returns the bytes following the control byte of PutUint32s.
func GroupLen32(ctrl byte) int {
	return int(ctrl>>6&3+ctrl>>4&3+ctrl>>2&3+ctrl&3) + 4
}

// ZigZag32 maps signed integers to unsigned ones so that
// values of small magnitude have small codes.
func ZigZag32(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

// UnZigZag32 reverses ZigZag32.
func UnZigZag32(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}
