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

package mates

import (
	"fmt"

	"github.com/shenwei356/SeedMap/seedmap/filter"
	"github.com/shenwei356/SeedMap/seedmap/verify"
)

type state uint8

const (
	unverified state = iota
	positive
	negative
)

// entry is a left-mate candidate waiting for right mates.
type entry struct {
	cand  filter.Candidate
	prev  int64 // index of the previous entry of the same read, -1 for none
	state state
	hit   verify.Hit
}

// window holds pending left-mate candidates. Entries are addressed by
// global indexes which never change, entries below first are dead.
type window struct {
	entries []entry
	base    int64 // global index of entries[0]
	first   int64 // the first valid entry
	last    map[int]int64
}

func newWindow() *window {
	return &window{
		entries: make([]entry, 0, 1024),
		last:    make(map[int]int64, 1024),
	}
}

func (w *window) reset() {
	w.entries = w.entries[:0]
	w.base, w.first = 0, 0
	clear(w.last)
}

// end returns the global index after the last entry.
func (w *window) end() int64 { return w.base + int64(len(w.entries)) }

// Len returns the number of valid entries.
func (w *window) Len() int { return int(w.end() - w.first) }

func (w *window) get(i int64) *entry {
	if i < w.first || i >= w.end() {
		panic(fmt.Sprintf("mates: window index out of range: %d, valid range: [%d, %d)", i, w.first, w.end()))
	}
	return &w.entries[i-w.base]
}

// push appends a candidate and links it to the previous one of the same read.
func (w *window) push(c filter.Candidate) int64 {
	prev, ok := w.last[c.ReadID]
	if !ok || prev < w.first {
		prev = -1
	}
	i := w.end()
	w.entries = append(w.entries, entry{cand: c, prev: prev})
	w.last[c.ReadID] = i
	return i
}

// head returns the last entry of a read, -1 for none.
func (w *window) head(read int) int64 {
	i, ok := w.last[read]
	if !ok || i < w.first {
		return -1
	}
	return i
}

// unlink removes entry i of a read from its chain. next is the entry
// linking to i, -1 if i is the head.
func (w *window) unlink(read int, i, next int64) {
	prev := w.get(i).prev
	if next < 0 {
		if prev < w.first {
			delete(w.last, read)
		} else {
			w.last[read] = prev
		}
		return
	}
	w.get(next).prev = prev
}

// evict drops leading entries ending at or before pos.
func (w *window) evict(pos int) {
	end := w.end()
	for w.first < end && w.entries[w.first-w.base].cand.End <= pos {
		w.first++
	}

	// reclaim the space of dead entries
	dead := int(w.first - w.base)
	if dead >= 1024 && dead >= len(w.entries)>>1 {
		n := copy(w.entries, w.entries[dead:])
		w.entries = w.entries[:n]
		w.base = w.first

		if len(w.last) > n<<1 {
			for read, i := range w.last {
				if i < w.first {
					delete(w.last, read)
				}
			}
		}
	}
}
