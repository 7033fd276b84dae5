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

package reads

import (
	"errors"
	"testing"
)

func TestReadSet(t *testing.T) {
	rs := NewReadSet(4)
	for i, s := range []string{"ACGTACGT", "ACG", "ACGTACGTACGT"} {
		id, err := rs.Add([]byte("r"), []byte(s), nil)
		if err != nil {
			t.Error(err)
			return
		}
		if id != i {
			t.Errorf("unexpected id: %d, expected %d", id, i)
		}
	}
	if rs.MinLen() != 3 || rs.MaxLen() != 12 || rs.Bases() != 23 {
		t.Errorf("unexpected stats: min %d, max %d, bases %d", rs.MinLen(), rs.MaxLen(), rs.Bases())
	}
	if rs.HasQualities() {
		t.Errorf("no qualities were added")
	}
	rs.Add([]byte("r"), []byte("TTT"), nil)
	if lens := rs.Lengths(); len(lens) != 3 || lens[0] != 3 || lens[1] != 8 || lens[2] != 12 {
		t.Errorf("unexpected distinct lengths: %v", lens)
	}

	if _, err := rs.Add([]byte("bad"), []byte("ACGT"), []byte("II")); err == nil {
		t.Errorf("quality length mismatch should be rejected")
	}
}

func TestPairs(t *testing.T) {
	l := NewReadSet(2)
	r := NewReadSet(2)
	l.Add([]byte("a"), []byte("ACGT"), nil)
	l.Add([]byte("b"), []byte("ACGT"), nil)
	r.Add([]byte("a"), []byte("ACGT"), nil)

	_, err := NewPairs(l, r)
	if !errors.Is(err, ErrMateCountMismatch) {
		t.Errorf("expected ErrMateCountMismatch, got %v", err)
	}

	r.Add([]byte("b"), []byte("ACGT"), nil)
	p, err := NewPairs(l, r)
	if err != nil {
		t.Error(err)
		return
	}
	if p.Len() != 2 {
		t.Errorf("unexpected number of pairs: %d", p.Len())
	}

	if _, err = NewPairs(NewReadSet(0), NewReadSet(0)); !errors.Is(err, ErrEmptyReadSet) {
		t.Errorf("expected ErrEmptyReadSet, got %v", err)
	}
}
