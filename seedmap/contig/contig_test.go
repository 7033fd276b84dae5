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

package contig

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSeqConversion(t *testing.T) {
	_seq := []byte("ACTAGACGACGTACGCGTACGTAGTACGATGCTCGA")
	var s, s2 []byte
	var b2 *[]byte
	var err error
	for n := 1; n < len(_seq); n++ {
		s = _seq[:n]
		b2 = Seq2TwoBit(s)
		s2, err = TwoBit2Seq(*b2, n)
		if err != nil {
			t.Error(err)
			return
		}
		if !bytes.Equal(s, s2) {
			t.Errorf("expected: %s, results: %s\n", s, s2)
			return
		}
		RecycleTwoBit(b2)
	}
}

func TestTwoBitReadAndWrite(t *testing.T) {
	file := filepath.Join(t.TempDir(), "t.2bit")

	// ----------------------- write --------------

	w, err := NewTwoBitWriter(file)
	if err != nil {
		t.Error(err)
		return
	}

	_seqs := [][]byte{
		[]byte("A"),
		[]byte("N"),
		[]byte("CAT"),
		[]byte("CATGC"),
		[]byte("NNACGTNNNNACGTAN"),
		[]byte("ACTAGACGACGTACGCGTACGTAGTACGATGCTCGA"),
		[]byte("ACGCAGTCGTCATCATGCGTGTCGCATGAAAAAAAAAAAAAAAAAAAACATGCTGCATGCNNNNNNNNNNNNNNNNNNNNNNNNNTGCTGTGATGCGTCTCAGTAGATGAT"),
	}

	for i, s := range _seqs {
		err = w.Write([]byte(fmt.Sprintf("seq_%d", i+1)), s)
		if err != nil {
			t.Error(err)
			return
		}
	}
	err = w.Close()
	if err != nil {
		t.Error(err)
		return
	}

	// ----------------------- read --------------

	l, err := NewTwoBitLoader(file)
	if err != nil {
		t.Error(err)
		return
	}
	defer l.Close()

	if l.NumContigs() != len(_seqs) {
		t.Errorf("unexpected number of contigs: %d", l.NumContigs())
		return
	}

	for i, s := range _seqs {
		if string(l.Name(i)) != fmt.Sprintf("seq_%d", i+1) {
			t.Errorf("unexpected name: %s", l.Name(i))
		}
		if l.Len(i) != len(s) {
			t.Errorf("unexpected length: %d, expected %d", l.Len(i), len(s))
		}
		s2, err := l.Load(i)
		if err != nil {
			t.Error(err)
			return
		}
		if !bytes.Equal(s, s2) {
			t.Errorf("expected: %s, results: %s\n", s, s2)
		}
	}

	if _, err = l.Load(len(_seqs)); err == nil {
		t.Errorf("out-of-range id should fail")
	}
}

func TestTwoBitBadFiles(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "plain.fa")
	if err := os.WriteFile(file, []byte(">seq_1\nACGTACGTACGTACGTACGTACGTACGT\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTwoBitReader(file); err != ErrNotTwoBit {
		t.Errorf("expected ErrNotTwoBit, got %v", err)
	}

	file = filepath.Join(dir, "short.2bit")
	if err := os.WriteFile(file, TwoBitMagic[:], 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTwoBitReader(file); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}

	w, err := NewTwoBitWriter(filepath.Join(dir, "empty.2bit"))
	if err != nil {
		t.Fatal(err)
	}
	if err = w.Write([]byte("e"), nil); err != ErrEmptyContig {
		t.Errorf("expected ErrEmptyContig, got %v", err)
	}
	w.Close()
}

func TestStoreLockRelease(t *testing.T) {
	ml := NewMemLoader()
	ml.Add([]byte("c1"), []byte("ACGTACGT"))
	ml.Add([]byte("c2"), []byte("TTTT"))
	s := NewStore(ml, 0)

	c1, err := s.Lock(context.Background(), 0)
	if err != nil {
		t.Error(err)
		return
	}
	c1b, err := s.Lock(context.Background(), 0)
	if err != nil {
		t.Error(err)
		return
	}
	if c1 != c1b {
		t.Errorf("a locked contig should be shared")
	}
	if s.Users(0) != 2 {
		t.Errorf("unexpected users: %d", s.Users(0))
	}

	if err = s.Release(c1); err != nil {
		t.Error(err)
	}
	if err = s.Release(c1b); err != nil {
		t.Error(err)
	}
	if s.Users(0) != 0 {
		t.Errorf("unexpected users: %d", s.Users(0))
	}
	if err = s.Release(c1); err != ErrNotLocked {
		t.Errorf("expected ErrNotLocked, got %v", err)
	}

	if _, err = s.Lock(context.Background(), 5); err == nil {
		t.Errorf("out-of-range id should fail")
	}
}

func TestStoreBudget(t *testing.T) {
	ml := NewMemLoader()
	ml.Add([]byte("c1"), bytes.Repeat([]byte("A"), 100))
	ml.Add([]byte("c2"), bytes.Repeat([]byte("C"), 100))
	s := NewStore(ml, 150)

	c1, err := s.Lock(context.Background(), 0)
	if err != nil {
		t.Error(err)
		return
	}

	// c2 does not fit until c1 is released
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err = s.Lock(ctx, 1); err == nil {
		t.Errorf("lock should block until the budget is available")
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var c2 *Contig
	go func() {
		defer wg.Done()
		c2, err = s.Lock(context.Background(), 1)
	}()
	time.Sleep(10 * time.Millisecond)
	s.Release(c1)
	wg.Wait()
	if err != nil {
		t.Error(err)
		return
	}
	if c2 == nil || c2.Seq[0] != 'C' {
		t.Errorf("unexpected contig after waiting")
	}
	s.Release(c2)
}
