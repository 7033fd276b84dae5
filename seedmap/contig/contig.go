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

// Package contig provides reference sequences to the mapping workers.
// Contigs are loaded on demand, locked while in use and freed when
// the last user releases them.
package contig

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrContigID means the contig id is out of range.
var ErrContigID = errors.New("contig: id out of range")

// ErrNotLocked means a contig is released more times than it was locked.
var ErrNotLocked = errors.New("contig: releasing a contig that is not locked")

// Loader loads contig sequences.
type Loader interface {
	// NumContigs returns the number of contigs.
	NumContigs() int
	// Name returns the name of a contig.
	Name(id int) []byte
	// Len returns the length of a contig without loading it.
	Len(id int) int
	// Load returns the sequence of a contig.
	// The returned slice must not be modified by the caller.
	Load(id int) ([]byte, error)
}

// Contig is a loaded reference sequence.
type Contig struct {
	ID   int
	Name []byte
	Seq  []byte
}

type entry struct {
	loadMu sync.Mutex // serializes loading of the same contig

	c      *Contig
	users  int
	weight int64
}

// Store hands out locked contigs and bounds the bytes of loaded contigs.
type Store struct {
	loader Loader

	budget int64
	sem    *semaphore.Weighted // nil when unbounded

	mu      sync.Mutex
	entries []*entry
}

// NewStore creates a Store. A positive maxBytes bounds the total length
// of contigs held at the same time; Lock blocks until enough contigs have
// been released. A contig longer than the budget still loads, alone.
func NewStore(loader Loader, maxBytes int64) *Store {
	s := &Store{loader: loader}
	if maxBytes > 0 {
		s.budget = maxBytes
		s.sem = semaphore.NewWeighted(maxBytes)
	}
	s.entries = make([]*entry, loader.NumContigs())
	for i := range s.entries {
		s.entries[i] = &entry{}
	}
	return s
}

// NumContigs returns the number of contigs.
func (s *Store) NumContigs() int { return len(s.entries) }

// Name returns the name of a contig.
func (s *Store) Name(id int) []byte { return s.loader.Name(id) }

// Len returns the length of a contig.
func (s *Store) Len(id int) int { return s.loader.Len(id) }

// Lock returns the contig, loading it if no one else holds it.
// Every successful Lock must be paired with a Release.
func (s *Store) Lock(ctx context.Context, id int) (*Contig, error) {
	if id < 0 || id >= len(s.entries) {
		return nil, fmt.Errorf("%w: %d", ErrContigID, id)
	}
	e := s.entries[id]

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	s.mu.Lock()
	if e.c != nil {
		e.users++
		c := e.c
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	var weight int64
	if s.sem != nil {
		weight = int64(s.loader.Len(id))
		if weight > s.budget {
			weight = s.budget
		}
		if weight < 1 {
			weight = 1
		}
		if err := s.sem.Acquire(ctx, weight); err != nil {
			return nil, err
		}
	}

	seq, err := s.loader.Load(id)
	if err != nil {
		if s.sem != nil {
			s.sem.Release(weight)
		}
		return nil, fmt.Errorf("contig: load %s: %w", s.loader.Name(id), err)
	}

	c := &Contig{ID: id, Name: s.loader.Name(id), Seq: seq}
	s.mu.Lock()
	e.c = c
	e.users = 1
	e.weight = weight
	s.mu.Unlock()
	return c, nil
}

// Release gives back a contig returned by Lock.
// The sequence is dropped when the last user releases it.
func (s *Store) Release(c *Contig) error {
	if c == nil || c.ID < 0 || c.ID >= len(s.entries) {
		return ErrContigID
	}
	e := s.entries[c.ID]

	s.mu.Lock()
	if e.c != c || e.users <= 0 {
		s.mu.Unlock()
		return ErrNotLocked
	}
	e.users--
	var weight int64
	if e.users == 0 {
		e.c = nil
		weight = e.weight
		e.weight = 0
	}
	s.mu.Unlock()

	if weight > 0 {
		s.sem.Release(weight)
	}
	return nil
}

// Users returns the number of current users of a contig.
func (s *Store) Users(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id].users
}

// MemLoader serves contigs already held in memory.
type MemLoader struct {
	names [][]byte
	seqs  [][]byte
}

// NewMemLoader creates an empty MemLoader.
func NewMemLoader() *MemLoader {
	return &MemLoader{}
}

// Add appends a contig and returns its id.
func (l *MemLoader) Add(name, seq []byte) int {
	l.names = append(l.names, name)
	l.seqs = append(l.seqs, seq)
	return len(l.seqs) - 1
}

// NumContigs returns the number of contigs.
func (l *MemLoader) NumContigs() int { return len(l.seqs) }

// Name returns the name of a contig.
func (l *MemLoader) Name(id int) []byte { return l.names[id] }

// Len returns the length of a contig.
func (l *MemLoader) Len(id int) int { return len(l.seqs[id]) }

// Load returns the sequence of a contig.
func (l *MemLoader) Load(id int) ([]byte, error) {
	if id < 0 || id >= len(l.seqs) {
		return nil, ErrContigID
	}
	return l.seqs[id], nil
}
