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

package store

import (
	"sync"
	"sync/atomic"
)

// NumStripes is the number of locks guarding updates of cutoffs.
const NumStripes = 256

// Cutoffs holds the error cutoff of every read (or read pair).
// A match of a read should have fewer errors than its cutoff,
// and a cutoff of 0 means the read is disabled. A cutoff never increases.
//
// Reads are lock-free, updates of a read take the lock of its stripe.
type Cutoffs struct {
	values []atomic.Int32
	locks  [NumStripes]sync.Mutex
}

// NewCutoffs creates cutoffs for n reads, all initialized to v.
func NewCutoffs(n int, v int) *Cutoffs {
	c := &Cutoffs{values: make([]atomic.Int32, n)}
	for i := range c.values {
		c.values[i].Store(int32(v))
	}
	return c
}

// Len returns the number of reads.
func (c *Cutoffs) Len() int { return len(c.values) }

// Init sets the cutoff of a read, it is used before mapping starts.
func (c *Cutoffs) Init(id int, v int) {
	c.values[id].Store(int32(v))
}

// Get returns the cutoff of a read.
func (c *Cutoffs) Get(id int) int {
	return int(c.values[id].Load())
}

// Tighten lowers the cutoff of a read to v, it returns false if the
// current value is not higher.
func (c *Cutoffs) Tighten(id int, v int) bool {
	if v < 0 {
		v = 0
	}
	mu := &c.locks[id%NumStripes]
	mu.Lock()
	defer mu.Unlock()

	if int(c.values[id].Load()) <= v {
		return false
	}
	c.values[id].Store(int32(v))
	return true
}

// Disable disables a read.
func (c *Cutoffs) Disable(id int) bool {
	return c.Tighten(id, 0)
}

// Disabled returns the number of disabled reads.
func (c *Cutoffs) Disabled() (n int) {
	for i := range c.values {
		if c.values[i].Load() == 0 {
			n++
		}
	}
	return n
}
