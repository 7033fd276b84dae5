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
	"bufio"
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/wyhash"

	"github.com/shenwei356/SeedMap/seedmap/util"
)

var be = binary.BigEndian

// Magic marks a spill file.
var Magic = [8]byte{'.', 's', 'm', 's', 'p', 'i', 'l', 'l'}

// MainVersion must match for a spill file to be read back.
var MainVersion uint8 = 0

// MinorVersion is informational.
var MinorVersion uint8 = 1

// BufferSize is the buffer size of spill readers and writers.
var BufferSize = 65536

// ErrInvalidFileFormat means the file is not a spill file.
var ErrInvalidFileFormat = errors.New("spill data: invalid binary format")

// ErrBrokenFile means a spill file ends early.
var ErrBrokenFile = errors.New("spill data: broken file")

// ErrChecksumMismatch means the records are corrupted.
var ErrChecksumMismatch = errors.New("spill data: checksum mismatch")

// ErrVersionMismatch means the spill file has another main version.
var ErrVersionMismatch = errors.New("spill data: version mismatch")

const flagEnd = 0xff

// maxRecordBytes is the maximum size of an encoded record:
// 4 bytes of flags and control bytes, and 3 groups of 4-16 bytes.
const maxRecordBytes = 52

// encodeRecord encodes a record into buf, and returns the number of bytes.
func encodeRecord(buf []byte, r *Record) int {
	buf[0] = byte(r.Strand) | r.Mate<<2
	n := 4
	var m int
	buf[1], m = util.PutUint64s(buf[n:], uint64(r.Begin), uint64(r.End))
	n += m
	buf[2], m = util.PutUint32s(buf[n:], r.ContigID, r.ReadID, uint32(r.Errors), util.ZigZag32(r.Score))
	n += m
	buf[3], m = util.PutUint64s(buf[n:], r.PairID, uint64(util.ZigZag32(r.PairScore))<<32|uint64(r.LibDiff))
	n += m
	return n
}

// decodeRecord decodes a record from buf, and returns the number of bytes.
// It returns 0 if buf is too short.
func decodeRecord(buf []byte, r *Record) int {
	if len(buf) < 4 {
		return 0
	}
	r.Strand = Strand(buf[0] & 3)
	r.Mate = buf[0] >> 2 & 1
	n := 4
	b, e, m := util.Uint64s(buf[1], buf[n:])
	if m == 0 {
		return 0
	}
	n += m
	r.Begin, r.End = int64(b), int64(e)

	var errs, score uint32
	r.ContigID, r.ReadID, errs, score, m = util.Uint32s(buf[2], buf[n:])
	if m == 0 {
		return 0
	}
	n += m
	r.Errors, r.Score = int32(errs), util.UnZigZag32(score)

	var v uint64
	r.PairID, v, m = util.Uint64s(buf[3], buf[n:])
	if m == 0 {
		return 0
	}
	n += m
	r.PairScore, r.LibDiff = util.UnZigZag32(uint32(v>>32)), uint32(v)
	return n
}

// encodedLen returns the size of an encoded record from its 4-byte header.
func encodedLen(h []byte) int {
	return 4 + util.GroupLen64(h[1]) +
		util.GroupLen32(h[2]) +
		util.GroupLen64(h[3])
}

// spillWriter writes records to a zstd-compressed temporary file.
// The record stream ends with a trailer of the record count and
// a checksum of the encoded records.
type spillWriter struct {
	file string
	fh   *os.File
	bw   *bufio.Writer
	zw   *zstd.Encoder

	buf []byte
	n   uint64
	sum uint64
}

func newSpillWriter(dir string) (*spillWriter, error) {
	fh, err := os.CreateTemp(dir, "seedmap-*.spill")
	if err != nil {
		return nil, err
	}
	w := &spillWriter{
		file: fh.Name(),
		fh:   fh,
		bw:   bufio.NewWriterSize(fh, BufferSize),
		buf:  make([]byte, maxRecordBytes+16),
	}

	// 8-byte magic number
	err = binary.Write(w.bw, be, Magic)
	if err != nil {
		return nil, err
	}
	// 8-byte meta info, only 2 bytes used
	err = binary.Write(w.bw, be, [8]uint8{MainVersion, MinorVersion})
	if err != nil {
		return nil, err
	}

	w.zw, err = zstd.NewWriter(w.bw, zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1), zstd.WithEncoderCRC(false))
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *spillWriter) write(r *Record) error {
	n := encodeRecord(w.buf, r)
	w.sum = wyhash.Hash(w.buf[:n], w.sum)
	w.n++
	_, err := w.zw.Write(w.buf[:n])
	return err
}

func (w *spillWriter) close() error {
	w.buf[0] = flagEnd
	be.PutUint64(w.buf[1:9], w.n)
	be.PutUint64(w.buf[9:17], w.sum)
	_, err := w.zw.Write(w.buf[:17])
	if err != nil {
		return err
	}
	if err = w.zw.Close(); err != nil {
		return err
	}
	if err = w.bw.Flush(); err != nil {
		return err
	}
	return w.fh.Close()
}

// spillReader reads records written by spillWriter.
type spillReader struct {
	fh *os.File
	zr *zstd.Decoder
	br *bufio.Reader

	buf []byte
	n   uint64
	sum uint64
}

func newSpillReader(file string) (*spillReader, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	r := &spillReader{fh: fh, buf: make([]byte, maxRecordBytes+16)}

	// check the magic number and versions
	if _, err = io.ReadFull(fh, r.buf[:16]); err != nil {
		fh.Close()
		return nil, ErrBrokenFile
	}
	var m [8]byte
	copy(m[:], r.buf[:8])
	if m != Magic {
		fh.Close()
		return nil, ErrInvalidFileFormat
	}
	if r.buf[8] != MainVersion {
		fh.Close()
		return nil, ErrVersionMismatch
	}

	r.zr, err = zstd.NewReader(bufio.NewReaderSize(fh, BufferSize), zstd.WithDecoderConcurrency(1))
	if err != nil {
		fh.Close()
		return nil, err
	}
	r.br = bufio.NewReaderSize(r.zr, BufferSize)
	return r, nil
}

// read reads the next record, it returns io.EOF after the trailer is checked.
func (r *spillReader) read(rec *Record) error {
	buf := r.buf
	if _, err := io.ReadFull(r.br, buf[:1]); err != nil {
		return ErrBrokenFile
	}
	if buf[0] == flagEnd {
		if _, err := io.ReadFull(r.br, buf[1:17]); err != nil {
			return ErrBrokenFile
		}
		if be.Uint64(buf[1:9]) != r.n {
			return ErrBrokenFile
		}
		if be.Uint64(buf[9:17]) != r.sum {
			return ErrChecksumMismatch
		}
		return io.EOF
	}
	if _, err := io.ReadFull(r.br, buf[1:4]); err != nil {
		return ErrBrokenFile
	}
	n := encodedLen(buf)
	if _, err := io.ReadFull(r.br, buf[4:n]); err != nil {
		return ErrBrokenFile
	}
	if decodeRecord(buf[:n], rec) != n {
		return ErrInvalidFileFormat
	}
	r.sum = wyhash.Hash(buf[:n], r.sum)
	r.n++
	return nil
}

func (r *spillReader) close() error {
	r.zr.Close()
	return r.fh.Close()
}

// readSpill reads all records of a file.
func readSpill(file string, recs []Record) ([]Record, error) {
	r, err := newSpillReader(file)
	if err != nil {
		return recs, err
	}
	var rec Record
	for {
		err = r.read(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			r.close()
			return recs, fmt.Errorf("%w: %s", err, file)
		}
		recs = append(recs, rec)
	}
	return recs, r.close()
}

// spilled is the result of an external compaction: runs of compacted
// records of disjoint read ranges, in the order of read ranges.
type spilled struct {
	runs   []string
	counts []int
	total  int
}

func (sp *spilled) remove() error {
	var err error
	for _, f := range sp.runs {
		if e := os.Remove(f); e != nil && err == nil {
			err = e
		}
	}
	sp.runs = nil
	return err
}

// each reads units of records in the given order.
func (sp *spilled) each(order Order, paired bool, fn func(*Record) error) error {
	if order == ByRead {
		for _, file := range sp.runs {
			if err := eachOfRun(file, fn); err != nil {
				return err
			}
		}
		return nil
	}
	return sp.merge(paired, fn)
}

func eachOfRun(file string, fn func(*Record) error) error {
	r, err := newSpillReader(file)
	if err != nil {
		return err
	}
	defer r.close()

	var rec Record
	for {
		err = r.read(&rec)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s", err, file)
		}
		if err = fn(&rec); err != nil {
			return err
		}
	}
}

// mergeItem is the current unit of a run.
type mergeItem struct {
	r    *spillReader
	unit [2]Record
}

type mergeHeap struct {
	items  []*mergeItem
	paired bool
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := &h.items[i].unit, &h.items[j].unit
	if h.paired {
		return positionLess(&a[0], &a[1], &b[0], &b[1], a[0].PairScore, b[0].PairScore)
	}
	return positionLess(&a[0], &a[1], &b[0], &b[1], a[0].Score, b[0].Score)
}
func (h mergeHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

func (it *mergeItem) next(paired bool) error {
	if err := it.r.read(&it.unit[0]); err != nil {
		return err
	}
	if !paired {
		it.unit[1] = it.unit[0]
		return nil
	}
	err := it.r.read(&it.unit[1])
	if err == io.EOF {
		return ErrBrokenFile
	}
	return err
}

// merge merges the runs sorted by position.
func (sp *spilled) merge(paired bool, fn func(*Record) error) error {
	h := &mergeHeap{items: make([]*mergeItem, 0, len(sp.runs)), paired: paired}
	defer func() {
		for _, it := range h.items {
			it.r.close()
		}
	}()

	for _, file := range sp.runs {
		r, err := newSpillReader(file)
		if err != nil {
			return err
		}
		it := &mergeItem{r: r}
		err = it.next(paired)
		if err == io.EOF {
			r.close()
			continue
		}
		if err != nil {
			r.close()
			return fmt.Errorf("%w: %s", err, file)
		}
		h.items = append(h.items, it)
	}
	heap.Init(h)

	var err error
	for h.Len() > 0 {
		it := h.items[0]
		if err = fn(&it.unit[0]); err != nil {
			return err
		}
		if paired {
			if err = fn(&it.unit[1]); err != nil {
				return err
			}
		}

		err = it.next(paired)
		if err == io.EOF {
			heap.Pop(h)
			it.r.close()
			continue
		}
		if err != nil {
			return err
		}
		heap.Fix(h, 0)
	}
	return nil
}
