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
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/shenwei356/SeedMap/seedmap/util"
)

// TwoBitMagic marks a contig file written by TwoBitWriter.
var TwoBitMagic = [8]byte{'.', 's', 'm', 'c', 'o', 'n', 't', 'g'}

// TwoBitVersion is the format version, files of other versions are rejected.
const TwoBitVersion uint8 = 1

// TwoBitBufSize is the buffer size of writing contig files.
var TwoBitBufSize = 1 << 16

// ErrNotTwoBit means the file is not written by TwoBitWriter.
var ErrNotTwoBit = errors.New("contig file: not a 2bit contig file")

// ErrEmptyContig means a contig has no bases.
var ErrEmptyContig = errors.New("contig file: empty contig")

// ErrTruncated means the file ends before its table of contigs.
var ErrTruncated = errors.New("contig file: truncated")

// ErrUnknownVersion means the file is written by an incompatible version.
var ErrUnknownVersion = errors.New("contig file: unknown version")

// ErrBadPacking means the packed bases do not agree with the recorded length.
var ErrBadPacking = errors.New("contig file: packed bases and length disagree")

// Layout:
//
//	header   magic (8) | version (1) | reserved (7)
//	contigs  packed bases | uvarint pairs of N runs (start, length)
//	table    per contig: uvarint name length | name | uvarint offset, packed bytes, bases, runs bytes
//	trailer  table offset (8) | number of contigs (8)
const twoBitHeader = 16

type contigEntry struct {
	name   []byte
	offset int64
	packed int
	bases  int
	runs   int // bytes of encoded N runs
}

// TwoBitWriter packs contigs into a single file, two bits per base.
// Runs of other symbols are kept aside and restored as N.
type TwoBitWriter struct {
	fh  *os.File
	bw  *bufio.Writer
	pos int64

	runs    []byte
	entries []contigEntry
}

// NewTwoBitWriter creates the file and writes the header.
func NewTwoBitWriter(file string) (*TwoBitWriter, error) {
	fh, err := os.Create(file)
	if err != nil {
		return nil, err
	}
	w := &TwoBitWriter{fh: fh, bw: bufio.NewWriterSize(fh, TwoBitBufSize)}

	var header [twoBitHeader]byte
	copy(header[:8], TwoBitMagic[:])
	header[8] = TwoBitVersion
	if _, err = w.bw.Write(header[:]); err != nil {
		fh.Close()
		return nil, err
	}
	w.pos = twoBitHeader
	return w, nil
}

// Write appends a contig.
func (w *TwoBitWriter) Write(name, s []byte) error {
	if len(s) == 0 {
		return ErrEmptyContig
	}

	w.runs = w.runs[:0]
	for i := 0; i < len(s); {
		if util.IsACGT(s[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(s) && !util.IsACGT(s[j]) {
			j++
		}
		w.runs = binary.AppendUvarint(w.runs, uint64(i))
		w.runs = binary.AppendUvarint(w.runs, uint64(j-i))
		i = j
	}

	packed := Seq2TwoBit(s)
	defer RecycleTwoBit(packed)

	if _, err := w.bw.Write(*packed); err != nil {
		return err
	}
	if _, err := w.bw.Write(w.runs); err != nil {
		return err
	}

	w.entries = append(w.entries, contigEntry{
		name:   append([]byte(nil), name...),
		offset: w.pos,
		packed: len(*packed),
		bases:  len(s),
		runs:   len(w.runs),
	})
	w.pos += int64(len(*packed) + len(w.runs))
	return nil
}

// Close writes the table of contigs and closes the file.
func (w *TwoBitWriter) Close() error {
	var buf []byte
	for _, e := range w.entries {
		buf = buf[:0]
		buf = binary.AppendUvarint(buf, uint64(len(e.name)))
		buf = append(buf, e.name...)
		buf = binary.AppendUvarint(buf, uint64(e.offset))
		buf = binary.AppendUvarint(buf, uint64(e.packed))
		buf = binary.AppendUvarint(buf, uint64(e.bases))
		buf = binary.AppendUvarint(buf, uint64(e.runs))
		if _, err := w.bw.Write(buf); err != nil {
			w.fh.Close()
			return err
		}
	}

	var trailer [16]byte
	binary.BigEndian.PutUint64(trailer[:8], uint64(w.pos))
	binary.BigEndian.PutUint64(trailer[8:], uint64(len(w.entries)))
	if _, err := w.bw.Write(trailer[:]); err != nil {
		w.fh.Close()
		return err
	}
	if err := w.bw.Flush(); err != nil {
		w.fh.Close()
		return err
	}
	return w.fh.Close()
}

// TwoBitReader gives random access to the contigs of a file
// written by TwoBitWriter. Seq is safe for concurrent use.
type TwoBitReader struct {
	fh      *os.File
	entries []contigEntry
}

// NewTwoBitReader opens a file and reads its table of contigs.
func NewTwoBitReader(file string) (*TwoBitReader, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	r := &TwoBitReader{fh: fh}
	if err = r.readTable(); err != nil {
		fh.Close()
		return nil, err
	}
	return r, nil
}

func (r *TwoBitReader) readTable() error {
	info, err := r.fh.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size < twoBitHeader+16 {
		return ErrTruncated
	}

	var header [twoBitHeader]byte
	if _, err = r.fh.ReadAt(header[:], 0); err != nil {
		return ErrTruncated
	}
	if [8]byte(header[:8]) != TwoBitMagic {
		return ErrNotTwoBit
	}
	if header[8] != TwoBitVersion {
		return ErrUnknownVersion
	}

	var trailer [16]byte
	if _, err = r.fh.ReadAt(trailer[:], size-16); err != nil {
		return ErrTruncated
	}
	tableAt := int64(binary.BigEndian.Uint64(trailer[:8]))
	n := binary.BigEndian.Uint64(trailer[8:])
	if tableAt < twoBitHeader || tableAt > size-16 {
		return ErrTruncated
	}

	br := bufio.NewReader(io.NewSectionReader(r.fh, tableAt, size-16-tableAt))
	uv := func() (int, error) {
		v, err := binary.ReadUvarint(br)
		if err != nil {
			return 0, ErrTruncated
		}
		return int(v), nil
	}
	r.entries = make([]contigEntry, 0, min(n, 1<<16))
	for i := uint64(0); i < n; i++ {
		var e contigEntry
		l, err := uv()
		if err != nil {
			return err
		}
		e.name = make([]byte, l)
		if _, err = io.ReadFull(br, e.name); err != nil {
			return ErrTruncated
		}
		var off int
		for _, p := range []*int{&off, &e.packed, &e.bases, &e.runs} {
			if *p, err = uv(); err != nil {
				return err
			}
		}
		e.offset = int64(off)
		if e.bases > e.packed<<2 || e.bases <= (e.packed-1)<<2 {
			return ErrBadPacking
		}
		r.entries = append(r.entries, e)
	}
	return nil
}

// Close closes the file.
func (r *TwoBitReader) Close() error { return r.fh.Close() }

// NumSeqs returns the number of contigs in the file.
func (r *TwoBitReader) NumSeqs() int { return len(r.entries) }

// Name returns the name of the idx-th contig.
func (r *TwoBitReader) Name(idx int) []byte { return r.entries[idx].name }

// Len returns the length of the idx-th contig.
func (r *TwoBitReader) Len(idx int) int { return r.entries[idx].bases }

// Seq reads and unpacks the idx-th contig.
func (r *TwoBitReader) Seq(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(r.entries) {
		return nil, fmt.Errorf("contig file: contig %d not in [0, %d)", idx, len(r.entries))
	}
	e := &r.entries[idx]

	data := make([]byte, e.packed+e.runs)
	if _, err := r.fh.ReadAt(data, e.offset); err != nil {
		return nil, ErrTruncated
	}
	s, err := TwoBit2Seq(data[:e.packed], e.bases)
	if err != nil {
		return nil, err
	}

	runs := data[e.packed:]
	for len(runs) > 0 {
		start, n1 := binary.Uvarint(runs)
		if n1 <= 0 {
			return nil, ErrBadPacking
		}
		l, n2 := binary.Uvarint(runs[n1:])
		if n2 <= 0 || start+l > uint64(len(s)) {
			return nil, ErrBadPacking
		}
		for j := start; j < start+l; j++ {
			s[j] = 'N'
		}
		runs = runs[n1+n2:]
	}
	return s, nil
}

// TwoBitLoader is a Loader reading contigs from a 2bit file on demand.
type TwoBitLoader struct {
	*TwoBitReader
}

// NewTwoBitLoader opens a file written by TwoBitWriter.
func NewTwoBitLoader(file string) (*TwoBitLoader, error) {
	r, err := NewTwoBitReader(file)
	if err != nil {
		return nil, err
	}
	return &TwoBitLoader{r}, nil
}

// NumContigs returns the number of contigs.
func (l *TwoBitLoader) NumContigs() int { return l.NumSeqs() }

// Load reads the sequence of a contig.
func (l *TwoBitLoader) Load(id int) ([]byte, error) { return l.Seq(id) }

var packedPool = &sync.Pool{New: func() interface{} {
	b := make([]byte, 0, 1<<16)
	return &b
}}

// RecycleTwoBit returns a slice from Seq2TwoBit to the pool.
func RecycleTwoBit(b2 *[]byte) { packedPool.Put(b2) }

// Seq2TwoBit packs four bases into a byte, the first base in the high bits.
// Symbols other than ACGT are packed as A.
func Seq2TwoBit(s []byte) *[]byte {
	b2 := packedPool.Get().(*[]byte)
	packed := (*b2)[:0]

	var b byte
	for i, c := range s {
		b = b<<2 | util.Base2Bit[c]
		if i&3 == 3 {
			packed = append(packed, b)
			b = 0
		}
	}
	if r := len(s) & 3; r > 0 {
		packed = append(packed, b<<(2*(4-r)))
	}
	*b2 = packed
	return b2
}

// TwoBit2Seq unpacks the first bases of a packed sequence.
func TwoBit2Seq(b2 []byte, bases int) ([]byte, error) {
	if bases > len(b2)<<2 || bases <= (len(b2)-1)<<2 {
		return nil, ErrBadPacking
	}
	s := make([]byte, bases)
	for i := range s {
		s[i] = "ACGT"[b2[i>>2]>>(6-(i&3)<<1)&3]
	}
	return s, nil
}
