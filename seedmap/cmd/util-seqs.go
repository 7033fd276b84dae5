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

package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"

	"github.com/shenwei356/SeedMap/seedmap/contig"
	"github.com/shenwei356/SeedMap/seedmap/reads"
)

// readSeqs calls fn on every FASTA/Q record of a file. Sequences are upper-cased,
// and all the slices are copies.
func readSeqs(file string, fn func(name, seq, qual []byte) error) error {
	fastxReader, err := fastx.NewReader(nil, file, "")
	if err != nil {
		return err
	}
	defer fastxReader.Close()

	var record *fastx.Record
	var qual []byte
	for {
		record, err = fastxReader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return errors.Wrapf(err, "reading %s", file)
		}

		qual = nil
		if len(record.Seq.Qual) > 0 {
			qual = append([]byte(nil), record.Seq.Qual...)
		}
		if err = fn(append([]byte(nil), record.ID...),
			bytes.ToUpper(record.Seq.Seq), qual); err != nil {
			return err
		}
	}
	return nil
}

// loadReads loads single-end reads, empty reads are skipped.
func loadReads(file string) (*reads.ReadSet, int, error) {
	rs := reads.NewReadSet(1 << 16)
	var skipped int
	err := readSeqs(file, func(name, seq, qual []byte) error {
		if len(seq) == 0 {
			skipped++
			return nil
		}
		_, err := rs.Add(name, seq, qual)
		return err
	})
	return rs, skipped, err
}

type seqRecord struct {
	name, seq, qual []byte
}

// loadPairs loads paired-end reads, pairs with an empty mate are skipped.
func loadPairs(file1, file2 string) (*reads.Pairs, int, error) {
	var mates [2][]seqRecord
	for i, file := range []string{file1, file2} {
		mates[i] = make([]seqRecord, 0, 1<<16)
		err := readSeqs(file, func(name, seq, qual []byte) error {
			mates[i] = append(mates[i], seqRecord{name: name, seq: seq, qual: qual})
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}
	if len(mates[0]) != len(mates[1]) {
		return nil, 0, errors.Wrapf(reads.ErrMateCountMismatch, "%s: %d, %s: %d",
			file1, len(mates[0]), file2, len(mates[1]))
	}

	left, right := reads.NewReadSet(len(mates[0])), reads.NewReadSet(len(mates[1]))
	var skipped int
	var l, r seqRecord
	for i := range mates[0] {
		l, r = mates[0][i], mates[1][i]
		if len(l.seq) == 0 || len(r.seq) == 0 {
			skipped++
			continue
		}
		if _, err := left.Add(l.name, l.seq, l.qual); err != nil {
			return nil, 0, err
		}
		if _, err := right.Add(r.name, r.seq, r.qual); err != nil {
			return nil, 0, err
		}
	}
	p, err := reads.NewPairs(left, right)
	return p, skipped, err
}

// contigSource is a contig loader with resources to release.
type contigSource struct {
	contig.Loader
	close func() error
}

// loadContigs reads reference sequences into memory, or packs them into a
// 2bit file in tmpDir when lowMem is true.
func loadContigs(files []string, lowMem bool, tmpDir string) (*contigSource, error) {
	if !lowMem {
		loader := contig.NewMemLoader()
		for _, file := range files {
			err := readSeqs(file, func(name, seq, qual []byte) error {
				if len(seq) > 0 {
					loader.Add(name, seq)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		return &contigSource{Loader: loader, close: func() error { return nil }}, nil
	}

	dir, err := os.MkdirTemp(tmpDir, "seedmap-contigs-*")
	if err != nil {
		return nil, err
	}
	file := filepath.Join(dir, "contigs.2bit")
	w, err := contig.NewTwoBitWriter(file)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	for _, f := range files {
		err = readSeqs(f, func(name, seq, qual []byte) error {
			if len(seq) == 0 {
				return nil
			}
			return w.Write(name, seq)
		})
		if err != nil {
			w.Close()
			os.RemoveAll(dir)
			return nil, err
		}
	}
	if err = w.Close(); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	loader, err := contig.NewTwoBitLoader(file)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return &contigSource{
		Loader: loader,
		close: func() error {
			loader.Close()
			return os.RemoveAll(dir)
		},
	}, nil
}
