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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shenwei356/bio/seq"
	"github.com/spf13/cobra"

	"github.com/shenwei356/SeedMap/seedmap/index"
)

var seedsCmd = &cobra.Command{
	Use:   "seeds",
	Short: "view the most abundant seeds of reads",
	Long: `view the most abundant seeds of reads

It builds the seed index of reads, reports the summary and lists the most
abundant seeds. It helps to choose -s/--shape and --abundance-cut for "seedmap map".

Output format:
  Tab-delimited format with 3 columns.

    1. seed,      Seed sequence, "-" for don't-care positions.
    2. count,     Number of occurrences.
    3. disabled,  Whether the seed is disabled for being too abundant.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}

		outputLog := opt.Verbose || opt.Log2File

		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		// ---------------------------------------------------------------

		if len(args) != 1 {
			checkError(fmt.Errorf("one read file needed"))
		}
		file := expandPath(args[0])
		outFile := expandPath(getFlagString(cmd, "out-file"))
		topN := getFlagNonNegativeInt(cmd, "top-n")

		iopt := index.DefaultOptions
		iopt.Shape = getFlagString(cmd, "shape")
		iopt.Step = getFlagPositiveInt(cmd, "step")
		iopt.AbundanceCut = getFlagNonNegativeFloat64(cmd, "abundance-cut")
		iopt.MinAbundance = getFlagPositiveInt(cmd, "min-abundance")
		checkError(index.CheckOptions(&iopt))

		if outputLog {
			log.Infof("loading reads from %s ...", file)
		}
		rs, skipped, err := loadReads(file)
		checkError(err)
		if rs.Len() == 0 {
			checkError(fmt.Errorf("no reads found in %s", file))
		}
		if outputLog {
			log.Infof("  %d reads loaded, %d empty reads skipped", rs.Len(), skipped)
		}

		idx, err := index.Build(rs, 0, rs.Len(), &iopt)
		checkError(err)

		st := idx.Stats()
		if outputLog {
			log.Infof("seed index of shape %s:", idx.Shape())
			log.Infof("  distinct seeds: %d, occurrences: %d", st.Buckets, st.Occurrences)
			if st.AbundanceLimit > 0 {
				log.Infof("  abundance limit: %d, disabled seeds: %d, disabled occurrences: %d",
					st.AbundanceLimit, st.DisabledBuckets, st.DisabledOccurrences)
			} else {
				log.Infof("  no abundance limit")
			}
		}

		// ---------------------------------------------------------------

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		fmt.Fprintln(outfh, "seed\tcount\tdisabled")
		shape := idx.Shape()
		for _, s := range idx.TopSeeds(topN) {
			fmt.Fprintf(outfh, "%s\t%d\t%v\n", shape.Decode(s.Code), s.Count, s.Disabled)
		}
	},
}

func init() {
	RootCmd.AddCommand(seedsCmd)

	d := index.DefaultOptions

	seedsCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	seedsCmd.Flags().IntP("top-n", "n", 20,
		formatFlagUsage(`Number of the most abundant seeds to show (0 for all).`))

	seedsCmd.Flags().StringP("shape", "s", d.Shape,
		formatFlagUsage(`Seed shape, "1" for care positions and "0" for don't-care positions.`))

	seedsCmd.Flags().IntP("step", "", d.Step,
		formatFlagUsage(`Only index seeds at offsets of multiples of this value.`))

	seedsCmd.Flags().Float64P("abundance-cut", "", 0.01,
		formatFlagUsage(`Disable seeds occurring more than this ratio of the number of reads (>= 1 for no limit).`))

	seedsCmd.Flags().IntP("min-abundance", "", d.MinAbundance,
		formatFlagUsage(`Seeds occurring no more than this value are never disabled.`))

	seedsCmd.SetUsageTemplate(usageTemplate("<reads.fq.gz> [-o seeds.tsv]"))
}
