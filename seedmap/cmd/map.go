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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/shenwei356/SeedMap/seedmap/contig"
	"github.com/shenwei356/SeedMap/seedmap/engine"
	"github.com/shenwei356/SeedMap/seedmap/reads"
	"github.com/shenwei356/SeedMap/seedmap/store"
	"github.com/shenwei356/SeedMap/seedmap/verify"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "map reads to reference sequences",
	Long: `map reads to reference sequences

Input:
  1. One (gzipped) FASTA/Q file for single-end reads, or two for paired-end reads.
     Right mates are expected on the strand opposite to their left mates.
  2. Reference sequences from -r/--ref and/or files in -R/--ref-dir.

Errors:
  A read of length n has at most floor(error-rate * n) errors, and all matches
  with fewer errors than its current cutoff are reported. The cutoff of a read
  is lowered once it has enough matches (-m/--max-hits, --distance-range).
  A pair has at most the sum of its mates' errors.

Filtration:
  swift       Seed hits are counted in parallelograms of diagonals. Lossless
              for the given shape as long as the q-gram threshold >= 1.
  pigeonhole  Reads are split into segments, the longest segments whose
              estimated loss meets --recognition-rate are chosen.

Scoring:
  edit        Edit distance.
  hamming     Hamming distance.
  quality     Sum of phred qualities of mismatched bases.

Output format:
  Tab-delimited format with 12 columns, with 1-based positions.

    1.  read,    Read ID.
    2.  rlen,    Read length.
    3.  contig,  Reference sequence ID.
    4.  clen,    Reference sequence length.
    5.  strand,  Strand of the match.
    6.  start,   Start of the match in the reference sequence.
    7.  end,     End of the match in the reference sequence.
    8.  errors,  Number of errors.
    9.  score,   Score, higher is better.
    10. pair,    Pair ID, 0 for single-end reads.
    11. mate,    1 for left mates and 2 for right mates, 0 for single-end reads.
    12. libdiff, Deviation of the insert size from --lib-len.

Configuration:
  Flags can be given in a TOML file via --config, see "seedmap config".
  Values of flags on the command line override those in the file.

`,
	Run: func(cmd *cobra.Command, args []string) {
		if file := getFlagString(cmd, "config"); file != "" {
			checkError(applyConfig(cmd, expandPath(file), "map"))
		}

		opt := getOptions(cmd)
		seq.ValidateSeq = false

		outFile := expandPath(getFlagString(cmd, "out-file"))

		var fhLog *os.File
		if opt.Log2File {
			if !isStdin(outFile) {
				ro, err := filepath.Abs(outFile)
				if err != nil {
					checkError(fmt.Errorf("failed to check output file: %s", err))
				}
				rl, err := filepath.Abs(opt.LogFile)
				if err != nil {
					checkError(fmt.Errorf("failed to check log file: %s", err))
				}
				if ro == rl {
					checkError(fmt.Errorf("output file and log file should not be the same: %s", outFile))
				}
			}
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}

		verbose := opt.Verbose
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

		var err error

		// ---------------------------------------------------------------
		// options

		if len(args) == 0 || len(args) > 2 {
			checkError(fmt.Errorf("one read file for single-end reads or two for paired-end reads needed"))
		}
		for i := range args {
			args[i] = expandPath(args[i])
		}

		refFiles := getFlagStringSlice(cmd, "ref")
		for i := range refFiles {
			refFiles[i] = expandPath(refFiles[i])
		}
		refDir := expandPath(getFlagString(cmd, "ref-dir"))
		if refDir != "" {
			checkDir(refDir, "-R/--ref-dir")

			reFileStr := getFlagString(cmd, "file-regexp")
			if !regexp.MustCompile(`^\(\?i\)`).MatchString(reFileStr) {
				reFileStr = `(?i)` + reFileStr
			}
			reFile, err := regexp.Compile(reFileStr)
			checkError(err)

			files, err := getFileListFromDir(refDir, reFile, opt.NumCPUs)
			checkError(err)
			sort.Strings(files)
			refFiles = append(refFiles, files...)
		}
		if len(refFiles) == 0 {
			checkError(fmt.Errorf("no reference files given, please use -r/--ref or -R/--ref-dir"))
		}

		eopt := engine.DefaultOptions
		eopt.Threads = opt.NumCPUs
		eopt.ReadBlocks = getFlagNonNegativeInt(cmd, "read-blocks")

		eopt.ErrorRate = getFlagNonNegativeFloat64(cmd, "error-rate")
		eopt.RecognitionRate = getFlagNonNegativeFloat64(cmd, "recognition-rate")

		eopt.Policy, err = engine.ParseFilterPolicy(getFlagString(cmd, "filter"))
		checkError(err)
		eopt.Shape = getFlagString(cmd, "shape")
		eopt.AbundanceCut = getFlagNonNegativeFloat64(cmd, "abundance-cut")
		eopt.Delta = getFlagPositiveInt(cmd, "delta")
		eopt.TabooLength = getFlagNonNegativeInt(cmd, "taboo-length")
		eopt.SeedErrors = getFlagNonNegativeInt(cmd, "seed-errors")
		eopt.SegmentLength = getFlagNonNegativeInt(cmd, "segment-length")
		eopt.SegmentOverlap = getFlagNonNegativeInt(cmd, "segment-overlap")

		eopt.ScoreMode, err = verify.ParseMode(getFlagString(cmd, "score"))
		checkError(err)
		eopt.PrefixSeed = getFlagNonNegativeInt(cmd, "prefix-seed")
		eopt.PrefixSeedErrors = getFlagNonNegativeInt(cmd, "prefix-seed-errors")
		eopt.MaxPenalty = getFlagNonNegativeInt(cmd, "max-penalty")

		eopt.MaxHits = getFlagPositiveInt(cmd, "max-hits")
		eopt.PurgeAmbiguous = getFlagBool(cmd, "purge-ambiguous")
		eopt.DistanceRange = getFlagInt(cmd, "distance-range")
		eopt.CompactThreshold = getFlagPositiveInt(cmd, "compact-threshold")
		eopt.CompactMult = getFlagNonNegativeFloat64(cmd, "compact-mult")
		eopt.SortOrder, err = store.ParseOrder(getFlagString(cmd, "sort"))
		checkError(err)

		eopt.MaxMemory, err = ParseByteSize(getFlagString(cmd, "max-mem"))
		checkError(err)
		tmpDir := expandPath(getFlagString(cmd, "tmp-dir"))
		if tmpDir != "" {
			ok, err := pathutil.DirExists(tmpDir)
			checkError(err)
			if !ok {
				checkError(os.MkdirAll(tmpDir, 0777))
			}
		}
		eopt.TmpDir = tmpDir
		if eopt.MaxMemory > 0 && tmpDir == "" {
			eopt.TmpDir = os.TempDir()
		}

		eopt.LibLen = getFlagPositiveInt(cmd, "lib-len")
		eopt.LibErr = getFlagNonNegativeInt(cmd, "lib-err")

		lowMem := getFlagBool(cmd, "low-mem")
		contigMem, err := ParseByteSize(getFlagString(cmd, "contig-mem"))
		checkError(err)

		checkError(eopt.Check())

		// ---------------------------------------------------------------

		if outputLog {
			log.Infof("SeedMap v%s", VERSION)
			log.Info()
		}

		// reads

		paired := len(args) == 2
		var rs *reads.ReadSet
		var pairs *reads.Pairs
		var skipped int
		if paired {
			if outputLog {
				log.Infof("loading read pairs from %s and %s ...", args[0], args[1])
			}
			pairs, skipped, err = loadPairs(args[0], args[1])
			checkError(err)
			rs = pairs.Left
			if outputLog {
				log.Infof("  %d read pairs loaded", pairs.Len())
			}
		} else {
			if outputLog {
				log.Infof("loading reads from %s ...", args[0])
			}
			rs, skipped, err = loadReads(args[0])
			checkError(err)
			if outputLog {
				log.Infof("  %d reads loaded, %d bases, length range: [%d, %d]",
					rs.Len(), rs.Bases(), rs.MinLen(), rs.MaxLen())
			}
		}
		if skipped > 0 {
			log.Warningf("  %d empty reads or pairs skipped", skipped)
		}
		if eopt.ScoreMode == verify.ModeQuality && !rs.HasQualities() {
			log.Warningf("  no quality scores found, every mismatch is penalized by 1")
		}

		// contigs

		if outputLog {
			log.Infof("loading %d reference file(s) ...", len(refFiles))
		}
		src, err := loadContigs(refFiles, lowMem, tmpDir)
		checkError(err)
		defer func() {
			checkError(src.close())
		}()
		if src.NumContigs() == 0 {
			checkError(fmt.Errorf("no reference sequences found"))
		}
		contigs := contig.NewStore(src, contigMem)
		if outputLog {
			log.Infof("  %d reference sequences loaded", contigs.NumContigs())
			if lowMem {
				log.Infof("  reference sequences are loaded on demand")
			}
		}

		// ---------------------------------------------------------------
		// mapping

		var m *engine.Mapper

		var pbs *mpb.Progress
		var bar *mpb.Bar
		if verbose {
			eopt.OnTaskDone = func() {
				if bar != nil {
					bar.Increment()
				}
			}
		}

		if outputLog {
			log.Info()
			log.Infof("building seed indexes with %d threads ...", opt.NumCPUs)
		}
		if paired {
			m, err = engine.NewPairedMapper(pairs, contigs, &eopt)
		} else {
			m, err = engine.NewMapper(rs, contigs, &eopt)
		}
		checkError(err)
		for _, w := range m.Warnings() {
			log.Warning(w)
		}

		if verbose {
			pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(m.NumTasks()),
				mpb.PrependDecorators(
					decor.Name("processed tasks: ", decor.WC{W: len("processed tasks: "), C: decor.DindentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
					decor.EwmaETA(decor.ET_STYLE_GO, 3),
					decor.OnComplete(decor.Name(""), ". done"),
				),
			)
		}

		if outputLog {
			log.Infof("mapping with %d threads ...", opt.NumCPUs)
		}
		timeStart1 := time.Now()
		res, err := m.Map(context.Background())
		if pbs != nil {
			if err != nil {
				bar.Abort(false)
			}
			pbs.Wait()
		}
		checkError(err)
		defer func() {
			checkError(res.Store.Close())
		}()

		ids := make([]int, 0, len(res.ContigErrors))
		for id := range res.ContigErrors {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			log.Warningf("skipped: %s", res.ContigErrors[id])
		}

		st := res.Stats
		if outputLog {
			log.Infof("  done mapping in %s", time.Since(timeStart1))
			log.Infof("  seed shape: %s, read blocks: %d, tasks: %d", st.Shape, st.Blocks, st.Tasks)
			if eopt.Policy == engine.Pigeonhole {
				log.Infof("  segment length: %d, step: %d, estimated loss rate: %.6f",
					st.Segments.Length, st.Segments.Step, st.Segments.Loss)
			}
			var disabled int
			for _, s := range st.Indexes {
				disabled += s.DisabledBuckets
			}
			log.Infof("  disabled seeds: %d", disabled)
			log.Infof("  candidates: %d, verifications: %d, matches: %d",
				st.Filter.Candidates, st.Verify.Verifications, st.Verify.Matches)
			if paired {
				log.Infof("  mate candidates: %d/%d, mate verifications: %d/%d, pairs: %d",
					st.Mates.LeftCandidates, st.Mates.RightCandidates,
					st.Mates.LeftVerifications, st.Mates.RightVerifications, st.Mates.Pairs)
			}
			log.Infof("  compactions: %d, records removed: %d, ambiguous reads purged: %d",
				st.Store.Compactions, st.Store.Removed, st.Store.PurgedReads)
			if st.Store.External {
				log.Infof("  external sorting used")
			}
		}

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		fmt.Fprintln(outfh, "read\trlen\tcontig\tclen\tstrand\tstart\tend\terrors\tscore\tpair\tmate\tlibdiff")

		mapped := make(map[uint32]struct{}, rs.Len())
		var total int
		var name []byte
		var rlen, mate int
		err = res.Store.Each(func(r *store.Record) error {
			total++
			mapped[r.ReadID] = struct{}{}

			if paired {
				mate = int(r.Mate) + 1
				if r.Mate == 0 {
					name, rlen = pairs.Left.Name(int(r.ReadID)), len(pairs.Left.Seq(int(r.ReadID)))
				} else {
					name, rlen = pairs.Right.Name(int(r.ReadID)), len(pairs.Right.Seq(int(r.ReadID)))
				}
			} else {
				mate = 0
				name, rlen = rs.Name(int(r.ReadID)), len(rs.Seq(int(r.ReadID)))
			}

			fmt.Fprintf(outfh, "%s\t%d\t%s\t%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
				name, rlen,
				contigs.Name(int(r.ContigID)), contigs.Len(int(r.ContigID)),
				r.Strand, r.Begin+1, r.End,
				r.Errors, r.Score,
				r.PairID, mate, r.LibDiff)
			return nil
		})
		checkError(err)

		if outputLog {
			n := rs.Len()
			unit := "reads"
			if paired {
				unit = "pairs"
			}
			log.Infof("%.4f%% (%d/%d) %s mapped, %d records", float64(len(mapped))/float64(n)*100,
				len(mapped), n, unit, total)
			if st.DisabledReads > 0 {
				log.Infof("  %d %s disabled for being ambiguous", st.DisabledReads, unit)
			}
			if !isStdin(outFile) {
				log.Infof("mapping results saved to: %s", outFile)
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(mapCmd)

	d := engine.DefaultOptions

	mapCmd.Flags().StringP("config", "c", "",
		formatFlagUsage(`TOML config file, see "seedmap config".`))

	mapCmd.Flags().StringSliceP("ref", "r", []string{},
		formatFlagUsage(`(Gzipped) FASTA/Q file(s) of reference sequences, multiple values are supported.`))

	mapCmd.Flags().StringP("ref-dir", "R", "",
		formatFlagUsage(`Directory containing FASTA/Q files of reference sequences. Directory symlinks are followed.`))

	mapCmd.Flags().StringP("file-regexp", "", `\.(f[aq](st[aq])?|fna)(.gz)?$`,
		formatFlagUsage(`Regular expression for matching sequence files in -R/--ref-dir, case ignored.`))

	mapCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports a ".gz" suffix ("-" for stdout).`))

	// errors

	mapCmd.Flags().Float64P("error-rate", "e", d.ErrorRate,
		formatFlagUsage(`Maximum errors per base of a read.`))

	mapCmd.Flags().Float64P("recognition-rate", "", d.RecognitionRate,
		formatFlagUsage(`Minimum ratio of matches to find, for choosing segments of the pigeonhole filter.`))

	// filtration

	mapCmd.Flags().StringP("filter", "f", d.Policy.String(),
		formatFlagUsage(`Filtration policy, available values: swift, pigeonhole.`))

	mapCmd.Flags().StringP("shape", "s", d.Shape,
		formatFlagUsage(`Seed shape of the swift filter, "1" for care positions and "0" for don't-care positions.`))

	mapCmd.Flags().Float64P("abundance-cut", "", d.AbundanceCut,
		formatFlagUsage(`Disable seeds occurring more than this ratio of the number of reads (>= 1 for no limit).`))

	mapCmd.Flags().IntP("delta", "", d.Delta,
		formatFlagUsage(`Width of parallelograms of the swift filter.`))

	mapCmd.Flags().IntP("taboo-length", "", d.TabooLength,
		formatFlagUsage(`Minimum distance between two candidates of a parallelogram (0 for the read length).`))

	mapCmd.Flags().IntP("seed-errors", "", d.SeedErrors,
		formatFlagUsage(`Mismatches allowed in a segment of the pigeonhole filter, 0 or 1.`))

	mapCmd.Flags().IntP("segment-length", "", d.SegmentLength,
		formatFlagUsage(`Segment length of the pigeonhole filter (0 for choosing by the recognition rate).`))

	mapCmd.Flags().IntP("segment-overlap", "", d.SegmentOverlap,
		formatFlagUsage(`Overlap of segments, only used with --segment-length.`))

	// verification

	mapCmd.Flags().StringP("score", "", d.ScoreMode.String(),
		formatFlagUsage(`Scoring mode, available values: edit, hamming, quality.`))

	mapCmd.Flags().IntP("prefix-seed", "", d.PrefixSeed,
		formatFlagUsage(`Length of read prefixes with at most --prefix-seed-errors mismatches, for hamming and quality scoring (0 for disable).`))

	mapCmd.Flags().IntP("prefix-seed-errors", "", d.PrefixSeedErrors,
		formatFlagUsage(`Mismatches allowed in the prefix seed.`))

	mapCmd.Flags().IntP("max-penalty", "", d.MaxPenalty,
		formatFlagUsage(`Maximum sum of qualities of mismatched bases in quality scoring (0 for no limit).`))

	// matches

	mapCmd.Flags().IntP("max-hits", "m", d.MaxHits,
		formatFlagUsage(`Maximum number of matches per read or pair.`))

	mapCmd.Flags().BoolP("purge-ambiguous", "", d.PurgeAmbiguous,
		formatFlagUsage(`Discard reads with more than -m/--max-hits best matches.`))

	mapCmd.Flags().IntP("distance-range", "", d.DistanceRange,
		formatFlagUsage(`Only keep matches with scores within this range of the best one (-1 for no limit).`))

	mapCmd.Flags().StringP("sort", "", d.SortOrder.String(),
		formatFlagUsage(`Order of output, available values: read, position.`))

	mapCmd.Flags().IntP("compact-threshold", "", d.CompactThreshold,
		formatFlagUsage(`Initial number of matches triggering a compaction.`))

	mapCmd.Flags().Float64P("compact-mult", "", d.CompactMult,
		formatFlagUsage(`Growth rate of the compaction threshold.`))

	mapCmd.Flags().StringP("max-mem", "", "0",
		formatFlagUsage(`Maximum memory of matches before sorting them in temporary files, supported unit: K, M, G (0 for no limit).`))

	mapCmd.Flags().StringP("tmp-dir", "t", "",
		formatFlagUsage(`Directory for temporary files (default: the system temporary directory).`))

	mapCmd.Flags().IntP("read-blocks", "b", d.ReadBlocks,
		formatFlagUsage(`Number of read blocks with their own indexes (0 for 1 for single-end reads and the number of threads for paired-end reads).`))

	// pairs

	mapCmd.Flags().IntP("lib-len", "L", d.LibLen,
		formatFlagUsage(`Expected insert size of read pairs.`))

	mapCmd.Flags().IntP("lib-err", "E", d.LibErr,
		formatFlagUsage(`Maximum deviation of the insert size.`))

	// contigs

	mapCmd.Flags().BoolP("low-mem", "", false,
		formatFlagUsage(`Pack reference sequences into a 2bit file in --tmp-dir and load them on demand.`))

	mapCmd.Flags().StringP("contig-mem", "", "0",
		formatFlagUsage(`Maximum bytes of reference sequences held at the same time with --low-mem, supported unit: K, M, G (0 for no limit).`))

	mapCmd.SetUsageTemplate(usageTemplate("-r <ref.fa.gz> <reads.fq.gz> [reads_2.fq.gz] [-o out.tsv.gz]"))
}
