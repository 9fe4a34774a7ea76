// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// associate computes a per-locus case/control association p-value
// for every locus in store. Carriers are individuals with at least
// one alternate allele (no-calls count as non-carriers). Loci where
// the logistic model cannot be fitted fall back to a χ² test without
// covariates.
func associate(ctx context.Context, store GenotypeStore, samples []sampleInfo, nPCA, blockSize, threads int) (pvalues []float64, fallbacks int, err error) {
	nrows, ncols := store.Dims()
	if len(samples) != nrows {
		return nil, 0, fmt.Errorf("%w: %d samples for %d rows", ErrData, len(samples), nrows)
	}
	if blockSize <= 0 {
		return nil, 0, configErrorf("block size %d must be positive", blockSize)
	}
	model, err := newCaseControlModel(samples, nPCA)
	if err != nil {
		return nil, 0, err
	}
	var rows []int
	var cases []bool
	for i, si := range samples {
		if model.Included(i) {
			rows = append(rows, i)
			cases = append(cases, si.isCase)
		}
	}
	pvalues = make([]float64, ncols)
	var nfallback int64
	throttle := &throttle{Max: threads}
	for start := 0; start < ncols; start += blockSize {
		if err := ctx.Err(); err != nil {
			throttle.Report(err)
			break
		}
		start, end := start, start+blockSize
		if end > ncols {
			end = ncols
		}
		throttle.Go(func() error {
			blk, err := readBlock(ctx, store, rows, start, end)
			if err != nil {
				return err
			}
			carrier := make([]bool, len(rows))
			for col := 0; col < blk.Cols; col++ {
				for row := range rows {
					carrier[row] = blk.At(row, col) > 0
				}
				p := model.Pvalue(carrier)
				if math.IsNaN(p) {
					p = chiSquarePvalue(carrier, cases)
					atomic.AddInt64(&nfallback, 1)
				}
				pvalues[start+col] = p
			}
			log.Debugf("association block [%d,%d) done", start, end)
			return nil
		})
	}
	if err := throttle.Wait(); err != nil {
		return nil, 0, err
	}
	return pvalues, int(nfallback), nil
}

type assocCmd struct {
	kernelArgs
	commonArgs
}

func (cmd *assocCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func (cmd *assocCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputDir := flags.String("output-dir", "./out", "output `directory`")
	pcs := flags.Int("pcs", -1, "number of principal component covariates to use from samples file (-1 = all)")
	cmd.kernelArgs.Flags(flags)
	cmd.commonArgs.Flags(flags)
	err := cmd.commonArgs.Parse(flags, args, &cmd.kernelArgs)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	}
	if cmd.kernelArgs.Samples == "" {
		return fmt.Errorf("%w: -samples is required (case/control status and principal components)", errUsage)
	}
	stop, err := cmd.commonArgs.Start()
	if err != nil {
		return err
	}
	defer stop()

	store, closer, samples, _, err := cmd.kernelArgs.Open()
	if err != nil {
		return err
	}
	defer closer.Close()
	nPCA := *pcs
	if nPCA < 0 && len(samples) > 0 {
		nPCA = len(samples[0].pcaComponents)
	} else if nPCA < 0 {
		nPCA = 0
	}
	pvalues, fallbacks, err := associate(context.Background(), store, samples, nPCA, cmd.kernelArgs.BlockSize, cmd.kernelArgs.Threads)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"loci":      len(pvalues),
		"pcs":       nPCA,
		"fallbacks": fallbacks,
	}).Info("association done")

	err = mkdirOutput(*outputDir)
	if err != nil {
		return err
	}
	err = writeNumpyFloat64(*outputDir+"/assoc.npy", pvalues, len(pvalues), 1)
	if err != nil {
		return err
	}
	fnm := *outputDir + "/assoc.csv"
	f, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintf(bufw, "Locus,PValue\n")
	for i, p := range pvalues {
		fmt.Fprintf(bufw, "%d,%g\n", i, p)
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	fmt.Fprintln(stdout, fnm)
	return nil
}
