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

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

type GBLUPOptions struct {
	KernelOptions
	EigenOptions
}

// GBLUPResult holds predicted phenotypes for the query individuals.
type GBLUPResult struct {
	// One prediction per query individual, in partition query
	// order.
	Predictions []float64

	// Mean of the training phenotypes.
	Mean float64

	Values    []float64
	Requested int
	Rank      int
	Loci      int
}

// ComputeGBLUP predicts phenotypes of the query individuals from the
// phenotypes of the reference individuals (given in partition
// reference order) using the truncated spectrum of the centered
// reference kernel:
//
//	b = V diag(1/λ) Vᵗ (y − ȳ)
//	prediction = K_qry b + ȳ
func ComputeGBLUP(ctx context.Context, store GenotypeStore, part *Partition, phenotypes []float64, opts GBLUPOptions) (*GBLUPResult, error) {
	nrows, _ := store.Dims()
	if part == nil {
		part = AllReference(nrows)
	}
	if err := part.validate(nrows); err != nil {
		return nil, err
	}
	if len(part.Query) == 0 {
		return nil, configErrorf("gBLUP requires a query set")
	}
	if err := opts.EigenOptions.check(len(part.Reference)); err != nil {
		return nil, err
	}
	if len(phenotypes) != len(part.Reference) {
		return nil, dataErrorf("got %d phenotypes for %d reference individuals", len(phenotypes), len(part.Reference))
	}
	for i, y := range phenotypes {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, dataErrorf("phenotype for reference individual %d (row %d) is %v", i, part.Reference[i], y)
		}
	}
	kernel, err := ComputeKernel(ctx, store, part, opts.KernelOptions)
	if err != nil {
		return nil, err
	}
	kernel.Center()
	spectrum, err := reduceSpectrum(ctx, kernel.Ref, kernel.Loci, opts.EigenOptions)
	if err != nil {
		return nil, err
	}

	mean := stat.Mean(phenotypes, nil)
	centered := mat.NewVecDense(len(phenotypes), nil)
	for i, y := range phenotypes {
		centered.SetVec(i, y-mean)
	}
	var t mat.VecDense
	t.MulVec(spectrum.Vectors.T(), centered)
	for i, lambda := range spectrum.Values {
		t.SetVec(i, t.AtVec(i)/lambda)
	}
	var b, pred mat.VecDense
	b.MulVec(spectrum.Vectors, &t)
	pred.MulVec(kernel.Query, &b)
	predictions := make([]float64, len(part.Query))
	for i := range predictions {
		predictions[i] = pred.AtVec(i) + mean
	}
	return &GBLUPResult{
		Predictions: predictions,
		Mean:        mean,
		Values:      spectrum.Values,
		Requested:   spectrum.Requested,
		Rank:        spectrum.Rank(),
		Loci:        kernel.Loci,
	}, nil
}

type gblupCmd struct {
	kernelArgs
	commonArgs
}

func (cmd *gblupCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

func (cmd *gblupCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputDir := flags.String("output-dir", "./out", "output `directory`")
	cmd.kernelArgs.Flags(flags)
	cmd.kernelArgs.EigenFlags(flags)
	cmd.commonArgs.Flags(flags)
	err := cmd.commonArgs.Parse(flags, args, &cmd.kernelArgs)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	}
	if cmd.kernelArgs.Samples == "" {
		return fmt.Errorf("%w: -samples is required (phenotypes and reference/query assignment)", errUsage)
	}
	stop, err := cmd.commonArgs.Start()
	if err != nil {
		return err
	}
	defer stop()

	store, closer, samples, part, err := cmd.kernelArgs.Open()
	if err != nil {
		return err
	}
	defer closer.Close()
	eopts, err := cmd.kernelArgs.EigenOptions()
	if err != nil {
		return err
	}
	phenotypes, err := referencePhenotypes(samples, part)
	if err != nil {
		return err
	}
	result, err := ComputeGBLUP(context.Background(), store, part, phenotypes, GBLUPOptions{
		KernelOptions: cmd.kernelArgs.KernelOptions(),
		EigenOptions:  eopts,
	})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"requested": result.Requested,
		"rank":      result.Rank,
		"mean":      result.Mean,
		"queries":   len(result.Predictions),
	}).Info("gblup done")
	if r, n := queryCorrelation(samples, part, result.Predictions); n > 1 {
		log.WithFields(log.Fields{
			"known":       n,
			"correlation": r,
		}).Info("correlation between predictions and known query phenotypes")
	}

	err = mkdirOutput(*outputDir)
	if err != nil {
		return err
	}
	err = writeNumpyFloat64(*outputDir+"/predictions.npy", result.Predictions, len(result.Predictions), 1)
	if err != nil {
		return err
	}
	err = writePredictions(*outputDir+"/predictions.csv", samples, part, result.Predictions)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, *outputDir+"/predictions.csv")
	return nil
}

// queryCorrelation returns the Pearson correlation between
// predictions and the phenotypes of query individuals whose
// phenotype is known, along with the number of such individuals.
func queryCorrelation(samples []sampleInfo, part *Partition, predictions []float64) (float64, int) {
	var known, pred []float64
	for i, idx := range part.Query {
		if y := samples[idx].phenotype; !math.IsNaN(y) {
			known = append(known, y)
			pred = append(pred, predictions[i])
		}
	}
	if len(known) < 2 {
		return math.NaN(), len(known)
	}
	return stat.Correlation(known, pred, nil), len(known)
}

func writePredictions(fnm string, samples []sampleInfo, part *Partition, predictions []float64) error {
	log.Infof("writing predictions to %s", fnm)
	f, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintf(bufw, "Index,SampleID,Prediction\n")
	for i, idx := range part.Query {
		fmt.Fprintf(bufw, "%d,%s,%g\n", idx, samples[idx].id, predictions[i])
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}
