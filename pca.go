// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	_ "net/http/pprof"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type PCAOptions struct {
	KernelOptions
	EigenOptions
}

// PCAResult holds principal component scores for all individuals.
type PCAResult struct {
	// n × Rank, row i is individual i (reference and query rows
	// in their original positions).
	Scores *mat.Dense

	// Retained eigenvalues of the centered reference kernel,
	// descending.
	Values []float64

	Requested int
	Rank      int
	Loci      int
}

// ComputePCA builds the reference (and query) kernels, centers them,
// and projects every individual onto the significant eigenvectors of
// the centered reference kernel.
//
// Reference scores equal V·diag(√λ); query scores are the centered
// query kernel times V·diag(1/√λ).
func ComputePCA(ctx context.Context, store GenotypeStore, part *Partition, opts PCAOptions) (*PCAResult, error) {
	nrows, _ := store.Dims()
	if part == nil {
		part = AllReference(nrows)
	}
	if err := part.validate(nrows); err != nil {
		return nil, err
	}
	if err := opts.EigenOptions.check(len(part.Reference)); err != nil {
		return nil, err
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
	alpha := spectrum.projection()
	rank := spectrum.Rank()

	scores := mat.NewDense(nrows, rank, nil)
	var refScores mat.Dense
	refScores.Mul(kernel.Ref, alpha)
	for i, idx := range part.Reference {
		scores.SetRow(idx, refScores.RawRowView(i))
	}
	if kernel.Query != nil {
		var qryScores mat.Dense
		qryScores.Mul(kernel.Query, alpha)
		for i, idx := range part.Query {
			scores.SetRow(idx, qryScores.RawRowView(i))
		}
	}
	return &PCAResult{
		Scores:    scores,
		Values:    spectrum.Values,
		Requested: spectrum.Requested,
		Rank:      rank,
		Loci:      kernel.Loci,
	}, nil
}

// projection returns V·diag(1/√λ).
func (s *Spectrum) projection() *mat.Dense {
	alpha := mat.DenseCopyOf(s.Vectors)
	n, r := alpha.Dims()
	for j := 0; j < r; j++ {
		f := 1 / math.Sqrt(s.Values[j])
		for i := 0; i < n; i++ {
			alpha.Set(i, j, alpha.At(i, j)*f)
		}
	}
	return alpha
}

type pcaCmd struct {
	kernelArgs
	commonArgs
}

func (cmd *pcaCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

func (cmd *pcaCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
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
	result, err := ComputePCA(context.Background(), store, part, PCAOptions{
		KernelOptions: cmd.kernelArgs.KernelOptions(),
		EigenOptions:  eopts,
	})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"requested": result.Requested,
		"rank":      result.Rank,
		"loci":      result.Loci,
	}).Info("pca done")

	err = mkdirOutput(*outputDir)
	if err != nil {
		return err
	}
	rows, cols := result.Scores.Dims()
	err = writeNumpyFloat64(*outputDir+"/pca.npy", result.Scores.RawMatrix().Data, rows, cols)
	if err != nil {
		return err
	}
	err = writeNumpyFloat64(*outputDir+"/eigenvalues.npy", result.Values, len(result.Values), 1)
	if err != nil {
		return err
	}
	if samples != nil {
		for i := range samples {
			samples[i].pcaComponents = append([]float64(nil), result.Scores.RawRowView(i)...)
		}
		err = writeSampleInfo(samples, *outputDir)
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(stdout, *outputDir+"/pca.npy")
	return nil
}

// pcaDirect runs a conventional (in-memory, feature-space) PCA on
// the whole scaled genotype matrix. It is only feasible for small
// inputs, and is useful as a cross-check of the kernel method.
type pcaDirect struct {
	kernelArgs
	commonArgs
}

func (cmd *pcaDirect) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

func (cmd *pcaDirect) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputFilename := flags.String("o", "-", "output `file`")
	components := flags.Int("components", 4, "number of components")
	cmd.kernelArgs.Flags(flags)
	cmd.commonArgs.Flags(flags)
	err := cmd.commonArgs.Parse(flags, args, &cmd.kernelArgs)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	}
	stop, err := cmd.commonArgs.Start()
	if err != nil {
		return err
	}
	defer stop()

	store, closer, _, part, err := cmd.kernelArgs.Open()
	if err != nil {
		return err
	}
	defer closer.Close()
	nrows, ncols := store.Dims()
	if *components < 1 || *components > nrows {
		return fmt.Errorf("%w: -components=%d out of range [1,%d]", ErrConfig, *components, nrows)
	}

	log.Printf("reading and scaling: %d rows, %d cols", nrows, ncols)
	x, err := scaleAll(context.Background(), store, part)
	if err != nil {
		return err
	}

	log.Print("fitting")
	transformer := nlp.NewPCA(*components)
	mtx, err := transformer.FitTransform(x.T())
	if err != nil {
		return err
	}
	scores := mat.DenseCopyOf(mtx.T())
	rows, cols := scores.Dims()
	log.Printf("writing %d rows, %d cols", rows, cols)

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = createOutput(*outputFilename)
		if err != nil {
			return err
		}
		defer output.Close()
	}
	err = writeNumpyFloat64To(output, *outputFilename, scores.RawMatrix().Data, rows, cols)
	if err != nil {
		return err
	}
	return output.Close()
}

// scaleAll returns the full scaled genotype matrix (all rows in
// original order), using allele frequencies from the reference rows.
func scaleAll(ctx context.Context, store GenotypeStore, part *Partition) (*mat.Dense, error) {
	nrows, ncols := store.Dims()
	xref, xqry, err := readScaledBlock(ctx, store, part, 0, ncols)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(nrows, ncols, nil)
	for i, idx := range part.Reference {
		out.SetRow(idx, xref.RawRowView(i))
	}
	for i, idx := range part.Query {
		out.SetRow(idx, xqry.RawRowView(i))
	}
	return out, nil
}
