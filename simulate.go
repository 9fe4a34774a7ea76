// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// simulation parameters for a structured population: each of
// Populations subpopulations draws its allele frequencies from a
// Balding-Nichols model around a shared ancestral frequency.
type simulation struct {
	Rows              int
	Cols              int
	Populations       int
	Fst               float64
	MissingRate       float64
	ReferenceFraction float64
	Causal            int
	Heritability      float64
	Seed              uint64
}

type simulated struct {
	genotypes []int8 // Rows × Cols, row-major
	samples   []sampleInfo
	pop       []int
}

func (sim *simulation) check() error {
	switch {
	case sim.Rows < 2 || sim.Cols < 1:
		return fmt.Errorf("%w: need at least 2 rows and 1 col", ErrConfig)
	case sim.Populations < 1 || sim.Populations > sim.Rows:
		return fmt.Errorf("%w: populations %d out of range [1,%d]", ErrConfig, sim.Populations, sim.Rows)
	case !(sim.Fst > 0 && sim.Fst < 1):
		return fmt.Errorf("%w: fst %v must be in (0,1)", ErrConfig, sim.Fst)
	case sim.MissingRate < 0 || sim.MissingRate >= 1:
		return fmt.Errorf("%w: missing rate %v must be in [0,1)", ErrConfig, sim.MissingRate)
	case !(sim.ReferenceFraction > 0 && sim.ReferenceFraction <= 1):
		return fmt.Errorf("%w: reference fraction %v must be in (0,1]", ErrConfig, sim.ReferenceFraction)
	case sim.Causal < 0 || sim.Causal > sim.Cols:
		return fmt.Errorf("%w: causal loci %d out of range [0,%d]", ErrConfig, sim.Causal, sim.Cols)
	case sim.Heritability < 0 || sim.Heritability > 1:
		return fmt.Errorf("%w: heritability %v must be in [0,1]", ErrConfig, sim.Heritability)
	}
	return nil
}

func (sim *simulation) Run() (*simulated, error) {
	if err := sim.check(); err != nil {
		return nil, err
	}
	src := rand.NewSource(sim.Seed)
	rnd := rand.New(src)
	out := &simulated{
		genotypes: make([]int8, sim.Rows*sim.Cols),
		samples:   make([]sampleInfo, sim.Rows),
		pop:       make([]int, sim.Rows),
	}
	for i := range out.pop {
		out.pop[i] = i * sim.Populations / sim.Rows
	}

	ancestral := distuv.Uniform{Min: 0.05, Max: 0.5, Src: src}
	missing := distuv.Bernoulli{P: sim.MissingRate, Src: src}
	popFreq := make([]float64, sim.Populations)
	for col := 0; col < sim.Cols; col++ {
		p := ancestral.Rand()
		scale := (1 - sim.Fst) / sim.Fst
		beta := distuv.Beta{Alpha: p * scale, Beta: (1 - p) * scale, Src: src}
		for k := range popFreq {
			popFreq[k] = beta.Rand()
		}
		for row := 0; row < sim.Rows; row++ {
			g := distuv.Binomial{N: 2, P: popFreq[out.pop[row]], Src: src}.Rand()
			if sim.MissingRate > 0 && missing.Rand() == 1 {
				out.genotypes[row*sim.Cols+col] = missingGenotype
			} else {
				out.genotypes[row*sim.Cols+col] = int8(g)
			}
		}
	}

	// Additive phenotype from Causal random loci plus noise,
	// scaled so the genetic component explains Heritability of
	// the variance.
	genetic := make([]float64, sim.Rows)
	if sim.Causal > 0 {
		effect := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		for _, col := range rnd.Perm(sim.Cols)[:sim.Causal] {
			beta := effect.Rand()
			for row := range genetic {
				if g := out.genotypes[row*sim.Cols+col]; g > 0 {
					genetic[row] += beta * float64(g)
				}
			}
		}
		mean, std := stat.MeanStdDev(genetic, nil)
		for row := range genetic {
			if std > 0 {
				genetic[row] = (genetic[row] - mean) / std
			} else {
				genetic[row] = 0
			}
		}
	}
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	order := rnd.Perm(sim.Rows)
	nref := int(math.Ceil(sim.ReferenceFraction * float64(sim.Rows)))
	for row := range out.samples {
		y := math.Sqrt(sim.Heritability)*genetic[row] + math.Sqrt(1-sim.Heritability)*noise.Rand()
		out.samples[row] = sampleInfo{
			id:        fmt.Sprintf("sample%d", row),
			phenotype: y,
			isCase:    y > 0,
			isControl: y <= 0,
		}
	}
	for _, row := range order[:nref] {
		out.samples[row].isReference = true
	}
	return out, nil
}

type simulateCmd struct {
	commonArgs
}

func (cmd *simulateCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

const defaultCausal = 50

func (cmd *simulateCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var sim simulation
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputDir := flags.String("output-dir", "./out", "output `directory`")
	format := flags.String("format", "npy", "genotype output format: npy or bin")
	flags.IntVar(&sim.Rows, "rows", 200, "number of individuals")
	flags.IntVar(&sim.Cols, "cols", 2000, "number of loci")
	flags.IntVar(&sim.Populations, "populations", 3, "number of subpopulations")
	flags.Float64Var(&sim.Fst, "fst", 0.1, "differentiation between subpopulations")
	flags.Float64Var(&sim.MissingRate, "missing-rate", 0, "fraction of genotypes set to no-call")
	flags.Float64Var(&sim.ReferenceFraction, "reference-fraction", 0.8, "fraction of individuals in the reference set")
	flags.IntVar(&sim.Causal, "causal", defaultCausal, "number of causal loci (default capped at -cols)")
	flags.Float64Var(&sim.Heritability, "heritability", 0.5, "fraction of phenotype variance explained by causal loci")
	flags.Uint64Var(&sim.Seed, "seed", 1, "random seed")
	cmd.commonArgs.Flags(flags)
	err := cmd.commonArgs.Parse(flags, args, &sim)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	}
	causalSet := false
	flags.Visit(func(f *flag.Flag) { causalSet = causalSet || f.Name == "causal" })
	if !causalSet && sim.Causal == defaultCausal && sim.Causal > sim.Cols {
		sim.Causal = sim.Cols
	}
	stop, err := cmd.commonArgs.Start()
	if err != nil {
		return err
	}
	defer stop()

	result, err := sim.Run()
	if err != nil {
		return err
	}
	err = mkdirOutput(*outputDir)
	if err != nil {
		return err
	}
	var fnm string
	switch *format {
	case "npy":
		fnm = *outputDir + "/genotypes.npy"
		err = writeNumpyInt8(fnm, result.genotypes, sim.Rows, sim.Cols)
	case "bin":
		fnm = *outputDir + "/genotypes.bin"
		err = writeRawInt8(fnm, result.genotypes)
	default:
		return fmt.Errorf("%w: unknown format %q", errUsage, *format)
	}
	if err != nil {
		return err
	}
	err = writeSampleInfo(result.samples, *outputDir)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"rows":        sim.Rows,
		"cols":        sim.Cols,
		"populations": sim.Populations,
		"filename":    fnm,
	}).Info("simulation done")
	fmt.Fprintln(stdout, fnm)
	return nil
}

// writeRawInt8 writes data in the headerless format read by
// MmapStore.
func writeRawInt8(fnm string, data []int8) error {
	f, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriterSize(f, 1<<26)
	for _, v := range data {
		bufw.WriteByte(byte(v))
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}
