// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/raulk/go-watchdog"
	log "github.com/sirupsen/logrus"
)

var errUsage = errors.New("usage error")

// kernelArgs are the flags shared by all commands that read a
// genotype store. They can also be loaded from a TOML file with
// -config; flags given on the command line take precedence.
type kernelArgs struct {
	Input         string  `toml:"input"`
	Rows          int     `toml:"rows"`
	Cols          int     `toml:"cols"`
	Samples       string  `toml:"samples"`
	BlockSize     int     `toml:"block-size"`
	Threads       int     `toml:"threads"`
	Native        bool    `toml:"native"`
	ProgressEvery int     `toml:"progress-every"`
	Components    int     `toml:"components"`
	Threshold     float64 `toml:"threshold"`
	Solver        string  `toml:"solver"`
	Oversample    int     `toml:"oversample"`
	PowerIters    int     `toml:"power-iterations"`
	Seed          uint64  `toml:"seed"`
}

func (ka *kernelArgs) Flags(flags *flag.FlagSet) {
	flags.StringVar(&ka.Input, "i", "", "genotype `file` (.npy, .npy.gz, or raw int8 .bin)")
	flags.IntVar(&ka.Rows, "rows", 0, "number of individuals (`N`) in a raw .bin input")
	flags.IntVar(&ka.Cols, "cols", 0, "number of loci (`N`) in a raw .bin input")
	flags.StringVar(&ka.Samples, "samples", "", "samples.csv `file` with reference/query assignment and phenotypes (default: all individuals are reference)")
	flags.IntVar(&ka.BlockSize, "block-size", 4096, "loci per block (`N`)")
	flags.IntVar(&ka.Threads, "threads", 1, "number of blocks to process concurrently")
	flags.BoolVar(&ka.Native, "native", true, "use BLAS routines for block updates")
	flags.IntVar(&ka.ProgressEvery, "progress-every", 100, "log progress every `N` blocks (0 = never)")
}

// EigenFlags adds flags for commands that decompose the kernel.
func (ka *kernelArgs) EigenFlags(flags *flag.FlagSet) {
	flags.IntVar(&ka.Components, "components", 10, "number of eigenpairs to compute (0 = all)")
	flags.Float64Var(&ka.Threshold, "threshold", DefaultEigenThreshold, "drop eigenvalues ≤ `T` × number of loci (negative = keep all positive eigenvalues)")
	flags.StringVar(&ka.Solver, "solver", "dense", "eigensolver: dense or randomized")
	flags.IntVar(&ka.Oversample, "oversample", 10, "extra random directions for randomized solver")
	flags.IntVar(&ka.PowerIters, "power-iterations", 2, "power iterations for randomized solver")
	flags.Uint64Var(&ka.Seed, "seed", 1, "random seed for randomized solver")
}

// Open opens the genotype store and (if -samples was given) loads
// the sample list and builds the partition from it. Otherwise
// samples is nil and every individual is a reference individual.
func (ka *kernelArgs) Open() (store GenotypeStore, closer io.Closer, samples []sampleInfo, part *Partition, err error) {
	if ka.Input == "" {
		return nil, nil, nil, nil, fmt.Errorf("%w: no input file specified (-i)", errUsage)
	}
	store, closer, err = OpenStore(ka.Input, ka.Rows, ka.Cols)
	if err != nil {
		return
	}
	nrows, _ := store.Dims()
	if ka.Samples == "" {
		return store, closer, nil, AllReference(nrows), nil
	}
	samples, err = loadSampleInfo(ka.Samples)
	if err != nil {
		closer.Close()
		return nil, nil, nil, nil, err
	}
	if len(samples) != nrows {
		closer.Close()
		return nil, nil, nil, nil, fmt.Errorf("%w: %s has %d samples but %s has %d rows", ErrData, ka.Samples, len(samples), ka.Input, nrows)
	}
	return store, closer, samples, samplePartition(samples), nil
}

func (ka *kernelArgs) KernelOptions() KernelOptions {
	return KernelOptions{
		BlockSize: ka.BlockSize,
		Native:    ka.Native,
		Threads:   ka.Threads,
		Progress:  logProgress(ka.ProgressEvery),
	}
}

func (ka *kernelArgs) EigenOptions() (EigenOptions, error) {
	opts := EigenOptions{
		Components: ka.Components,
		Threshold:  ka.Threshold,
	}
	switch ka.Solver {
	case "dense", "":
		opts.Solver = DenseSolver{}
	case "randomized":
		opts.Solver = RandomizedSolver{
			Oversample: ka.Oversample,
			PowerIters: ka.PowerIters,
			Seed:       ka.Seed,
		}
	default:
		return opts, fmt.Errorf("%w: unknown solver %q", errUsage, ka.Solver)
	}
	return opts, nil
}

// logProgress returns a ProgressFunc that logs every n blocks and at
// the end of the pass.
func logProgress(n int) ProgressFunc {
	if n <= 0 {
		return nil
	}
	return func(done, total int) {
		if done%n == 0 || done == total {
			log.WithFields(log.Fields{
				"done":  done,
				"total": total,
			}).Infof("kernel progress %.1f%%", 100*float64(done)/float64(total))
		}
	}
}

// commonArgs are flags for runtime setup that every command
// supports.
type commonArgs struct {
	pprof       string
	profileDir  string
	logLevel    string
	configFile  string
	memoryLimit uint64
}

func (ca *commonArgs) Flags(flags *flag.FlagSet) {
	flags.StringVar(&ca.pprof, "pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.StringVar(&ca.profileDir, "profile-dir", "", "write CPU and heap profiles to `dir` every minute")
	flags.StringVar(&ca.logLevel, "loglevel", "info", "log `level` (debug, info, warn, error)")
	flags.StringVar(&ca.configFile, "config", "", "load settings from TOML `file` (command line flags take precedence)")
	flags.Uint64Var(&ca.memoryLimit, "memory-limit", 0, "run GC more aggressively when heap approaches `bytes` (0 = no limit)")
}

// Parse parses args. If -config is given, the named TOML file is
// decoded into cfg and args are parsed again so explicit flags
// override file values.
func (ca *commonArgs) Parse(flags *flag.FlagSet, args []string, cfg interface{}) error {
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return err
	} else if err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	}
	if ca.configFile != "" {
		md, err := toml.DecodeFile(ca.configFile, cfg)
		if err != nil {
			return fmt.Errorf("%w: %s: %s", ErrConfig, ca.configFile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("%w: %s: unknown keys: %s", ErrConfig, ca.configFile, strings.Join(keys, ", "))
		}
		err = flags.Parse(args)
		if err != nil {
			return fmt.Errorf("%w: %s", errUsage, err)
		}
	}
	if flags.NArg() > 0 {
		return fmt.Errorf("%w: errant command line arguments after parsed flags: %v", errUsage, flags.Args())
	}
	return nil
}

// Start applies the log level and starts the optional profiling and
// memory watchdog goroutines. The returned func stops the watchdog.
func (ca *commonArgs) Start() (func(), error) {
	level, err := log.ParseLevel(ca.logLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errUsage, err)
	}
	log.SetLevel(level)
	if ca.pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(ca.pprof, nil))
		}()
	}
	if ca.profileDir != "" {
		go writeProfilesPeriodically(ca.profileDir)
	}
	if ca.memoryLimit == 0 {
		return func() {}, nil
	}
	err, stopFn := watchdog.HeapDriven(ca.memoryLimit, 40, watchdog.NewAdaptivePolicy(0.5))
	if err != nil {
		return nil, fmt.Errorf("starting memory watchdog: %w", err)
	}
	log.WithField("limit", ca.memoryLimit).Info("memory watchdog started")
	return stopFn, nil
}
