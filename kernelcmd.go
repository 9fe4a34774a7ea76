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

	log "github.com/sirupsen/logrus"
)

// kernelCmd writes the (optionally centered) reference and query
// kernels as numpy arrays.
type kernelCmd struct {
	kernelArgs
	commonArgs
}

func (cmd *kernelCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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

func (cmd *kernelCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outputDir := flags.String("output-dir", "./out", "output `directory`")
	center := flags.Bool("center", false, "center kernels before writing")
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
	kernel, err := ComputeKernel(context.Background(), store, part, cmd.kernelArgs.KernelOptions())
	if err != nil {
		return err
	}
	if *center {
		log.Info("centering")
		kernel.Center()
	}
	err = mkdirOutput(*outputDir)
	if err != nil {
		return err
	}
	n := kernel.Ref.Symmetric()
	ref := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			ref = append(ref, kernel.Ref.At(i, j))
		}
	}
	err = writeNumpyFloat64(*outputDir+"/kernel-ref.npy", ref, n, n)
	if err != nil {
		return err
	}
	if kernel.Query != nil {
		rows, cols := kernel.Query.Dims()
		err = writeNumpyFloat64(*outputDir+"/kernel-query.npy", kernel.Query.RawMatrix().Data, rows, cols)
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(stdout, *outputDir+"/kernel-ref.npy")
	return nil
}
