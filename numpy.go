// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"bufio"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func createOutput(fnm string) (*os.File, error) {
	return os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
}

func mkdirOutput(dir string) error {
	return os.MkdirAll(dir, 0777)
}

func writeNumpyFloat64(fnm string, out []float64, rows, cols int) error {
	output, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	err = writeNumpyFloat64To(output, fnm, out, rows, cols)
	if err != nil {
		return err
	}
	return output.Close()
}

// writeNumpyFloat64To writes a rows×cols array to output. The
// caller closes output.
func writeNumpyFloat64To(output io.Writer, fnm string, out []float64, rows, cols int) error {
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	return bufw.Flush()
}

func writeNumpyInt8(fnm string, out []int8, rows, cols int) error {
	output, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	err = npw.WriteInt8(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
