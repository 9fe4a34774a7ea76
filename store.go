// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// OpenStore opens a genotype store, choosing the implementation by
// filename:
//
//	*.npy, *.npy.gz  2-D numpy array (int8, int16 or float64), loaded into memory
//	anything else    raw int8 matrix, memory-mapped (rows and cols required)
//
// The returned closer must be called when the store is no longer
// needed.
func OpenStore(filename string, rows, cols int) (GenotypeStore, io.Closer, error) {
	if strings.HasSuffix(filename, ".npy") || strings.HasSuffix(filename, ".npy.gz") {
		store, err := loadNumpyStore(filename)
		if err != nil {
			return nil, nil, err
		}
		if (rows > 0 && rows != store.rows) || (cols > 0 && cols != store.cols) {
			return nil, nil, dataErrorf("%s: shape %dx%d does not match specified %dx%d", filename, store.rows, store.cols, rows, cols)
		}
		return store, io.NopCloser(nil), nil
	}
	store, err := OpenMmapStore(filename, rows, cols)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

func loadNumpyStore(filename string) (*MemoryStore, error) {
	f, err := zopen(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if len(npy.Shape) != 2 {
		return nil, dataErrorf("%s: expected 2-D array, got shape %v", filename, npy.Shape)
	}
	rows, cols := npy.Shape[0], npy.Shape[1]
	log.WithFields(log.Fields{
		"filename": filename,
		"rows":     rows,
		"cols":     cols,
		"dtype":    npy.Dtype,
	}).Info("loading numpy genotype matrix")
	var data []int8
	switch npy.Dtype {
	case "i1":
		data, err = npy.GetInt8()
	case "i2":
		var in []int16
		in, err = npy.GetInt16()
		data = make([]int8, len(in))
		for i, v := range in {
			data[i] = genotypeFromInt(int64(v))
		}
	case "f8":
		var in []float64
		in, err = npy.GetFloat64()
		data = make([]int8, len(in))
		for i, v := range in {
			if math.IsNaN(v) {
				data[i] = missingGenotype
			} else {
				data[i] = genotypeFromInt(int64(math.Round(v)))
			}
		}
	default:
		return nil, dataErrorf("%s: unsupported dtype %q", filename, npy.Dtype)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if npy.ColumnMajor {
		data = transposeInt8(data, cols, rows)
	}
	return NewMemoryStore(rows, cols, data)
}

func genotypeFromInt(v int64) int8 {
	if v < 0 || v > 2 {
		return missingGenotype
	}
	return int8(v)
}

// transpose in[row*cols+col] to out[col*rows+row].
func transposeInt8(in []int8, rows, cols int) []int8 {
	out := make([]int8, len(in))
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			out[col*rows+row] = in[row*cols+col]
		}
	}
	return out
}

// zopen returns a reader for the given file, transparently
// decompressing the input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}
