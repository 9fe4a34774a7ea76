// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
)

// MmapStore is a GenotypeStore backed by a memory-mapped binary
// file: one signed byte per genotype, row-major (individual-major),
// negative values are no-calls. The file has no header, so the
// caller supplies the dimensions.
type MmapStore struct {
	filename string
	rows     int
	cols     int
	ra       *mmap.ReaderAt
}

// OpenMmapStore maps filename and checks that its size matches
// rows×cols.
func OpenMmapStore(filename string, rows, cols int) (*MmapStore, error) {
	if rows <= 0 || cols <= 0 {
		return nil, configErrorf("%s: dimensions must be positive (rows=%d, cols=%d)", filename, rows, cols)
	}
	ra, err := mmap.Open(filename)
	if err != nil {
		return nil, err
	}
	if ra.Len() != rows*cols {
		ra.Close()
		return nil, dataErrorf("%s: file size %d does not match %d rows × %d cols", filename, ra.Len(), rows, cols)
	}
	log.WithFields(log.Fields{
		"filename": filename,
		"rows":     rows,
		"cols":     cols,
	}).Info("mapped genotype store")
	return &MmapStore{filename: filename, rows: rows, cols: cols, ra: ra}, nil
}

func (s *MmapStore) Dims() (int, int) { return s.rows, s.cols }

func (s *MmapStore) ReadBlock(ctx context.Context, rows []int, start, end int) (*GenotypeBlock, error) {
	if err := checkReadArgs(s.rows, s.cols, rows, start, end); err != nil {
		return nil, err
	}
	blk := newGenotypeBlock(len(rows), end-start)
	buf := make([]byte, end-start)
	for i, r := range rows {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, err := s.ra.ReadAt(buf, int64(r)*int64(s.cols)+int64(start))
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", s.filename, r, err)
		} else if n != len(buf) {
			return nil, fmt.Errorf("%s: row %d: short read (%d < %d)", s.filename, r, n, len(buf))
		}
		row := blk.Row(i)
		for j, b := range buf {
			row[j] = int8(b)
		}
	}
	return blk, nil
}

func (s *MmapStore) Close() error {
	return s.ra.Close()
}
