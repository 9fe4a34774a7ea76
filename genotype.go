// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"context"
	"fmt"
)

// Genotype values are allele dosages 0, 1, 2. Any negative value is
// a no-call.
const missingGenotype int8 = -1

// GenotypeBlock is a dense row-major block of genotype values, as
// returned by GenotypeStore.ReadBlock.
type GenotypeBlock struct {
	Rows int
	Cols int
	Data []int8
}

func newGenotypeBlock(rows, cols int) *GenotypeBlock {
	return &GenotypeBlock{Rows: rows, Cols: cols, Data: make([]int8, rows*cols)}
}

func (blk *GenotypeBlock) At(row, col int) int8 {
	return blk.Data[row*blk.Cols+col]
}

// Row returns a slice of the block's data (not a copy).
func (blk *GenotypeBlock) Row(row int) []int8 {
	return blk.Data[row*blk.Cols : (row+1)*blk.Cols]
}

// GenotypeStore provides random access to an individuals × loci
// genotype matrix that may be much larger than RAM.
//
// ReadBlock must return a rows×(end-start) block with the requested
// rows in the requested order. Implementations must allow concurrent
// ReadBlock calls.
type GenotypeStore interface {
	Dims() (rows, cols int)
	ReadBlock(ctx context.Context, rows []int, start, end int) (*GenotypeBlock, error)
}

// checkReadArgs returns an error if rows or [start,end) fall outside
// a store with the given dimensions.
func checkReadArgs(nrows, ncols int, rows []int, start, end int) error {
	if start < 0 || end > ncols || start > end {
		return fmt.Errorf("column range [%d,%d) out of bounds (%d cols)", start, end, ncols)
	}
	for _, r := range rows {
		if r < 0 || r >= nrows {
			return fmt.Errorf("row %d out of bounds (%d rows)", r, nrows)
		}
	}
	return nil
}

// MemoryStore is a GenotypeStore backed by a dense in-memory array.
type MemoryStore struct {
	rows int
	cols int
	data []int8
}

// NewMemoryStore returns a store for the given row-major data. The
// data slice is used directly, not copied.
func NewMemoryStore(rows, cols int, data []int8) (*MemoryStore, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, dataErrorf("genotype array has %d entries, expected %d rows × %d cols", len(data), rows, cols)
	}
	return &MemoryStore{rows: rows, cols: cols, data: data}, nil
}

func (s *MemoryStore) Dims() (int, int) { return s.rows, s.cols }

func (s *MemoryStore) ReadBlock(ctx context.Context, rows []int, start, end int) (*GenotypeBlock, error) {
	if err := checkReadArgs(s.rows, s.cols, rows, start, end); err != nil {
		return nil, err
	}
	blk := newGenotypeBlock(len(rows), end-start)
	for i, r := range rows {
		copy(blk.Row(i), s.data[r*s.cols+start:r*s.cols+end])
	}
	return blk, nil
}

// Partition splits individuals into a reference set, used to build
// the kernel (and supply training phenotypes), and a query set that
// is projected against the reference.
//
// Reference order determines kernel row/column order. Query order
// determines the row order of the query kernel.
type Partition struct {
	Reference []int
	Query     []int
}

// AllReference returns a partition with all n individuals in the
// reference set and no query set.
func AllReference(n int) *Partition {
	p := &Partition{Reference: make([]int, n)}
	for i := range p.Reference {
		p.Reference[i] = i
	}
	return p
}

// PartitionFromMask returns a partition with individual i in the
// reference set if isRef[i], otherwise in the query set.
func PartitionFromMask(isRef []bool) *Partition {
	p := &Partition{}
	for i, ref := range isRef {
		if ref {
			p.Reference = append(p.Reference, i)
		} else {
			p.Query = append(p.Query, i)
		}
	}
	return p
}

// validate checks that the partition is disjoint and exhaustive over
// [0,n) and that the reference set is not empty.
func (p *Partition) validate(n int) error {
	if len(p.Reference) == 0 {
		return configErrorf("reference set is empty")
	}
	if len(p.Reference)+len(p.Query) != n {
		return configErrorf("partition covers %d+%d individuals, store has %d", len(p.Reference), len(p.Query), n)
	}
	seen := make([]bool, n)
	for _, set := range [][]int{p.Reference, p.Query} {
		for _, i := range set {
			if i < 0 || i >= n {
				return configErrorf("individual %d out of range [0,%d)", i, n)
			}
			if seen[i] {
				return configErrorf("individual %d appears more than once in partition", i)
			}
			seen[i] = true
		}
	}
	return nil
}
