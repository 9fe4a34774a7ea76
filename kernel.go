// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ProgressFunc is called once for each locus block that has been
// added to the kernel. done counts finished blocks, total is the
// number of blocks in the pass. Calls are serialized.
type ProgressFunc func(done, total int)

type KernelOptions struct {
	// Number of loci per block. Peak memory for genotype data is
	// O(individuals × BlockSize) per thread.
	BlockSize int

	// Use BLAS-backed gonum routines for the block updates
	// (otherwise plain Go loops).
	Native bool

	// Number of blocks processed concurrently. Each thread keeps
	// its own partial kernel, so memory use for kernels is
	// Threads × (n₁² + n₂n₁) floats.
	Threads int

	Progress ProgressFunc
}

// Kernel holds sealed relationship matrices built from scaled
// genotypes X: Ref = X_ref X_refᵗ and, if the partition has a query
// set, Query = X_qry X_refᵗ.
type Kernel struct {
	Ref       *mat.SymDense
	Query     *mat.Dense // nil if there is no query set
	Loci      int        // number of loci accumulated
	Partition *Partition
}

// kernelAccumulator sums per-block contributions into the reference
// (and query) kernels. Once sealed it accepts no more blocks.
type kernelAccumulator struct {
	ref    *mat.SymDense
	qry    *mat.Dense
	native bool
	blocks int
	sealed bool
}

func newKernelAccumulator(nref, nqry int, native bool) *kernelAccumulator {
	acc := &kernelAccumulator{
		ref:    mat.NewSymDense(nref, nil),
		native: native,
	}
	if nqry > 0 {
		acc.qry = mat.NewDense(nqry, nref, nil)
	}
	return acc
}

var errSealed = errors.New("bug: kernel accumulator is sealed")

// Add accumulates one block of scaled genotypes. xref has one row per
// reference individual; xqry has one row per query individual, or is
// nil if there is no query set.
func (acc *kernelAccumulator) Add(xref, xqry *mat.Dense) error {
	if acc.sealed {
		return errSealed
	}
	if r, _ := xref.Dims(); r != acc.ref.Symmetric() {
		return dataErrorf("scaled reference block has %d rows, expected %d", r, acc.ref.Symmetric())
	}
	if (xqry == nil) != (acc.qry == nil) {
		return dataErrorf("query block presence does not match query kernel")
	}
	if xqry != nil {
		rq, cq := xqry.Dims()
		nq, _ := acc.qry.Dims()
		if _, c := xref.Dims(); rq != nq || cq != c {
			return dataErrorf("scaled query block is %dx%d, expected %dx%d", rq, cq, nq, c)
		}
	}
	if acc.native {
		acc.ref.SymRankK(acc.ref, 1, xref)
		if xqry != nil {
			var prod mat.Dense
			prod.Mul(xqry, xref.T())
			acc.qry.Add(acc.qry, &prod)
		}
	} else {
		acc.addLoops(xref, xqry)
	}
	acc.blocks++
	return nil
}

// addLoops is the non-BLAS version of Add. Only the upper triangle of
// the reference kernel is stored, so symmetry is exact.
func (acc *kernelAccumulator) addLoops(xref, xqry *mat.Dense) {
	rx := xref.RawMatrix()
	rs := acc.ref.RawSymmetric()
	for i := 0; i < rx.Rows; i++ {
		xi := rx.Data[i*rx.Stride : i*rx.Stride+rx.Cols]
		out := rs.Data[i*rs.Stride : i*rs.Stride+rs.N]
		for j := i; j < rx.Rows; j++ {
			xj := rx.Data[j*rx.Stride : j*rx.Stride+rx.Cols]
			dot := 0.0
			for k, v := range xi {
				dot += v * xj[k]
			}
			out[j] += dot
		}
	}
	if xqry == nil {
		return
	}
	qx := xqry.RawMatrix()
	qk := acc.qry.RawMatrix()
	for i := 0; i < qx.Rows; i++ {
		qi := qx.Data[i*qx.Stride : i*qx.Stride+qx.Cols]
		out := qk.Data[i*qk.Stride : i*qk.Stride+qk.Cols]
		for j := 0; j < rx.Rows; j++ {
			xj := rx.Data[j*rx.Stride : j*rx.Stride+rx.Cols]
			dot := 0.0
			for k, v := range qi {
				dot += v * xj[k]
			}
			out[j] += dot
		}
	}
}

// merge adds the contents of other (a partial sum over a disjoint
// set of blocks) into acc.
func (acc *kernelAccumulator) merge(other *kernelAccumulator) error {
	if acc.sealed || other.sealed {
		return errSealed
	}
	acc.ref.AddSym(acc.ref, other.ref)
	if acc.qry != nil {
		acc.qry.Add(acc.qry, other.qry)
	}
	acc.blocks += other.blocks
	return nil
}

func (acc *kernelAccumulator) Sealed() bool {
	return acc.sealed
}

// Seal stops accumulation and hands the matrices over to a Kernel.
func (acc *kernelAccumulator) Seal(loci int, part *Partition) *Kernel {
	acc.sealed = true
	return &Kernel{
		Ref:       acc.ref,
		Query:     acc.qry,
		Loci:      loci,
		Partition: part,
	}
}

// ComputeKernel makes one pass over all loci in store, block by
// block, and returns the sealed reference (and query) kernels for
// the given partition. A nil partition means all individuals are in
// the reference set.
//
// The result is all-or-nothing: if the context is cancelled or any
// block fails, no kernel is returned.
func ComputeKernel(ctx context.Context, store GenotypeStore, part *Partition, opts KernelOptions) (*Kernel, error) {
	if opts.BlockSize <= 0 {
		return nil, configErrorf("block size %d must be positive", opts.BlockSize)
	}
	nrows, ncols := store.Dims()
	if part == nil {
		part = AllReference(nrows)
	}
	if err := part.validate(nrows); err != nil {
		return nil, err
	}
	if ncols == 0 {
		return nil, dataErrorf("genotype store has no loci")
	}
	nblocks := (ncols + opts.BlockSize - 1) / opts.BlockSize
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	if threads > nblocks {
		threads = nblocks
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(int, int) {}
	}
	nref, nqry := len(part.Reference), len(part.Query)
	log.WithFields(log.Fields{
		"refs":      nref,
		"queries":   nqry,
		"loci":      ncols,
		"blockSize": opts.BlockSize,
		"blocks":    nblocks,
		"threads":   threads,
		"native":    opts.Native,
		"mem":       threads * 8 * (nref*nref + nqry*nref),
	}).Info("computing kernel")

	var (
		progressMtx sync.Mutex
		done        int
		partials    = make([]*kernelAccumulator, threads)
		todo        = make(chan int)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(todo)
		for b := 0; b < nblocks; b++ {
			select {
			case todo <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := range partials {
		acc := newKernelAccumulator(nref, nqry, opts.Native)
		partials[w] = acc
		g.Go(func() error {
			for b := range todo {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := b * opts.BlockSize
				end := start + opts.BlockSize
				if end > ncols {
					end = ncols
				}
				xref, xqry, err := readScaledBlock(gctx, store, part, start, end)
				if err != nil {
					return err
				}
				err = acc.Add(xref, xqry)
				if err != nil {
					return err
				}
				progressMtx.Lock()
				done++
				progress(done, nblocks)
				progressMtx.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acc := partials[0]
	for _, partial := range partials[1:] {
		if err := acc.merge(partial); err != nil {
			return nil, err
		}
	}
	if acc.blocks != nblocks {
		return nil, errors.New("bug: kernel is missing blocks")
	}
	return acc.Seal(ncols, part), nil
}

// readScaledBlock reads loci [start,end) for the reference and query
// individuals and standardizes both using allele frequencies from the
// reference individuals only.
func readScaledBlock(ctx context.Context, store GenotypeStore, part *Partition, start, end int) (xref, xqry *mat.Dense, err error) {
	ref, err := readBlock(ctx, store, part.Reference, start, end)
	if err != nil {
		return nil, nil, err
	}
	freq := alleleFrequencies(ref)
	xref = scaleBlock(ref, freq)
	if len(part.Query) > 0 {
		qry, err := readBlock(ctx, store, part.Query, start, end)
		if err != nil {
			return nil, nil, err
		}
		xqry = scaleBlock(qry, freq)
	}
	return xref, xqry, nil
}

func readBlock(ctx context.Context, store GenotypeStore, rows []int, start, end int) (*GenotypeBlock, error) {
	blk, err := store.ReadBlock(ctx, rows, start, end)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	} else if err != nil {
		return nil, &StoreReadError{Start: start, End: end, cause: err}
	}
	if blk == nil || blk.Rows != len(rows) || blk.Cols != end-start || len(blk.Data) != blk.Rows*blk.Cols {
		return nil, dataErrorf("store returned malformed block for loci [%d,%d)", start, end)
	}
	return blk, nil
}
