// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"context"
	"errors"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultEigenThreshold is the default relative eigenvalue cutoff:
// eigenpairs with value ≤ DefaultEigenThreshold × loci are dropped.
const DefaultEigenThreshold = 1e-3

// NoThreshold disables the relative cutoff: every positive
// eigenvalue is retained.
const NoThreshold = -1.0

// EigenSolver computes eigenpairs of a symmetric matrix. If k ≤ 0 it
// returns all of them, otherwise (approximately) the k largest.
// Values are returned in descending order, with the corresponding
// eigenvectors in the columns of the returned matrix.
type EigenSolver interface {
	Decompose(ctx context.Context, a mat.Symmetric, k int) ([]float64, *mat.Dense, error)
}

// DenseSolver computes a full decomposition with gonum's EigenSym,
// then discards all but the top k pairs.
type DenseSolver struct{}

func (DenseSolver) Decompose(ctx context.Context, a mat.Symmetric, k int) ([]float64, *mat.Dense, error) {
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		return nil, nil, numericalErrorf("symmetric eigendecomposition did not converge")
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	values, vectors := sortEigen(es.Values(nil), &vecs)
	if k > 0 && k < len(values) {
		n, _ := vectors.Dims()
		values = values[:k]
		vectors = mat.DenseCopyOf(vectors.Slice(0, n, 0, k))
	}
	return values, vectors, ctx.Err()
}

// RandomizedSolver approximates the top k eigenpairs by randomized
// subspace iteration: project onto k+Oversample random directions,
// refine with PowerIters multiplications, then solve the small
// projected problem exactly.
type RandomizedSolver struct {
	Oversample int
	PowerIters int
	Seed       uint64
}

func (rs RandomizedSolver) Decompose(ctx context.Context, a mat.Symmetric, k int) ([]float64, *mat.Dense, error) {
	n := a.Symmetric()
	l := k + rs.Oversample
	if k <= 0 || l >= n {
		return DenseSolver{}.Decompose(ctx, a, k)
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(rs.Seed)}
	omega := mat.NewDense(n, l, nil)
	raw := omega.RawMatrix()
	for i := range raw.Data {
		raw.Data[i] = normal.Rand()
	}
	var y mat.Dense
	y.Mul(a, omega)
	for it := 0; it < rs.PowerIters; it++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		orthonormalize(&y)
		var next mat.Dense
		next.Mul(a, &y)
		y = next
	}
	orthonormalize(&y)

	// b = yᵗ a y, symmetrized to absorb rounding
	var ay, b mat.Dense
	ay.Mul(a, &y)
	b.Mul(y.T(), &ay)
	small := mat.NewSymDense(l, nil)
	for i := 0; i < l; i++ {
		for j := i; j < l; j++ {
			small.SetSym(i, j, (b.At(i, j)+b.At(j, i))/2)
		}
	}
	values, w, err := DenseSolver{}.Decompose(ctx, small, k)
	if err != nil {
		return nil, nil, err
	}
	var vectors mat.Dense
	vectors.Mul(&y, w)
	return values, &vectors, nil
}

// orthonormalize replaces the columns of y with an orthonormal basis
// of their span (modified Gram-Schmidt, two passes). Columns that are
// numerically dependent on earlier ones become zero.
func orthonormalize(y *mat.Dense) {
	_, c := y.Dims()
	for j := 0; j < c; j++ {
		v := mat.VecDenseCopyOf(y.ColView(j))
		for pass := 0; pass < 2; pass++ {
			for k := 0; k < j; k++ {
				qk := y.ColView(k)
				v.AddScaledVec(v, -mat.Dot(v, qk), qk)
			}
		}
		norm := mat.Norm(v, 2)
		if norm < 1e-12 {
			v.Zero()
		} else {
			v.ScaleVec(1/norm, v)
		}
		y.SetCol(j, v.RawVector().Data)
	}
}

// sortEigen returns values in descending order and a copy of vecs
// with columns permuted to match.
func sortEigen(values []float64, vecs *mat.Dense) ([]float64, *mat.Dense) {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return values[order[i]] > values[order[j]] })
	n, _ := vecs.Dims()
	sorted := make([]float64, len(values))
	out := mat.NewDense(n, len(values), nil)
	col := make([]float64, n)
	for i, o := range order {
		sorted[i] = values[o]
		mat.Col(col, o, vecs)
		out.SetCol(i, col)
	}
	return sorted, out
}

// Spectrum is the truncated eigendecomposition of a centered
// reference kernel.
type Spectrum struct {
	Values    []float64  // descending, all > Threshold × Loci
	Vectors   *mat.Dense // n₁ × len(Values)
	Requested int        // requested rank (0 = no limit)
	Threshold float64
	Loci      int
}

// Rank returns the number of retained eigenpairs.
func (s *Spectrum) Rank() int { return len(s.Values) }

type EigenOptions struct {
	// Number of eigenpairs to compute (0 = all).
	Components int

	// Relative cutoff: eigenvalues ≤ Threshold × loci are
	// dropped. 0 means DefaultEigenThreshold; any negative value
	// (see NoThreshold) keeps every positive eigenvalue.
	Threshold float64

	// Solver to use (nil = DenseSolver).
	Solver EigenSolver
}

func (opts EigenOptions) check(nref int) error {
	if opts.Components < 0 {
		return configErrorf("number of components %d must not be negative", opts.Components)
	}
	if opts.Components > nref {
		return configErrorf("cannot compute %d components from %d reference individuals", opts.Components, nref)
	}
	if math.IsNaN(opts.Threshold) || math.IsInf(opts.Threshold, 1) {
		return configErrorf("invalid eigenvalue threshold %v", opts.Threshold)
	}
	return nil
}

// threshold returns the effective relative cutoff.
func (opts EigenOptions) threshold() float64 {
	switch {
	case opts.Threshold == 0:
		return DefaultEigenThreshold
	case opts.Threshold < 0:
		return 0
	default:
		return opts.Threshold
	}
}

// reduceSpectrum decomposes a centered reference kernel built from
// the given number of loci and retains the significant eigenpairs.
func reduceSpectrum(ctx context.Context, k *mat.SymDense, loci int, opts EigenOptions) (*Spectrum, error) {
	n := k.Symmetric()
	if err := opts.check(n); err != nil {
		return nil, err
	}
	solver := opts.Solver
	if solver == nil {
		solver = DenseSolver{}
	}
	values, vectors, err := solver.Decompose(ctx, k, opts.Components)
	if err != nil {
		return nil, err
	}
	if vr, vc := vectors.Dims(); vr != n || vc != len(values) {
		return nil, errors.New("bug: eigensolver returned mismatched values/vectors")
	}
	values, vectors = sortEigen(values, vectors)
	threshold := opts.threshold()
	cutoff := threshold * float64(loci)
	rank := 0
	for rank < len(values) && values[rank] > cutoff {
		rank++
	}
	if rank == 0 {
		return nil, numericalErrorf("no significant structure detected: no eigenvalue above %g (threshold %g × %d loci)", cutoff, threshold, loci)
	}
	fields := log.Fields{
		"requested": opts.Components,
		"computed":  len(values),
		"rank":      rank,
		"cutoff":    cutoff,
	}
	if opts.Components > 0 && rank < opts.Components {
		log.WithFields(fields).Warn("fewer eigenpairs than requested survived truncation, using reduced rank")
	} else {
		log.WithFields(fields).Info("eigendecomposition done")
	}
	return &Spectrum{
		Values:    append([]float64(nil), values[:rank]...),
		Vectors:   mat.DenseCopyOf(vectors.Slice(0, n, 0, rank)),
		Requested: opts.Components,
		Threshold: threshold,
		Loci:      loci,
	}, nil
}
