// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"gonum.org/v1/gonum/mat"
)

// centerReference double-centers the symmetric kernel k in place:
//
//	k[i,j] ← k[i,j] − r[i] − r[j] + g
//
// where r is the vector of row means and g is the mean of r. It
// returns r, which (k being symmetric) is also the vector of column
// means needed to center a query kernel.
func centerReference(k *mat.SymDense) []float64 {
	n := k.Symmetric()
	raw := k.RawSymmetric()
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j >= i {
				means[i] += raw.Data[i*raw.Stride+j]
			} else {
				means[i] += raw.Data[j*raw.Stride+i]
			}
		}
	}
	grand := 0.0
	for i := range means {
		means[i] /= float64(n)
		grand += means[i]
	}
	grand /= float64(n)
	for i := 0; i < n; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+n]
		for j := i; j < n; j++ {
			row[j] += grand - means[i] - means[j]
		}
	}
	return means
}

// centerQuery subtracts the reference column means from each row of
// the query kernel q in place. The query rows are not centered
// against themselves: query individuals are projected into the
// space defined by the reference set.
func centerQuery(q *mat.Dense, refMeans []float64) {
	raw := q.RawMatrix()
	if raw.Cols != len(refMeans) {
		panic(mat.ErrShape)
	}
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j, m := range refMeans {
			row[j] -= m
		}
	}
}

// Center double-centers the reference kernel and column-centers the
// query kernel (if any) in place, using the reference means for
// both. It returns the reference means.
func (k *Kernel) Center() []float64 {
	means := centerReference(k.Ref)
	if k.Query != nil {
		centerQuery(k.Query, means)
	}
	return means
}
