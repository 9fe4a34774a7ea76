// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// alleleFrequencies returns the alternate allele frequency of each
// column of blk, p = Σgenotype / 2n where n is the number of rows.
//
// No-calls contribute nothing to the sum but the denominator is
// still 2n, so missing data biases p toward 0. Callers that care
// must filter or impute before building the store.
func alleleFrequencies(blk *GenotypeBlock) []float64 {
	p := make([]float64, blk.Cols)
	if blk.Rows == 0 {
		return p
	}
	sum := make([]int, blk.Cols)
	for row := 0; row < blk.Rows; row++ {
		for col, v := range blk.Row(row) {
			if v > 0 {
				sum[col] += int(v)
			}
		}
	}
	denom := float64(2 * blk.Rows)
	for col, s := range sum {
		p[col] = float64(s) / denom
	}
	return p
}

// locusScale returns the mean and inverse standard deviation used to
// standardize a locus with allele frequency p. Invariant loci (p=0 or
// p=1, or p outside [0,1] due to bad input) get invsd=0, so every
// value in the column scales to 0.
func locusScale(p float64) (mean, invsd float64) {
	mean = 2 * p
	variance := 2 * p * (1 - p)
	if !(variance > 0) || math.IsInf(variance, 0) {
		return mean, 0
	}
	return mean, 1 / math.Sqrt(variance)
}

// scaleBlock standardizes blk column by column using the given
// allele frequencies. No-calls scale to 0.
func scaleBlock(blk *GenotypeBlock, freq []float64) *mat.Dense {
	mean := make([]float64, blk.Cols)
	invsd := make([]float64, blk.Cols)
	for col, p := range freq {
		mean[col], invsd[col] = locusScale(p)
	}
	data := make([]float64, blk.Rows*blk.Cols)
	for row := 0; row < blk.Rows; row++ {
		out := data[row*blk.Cols : (row+1)*blk.Cols]
		for col, v := range blk.Row(row) {
			if v < 0 || invsd[col] == 0 {
				continue
			}
			out[col] = (float64(v) - mean[col]) * invsd[col]
		}
	}
	return mat.NewDense(blk.Rows, blk.Cols, data)
}
