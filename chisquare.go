// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1}

// chiSquarePvalue returns the p-value of a Pearson χ² test (one
// degree of freedom) for association between carrier status x and
// case status y. It returns 1 if either group is empty or no one is
// a carrier.
func chiSquarePvalue(x, y []bool) float64 {
	var (
		obs, exp [2]float64 // carriers among cases, controls
		sum      float64
		sz       = float64(len(y))
	)
	for i, yi := range y {
		if x[i] {
			if yi {
				obs[0]++
			} else {
				obs[1]++
			}
		}
		if yi {
			exp[0]++
		} else {
			exp[1]++
		}
	}
	if exp[0] == 0 || exp[1] == 0 || obs[0]+obs[1] == 0 {
		return 1
	}
	carriers := obs[0] + obs[1]
	for i := range exp {
		exp[i] = carriers * exp[i] / sz
		d := obs[i] - exp[i]
		sum += d * d / exp[i]
	}
	return chisquared.Survival(sum)
}
