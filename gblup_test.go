// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/check.v1"
)

type gblupSuite struct{}

var _ = check.Suite(&gblupSuite{})

var gblupOpts = GBLUPOptions{
	KernelOptions: KernelOptions{BlockSize: 2},
	EigenOptions:  EigenOptions{Threshold: DefaultEigenThreshold},
}

func (s *gblupSuite) TestConstantPhenotype(c *check.C) {
	part := &Partition{Reference: []int{0, 1}, Query: []int{2, 3}}
	result, err := ComputeGBLUP(context.Background(), smallStore(c), part, []float64{5, 5}, gblupOpts)
	c.Assert(err, check.IsNil)
	c.Check(result.Mean, check.Equals, 5.0)
	c.Assert(result.Predictions, check.HasLen, 2)
	for _, p := range result.Predictions {
		c.Check(math.Abs(p-5) < 1e-12, check.Equals, true)
	}
}

func (s *gblupSuite) TestSmallExample(c *check.C) {
	// The centered reference kernel is [[4/3,-4/3],[-4/3,4/3]]
	// with a single eigenpair λ=8/3, v=(1,-1)/√2, and the
	// centered query kernel is [[-4,4],[0,0]]. With y=(1,3):
	// b = v vᵗ(y-2)/λ = (-3/8, 3/8).
	part := &Partition{Reference: []int{0, 1}, Query: []int{2, 3}}
	result, err := ComputeGBLUP(context.Background(), smallStore(c), part, []float64{1, 3}, gblupOpts)
	c.Assert(err, check.IsNil)
	c.Check(result.Rank, check.Equals, 1)
	c.Check(math.Abs(result.Values[0]-8.0/3) < 1e-12, check.Equals, true)
	c.Check(math.Abs(result.Predictions[0]-5) < 1e-9, check.Equals, true)
	c.Check(math.Abs(result.Predictions[1]-2) < 1e-9, check.Equals, true)
}

func (s *gblupSuite) TestPredictsSimulatedPhenotype(c *check.C) {
	sim := simulation{
		Rows:              150,
		Cols:              600,
		Populations:       1,
		Fst:               0.1,
		ReferenceFraction: 0.8,
		Causal:            100,
		Heritability:      0.9,
		Seed:              3,
	}
	simulated, err := sim.Run()
	c.Assert(err, check.IsNil)
	store, err := NewMemoryStore(sim.Rows, sim.Cols, simulated.genotypes)
	c.Assert(err, check.IsNil)
	part := samplePartition(simulated.samples)
	y, err := referencePhenotypes(simulated.samples, part)
	c.Assert(err, check.IsNil)
	result, err := ComputeGBLUP(context.Background(), store, part, y, GBLUPOptions{
		KernelOptions: KernelOptions{BlockSize: 64, Native: true, Threads: 2},
		EigenOptions:  EigenOptions{Threshold: DefaultEigenThreshold},
	})
	c.Assert(err, check.IsNil)
	r, n := queryCorrelation(simulated.samples, part, result.Predictions)
	c.Check(n, check.Equals, 30)
	c.Logf("correlation %v", r)
	c.Check(r > 0, check.Equals, true)
	c.Check(result.Mean, check.Equals, stat.Mean(y, nil))
}

func (s *gblupSuite) TestZeroValueOptions(c *check.C) {
	store := randomStore(c, 14, 8, 2)
	part := &Partition{Reference: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, Query: []int{12, 13}}
	y := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	result, err := ComputeGBLUP(context.Background(), store, part, y, GBLUPOptions{
		KernelOptions: KernelOptions{BlockSize: 3},
	})
	c.Assert(err, check.IsNil)
	c.Check(result.Rank <= len(part.Reference)-1, check.Equals, true)
	c.Check(result.Rank <= 8, check.Equals, true)
	for _, p := range result.Predictions {
		c.Check(!math.IsNaN(p) && math.Abs(p) < 100, check.Equals, true, check.Commentf("prediction %v", p))
	}

	def, err := ComputeGBLUP(context.Background(), store, part, y, GBLUPOptions{
		KernelOptions: KernelOptions{BlockSize: 3},
		EigenOptions:  EigenOptions{Threshold: DefaultEigenThreshold},
	})
	c.Assert(err, check.IsNil)
	c.Check(result.Predictions, check.DeepEquals, def.Predictions)
}

func (s *gblupSuite) TestErrors(c *check.C) {
	ts := &testStore{GenotypeStore: smallStore(c)}
	part := &Partition{Reference: []int{0, 1}, Query: []int{2, 3}}
	for _, trial := range []struct {
		part       *Partition
		phenotypes []float64
		opts       GBLUPOptions
		kind       error
	}{
		{nil, []float64{1, 2, 3, 4}, gblupOpts, ErrConfig},
		{&Partition{Reference: []int{0, 1, 2, 3}}, []float64{1, 2, 3, 4}, gblupOpts, ErrConfig},
		{part, []float64{1, 2}, GBLUPOptions{KernelOptions: KernelOptions{BlockSize: 0}}, ErrConfig},
		{part, []float64{1, 2}, GBLUPOptions{KernelOptions: KernelOptions{BlockSize: 1}, EigenOptions: EigenOptions{Components: 3}}, ErrConfig},
		{part, []float64{1, 2, 3}, gblupOpts, ErrData},
		{part, []float64{1, math.NaN()}, gblupOpts, ErrData},
		{part, []float64{math.Inf(1), 1}, gblupOpts, ErrData},
	} {
		_, err := ComputeGBLUP(context.Background(), ts, trial.part, trial.phenotypes, trial.opts)
		c.Check(errors.Is(err, trial.kind), check.Equals, true, check.Commentf("%v", err))
	}
	c.Check(ts.reads, check.Equals, int64(0))

	ts.failAt, ts.failErr = 1, errTestStore
	_, err := ComputeGBLUP(context.Background(), ts, part, []float64{1, 2}, gblupOpts)
	c.Check(errors.Is(err, ErrStoreIO), check.Equals, true)
}
