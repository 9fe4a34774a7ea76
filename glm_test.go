// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type glmSuite struct{}

var _ = check.Suite(&glmSuite{})

// caseControlSamples returns 40 reference samples, even-numbered
// ones are cases, with one principal component unrelated to case
// status.
func caseControlSamples() []sampleInfo {
	var samples []sampleInfo
	for i := 0; i < 40; i++ {
		samples = append(samples, sampleInfo{
			id:            fmt.Sprintf("sample%d", i),
			isReference:   true,
			isCase:        i%2 == 0,
			isControl:     i%2 == 1,
			phenotype:     math.NaN(),
			pcaComponents: []float64{float64(i % 5)},
		})
	}
	return samples
}

func (s *glmSuite) TestPvalue(c *check.C) {
	samples := caseControlSamples()
	model, err := newCaseControlModel(samples, 1)
	c.Assert(err, check.IsNil)

	associated := make([]bool, 40)
	unrelated := make([]bool, 40)
	for i := range associated {
		associated[i] = (i%2 == 0) != (i < 4)
		unrelated[i] = i%4 < 2
	}
	pAssoc := model.Pvalue(associated)
	pUnrelated := model.Pvalue(unrelated)
	c.Logf("associated %v, unrelated %v", pAssoc, pUnrelated)
	c.Check(pAssoc < 1e-4, check.Equals, true)
	c.Check(pUnrelated > 0.05, check.Equals, true)
}

func (s *glmSuite) TestIncludedSamples(c *check.C) {
	samples := caseControlSamples()
	samples[3].isReference = false
	samples[5].isControl = false
	model, err := newCaseControlModel(samples, 0)
	c.Assert(err, check.IsNil)
	c.Check(model.Included(0), check.Equals, true)
	c.Check(model.Included(3), check.Equals, false)
	c.Check(model.Included(5), check.Equals, false)
	c.Check(model.data[0], check.HasLen, 38)
}

func (s *glmSuite) TestModelErrors(c *check.C) {
	samples := caseControlSamples()
	_, err := newCaseControlModel(samples, 2)
	c.Check(errors.Is(err, ErrData), check.Equals, true)
	for i := range samples {
		samples[i].isCase, samples[i].isControl = false, false
	}
	_, err = newCaseControlModel(samples, 0)
	c.Check(errors.Is(err, ErrData), check.Equals, true)
}

func (s *glmSuite) TestAssociate(c *check.C) {
	samples := caseControlSamples()
	samples = append(samples, sampleInfo{id: "query", pcaComponents: []float64{0}})
	data := make([]int8, 0, 41*3)
	for i := 0; i < 41; i++ {
		var assoc, unrelated, none int8
		if (i%2 == 0) != (i < 4) {
			assoc = 1
		}
		if i%4 < 2 {
			unrelated = 2
		}
		if i == 40 {
			assoc = missingGenotype
		}
		data = append(data, assoc, unrelated, none)
	}
	store, err := NewMemoryStore(41, 3, data)
	c.Assert(err, check.IsNil)
	for _, threads := range []int{1, 3} {
		pvalues, _, err := associate(context.Background(), store, samples, 1, 1, threads)
		c.Assert(err, check.IsNil)
		c.Assert(pvalues, check.HasLen, 3)
		c.Check(pvalues[0] < 1e-4, check.Equals, true)
		c.Check(pvalues[1] > 0.05, check.Equals, true)
		c.Check(math.IsNaN(pvalues[2]), check.Equals, false)
	}

	ts := &testStore{GenotypeStore: store, failAt: 2, failErr: errTestStore}
	_, _, err = associate(context.Background(), ts, samples, 1, 2, 2)
	c.Check(errors.Is(err, ErrStoreIO), check.Equals, true)
}

var benchSamples, benchCarriers = func() ([]sampleInfo, []bool) {
	rnd := rand.New(rand.NewSource(1))
	var samples []sampleInfo
	var carriers []bool
	for j := 0; j < 10000; j++ {
		pcs := make([]float64, 10)
		for i := range pcs {
			pcs[i] = rnd.Float64()
		}
		samples = append(samples, sampleInfo{
			id:            fmt.Sprintf("sample%d", j),
			isReference:   true,
			isCase:        j%2 == 0 && j > 200,
			isControl:     j%2 == 1 || j <= 200,
			pcaComponents: pcs,
		})
		carriers = append(carriers, j%2 == 0)
	}
	return samples, carriers
}()

func (s *glmSuite) BenchmarkPvalue(c *check.C) {
	model, err := newCaseControlModel(benchSamples, 10)
	c.Assert(err, check.IsNil)
	c.ResetTimer()
	for i := 0; i < c.N; i++ {
		model.Pvalue(benchCarriers)
	}
}
