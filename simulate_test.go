// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"bytes"
	"errors"
	"os"

	"gopkg.in/check.v1"
)

type simulateSuite struct{}

var _ = check.Suite(&simulateSuite{})

func (s *simulateSuite) TestRun(c *check.C) {
	sim := simulation{
		Rows:              50,
		Cols:              80,
		Populations:       2,
		Fst:               0.1,
		MissingRate:       0.1,
		ReferenceFraction: 0.5,
		Causal:            10,
		Heritability:      0.5,
		Seed:              42,
	}
	out, err := sim.Run()
	c.Assert(err, check.IsNil)
	c.Check(out.genotypes, check.HasLen, 50*80)
	missing := 0
	for _, g := range out.genotypes {
		c.Assert(g >= -1 && g <= 2, check.Equals, true)
		if g < 0 {
			missing++
		}
	}
	c.Check(missing > 0 && missing < len(out.genotypes)/4, check.Equals, true, check.Commentf("missing=%d", missing))
	nref := 0
	for _, si := range out.samples {
		if si.isReference {
			nref++
		}
		c.Check(si.isCase != si.isControl, check.Equals, true)
	}
	c.Check(nref, check.Equals, 25)
	c.Check(out.pop[0], check.Equals, 0)
	c.Check(out.pop[49], check.Equals, 1)

	again, err := sim.Run()
	c.Assert(err, check.IsNil)
	c.Check(again.genotypes, check.DeepEquals, out.genotypes)
}

func (s *simulateSuite) TestCheck(c *check.C) {
	good := simulation{Rows: 10, Cols: 10, Populations: 1, Fst: 0.1, ReferenceFraction: 1}
	c.Check(good.check(), check.IsNil)
	for _, mutate := range []func(*simulation){
		func(s *simulation) { s.Rows = 1 },
		func(s *simulation) { s.Populations = 11 },
		func(s *simulation) { s.Fst = 0 },
		func(s *simulation) { s.MissingRate = 1 },
		func(s *simulation) { s.ReferenceFraction = 0 },
		func(s *simulation) { s.Causal = 11 },
		func(s *simulation) { s.Heritability = 2 },
	} {
		sim := good
		mutate(&sim)
		_, err := sim.Run()
		c.Check(errors.Is(err, ErrConfig), check.Equals, true)
	}
}

func (s *simulateSuite) TestDefaultCausalCapped(c *check.C) {
	tmpdir := c.MkDir()
	code := (&simulateCmd{}).RunCommand("kinship simulate", []string{
		"-rows", "10", "-cols", "30", "-output-dir", tmpdir,
	}, nil, &bytes.Buffer{}, os.Stderr)
	c.Check(code, check.Equals, 0)
	samples, err := loadSampleInfo(tmpdir + "/samples.csv")
	c.Assert(err, check.IsNil)
	c.Check(samples, check.HasLen, 10)

	var stderr bytes.Buffer
	code = (&simulateCmd{}).RunCommand("kinship simulate", []string{
		"-rows", "10", "-cols", "30", "-causal", "50", "-output-dir", tmpdir,
	}, nil, &bytes.Buffer{}, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*causal loci 50 out of range.*`)
}
