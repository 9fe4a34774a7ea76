// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"bytes"
	"flag"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

func readNumpyFloat64(c *check.C, fnm string) ([]float64, []int) {
	f, err := os.Open(fnm)
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	data, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	return data, npy.Shape
}

func (s *pipelineSuite) TestPipeline(c *check.C) {
	tmpdir := c.MkDir()
	var stdout bytes.Buffer
	code := (&simulateCmd{}).RunCommand("kinship simulate", []string{
		"-rows", "60", "-cols", "300", "-populations", "3", "-fst", "0.2",
		"-causal", "30", "-missing-rate", "0.01", "-reference-fraction", "0.75",
		"-output-dir", tmpdir + "/sim",
	}, nil, &stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, tmpdir+"/sim/genotypes.npy\n")

	stdout.Reset()
	code = (&pcaCmd{}).RunCommand("kinship pca", []string{
		"-i", tmpdir + "/sim/genotypes.npy",
		"-samples", tmpdir + "/sim/samples.csv",
		"-components", "3",
		"-block-size", "64",
		"-threads", "2",
		"-output-dir", tmpdir + "/pca",
	}, nil, &stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	scores, shape := readNumpyFloat64(c, tmpdir+"/pca/pca.npy")
	c.Check(shape, check.DeepEquals, []int{60, 3})
	c.Check(scores, check.HasLen, 180)
	values, shape := readNumpyFloat64(c, tmpdir+"/pca/eigenvalues.npy")
	c.Check(shape, check.DeepEquals, []int{3, 1})
	c.Check(values[0] >= values[1] && values[1] >= values[2], check.Equals, true)
	samples, err := loadSampleInfo(tmpdir + "/pca/samples.csv")
	c.Assert(err, check.IsNil)
	c.Assert(samples, check.HasLen, 60)
	c.Check(samples[0].pcaComponents, check.HasLen, 3)

	stdout.Reset()
	code = (&gblupCmd{}).RunCommand("kinship gblup", []string{
		"-i", tmpdir + "/sim/genotypes.npy",
		"-samples", tmpdir + "/sim/samples.csv",
		"-components", "0",
		"-output-dir", tmpdir + "/gblup",
	}, nil, &stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	predictions, shape := readNumpyFloat64(c, tmpdir+"/gblup/predictions.npy")
	c.Check(shape, check.DeepEquals, []int{15, 1})
	c.Check(predictions, check.HasLen, 15)
	csv, err := os.ReadFile(tmpdir + "/gblup/predictions.csv")
	c.Assert(err, check.IsNil)
	c.Check(strings.Count(string(csv), "\n"), check.Equals, 16)

	stdout.Reset()
	code = (&assocCmd{}).RunCommand("kinship assoc", []string{
		"-i", tmpdir + "/sim/genotypes.npy",
		"-samples", tmpdir + "/pca/samples.csv",
		"-block-size", "50",
		"-threads", "4",
		"-output-dir", tmpdir + "/assoc",
	}, nil, &stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	pvalues, shape := readNumpyFloat64(c, tmpdir+"/assoc/assoc.npy")
	c.Check(shape, check.DeepEquals, []int{300, 1})
	for _, p := range pvalues {
		c.Check(p >= 0 && p <= 1, check.Equals, true, check.Commentf("p=%v", p))
	}

	code = (&pcaDirect{}).RunCommand("kinship pca-direct", []string{
		"-i", tmpdir + "/sim/genotypes.npy",
		"-components", "2",
		"-o", tmpdir + "/pca-direct.npy",
	}, nil, &stdout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	_, shape = readNumpyFloat64(c, tmpdir+"/pca-direct.npy")
	c.Check(shape, check.DeepEquals, []int{60, 2})
}

func (s *pipelineSuite) TestKernelRawInput(c *check.C) {
	tmpdir := c.MkDir()
	code := (&simulateCmd{}).RunCommand("kinship simulate", []string{
		"-rows", "20", "-cols", "100", "-format", "bin", "-output-dir", tmpdir,
	}, nil, &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	code = (&kernelCmd{}).RunCommand("kinship kernel", []string{
		"-i", tmpdir + "/genotypes.bin", "-rows", "20", "-cols", "100",
		"-samples", tmpdir + "/samples.csv",
		"-center",
		"-output-dir", tmpdir + "/kernel",
	}, nil, &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	ref, shape := readNumpyFloat64(c, tmpdir+"/kernel/kernel-ref.npy")
	c.Check(shape, check.DeepEquals, []int{16, 16})
	for i := 0; i < 16; i++ {
		for j := 0; j < 16; j++ {
			c.Check(ref[i*16+j], check.Equals, ref[j*16+i])
		}
	}
	_, shape = readNumpyFloat64(c, tmpdir+"/kernel/kernel-query.npy")
	c.Check(shape, check.DeepEquals, []int{4, 16})
}

func (s *pipelineSuite) TestConfigFile(c *check.C) {
	tmpdir := c.MkDir()
	err := os.WriteFile(tmpdir+"/config.toml", []byte(`
input = "genotypes.npy"
block-size = 17
threads = 3
components = 2
`), 0666)
	c.Assert(err, check.IsNil)

	var ka kernelArgs
	var ca commonArgs
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	ka.Flags(flags)
	ka.EigenFlags(flags)
	ca.Flags(flags)
	err = ca.Parse(flags, []string{"-config", tmpdir + "/config.toml", "-threads", "5"}, &ka)
	c.Assert(err, check.IsNil)
	c.Check(ka.Input, check.Equals, "genotypes.npy")
	c.Check(ka.BlockSize, check.Equals, 17)
	c.Check(ka.Threads, check.Equals, 5)
	c.Check(ka.Components, check.Equals, 2)
	c.Check(ka.Threshold, check.Equals, DefaultEigenThreshold)

	err = os.WriteFile(tmpdir+"/bad.toml", []byte("bogus = 1\n"), 0666)
	c.Assert(err, check.IsNil)
	code := (&kernelCmd{}).RunCommand("kinship kernel", []string{"-config", tmpdir + "/bad.toml"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(code, check.Equals, 1)
}

func (s *pipelineSuite) TestUsageErrors(c *check.C) {
	var stderr bytes.Buffer
	c.Check((&kernelCmd{}).RunCommand("kinship kernel", []string{"-bogus"}, nil, &bytes.Buffer{}, &stderr), check.Equals, 2)
	c.Check((&kernelCmd{}).RunCommand("kinship kernel", []string{}, nil, &bytes.Buffer{}, &stderr), check.Equals, 2)
	c.Check((&kernelCmd{}).RunCommand("kinship kernel", []string{"-i", "x.npy", "extra"}, nil, &bytes.Buffer{}, &stderr), check.Equals, 2)
	c.Check((&pcaCmd{}).RunCommand("kinship pca", []string{"-help"}, nil, &bytes.Buffer{}, &stderr), check.Equals, 0)
	c.Check((&gblupCmd{}).RunCommand("kinship gblup", []string{"-i", "x.npy"}, nil, &bytes.Buffer{}, &stderr), check.Equals, 2)
	c.Check((&kernelCmd{}).RunCommand("kinship kernel", []string{"-i", c.MkDir() + "/missing.npy"}, nil, &bytes.Buffer{}, &stderr), check.Equals, 1)
}

func (s *pipelineSuite) TestGBLUPRequiresQuery(c *check.C) {
	tmpdir := c.MkDir()
	code := (&simulateCmd{}).RunCommand("kinship simulate", []string{
		"-rows", "10", "-cols", "30", "-reference-fraction", "1", "-output-dir", tmpdir,
	}, nil, &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	var stderr bytes.Buffer
	code = (&gblupCmd{}).RunCommand("kinship gblup", []string{
		"-i", tmpdir + "/genotypes.npy", "-samples", tmpdir + "/samples.csv", "-output-dir", tmpdir + "/out",
	}, nil, &bytes.Buffer{}, &stderr)
	c.Check(code, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*configuration error: gBLUP requires a query set.*`)
}
