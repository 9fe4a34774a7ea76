// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

type sampleInfo struct {
	id            string
	isReference   bool
	phenotype     float64 // NaN if unknown
	isCase        bool
	isControl     bool
	pcaComponents []float64
}

const sampleInfoHeader = "Index,SampleID,Reference,Phenotype,CaseControl"

// Read samples.csv file with reference/query flags, phenotypes, and
// case/control flags. Any columns after CaseControl are principal
// components from a previous run.
func loadSampleInfo(samplesFilename string) ([]sampleInfo, error) {
	var si []sampleInfo
	f, err := zopen(samplesFilename)
	if err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	lineNum := 0
	for _, csv := range bytes.Split(buf, []byte{'\n'}) {
		lineNum++
		csv = bytes.TrimSuffix(csv, []byte{'\r'})
		if len(csv) == 0 {
			continue
		}
		split := strings.Split(string(csv), ",")
		if len(split) < 4 {
			return nil, fmt.Errorf("%w: %d fields < 4 in %s line %d: %q", ErrData, len(split), samplesFilename, lineNum, csv)
		}
		if split[0] == "Index" && split[1] == "SampleID" && split[2] == "Reference" {
			continue
		}
		idx, err := strconv.Atoi(split[0])
		if err != nil {
			if lineNum == 1 {
				return nil, fmt.Errorf("%w: header does not look right: %q", ErrData, csv)
			}
			return nil, fmt.Errorf("%w: %s line %d: index: %s", ErrData, samplesFilename, lineNum, err)
		}
		if idx != len(si) {
			return nil, fmt.Errorf("%w: %s line %d: index %d out of order", ErrData, samplesFilename, lineNum, idx)
		}
		var isRef bool
		switch split[2] {
		case "1":
			isRef = true
		case "0":
		default:
			return nil, fmt.Errorf("%w: %s line %d: Reference must be 0 or 1, got %q", ErrData, samplesFilename, lineNum, split[2])
		}
		phenotype := math.NaN()
		if s := split[3]; s != "" && s != "NA" {
			phenotype, err = strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: cannot parse phenotype %q: %s", ErrData, samplesFilename, lineNum, s, err)
			}
		}
		var cc string
		if len(split) > 4 {
			cc = split[4]
		}
		var pcaComponents []float64
		if len(split) > 5 {
			for _, s := range split[5:] {
				f, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: %s line %d: cannot parse float %q: %s", ErrData, samplesFilename, lineNum, s, err)
				}
				pcaComponents = append(pcaComponents, f)
			}
		}
		si = append(si, sampleInfo{
			id:            split[1],
			isReference:   isRef,
			phenotype:     phenotype,
			isCase:        cc == "1",
			isControl:     cc == "0",
			pcaComponents: pcaComponents,
		})
	}
	return si, nil
}

func writeSampleInfo(samples []sampleInfo, outputDir string) error {
	fnm := outputDir + "/samples.csv"
	log.Infof("writing sample metadata to %s", fnm)
	f, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	pcaLabels := ""
	if len(samples) > 0 {
		for i := range samples[0].pcaComponents {
			pcaLabels += fmt.Sprintf(",PC%d", i+1)
		}
	}
	fmt.Fprintf(bufw, "%s%s\n", sampleInfoHeader, pcaLabels)
	for i, si := range samples {
		ref := "0"
		if si.isReference {
			ref = "1"
		}
		var pheno, cc string
		if !math.IsNaN(si.phenotype) {
			pheno = strconv.FormatFloat(si.phenotype, 'g', -1, 64)
		}
		if si.isCase {
			cc = "1"
		} else if si.isControl {
			cc = "0"
		}
		var pcavals string
		for _, pcaval := range si.pcaComponents {
			pcavals += fmt.Sprintf(",%f", pcaval)
		}
		fmt.Fprintf(bufw, "%d,%s,%s,%s,%s%s\n", i, si.id, ref, pheno, cc, pcavals)
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}

// samplePartition returns the reference/query partition described by
// the Reference column.
func samplePartition(samples []sampleInfo) *Partition {
	isRef := make([]bool, len(samples))
	for i, si := range samples {
		isRef[i] = si.isReference
	}
	return PartitionFromMask(isRef)
}

// referencePhenotypes returns the phenotypes of the reference
// individuals in partition order. Missing values are returned as NaN
// (ComputeGBLUP rejects them).
func referencePhenotypes(samples []sampleInfo, part *Partition) ([]float64, error) {
	if samples == nil {
		return nil, fmt.Errorf("%w: no sample information, cannot get phenotypes", ErrConfig)
	}
	y := make([]float64, len(part.Reference))
	for i, idx := range part.Reference {
		if idx >= len(samples) {
			return nil, fmt.Errorf("%w: reference individual %d has no sample information", ErrData, idx)
		}
		y[i] = samples[idx].phenotype
	}
	return y, nil
}
