// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"fmt"
	"io"
	stdlog "log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            stdlog.New(io.Discard, "", 0),
}

// standardize a in place. A constant series becomes all zeros.
func standardize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		if std > 0 {
			a[i] = (x - mean) / std
		} else {
			a[i] = 0
		}
	}
}

// caseControlModel tests loci for association with case/control
// status by logistic regression, adjusting for principal components.
//
// Only reference individuals with known case/control status take
// part.
type caseControlModel struct {
	include []bool // per sample
	data    [][]statmodel.Dtype
	names   []string
	logNull float64
}

func newCaseControlModel(samples []sampleInfo, nPCA int) (*caseControlModel, error) {
	m := &caseControlModel{include: make([]bool, len(samples))}
	var outcome, constants []statmodel.Dtype
	for i, si := range samples {
		if !si.isReference || !(si.isCase || si.isControl) {
			continue
		}
		if len(si.pcaComponents) < nPCA {
			return nil, fmt.Errorf("%w: sample %s has %d principal components, need %d", ErrData, si.id, len(si.pcaComponents), nPCA)
		}
		m.include[i] = true
		if si.isCase {
			outcome = append(outcome, 1)
		} else {
			outcome = append(outcome, 0)
		}
		constants = append(constants, 1)
	}
	if len(outcome) == 0 {
		return nil, fmt.Errorf("%w: no reference samples with case/control status", ErrData)
	}
	m.data = [][]statmodel.Dtype{outcome, constants}
	m.names = []string{"outcome", "constants"}
	for pc := 0; pc < nPCA; pc++ {
		series := make([]statmodel.Dtype, 0, len(outcome))
		for i, si := range samples {
			if m.include[i] {
				series = append(series, si.pcaComponents[pc])
			}
		}
		standardize(series)
		m.data = append(m.data, series)
		m.names = append(m.names, fmt.Sprintf("pc%d", pc+1))
	}
	dataset := statmodel.NewDataset(m.data, m.names)
	model, err := glm.NewGLM(dataset, "outcome", m.names[1:], glmConfig)
	if err != nil {
		return nil, err
	}
	m.logNull = model.Fit().LogLike()
	log.WithFields(log.Fields{
		"samples": len(outcome),
		"pcs":     nPCA,
		"logLike": m.logNull,
	}).Info("fitted covariate-only model")
	return m, nil
}

// Included reports whether sample i takes part in the regression.
func (m *caseControlModel) Included(i int) bool {
	return m.include[i]
}

// Pvalue returns the likelihood ratio test p-value for adding the
// given carrier indicator (one entry per included sample, in sample
// order) to the covariate-only model, or NaN if the model cannot be
// fitted.
func (m *caseControlModel) Pvalue(carrier []bool) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()
	variant := make([]statmodel.Dtype, len(carrier))
	for i, c := range carrier {
		if c {
			variant[i] = 1
		}
	}
	data := append([][]statmodel.Dtype{m.data[0], variant}, m.data[1:]...)
	names := append([]string{"outcome", "variant"}, m.names[1:]...)
	model, err := glm.NewGLM(statmodel.NewDataset(data, names), "outcome", names[1:], glmConfig)
	if err != nil {
		return math.NaN()
	}
	logAlt := model.Fit().LogLike()
	return distuv.ChiSquared{K: 1}.Survival(-2 * (m.logNull - logAlt))
}
