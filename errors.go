// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package kinship

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned for invalid parameters (block size,
	// rank, missing query set). It is always reported before any
	// genotype data is read.
	ErrConfig = errors.New("configuration error")

	// ErrData is returned for malformed input: wrong block shape
	// from a store, missing or non-finite phenotypes, bad
	// sample lists.
	ErrData = errors.New("data error")

	// ErrNumerical is returned when the data/threshold combination
	// leaves nothing to work with, e.g., no eigenvalue survives
	// truncation.
	ErrNumerical = errors.New("numerical error")

	// ErrStoreIO matches any *StoreReadError.
	ErrStoreIO = errors.New("genotype store I/O error")
)

// StoreReadError is returned when a GenotypeStore fails to deliver
// the locus range [Start,End).
//
// The underlying store error can be accessed via errors.Unwrap.
type StoreReadError struct {
	Start int
	End   int
	cause error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("%s: loci [%d,%d): %s", ErrStoreIO, e.Start, e.End, e.cause)
}

func (e *StoreReadError) Unwrap() error { return e.cause }

func (e *StoreReadError) Is(target error) bool { return target == ErrStoreIO }

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func dataErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

func numericalErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNumerical, fmt.Sprintf(format, args...))
}
