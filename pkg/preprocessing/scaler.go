// Package preprocessing provides feature scaling applied before detection.
package preprocessing

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler standardizes features to zero mean and unit variance.
// Fields are exported so the fitted scaler can be persisted with gob.
type StandardScaler struct {
	Mean   []float64
	Scale  []float64
	Fitted bool
}

// NewStandardScaler creates an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-column mean and population standard deviation.
// Constant columns get a scale of 1 so they transform to zero.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return errors.New("cannot fit scaler on empty data")
	}

	nFeatures := len(data[0])
	mean := make([]float64, nFeatures)
	for i, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(data))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, nFeatures)
	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] < 10*epsilon*math.Max(1, math.Abs(mean[j])) {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	s.Fitted = true
	return nil
}

// epsilon is float64 machine epsilon.
const epsilon = 2.220446049250313e-16

// Transform standardizes data with the fitted statistics.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	if !s.Fitted {
		return nil, errors.New("scaler not fitted")
	}

	out := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d has %d features, scaler expects %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// FitTransform fits the scaler and transforms the same data.
func (s *StandardScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data)
}

// NFeatures returns the number of columns the scaler was fitted on.
func (s *StandardScaler) NFeatures() int {
	return len(s.Mean)
}
