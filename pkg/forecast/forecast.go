// Package forecast provides time-series forecasters for capacity planning.
package forecast

import (
	"errors"
	"fmt"
)

// Forecaster predicts the next values of a series.
type Forecaster interface {
	// Forecast returns steps predicted values following history.
	Forecast(history []float64, steps int) ([]float64, error)
}

// ErrInsufficientHistory is returned when history is too short to fit.
var ErrInsufficientHistory = errors.New("forecast: insufficient history")

// Names of built-in forecasters accepted by New.
const (
	NameNone = "none"
	NameHolt = "holt"
)

// New returns the forecaster registered under name. "" and "none" return a
// nil Forecaster and no error.
func New(name string) (Forecaster, error) {
	switch name {
	case "", NameNone:
		return nil, nil
	case NameHolt:
		return NewHolt(DefaultAlpha, DefaultBeta), nil
	default:
		return nil, fmt.Errorf("forecast: unknown forecaster %q", name)
	}
}

// Smoothing defaults for Holt.
const (
	DefaultAlpha = 0.5
	DefaultBeta  = 0.3
)

// Holt is double exponential smoothing with an additive trend.
type Holt struct {
	Alpha float64
	Beta  float64
}

// NewHolt creates a Holt forecaster with level and trend smoothing factors.
func NewHolt(alpha, beta float64) *Holt {
	return &Holt{Alpha: alpha, Beta: beta}
}

// Forecast fits level and trend to history and extrapolates steps ahead.
func (h *Holt) Forecast(history []float64, steps int) ([]float64, error) {
	if len(history) < 2 {
		return nil, ErrInsufficientHistory
	}
	if steps <= 0 {
		return nil, fmt.Errorf("forecast: steps must be positive, got %d", steps)
	}
	if h.Alpha <= 0 || h.Alpha > 1 || h.Beta <= 0 || h.Beta > 1 {
		return nil, fmt.Errorf("forecast: smoothing factors must be in (0, 1], got alpha=%v beta=%v", h.Alpha, h.Beta)
	}

	level := history[0]
	trend := history[1] - history[0]
	for _, y := range history[1:] {
		prevLevel := level
		level = h.Alpha*y + (1-h.Alpha)*(level+trend)
		trend = h.Beta*(level-prevLevel) + (1-h.Beta)*trend
	}

	out := make([]float64, steps)
	for i := range out {
		out[i] = level + float64(i+1)*trend
	}
	return out, nil
}
