package ml

import (
	"fmt"
	"math"
)

// Scaler holds per-column standardization parameters fit on training data and
// reapplied identically at scoring time.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column mean and population standard deviation.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit scaler: no rows")
	}
	cols := len(rows[0])

	mean := make([]float64, cols)
	for _, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("fit scaler: ragged row (want %d columns, got %d)", cols, len(row))
		}
		for c, v := range row {
			mean[c] += v
		}
	}
	n := float64(len(rows))
	for c := range mean {
		mean[c] /= n
	}

	std := make([]float64, cols)
	for _, row := range rows {
		for c, v := range row {
			d := v - mean[c]
			std[c] += d * d
		}
	}
	for c := range std {
		std[c] = math.Sqrt(std[c] / n)
	}

	return &Scaler{Mean: mean, Std: std}, nil
}

// Transform standardizes rows to zero mean and unit variance. Columns with
// zero variance pass through centered only, so constant training columns
// never divide by zero.
func (s *Scaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for r, row := range rows {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("scaler transform: row has %d columns, scaler fit on %d", len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for c, v := range row {
			div := s.Std[c]
			if div == 0 {
				div = 1
			}
			scaled[c] = (v - s.Mean[c]) / div
		}
		out[r] = scaled
	}
	return out, nil
}

// NumFeatures returns the column count the scaler was fit on.
func (s *Scaler) NumFeatures() int { return len(s.Mean) }
