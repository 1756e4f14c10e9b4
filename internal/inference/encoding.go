package inference

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrEmptyVocabulary   = errors.New("encoder vocabulary is empty")
	ErrNoTrainingRows    = errors.New("no training rows")
)

// LabelEncoder maps category strings to the integer codes assigned at
// training time. Classes is sorted, and a category's code is its index.
// Fallback is the code used for a category never seen during training.
type LabelEncoder struct {
	Classes  []string `json:"classes"`
	Fallback int      `json:"fallback"`
}

// Encode returns the trained code for v. ok is false when v was not in the
// training vocabulary, in which case the fallback code is returned.
func (e *LabelEncoder) Encode(v string) (code int, ok bool) {
	i := sort.SearchStrings(e.Classes, v)
	if i < len(e.Classes) && e.Classes[i] == v {
		return i, true
	}
	return e.Fallback, false
}

// Decode returns the category for a trained code.
func (e *LabelEncoder) Decode(code int) (string, bool) {
	if code < 0 || code >= len(e.Classes) {
		return "", false
	}
	return e.Classes[code], true
}

func (e *LabelEncoder) validate() error {
	if len(e.Classes) == 0 {
		return ErrEmptyVocabulary
	}
	for i := 1; i < len(e.Classes); i++ {
		if e.Classes[i-1] >= e.Classes[i] {
			return fmt.Errorf("vocabulary not strictly sorted at %q", e.Classes[i])
		}
	}
	if e.Fallback < 0 || e.Fallback >= len(e.Classes) {
		return fmt.Errorf("fallback code %d outside vocabulary of %d", e.Fallback, len(e.Classes))
	}
	return nil
}

// FitLabelEncoder builds an encoder from training values. The fallback code
// is the most frequent class (lowest code wins ties).
func FitLabelEncoder(values []string) (*LabelEncoder, error) {
	if len(values) == 0 {
		return nil, ErrEmptyVocabulary
	}
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	classes := make([]string, 0, len(counts))
	for v := range counts {
		classes = append(classes, v)
	}
	sort.Strings(classes)

	fallback, best := 0, -1
	for i, c := range classes {
		if counts[c] > best {
			fallback, best = i, counts[c]
		}
	}
	return &LabelEncoder{Classes: classes, Fallback: fallback}, nil
}

// StandardScaler centres and scales each column: (x - mean) / scale.
// A zero scale leaves the centred value unscaled.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform returns a scaled copy of x.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) || len(x) != len(s.Scale) {
		return nil, fmt.Errorf("%w: scaler fitted on %d features, got %d", ErrDimensionMismatch, len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

func (s *StandardScaler) validate(n int) error {
	if len(s.Mean) != n || len(s.Scale) != n {
		return fmt.Errorf("%w: scaler has %d means and %d scales, want %d", ErrDimensionMismatch, len(s.Mean), len(s.Scale), n)
	}
	for i := range s.Mean {
		if math.IsNaN(s.Mean[i]) || math.IsNaN(s.Scale[i]) || s.Scale[i] < 0 {
			return fmt.Errorf("scaler column %d has invalid parameters", i)
		}
	}
	return nil
}

// FitStandardScaler computes per-column mean and population standard
// deviation over rows.
func FitStandardScaler(rows [][]float64) (*StandardScaler, error) {
	if len(rows) == 0 {
		return nil, ErrNoTrainingRows
	}
	n := len(rows[0])
	mean := make([]float64, n)
	for _, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("%w: ragged training rows", ErrDimensionMismatch)
		}
		for i, v := range r {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(rows))
	}

	scale := make([]float64, n)
	for _, r := range rows {
		for i, v := range r {
			d := v - mean[i]
			scale[i] += d * d
		}
	}
	for i := range scale {
		scale[i] = math.Sqrt(scale[i] / float64(len(rows)))
		if scale[i] == 0 {
			scale[i] = 1
		}
	}
	return &StandardScaler{Mean: mean, Scale: scale}, nil
}
