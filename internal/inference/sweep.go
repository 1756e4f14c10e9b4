package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimecast/crimecast/internal/risk"
	"github.com/crimecast/crimecast/internal/traces"
	"go.opentelemetry.io/otel/attribute"
)

// MaxSweepValues caps how many values one sweep may score.
const MaxSweepValues = 100

var (
	ErrUnknownFeature = errors.New("unknown feature")
	ErrNoSweepValues  = errors.New("no values to sweep")
)

// SweepPoint is the prediction with the swept feature set to Value.
type SweepPoint struct {
	Value       any        `json:"value"`
	Prediction  int        `json:"prediction"`
	Probability float64    `json:"probability"`
	RiskLevel   risk.Level `json:"risk_level"`
	Warnings    []Warning  `json:"warnings,omitempty"`
}

// SweepResult holds one point per swept value, in request order.
type SweepResult struct {
	Feature      string       `json:"feature"`
	Points       []SweepPoint `json:"points"`
	ModelVersion string       `json:"model_version,omitempty"`
}

// SweepValues returns the natural value range of feature: the encoder
// vocabulary for categorical features, and the calendar ranges for
// DayOfWeek, Hour and Month.
func (a *Adapter) SweepValues(feature string) ([]any, bool) {
	if enc, ok := a.encoders[feature]; ok {
		out := make([]any, len(enc.Classes))
		for i, c := range enc.Classes {
			out[i] = c
		}
		return out, true
	}
	switch feature {
	case FeatureDayOfWeek:
		return intRange(0, 6), true
	case FeatureHour:
		return intRange(0, 23), true
	case FeatureMonth:
		return intRange(1, 12), true
	}
	return nil, false
}

func intRange(lo, hi int) []any {
	out := make([]any, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

// Sweep holds base fixed and scores it once per value of feature. With no
// values the feature's SweepValues are used. A weekday name given for
// DayOfWeek is converted to its index; the point keeps the name. The first
// fatal prediction error aborts the sweep.
func (a *Adapter) Sweep(ctx context.Context, base Record, feature string, values []any) (*SweepResult, error) {
	if featureIndex(feature) < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	if len(values) == 0 {
		values, _ = a.SweepValues(feature)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoSweepValues, feature)
	}
	if len(values) > MaxSweepValues {
		return nil, fmt.Errorf("sweep of %d values exceeds limit of %d", len(values), MaxSweepValues)
	}

	ctx, span := traces.StartSpan(ctx, "inference.Sweep",
		attribute.String("sweep.feature", feature),
		attribute.Int("sweep.values", len(values)),
	)
	defer span.End()

	rec := make(Record, len(base)+1)
	for k, v := range base {
		rec[k] = v
	}

	out := &SweepResult{Feature: feature, Points: make([]SweepPoint, 0, len(values)), ModelVersion: a.version}
	for _, v := range values {
		rec[feature] = v
		if s, ok := v.(string); ok && feature == FeatureDayOfWeek {
			if idx, ok := DayOfWeekIndex(s); ok {
				rec[feature] = idx
			}
		}
		res, err := a.Predict(ctx, rec)
		if err != nil {
			return nil, err
		}
		out.Points = append(out.Points, SweepPoint{
			Value:       v,
			Prediction:  res.Prediction,
			Probability: res.Probability,
			RiskLevel:   res.RiskLevel,
			Warnings:    res.Warnings,
		})
	}
	return out, nil
}
