package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/crimecast/crimecast/internal/logging"
	"github.com/crimecast/crimecast/internal/metrics"
	"github.com/crimecast/crimecast/internal/risk"
	"github.com/crimecast/crimecast/internal/traces"
	"go.opentelemetry.io/otel/codes"
)

// WarningKind classifies a soft preprocessing problem.
type WarningKind string

const (
	WarnMissingFeature   WarningKind = "missing_feature"
	WarnUnseenCategory   WarningKind = "unseen_category"
	WarnNonNumericValue  WarningKind = "non_numeric_value"
	WarnDecisionMismatch WarningKind = "decision_mismatch"
)

// Warning records a recovered input problem. The request still succeeds.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Feature string      `json:"feature,omitempty"`
	Message string      `json:"message"`
}

// Result is the outcome of one prediction.
type Result struct {
	Prediction   int        `json:"prediction"`
	Probability  float64    `json:"probability"`
	RiskLevel    risk.Level `json:"risk_level"`
	FeatureOrder []string   `json:"feature_order"`
	Vector       []float64  `json:"vector"`
	Warnings     []Warning  `json:"warnings,omitempty"`
	ModelVersion string     `json:"model_version,omitempty"`
}

// InferenceError is a fatal failure while scaling or scoring a record.
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Inference stages reported in InferenceError.
const (
	StageScale = "scale"
	StageModel = "model"
)

var ErrInvalidProbability = errors.New("probability outside [0,1]")

// Adapter holds the fitted artifacts. It is read-only after New returns
// and safe for concurrent use.
type Adapter struct {
	model      Classifier
	scaler     *StandardScaler
	encoders   map[string]*LabelEncoder
	thresholds risk.Thresholds
	version    string
	meta       *Metadata
	logger     *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithScaler applies s to every vector before scoring.
func WithScaler(s *StandardScaler) Option {
	return func(a *Adapter) { a.scaler = s }
}

// WithEncoders sets the categorical encoders, keyed by feature name.
func WithEncoders(enc map[string]*LabelEncoder) Option {
	return func(a *Adapter) {
		a.encoders = make(map[string]*LabelEncoder, len(enc))
		for k, v := range enc {
			a.encoders[k] = v
		}
	}
}

// WithThresholds overrides the canonical risk tiers.
func WithThresholds(t risk.Thresholds) Option {
	return func(a *Adapter) { a.thresholds = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

func WithModelVersion(v string) Option {
	return func(a *Adapter) { a.version = v }
}

// New builds an adapter around a fitted classifier.
func New(model Classifier, opts ...Option) (*Adapter, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil classifier", ErrInvalidModel)
	}
	a := &Adapter{
		model:      model,
		thresholds: risk.DefaultThresholds(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.thresholds.Validate(); err != nil {
		return nil, err
	}
	for name, enc := range a.encoders {
		if !IsCategorical(name) {
			return nil, fmt.Errorf("%w: encoder for non-categorical feature %q", ErrBundleInvalid, name)
		}
		if err := enc.validate(); err != nil {
			return nil, fmt.Errorf("%w: encoder %q: %w", ErrBundleInvalid, name, err)
		}
	}
	if a.scaler != nil {
		if err := a.scaler.validate(NumFeatures); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBundleInvalid, err)
		}
	}
	return a, nil
}

// NewFromBundle builds an adapter from a validated bundle.
func NewFromBundle(b *Bundle, opts ...Option) (*Adapter, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	model, err := b.Classifier()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundleInvalid, err)
	}
	base := []Option{WithEncoders(b.Encoders), WithModelVersion(b.ModelVersion)}
	if b.Scaler != nil {
		base = append(base, WithScaler(b.Scaler))
	}
	a, err := New(model, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	meta := b.Metadata()
	a.meta = &meta
	return a, nil
}

// Metadata describes the loaded bundle; ok is false for adapters built
// directly from a classifier.
func (a *Adapter) Metadata() (Metadata, bool) {
	if a.meta == nil {
		return Metadata{}, false
	}
	return *a.meta, true
}

// Thresholds returns the risk tier bounds in use.
func (a *Adapter) Thresholds() risk.Thresholds {
	return a.thresholds
}

// Encode builds the ordered, unscaled feature vector for rec.
func (a *Adapter) Encode(rec Record) ([]float64, []Warning) {
	vec := make([]float64, NumFeatures)
	var warnings []Warning
	for i, name := range featureOrder {
		raw, present := rec[name]
		if !present || raw == nil {
			warnings = append(warnings, Warning{
				Kind:    WarnMissingFeature,
				Feature: name,
				Message: fmt.Sprintf("missing feature %q defaulted to 0", name),
			})
			continue
		}
		if enc, ok := a.encoders[name]; ok {
			s, isString := raw.(string)
			if !isString {
				s = fmt.Sprint(raw)
			}
			code, known := enc.Encode(s)
			if !known {
				warnings = append(warnings, Warning{
					Kind:    WarnUnseenCategory,
					Feature: name,
					Message: fmt.Sprintf("unseen category %q for %q encoded as %d", s, name, code),
				})
			}
			vec[i] = float64(code)
			continue
		}
		f, ok := toFloat(raw)
		if !ok {
			warnings = append(warnings, Warning{
				Kind:    WarnNonNumericValue,
				Feature: name,
				Message: fmt.Sprintf("non-numeric value %v for %q defaulted to 0", raw, name),
			})
			continue
		}
		vec[i] = f
	}
	return vec, warnings
}

// Predict encodes rec, scales it and scores it. Soft input problems are
// returned as warnings on the result; scaling or model failures return
// *InferenceError.
func (a *Adapter) Predict(ctx context.Context, rec Record) (result *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "inference.Predict", traces.ModelVersion(a.version))
	defer span.End()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = &InferenceError{Stage: StageModel, Err: fmt.Errorf("panic: %v", r)}
			result = nil
		}
		metrics.PredictionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.PredictionsTotal.WithLabelValues("error", "").Inc()
			logging.L(ctx).Error("prediction failed", "error", err)
			return
		}
		span.SetAttributes(traces.RiskLevel(string(result.RiskLevel)), traces.WarningCount(len(result.Warnings)))
		metrics.PredictionsTotal.WithLabelValues("ok", string(result.RiskLevel)).Inc()
		for _, w := range result.Warnings {
			metrics.PredictionWarningsTotal.WithLabelValues(string(w.Kind)).Inc()
		}
	}()

	vec, warnings := a.Encode(rec)
	input := vec
	if a.scaler != nil {
		input, err = a.scaler.Transform(vec)
		if err != nil {
			return nil, &InferenceError{Stage: StageScale, Err: err}
		}
	}

	p, err := a.model.PredictProba(input)
	if err != nil {
		return nil, &InferenceError{Stage: StageModel, Err: err}
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, &InferenceError{Stage: StageModel, Err: fmt.Errorf("%w: %v", ErrInvalidProbability, p)}
	}
	label, err := a.model.Predict(input)
	if err != nil {
		return nil, &InferenceError{Stage: StageModel, Err: err}
	}

	threshold := decisionThreshold(a.model)
	if (label == 1 && p <= threshold) || (label == 0 && p > threshold) {
		w := Warning{
			Kind:    WarnDecisionMismatch,
			Message: fmt.Sprintf("label %d disagrees with probability %.4f at threshold %.2f", label, p, threshold),
		}
		warnings = append(warnings, w)
		logging.L(ctx).Warn("classifier decision mismatch", "label", label, "probability", p, "threshold", threshold)
	}
	for _, w := range warnings {
		if w.Kind != WarnDecisionMismatch {
			a.logger.Debug("prediction input degraded", "kind", w.Kind, "feature", w.Feature)
		}
	}

	return &Result{
		Prediction:   label,
		Probability:  p,
		RiskLevel:    a.thresholds.Classify(p),
		FeatureOrder: FeatureOrder(),
		Vector:       input,
		Warnings:     warnings,
		ModelVersion: a.version,
	}, nil
}
