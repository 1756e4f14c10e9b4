package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// SchemaVersion is the only bundle layout this package reads.
const SchemaVersion = 1

// Model kinds.
const (
	KindLogistic = "logistic"
	KindForest   = "forest"
)

var ErrBundleInvalid = errors.New("invalid model bundle")

// ModelSpec is the serialized classifier. Exactly one of Logistic or Forest
// is set, matching Kind.
type ModelSpec struct {
	Kind      string              `json:"kind"`
	Threshold float64             `json:"threshold,omitempty"`
	Logistic  *LogisticRegression `json:"logistic,omitempty"`
	Forest    *Forest             `json:"forest,omitempty"`
}

// Bundle is a versioned, checksummed set of artifacts fitted together on
// the same training matrix.
type Bundle struct {
	SchemaVersion int                      `json:"schemaVersion"`
	ModelVersion  string                   `json:"modelVersion"`
	FeatureOrder  []string                 `json:"featureOrder"`
	Model         ModelSpec                `json:"model"`
	Scaler        *StandardScaler          `json:"scaler,omitempty"`
	Encoders      map[string]*LabelEncoder `json:"encoders,omitempty"`
	Checksum      string                   `json:"checksum"`
}

// Metadata is the public description of a loaded bundle.
type Metadata struct {
	SchemaVersion int      `json:"schemaVersion"`
	ModelVersion  string   `json:"modelVersion"`
	ModelKind     string   `json:"modelKind"`
	FeatureOrder  []string `json:"featureOrder"`
	Scaled        bool     `json:"scaled"`
	Encoded       []string `json:"encodedFeatures"`
	Checksum      string   `json:"checksum"`
}

// Metadata summarizes b without exposing model parameters.
func (b *Bundle) Metadata() Metadata {
	var encoded []string
	for _, f := range CategoricalFeatures() {
		if _, ok := b.Encoders[f]; ok {
			encoded = append(encoded, f)
		}
	}
	order := make([]string, len(b.FeatureOrder))
	copy(order, b.FeatureOrder)
	return Metadata{
		SchemaVersion: b.SchemaVersion,
		ModelVersion:  b.ModelVersion,
		ModelKind:     b.Model.Kind,
		FeatureOrder:  order,
		Scaled:        b.Scaler != nil,
		Encoded:       encoded,
		Checksum:      b.Checksum,
	}
}

// ComputeChecksum returns the hex SHA-256 of b's canonical JSON form with
// the checksum field cleared.
func (b *Bundle) ComputeChecksum() (string, error) {
	c := *b
	c.Checksum = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal fills in the schema version, feature order and checksum.
func (b *Bundle) Seal() error {
	if b.SchemaVersion == 0 {
		b.SchemaVersion = SchemaVersion
	}
	if len(b.FeatureOrder) == 0 {
		b.FeatureOrder = FeatureOrder()
	}
	sum, err := b.ComputeChecksum()
	if err != nil {
		return err
	}
	b.Checksum = sum
	return nil
}

// Validate checks the bundle against the fixed feature contract.
func (b *Bundle) Validate() error {
	if err := b.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBundleInvalid, err)
	}
	return nil
}

func (b *Bundle) validate() error {
	if b.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", b.SchemaVersion)
	}
	if len(b.FeatureOrder) != NumFeatures {
		return fmt.Errorf("feature order has %d entries, want %d", len(b.FeatureOrder), NumFeatures)
	}
	for i, f := range b.FeatureOrder {
		if f != featureOrder[i] {
			return fmt.Errorf("feature %d is %q, want %q", i, f, featureOrder[i])
		}
	}
	if _, err := b.Classifier(); err != nil {
		return err
	}
	if b.Scaler != nil {
		if err := b.Scaler.validate(NumFeatures); err != nil {
			return err
		}
	}
	for name, enc := range b.Encoders {
		if !IsCategorical(name) {
			return fmt.Errorf("encoder for non-categorical feature %q", name)
		}
		if enc == nil {
			return fmt.Errorf("encoder %q is null", name)
		}
		if err := enc.validate(); err != nil {
			return fmt.Errorf("encoder %q: %w", name, err)
		}
	}
	return nil
}

// Classifier builds the classifier described by the model section.
func (b *Bundle) Classifier() (Classifier, error) {
	m := b.Model
	if math.IsNaN(m.Threshold) || m.Threshold < 0 || m.Threshold >= 1 {
		return nil, fmt.Errorf("decision threshold %g outside [0,1)", m.Threshold)
	}
	switch m.Kind {
	case KindLogistic:
		if m.Logistic == nil {
			return nil, fmt.Errorf("%w: logistic parameters missing", ErrInvalidModel)
		}
		if err := m.Logistic.validate(NumFeatures); err != nil {
			return nil, err
		}
		lr := *m.Logistic
		if m.Threshold != 0 {
			lr.Threshold = m.Threshold
		}
		return &lr, nil
	case KindForest:
		if m.Forest == nil {
			return nil, fmt.Errorf("%w: forest parameters missing", ErrInvalidModel)
		}
		if err := m.Forest.validate(NumFeatures); err != nil {
			return nil, err
		}
		f := *m.Forest
		if m.Threshold != 0 {
			f.Threshold = m.Threshold
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: unknown model kind %q", ErrInvalidModel, m.Kind)
	}
}

// ParseBundle decodes and validates a bundle, including its checksum.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrBundleInvalid, err)
	}
	if b.Checksum == "" {
		return nil, fmt.Errorf("%w: checksum missing", ErrBundleInvalid)
	}
	sum, err := b.ComputeChecksum()
	if err != nil {
		return nil, fmt.Errorf("%w: checksum: %w", ErrBundleInvalid, err)
	}
	if sum != b.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrBundleInvalid)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadBundle reads a sealed bundle from path.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return ParseBundle(data)
}

// WriteBundle seals b and writes it to path.
func WriteBundle(path string, b *Bundle) error {
	if err := b.Seal(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadArtifacts assembles a bundle from three separately stored files: the
// model section, the scaler and the encoder map. scalerPath and
// encodersPath may be empty. The result is validated and sealed.
func LoadArtifacts(modelPath, scalerPath, encodersPath string) (*Bundle, error) {
	b := &Bundle{
		SchemaVersion: SchemaVersion,
		ModelVersion:  filepath.Base(modelPath),
		FeatureOrder:  FeatureOrder(),
	}
	if err := readJSON(modelPath, &b.Model); err != nil {
		return nil, err
	}
	if scalerPath != "" {
		b.Scaler = &StandardScaler{}
		if err := readJSON(scalerPath, b.Scaler); err != nil {
			return nil, err
		}
	}
	if encodersPath != "" {
		if err := readJSON(encodersPath, &b.Encoders); err != nil {
			return nil, err
		}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := b.Seal(); err != nil {
		return nil, err
	}
	return b, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrBundleInvalid, filepath.Base(path), err)
	}
	return nil
}

// ArtifactPaths names where the fitted artifacts live: either one sealed
// bundle or the separate model, scaler and encoder files.
type ArtifactPaths struct {
	Bundle   string
	Model    string
	Scaler   string
	Encoders string
}

// LoadAdapter reads the artifacts named by p and builds an adapter.
func LoadAdapter(p ArtifactPaths, opts ...Option) (*Adapter, error) {
	var b *Bundle
	var err error
	switch {
	case p.Bundle != "":
		b, err = LoadBundle(p.Bundle)
	case p.Model != "":
		b, err = LoadArtifacts(p.Model, p.Scaler, p.Encoders)
	default:
		return nil, fmt.Errorf("%w: no bundle or model path", ErrBundleInvalid)
	}
	if err != nil {
		return nil, err
	}
	return NewFromBundle(b, opts...)
}
