package inference

import (
	"errors"
	"fmt"
	"math"
)

// DefaultDecisionThreshold is the probability above which a binary
// classifier predicts the positive class.
const DefaultDecisionThreshold = 0.5

var ErrInvalidModel = errors.New("invalid model")

// Classifier is a fitted binary classifier over a fixed-width vector.
type Classifier interface {
	// PredictProba returns the probability of the positive class.
	PredictProba(x []float64) (float64, error)
	// Predict returns the class label, 0 or 1.
	Predict(x []float64) (int, error)
}

// DecisionThresholder is implemented by classifiers that expose the
// probability cut-off Predict uses.
type DecisionThresholder interface {
	DecisionThreshold() float64
}

func decisionThreshold(c Classifier) float64 {
	if t, ok := c.(DecisionThresholder); ok {
		return t.DecisionThreshold()
	}
	return DefaultDecisionThreshold
}

// LogisticRegression is a fitted linear model with a sigmoid link.
type LogisticRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Threshold float64   `json:"threshold,omitempty"`
}

func (m *LogisticRegression) PredictProba(x []float64) (float64, error) {
	if len(x) != len(m.Coef) {
		return 0, fmt.Errorf("%w: model expects %d features, got %d", ErrDimensionMismatch, len(m.Coef), len(x))
	}
	z := m.Intercept
	for i, w := range m.Coef {
		z += w * x[i]
	}
	return sigmoid(z), nil
}

func (m *LogisticRegression) Predict(x []float64) (int, error) {
	p, err := m.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if p > m.DecisionThreshold() {
		return 1, nil
	}
	return 0, nil
}

func (m *LogisticRegression) DecisionThreshold() float64 {
	if m.Threshold == 0 {
		return DefaultDecisionThreshold
	}
	return m.Threshold
}

func (m *LogisticRegression) validate(n int) error {
	if len(m.Coef) != n {
		return fmt.Errorf("%w: logistic model has %d coefficients, want %d", ErrDimensionMismatch, len(m.Coef), n)
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// TreeNode is one node of a fitted decision tree. Leaves have Left == -1;
// Value holds the training class weights [negative, positive] at the node.
type TreeNode struct {
	Feature   int        `json:"feature"`
	Threshold float64    `json:"threshold"`
	Left      int        `json:"left"`
	Right     int        `json:"right"`
	Value     [2]float64 `json:"value"`
}

// Tree is a fitted decision tree; node 0 is the root.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

func (t *Tree) proba(x []float64) (float64, error) {
	i := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := t.Nodes[i]
		if n.Left < 0 {
			total := n.Value[0] + n.Value[1]
			if total <= 0 {
				return 0, fmt.Errorf("%w: empty leaf %d", ErrInvalidModel, i)
			}
			return n.Value[1] / total, nil
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return 0, fmt.Errorf("%w: tree walk did not terminate", ErrInvalidModel)
}

func (t *Tree) validate(n int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: empty tree", ErrInvalidModel)
	}
	for i, node := range t.Nodes {
		if node.Left < 0 {
			continue
		}
		if node.Feature < 0 || node.Feature >= n {
			return fmt.Errorf("%w: node %d splits on feature %d", ErrInvalidModel, i, node.Feature)
		}
		if node.Left >= len(t.Nodes) || node.Right < 0 || node.Right >= len(t.Nodes) {
			return fmt.Errorf("%w: node %d has out-of-range children", ErrInvalidModel, i)
		}
	}
	return nil
}

// Forest averages the leaf probabilities of its trees.
type Forest struct {
	NumFeatures int     `json:"numFeatures"`
	Trees       []Tree  `json:"trees"`
	Threshold   float64 `json:"threshold,omitempty"`
}

func (f *Forest) PredictProba(x []float64) (float64, error) {
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("%w: model expects %d features, got %d", ErrDimensionMismatch, f.NumFeatures, len(x))
	}
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("%w: forest has no trees", ErrInvalidModel)
	}
	var sum float64
	for i := range f.Trees {
		p, err := f.Trees[i].proba(x)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(f.Trees)), nil
}

func (f *Forest) Predict(x []float64) (int, error) {
	p, err := f.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if p > f.DecisionThreshold() {
		return 1, nil
	}
	return 0, nil
}

func (f *Forest) DecisionThreshold() float64 {
	if f.Threshold == 0 {
		return DefaultDecisionThreshold
	}
	return f.Threshold
}

func (f *Forest) validate(n int) error {
	if f.NumFeatures != n {
		return fmt.Errorf("%w: forest fitted on %d features, want %d", ErrDimensionMismatch, f.NumFeatures, n)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no trees", ErrInvalidModel)
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(n); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
