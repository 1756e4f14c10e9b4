package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		p    float64
		want Level
	}{
		{0, LevelLow},
		{0.1, LevelLow},
		{0.2999, LevelLow},
		{0.3, LevelMedium},
		{0.55, LevelMedium},
		{0.6999, LevelMedium},
		{0.7, LevelHigh},
		{0.95, LevelHigh},
		{1, LevelHigh},
	}

	for _, tt := range tests {
		if got := Classify(tt.p); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestThresholds_Custom(t *testing.T) {
	th := Thresholds{High: 0.8, Medium: 0.4}
	assert.Equal(t, LevelLow, th.Classify(0.35))
	assert.Equal(t, LevelMedium, th.Classify(0.4))
	assert.Equal(t, LevelMedium, th.Classify(0.75))
	assert.Equal(t, LevelHigh, th.Classify(0.8))
}

func TestThresholds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		th      Thresholds
		wantErr bool
	}{
		{"defaults", DefaultThresholds(), false},
		{"high equals one", Thresholds{High: 1, Medium: 0.5}, false},
		{"medium zero", Thresholds{High: 0.7, Medium: 0}, true},
		{"inverted", Thresholds{High: 0.3, Medium: 0.7}, true},
		{"equal", Thresholds{High: 0.5, Medium: 0.5}, true},
		{"high above one", Thresholds{High: 1.2, Medium: 0.3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidThresholds)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
