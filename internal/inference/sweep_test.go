package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/crimecast/crimecast/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// weekdayForest scores later weekdays higher: three stumps on DayOfWeek
// at 1.5, 3.5 and 5.5, each 0.2 below and 0.8 above.
func weekdayForest() *Forest {
	day := featureIndex(FeatureDayOfWeek)
	stump := func(at float64) Tree {
		return Tree{Nodes: []TreeNode{
			{Feature: day, Threshold: at, Left: 1, Right: 2},
			{Left: -1, Right: -1, Value: [2]float64{4, 1}},
			{Left: -1, Right: -1, Value: [2]float64{1, 4}},
		}}
	}
	return &Forest{NumFeatures: NumFeatures, Trees: []Tree{stump(1.5), stump(3.5), stump(5.5)}}
}

func TestSweep_DayOfWeekDefaults(t *testing.T) {
	a := newTestAdapter(t, weekdayForest())

	res, err := a.Sweep(context.Background(), chicagoRecord(), FeatureDayOfWeek, nil)
	require.NoError(t, err)
	require.Len(t, res.Points, 7)
	assert.Equal(t, FeatureDayOfWeek, res.Feature)

	want := []float64{0.2, 0.2, 0.4, 0.4, 0.6, 0.6, 0.8}
	for i, pt := range res.Points {
		assert.Equal(t, i, pt.Value)
		assert.InDelta(t, want[i], pt.Probability, 1e-9, "day %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, pt.Probability, res.Points[i-1].Probability)
		}
	}
	assert.Equal(t, risk.LevelLow, res.Points[0].RiskLevel)
	assert.Equal(t, risk.LevelMedium, res.Points[2].RiskLevel)
	assert.Equal(t, risk.LevelHigh, res.Points[6].RiskLevel)
	assert.Equal(t, 0, res.Points[3].Prediction)
	assert.Equal(t, 1, res.Points[4].Prediction)
}

func TestSweep_WeekdayNames(t *testing.T) {
	a := newTestAdapter(t, weekdayForest())

	res, err := a.Sweep(context.Background(), chicagoRecord(), FeatureDayOfWeek, []any{"Monday", "Sunday"})
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	assert.Equal(t, "Monday", res.Points[0].Value)
	assert.InDelta(t, 0.2, res.Points[0].Probability, 1e-9)
	assert.InDelta(t, 0.8, res.Points[1].Probability, 1e-9)
	assert.Empty(t, res.Points[1].Warnings)
}

func TestSweep_LocationUsesVocabularyAndFlagsUnseen(t *testing.T) {
	a := newTestAdapter(t, &stubModel{p: 0.4})

	res, err := a.Sweep(context.Background(), chicagoRecord(), FeatureLocation, nil)
	require.NoError(t, err)
	require.Len(t, res.Points, 4)
	assert.Equal(t, "APARTMENT", res.Points[0].Value)
	for _, pt := range res.Points {
		assert.Empty(t, pt.Warnings)
	}

	res, err = a.Sweep(context.Background(), chicagoRecord(), FeatureLocation, []any{"STREET", "OTHER"})
	require.NoError(t, err)
	assert.Empty(t, res.Points[0].Warnings)
	assert.Equal(t, []WarningKind{WarnUnseenCategory}, warningKinds(res.Points[1].Warnings))
}

func TestSweep_LeavesBaseUntouched(t *testing.T) {
	a := newTestAdapter(t, &stubModel{p: 0.4})
	base := chicagoRecord()

	_, err := a.Sweep(context.Background(), base, FeatureSeason, []any{"Winter"})
	require.NoError(t, err)
	assert.Equal(t, "Summer", base[FeatureSeason])
}

func TestSweep_Errors(t *testing.T) {
	a := newTestAdapter(t, &stubModel{p: 0.4})
	ctx := context.Background()

	_, err := a.Sweep(ctx, chicagoRecord(), "Weather", []any{1})
	assert.ErrorIs(t, err, ErrUnknownFeature)

	_, err = a.Sweep(ctx, chicagoRecord(), FeatureLatitude, nil)
	assert.ErrorIs(t, err, ErrNoSweepValues)

	_, err = a.Sweep(ctx, chicagoRecord(), FeatureHour, make([]any, MaxSweepValues+1))
	assert.Error(t, err)

	broken := newTestAdapter(t, &stubModel{err: errors.New("boom")})
	_, err = broken.Sweep(ctx, chicagoRecord(), FeatureHour, []any{1, 2})
	var ie *InferenceError
	assert.True(t, errors.As(err, &ie))
}
