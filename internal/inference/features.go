// Package inference replays training-time preprocessing for a single feature
// record and runs it through a pre-fitted arrest classifier.
//
// The model contract is positional: the classifier, scaler and encoders were
// fitted on a matrix whose columns follow FeatureOrder exactly. The order is
// fixed data here, never inferred from the input record, because a permuted
// vector produces wrong predictions without raising any error.
//
// Soft input problems (missing features, unseen categories, non-numeric
// values) degrade to deterministic defaults and are reported as warnings.
// Failures inside scaling or the model are fatal for the request and come
// back as *InferenceError.
package inference

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Feature names, in the column order the model was trained on.
const (
	FeatureLatitude      = "Latitude"
	FeatureLongitude     = "Longitude"
	FeatureBeat          = "Beat"
	FeatureDistrict      = "District"
	FeatureWard          = "Ward"
	FeatureCommunityArea = "Community Area"
	FeatureHour          = "Hour"
	FeatureDayOfWeek     = "DayOfWeek"
	FeatureMonth         = "Month"
	FeatureYear          = "Year"
	FeatureLocation      = "Location_Description_Clean"
	FeatureTimeOfDay     = "TimeOfDay"
	FeatureSeason        = "Season"
)

// NumFeatures is the width of every vector the model sees.
const NumFeatures = 13

var featureOrder = [NumFeatures]string{
	FeatureLatitude, FeatureLongitude, FeatureBeat, FeatureDistrict, FeatureWard,
	FeatureCommunityArea, FeatureHour, FeatureDayOfWeek, FeatureMonth, FeatureYear,
	FeatureLocation, FeatureTimeOfDay, FeatureSeason,
}

var categoricalFeatures = map[string]bool{
	FeatureLocation:  true,
	FeatureTimeOfDay: true,
	FeatureSeason:    true,
}

// FeatureOrder returns a copy of the fixed training column order.
func FeatureOrder() []string {
	out := make([]string, NumFeatures)
	copy(out, featureOrder[:])
	return out
}

// CategoricalFeatures returns the categorical feature names in column order.
func CategoricalFeatures() []string {
	var out []string
	for _, f := range featureOrder {
		if categoricalFeatures[f] {
			out = append(out, f)
		}
	}
	return out
}

// IsCategorical reports whether name is one of the label-encoded features.
func IsCategorical(name string) bool {
	return categoricalFeatures[name]
}

func featureIndex(name string) int {
	for i, f := range featureOrder {
		if f == name {
			return i
		}
	}
	return -1
}

// Record is one raw prediction request: feature name to numeric or string value.
type Record map[string]any

// Time-of-day buckets.
const (
	Morning   = "Morning"
	Afternoon = "Afternoon"
	Evening   = "Evening"
	Night     = "Night"
)

// Seasons.
const (
	Winter = "Winter"
	Spring = "Spring"
	Summer = "Summer"
	Fall   = "Fall"
)

// TimeOfDay buckets an hour (0-23) the same way the training data was labelled.
func TimeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return Morning
	case hour >= 12 && hour < 17:
		return Afternoon
	case hour >= 17 && hour < 21:
		return Evening
	default:
		return Night
	}
}

// Season maps a calendar month (1-12) to its meteorological season.
func Season(month int) string {
	switch month {
	case 12, 1, 2:
		return Winter
	case 3, 4, 5:
		return Spring
	case 6, 7, 8:
		return Summer
	default:
		return Fall
	}
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayOfWeekIndex converts a weekday name to the training encoding (Monday = 0).
func DayOfWeekIndex(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, d := range weekdays {
		if d == name || d[:3] == name {
			return i, true
		}
	}
	return 0, false
}

// WithDerived returns a copy of r with TimeOfDay and Season filled in from
// Hour and Month when the caller left them out. A DayOfWeek given as a
// weekday name is converted to its index.
func (r Record) WithDerived() Record {
	out := make(Record, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	if _, ok := out[FeatureTimeOfDay]; !ok {
		if h, ok := toFloat(out[FeatureHour]); ok {
			out[FeatureTimeOfDay] = TimeOfDay(int(h))
		}
	}
	if _, ok := out[FeatureSeason]; !ok {
		if m, ok := toFloat(out[FeatureMonth]); ok {
			out[FeatureSeason] = Season(int(m))
		}
	}
	if s, ok := out[FeatureDayOfWeek].(string); ok {
		if _, numeric := toFloat(s); !numeric {
			if idx, ok := DayOfWeekIndex(s); ok {
				out[FeatureDayOfWeek] = idx
			}
		}
	}
	return out
}

// toFloat coerces a raw record value to float64. NaN and infinities count as
// non-numeric.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
