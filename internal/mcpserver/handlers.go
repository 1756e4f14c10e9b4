package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/crimecast/crimecast/internal/inference"
	"github.com/crimecast/crimecast/internal/risk"
	"github.com/mark3labs/mcp-go/mcp"
)

// Predictor is the part of the inference adapter the tools need.
type Predictor interface {
	Predict(ctx context.Context, rec inference.Record) (*inference.Result, error)
	Sweep(ctx context.Context, base inference.Record, feature string, values []any) (*inference.SweepResult, error)
	Metadata() (inference.Metadata, bool)
	Thresholds() risk.Thresholds
}

var _ Predictor = (*inference.Adapter)(nil)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	predictor Predictor
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(p Predictor) *Handlers {
	return &Handlers{predictor: p}
}

// HandlePredictArrestRisk scores one incident record.
func (h *Handlers) HandlePredictArrestRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["features"].(map[string]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("features is required and must be an object"), nil
	}

	rec := inference.Record(raw)
	if req.GetBool("derive", true) {
		rec = rec.WithDerived()
	}

	result, err := h.predictor.Predict(ctx, rec)
	if err != nil {
		var ie *inference.InferenceError
		if errors.As(err, &ie) {
			return mcp.NewToolResultError(fmt.Sprintf("Prediction failed: %s", ie.Error())), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Prediction failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatResult(result)), nil
}

// HandleSweepRiskFactor varies one feature of a baseline incident.
func (h *Handlers) HandleSweepRiskFactor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	raw, ok := args["features"].(map[string]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("features is required and must be an object"), nil
	}
	feature := req.GetString("feature", "")
	if feature == "" {
		return mcp.NewToolResultError("feature is required"), nil
	}
	var values []any
	if v, present := args["values"]; present && v != nil {
		values, ok = v.([]any)
		if !ok {
			return mcp.NewToolResultError("values must be an array"), nil
		}
	}

	rec := inference.Record(raw)
	if req.GetBool("derive", true) {
		rec = rec.WithDerived()
	}

	result, err := h.predictor.Sweep(ctx, rec, feature, values)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sweep failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSweep(result)), nil
}

// HandleDeriveTimeFeatures maps hour and month to their training labels.
func (h *Handlers) HandleDeriveTimeFeatures(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if _, ok := args["hour"]; !ok {
		return mcp.NewToolResultError("hour is required"), nil
	}
	if _, ok := args["month"]; !ok {
		return mcp.NewToolResultError("month is required"), nil
	}

	hour := req.GetInt("hour", -1)
	if hour < 0 || hour > 23 {
		return mcp.NewToolResultError("hour must be between 0 and 23"), nil
	}
	month := req.GetInt("month", 0)
	if month < 1 || month > 12 {
		return mcp.NewToolResultError("month must be between 1 and 12"), nil
	}

	out := map[string]any{
		inference.FeatureHour:      hour,
		inference.FeatureMonth:     month,
		inference.FeatureTimeOfDay: inference.TimeOfDay(hour),
		inference.FeatureSeason:    inference.Season(month),
	}
	if day := req.GetString("day_of_week", ""); day != "" {
		idx, ok := inference.DayOfWeekIndex(day)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown weekday %q", day)), nil
		}
		out[inference.FeatureDayOfWeek] = idx
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode features: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// HandleGetModelInfo describes the loaded model.
func (h *Handlers) HandleGetModelInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t := h.predictor.Thresholds()

	var sb strings.Builder
	sb.WriteString("Arrest model:\n")
	if meta, ok := h.predictor.Metadata(); ok {
		fmt.Fprintf(&sb, "  Version: %s\n", meta.ModelVersion)
		fmt.Fprintf(&sb, "  Kind: %s\n", meta.ModelKind)
		fmt.Fprintf(&sb, "  Scaled: %t\n", meta.Scaled)
		if len(meta.Encoded) > 0 {
			fmt.Fprintf(&sb, "  Encoded features: %s\n", strings.Join(meta.Encoded, ", "))
		}
	} else {
		sb.WriteString("  Version: unversioned\n")
	}
	fmt.Fprintf(&sb, "  Feature order: %s\n", strings.Join(inference.FeatureOrder(), ", "))
	fmt.Fprintf(&sb, "  Risk tiers: Low < %.2f <= Medium < %.2f <= High\n", t.Medium, t.High)

	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatResult(r *inference.Result) string {
	var sb strings.Builder
	outcome := "no arrest"
	if r.Prediction == 1 {
		outcome = "arrest"
	}
	fmt.Fprintf(&sb, "Prediction: %s\n", outcome)
	fmt.Fprintf(&sb, "Arrest probability: %.1f%%\n", r.Probability*100)
	fmt.Fprintf(&sb, "Risk level: %s\n", r.RiskLevel)
	if r.ModelVersion != "" {
		fmt.Fprintf(&sb, "Model version: %s\n", r.ModelVersion)
	}
	if len(r.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&sb, "  - %s\n", w.Message)
		}
	}
	return sb.String()
}

func formatSweep(r *inference.SweepResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Arrest probability by %s:\n", r.Feature)
	for _, pt := range r.Points {
		fmt.Fprintf(&sb, "  %v: %.1f%% (%s)", pt.Value, pt.Probability*100, pt.RiskLevel)
		if len(pt.Warnings) > 0 {
			kinds := make([]string, len(pt.Warnings))
			for i, w := range pt.Warnings {
				kinds[i] = string(w.Kind)
			}
			fmt.Fprintf(&sb, " [%s]", strings.Join(kinds, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
