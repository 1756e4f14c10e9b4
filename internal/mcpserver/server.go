package mcpserver

import (
	"fmt"
	"log/slog"

	"github.com/crimecast/crimecast/internal/config"
	"github.com/crimecast/crimecast/internal/inference"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all CrimeCast tools registered.
func NewMCPServer(p Predictor) *server.MCPServer {
	s := server.NewMCPServer("crimecast", Version)
	h := NewHandlers(p)

	s.AddTool(ToolPredictArrestRisk, h.HandlePredictArrestRisk)
	s.AddTool(ToolSweepRiskFactor, h.HandleSweepRiskFactor)
	s.AddTool(ToolDeriveTimeFeatures, h.HandleDeriveTimeFeatures)
	s.AddTool(ToolGetModelInfo, h.HandleGetModelInfo)

	return s
}

// LoadAdapter builds the inference adapter from the configured artifacts.
func LoadAdapter(cfg *config.Config, logger *slog.Logger) (*inference.Adapter, error) {
	if !cfg.HasModel() {
		return nil, fmt.Errorf("MODEL_BUNDLE_PATH or MODEL_PATH is required")
	}
	return inference.LoadAdapter(inference.ArtifactPaths{
		Bundle:   cfg.ModelBundlePath,
		Model:    cfg.ModelPath,
		Scaler:   cfg.ScalerPath,
		Encoders: cfg.EncodersPath,
	},
		inference.WithThresholds(cfg.RiskThresholds()),
		inference.WithLogger(logger),
	)
}
