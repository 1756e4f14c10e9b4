package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the CrimeCast MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolPredictArrestRisk = mcp.NewTool("predict_arrest_risk",
	mcp.WithDescription(
		"Estimate the probability that a reported crime incident results in an arrest. "+
			"Returns the predicted class, the probability, and a Low/Medium/High risk tier. "+
			"Missing or unrecognised features are defaulted and reported as warnings."),
	mcp.WithObject("features",
		mcp.Required(),
		mcp.Description("Incident features keyed by name: Latitude, Longitude, Beat, District, Ward, "+
			"'Community Area', Hour (0-23), DayOfWeek (0=Monday or a weekday name), Month (1-12), Year, "+
			"Location_Description_Clean (e.g. 'STREET'), TimeOfDay, Season")),
	mcp.WithBoolean("derive",
		mcp.Description("Fill TimeOfDay and Season from Hour and Month when they are omitted (default true)")),
)

var ToolDeriveTimeFeatures = mcp.NewTool("derive_time_features",
	mcp.WithDescription(
		"Convert an hour and month into the TimeOfDay and Season labels the model was trained on. "+
			"Optionally converts a weekday name into its DayOfWeek index (Monday = 0)."),
	mcp.WithNumber("hour",
		mcp.Required(),
		mcp.Description("Hour of day, 0-23")),
	mcp.WithNumber("month",
		mcp.Required(),
		mcp.Description("Calendar month, 1-12")),
	mcp.WithString("day_of_week",
		mcp.Description("Weekday name such as 'Tuesday' or 'tue'")),
)

var ToolSweepRiskFactor = mcp.NewTool("sweep_risk_factor",
	mcp.WithDescription(
		"Hold an incident fixed and vary one feature across a list of values, returning the arrest "+
			"probability and risk tier for each value. Use it to see how location type, time of day, "+
			"weekday or season moves the risk."),
	mcp.WithObject("features",
		mcp.Required(),
		mcp.Description("Baseline incident features, same keys as predict_arrest_risk")),
	mcp.WithString("feature",
		mcp.Required(),
		mcp.Description("Feature to vary, e.g. 'Location_Description_Clean', 'TimeOfDay', 'DayOfWeek', 'Season'")),
	mcp.WithArray("values",
		mcp.Description("Values to try. Omit to use the model vocabulary, or the calendar range for Hour, DayOfWeek and Month")),
	mcp.WithBoolean("derive",
		mcp.Description("Fill TimeOfDay and Season in the baseline from Hour and Month when omitted (default true)")),
)

var ToolGetModelInfo = mcp.NewTool("get_model_info",
	mcp.WithDescription(
		"Describe the loaded arrest model: version, kind, feature order, and the risk tier thresholds."),
)
