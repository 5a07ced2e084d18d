package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/review"
	"github.com/c360studio/semgate/significance"
)

// planArgs adds the plan input arguments shared by the plan tools.
func planArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("plan",
			mcp.Description("Plan markdown. Either 'plan' or 'path' is required."),
		),
		mcp.WithString("path",
			mcp.Description("Path to a plan file, read when 'plan' is empty."),
		),
	}
}

// planText returns the plan from the request, or a message for the caller.
func planText(req mcp.CallToolRequest) (string, string) {
	if text := req.GetString("plan", ""); strings.TrimSpace(text) != "" {
		return text, ""
	}
	path := req.GetString("path", "")
	if strings.TrimSpace(path) == "" {
		return "", "'plan' or 'path' is required: provide the plan markdown or a file path"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Sprintf("failed to read plan: %v", err)
	}
	return string(data), ""
}

func jsonResult(v any, summary string) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(summary + "\n\n```json\n" + string(data) + "\n```\n"), nil
}

// ValidateTool handles the semgate_validate MCP tool.
type ValidateTool struct {
	reviewer *review.Reviewer
}

// NewValidateTool creates a ValidateTool.
func NewValidateTool(r *review.Reviewer) *ValidateTool {
	return &ValidateTool{reviewer: r}
}

// Definition returns the MCP tool definition for semgate_validate.
func (t *ValidateTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Check that a plan has every required section with real content. " +
				"Returns each section as present, missing, or placeholder. " +
				"Missing sections fail validation; placeholders are reported as warnings.",
		),
		mcp.WithArray("required",
			mcp.Description("Section names to require. Defaults to the configured plan sections."),
			mcp.WithStringItems(),
		),
	}, planArgs()...)
	return mcp.NewTool("semgate_validate", opts...)
}

// Handle processes the semgate_validate tool call.
func (t *ValidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, msg := planText(req)
	if msg != "" {
		return mcp.NewToolResultError(msg), nil
	}

	res, err := t.reviewer.Validate(text, req.GetStringSlice("required", nil))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse plan: %v", err)), nil
	}

	summary := res.FormatFeedback()
	if summary == "" {
		summary = "## Validation Passed\n\nEvery required section is present."
	}
	return jsonResult(res.Summary(), summary)
}

// ExtractTool handles the semgate_extract MCP tool.
type ExtractTool struct {
	reviewer *review.Reviewer
}

// NewExtractTool creates an ExtractTool.
func NewExtractTool(r *review.Reviewer) *ExtractTool {
	return &ExtractTool{reviewer: r}
}

// Definition returns the MCP tool definition for semgate_extract.
func (t *ExtractTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"List the decision statements in a plan with the significance test applied. " +
				"A statement becomes a create-record candidate only when it has long-term impact, " +
				"names at least two alternatives with trade-offs, and affects more than one component.",
		),
		mcp.WithArray("components",
			mcp.Description("Component or service names of the feature. Naming two of them makes a statement cross-cutting."),
			mcp.WithStringItems(),
		),
	}, planArgs()...)
	return mcp.NewTool("semgate_extract", opts...)
}

// Handle processes the semgate_extract tool call.
func (t *ExtractTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, msg := planText(req)
	if msg != "" {
		return mcp.NewToolResultError(msg), nil
	}

	cands, err := t.reviewer.Extract(text, req.GetStringSlice("components", nil))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse plan: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("## Decision Candidates\n\n")
	if len(cands) == 0 {
		sb.WriteString("No decision statements found.")
	}
	for _, c := range cands {
		fmt.Fprintf(&sb, "- **%s** (%s): %s", c.Verdict, sectionOrDash(c.Section), c.Title)
		if c.Tier == significance.TierPossible {
			fmt.Fprintf(&sb, " _(possible; failed %s)_", strings.Join(c.Failed, ", "))
		}
		sb.WriteString("\n")
	}
	return jsonResult(cands, strings.TrimRight(sb.String(), "\n"))
}

// GateTool handles the semgate_gate MCP tool.
type GateTool struct {
	reviewer *review.Reviewer
}

// NewGateTool creates a GateTool.
func NewGateTool(r *review.Reviewer) *GateTool {
	return &GateTool{reviewer: r}
}

// Definition returns the MCP tool definition for semgate_gate.
func (t *GateTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Evaluate a plan against the constitution rules. Returns each rule with its pass state " +
				"and reason. Blocking failures must be fixed, or justified in the plan and accepted, " +
				"before the feature can move to task breakdown.",
		),
		mcp.WithString("constitution",
			mcp.Description("Optional constitution markdown whose Rules section adds feature rules."),
		),
	}, planArgs()...)
	return mcp.NewTool("semgate_gate", opts...)
}

// Handle processes the semgate_gate tool call.
func (t *GateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, msg := planText(req)
	if msg != "" {
		return mcp.NewToolResultError(msg), nil
	}

	var extra *constitution.RuleSet
	if cons := req.GetString("constitution", ""); strings.TrimSpace(cons) != "" {
		a, err := t.reviewer.Parser.Parse(document.KindConstitution, cons)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse constitution: %v", err)), nil
		}
		if extra, err = constitution.FromArtifact(a); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid constitution rules: %v", err)), nil
		}
	}

	g, err := t.reviewer.CheckGate(text, extra)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sb strings.Builder
	if g.Passed() {
		sb.WriteString("## Gate Passed\n")
	} else {
		sb.WriteString("## Gate Blocked\n\n")
		for _, o := range g.BlockingFailures() {
			fmt.Fprintf(&sb, "- %s: %s\n", o.RuleID, o.Reason)
		}
	}
	return jsonResult(g.Report(), strings.TrimRight(sb.String(), "\n"))
}

// FeatureStatusTool handles the semgate_feature_status MCP tool.
type FeatureStatusTool struct {
	controller *phase.Controller
}

// NewFeatureStatusTool creates a FeatureStatusTool.
func NewFeatureStatusTool(c *phase.Controller) *FeatureStatusTool {
	return &FeatureStatusTool{controller: c}
}

// Definition returns the MCP tool definition for semgate_feature_status.
func (t *FeatureStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("semgate_feature_status",
		mcp.WithDescription("Show a feature's phase, transition history, and last gate result."),
		mcp.WithString("feature_id",
			mcp.Required(),
			mcp.Description("Feature id, e.g. 'checkout-v2'."),
		),
	)
}

// Handle processes the semgate_feature_status tool call.
func (t *FeatureStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("feature_id", "")
	if strings.TrimSpace(id) == "" {
		return mcp.NewToolResultError("'feature_id' is required"), nil
	}
	f, err := t.controller.Get(ctx, id)
	if err != nil {
		if errors.Is(err, phase.ErrFeatureNotFound) || errors.Is(err, phase.ErrInvalidFeatureID) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, fmt.Errorf("loading feature: %w", err)
	}
	return jsonResult(NewStatus(f), fmt.Sprintf("## %s\n\nPhase: **%s**", f.ID, f.Phase))
}

// FeatureAdvanceTool handles the semgate_feature_advance MCP tool.
type FeatureAdvanceTool struct {
	controller *phase.Controller
}

// NewFeatureAdvanceTool creates a FeatureAdvanceTool.
func NewFeatureAdvanceTool(c *phase.Controller) *FeatureAdvanceTool {
	return &FeatureAdvanceTool{controller: c}
}

// Definition returns the MCP tool definition for semgate_feature_advance.
func (t *FeatureAdvanceTool) Definition() mcp.Tool {
	return mcp.NewTool("semgate_feature_advance",
		mcp.WithDescription(
			"Move a feature to its next phase. Leaving design runs the gate on the attached plan; "+
				"a blocked gate leaves the feature in design and lists what to fix.",
		),
		mcp.WithString("feature_id",
			mcp.Required(),
			mcp.Description("Feature id, e.g. 'checkout-v2'."),
		),
	)
}

// Handle processes the semgate_feature_advance tool call.
func (t *FeatureAdvanceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("feature_id", "")
	if strings.TrimSpace(id) == "" {
		return mcp.NewToolResultError("'feature_id' is required"), nil
	}

	res, err := t.controller.Advance(ctx, id)
	var blocked *phase.GateBlockedError
	switch {
	case errors.As(err, &blocked):
		msg := "## Gate Blocked\n\n" + blocked.Error()
		if fb := blocked.Validation.FormatFeedback(); fb != "" {
			msg += "\n\n" + fb
		}
		return mcp.NewToolResultError(msg), nil
	case errors.Is(err, phase.ErrFeatureNotFound),
		errors.Is(err, phase.ErrInvalidFeatureID),
		errors.Is(err, phase.ErrInvalidTransition),
		errors.Is(err, phase.ErrMissingArtifact):
		return mcp.NewToolResultError(err.Error()), nil
	case err != nil:
		return nil, fmt.Errorf("advancing feature: %w", err)
	}

	summary := fmt.Sprintf("## %s advanced\n\n%s -> %s", id, res.From, res.To)
	if n := len(res.Candidates); n > 0 {
		summary += fmt.Sprintf("\n\n%d decision candidate(s) surfaced.", n)
	}
	return jsonResult(res.Candidates, summary)
}

// Status is the feature summary returned by status tools and commands.
type Status struct {
	ID         string                              `json:"id"`
	Phase      phase.Phase                         `json:"phase"`
	Artifacts  []document.Kind                     `json:"artifacts"`
	Exceptions map[string]string                   `json:"exceptions,omitempty"`
	History    []phase.Transition                  `json:"history"`
	LastGate   map[string]constitution.ReportEntry `json:"last_gate,omitempty"`
	Missing    []string                            `json:"missing_sections,omitempty"`
}

// NewStatus summarizes f.
func NewStatus(f *phase.Feature) Status {
	s := Status{ID: f.ID, Phase: f.Phase, Exceptions: f.Exceptions, History: f.History}
	for _, a := range f.Artifacts {
		s.Artifacts = append(s.Artifacts, a.Kind)
	}
	if f.LastGate != nil {
		s.LastGate = f.LastGate.Report()
	}
	if f.LastValidation != nil {
		s.Missing = f.LastValidation.Missing()
	}
	return s
}

func sectionOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
