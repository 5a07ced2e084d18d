package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgate/document"
	"github.com/c360studio/semgate/phase"
	"github.com/c360studio/semgate/review"
)

const testSpec = "---\ncomponents: [billing, ledger]\n---\n# Checkout\n\n## Overview\n\nCustomers pay for an order.\n"

const testConstitution = "# Constitution\n\n" +
	"## Rules\n\n" +
	"```yaml\n" +
	"rules:\n" +
	"  max-services:\n" +
	"    category: architecture-limit\n" +
	"    metric: service_count\n" +
	"    operator: \"<=\"\n" +
	"    threshold: 3\n" +
	"    severity: blocking\n" +
	"```\n"

func plan(services int) string {
	return "# Plan\n\n" +
		"## Summary\n\nCheckout flow.\n\n" +
		"## Technical Context\n\nservice_count: " + strconv.Itoa(services) + "\n\n" +
		"## Constitution Check\n\nReviewed.\n\n" +
		"## Project Structure\n\ncmd/checkout\n\n" +
		"## Decisions\n\nWe chose PostgreSQL over MongoDB and DynamoDB for ACID guarantees across all services.\n"
}

func request(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// isErrorResult checks if the result is a tool error.
func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// getResultText extracts the text content from a CallToolResult.
func getResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestNew_RegistersTools(t *testing.T) {
	s := New("test", review.New(review.Reviewer{}), nil)
	require.NotNil(t, s)

	tools := s.ListTools()
	assert.Len(t, tools, 3)
	assert.Contains(t, tools, "semgate_validate")
	assert.NotContains(t, tools, "semgate_feature_advance")

	s = New("test", review.New(review.Reviewer{}), phase.NewController(phase.Config{}))
	assert.Len(t, s.ListTools(), 5)
}

func TestValidateTool_Definition(t *testing.T) {
	def := NewValidateTool(review.New(review.Reviewer{})).Definition()
	assert.Equal(t, "semgate_validate", def.Name)
	assert.Contains(t, def.InputSchema.Properties, "plan")
	assert.Contains(t, def.InputSchema.Properties, "required")
}

func TestValidateTool_Handle(t *testing.T) {
	tool := NewValidateTool(review.New(review.Reviewer{}))

	result, err := tool.Handle(context.Background(), request(map[string]any{"plan": plan(2)}))
	require.NoError(t, err)
	require.False(t, isErrorResult(result), getResultText(result))
	text := getResultText(result)
	assert.Contains(t, text, "Validation Passed")
	assert.Contains(t, text, `"Summary": "present"`)

	result, err = tool.Handle(context.Background(), request(map[string]any{
		"plan":     plan(2),
		"required": []any{"Summary", "Risk Analysis"},
	}))
	require.NoError(t, err)
	text = getResultText(result)
	assert.Contains(t, text, "Risk Analysis")
	assert.Contains(t, text, `"Risk Analysis": "missing"`)
}

func TestValidateTool_Handle_FromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.md")
	require.NoError(t, os.WriteFile(path, []byte(plan(2)), 0o644))

	tool := NewValidateTool(review.New(review.Reviewer{}))
	result, err := tool.Handle(context.Background(), request(map[string]any{"path": path}))
	require.NoError(t, err)
	assert.False(t, isErrorResult(result), getResultText(result))
}

func TestValidateTool_Handle_MissingInput(t *testing.T) {
	tool := NewValidateTool(review.New(review.Reviewer{}))

	result, err := tool.Handle(context.Background(), request(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "'plan' or 'path' is required")

	result, err = tool.Handle(context.Background(), request(map[string]any{"path": filepath.Join(t.TempDir(), "none.md")}))
	require.NoError(t, err)
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "failed to read plan")
}

func TestExtractTool_Handle(t *testing.T) {
	tool := NewExtractTool(review.New(review.Reviewer{}))

	result, err := tool.Handle(context.Background(), request(map[string]any{
		"plan":       plan(2),
		"components": []any{"billing", "ledger"},
	}))
	require.NoError(t, err)
	require.False(t, isErrorResult(result), getResultText(result))

	text := getResultText(result)
	assert.Contains(t, text, "Decision Candidates")
	assert.Contains(t, text, "(Decisions)")
	assert.Contains(t, text, "PostgreSQL")
}

func TestExtractTool_Handle_PossibleCandidate(t *testing.T) {
	tool := NewExtractTool(review.New(review.Reviewer{}))

	result, err := tool.Handle(context.Background(), request(map[string]any{
		"plan": "# Plan\n\n## Decisions\n\nWe chose PostgreSQL over MongoDB for ACID guarantees in the billing service.\n",
	}))
	require.NoError(t, err)
	require.False(t, isErrorResult(result), getResultText(result))

	text := getResultText(result)
	assert.Contains(t, text, "- **log-only** (Decisions): Chose PostgreSQL over MongoDB for ACID guarantees in the billing service _(possible; failed scope)_")
}

func TestExtractTool_Handle_NoDecisions(t *testing.T) {
	tool := NewExtractTool(review.New(review.Reviewer{}))

	result, err := tool.Handle(context.Background(), request(map[string]any{"plan": "# Plan\n\n## Summary\n\nNothing here.\n"}))
	require.NoError(t, err)
	assert.Contains(t, getResultText(result), "No decision statements found.")
}

func TestGateTool_Handle(t *testing.T) {
	tool := NewGateTool(review.New(review.Reviewer{}))

	result, err := tool.Handle(context.Background(), request(map[string]any{
		"plan":         plan(2),
		"constitution": testConstitution,
	}))
	require.NoError(t, err)
	require.False(t, isErrorResult(result), getResultText(result))
	assert.Contains(t, getResultText(result), "Gate Passed")

	result, err = tool.Handle(context.Background(), request(map[string]any{
		"plan":         plan(5),
		"constitution": testConstitution,
	}))
	require.NoError(t, err)
	text := getResultText(result)
	assert.Contains(t, text, "Gate Blocked")
	assert.Contains(t, text, "- max-services:")
	assert.Contains(t, text, `"max-services"`)
}

func TestGateTool_Handle_InvalidConstitution(t *testing.T) {
	tool := NewGateTool(review.New(review.Reviewer{}))

	bad := "# Constitution\n\n## Rules\n\n```yaml\nrules:\n  broken:\n    category: nonsense\n```\n"
	result, err := tool.Handle(context.Background(), request(map[string]any{
		"plan":         plan(2),
		"constitution": bad,
	}))
	require.NoError(t, err)
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "invalid constitution rules")
}

func openFeature(t *testing.T, services int) *phase.Controller {
	t.Helper()
	ctx := context.Background()
	c := phase.NewController(phase.Config{})
	_, err := c.Open(ctx, "checkout", testSpec, testConstitution)
	require.NoError(t, err)
	_, err = c.Advance(ctx, "checkout")
	require.NoError(t, err)
	_, err = c.Attach(ctx, "checkout", document.KindPlan, plan(services))
	require.NoError(t, err)
	return c
}

func TestFeatureStatusTool_Handle(t *testing.T) {
	tool := NewFeatureStatusTool(openFeature(t, 2))

	result, err := tool.Handle(context.Background(), request(map[string]any{"feature_id": "checkout"}))
	require.NoError(t, err)
	require.False(t, isErrorResult(result), getResultText(result))
	text := getResultText(result)
	assert.Contains(t, text, "Phase: **design**")
	assert.Contains(t, text, `"plan"`)

	result, err = tool.Handle(context.Background(), request(map[string]any{"feature_id": "unknown"}))
	require.NoError(t, err)
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "feature not found")

	result, err = tool.Handle(context.Background(), request(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, isErrorResult(result))
}

func TestFeatureAdvanceTool_Handle(t *testing.T) {
	c := openFeature(t, 2)
	tool := NewFeatureAdvanceTool(c)

	result, err := tool.Handle(context.Background(), request(map[string]any{"feature_id": "checkout"}))
	require.NoError(t, err)
	require.False(t, isErrorResult(result), getResultText(result))
	assert.Contains(t, getResultText(result), "design -> task_breakdown")

	f, err := c.Get(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, phase.TaskBreakdown, f.Phase)

	result, err = tool.Handle(context.Background(), request(map[string]any{"feature_id": "checkout"}))
	require.NoError(t, err)
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "invalid transition")
}

func TestFeatureAdvanceTool_Handle_Blocked(t *testing.T) {
	c := openFeature(t, 5)
	tool := NewFeatureAdvanceTool(c)

	result, err := tool.Handle(context.Background(), request(map[string]any{"feature_id": "checkout"}))
	require.NoError(t, err)
	assert.True(t, isErrorResult(result))
	text := getResultText(result)
	assert.Contains(t, text, "Gate Blocked")
	assert.Contains(t, text, "rule max-services")

	f, err := c.Get(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, phase.Design, f.Phase)
}
