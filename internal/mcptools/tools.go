// Package mcptools exposes the employee directory as MCP tools.
//
// Read tools need the mcp:read scope and mutating tools need mcp:tools when the
// request carries an OAuth grant. Without a grant (authentication disabled) every
// tool is callable.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	oauth "github.com/giantswarm/employee-mcp-server"
	"github.com/giantswarm/employee-mcp-server/instrumentation"
	"github.com/giantswarm/employee-mcp-server/internal/directory"
	"github.com/giantswarm/employee-mcp-server/server"
)

const (
	// ServerName is reported to MCP clients during initialization
	ServerName = "employee-server"

	ToolListEmployees      = "list_employees"
	ToolGetEmployee        = "get_employee"
	ToolSearchEmployees    = "search_employees"
	ToolGetEmployeesByDept = "get_employees_by_department"
	ToolCreateEmployee     = "create_employee"
	ToolUpdateEmployee     = "update_employee"
	ToolDeleteEmployee     = "delete_employee"
)

// call outcomes recorded in mcp.tool.calls.total
const (
	resultSuccess = "success"
	resultError   = "error"
	resultDenied  = "denied"
)

// Tools serves directory operations as MCP tool handlers
type Tools struct {
	dir     *directory.Directory
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// New creates the tool set over dir. inst may be nil.
func New(dir *directory.Directory, logger *slog.Logger, inst *instrumentation.Instrumentation) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tools{
		dir:    dir,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("mcptools"),
	}
	if inst != nil {
		t.metrics = inst.Metrics()
		t.tracer = inst.Tracer("mcp")
	}
	return t
}

// NewMCPServer creates an MCP server with all directory tools registered
func NewMCPServer(version string, tools *Tools) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(
		ServerName,
		version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithPromptCapabilities(false),
	)
	tools.Register(s)
	return s
}

// Register adds the directory tools to s
func (t *Tools) Register(s *mcpserver.MCPServer) {
	s.AddTool(mcp.NewTool(ToolListEmployees,
		mcp.WithDescription("List all employees"),
	), t.guard(ToolListEmployees, server.ScopeRead, t.listEmployees))

	s.AddTool(mcp.NewTool(ToolGetEmployee,
		mcp.WithDescription("Get the employee with the given ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Employee ID"),
		),
	), t.guard(ToolGetEmployee, server.ScopeRead, t.getEmployee))

	s.AddTool(mcp.NewTool(ToolSearchEmployees,
		mcp.WithDescription("Search employees by name, email, department or position"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Case-insensitive search text"),
		),
	), t.guard(ToolSearchEmployees, server.ScopeRead, t.searchEmployees))

	s.AddTool(mcp.NewTool(ToolGetEmployeesByDept,
		mcp.WithDescription("List the employees of a department"),
		mcp.WithString("department",
			mcp.Required(),
			mcp.Description("Department name, matched case-insensitively"),
		),
	), t.guard(ToolGetEmployeesByDept, server.ScopeRead, t.employeesByDepartment))

	s.AddTool(mcp.NewTool(ToolCreateEmployee,
		mcp.WithDescription("Create a new employee hired today"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Employee name")),
		mcp.WithString("email", mcp.Required(), mcp.Description("Email address")),
		mcp.WithString("department", mcp.Required(), mcp.Description("Department name")),
		mcp.WithString("position", mcp.Required(), mcp.Description("Job title")),
		mcp.WithNumber("salary", mcp.Description("Annual salary (optional)")),
	), t.guard(ToolCreateEmployee, server.ScopeTools, t.createEmployee))

	s.AddTool(mcp.NewTool(ToolUpdateEmployee,
		mcp.WithDescription("Update fields of an existing employee"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Employee ID")),
		mcp.WithString("name", mcp.Description("Employee name (optional)")),
		mcp.WithString("email", mcp.Description("Email address (optional)")),
		mcp.WithString("department", mcp.Description("Department name (optional)")),
		mcp.WithString("position", mcp.Description("Job title (optional)")),
		mcp.WithNumber("salary", mcp.Description("Annual salary (optional)")),
	), t.guard(ToolUpdateEmployee, server.ScopeTools, t.updateEmployee))

	s.AddTool(mcp.NewTool(ToolDeleteEmployee,
		mcp.WithDescription("Delete an employee"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Employee ID")),
	), t.guard(ToolDeleteEmployee, server.ScopeTools, t.deleteEmployee))
}

// guard enforces scope on grant-carrying requests and records the call outcome
func (t *Tools) guard(name, scope string, next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := t.tracer.Start(ctx, "mcp.tool."+name)
		defer span.End()
		span.SetAttributes(attribute.String(instrumentation.AttrToolName, name))

		if grant, ok := oauth.GrantFromContext(ctx); ok {
			instrumentation.AddOAuthFlowAttributes(span, grant.ClientID, grant.Scope)
			if !grant.HasScope(scope) {
				t.logger.Warn("Tool call denied",
					"tool", name,
					"client_id", grant.ClientID,
					"required_scope", scope)
				t.record(ctx, name, resultDenied)
				instrumentation.SetSpanError(span, "insufficient scope")
				return mcp.NewToolResultError(fmt.Sprintf("insufficient_scope: tool %s requires scope %s", name, scope)), nil
			}
		}

		result, err := next(ctx, req)
		switch {
		case err != nil:
			instrumentation.RecordError(span, err)
			t.record(ctx, name, resultError)
		case result != nil && result.IsError:
			instrumentation.SetSpanError(span, "tool returned an error result")
			t.record(ctx, name, resultError)
		default:
			instrumentation.SetSpanSuccess(span)
			t.record(ctx, name, resultSuccess)
		}
		return result, err
	}
}

func (t *Tools) record(ctx context.Context, tool, result string) {
	if t.metrics != nil {
		t.metrics.RecordToolCall(ctx, tool, result)
	}
}

func (t *Tools) listEmployees(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.dir.List())
}

func (t *Tools) getEmployee(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id argument is required"), nil
	}

	e, err := t.dir.Get(id)
	if err != nil {
		return notFound(id), nil
	}
	return jsonResult(e)
}

func (t *Tools) searchEmployees(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required"), nil
	}
	return jsonResult(t.dir.Search(query))
}

func (t *Tools) employeesByDepartment(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	department, err := req.RequireString("department")
	if err != nil {
		return mcp.NewToolResultError("department argument is required"), nil
	}
	return jsonResult(t.dir.ByDepartment(department))
}

func (t *Tools) createEmployee(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	salary, err := salaryArgument(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	e, err := t.dir.Create(directory.NewEmployee{
		Name:       req.GetString("name", ""),
		Email:      req.GetString("email", ""),
		Department: req.GetString("department", ""),
		Position:   req.GetString("position", ""),
		Salary:     salary,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	t.logger.Info("Employee created", "id", e.ID, "department", e.Department)
	return jsonResultWithHeading("Employee created:", e)
}

func (t *Tools) updateEmployee(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id argument is required"), nil
	}

	args := req.GetArguments()
	var u directory.Update
	for field, target := range map[string]**string{
		"name":       &u.Name,
		"email":      &u.Email,
		"department": &u.Department,
		"position":   &u.Position,
	} {
		raw, ok := args[field]
		if !ok || raw == nil {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			return mcp.NewToolResultError(field + " must be a string"), nil
		}
		*target = &value
	}
	if _, ok := args["salary"]; ok {
		salary, err := salaryArgument(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		u.Salary = &salary
	}

	e, err := t.dir.Update(id, u)
	if errors.Is(err, directory.ErrNotFound) {
		return notFound(id), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	t.logger.Info("Employee updated", "id", e.ID)
	return jsonResultWithHeading("Employee updated:", e)
}

func (t *Tools) deleteEmployee(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id argument is required"), nil
	}

	if err := t.dir.Delete(id); err != nil {
		return notFound(id), nil
	}

	t.logger.Info("Employee deleted", "id", id)
	return mcp.NewToolResultText(fmt.Sprintf("Employee %s deleted", id)), nil
}

// salaryArgument reads the optional numeric salary argument
func salaryArgument(args map[string]any) (int64, error) {
	raw, ok := args["salary"]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("salary must be a whole number")
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("salary must be a number")
	}
}

func notFound(id string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("Employee %s not found", id))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func jsonResultWithHeading(heading string, v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(heading + "\n" + string(data)), nil
}
