package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/manifest"
)

// RegisterMCP registers the workflow tools on an MCP server, so agents can
// trigger runs, inspect history, and approve changes.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerRunTool(srv)
	e.registerStatusTool(srv)
	e.registerRunsTool(srv)
	e.registerApproveTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool wires a decoded-request endpoint onto the server, reporting
// failures as tool errors rather than protocol errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint func(ctx context.Context, req *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := endpoint(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- run ---

type runReq struct{}

func (e *Engine) registerRunTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_run",
		Description: "Upload the test pages, capture screenshots across the browser matrix, and diff them against the golden baseline. Returns the run record with its bucket counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ *runReq) (any, error) {
		return e.Run(ctx)
	})
}

// --- status ---

type statusReq struct{}

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_status",
		Description: "Report the most recent run: its status and how many screenshots changed, appeared, or disappeared.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, _ *statusReq) (any, error) {
		runs, err := e.Runs(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("workflow: no runs recorded yet")
		}
		return runs[0], nil
	})
}

// --- runs ---

type runsReq struct {
	Limit int `json:"limit"`
}

func (e *Engine) registerRunsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_runs",
		Description: "List recent runs, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum runs to return (default 20)"},
		}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, r *runsReq) (any, error) {
		limit := r.Limit
		if limit <= 0 {
			limit = 20
		}
		runs, err := e.Runs(ctx, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runs": runs}, nil
	})
}

// --- approve ---

type approveReq struct {
	All     bool           `json:"all"`
	Diffs   []manifest.Key `json:"diffs"`
	Added   []manifest.Key `json:"added"`
	Removed []manifest.Key `json:"removed"`
}

func (e *Engine) registerApproveTool(srv *mcp.Server) {
	keyList := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"page":    map[string]any{"type": "string"},
				"browser": map[string]any{"type": "string"},
			},
			"required": []string{"page", "browser"},
		},
	}
	tool := &mcp.Tool{
		Name:        "vigie_approve",
		Description: "Merge approved changes from the latest run into the golden baseline. Set all=true to approve everything, or list the (page, browser) keys to approve per bucket.",
		InputSchema: inputSchema(map[string]any{
			"all":     map[string]any{"type": "boolean", "description": "Approve every diff, addition, and removal"},
			"diffs":   keyList,
			"added":   keyList,
			"removed": keyList,
		}, nil),
	}
	addTool(srv, tool, func(ctx context.Context, r *approveReq) (any, error) {
		var set *differ.ApprovalSet
		if !r.All {
			set = &differ.ApprovalSet{
				Diffs:   differ.NewKeySet(r.Diffs...),
				Added:   differ.NewKeySet(r.Added...),
				Removed: differ.NewKeySet(r.Removed...),
			}
		}
		merged, err := e.Approve(ctx, set)
		if err != nil {
			return nil, err
		}
		return map[string]any{"baseline": e.cfg.Baseline.Output, "pages": len(merged)}, nil
	})
}
