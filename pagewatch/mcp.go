package pagewatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sage/kit"
)

// RegisterMCP registers the agent's tools on an MCP server.
func (a *Agent) RegisterMCP(srv *mcp.Server) {
	a.registerAnalyzeTool(srv)
	a.registerGetPrefsTool(srv)
	a.registerSetPrefTool(srv)
	a.registerPagesTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

func noArgs(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{}, nil
}

// --- analyze_url ---

type analyzeRequest struct {
	URL string `json:"url"`
}

func (a *Agent) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sage_analyze_url",
		Description: "Fetch a URL, extract its text and media features and ask the classifier whether it is productive. Nothing is shown in the browser.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "http(s) URL to analyze"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*analyzeRequest)
		return a.AnalyzeURL(ctx, r.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r analyzeRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(a.logger, "sage_analyze_url")(endpoint), decode)
}

// --- get_prefs ---

func (a *Agent) registerGetPrefsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sage_get_prefs",
		Description: "Return every stored preference (sageAiActivated, learningMode, serverHealth) with defaults applied.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return a.prefs.All(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, noArgs)
}

// --- set_pref ---

type setPrefRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (a *Agent) registerSetPrefTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sage_set_pref",
		Description: "Set a preference. sageAiActivated and learningMode take booleans; supervised pages react immediately.",
		InputSchema: inputSchema(map[string]any{
			"key":   map[string]any{"type": "string", "description": "Preference key, e.g. sageAiActivated or learningMode"},
			"value": map[string]any{"description": "JSON value to store"},
		}, []string{"key", "value"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*setPrefRequest)
		if err := a.prefs.Set(ctx, r.Key, r.Value); err != nil {
			return nil, err
		}
		return map[string]any{"key": r.Key, "value": r.Value}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r setPrefRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.Key == "" || len(r.Value) == 0 {
			return nil, fmt.Errorf("key and value are required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(a.logger, "sage_set_pref")(endpoint), decode)
}

// --- pages ---

func (a *Agent) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sage_pages",
		Description: "List the pages the agent supervises with their scheduler state and current overlay.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return a.Pages(), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, noArgs)
}
