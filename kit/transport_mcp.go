package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sage/idgen"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment
// (the page ID of a sage_pages call, for instance).
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// NewRequestID tags one control API request or tool call. Both transports
// share the "rq_" form so log lines correlate the same way.
var NewRequestID = idgen.Prefixed("rq_", idgen.UUIDv7())

// RegisterMCPTool exposes a sage operation as an MCP tool. A call without
// arguments decodes as "{}". Decode and endpoint failures come back as tool
// results with IsError set, so an assistant sees "preference must be a
// boolean" instead of a broken session; the success value is JSON-encoded
// into one text block.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.Params != nil && len(req.Params.Arguments) == 0 {
			req.Params.Arguments = json.RawMessage("{}")
		}
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err)), nil
		}

		ctx = WithRequestID(WithTransport(ctx, "mcp"), NewRequestID())
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode result: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
