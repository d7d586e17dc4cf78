package capture

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pageshot/kit"
)

// RegisterMCP registers the capture tools on an MCP server. The store-backed
// tools (versions, compare) are only added when the service carries a store.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCaptureTool(srv)
	s.registerSERPTool(srv)
	if s.store != nil {
		s.registerMonitorTool(srv)
		s.registerCompareTool(srv)
		s.registerVersionsTool(srv)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- capture ---

type captureToolReq struct {
	URL      string `json:"url"`
	Mobile   bool   `json:"mobile,omitempty"`
	Format   string `json:"format,omitempty"`
	FullPage *bool  `json:"full_page,omitempty"`
}

type captureToolResp struct {
	URL        string `json:"url"`
	Key        string `json:"key"`
	File       string `json:"file"`
	Format     string `json:"format"`
	PageWidth  int    `json:"page_width"`
	PageHeight int    `json:"page_height"`
	Title      string `json:"title,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

func (s *Service) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_capture",
		Description: "Capture a full-page screenshot or PDF of a URL. Returns the saved file path and page metadata.",
		InputSchema: inputSchema(map[string]any{
			"url":       map[string]any{"type": "string", "description": "Page URL (http or https)"},
			"mobile":    map[string]any{"type": "boolean", "description": "Emulate a mobile viewport (375x812, touch)"},
			"format":    map[string]any{"type": "string", "enum": []string{"png", "jpeg", "pdf"}, "description": "Output format, default png"},
			"full_page": map[string]any{"type": "boolean", "description": "Capture the full scroll height, default true"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureToolReq)
		creq := NewRequest(r.URL)
		if r.Mobile {
			creq.Viewport = MobileViewport
		} else {
			creq.Viewport = DesktopViewport
		}
		if r.Format != "" {
			creq.Format = Format(r.Format)
		}
		if r.FullPage != nil {
			creq.FullPage = *r.FullPage
		}
		creq.OutputKey = deriveOutputKey(r.URL, creq.Viewport)

		res, err := s.CaptureURL(ctx, creq)
		if err != nil {
			return nil, err
		}
		if !res.Succeeded() {
			return nil, res.Err
		}
		path, err := s.WriteResult(res, "", "")
		if err != nil {
			return nil, err
		}
		return &captureToolResp{
			URL:        r.URL,
			Key:        res.Request.OutputKey,
			File:       path,
			Format:     string(res.Request.Format),
			PageWidth:  res.PageWidth,
			PageHeight: res.PageHeight,
			Title:      res.Title,
			ElapsedMS:  res.Elapsed.Milliseconds(),
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r captureToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- serp ---

type serpToolReq struct {
	Query  string `json:"query"`
	Engine string `json:"engine,omitempty"`
	Region string `json:"region,omitempty"`
}

func (s *Service) registerSERPTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_serp",
		Description: "Capture the search results page for a query on yandex or google.",
		InputSchema: inputSchema(map[string]any{
			"query":  map[string]any{"type": "string", "description": "Search query"},
			"engine": map[string]any{"type": "string", "enum": []string{"yandex", "google"}, "description": "Search engine, default yandex"},
			"region": map[string]any{"type": "string", "description": "Region code: yandex lr or google gl"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*serpToolReq)
		engine := SERPEngine(r.Engine)
		if engine == "" {
			engine = EngineYandex
		}
		sr, err := s.SERPScreenshot(ctx, r.Query, engine, r.Region)
		if err != nil {
			return nil, err
		}
		if !sr.Result.Succeeded() {
			return nil, sr.Result.Err
		}
		name := fmt.Sprintf("serp_%s_%s.png", engine, sanitizeQuery(r.Query))
		path, err := s.WriteResult(&sr.Result, "", name)
		if err != nil {
			return nil, err
		}
		sr.File = path
		sr.Result.Payload = nil
		sr.Result.HTML = ""
		return sr, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r serpToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- monitor ---

type monitorToolReq struct {
	URL string `json:"url"`
}

func (s *Service) registerMonitorTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_monitor",
		Description: "Snapshot a URL into the artifact store and compare it with the previous version.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL to snapshot"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*monitorToolReq)
		return s.MonitorSnapshot(ctx, r.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r monitorToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- compare ---

type compareToolReq struct {
	Key string `json:"key"`
}

func (s *Service) registerCompareTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_compare",
		Description: "Compare the two most recent stored versions of an artifact key and report whether the page changed.",
		InputSchema: inputSchema(map[string]any{
			"key": map[string]any{"type": "string", "description": "Artifact key as returned by pageshot_capture"},
		}, []string{"key"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*compareToolReq)
		return s.CompareLatest(ctx, r.Key)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r compareToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- versions ---

type versionsToolReq struct {
	Key string `json:"key"`
}

func (s *Service) registerVersionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pageshot_versions",
		Description: "List the stored snapshot timestamps for an artifact key, oldest first.",
		InputSchema: inputSchema(map[string]any{
			"key": map[string]any{"type": "string", "description": "Artifact key as returned by pageshot_capture"},
		}, []string{"key"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*versionsToolReq)
		versions, err := s.store.ListVersions(ctx, r.Key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"key": r.Key, "versions": versions}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r versionsToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
