// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Othala tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/itemservice"
)

// Server wraps the MCP server with Othala tools.
type Server struct {
	mcp *server.MCPServer
	svc *itemservice.Service
}

// New creates a new MCP server with all Othala tools registered.
func New(svc *itemservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_items",
		mcp.WithDescription("List items with their folded state summary (heads, record count)."),
	), s.listItems)

	s.mcp.AddTool(mcp.NewTool("show_item",
		mcp.WithDescription("Show one item: its heads, counters, and folded state."),
		mcp.WithString("item", mcp.Required(), mcp.Description("Item name")),
	), s.showItem)

	s.mcp.AddTool(mcp.NewTool("show_records",
		mcp.WithDescription("Walk an item's records in topological generations, parents before children."),
		mcp.WithString("item", mcp.Required(), mcp.Description("Item name")),
	), s.showRecords)

	s.mcp.AddTool(mcp.NewTool("reduce_item",
		mcp.WithDescription("Fold an item's records into its current state, oldest generation "+
			"first, newest value per file winning. Reads the records directly, bypassing the cache."),
		mcp.WithString("item", mcp.Required(), mcp.Description("Item name")),
	), s.reduceItem)

	s.mcp.AddTool(mcp.NewTool("create_item",
		mcp.WithDescription("Create a new item. Omit the name to mint a fresh unique identity."),
		mcp.WithString("name", mcp.Description("Optional item name")),
	), s.createItem)

	s.mcp.AddTool(mcp.NewTool("add_record",
		mcp.WithDescription("Append a record to an item. Files MUST follow the record format "+
			"contract (relative slash paths, state files that override earlier records). Read "+
			"the contract first via the get_record_contract tool or the othala://record-format "+
			"resource. The record claims the item's current heads as parents."),
		mcp.WithString("item", mcp.Required(), mcp.Description("Item name")),
		mcp.WithString("files", mcp.Required(), mcp.Description(`JSON object of file name to text content, e.g. {"status": "closed"}`)),
	), s.addRecord)

	s.mcp.AddTool(mcp.NewTool("read_record_file",
		mcp.WithDescription("Read one file out of a record."),
		mcp.WithString("item", mcp.Required(), mcp.Description("Item name")),
		mcp.WithString("record", mcp.Required(), mcp.Description("Record hash name")),
		mcp.WithString("file", mcp.Required(), mcp.Description("File path within the record")),
	), s.readRecordFile)

	s.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Full-text search across the folded state of all items."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchItems)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the canonical Othala record format contract. "+
			"Call this before adding records to ensure correct structure."),
	), s.getRecordContract)

	s.mcp.AddTool(mcp.NewTool("attach_file",
		mcp.WithDescription("Download a file from an http(s) URL or data: URI and append it "+
			"to an item as a new record. Returns the record name and the file path inside it."),
		mcp.WithString("item", mcp.Required(), mcp.Description("Item name")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or base64 data: URI")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when omitted")),
	), s.attachFile)

	// Resource: record format contract.
	s.mcp.AddResource(
		mcp.NewResource("othala://record-format", "Record Format Contract",
			mcp.WithResourceDescription("Canonical record layout that all appended records must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListItems(ctx, 100, 0, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{"items": items, "total": total}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) showItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("item")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := s.svc.GetItem(ctx, name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(item, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) showRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("item")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	gens, remaining, err := s.svc.Generations(ctx, name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"generations": gens,
		"remaining":   remaining,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) reduceItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("item")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := s.svc.State(ctx, name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(state, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := ""
	if v, err := req.RequireString("name"); err == nil {
		name = v
	}
	item, err := s.svc.CreateItem(ctx, name)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return mcp.NewToolResultError(fmt.Sprintf("item already exists: %s", name)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", item.Name)), nil
}

func (s *Server) addRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("item")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawFiles, err := req.RequireString("files")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var text map[string]string
	if err := json.Unmarshal([]byte(rawFiles), &text); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("files must be a JSON object of name to content: %v", err)), nil
	}
	if len(text) == 0 {
		return mcp.NewToolResultError("record needs at least one file"), nil
	}
	files := make(map[string][]byte, len(text))
	for n, content := range text {
		files[n] = []byte(content)
	}

	rec, err := s.svc.NewRecord(ctx, name, files, true)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
		case errors.Is(err, apperr.ErrInvalid):
			return mcp.NewToolResultError(fmt.Sprintf("invalid record file name: %v", err)), nil
		default:
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("created record %s in %s", rec.Name, name)), nil
}

func (s *Server) readRecordFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("item")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, err := req.RequireString("record")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	file, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.svc.ReadRecordFile(ctx, name, record, file)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s in record %s", file, record)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) searchItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	var lines []string
	for _, r := range results {
		lines = append(lines, r.Name+"\t"+r.Snippet)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getRecordContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readRecordFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "othala://record-format",
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
