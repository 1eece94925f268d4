// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the artifact cache and document indices over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/artifact"
	"github.com/starford/marginalia/internal/service"
)

const contractURI = "marginalia://artifact-format"

// Server wraps the MCP server with marginalia tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates an MCP server with all tools registered.
func New(svc *service.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Marginalia",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_artifacts",
		mcp.WithDescription("List the cached artifacts of a document with their coverage."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Absolute path of the document")),
	), s.listArtifacts)

	s.mcp.AddTool(mcp.NewTool("read_artifact",
		mcp.WithDescription("Read one cached artifact and the actions available for the reader's position."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Absolute path of the document")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action identifier, or a legacy slot such as _summary")),
		mcp.WithNumber("progress", mcp.Description("Reader position 0..1; defaults to the last recorded position")),
	), s.readArtifact)

	s.mcp.AddTool(mcp.NewTool("save_artifact",
		mcp.WithDescription("Store a newly generated artifact. Read the artifact contract first via "+
			"the get_artifact_contract tool or the "+contractURI+" resource."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Absolute path of the document")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action identifier")),
		mcp.WithString("result", mcp.Required(), mcp.Description("Generated text")),
		mcp.WithNumber("progress", mcp.Required(), mcp.Description("Reading fraction 0..1 the text covers")),
	), s.saveArtifact)

	s.mcp.AddTool(mcp.NewTool("get_index_record",
		mcp.WithDescription("Read a document's record from the chats, notebooks or artifacts index."),
		mcp.WithString("index", mcp.Required(), mcp.Description("Index name"), mcp.Enum("chats", "notebooks", "artifacts")),
		mcp.WithString("document", mcp.Required(), mcp.Description("Absolute path of the document")),
	), s.getIndexRecord)

	s.mcp.AddTool(mcp.NewTool("get_artifact_contract",
		mcp.WithDescription("Returns the artifact versioning contract."),
	), s.getArtifactContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Artifact Contract",
			mcp.WithResourceDescription("How cached artifacts are versioned by reading progress."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listArtifacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.svc.ListArtifacts(ctx, doc)
	if err != nil {
		return errorResult(err), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("no artifacts found"), nil
	}
	return jsonResult(list)
}

func (s *Server) readArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var pos service.ReaderPosition
	if _, ok := req.GetArguments()["progress"]; ok {
		p, err := req.RequireFloat("progress")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		pos.Progress = &p
	}
	view, err := s.svc.GetArtifact(ctx, doc, action, pos)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(view)
}

func (s *Server) saveArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := req.RequireString("result")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	progress, err := req.RequireFloat("progress")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.svc.PutArtifact(ctx, doc, action, artifact.Entry{Result: result, Progress: progress})
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s at %.1f%%", action, e.Progress*100)), nil
}

func (s *Server) getIndexRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.IndexRecord(ctx, name, doc)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rec)
}

func (s *Server) getArtifactContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArtifactFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     ArtifactFormatContract,
		},
	}, nil
}
