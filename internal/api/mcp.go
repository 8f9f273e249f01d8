package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docchat/internal/registry"
)

// MCPDeps holds dependencies for the MCP tool surface. It reuses the same
// pipeline pieces as the HTTP handlers.
type MCPDeps struct {
	Registry    *registry.Registry
	Retriever   ContextRetriever
	Synthesizer AnswerSynthesizer
}

// NewMCPServer creates an MCP server exposing docchat's question-answering
// tools for agent clients over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docchat — ask natural-language questions about uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_document",
			mcp.WithDescription("Answer a question using the content of one extracted document."),
			mcp.WithString("document_id", mcp.Description("ID of an extracted document"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question to answer"), mcp.Required()),
		),
		mcpAskDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List uploaded documents with their extraction status."),
		),
		mcpListDocuments(deps),
	)

	return s
}

func mcpAskDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		doc, err := deps.Registry.RequireCompleted(documentID)
		if errors.Is(err, registry.ErrNotFound) {
			return mcpError(fmt.Sprintf("document %s not found", documentID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("document %s is not ready: %v", documentID, err)), nil
		}

		contextText, err := deps.Retriever.Retrieve(ctx, doc.ID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}

		answer := deps.Synthesizer.Synthesize(ctx, question, contextText)

		if err := deps.Registry.AppendTurn(doc.ID, registry.Turn{Question: question, Answer: answer}); err != nil {
			return mcpError(fmt.Sprintf("answered but failed to record turn: %v", err)), nil
		}

		return mcpText(answer), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs := deps.Registry.List()

		type docResult struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
			Chunks int    `json:"chunks"`
		}
		results := make([]docResult, len(docs))
		for i, d := range docs {
			results[i] = docResult{
				ID:     d.ID,
				Name:   d.SourceName,
				Status: string(d.Status),
				Chunks: d.Chunks,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
