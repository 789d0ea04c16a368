package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"storyapp/backend/internal/services"
	"storyapp/backend/pkg/models"
)

type Server struct {
	mcpServer       *server.MCPServer
	workflowService *services.WorkflowService
}

func NewServer(workflowService *services.WorkflowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Story Workflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflowService: workflowService,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_workflow",
			mcp.WithDescription("Start a new story generation workflow for a topic"),
			mcp.WithString("topic", mcp.Required(), mcp.Description("The mystery topic to build a story around")),
			mcp.WithString("locale", mcp.Description("Locale hint for the generated prose, defaults to zh")),
		),
		s.handleCreateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Fetch a workflow record including stage states and revision history"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow id")),
		),
		s.handleGetWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List workflows, newest first"),
			mcp.WithNumber("page", mcp.Description("Page number, defaults to 1")),
			mcp.WithNumber("limit", mcp.Description("Page size, defaults to 10")),
		),
		s.handleListWorkflows,
	)
}

func (s *Server) handleCreateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	topic, ok := args["topic"].(string)
	if !ok || topic == "" {
		return mcp.NewToolResultError("Missing required parameter: topic"), nil
	}
	locale, _ := args["locale"].(string)

	record, err := s.workflowService.Create(ctx, topic, locale)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(record)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	record, err := s.workflowService.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(record)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	page := 1
	if v, ok := args["page"].(float64); ok {
		page = int(v)
	}
	limit := 10
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	result, err := s.workflowService.List(ctx, page, limit, models.StageStatus(""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
