// Package mcpserver exposes the topic catalog to AI agents over the Model
// Context Protocol. Every tool is read-only: agents can browse topics, check
// field coverage and preview harmonized rows, but never export.
package mcpserver

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/service"
)

const (
	serverName    = "openpdi"
	serverVersion = "0.1.0"

	// maxPreviewRows keeps tool output within what an agent can read.
	maxPreviewRows = 100
)

// Topics is the part of the service the tools use.
type Topics interface {
	Topics() []service.TopicInfo
	Dataset(topic string, c core.Constraints) (*service.Dataset, error)
	Coverage(topic string) ([]catalog.FieldCoverage, error)
	Preview(ctx context.Context, topic string, c core.Constraints, limit int) (*service.Preview, error)
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *server.MCPServer
}

// New creates an MCP server backed by topics.
func New(topics Topics) *Server {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Browse harmonized open police data. List topics first, then describe one "+
			"with optional columns and scope (state such as TX, or agency such as TX-Austin)."),
	)

	s.AddTool(listTopicsTool(), listTopicsHandler(topics))
	s.AddTool(describeTopicTool(), describeTopicHandler(topics))
	s.AddTool(fieldCoverageTool(), fieldCoverageHandler(topics))
	s.AddTool(previewTopicTool(), previewTopicHandler(topics))

	return &Server{mcpServer: s}
}

// Serve runs the server on stdio until the client disconnects.
func (s *Server) Serve() error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// selection is the constraint arguments shared by several tools.
type selection struct {
	Topic   string   `json:"topic"`
	Columns []string `json:"columns"`
	Scope   []string `json:"scope"`
	Strict  bool     `json:"strict"`
}

func (a selection) constraints() core.Constraints {
	return core.Constraints{Columns: a.Columns, Scope: a.Scope, Strict: a.Strict}
}

func selectionOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("topic", mcp.Description("Topic id, e.g. uof"), mcp.Required()),
		mcp.WithArray("columns", mcp.Description("Fields every selected source must provide"), mcp.WithStringItems()),
		mcp.WithArray("scope", mcp.Description("States (TX) or agencies (TX-Austin) to include"), mcp.WithStringItems()),
		mcp.WithBoolean("strict", mcp.Description("Output exactly the requested columns")),
	}
}

// TopicsResult is the output of list_topics.
type TopicsResult struct {
	Topics []service.TopicInfo `json:"topics"`
}

func listTopicsTool() mcp.Tool {
	return mcp.NewTool("list_topics",
		mcp.WithDescription("List every topic in the catalog with its field, source and agency counts"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func listTopicsHandler(topics Topics) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultStructuredOnly(TopicsResult{Topics: topics.Topics()}), nil
	}
}

// DescribeResult is the output of describe_topic.
type DescribeResult struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Columns  []string `json:"columns"`
	Sources  int      `json:"sources"`
	Agencies []string `json:"agencies"`
	URLs     []string `json:"urls"`
}

func describeTopicTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Resolve which sources of a topic satisfy the constraints and the columns they produce. Nothing is downloaded."),
		mcp.WithReadOnlyHintAnnotation(true),
	}, selectionOptions()...)
	return mcp.NewTool("describe_topic", opts...)
}

func describeTopicHandler(topics Topics) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input selection
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid describe_topic arguments", err), nil
		}
		ds, err := topics.Dataset(input.Topic, input.constraints())
		if err != nil {
			return toolError(err), nil
		}

		var summary bytes.Buffer
		if err := ds.WriteSummary(&summary); err != nil {
			return mcp.NewToolResultErrorFromErr("render summary", err), nil
		}
		return mcp.NewToolResultStructured(DescribeResult{
			ID:       ds.ID,
			Title:    ds.Title,
			Columns:  ds.Columns(),
			Sources:  ds.Len(),
			Agencies: ds.Agencies(),
			URLs:     ds.URLs(),
		}, summary.String()), nil
	}
}

// CoverageResult is the output of field_coverage.
type CoverageResult struct {
	Topic  string                  `json:"topic"`
	Fields []catalog.FieldCoverage `json:"fields"`
}

func fieldCoverageTool() mcp.Tool {
	return mcp.NewTool("field_coverage",
		mcp.WithDescription("For each field of a topic, describe it and list the agencies that report it"),
		mcp.WithString("topic", mcp.Description("Topic id, e.g. uof"), mcp.Required()),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func fieldCoverageHandler(topics Topics) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input struct {
			Topic string `json:"topic"`
		}
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid field_coverage arguments", err), nil
		}
		cov, err := topics.Coverage(input.Topic)
		if err != nil {
			return toolError(err), nil
		}

		var table bytes.Buffer
		if err := catalog.WriteCoverageTable(&table, cov); err != nil {
			return mcp.NewToolResultErrorFromErr("render coverage", err), nil
		}
		return mcp.NewToolResultStructured(CoverageResult{Topic: input.Topic, Fields: cov}, table.String()), nil
	}
}

// PreviewResult is the output of preview_topic.
type PreviewResult struct {
	RunID         string               `json:"run_id"`
	Header        []string             `json:"header"`
	Rows          [][]string           `json:"rows"`
	FailedSources []service.SourceFail `json:"failed_sources,omitempty"`
}

func previewTopicTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Download and harmonize the first rows of a topic. Only the sources needed to fill the preview are fetched."),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Rows to return (default %d, max %d)", service.DefaultPreviewRows, maxPreviewRows))),
		mcp.WithReadOnlyHintAnnotation(true),
	}, selectionOptions()...)
	return mcp.NewTool("preview_topic", opts...)
}

func previewTopicHandler(topics Topics) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input struct {
			selection
			Limit int `json:"limit"`
		}
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid preview_topic arguments", err), nil
		}
		if input.Limit < 0 {
			return mcp.NewToolResultError("limit must be non-negative"), nil
		}
		limit := min(input.Limit, maxPreviewRows)

		p, err := topics.Preview(ctx, input.Topic, input.constraints(), limit)
		if err != nil {
			return toolError(err), nil
		}
		rows := make([][]string, len(p.Rows))
		for i, r := range p.Rows {
			rows[i] = r.Strings()
		}
		return mcp.NewToolResultStructuredOnly(PreviewResult{
			RunID:         p.Run.ID,
			Header:        p.Header,
			Rows:          rows,
			FailedSources: p.Failed,
		}), nil
	}
}

// toolError reports err with its user-facing code.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultErrorFromErr(core.FormatUserError(err), err)
}
