package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"bookrag/internal/domain"
	"bookrag/internal/service"
)

const (
	serverName    = "bookrag"
	serverVersion = "0.1.0"
)

// Backend is what the tools call into; *service.Pipeline satisfies it.
type Backend interface {
	ProcessQuery(ctx context.Context, query string) service.Answer
	Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
	Stats() service.Stats
}

type source struct {
	Rank  int     `json:"rank"`
	Page  int     `json:"page"`
	Score float64 `json:"score"`
	Chunk int     `json:"chunk_id"`
	Text  string  `json:"text,omitempty"`
}

// New registers the book tools on a fresh MCP server.
func New(backend Backend) *server.MCPServer {
	srv := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	ask := mcp.NewTool("ask_book",
		mcp.WithDescription("Answer a question about the indexed book, citing the pages used"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Question about the book"),
		))
	srv.AddTool(ask, askHandler(backend))

	search := mcp.NewTool("search_book",
		mcp.WithDescription("Return the book passages most similar to a query, best first"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Number of passages to return; defaults to the configured value"),
		))
	srv.AddTool(search, searchHandler(backend))

	stats := mcp.NewTool("index_stats",
		mcp.WithDescription("Report whether the book index is loaded and how large it is"))
	srv.AddTool(stats, statsHandler(backend))

	return srv
}

func askHandler(backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ans := backend.ProcessQuery(ctx, q)
		logutil.GetLogger(ctx).Debug("ask_book served", zap.String("status", string(ans.Status)), zap.Int("sources", len(ans.Sources)))

		text, err := formatAnswer(ans)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if ans.Status == service.StatusError {
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func searchHandler(backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		topK := request.GetInt("top_k", 0)
		if topK < 0 {
			return mcp.NewToolResultError("top_k must not be negative"), nil
		}
		res, err := backend.Search(ctx, q, topK)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := formatResults(res, true)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

func statsHandler(backend Backend) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(backend.Stats())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(raw)), nil
	}
}

// formatAnswer renders the answer text followed by one JSON line per source.
func formatAnswer(ans service.Answer) (string, error) {
	if len(ans.Sources) == 0 {
		return ans.Text, nil
	}
	lines, err := formatResults(ans.Sources, false)
	if err != nil {
		return "", err
	}
	return ans.Text + "\n\nSources:\n" + lines, nil
}

func formatResults(res []domain.SearchResult, withText bool) (string, error) {
	var sb strings.Builder
	for _, r := range res {
		s := source{Rank: r.Rank, Page: r.Chunk.Page, Score: r.Score, Chunk: r.Chunk.ChunkID}
		if withText {
			s.Text = r.Chunk.Text
		}
		raw, err := json.Marshal(s)
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		sb.Write(raw)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// Serve runs srv on stdio when addr is empty, otherwise as an SSE server on
// addr until ctx is done.
func Serve(ctx context.Context, srv *server.MCPServer, addr string) error {
	logger := logutil.GetLogger(ctx)
	if addr == "" {
		logger.Info("serving mcp on stdio")
		return server.ServeStdio(srv)
	}
	sse := server.NewSSEServer(srv, server.WithBaseURL(fmt.Sprintf("http://%s", addr)))
	errCh := make(chan error, 1)
	go func() {
		errCh <- sse.Start(addr)
	}()
	logger.Info("serving mcp over sse", zap.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return sse.Shutdown(context.Background())
	}
}
