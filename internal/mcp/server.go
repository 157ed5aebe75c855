// Package mcp exposes the shopping list to MCP clients over the Streamable
// HTTP transport.
package mcp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Laboratorynotices/listsmart/internal/auth"
	"github.com/Laboratorynotices/listsmart/internal/logutil"
	"github.com/Laboratorynotices/listsmart/internal/obs"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
)

const (
	serverName    = "listsmart"
	serverVersion = "1.0.0"

	mcpDebugBodyLogLimitBytes = 8 * 1024
)

// Server serves MCP for signed-in users. It must be mounted behind
// Gate.RequireIdentity; each request gets an MCP server bound to the
// caller's uid.
type Server struct {
	repo        shopping.Repository
	storeOpts   []shopping.Option
	httpHandler http.Handler
}

// NewServer creates the MCP endpoint over repo.
func NewServer(repo shopping.Repository, opts ...shopping.Option) *Server {
	s := &Server{repo: repo, storeOpts: opts}

	// Stateless: every request carries its own session cookie, so no MCP
	// session state is kept between requests.
	s.httpHandler = mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return s.serverFor(auth.GetUserID(r.Context()))
		},
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Stateless:    true,
		},
	)
	return s
}

// serverFor builds an MCP server whose tools act as uid.
func (s *Server) serverFor(uid string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	handler := NewHandler(s.repo, uid, s.storeOpts...)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(server, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(server)
	return server
}

// ServeHTTP implements the Streamable HTTP transport: POST for client
// messages, GET for the optional server stream, DELETE to end a session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Last-Event-ID, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	logger := obs.From(r.Context())
	debug := mcpDebugEnabled()

	if debug && r.Body != nil && r.Method == http.MethodPost {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("mcp_request_body_read_failed", "pkg", "mcp", "error", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		logger.Debug("mcp_request", "pkg", "mcp",
			"method", r.Method,
			"headers", formatMCPHeadersForLog(r.Header),
			"body", logutil.FormatBodyForLog(r.Header.Get("Content-Type"), body, mcpDebugBodyLogLimitBytes),
		)
	}

	rw, rec := obs.NewResponseRecorder(w)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("mcp_handler_panic", "pkg", "mcp", "panic", p)
			if !rec.WroteHeader() {
				writeRPCError(rw, http.StatusInternalServerError, "Internal server error")
			}
		}
	}()

	s.httpHandler.ServeHTTP(rw, r)

	if !rec.WroteHeader() {
		logger.Error("mcp_no_response", "pkg", "mcp", "method", r.Method)
		writeRPCError(rw, http.StatusInternalServerError, "MCP handler returned without writing response")
		return
	}
	if rec.StatusCode() >= http.StatusBadRequest {
		logger.Warn("mcp_request_failed", "pkg", "mcp", "method", r.Method, "status", rec.StatusCode())
	}
}

func writeRPCError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    -32603,
			"message": message,
		},
	})
}

func mcpDebugEnabled() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv("DEBUG"))) {
	case "1", "true", "yes", "on", "debug":
		return true
	default:
		return false
	}
}

func formatMCPHeadersForLog(headers http.Header) string {
	return logutil.FormatHeadersForLog(headers)
}
