package toolrt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"code-review-pipeline/internal/config"
)

// MCPBridge connects one external MCP server and registers its tools into a
// Registry, prefixed with the server name to avoid collisions with builtins.
type MCPBridge struct {
	name    string
	session *mcp.ClientSession
}

// ConnectMCP dials an MCP server. Endpoint schemes: stdio://cmd args, or
// http(s):// for SSE.
func ConnectMCP(ctx context.Context, cfg config.MCPServerConfig) (*MCPBridge, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mcp server %q has no endpoint", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport, err := newTransport(ctx, cfg, timeout)
	if err != nil {
		return nil, fmt.Errorf("mcp transport %s: %w", cfg.Name, err)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "code-review-pipeline",
		Version: "1.0.0",
	}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp connect %s: %w", cfg.Name, err)
	}
	return &MCPBridge{name: cfg.Name, session: session}, nil
}

// RegisterTools lists the server's tools and registers a proxy handler for
// each under "<server>__<tool>".
func (b *MCPBridge) RegisterTools(ctx context.Context, r *Registry) error {
	listed, err := b.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("mcp list tools %s: %w", b.name, err)
	}

	for _, tool := range listed.Tools {
		remoteName := tool.Name
		params := schemaToMap(tool.InputSchema)
		r.Register(&Handler{
			Def: Def{
				Name:        b.name + "__" + remoteName,
				Description: tool.Description,
				Parameters:  params,
			},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				return b.call(ctx, remoteName, args)
			},
		})
		slog.Debug("mcp tool registered", "server", b.name, "tool", remoteName)
	}
	return nil
}

func (b *MCPBridge) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	result, err := b.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp call %s/%s: %w", b.name, tool, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool error: %s", sb.String())
	}
	return sb.String(), nil
}

// Close terminates the session.
func (b *MCPBridge) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func newTransport(ctx context.Context, cfg config.MCPServerConfig, timeout time.Duration) (mcp.Transport, error) {
	switch {
	case strings.HasPrefix(cfg.Endpoint, "stdio://"):
		parts := strings.Fields(strings.TrimPrefix(cfg.Endpoint, "stdio://"))
		if len(parts) == 0 {
			return nil, fmt.Errorf("invalid stdio endpoint %q", cfg.Endpoint)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		if cfg.Token != "" {
			cmd.Env = append(cmd.Environ(), "MCP_TOKEN="+cfg.Token)
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case strings.HasPrefix(cfg.Endpoint, "http://"), strings.HasPrefix(cfg.Endpoint, "https://"):
		httpClient := &http.Client{Timeout: timeout}
		if cfg.Token != "" {
			httpClient.Transport = &authRoundTripper{
				base:       http.DefaultTransport,
				token:      cfg.Token,
				authHeader: cfg.AuthHeader,
			}
		}
		return &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient}, nil

	default:
		return nil, fmt.Errorf("unsupported endpoint scheme in %q", cfg.Endpoint)
	}
}

// authRoundTripper injects the bearer (or custom header) token.
type authRoundTripper struct {
	base       http.RoundTripper
	token      string
	authHeader string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.authHeader != "" {
		req.Header.Set(t.authHeader, t.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// schemaToMap converts the SDK's typed schema into the generic JSON-schema
// map the chat API expects.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}
