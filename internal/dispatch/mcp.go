package dispatch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hark-voice/hark/internal/config"
	"github.com/hark-voice/hark/pkg/types"
)

// Compile-time interface check.
var _ Executor = (*MCPExecutor)(nil)

// MCPExecutor runs actions as tool calls against an MCP automation server.
// Action names map one-to-one to tool names; slot values become the tool
// arguments. Construct with [NewMCPExecutor] and release with
// [MCPExecutor.Close].
type MCPExecutor struct {
	session *mcpsdk.ClientSession
}

// NewMCPExecutor connects to the MCP server described by cfg. A non-empty
// Command selects the stdio transport (the string is split on spaces into
// executable and arguments); otherwise URL selects streamable HTTP.
func NewMCPExecutor(ctx context.Context, cfg config.MCPServerConfig) (*MCPExecutor, error) {
	var transport mcpsdk.Transport
	switch {
	case cfg.Command != "":
		parts := strings.Fields(cfg.Command)
		transport = &mcpsdk.CommandTransport{
			Command: exec.CommandContext(ctx, parts[0], parts[1:]...),
		}
	case cfg.URL != "":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return nil, fmt.Errorf("mcp executor: either command or url must be set")
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "hark", Version: "1.0.0"},
		nil,
	)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp executor: connect: %w", err)
	}
	return &MCPExecutor{session: session}, nil
}

// Execute implements [Executor] by calling the tool named after the action.
func (e *MCPExecutor) Execute(ctx context.Context, action types.Action) (Result, error) {
	args := make(map[string]any, len(action.Slots))
	for k, v := range action.Slots {
		args[k] = v
	}

	res, err := e.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      action.Name,
		Arguments: args,
	})
	if err != nil {
		return Result{}, fmt.Errorf("mcp executor: call %q: %w", action.Name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return Result{Success: !res.IsError, Detail: sb.String()}, nil
}

// Close shuts down the server connection.
func (e *MCPExecutor) Close() error {
	return e.session.Close()
}
