package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/controller/status"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/houseflow-core/internal/provider"
)

// Tool names.
const (
	ToolListAccessories     = "list_accessories"
	ToolReadCharacteristic  = "read_characteristic"
	ToolWriteCharacteristic = "write_characteristic"
)

const (
	serverName      = "houseflow"
	shutdownTimeout = 5 * time.Second
)

// StatusSource lists the last-known state of accessories.
type StatusSource interface {
	Accessories(ctx context.Context) ([]status.Snapshot, error)
}

// Options configures a Server.
type Options struct {
	Config   config.MCPConfig
	Provider provider.Provider

	// Status backs list_accessories. The tool is omitted when nil.
	Status StatusSource

	Version string
	Logger  *logging.Logger
}

// Server serves the tool set over SSE.
type Server struct {
	cfg      config.MCPConfig
	provider provider.Provider
	status   StatusSource
	logger   *logging.Logger
	mcp      *server.MCPServer
}

// New registers the tools. Nothing listens until Run.
func New(opts Options) (*Server, error) {
	if opts.Provider == nil {
		return nil, errors.New("mcp: provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:      opts.Config,
		provider: opts.Provider,
		status:   opts.Status,
		logger:   logger.Component("mcp"),
		mcp:      server.NewMCPServer(serverName, version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying tool server, for stdio or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Run serves SSE on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	sse := server.NewSSEServer(s.mcp, server.WithBaseURL("http://"+addr))

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server starting", "address", addr)
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp: serving %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("MCP server shutting down")
	if err := sse.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mcp: shutting down: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	if s.status != nil {
		s.mcp.AddTool(mcpgo.NewTool(ToolListAccessories,
			mcpgo.WithDescription("List every known accessory with its room, online state and last reported characteristic values"),
		), s.handleListAccessories)
	}

	s.mcp.AddTool(mcpgo.NewTool(ToolReadCharacteristic,
		mcpgo.WithDescription("Read the current value of one characteristic from a connected accessory"),
		mcpgo.WithString("accessory_id",
			mcpgo.Required(),
			mcpgo.Description("Accessory UUID"),
		),
		mcpgo.WithString("service",
			mcpgo.Required(),
			mcpgo.Description("Service name, e.g. switch or garage-door-opener"),
		),
		mcpgo.WithString("characteristic",
			mcpgo.Required(),
			mcpgo.Description("Characteristic name, e.g. on-off or current-temperature"),
		),
	), s.handleReadCharacteristic)

	s.mcp.AddTool(mcpgo.NewTool(ToolWriteCharacteristic,
		mcpgo.WithDescription("Write a writable characteristic on a connected accessory"),
		mcpgo.WithString("accessory_id",
			mcpgo.Required(),
			mcpgo.Description("Accessory UUID"),
		),
		mcpgo.WithString("service",
			mcpgo.Required(),
			mcpgo.Description("Service name, e.g. switch or garage-door-opener"),
		),
		mcpgo.WithObject("characteristic",
			mcpgo.Required(),
			mcpgo.Description(`Characteristic object tagged by name, e.g. {"name": "on-off", "on": true}`),
		),
	), s.handleWriteCharacteristic)
}

func (s *Server) handleListAccessories(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	snapshots, err := s.status.Accessories(ctx)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("listing accessories: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"accessories": snapshots,
		"count":       len(snapshots),
	})
}

func (s *Server) handleReadCharacteristic(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, service, err := target(request)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	raw, err := request.RequireString("characteristic")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	name, err := accessory.ParseCharacteristicName(raw)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if !service.Supports(name) {
		return mcpgo.NewToolResultError(fmt.Sprintf("%s: %s has no %s", accessory.ErrCharacteristicNotSupported, service, name)), nil
	}

	c, err := s.provider.ReadCharacteristic(ctx, id, service, name)
	if err != nil {
		s.logger.Debug("tool read failed", "accessory_id", id.String(), "characteristic", name, "error", err)
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	return jsonResult(c)
}

func (s *Server) handleWriteCharacteristic(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	id, service, err := target(request)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	value, ok := request.GetArguments()["characteristic"]
	if !ok {
		return mcpgo.NewToolResultError(`required argument "characteristic" not found`), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("encoding characteristic: %v", err)), nil
	}
	c, err := accessory.UnmarshalCharacteristic(data)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if !service.Supports(c.Name()) {
		return mcpgo.NewToolResultError(fmt.Sprintf("%s: %s has no %s", accessory.ErrCharacteristicNotSupported, service, c.Name())), nil
	}
	if !c.Writable() {
		return mcpgo.NewToolResultError(accessory.ErrCharacteristicReadOnly.Error()), nil
	}

	if err := s.provider.WriteCharacteristic(ctx, id, service, c); err != nil {
		s.logger.Debug("tool write failed", "accessory_id", id.String(), "characteristic", c.Name(), "error", err)
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	s.logger.Info("characteristic written", "accessory_id", id.String(), "service", service, "characteristic", c.Name())
	return mcpgo.NewToolResultText(fmt.Sprintf("wrote %s on %s", c.Name(), id)), nil
}

func target(request mcpgo.CallToolRequest) (uuid.UUID, accessory.ServiceName, error) {
	rawID, err := request.RequireString("accessory_id")
	if err != nil {
		return uuid.Nil, "", err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid accessory_id %q: %w", rawID, err)
	}
	rawService, err := request.RequireString("service")
	if err != nil {
		return uuid.Nil, "", err
	}
	service, err := accessory.ParseServiceName(rawService)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, service, nil
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcpgo.NewToolResultText(string(data)), nil
}
