package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bidev/playcast-ingest/internal/domain"
)

const protocolVersion = "2024-11-05"
const (
	defaultDiscoveryTimeoutMS = 5000
	minDiscoveryTimeoutMS     = 100
	defaultIngestPort         = 8080
	minPort                   = 1
	maxPort                   = 65535

	uploadNotificationMethod = "notifications/onFileUploaded"
)

type LocalHardwareLister interface {
	ListLocalHardware(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
}

// IngestController is the lifecycle surface behind the server tools.
type IngestController interface {
	Start(ctx context.Context, port int) (*domain.StartResult, error)
	Stop(ctx context.Context) (*domain.StopResult, error)
	Status() domain.ServerStatus
}

type Server struct {
	in                  *bufio.Reader
	serverName          string
	serverVersion       string
	logger              *slog.Logger
	defaultPort         int
	discoveryTimeoutMS  int
	tools               []tool
	localHardwareLister LocalHardwareLister
	ingestController    IngestController

	// initialized flips once the host has completed initialize; upload
	// notifications before that are dropped.
	initialized atomic.Bool

	// writeMu guards out and the output mode; notifications arrive from
	// upload goroutines while Run answers requests.
	writeMu           sync.Mutex
	out               *bufio.Writer
	useJSONLineOutput bool
	outputModeLocked  bool
}

type Config struct {
	ServerName          string
	ServerVersion       string
	Logger              *slog.Logger
	DefaultPort         int
	DiscoveryTimeoutMS  int
	LocalHardwareLister LocalHardwareLister
	IngestController    IngestController
}

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "playcast-ingest"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	if cfg.DefaultPort < minPort || cfg.DefaultPort > maxPort {
		cfg.DefaultPort = defaultIngestPort
	}
	if cfg.DiscoveryTimeoutMS < minDiscoveryTimeoutMS {
		cfg.DiscoveryTimeoutMS = defaultDiscoveryTimeoutMS
	}

	return &Server{
		in:                  bufio.NewReader(in),
		out:                 bufio.NewWriter(out),
		serverName:          cfg.ServerName,
		serverVersion:       cfg.ServerVersion,
		logger:              cfg.Logger,
		defaultPort:         cfg.DefaultPort,
		discoveryTimeoutMS:  cfg.DiscoveryTimeoutMS,
		tools:               staticTools(cfg.DefaultPort, cfg.DiscoveryTimeoutMS),
		localHardwareLister: cfg.LocalHardwareLister,
		ingestController:    cfg.IngestController,
	}
}

// Emit forwards a completed upload to the host as an onFileUploaded
// notification. It is a no-op until the host has initialized.
func (s *Server) Emit(event domain.NotificationEvent) {
	if !s.initialized.Load() {
		s.logLifecycle(slog.LevelDebug, "upload_notification_dropped", slog.String("filename", event.Filename))
		return
	}

	err := s.sendNotification(notification{
		JSONRPC: "2.0",
		Method:  uploadNotificationMethod,
		Params:  event,
	})
	if err != nil {
		s.logLifecycle(slog.LevelWarn, "upload_notification_failed", slog.String("error", err.Error()))
		return
	}
	s.logLifecycle(
		slog.LevelInfo,
		"upload_notification_sent",
		slog.String("filename", event.Filename),
		slog.String("type", string(event.Type)),
	)
}

func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		s.logLifecycle(slog.LevelDebug, "mcp_read_wait")
		payload, jsonLineInput, err := readMessage(s.in)
		if err != nil {
			if err == io.EOF {
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return nil
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", err.Error()))
			return err
		}
		s.lockOutputMode(jsonLineInput)
		s.logLifecycle(slog.LevelDebug, "mcp_message_received", slog.Int("bytes", len(payload)))

		if err := s.handle(ctx, payload); err != nil {
			s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) error {
	startedAt := time.Now()

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logCall("parse", "", startedAt, "-32700")
		return s.send(response{
			JSONRPC: "2.0",
			Error: &responseError{
				Code:    -32700,
				Message: "parse error",
			},
		})
	}

	if len(req.ID) == 0 {
		if req.Method == "notifications/initialized" {
			s.markInitialized()
		}
		return nil
	}

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		s.logCall(req.Method, "", startedAt, "-32600")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &responseError{
				Code:    -32600,
				Message: "invalid request",
			},
		})
	}

	switch req.Method {
	case "initialize":
		s.logCall("initialize", "", startedAt, "")
		defer s.markInitialized()
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
			ServerInfo: map[string]string{
				"name":    s.serverName,
				"version": s.serverVersion,
			},
			Instructions: "Use start_server to open the LAN upload page; uploads arrive as " + uploadNotificationMethod + " notifications.",
		}})
	case "tools/list":
		s.logCall("tools/list", "", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: toolsListResult{Tools: s.tools}})
	case "tools/call":
		return s.handleToolCall(ctx, req.ID, req.Params)
	default:
		s.logCall(req.Method, "", startedAt, "-32601")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &responseError{
				Code:    -32601,
				Message: "method not found",
			},
		})
	}
}

func (s *Server) handleToolCall(ctx context.Context, id json.RawMessage, rawParams json.RawMessage) error {
	startedAt := time.Now()

	params, err := decodeToolCallParams(rawParams)
	if err != nil {
		return s.sendInvalidParams("tools/call", "", startedAt, id)
	}

	switch params.Name {
	case "start_server":
		return s.handleStartServerCall(ctx, id, params.Arguments)
	case "stop_server":
		return s.handleStopServerCall(ctx, id, params.Arguments)
	case "get_status":
		return s.handleGetStatusCall(id, params.Arguments)
	case "list_local_hardware":
		return s.handleListLocalHardwareCall(ctx, id, params.Arguments)
	default:
		s.logCall(params.Name, "", startedAt, "TOOL_NOT_FOUND")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result: toolErrorResult(
				"TOOL_NOT_FOUND",
				fmt.Sprintf("unknown tool: %s", params.Name),
			),
		})
	}
}

func decodeToolCallParams(raw json.RawMessage) (toolsCallParams, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return toolsCallParams{}, err
	}

	nameRaw, ok := payload["name"]
	if !ok {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return toolsCallParams{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	arguments, ok := payload["arguments"]
	if !ok {
		flattened := map[string]json.RawMessage{}
		for key, value := range payload {
			if key == "name" || key == "_meta" {
				continue
			}
			flattened[key] = value
		}
		if len(flattened) > 0 {
			normalized, err := json.Marshal(flattened)
			if err != nil {
				return toolsCallParams{}, err
			}
			arguments = normalized
		}
	}

	if len(bytes.TrimSpace(arguments)) == 0 {
		arguments = json.RawMessage("{}")
	}

	return toolsCallParams{
		Name:      name,
		Arguments: arguments,
	}, nil
}

func (s *Server) handleStartServerCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	if s.ingestController == nil {
		return s.sendToolInternalError("start_server", "", startedAt, id, "ingest controller is not configured")
	}

	var args struct {
		Port *int `json:"port,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("start_server", "", startedAt, id)
	}

	port := s.defaultPort
	if args.Port != nil {
		port = *args.Port
	}
	if port < minPort || port > maxPort {
		return s.sendInvalidParams("start_server", "", startedAt, id)
	}

	result, err := s.ingestController.Start(ctx, port)
	if err != nil {
		s.logCall("start_server", "", startedAt, toolErrorCode(err))
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResultFromError(err),
		})
	}
	s.logCall("start_server", result.URL, startedAt, "")

	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: toolCallResult{
			Content: []toolContent{
				{
					Type: "text",
					Text: fmt.Sprintf("%s. Open %s on a device in the same network to upload.", result.Message, result.URL),
				},
			},
			StructuredContent: result,
		},
	})
}

func (s *Server) handleStopServerCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	if s.ingestController == nil {
		return s.sendToolInternalError("stop_server", "", startedAt, id, "ingest controller is not configured")
	}

	var args struct{}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("stop_server", "", startedAt, id)
	}

	result, err := s.ingestController.Stop(ctx)
	if err != nil {
		s.logCall("stop_server", "", startedAt, toolErrorCode(err))
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResultFromError(err),
		})
	}
	s.logCall("stop_server", "", startedAt, "")

	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: toolCallResult{
			Content: []toolContent{
				{
					Type: "text",
					Text: result.Message + ".",
				},
			},
			StructuredContent: result,
		},
	})
}

func (s *Server) handleGetStatusCall(id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	if s.ingestController == nil {
		return s.sendToolInternalError("get_status", "", startedAt, id, "ingest controller is not configured")
	}

	var args struct{}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return s.sendInvalidParams("get_status", "", startedAt, id)
	}

	status := s.ingestController.Status()
	s.logCall("get_status", "", startedAt, "")

	text := "Server is stopped."
	if status.IsRunning {
		text = fmt.Sprintf("Server is running on port %d.", status.Port)
	}
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: toolCallResult{
			Content: []toolContent{
				{
					Type: "text",
					Text: text,
				},
			},
			StructuredContent: status,
		},
	})
}

func (s *Server) handleListLocalHardwareCall(ctx context.Context, id json.RawMessage, rawArgs json.RawMessage) error {
	startedAt := time.Now()

	if s.localHardwareLister == nil {
		return s.sendToolInternalError("list_local_hardware", "", startedAt, id, "discovery service is not configured")
	}

	timeoutMS := s.discoveryTimeoutMS
	includeUnreachable := false
	if len(rawArgs) > 0 {
		var args struct {
			TimeoutMS          *int  `json:"timeout_ms,omitempty"`
			IncludeUnreachable *bool `json:"include_unreachable,omitempty"`
		}
		if err := decodeStrict(rawArgs, &args); err != nil {
			return s.sendInvalidParams("list_local_hardware", "", startedAt, id)
		}
		if args.TimeoutMS != nil {
			if *args.TimeoutMS < minDiscoveryTimeoutMS {
				return s.sendInvalidParams("list_local_hardware", "", startedAt, id)
			}
			timeoutMS = *args.TimeoutMS
		}
		if args.IncludeUnreachable != nil {
			includeUnreachable = *args.IncludeUnreachable
		}
	}
	s.logLifecycle(
		slog.LevelDebug,
		"list_local_hardware_request",
		slog.Int("timeout_ms", timeoutMS),
		slog.Bool("include_unreachable", includeUnreachable),
	)

	devices, err := s.localHardwareLister.ListLocalHardware(ctx, timeoutMS, includeUnreachable)
	if err != nil {
		s.logCall("list_local_hardware", "", startedAt, domain.CodeInternalError)
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResult(domain.CodeInternalError, err.Error()),
		})
	}
	s.logLifecycle(slog.LevelDebug, "list_local_hardware_result", slog.Int("discovered_count", len(devices)))
	s.logCall("list_local_hardware", "", startedAt, "")
	summaryText := fmt.Sprintf("Discovered %d device(s).", len(devices))
	if len(devices) > 0 {
		summaryText += "\n" + formatDiscoveredDevices(devices)
	}

	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: toolCallResult{
			Content: []toolContent{
				{
					Type: "text",
					Text: summaryText,
				},
			},
			StructuredContent: map[string]any{
				"count":   len(devices),
				"devices": devices,
			},
		},
	})
}

func decodeStrict(raw json.RawMessage, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON payload")
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("invalid JSON payload")
	}
	return nil
}

func (s *Server) sendInvalidParams(method, detail string, startedAt time.Time, id json.RawMessage) error {
	s.logCall(method, detail, startedAt, "-32602")
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &responseError{
			Code:    -32602,
			Message: "invalid params",
		},
	})
}

func (s *Server) sendToolInternalError(method, detail string, startedAt time.Time, id json.RawMessage, message string) error {
	s.logCall(method, detail, startedAt, domain.CodeInternalError)
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  toolErrorResult(domain.CodeInternalError, message),
	})
}

func toolErrorResult(code, message string) toolCallResult {
	return toolCallResult{
		Content: []toolContent{
			{
				Type: "text",
				Text: fmt.Sprintf("%s: %s", code, message),
			},
		},
		StructuredContent: map[string]any{
			"error": map[string]string{
				"code":    code,
				"message": message,
			},
		},
		IsError: true,
	}
}

func toolErrorResultFromError(err error) toolCallResult {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil {
		result := toolErrorResult(tErr.Code, tErr.Message)
		structured := map[string]any{
			"error": map[string]any{
				"code":    tErr.Code,
				"message": tErr.Message,
			},
		}
		if len(tErr.Limitations) > 0 {
			structured["error"].(map[string]any)["limitations"] = tErr.Limitations
		}
		if len(tErr.SuggestedFixes) > 0 {
			structured["error"].(map[string]any)["suggested_fixes"] = tErr.SuggestedFixes
		}
		if len(tErr.Details) > 0 {
			structured["error"].(map[string]any)["details"] = tErr.Details
		}
		result.StructuredContent = structured
		return result
	}

	return toolErrorResult(domain.CodeInternalError, err.Error())
}

func toolErrorCode(err error) string {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil && strings.TrimSpace(tErr.Code) != "" {
		return tErr.Code
	}
	return domain.CodeInternalError
}

func (s *Server) logCall(method, detail string, startedAt time.Time, errorCode string) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if strings.TrimSpace(errorCode) != "" {
		level = slog.LevelError
	}

	s.logger.Log(
		context.Background(),
		level,
		"mcp_call",
		slog.String("method", strings.TrimSpace(method)),
		slog.String("detail", strings.TrimSpace(detail)),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", strings.TrimSpace(errorCode)),
	)
}

func (s *Server) send(resp response) error {
	return s.write(resp)
}

func (s *Server) sendNotification(n notification) error {
	return s.write(n)
}

func (s *Server) write(msg any) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.logLifecycle(slog.LevelDebug, "mcp_send", slog.Int("bytes", len(encoded)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.useJSONLineOutput {
		return writeJSONLineMessage(s.out, encoded)
	}
	return writeFramedMessage(s.out, encoded)
}

// lockOutputMode mirrors the framing of the first inbound message.
func (s *Server) lockOutputMode(jsonLineInput bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.outputModeLocked {
		return
	}
	s.useJSONLineOutput = jsonLineInput
	s.outputModeLocked = true
	s.logLifecycle(
		slog.LevelDebug,
		"mcp_output_mode",
		slog.String("mode", map[bool]string{true: "jsonline", false: "framed"}[jsonLineInput]),
	)
}

func (s *Server) markInitialized() {
	if s.initialized.CompareAndSwap(false, true) {
		s.logLifecycle(slog.LevelInfo, "mcp_initialized")
	}
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}

func formatDiscoveredDevices(devices []domain.Device) string {
	var out strings.Builder
	for i, dev := range devices {
		if i > 0 {
			out.WriteByte('\n')
		}
		fmt.Fprintf(
			&out,
			"%d. id=%s name=%s protocol=%s address=%s",
			i+1,
			strings.TrimSpace(dev.ID),
			strings.TrimSpace(dev.Name),
			strings.TrimSpace(dev.Protocol),
			strings.TrimSpace(dev.Address),
		)
	}
	return out.String()
}

func staticTools(defaultPort, discoveryTimeoutMS int) []tool {
	return []tool{
		{
			Name:        "start_server",
			Description: "Start the LAN upload server. Returns the URL that phones or laptops on the same network open to send playlists, videos, or audio files.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"port": map[string]any{
						"type":        "integer",
						"minimum":     minPort,
						"maximum":     maxPort,
						"default":     defaultPort,
						"description": "TCP port to listen on, on all interfaces.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "stop_server",
			Description: "Stop the LAN upload server and release its port. Uploads in flight are cut off.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name:        "get_status",
			Description: "Report whether the upload server is running and on which port.",
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name:        "list_local_hardware",
			Description: "Discover Chromecast and DLNA/UPnP renderers on the local network, with the upload types each can play.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timeout_ms": map[string]any{
						"type":        "integer",
						"minimum":     minDiscoveryTimeoutMS,
						"default":     discoveryTimeoutMS,
						"description": "Discovery timeout in milliseconds. Increase this if devices are slow to respond.",
					},
					"include_unreachable": map[string]any{
						"type":        "boolean",
						"default":     false,
						"description": "Include devices that fail immediate reachability checks. Useful if a known device is temporarily sleeping.",
					},
				},
				"additionalProperties": false,
			},
		},
	}
}
