package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/figbridge/jobq"
	"github.com/hazyhaar/figbridge/kit"
)

// ServerName is the MCP implementation name announced to producers.
const ServerName = "figbridge"

const instructions = `You drive a Figma plugin through a job queue. ` +
	`Use enqueue_ops to submit a batch of drawing operations; every op needs a unique tempId, ` +
	`and parentTempId nests an op under an earlier op of the same batch. ` +
	`Use parentNodeId with an id from a previous job's result to add to existing nodes. ` +
	`After enqueuing, call get_job_status to wait for the plugin's result. ` +
	`Use read_node_tree to inspect what is currently on the canvas.`

const (
	detachedNote = "Warning: the plugin has not polled in the last %s. " +
		"Is the plugin open and connected? Queued jobs run once it reconnects."
	detachedRead = "The plugin is not connected (no poll in the last %s), so the node tree cannot be read. " +
		"Open the plugin in Figma, connect it to the bridge, then retry."
	readTimeoutText = "Timeout: executor did not respond within %s. Is the plugin open and connected?"
)

// NewMCPServer creates an MCP server carrying the bridge tools.
func (s *Service) NewMCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version},
		&mcp.ServerOptions{Instructions: instructions})
	s.RegisterMCP(srv)
	return srv
}

// StreamableHTTP serves srv over the MCP streamable HTTP transport.
func StreamableHTTP(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// RegisterMCP registers the producer tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerEnqueueTool(srv)
	s.registerStatusTool(srv)
	s.registerListTool(srv)
	s.registerReadTreeTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// toolError carries text shown verbatim to the producer.
type toolError struct {
	text string
	err  error
}

func (e *toolError) Error() string { return e.text }
func (e *toolError) Unwrap() error { return e.err }

func (s *Service) endpoint(name string, e kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, name))(e)
}

func (s *Service) detachedWarning() string {
	return fmt.Sprintf(detachedNote, s.queue.Live.Window())
}

// --- enqueue_ops ---

type enqueueReq struct {
	Ops []map[string]any `json:"ops"`
}

func (s *Service) registerEnqueueTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "enqueue_ops",
		Description: "Enqueue a batch of Figma design operations for the plugin to execute. " +
			"Each op has an \"op\" field (CREATE_FRAME, CREATE_RECTANGLE, CREATE_ELLIPSE, CREATE_TEXT, UPDATE_NODE, DELETE_NODE). " +
			"Create ops take tempId, name, x, y, fills [{r,g,b,a}], stroke, opacity and either parentTempId " +
			"(an earlier op in this batch) or parentNodeId (a real node id such as \"16:2\"). " +
			"Frames add w, h, cornerRadius, layoutMode, itemSpacing, padding*, alignment, clipsContent, dropShadow. " +
			"Text adds text, fontSize, fontFamily, fontWeight (\"Bold\" or 700), alignment, auto-resize, lineHeight, letterSpacing. " +
			"UPDATE_NODE and DELETE_NODE take nodeId. At most 100 ops per batch. Returns the job id.",
		InputSchema: inputSchema(map[string]any{
			"ops": map[string]any{
				"type":        "array",
				"description": "Operations, applied in order",
				"items":       map[string]any{"type": "object"},
			},
		}, []string{"ops"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*enqueueReq)
		snap, err := s.Enqueue(r.Ops)
		if err != nil {
			return nil, &toolError{text: "Validation error: " + err.Error(), err: err}
		}
		text := fmt.Sprintf("Job created: %s (%d ops)", snap.ID, snap.OpCount)
		if !s.Attached() {
			text += "\n\n" + s.detachedWarning()
		}
		return text, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[enqueueReq]())
}

// --- get_job_status ---

type statusReq struct {
	JobID       string   `json:"job_id"`
	WaitSeconds *float64 `json:"wait_seconds"`
}

// jobStatus renders result and error as null rather than omitting them.
type jobStatus struct {
	jobq.Snapshot
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "get_job_status",
		Description: "Get the status of an enqueued job (pending, in_progress, completed, failed). " +
			"Waits up to wait_seconds (default 15, max 60) for an unfinished job to finish. " +
			"A completed job's result maps each tempId to the real node id.",
		InputSchema: inputSchema(map[string]any{
			"job_id":       map[string]any{"type": "string", "description": "Id returned by enqueue_ops"},
			"wait_seconds": map[string]any{"type": "number", "description": "Seconds to wait for completion", "minimum": 0, "maximum": 60},
		}, []string{"job_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*statusReq)
		wait := DefaultStatusWait
		if r.WaitSeconds != nil {
			wait = waitDuration(*r.WaitSeconds)
		}
		snap, err := s.Status(ctx, r.JobID, wait)
		if errors.Is(err, ErrJobNotFound) {
			return nil, &toolError{text: "Job not found: " + r.JobID, err: err}
		}
		if err != nil {
			return nil, err
		}

		view := jobStatus{Snapshot: snap, Result: snap.Result}
		if snap.Error != "" {
			view.Error = &snap.Error
		}
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return nil, err
		}
		text := string(data)
		if !snap.Status.Terminal() && !s.Attached() {
			text += "\n\n" + s.detachedWarning()
		}
		return text, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[statusReq]())
}

// waitDuration converts producer seconds to a wait in [0, MaxStatusWait],
// clamping before the conversion so huge values cannot overflow.
func waitDuration(secs float64) time.Duration {
	if math.IsNaN(secs) || secs <= 0 {
		return 0
	}
	return time.Duration(min(secs, MaxStatusWait.Seconds()) * float64(time.Second))
}

// --- list_jobs ---

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "list_jobs",
		Description: "List all jobs with their status and op count, oldest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		jobs := s.Jobs()
		text := "No jobs."
		if len(jobs) > 0 {
			data, err := json.MarshalIndent(jobs, "", "  ")
			if err != nil {
				return nil, err
			}
			text = string(data)
		}
		if !s.Attached() {
			text += "\n\n" + s.detachedWarning()
		}
		return text, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), decode)
}

// --- read_node_tree ---

type readTreeReq struct {
	Depth *int `json:"depth"`
}

func (s *Service) registerReadTreeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "read_node_tree",
		Description: "Read the current Figma page's node tree (id, name, type, position, size, children) " +
			"down to depth levels (default 3, max 10). Waits up to 30 seconds for the plugin to answer.",
		InputSchema: inputSchema(map[string]any{
			"depth": map[string]any{"type": "integer", "description": "Tree depth to serialize", "minimum": 0, "maximum": MaxReadDepth},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*readTreeReq)
		depth := DefaultReadDepth
		if r.Depth != nil {
			depth = *r.Depth
		}
		data, outcome, err := s.ReadTree(ctx, depth)
		if errors.Is(err, ErrBadDepth) {
			return nil, &toolError{text: fmt.Sprintf("Invalid depth %d: must be between 0 and %d.", depth, MaxReadDepth), err: err}
		}
		if err != nil {
			return nil, err
		}
		switch outcome {
		case ReadDetached:
			return fmt.Sprintf(detachedRead, s.queue.Live.Window()), nil
		case ReadTimeout:
			return fmt.Sprintf(readTimeoutText, s.readTimeout), nil
		}
		return truncate(string(data), MaxTreeChars), nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[readTreeReq]())
}
