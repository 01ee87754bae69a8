// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes casefile sessions for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/caseservice"
	"github.com/starford/casefile/internal/workflow"
)

const contractURI = "casefile://checkpoint-contract"

// Server wraps the MCP server with casefile tools.
type Server struct {
	mcp *server.MCPServer
	svc *caseservice.Service
}

// New creates a new MCP server with all casefile tools registered.
func New(svc *caseservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Casefile",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List every session with its phase and status."),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("get_checkpoint",
		mcp.WithDescription("Get the checkpoint a session is waiting on, with its payload and checksum."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), s.getCheckpoint)

	s.mcp.AddTool(mcp.NewTool("get_session_state",
		mcp.WithDescription("Get the full state of a session: input, evidence, arcs, outline, article and failure."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), s.getSessionState)

	s.mcp.AddTool(mcp.NewTool("approve_checkpoint",
		mcp.WithDescription("Answer the pending checkpoint of a session. "+
			"Read the contract first via get_checkpoint_contract or the "+contractURI+" resource."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Checkpoint type being answered"),
			mcp.Enum("input-review", "evidence-bundle", "arc-selection", "outline", "article")),
		mcp.WithBoolean("approved", mcp.Description("Accept the checkpoint as it stands")),
		mcp.WithArray("selected_arc_ids", mcp.WithStringItems(), mcp.Description("Arc ids to keep (arc-selection only)")),
		mcp.WithString("feedback", mcp.Description("Reviewer note; regenerates the phase")),
		mcp.WithString("if_match", mcp.Description("Checksum of the checkpoint that was read")),
	), s.approveCheckpoint)

	s.mcp.AddTool(mcp.NewTool("rollback_session",
		mcp.WithDescription("Return a session to a checkpoint it already reached, discarding later work."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Checkpoint to return to"),
			mcp.Enum("input-review", "evidence-bundle", "arc-selection", "outline", "article")),
		mcp.WithString("feedback", mcp.Description("Note the regenerated phase must address")),
		mcp.WithBoolean("regenerate", mcp.Description("Regenerate the target's own artifact")),
	), s.rollbackSession)

	s.mcp.AddTool(mcp.NewTool("cache_stats",
		mcp.WithDescription("Summarise the entity cache: rows and last sync per collection."),
	), s.cacheStats)

	s.mcp.AddTool(mcp.NewTool("refresh_cache",
		mcp.WithDescription("Bring the cache of a collection up to date with the records vault."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Collection to refresh"),
			mcp.Enum("token", "character", "timeline", "photo", caseservice.RefreshAll)),
	), s.refreshCache)

	s.mcp.AddTool(mcp.NewTool("get_checkpoint_contract",
		mcp.WithDescription("Returns the checkpoint contract. "+
			"Call this before approving checkpoints to know which responses are valid."),
	), s.getCheckpointContract)

	// Resource: checkpoint contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Checkpoint Contract",
			mcp.WithResourceDescription("How each checkpoint type is answered."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	if kind := apperr.KindOf(err); kind != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", kind, err.Error()))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.svc.Sessions(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("no sessions"), nil
	}
	return jsonResult(list)
}

func (s *Server) getCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cp, _, err := s.svc.Checkpoint(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(cp)
}

func (s *Server) getSessionState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.svc.Session(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(st)
}

func (s *Server) approveCheckpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp := workflow.Response{
		Type:           workflow.CheckpointType(typ),
		Approved:       req.GetBool("approved", false),
		SelectedArcIDs: req.GetStringSlice("selected_arc_ids", nil),
		Feedback:       req.GetString("feedback", ""),
	}
	st, err := s.svc.Approve(ctx, id, resp, req.GetString("if_match", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(summary(st))
}

func (s *Server) rollbackSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rb := workflow.RollbackRequest{Target: workflow.CheckpointType(target)}
	fb := req.GetString("feedback", "")
	regen := req.GetBool("regenerate", false)
	if fb != "" || regen {
		rb.Overrides = &workflow.Overrides{Feedback: fb, Regenerate: regen}
	}
	st, err := s.svc.Rollback(ctx, id, rb)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(summary(st))
}

func (s *Server) cacheStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.svc.CacheStats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(stats)
}

func (s *Server) refreshCache(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stats, err := s.svc.Refresh(ctx, typ)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(stats)
}

func (s *Server) getCheckpointContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CheckpointContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     CheckpointContract,
		},
	}, nil
}

// sessionSummary is what a tool reports after moving a session.
type sessionSummary struct {
	ID       string                  `json:"id"`
	Phase    workflow.Phase          `json:"phase"`
	Status   workflow.Status         `json:"status"`
	Pending  workflow.CheckpointType `json:"pending,omitempty"`
	Checksum string                  `json:"checksum,omitempty"`
	Failure  *workflow.Failure       `json:"failure,omitempty"`
}

func summary(st *workflow.State) sessionSummary {
	out := sessionSummary{ID: st.SessionID, Phase: st.Phase, Status: st.Status, Failure: st.Failure}
	if st.Pending != nil {
		out.Pending = st.Pending.Type
		out.Checksum = st.Pending.Checksum
	}
	return out
}
