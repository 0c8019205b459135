package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/framescope/framescope/internal/config"
	"github.com/framescope/framescope/internal/embed"
	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/internal/query"
	"github.com/framescope/framescope/internal/store"
	"github.com/framescope/framescope/internal/telemetry"
	"github.com/framescope/framescope/pkg/searcher"
	"github.com/framescope/framescope/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "framescope"

// SearchService runs multi-modal keyframe searches.
type SearchService interface {
	Search(ctx context.Context, qs query.Structure, page, perPage int) (*searcher.SearchResult, error)
	Supports(m frame.Modality) bool
}

// SelectionService manages per-user frame selections.
type SelectionService interface {
	Toggle(ctx context.Context, user, key string, score float64) (bool, error)
	Selected(ctx context.Context, user string) ([]*frame.Frame, error)
	Clear(ctx context.Context, user string) error
	Annotate(ctx context.Context, user string, frames []*frame.Frame) error
}

// Server is the FrameScope MCP server. It bridges AI clients with the
// search service and the selection store.
type Server struct {
	mcp       *mcp.Server
	search    SearchService
	selection SelectionService
	embedder  embed.Embedder
	config    *config.Config
	logger    *slog.Logger

	frames int
	index  store.IndexInfo

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	// resources renders each registered resource URI.
	resources map[string]func(context.Context) ([]byte, error)

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search_keyframes",
		Description: "Search video keyframes by any mix of scene text, object positions on a 7x7 grid and tags. Results from each modality are fused by weighted reciprocal rank and paginated.",
	},
	{
		Name:        "toggle_selection",
		Description: "Select or deselect a keyframe for a user. Selected frames are marked in later search results and can be exported.",
	},
	{
		Name:        "list_selection",
		Description: "List the keyframes a user has selected, highest score first.",
	},
	{
		Name:        "clear_selection",
		Description: "Remove every selected keyframe of a user.",
	},
	{
		Name:        "index_status",
		Description: "Report the frame count, text index coverage, active embedder and searchable modalities. Use before searching to check which modalities are available.",
	},
}

// NewServer creates a new MCP server. The embedder may be nil, in which case
// index_status reports it as not configured.
func NewServer(svc SearchService, sel SelectionService, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("search service is required")
	}
	if sel == nil {
		return nil, errors.New("selection service is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		search:    svc,
		selection: sel,
		embedder:  embedder,
		config:    cfg,
		logger:    slog.Default(),
		resources: make(map[string]func(context.Context) ([]byte, error)),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// SetIndexInfo records the frame table size and the dense index description
// reported by index_status.
func (s *Server) SetIndexInfo(frames int, info store.IndexInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
	s.index = info
}

// SetMetrics sets the query metrics collector and registers the
// query_metrics resource.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// Serve runs the server on transport until ctx is canceled. Only "stdio"
// is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_failed", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name. args are decoded into the tool's input
// type the same way the MCP transport decodes them.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_keyframes":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.handleSearch(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "toggle_selection":
		var in ToggleSelectionInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleToggle(ctx, in)
	case "list_selection":
		var in UserInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, _, err := s.handleList(ctx, in)
		return out, err
	case "clear_selection":
		var in UserInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleClear(ctx, in)
	case "index_status":
		return s.handleIndexStatus(ctx), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) registerTools() {
	handlers := map[string]func(*mcp.Tool){
		"search_keyframes": func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.mcpSearchHandler) },
		"toggle_selection": func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.mcpToggleHandler) },
		"list_selection":   func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.mcpListHandler) },
		"clear_selection":  func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.mcpClearHandler) },
		"index_status":     func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, s.mcpIndexStatusHandler) },
	}
	for _, info := range tools {
		handlers[info.Name](&mcp.Tool{Name: info.Name, Description: info.Description})
		s.logger.Debug("mcp_tool_registered", slog.String("name", info.Name))
	}
	s.logger.Info("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) user(u string) string {
	if u != "" {
		return u
	}
	return s.config.Selection.User
}

// structure builds the query from tool input, filling omitted weights from
// the configured defaults.
func (s *Server) structure(in SearchInput) (query.Structure, error) {
	w := s.config.Weights()
	if in.TextWeight != nil {
		w.Text = *in.TextWeight
	}
	if in.ObjectWeight != nil {
		w.Object = *in.ObjectWeight
	}
	if in.TagWeight != nil {
		w.Tag = *in.TagWeight
	}
	qs, err := query.Build(query.Params{
		Text:       in.Text,
		Grid:       in.Grid,
		Logic:      in.Logic,
		MaxObjects: in.MaxObjects,
		Tag:        in.Tag,
		Entities:   in.Entities,
		Weights:    w,
	})
	if err != nil {
		return query.Structure{}, err
	}
	if !qs.Empty() {
		if err := qs.Weights().Validate(); err != nil {
			return query.Structure{}, err
		}
	}
	return qs, nil
}

func (s *Server) runSearch(ctx context.Context, in SearchInput) (*searcher.SearchResult, query.Structure, error) {
	qs, err := s.structure(in)
	if err != nil {
		return nil, qs, err
	}
	if qs.Empty() {
		return nil, qs, NewInvalidParamsError("at least one of text, grid, tag or entities is required")
	}
	page := in.Page
	if page == 0 {
		page = 1
	}

	res, err := s.search.Search(ctx, qs, page, in.PerPage)
	if err != nil {
		return nil, qs, err
	}
	if err := s.selection.Annotate(ctx, s.user(in.User), res.Frames); err != nil {
		// the ranking is still valid without selection marks
		s.logger.Warn("mcp_annotate_failed", slog.String("error", err.Error()))
	}
	return res, qs, nil
}

func (s *Server) handleSearch(ctx context.Context, in SearchInput) (SearchOutput, error) {
	start := time.Now()
	res, qs, err := s.runSearch(ctx, in)
	if err != nil {
		s.logger.Debug("mcp_search_failed", slog.String("error", err.Error()))
		return SearchOutput{}, MapError(err)
	}
	s.logger.Debug("mcp_search",
		slog.String("modalities", qs.Describe()),
		slog.Int("returned", len(res.Frames)),
		slog.Duration("latency", time.Since(start)))
	return ToSearchOutput(res), nil
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	res, qs, err := s.runSearch(ctx, in)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return textResult(FormatSearchResults(qs.Describe()+" query", res)), ToSearchOutput(res), nil
}

func (s *Server) handleToggle(ctx context.Context, in ToggleSelectionInput) (*ToggleSelectionOutput, error) {
	if in.Key == "" {
		return nil, NewInvalidParamsError("id parameter is required")
	}
	selected, err := s.selection.Toggle(ctx, s.user(in.User), in.Key, in.Score)
	if err != nil {
		return nil, MapError(err)
	}
	return &ToggleSelectionOutput{Key: in.Key, Selected: selected}, nil
}

func (s *Server) mcpToggleHandler(ctx context.Context, _ *mcp.CallToolRequest, in ToggleSelectionInput) (
	*mcp.CallToolResult,
	*ToggleSelectionOutput,
	error,
) {
	out, err := s.handleToggle(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) handleList(ctx context.Context, in UserInput) (*ListSelectionOutput, []*frame.Frame, error) {
	user := s.user(in.User)
	frames, err := s.selection.Selected(ctx, user)
	if err != nil {
		return nil, nil, MapError(err)
	}
	out := &ListSelectionOutput{User: user, Count: len(frames), Frames: make([]FrameOutput, 0, len(frames))}
	for _, f := range frames {
		out.Frames = append(out.Frames, ToFrameOutput(f))
	}
	return out, frames, nil
}

func (s *Server) mcpListHandler(ctx context.Context, _ *mcp.CallToolRequest, in UserInput) (
	*mcp.CallToolResult,
	*ListSelectionOutput,
	error,
) {
	out, frames, err := s.handleList(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return textResult(FormatSelection(out.User, frames)), out, nil
}

func (s *Server) handleClear(ctx context.Context, in UserInput) (*ClearSelectionOutput, error) {
	user := s.user(in.User)
	if err := s.selection.Clear(ctx, user); err != nil {
		return nil, MapError(err)
	}
	return &ClearSelectionOutput{User: user, Cleared: true}, nil
}

func (s *Server) mcpClearHandler(ctx context.Context, _ *mcp.CallToolRequest, in UserInput) (
	*mcp.CallToolResult,
	*ClearSelectionOutput,
	error,
) {
	out, err := s.handleClear(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) handleIndexStatus(ctx context.Context) *IndexStatusOutput {
	s.mu.RLock()
	frames, info := s.frames, s.index
	s.mu.RUnlock()

	out := &IndexStatusOutput{
		Frames: frames,
		Index: IndexInfo{
			Backend:    info.Backend,
			Location:   info.Location,
			Model:      info.Model,
			Dimensions: info.Dimensions,
			Metric:     info.Metric,
			Vectors:    info.Count,
			SizeBytes:  info.SizeBytes,
		},
		Embeddings: EmbeddingInfo{
			Provider: s.config.Embeddings.Provider,
			Status:   "not configured",
		},
		Modalities: []string{},
	}
	if frames > 0 {
		out.Index.Coverage = float64(info.Count) / float64(frames)
	}
	if !info.BuiltAt.IsZero() {
		out.Index.BuiltAt = info.BuiltAt.Format(time.RFC3339)
	}

	if s.embedder != nil {
		out.Embeddings.Model = s.embedder.ModelName()
		out.Embeddings.Dimensions = s.embedder.Dimensions()
		out.Embeddings.Status = "unavailable"
		if s.embedder.Available(ctx) {
			out.Embeddings.Status = "ready"
		}
	}

	for _, m := range frame.Modalities() {
		if s.search.Supports(m) {
			out.Modalities = append(out.Modalities, m.String())
		}
	}
	w := s.config.Weights()
	out.Weights = WeightsInfo{Text: w.Text, Object: w.Object, Tag: w.Tag}
	return out
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.handleIndexStatus(ctx), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
