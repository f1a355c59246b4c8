package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Siddhant412/chatgpt-notes-app/internal/notestore"
	"github.com/Siddhant412/chatgpt-notes-app/internal/widget"
	"pkt.systems/pslog"
)

// ToolsListResponse mirrors a canonical JSON-RPC tools/list result payload.
type ToolsListResponse struct {
	ID      int                 `json:"id"`
	JSONRPC string              `json:"jsonrpc"`
	Result  ToolsListResultBody `json:"result"`
}

// ToolsListResultBody is the JSON-RPC "result" object for tools/list.
type ToolsListResultBody struct {
	Tools      []*mcpsdk.Tool `json:"tools"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

var errSnapshotStore = errors.New("note store unavailable while listing tools")

// unavailableStore lets the tool registry be materialised without a database.
type unavailableStore struct{}

func (unavailableStore) List(context.Context) ([]notestore.Note, error) {
	return nil, errSnapshotStore
}

func (unavailableStore) Get(context.Context, string) (notestore.Note, bool, error) {
	return notestore.Note{}, false, errSnapshotStore
}

func (unavailableStore) Create(context.Context, string, string) (notestore.Note, error) {
	return notestore.Note{}, errSnapshotStore
}

func (unavailableStore) Update(context.Context, string, notestore.Patch) (notestore.Note, bool, error) {
	return notestore.Note{}, false, errSnapshotStore
}

func (unavailableStore) Delete(context.Context, string) error {
	return errSnapshotStore
}

// BuildToolsListResponse builds a canonical tools/list payload in-process.
//
// This does not start an HTTP listener, does not open the note store and does
// not need a built widget bundle. It only materializes the MCP tool registry.
func BuildToolsListResponse(ctx context.Context) (ToolsListResponse, error) {
	logger := pslog.NoopLogger()
	s := &server{
		logger:       logger,
		lifecycleLog: logger,
		transportLog: logger,
		toolsLog:     logger,
		store:        unavailableStore{},
		bundle:       widget.Static(widget.Assets{}),
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "notesd-tools-list",
		Version: "0.1.0",
	}, nil)
	t1, t2 := mcpsdk.NewInMemoryTransports()
	ss, err := s.newMCPServer().Connect(ctx, t1, nil)
	if err != nil {
		return ToolsListResponse{}, err
	}
	defer ss.Close()

	cs, err := client.Connect(ctx, t2, nil)
	if err != nil {
		return ToolsListResponse{}, err
	}
	defer cs.Close()

	list, err := cs.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return ToolsListResponse{}, err
	}
	return ToolsListResponse{
		ID:      1,
		JSONRPC: "2.0",
		Result: ToolsListResultBody{
			Tools:      list.Tools,
			NextCursor: list.NextCursor,
		},
	}, nil
}

// BuildToolsListResponseJSON returns pretty-printed tools/list JSON payload.
func BuildToolsListResponseJSON(ctx context.Context) ([]byte, error) {
	resp, err := BuildToolsListResponse(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
