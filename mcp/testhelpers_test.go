package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Siddhant412/chatgpt-notes-app/internal/clock"
	"github.com/Siddhant412/chatgpt-notes-app/internal/notestore"
	"github.com/Siddhant412/chatgpt-notes-app/internal/notesview"
	"github.com/Siddhant412/chatgpt-notes-app/internal/widget"
)

type testServerOptions struct {
	store        NoteStore
	cfg          Config
	newSessionID func() string
}

func newTestServer(t *testing.T, opts testServerOptions) (*server, *clock.Manual) {
	t.Helper()

	clk := clock.NewManual(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	store := opts.store
	if store == nil {
		st, err := notestore.Open(context.Background(), notestore.Config{DataDir: t.TempDir(), Clock: clk})
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		store = st
	}
	srv, err := NewServer(NewServerRequest{
		Config:       opts.cfg,
		Store:        store,
		Bundle:       widget.Static(widget.Assets{JS: "render()", CSS: ".n{}"}),
		Clock:        clk,
		NewSessionID: opts.newSessionID,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	s := srv.(*server)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.sessions.Close(ctx)
	})
	return s, clk
}

func connectInMemory(t *testing.T, s *server) *mcpsdk.ClientSession {
	t.Helper()

	ctx := context.Background()
	t1, t2 := mcpsdk.NewInMemoryTransports()
	ss, err := s.newMCPServer().Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "notes-test", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Close()
	})
	return cs
}

func callTool(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) *mcpsdk.CallToolResult {
	t.Helper()

	if args == nil {
		args = map[string]any{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return res
}

func callView(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any) notesview.View {
	t.Helper()

	res := callTool(t, cs, name, args)
	if res.IsError {
		t.Fatalf("%s returned tool error: %s", name, resultText(res))
	}
	if len(res.Content) != 0 {
		t.Fatalf("%s: expected empty content, got %d items", name, len(res.Content))
	}
	return decodeView(t, res.StructuredContent)
}

func decodeView(t *testing.T, structured any) notesview.View {
	t.Helper()

	raw, err := json.Marshal(structured)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var view notesview.View
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode view %s: %v", raw, err)
	}
	return view
}

func resultText(res *mcpsdk.CallToolResult) string {
	for _, c := range res.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
