package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Siddhant412/chatgpt-notes-app/internal/notestore"
)

func TestRenderNotesEmptyStore(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)

	for _, name := range []string{toolRenderNotes, toolListNotes} {
		view := callView(t, cs, name, nil)
		if len(view.Notes) != 0 || view.SelectedID != nil || view.Selected != nil {
			t.Fatalf("%s: expected empty view, got %+v", name, view)
		}
	}
}

func TestCreateListUpdateDeleteScenario(t *testing.T) {
	t.Parallel()

	s, clk := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)

	created := callView(t, cs, toolCreateNote, map[string]any{"title": "  Groceries  ", "body": "milk"})
	if len(created.Notes) != 1 || created.Selected == nil {
		t.Fatalf("unexpected create view %+v", created)
	}
	id := created.Notes[0].ID
	if created.SelectedID == nil || *created.SelectedID != id {
		t.Fatalf("expected new note selected, got %v", created.SelectedID)
	}
	if created.Selected.Title != "Groceries" || created.Selected.Body != "milk" {
		t.Fatalf("title not trimmed or body lost: %+v", created.Selected)
	}

	clk.Advance(time.Second)
	second := callView(t, cs, toolCreateNote, map[string]any{"title": "Todo"})
	if second.Selected == nil || second.Selected.Body != "" {
		t.Fatalf("expected default empty body, got %+v", second.Selected)
	}
	if len(second.Notes) != 2 || second.Notes[0].Title != "Todo" {
		t.Fatalf("expected newest first, got %+v", second.Notes)
	}

	clk.Advance(time.Second)
	updated := callView(t, cs, toolUpdateNote, map[string]any{"id": id, "body": "milk, eggs"})
	if updated.Selected == nil || updated.Selected.Title != "Groceries" || updated.Selected.Body != "milk, eggs" {
		t.Fatalf("unexpected update view %+v", updated.Selected)
	}
	if updated.Notes[0].ID != id {
		t.Fatalf("updated note should sort first, got %+v", updated.Notes)
	}

	got := callView(t, cs, toolGetNote, map[string]any{"id": id})
	if got.Selected == nil || got.Selected.Body != "milk, eggs" {
		t.Fatalf("unexpected get view %+v", got)
	}

	deleted := callView(t, cs, toolDeleteNote, map[string]any{"id": id})
	if len(deleted.Notes) != 1 || deleted.Notes[0].Title != "Todo" {
		t.Fatalf("unexpected delete view %+v", deleted.Notes)
	}
	if deleted.Selected == nil || deleted.Selected.Title != "Todo" {
		t.Fatalf("expected default selection after delete, got %+v", deleted.Selected)
	}
}

func TestGroceriesRoundTrip(t *testing.T) {
	t.Parallel()

	s, clk := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)

	created := callView(t, cs, toolCreateNote, map[string]any{"title": "Groceries", "body": "milk"})
	if created.Selected == nil || created.Selected.Title != "Groceries" {
		t.Fatalf("unexpected create view %+v", created)
	}
	id := created.Selected.ID

	clk.Advance(250 * time.Millisecond)
	updated := callView(t, cs, toolUpdateNote, map[string]any{"id": id, "body": "milk, eggs"})
	if updated.Selected == nil || updated.Selected.Body != "milk, eggs" {
		t.Fatalf("unexpected update view %+v", updated.Selected)
	}
	if updated.Selected.UpdatedAt <= created.Selected.UpdatedAt {
		t.Fatalf("updated_at not advanced: %s -> %s", created.Selected.UpdatedAt, updated.Selected.UpdatedAt)
	}

	callView(t, cs, toolDeleteNote, map[string]any{"id": id})
	listed := callView(t, cs, toolListNotes, nil)
	if len(listed.Notes) != 0 || listed.SelectedID != nil || listed.Selected != nil {
		t.Fatalf("expected empty view after delete, got %+v", listed)
	}
}

func TestGetUnknownNoteKeepsSelection(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)
	callView(t, cs, toolCreateNote, map[string]any{"title": "one"})

	view := callView(t, cs, toolGetNote, map[string]any{"id": "missing"})
	if view.SelectedID == nil || *view.SelectedID != "missing" || view.Selected != nil {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(view.Notes) != 1 {
		t.Fatalf("expected notes listed, got %+v", view.Notes)
	}
}

func TestUpdateUnknownReturnsDefaultView(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)
	created := callView(t, cs, toolCreateNote, map[string]any{"title": "one"})

	view := callView(t, cs, toolUpdateNote, map[string]any{"id": "missing", "title": "x"})
	if view.SelectedID == nil || *view.SelectedID != created.Notes[0].ID {
		t.Fatalf("expected default selection, got %v", view.SelectedID)
	}
	if view.Selected == nil || view.Selected.Title != "one" {
		t.Fatalf("unknown update changed data: %+v", view.Selected)
	}
}

func TestUpdateWithoutFieldsKeepsTimestamp(t *testing.T) {
	t.Parallel()

	s, clk := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)
	created := callView(t, cs, toolCreateNote, map[string]any{"title": "one", "body": "b"})
	clk.Advance(time.Minute)

	view := callView(t, cs, toolUpdateNote, map[string]any{"id": created.Notes[0].ID})
	if view.Selected == nil || view.Selected.UpdatedAt != created.Selected.UpdatedAt {
		t.Fatalf("empty update changed updated_at: %+v vs %+v", view.Selected, created.Selected)
	}
}

func TestUpdateExplicitEmptyValues(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)
	created := callView(t, cs, toolCreateNote, map[string]any{"title": "one", "body": "b"})

	view := callView(t, cs, toolUpdateNote, map[string]any{"id": created.Notes[0].ID, "title": "", "body": ""})
	if view.Selected == nil || view.Selected.Title != "" || view.Selected.Body != "" {
		t.Fatalf("explicit empty values not applied: %+v", view.Selected)
	}
}

func TestDeleteUnknownIsNotAnError(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)
	callView(t, cs, toolCreateNote, map[string]any{"title": "keep"})

	view := callView(t, cs, toolDeleteNote, map[string]any{"id": "missing"})
	if len(view.Notes) != 1 {
		t.Fatalf("expected note kept, got %+v", view.Notes)
	}
}

type countingStore struct {
	NoteStore
	calls atomic.Int64
}

func (c *countingStore) List(ctx context.Context) ([]notestore.Note, error) {
	c.calls.Add(1)
	return c.NoteStore.List(ctx)
}

func (c *countingStore) Get(ctx context.Context, id string) (notestore.Note, bool, error) {
	c.calls.Add(1)
	return c.NoteStore.Get(ctx, id)
}

func (c *countingStore) Create(ctx context.Context, title, body string) (notestore.Note, error) {
	c.calls.Add(1)
	return c.NoteStore.Create(ctx, title, body)
}

func (c *countingStore) Update(ctx context.Context, id string, patch notestore.Patch) (notestore.Note, bool, error) {
	c.calls.Add(1)
	return c.NoteStore.Update(ctx, id, patch)
}

func (c *countingStore) Delete(ctx context.Context, id string) error {
	c.calls.Add(1)
	return c.NoteStore.Delete(ctx, id)
}

func decodeEnvelope(t *testing.T, text string) toolErrorEnvelope {
	t.Helper()

	var payload struct {
		Error toolErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("decode envelope %q: %v", text, err)
	}
	return payload.Error
}

func TestValidationRejectsBeforeStoreAccess(t *testing.T) {
	t.Parallel()

	st, err := notestore.Open(context.Background(), notestore.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	counting := &countingStore{NoteStore: st}
	s, _ := newTestServer(t, testServerOptions{store: counting})
	cs := connectInMemory(t, s)

	cases := []struct {
		tool  string
		args  map[string]any
		field string
	}{
		{toolCreateNote, map[string]any{"title": "   "}, "title"},
		{toolCreateNote, map[string]any{"title": ""}, "title"},
		{toolGetNote, map[string]any{"id": " "}, "id"},
		{toolUpdateNote, map[string]any{"id": "", "title": "x"}, "id"},
		{toolDeleteNote, map[string]any{"id": "\t"}, "id"},
	}
	for _, tc := range cases {
		res := callTool(t, cs, tc.tool, tc.args)
		if !res.IsError {
			t.Fatalf("%s %v: expected tool error", tc.tool, tc.args)
		}
		env := decodeEnvelope(t, resultText(res))
		if env.ErrorCode != errorCodeInvalidArgument || env.Field != tc.field {
			t.Fatalf("%s: unexpected envelope %+v", tc.tool, env)
		}
	}
	if n := counting.calls.Load(); n != 0 {
		t.Fatalf("store touched %d times by invalid calls", n)
	}
}

func TestMissingRequiredArgumentIsRejected(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolCreateNote, Arguments: map[string]any{"body": "x"}})
	if err == nil && (res == nil || !res.IsError) {
		t.Fatalf("expected missing title to be rejected, got %+v", res)
	}
	view := callView(t, cs, toolListNotes, nil)
	if len(view.Notes) != 0 {
		t.Fatalf("rejected create inserted a note: %+v", view.Notes)
	}
}

type failingStore struct {
	unavailableStore
	err error
}

func (f failingStore) List(context.Context) ([]notestore.Note, error) {
	return nil, f.err
}

func (f failingStore) Create(context.Context, string, string) (notestore.Note, error) {
	return notestore.Note{}, f.err
}

func TestStoreFailureSurfacesAsInternalToolError(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{store: failingStore{err: errors.New("disk on fire")}})
	cs := connectInMemory(t, s)

	for _, tc := range []struct {
		tool string
		args map[string]any
	}{
		{toolRenderNotes, nil},
		{toolCreateNote, map[string]any{"title": "x"}},
	} {
		res := callTool(t, cs, tc.tool, tc.args)
		if !res.IsError {
			t.Fatalf("%s: expected tool error", tc.tool)
		}
		env := decodeEnvelope(t, resultText(res))
		if env.ErrorCode != errorCodeInternal || !strings.Contains(env.Detail, "disk on fire") {
			t.Fatalf("%s: unexpected envelope %+v", tc.tool, env)
		}
	}
}

func TestToolsCarryWidgetMetadata(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	list, err := cs.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(list.Tools) != len(mcpToolNames) {
		t.Fatalf("expected %d tools, got %d", len(mcpToolNames), len(list.Tools))
	}
	for _, tool := range list.Tools {
		if tool.Meta[metaOutputTemplate] != widgetURI {
			t.Fatalf("%s: missing output template meta: %v", tool.Name, tool.Meta)
		}
		if tool.Meta[metaWidgetAccessible] != true {
			t.Fatalf("%s: missing widgetAccessible meta: %v", tool.Name, tool.Meta)
		}
		if tool.Annotations == nil {
			t.Fatalf("%s: missing annotations", tool.Name)
		}
		if tool.Name == toolRenderNotes {
			if tool.Meta[metaInvoking] != "Opening notes…" || tool.Meta[metaInvoked] != "Notes shown." {
				t.Fatalf("render_notes invocation meta missing: %v", tool.Meta)
			}
		}
		if tool.Name == toolDeleteNote && (tool.Annotations.DestructiveHint == nil || !*tool.Annotations.DestructiveHint) {
			t.Fatalf("delete_note should be destructive")
		}
	}
}

func TestWidgetResource(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, testServerOptions{})
	cs := connectInMemory(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := cs.ReadResource(ctx, &mcpsdk.ReadResourceParams{URI: widgetURI})
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("expected one content item, got %d", len(res.Contents))
	}
	c := res.Contents[0]
	if c.URI != widgetURI || c.MIMEType != widgetMIMEType {
		t.Fatalf("unexpected resource header %s %s", c.URI, c.MIMEType)
	}
	want := "<div id=\"root\"></div>\n<style>.n{}</style>\n<script type=\"module\">render()</script>"
	if c.Text != want {
		t.Fatalf("unexpected html %q", c.Text)
	}
	if c.Meta["openai/widgetPrefersBorder"] != true {
		t.Fatalf("missing widgetPrefersBorder meta: %v", c.Meta)
	}
	csp, ok := c.Meta["openai/widgetCSP"].(map[string]any)
	if !ok {
		t.Fatalf("missing widgetCSP meta: %v", c.Meta)
	}
	if _, ok := csp["connect_domains"]; !ok {
		t.Fatalf("widgetCSP missing connect_domains: %v", csp)
	}
}
