package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Siddhant412/chatgpt-notes-app/internal/notestore"
	"github.com/Siddhant412/chatgpt-notes-app/internal/notesview"
)

const (
	toolRenderNotes = "render_notes"
	toolListNotes   = "list_notes"
	toolCreateNote  = "create_note"
	toolGetNote     = "get_note"
	toolUpdateNote  = "update_note"
	toolDeleteNote  = "delete_note"
)

var mcpToolNames = []string{
	toolRenderNotes,
	toolListNotes,
	toolCreateNote,
	toolGetNote,
	toolUpdateNote,
	toolDeleteNote,
}

const (
	metaOutputTemplate   = "openai/outputTemplate"
	metaWidgetAccessible = "openai/widgetAccessible"
	metaInvoking         = "openai/toolInvocation/invoking"
	metaInvoked          = "openai/toolInvocation/invoked"
)

const tracerName = "github.com/Siddhant412/chatgpt-notes-app/mcp"

type emptyToolInput struct{}

type createNoteToolInput struct {
	Title string  `json:"title" validate:"required,notblank"`
	Body  *string `json:"body,omitempty"`
}

type noteIDToolInput struct {
	ID string `json:"id" validate:"required,notblank"`
}

type updateNoteToolInput struct {
	ID    string  `json:"id" validate:"required,notblank"`
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
}

func (s *server) registerTools(srv *mcpsdk.Server) {
	descriptions := buildToolDescriptions()
	desc := func(name string) string {
		description, ok := descriptions[name]
		if !ok {
			panic(fmt.Sprintf("missing MCP tool description for %q", name))
		}
		return description
	}
	falsePtr := func() *bool { v := false; return &v }
	truePtr := func() *bool { v := true; return &v }

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolRenderNotes,
		Title:       "Render Notes",
		Description: desc(toolRenderNotes),
		InputSchema: emptyInputSchema(),
		Meta: widgetToolMeta(mcpsdk.Meta{
			metaInvoking: "Opening notes…",
			metaInvoked:  "Notes shown.",
		}),
		Annotations: &mcpsdk.ToolAnnotations{ReadOnlyHint: true, OpenWorldHint: falsePtr()},
	}, toolHandler(s, toolRenderNotes, s.handleRenderNotesTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolListNotes,
		Title:       "List Notes",
		Description: desc(toolListNotes),
		InputSchema: emptyInputSchema(),
		Meta:        widgetToolMeta(nil),
		Annotations: &mcpsdk.ToolAnnotations{ReadOnlyHint: true, OpenWorldHint: falsePtr()},
	}, toolHandler(s, toolListNotes, s.handleListNotesTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolCreateNote,
		Title:       "Create Note",
		Description: desc(toolCreateNote),
		InputSchema: objectSchema([]string{"title"}, map[string]*jsonschema.Schema{
			"title": stringSchema("Note title; surrounding whitespace is trimmed"),
			"body":  stringSchema("Note body (defaults to empty)"),
		}),
		Meta:        widgetToolMeta(nil),
		Annotations: &mcpsdk.ToolAnnotations{DestructiveHint: falsePtr(), OpenWorldHint: falsePtr()},
	}, toolHandler(s, toolCreateNote, s.handleCreateNoteTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolGetNote,
		Title:       "Get Note",
		Description: desc(toolGetNote),
		InputSchema: objectSchema([]string{"id"}, map[string]*jsonschema.Schema{
			"id": stringSchema("Note id"),
		}),
		Meta:        widgetToolMeta(nil),
		Annotations: &mcpsdk.ToolAnnotations{ReadOnlyHint: true, OpenWorldHint: falsePtr()},
	}, toolHandler(s, toolGetNote, s.handleGetNoteTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolUpdateNote,
		Title:       "Update Note",
		Description: desc(toolUpdateNote),
		InputSchema: objectSchema([]string{"id"}, map[string]*jsonschema.Schema{
			"id":    stringSchema("Note id"),
			"title": stringSchema("Replacement title; omit to keep the current title"),
			"body":  stringSchema("Replacement body; omit to keep the current body"),
		}),
		Meta:        widgetToolMeta(nil),
		Annotations: &mcpsdk.ToolAnnotations{DestructiveHint: truePtr(), IdempotentHint: true, OpenWorldHint: falsePtr()},
	}, toolHandler(s, toolUpdateNote, s.handleUpdateNoteTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolDeleteNote,
		Title:       "Delete Note",
		Description: desc(toolDeleteNote),
		InputSchema: objectSchema([]string{"id"}, map[string]*jsonschema.Schema{
			"id": stringSchema("Note id"),
		}),
		Meta:        widgetToolMeta(nil),
		Annotations: &mcpsdk.ToolAnnotations{DestructiveHint: truePtr(), IdempotentHint: true, OpenWorldHint: falsePtr()},
	}, toolHandler(s, toolDeleteNote, s.handleDeleteNoteTool))
}

func widgetToolMeta(extra mcpsdk.Meta) mcpsdk.Meta {
	meta := mcpsdk.Meta{
		metaOutputTemplate:   widgetURI,
		metaWidgetAccessible: true,
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

func emptyInputSchema() *jsonschema.Schema {
	return objectSchema(nil, map[string]*jsonschema.Schema{})
}

func objectSchema(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func stringSchema(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

// toolHandler wraps h with tracing, metrics, logging and the error envelope.
func toolHandler[In, Out any](s *server, name string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	tracer := otel.Tracer(tracerName)
	instrumented := func(ctx context.Context, req *mcpsdk.CallToolRequest, input In) (*mcpsdk.CallToolResult, Out, error) {
		ctx, span := tracer.Start(ctx, "mcp.tool "+name)
		defer span.End()
		sessionID := requestSessionID(req)
		span.SetAttributes(
			attribute.String("mcp.tool", name),
			attribute.String("mcp.session_id", sessionID),
		)
		start := time.Now()
		res, out, err := h(ctx, req, input)
		elapsed := time.Since(start)

		logger := s.toolsLog.With("tool", name, "session_id", sessionID)
		if err != nil {
			env := classifyToolError(err)
			s.metrics.toolCall(ctx, name, env.ErrorCode, elapsed)
			span.RecordError(err)
			span.SetStatus(codes.Error, env.ErrorCode)
			if env.ErrorCode == errorCodeInternal {
				logger.Error("mcp.tool.failed", "error", err, "elapsed_ms", elapsed.Milliseconds())
			} else {
				logger.Info("mcp.tool.rejected", "error_code", env.ErrorCode, "detail", env.Detail)
			}
			return res, out, err
		}
		s.metrics.toolCall(ctx, name, "ok", elapsed)
		logger.Debug("mcp.tool.ok", "elapsed_ms", elapsed.Milliseconds())
		return res, out, nil
	}
	return withStructuredToolErrors(instrumented)
}

func requestSessionID(req *mcpsdk.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}
	return req.Session.ID()
}

// viewResult carries the view as structured content only.
func viewResult() *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{}}
}

func (s *server) buildView(ctx context.Context, selected *string) (*mcpsdk.CallToolResult, notesview.View, error) {
	view, err := notesview.Build(ctx, s.store, selected)
	if err != nil {
		return nil, notesview.View{}, &storeError{op: "build view", err: err}
	}
	return viewResult(), view, nil
}

func (s *server) handleRenderNotesTool(ctx context.Context, _ *mcpsdk.CallToolRequest, _ emptyToolInput) (*mcpsdk.CallToolResult, notesview.View, error) {
	return s.buildView(ctx, nil)
}

func (s *server) handleListNotesTool(ctx context.Context, _ *mcpsdk.CallToolRequest, _ emptyToolInput) (*mcpsdk.CallToolResult, notesview.View, error) {
	return s.buildView(ctx, nil)
}

func (s *server) handleCreateNoteTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input createNoteToolInput) (*mcpsdk.CallToolResult, notesview.View, error) {
	if err := validateToolInput(input); err != nil {
		return nil, notesview.View{}, err
	}
	body := ""
	if input.Body != nil {
		body = *input.Body
	}
	note, err := s.store.Create(ctx, strings.TrimSpace(input.Title), body)
	if err != nil {
		return nil, notesview.View{}, &storeError{op: "create note", err: err}
	}
	return s.buildView(ctx, &note.ID)
}

func (s *server) handleGetNoteTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteIDToolInput) (*mcpsdk.CallToolResult, notesview.View, error) {
	if err := validateToolInput(input); err != nil {
		return nil, notesview.View{}, err
	}
	id := input.ID
	return s.buildView(ctx, &id)
}

func (s *server) handleUpdateNoteTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input updateNoteToolInput) (*mcpsdk.CallToolResult, notesview.View, error) {
	if err := validateToolInput(input); err != nil {
		return nil, notesview.View{}, err
	}
	_, found, err := s.store.Update(ctx, input.ID, notestore.Patch{Title: input.Title, Body: input.Body})
	if err != nil {
		return nil, notesview.View{}, &storeError{op: "update note", err: err}
	}
	if !found {
		return s.buildView(ctx, nil)
	}
	id := input.ID
	return s.buildView(ctx, &id)
}

func (s *server) handleDeleteNoteTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteIDToolInput) (*mcpsdk.CallToolResult, notesview.View, error) {
	if err := validateToolInput(input); err != nil {
		return nil, notesview.View{}, err
	}
	if err := s.store.Delete(ctx, input.ID); err != nil {
		return nil, notesview.View{}, &storeError{op: "delete note", err: err}
	}
	return s.buildView(ctx, nil)
}
