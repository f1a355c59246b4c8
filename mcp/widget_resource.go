package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	widgetURI          = "ui://widget/notes.html"
	widgetResourceName = "notes-widget"
	widgetMIMEType     = "text/html+skybridge"
)

func (s *server) registerResources(srv *mcpsdk.Server) {
	srv.AddResource(&mcpsdk.Resource{
		URI:         widgetURI,
		Name:        widgetResourceName,
		Title:       "Notes widget",
		Description: "Interactive notes UI rendered from the structured tool output",
		MIMEType:    widgetMIMEType,
	}, s.handleWidgetResource)
}

func (s *server) handleWidgetResource(_ context.Context, _ *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{
			{
				URI:      widgetURI,
				MIMEType: widgetMIMEType,
				Text:     s.bundle.HTML(),
				Meta: mcpsdk.Meta{
					"openai/widgetPrefersBorder": true,
					"openai/widgetCSP": map[string]any{
						"connect_domains":  []string{},
						"resource_domains": []string{},
					},
				},
			},
		},
	}, nil
}
