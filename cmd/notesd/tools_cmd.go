package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	notesmcp "github.com/Siddhant412/chatgpt-notes-app/mcp"
)

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the MCP tools/list response as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			out, err := notesmcp.BuildToolsListResponseJSON(ctx)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
