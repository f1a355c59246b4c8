package main

import (
	"context"
	"fmt"
	"os"
	"time"

	notesmcp "github.com/Siddhant412/chatgpt-notes-app/mcp"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := notesmcp.BuildToolsListResponseJSON(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "getmcptoolslist: %v\n", err)
		os.Exit(1)
	}
	_, _ = os.Stdout.Write(out)
}
