// Package mcp provides the notesd MCP server.
//
// The server exposes a small note-taking tool surface over MCP streamable HTTP
// together with the notes widget resource rendered by ChatGPT-style hosts.
//
// # What this package does
//
//   - Serves MCP over streamable HTTP on a single endpoint (default /mcp)
//   - Binds every MCP session to its own server instance and transport
//   - Registers render/list/create/get/update/delete note tools
//   - Serves the widget bundle as ui://widget/notes.html
//   - Answers GET / as a health check
//
// # Sessions
//
// A POST without an Mcp-Session-Id header is accepted only when its body is an
// initialize request; it creates a new session whose id is returned in the
// Mcp-Session-Id response header. Every later request must carry that id.
// Unknown or closed ids are rejected with 400 and no session is created.
// DELETE terminates a session; a session whose connection ends on its own is
// removed from the registry immediately. Closed ids are never reused.
//
// # Security defaults
//
// The listener binds to loopback by default and Host headers are checked
// against an allow-list to block DNS rebinding. CORS is disabled unless
// origins are configured.
//
// # Constructor and lifecycle
//
// Construct with NewServer and call Run with a cancellable context. Run blocks
// until the context is cancelled or the listener fails, then closes every live
// session, the note store and the widget watcher.
package mcp
