package mcp

import "strings"

func buildToolDescriptions() map[string]string {
	return map[string]string{
		toolRenderNotes: "Render the notes UI. Returns every note (most recently updated first) and selects the most recent one.",
		toolListNotes:   "List all notes. Same view as render_notes, intended for refreshing an open widget.",
		toolCreateNote:  "Create a new note with a title and body. The title must not be blank; body defaults to empty. The new note is selected in the returned view.",
		toolGetNote:     "Get a single note by id. The returned view selects that id; selected is null when the note does not exist.",
		toolUpdateNote:  "Update the title and/or body of a note. Omitted fields keep their value; an explicit empty string clears the field. Unknown ids return the default view.",
		toolDeleteNote:  "Delete a note by id. Deleting an unknown id is not an error. Returns the default view.",
	}
}

func defaultServerInstructions() string {
	return strings.TrimSpace(`
notes MCP server operating manual:
- Call render_notes to open the notes widget (` + widgetURI + `); list_notes refreshes it.
- Every tool returns the same structured view: notes (id, title, updated_at; newest first), selectedId and selected (id, title, body, updated_at or null).
- Use create_note, update_note and delete_note to change notes; get_note selects one note.
- update_note is partial: omit title or body to keep it, pass "" to clear it.
`)
}
