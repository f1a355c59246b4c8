// Package notesview projects note store state into the structured view the
// notes widget renders.
package notesview

import (
	"context"
	"fmt"

	"github.com/Siddhant412/chatgpt-notes-app/internal/notestore"
)

// Source is the read side of the note store.
type Source interface {
	List(ctx context.Context) ([]notestore.Note, error)
	Get(ctx context.Context, id string) (notestore.Note, bool, error)
}

// NoteSummary is one row of the notes list.
type NoteSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

// SelectedNote is the fully materialised selected note.
type SelectedNote struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updated_at"`
}

// View is the structured content returned by every notes tool.
type View struct {
	Notes      []NoteSummary `json:"notes"`
	SelectedID *string       `json:"selectedId"`
	Selected   *SelectedNote `json:"selected"`
}

// Build lists every note and resolves the selection. When requested is nil the
// most recently updated note is selected. A requested id that does not exist
// is kept as selectedId while selected stays nil.
func Build(ctx context.Context, src Source, requested *string) (View, error) {
	notes, err := src.List(ctx)
	if err != nil {
		return View{}, fmt.Errorf("notesview: list: %w", err)
	}
	view := View{Notes: make([]NoteSummary, 0, len(notes))}
	for _, n := range notes {
		view.Notes = append(view.Notes, NoteSummary{
			ID:        n.ID,
			Title:     n.Title,
			UpdatedAt: formatTime(n),
		})
	}

	switch {
	case requested != nil:
		id := *requested
		view.SelectedID = &id
	case len(notes) > 0:
		id := notes[0].ID
		view.SelectedID = &id
	default:
		return view, nil
	}

	n, found, err := src.Get(ctx, *view.SelectedID)
	if err != nil {
		return View{}, fmt.Errorf("notesview: get %q: %w", *view.SelectedID, err)
	}
	if found {
		view.Selected = &SelectedNote{
			ID:        n.ID,
			Title:     n.Title,
			Body:      n.Body,
			UpdatedAt: formatTime(n),
		}
	}
	return view, nil
}

func formatTime(n notestore.Note) string {
	return n.UpdatedAt.UTC().Format(notestore.TimeLayout)
}
