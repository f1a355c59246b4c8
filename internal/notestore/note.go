package notestore

import "time"

// TimeLayout is the persisted timestamp format. Every value is UTC with
// millisecond precision, so the text sorts in chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Note is one stored record.
type Note struct {
	ID        string
	Title     string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch describes a partial update. A nil field leaves the stored value
// unchanged; a pointer to "" is an explicit empty value.
type Patch struct {
	Title *string
	Body  *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Body == nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(TimeLayout, raw)
}
