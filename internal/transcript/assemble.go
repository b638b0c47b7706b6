package transcript

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/media"
)

// Outcome is the transcription result for one worklist entry.
type Outcome struct {
	File            media.File
	Text            string
	DurationSeconds float64
	Segments        int
}

// Header renders the line that introduces a file's block in a batch document.
func Header(name string) string {
	return fmt.Sprintf("===== FILE: %s =====", name)
}

// Assemble renders the final document. Batch documents carry a header per
// file and separate blocks with blank lines; the result always ends in
// exactly one newline.
func Assemble(mode media.Mode, outcomes []Outcome) string {
	var b strings.Builder
	for _, o := range outcomes {
		if mode == media.ModeBatch {
			b.WriteString("\n\n")
			b.WriteString(Header(o.File.Name))
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(o.Text))
	}
	return strings.TrimSpace(b.String()) + "\n"
}
