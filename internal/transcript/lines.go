package transcript

import (
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// DefaultPauseThreshold is the silence, in seconds, that starts a new paragraph.
const DefaultPauseThreshold = 2.0

// BuildLines joins segments into paragraphs, breaking wherever the gap
// between a segment's start and the previous segment's end reaches
// pauseThreshold. Segments with blank text never produce blank lines but
// still advance the gap cursor.
func BuildLines(segments []stt.Segment, pauseThreshold float64) string {
	if len(segments) == 0 {
		return ""
	}

	var lines []string
	current := strings.TrimSpace(segments[0].Text)
	prevEnd := segments[0].End

	for _, seg := range segments[1:] {
		text := strings.TrimSpace(seg.Text)
		if seg.Start-prevEnd >= pauseThreshold {
			if current != "" {
				lines = append(lines, current)
			}
			current = text
		} else if text != "" {
			if current != "" {
				current += " " + text
			} else {
				current = text
			}
		}
		prevEnd = seg.End
	}

	if current != "" {
		lines = append(lines, current)
	}
	return strings.Join(lines, "\n")
}
