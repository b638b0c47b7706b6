// Package naming derives output file names for transcription runs.
//
// Batch names encode the recording window when the first and last file stems
// carry a timestamp, and fall back to the first stem plus the total length
// otherwise. Names depend only on the worklist and measured durations.
package naming

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/media"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
)

// Layouts are the accepted stem timestamp formats, in priority order. Month,
// day and clock fields take one or two digits.
var Layouts = []string{
	"2006-1-2 15-4-5",
	"2006-1-2_15-4-5",
}

// CanonicalLayout formats timestamps in generated names.
const CanonicalLayout = "2006-01-02 15-04-05"

// DefaultExtension is appended to generated names when Options.Extension is empty.
const DefaultExtension = ".txt"

// Timestamp is a recording start parsed from a file stem.
type Timestamp struct {
	Time   time.Time
	Layout string
}

// ParseStem tries each layout in order. The boolean reports whether any matched.
// Stems with a fractional seconds tail never match.
func ParseStem(stem string) (Timestamp, bool) {
	// time.Parse accepts ".5" or ",5" after a seconds field the layout ends with.
	if strings.ContainsAny(stem, ".,") {
		return Timestamp{}, false
	}
	for _, layout := range Layouts {
		if t, err := time.Parse(layout, stem); err == nil {
			return Timestamp{Time: t, Layout: layout}, true
		}
	}
	return Timestamp{}, false
}

// Context is everything batch naming needs, available once every file is done.
type Context struct {
	FirstStem string
	LastStem  string
	Durations []float64
}

// ContextFrom collects stems and durations from ordered outcomes.
func ContextFrom(outcomes []transcript.Outcome) Context {
	var ctx Context
	if len(outcomes) == 0 {
		return ctx
	}
	ctx.FirstStem = outcomes[0].File.Stem
	ctx.LastStem = outcomes[len(outcomes)-1].File.Stem
	ctx.Durations = make([]float64, len(outcomes))
	for i, o := range outcomes {
		ctx.Durations[i] = o.DurationSeconds
	}
	return ctx
}

// Total sums every file's duration in seconds.
func (c Context) Total() float64 {
	var total float64
	for _, d := range c.Durations {
		total += d
	}
	return total
}

func (c Context) last() float64 {
	if len(c.Durations) == 0 {
		return 0
	}
	return c.Durations[len(c.Durations)-1]
}

type Options struct {
	Suffix    string
	Extension string
}

func (o Options) ext() string {
	if o.Extension == "" {
		return DefaultExtension
	}
	return o.Extension
}

// Name builds the batch output file name (without directory).
func Name(ctx Context, opts Options) string {
	start, okStart := ParseStem(ctx.FirstStem)
	lastStart, okLast := ParseStem(ctx.LastStem)

	if okStart && okLast {
		end := lastStart.Time.Add(secondsToDuration(ctx.last()))
		return fmt.Sprintf("%s__%s%s%s",
			start.Time.Format(CanonicalLayout),
			end.Format(CanonicalLayout),
			suffix(opts.Suffix),
			opts.ext())
	}

	total := ctx.Total()
	hours := int(math.Floor(total / 3600))
	minutes := int(math.Floor(math.Mod(total, 3600) / 60))
	return fmt.Sprintf("%s_len_%02dh%02dm%s%s", ctx.FirstStem, hours, minutes, suffix(opts.Suffix), opts.ext())
}

// Resolve returns the path the run's document is written to. An explicit
// override is returned unchanged.
func Resolve(override string, wl media.Worklist, ctx Context, opts Options) string {
	if override != "" {
		return override
	}
	if wl.Mode == media.ModeSingle {
		return strings.TrimSuffix(wl.Input, filepath.Ext(wl.Input)) + opts.ext()
	}
	return filepath.Join(wl.Dir(), Name(ctx, opts))
}

func suffix(s string) string {
	if s == "" {
		return ""
	}
	return "_" + s
}

// secondsToDuration rounds to whole microseconds.
func secondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec*1e6)) * time.Microsecond
}
