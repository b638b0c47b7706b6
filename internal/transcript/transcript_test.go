package transcript

import (
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/media"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

func TestBuildLines(t *testing.T) {
	cases := []struct {
		name      string
		segments  []stt.Segment
		threshold float64
		want      string
	}{
		{
			name:      "empty",
			segments:  nil,
			threshold: 2,
			want:      "",
		},
		{
			name: "pause splits paragraph",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: "Hello"},
				{Start: 1.2, End: 2, Text: "world"},
				{Start: 5, End: 6, Text: "Next"},
			},
			threshold: DefaultPauseThreshold,
			want:      "Hello world\nNext",
		},
		{
			name: "short gaps join with single spaces",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: "  one "},
				{Start: 2.9, End: 3, Text: "two"},
				{Start: 4, End: 5, Text: "\tthree\n"},
			},
			threshold: 2,
			want:      "one two three",
		},
		{
			name: "gap equal to threshold breaks",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: "a"},
				{Start: 3, End: 4, Text: "b"},
			},
			threshold: 2,
			want:      "a\nb",
		},
		{
			name: "all blank text",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: " "},
				{Start: 10, End: 11, Text: ""},
				{Start: 30, End: 31, Text: "\n"},
			},
			threshold: 2,
			want:      "",
		},
		{
			name: "blank first segment is replaced by later text",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: ""},
				{Start: 1.5, End: 2, Text: "late start"},
			},
			threshold: 2,
			want:      "late start",
		},
		{
			name: "long silent segment still forces a break",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: "before"},
				{Start: 1.5, End: 9, Text: ""},
				{Start: 12, End: 13, Text: "after"},
			},
			threshold: 2,
			want:      "before\nafter",
		},
		{
			name: "short empty segments absorb a long pause",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: "before"},
				{Start: 2, End: 3, Text: ""},
				{Start: 4, End: 5, Text: ""},
				{Start: 6, End: 7, Text: "after"},
			},
			threshold: 2,
			want:      "before after",
		},
		{
			name: "break into blank segment then continuation",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: "first"},
				{Start: 5, End: 6, Text: "  "},
				{Start: 6.5, End: 7, Text: "second"},
			},
			threshold: 2,
			want:      "first\nsecond",
		},
		{
			name: "custom threshold",
			segments: []stt.Segment{
				{Start: 0, End: 1, Text: "x"},
				{Start: 1.6, End: 2, Text: "y"},
			},
			threshold: 0.5,
			want:      "x\ny",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildLines(tc.segments, tc.threshold)
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDefaultPauseThresholdMatchesConfig(t *testing.T) {
	if got := config.Default().STT.PauseThreshold; got != DefaultPauseThreshold {
		t.Fatalf("config default pause threshold %v differs from %v", got, DefaultPauseThreshold)
	}
}

func TestAssembleBatch(t *testing.T) {
	outcomes := []Outcome{
		{File: media.NewFile("/rec/a.mp4"), Text: "Hello world\nNext\n"},
		{File: media.NewFile("/rec/b.mp4"), Text: ""},
		{File: media.NewFile("/rec/c.mp4"), Text: "  tail  "},
	}
	got := Assemble(media.ModeBatch, outcomes)
	want := "===== FILE: a.mp4 =====\n\nHello world\nNext" +
		"\n\n===== FILE: b.mp4 =====\n\n" +
		"\n\n===== FILE: c.mp4 =====\n\ntail\n"
	if got != want {
		t.Fatalf("unexpected document:\n%q\nwant:\n%q", got, want)
	}
}

func TestAssembleSingle(t *testing.T) {
	got := Assemble(media.ModeSingle, []Outcome{{File: media.NewFile("talk.mkv"), Text: "\n body \n"}})
	if got != "body\n" {
		t.Fatalf("expected trimmed text with one newline, got %q", got)
	}
	if empty := Assemble(media.ModeSingle, []Outcome{{File: media.NewFile("quiet.mkv")}}); empty != "\n" {
		t.Fatalf("expected lone newline for empty transcript, got %q", empty)
	}
}

func TestHeader(t *testing.T) {
	if got := Header("2025-11-26 16-44-59.mp4"); got != "===== FILE: 2025-11-26 16-44-59.mp4 =====" {
		t.Fatalf("unexpected header %q", got)
	}
}
