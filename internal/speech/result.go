package speech

import (
	"strings"
	"time"
)

type Segment struct {
	Text       string
	Confidence float32
	Start      time.Duration
	End        time.Duration
}

// Result is an immutable transcription snapshot. Text is the best guess for
// everything heard so far in the session.
type Result struct {
	Text     string
	Segments []Segment
	IsFinal  bool
}

func NewResult(segments []Segment, isFinal bool) Result {
	copied := make([]Segment, len(segments))
	copy(copied, segments)
	parts := make([]string, 0, len(copied))
	for _, seg := range copied {
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		parts = append(parts, t)
	}
	return Result{
		Text:     strings.Join(parts, " "),
		Segments: copied,
		IsFinal:  isFinal,
	}
}

func (r Result) String() string {
	return r.Text
}
