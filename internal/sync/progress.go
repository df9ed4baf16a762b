package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress is a point-in-time view of a running transfer.
type Progress struct {
	Direction Direction
	Phase     string
	Traces    int
	Spans     int
	Pages     int
	Bytes     int64
	Total     int   // target count, 0 when unbounded
	TotalUnit Scope // ScopeTraces or ScopeSpans
	Elapsed   time.Duration
	Retries   string
}

// ProgressFunc receives progress snapshots. It is called from engine goroutines
// and must not block.
type ProgressFunc func(Progress)

// Message renders a single-line status such as
// "fetch_roots 12/100 traces | 1,204 spans | 37 pages | 3.1 MiB | 2.1 MiB/s".
// Total is shown against spans or traces depending on TotalUnit.
func (p Progress) Message() string {
	var parts []string

	traces := humanize.Comma(int64(p.Traces))
	spans := humanize.Comma(int64(p.Spans))
	if p.Total > 0 {
		total := humanize.Comma(int64(p.Total))
		if p.TotalUnit == ScopeSpans {
			spans += "/" + total
		} else {
			traces += "/" + total
		}
	}
	parts = append(parts, fmt.Sprintf("%s %s traces", p.Phase, traces))
	parts = append(parts, spans+" spans")
	parts = append(parts, humanize.Comma(int64(p.Pages))+" pages")
	parts = append(parts, humanize.IBytes(uint64(max(p.Bytes, 0))))

	if secs := p.Elapsed.Seconds(); secs >= 1 {
		parts = append(parts, humanize.IBytes(uint64(float64(p.Bytes)/secs))+"/s")
	}
	if p.Retries != "" {
		parts = append(parts, p.Retries)
	}
	return strings.Join(parts, " | ")
}

func (f ProgressFunc) emit(p Progress) {
	if f != nil {
		f(p)
	}
}

// FormatDuration renders whole seconds as 1h02m03s, 2m05s or 7s.
func FormatDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
