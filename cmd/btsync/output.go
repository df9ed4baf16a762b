package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	btsync "github.com/openmined/btsync/internal/sync"
)

const progressInterval = 100 * time.Millisecond

// progressPrinter redraws a single status line on a terminal. Elsewhere it
// only logs at debug level. Update is called from engine goroutines.
type progressPrinter struct {
	w     io.Writer
	live  bool
	start time.Time

	mu     sync.Mutex
	last   time.Time
	latest *btsync.Progress
	drawn  bool
	hinted bool
	width  int
}

func newProgressPrinter(f *os.File, enabled bool) *progressPrinter {
	return &progressPrinter{w: f, live: enabled && isTerminal(f), start: time.Now()}
}

func (p *progressPrinter) Update(pr btsync.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = &pr
	p.drawn = false
	now := time.Now()
	if now.Sub(p.last) < progressInterval {
		return
	}
	p.last = now
	p.drawLocked()
}

func (p *progressPrinter) drawLocked() {
	pr := p.latest
	p.drawn = true
	if !p.live {
		slog.Debug("progress", "direction", pr.Direction, "phase", pr.Phase, "traces", pr.Traces, "spans", pr.Spans, "pages", pr.Pages, "bytes", pr.Bytes)
		return
	}
	if !p.hinted {
		fmt.Fprintln(p.w, gray.Render("State is checkpointed after every page. Ctrl+C is safe; rerun the same command to resume."))
		p.hinted = true
	}

	line := pr.Message()
	fmt.Fprintf(p.w, "\r%s%s", cyan.Render(line), strings.Repeat(" ", max(p.width-len(line), 0)))
	p.width = len(line)
}

// Done draws the last snapshot if the throttle skipped it and ends the line.
func (p *progressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest != nil && !p.drawn {
		p.drawLocked()
	}
	if p.width > 0 {
		fmt.Fprintln(p.w)
		p.width = 0
	}
}

func (p *progressPrinter) Elapsed() time.Duration {
	return time.Since(p.start)
}

type pullReport struct {
	Status         btsync.ResultStatus `json:"status"`
	ObjectRef      string              `json:"object_ref"`
	SpecDir        string              `json:"spec_dir"`
	SpecHash       string              `json:"spec_hash"`
	OutputPath     string              `json:"output_path"`
	Scope          btsync.Scope        `json:"scope"`
	Limit          int                 `json:"limit"`
	Traces         int                 `json:"traces"`
	Spans          int                 `json:"spans"`
	Pages          int                 `json:"pages"`
	Bytes          int64               `json:"bytes"`
	ElapsedSeconds float64             `json:"elapsed_seconds"`
	Warning        string              `json:"warning,omitempty"`
	Retries        string              `json:"retries,omitempty"`
}

func pullSummary(res *btsync.PullResult, elapsed time.Duration) *pullReport {
	s := res.State
	return &pullReport{
		Status:         res.Status,
		ObjectRef:      res.Spec.ObjectRef,
		SpecDir:        res.SpecDir,
		SpecHash:       res.SpecHash,
		OutputPath:     s.OutputPath,
		Scope:          s.Scope,
		Limit:          s.Limit,
		Traces:         len(s.RootIDs),
		Spans:          s.ItemsDone,
		Pages:          s.PagesDone,
		Bytes:          s.BytesWritten,
		ElapsedSeconds: elapsed.Seconds(),
		Warning:        res.Warning,
		Retries:        res.Retries,
	}
}

type pushReport struct {
	Status         btsync.ResultStatus `json:"status"`
	ObjectRef      string              `json:"object_ref"`
	SpecDir        string              `json:"spec_dir"`
	SpecHash       string              `json:"spec_hash"`
	InputPath      string              `json:"input_path"`
	Files          int                 `json:"files"`
	Scope          btsync.Scope        `json:"scope"`
	Limit          *int                `json:"limit,omitempty"`
	Traces         int                 `json:"traces"`
	Spans          int                 `json:"spans"`
	Batches        int                 `json:"batches"`
	Bytes          int64               `json:"bytes"`
	LineOffset     int                 `json:"line_offset"`
	ElapsedSeconds float64             `json:"elapsed_seconds"`
}

func pushSummary(res *btsync.PushResult, elapsed time.Duration) *pushReport {
	s := res.State
	return &pushReport{
		Status:         res.Status,
		ObjectRef:      res.Spec.ObjectRef,
		SpecDir:        res.SpecDir,
		SpecHash:       res.SpecHash,
		InputPath:      res.InputPath,
		Files:          len(res.Files),
		Scope:          s.Scope,
		Limit:          s.Limit,
		Traces:         s.DistinctRootsDone,
		Spans:          s.ItemsDone,
		Batches:        s.PagesDone,
		Bytes:          s.BytesSent,
		LineOffset:     s.LineOffset,
		ElapsedSeconds: elapsed.Seconds(),
	}
}

func renderPull(w io.Writer, res *btsync.PullResult, elapsed time.Duration) {
	r := pullSummary(res, elapsed)

	switch res.Status {
	case btsync.ResultAlreadyCompleted:
		fmt.Fprintln(w, green.Render("Pull already completed for this spec"))
		printField(w, "Output", r.OutputPath)
		printField(w, "Spans", humanize.Comma(int64(r.Spans)))
		fmt.Fprintln(w, gray.Render("Pass --fresh to pull again."))
		return
	case btsync.ResultInterrupted:
		fmt.Fprintln(w, yellow.Render("Pull interrupted"))
	default:
		fmt.Fprintln(w, green.Render("Pull completed"))
	}

	secs := elapsed.Seconds()
	printField(w, "Output", r.OutputPath)
	printField(w, "Time", btsync.FormatDuration(elapsed))
	printField(w, "Traces", humanize.Comma(int64(r.Traces)))
	printField(w, "Spans", humanize.Comma(int64(r.Spans)))
	printField(w, "Pages", humanize.Comma(int64(r.Pages)))
	printField(w, "Data", formatBytes(r.Bytes))
	printField(w, "Rates", formatRate(float64(r.Spans), "spans", secs)+", "+formatRate(float64(r.Bytes)/1024, "KiB", secs))
	if r.Retries != "" {
		printField(w, "Retries", r.Retries)
	}
	if r.Warning != "" {
		fmt.Fprintln(w, yellow.Render("Warning: "+r.Warning))
	}
	if res.Status == btsync.ResultInterrupted {
		fmt.Fprintln(w, gray.Render("Rerun the same command to resume."))
	}
}

func renderPush(w io.Writer, res *btsync.PushResult, elapsed time.Duration) {
	r := pushSummary(res, elapsed)

	switch res.Status {
	case btsync.ResultAlreadyCompleted:
		fmt.Fprintln(w, green.Render("Push already completed for this spec"))
		printField(w, "Input", r.InputPath)
		printField(w, "Spans", humanize.Comma(int64(r.Spans)))
		fmt.Fprintln(w, gray.Render("Pass --fresh to push again."))
		return
	case btsync.ResultInterrupted:
		fmt.Fprintln(w, yellow.Render("Push interrupted"))
	default:
		fmt.Fprintln(w, green.Render("Push completed"))
	}

	secs := elapsed.Seconds()
	printField(w, "Input", fmt.Sprintf("%s (%d file(s))", r.InputPath, r.Files))
	printField(w, "Time", btsync.FormatDuration(elapsed))
	printField(w, "Traces", humanize.Comma(int64(r.Traces)))
	printField(w, "Spans", humanize.Comma(int64(r.Spans)))
	printField(w, "Batches", humanize.Comma(int64(r.Batches)))
	printField(w, "Data", formatBytes(r.Bytes))
	printField(w, "Rates", formatRate(float64(r.Spans), "spans", secs)+", "+formatRate(float64(r.Bytes)/1024, "KiB", secs))
	if res.Status == btsync.ResultInterrupted {
		fmt.Fprintln(w, gray.Render(fmt.Sprintf("Committed through input line %s. Rerun the same command to resume.", humanize.Comma(int64(r.LineOffset)))))
	}
}

func renderStatus(w io.Writer, report *btsync.StatusReport) {
	fmt.Fprintln(w, cyan.Render(report.SpecDir))
	printField(w, "Spec", report.SpecHash[:12])

	m := report.Manifest
	if m == nil {
		m = report.State
	}
	if m == nil {
		fmt.Fprintln(w, gray.Render("No state recorded yet."))
		return
	}

	printField(w, "Status", stringField(m, "status"))
	if run := stringField(m, "last_run_id"); run != "" {
		printField(w, "Run", run)
	}
	printField(w, "Spans", humanize.Comma(intField(m, "items_done")))
	printField(w, "Pages", humanize.Comma(intField(m, "pages_done")))
	printField(w, "Data", formatBytes(intField(m, "bytes_processed")))
	if p := stringField(m, "output_path"); p != "" {
		printField(w, "Output", p)
	}
	if p := stringField(m, "input_path"); p != "" {
		printField(w, "Input", p)
	}
	if ts := intField(m, "updated_at"); ts > 0 {
		printField(w, "Updated", humanize.Time(time.Unix(ts, 0)))
	}
	if msg := stringField(m, "message"); msg != "" {
		printField(w, "Error", red.Render(msg))
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
