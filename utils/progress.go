package utils

import (
	"io"
	"math"
	"sync"

	"github.com/pterm/pterm"
)

// ProgressReporter observes the progress of a long running stage. Reporting is purely
// observational; implementations must not influence the work being reported on.
type ProgressReporter interface {
	// Report sets the completed fraction, in [0, 1].
	Report(fraction float64)
	// Done marks the stage as finished.
	Done()
}

// NoopProgress discards all progress reports.
type NoopProgress struct{}

// Report does nothing.
func (NoopProgress) Report(float64) {}

// Done does nothing.
func (NoopProgress) Done() {}

const progressSteps = 100

type terminalProgress struct {
	mu      sync.Mutex
	title   string
	writer  io.Writer
	bar     *pterm.ProgressbarPrinter
	current int
	failed  bool
}

// NewTerminalProgress returns a reporter drawing a progress bar titled `title` on the terminal.
// The bar is started lazily on the first report so that stages that finish immediately print
// nothing.
func NewTerminalProgress(title string, writer io.Writer) ProgressReporter {
	return &terminalProgress{title: title, writer: writer}
}

func (tp *terminalProgress) start() bool {
	if tp.bar != nil || tp.failed {
		return tp.bar != nil
	}
	printer := pterm.DefaultProgressbar.
		WithTotal(progressSteps).
		WithTitle(tp.title).
		WithRemoveWhenDone(false)
	if tp.writer != nil {
		printer = printer.WithWriter(tp.writer)
	}
	bar, err := printer.Start()
	if err != nil {
		tp.failed = true
		return false
	}
	tp.bar = bar
	return true
}

func (tp *terminalProgress) Report(fraction float64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !tp.start() {
		return
	}
	target := int(math.Floor(ClampF64(fraction, 0, 1) * progressSteps))
	if target > tp.current {
		tp.bar.Add(target - tp.current)
		tp.current = target
	}
}

func (tp *terminalProgress) Done() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !tp.start() {
		return
	}
	if tp.current < progressSteps {
		tp.bar.Add(progressSteps - tp.current)
		tp.current = progressSteps
	}
	if _, err := tp.bar.Stop(); err != nil {
		tp.failed = true
	}
}

type subProgress struct {
	parent     ProgressReporter
	start, end float64
}

// NewSubProgress maps [0, 1] of a sub stage onto [start, end] of parent. Done on the returned
// reporter only reports `end` on the parent; the parent stays open.
func NewSubProgress(parent ProgressReporter, start, end float64) ProgressReporter {
	return &subProgress{parent: parent, start: start, end: end}
}

func (sp *subProgress) Report(fraction float64) {
	sp.parent.Report(sp.start + ClampF64(fraction, 0, 1)*(sp.end-sp.start))
}

func (sp *subProgress) Done() {
	sp.parent.Report(sp.end)
}
