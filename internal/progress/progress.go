// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package progress renders batch progress as a single redrawn terminal
// line and prints a colored summary when the run ends.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/pdiddy/lesion-engine/pkg/types"
)

const barWidth = 40

var (
	labelStyle = lipgloss.NewStyle().Bold(true)

	okMark     = color.New(color.FgGreen).SprintFunc()
	failMark   = color.New(color.FgRed).SprintFunc()
	cancelMark = color.New(color.FgYellow).SprintFunc()
)

// Bar is a line-oriented progress reporter. It is safe for concurrent use.
type Bar struct {
	mu  sync.Mutex
	out io.Writer
	bar progress.Model

	label   string
	total   int
	done    int
	failed  int
	started time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// New returns a bar writing to out.
func New(out io.Writer) *Bar {
	return &Bar{
		out: out,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth), progress.WithoutPercentage()),
		now: time.Now,
	}
}

// Start begins a run of total items of which done were finished earlier.
func (b *Bar) Start(label string, total, done int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.label, b.total, b.done, b.failed = label, total, done, 0
	b.started = b.now()
	b.render()
}

// Step records one finished item; ok is false when it yielded no measurement.
func (b *Bar) Step(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done++
	if !ok {
		b.failed++
	}
	b.render()
}

// Finish ends the line and prints the summary for state.
func (b *Bar) Finish(state types.RunState, avg time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var mark string
	switch state {
	case types.RunCompleted:
		mark = okMark("✔ " + string(state))
	case types.RunCancelled:
		mark = cancelMark("■ " + string(state))
	default:
		mark = failMark("✘ " + string(state))
	}
	fmt.Fprintf(b.out, "\n%s %s  %d/%d rows, %d without measurement, avg %s/row, elapsed %s\n",
		labelStyle.Render(b.label), mark, b.done, b.total, b.failed,
		avg.Round(time.Millisecond), b.now().Sub(b.started).Round(time.Second))
}

func (b *Bar) percent() float64 {
	if b.total == 0 {
		return 1
	}
	return float64(b.done) / float64(b.total)
}

func (b *Bar) render() {
	fmt.Fprintf(b.out, "\r%s %s %3.0f%% %d/%d",
		labelStyle.Render(b.label), b.bar.ViewAs(b.percent()), b.percent()*100, b.done, b.total)
}
