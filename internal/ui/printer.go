// Package ui renders playbook progress and diagnostics to the
// terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/sparkfleet/sparkctl/internal/fleet"
	"github.com/sparkfleet/sparkctl/internal/playbook"
)

// Color palette.
var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorCyan   = lipgloss.Color("#00E5FF")
	colorSubtle = lipgloss.Color("#626262")
)

var (
	stepHeaderStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	okStyle         = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle       = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	warnStyle       = lipgloss.NewStyle().Foreground(colorYellow)
	hostStyle       = lipgloss.NewStyle().Foreground(colorCyan)
	subtleStyle     = lipgloss.NewStyle().Foreground(colorSubtle)
)

// Printer writes colorized run output. With Color off it degrades to
// plain text, for pipes and CI logs.
type Printer struct {
	Out     io.Writer
	Color   bool
	Verbose bool // echo remote stdout for successful steps too
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer, color, verbose bool) *Printer {
	return &Printer{Out: out, Color: color, Verbose: verbose}
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.Color {
		return text
	}
	return s.Render(text)
}

// Hooks returns fleet run hooks that stream progress through this
// printer.
func (p *Printer) Hooks() fleet.Hooks {
	return fleet.Hooks{
		StepStart: p.stepStart,
		Result:    p.result,
		StepEnd:   p.stepEnd,
	}
}

func (p *Printer) stepStart(step playbook.Step, hosts []string) {
	header := fmt.Sprintf("==> %s", step.Name)
	if step.BestEffort {
		header += p.style(subtleStyle, " (best-effort)")
	}
	fmt.Fprintf(p.Out, "%s %s\n",
		p.style(stepHeaderStyle, header),
		p.style(subtleStyle, "["+strings.Join(hosts, ", ")+"]"))
}

func (p *Printer) result(step playbook.Step, r *fleet.HostResult) {
	host := p.style(hostStyle, r.Host)
	switch {
	case r.Succeeded():
		fmt.Fprintf(p.Out, "    %s %s %s\n", p.style(okStyle, "ok"), host,
			p.style(subtleStyle, r.Duration.Round(10*time.Millisecond).String()))
		if p.Verbose {
			p.indent(string(r.Stdout), "      ")
		}
	case r.TimedOut():
		fmt.Fprintf(p.Out, "    %s %s: step %q timed out after %s\n",
			p.style(failStyle, "timeout"), host, r.Step, r.Duration.Round(10*time.Millisecond))
	case r.Err != nil:
		level := "fail"
		style := failStyle
		if step.BestEffort {
			level, style = "warn", warnStyle
		}
		fmt.Fprintf(p.Out, "    %s %s: %v\n", p.style(style, level), host, r.Err)
	default:
		level := "fail"
		style := failStyle
		if step.BestEffort {
			level, style = "warn", warnStyle
		}
		fmt.Fprintf(p.Out, "    %s %s: exited %d\n", p.style(style, level), host, r.ExitCode)
		p.indent(string(r.Stderr), "      ")
	}
}

func (p *Printer) stepEnd(step playbook.Step, hardFailed bool) {
	if hardFailed {
		fmt.Fprintf(p.Out, "%s\n",
			p.style(failStyle, fmt.Sprintf("aborting: step %q failed", step.Name)))
	}
}

// Summary prints the one-line session outcome.
func (p *Printer) Summary(s *fleet.Session) {
	if s.Failed() {
		fmt.Fprintf(p.Out, "%s\n", p.style(failStyle,
			fmt.Sprintf("%s aborted at step %q", s.Playbook, s.FailedStep)))
		return
	}
	line := fmt.Sprintf("%s completed", s.Playbook)
	if s.SoftFails > 0 {
		line += fmt.Sprintf(" (%d best-effort failures)", s.SoftFails)
	}
	fmt.Fprintf(p.Out, "%s\n", p.style(okStyle, line))
}

// Infof prints an informational line.
func (p *Printer) Infof(format string, args ...any) {
	fmt.Fprintf(p.Out, format+"\n", args...)
}

// Warnf prints a warning-level line. Best-effort failures come through
// here; nothing is ever swallowed silently.
func (p *Printer) Warnf(format string, args ...any) {
	fmt.Fprintf(p.Out, "%s %s\n", p.style(warnStyle, "warning:"), fmt.Sprintf(format, args...))
}

// Errorf prints an error-level line.
func (p *Printer) Errorf(format string, args ...any) {
	fmt.Fprintf(p.Out, "%s %s\n", p.style(failStyle, "error:"), fmt.Sprintf(format, args...))
}

// Successf prints a success line.
func (p *Printer) Successf(format string, args ...any) {
	fmt.Fprintf(p.Out, "%s\n", p.style(okStyle, fmt.Sprintf(format, args...)))
}

func (p *Printer) indent(text, prefix string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(p.Out, "%s%s\n", prefix, line)
	}
}
