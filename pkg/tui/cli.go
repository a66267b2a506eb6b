// Package tui renders docexport command output: run manifests, checkpoint
// listings, summaries and progress bars.
package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/docexport/pkg/checkpoint"
	"github.com/logflow/docexport/pkg/serializer"
	"github.com/logflow/docexport/pkg/telemetry"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// Printer writes styled output to w.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer on w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Header prints the tool banner.
func (p *Printer) Header(version string) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, titleStyle.Render("  DOCEXPORT")+mutedStyle.Render(" "+version))
	fmt.Fprintln(p.w, mutedStyle.Render("  Run document stream exporter"))
	fmt.Fprintln(p.w)
}

// Manifest prints the outcome of one run.
func (p *Printer) Manifest(m *serializer.Manifest) {
	mark := successStyle.Render("✓")
	if m.Status != serializer.Closed.String() {
		mark = accentStyle.Render("✗")
	}
	fmt.Fprintf(p.w, "  %s %s %s\n", mark, titleStyle.Render(m.RunUID), mutedStyle.Render(m.Status))

	for _, name := range m.StreamNames() {
		st := m.Stats[name]
		line := fmt.Sprintf("    %-24s %s events", name, formatNumber(st.Events))
		if st.Skipped > 0 {
			line += warnStyle.Render(fmt.Sprintf("  %d skipped", st.Skipped))
		}
		if st.Missing > 0 {
			line += warnStyle.Render(fmt.Sprintf("  %d missing in %d gaps", st.Missing, len(st.Gaps)))
		}
		fmt.Fprintln(p.w, line)
		for _, path := range m.Paths(name) {
			fmt.Fprintf(p.w, "      %s\n", codeStyle.Render(path))
		}
	}
	if m.Sidecar != "" {
		fmt.Fprintf(p.w, "    %-24s %s\n", "metadata", codeStyle.Render(m.Sidecar))
	}
	if m.Error != "" {
		fmt.Fprintf(p.w, "    %s\n", accentStyle.Render(m.Error))
	}
}

// Problem prints a recoverable issue found while reading an input.
func (p *Printer) Problem(source string, err error) {
	fmt.Fprintf(p.w, "  %s %s %s\n", warnStyle.Render("!"), mutedStyle.Render(source+":"), err)
}

// Summary prints the totals of an export.
func (p *Printer) Summary(s telemetry.Summary, dryRun bool) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, mutedStyle.Render(rule))
	switch {
	case s.RunsFailed > 0:
		fmt.Fprintln(p.w, accentStyle.Render(fmt.Sprintf("  ✗ %d OF %d RUNS FAILED", s.RunsFailed, s.RunsFailed+s.RunsClosed)))
	case dryRun:
		fmt.Fprintln(p.w, successStyle.Render("  ✓ VALIDATION PASSED"))
	default:
		fmt.Fprintln(p.w, successStyle.Render("  ✓ EXPORT COMPLETE"))
	}
	fmt.Fprintf(p.w, "  %s %s\n", mutedStyle.Render("Runs:     "), titleStyle.Render(formatNumber(s.RunsClosed)))
	fmt.Fprintf(p.w, "  %s %s\n", mutedStyle.Render("Documents:"), titleStyle.Render(formatNumber(s.Documents)))
	fmt.Fprintf(p.w, "  %s %s\n", mutedStyle.Render("Events:   "), titleStyle.Render(formatNumber(s.Events)))
	if s.Errors > 0 {
		fmt.Fprintf(p.w, "  %s %s\n", mutedStyle.Render("Problems: "), warnStyle.Render(formatNumber(s.Errors)))
	}
	if s.Elapsed > 0 {
		fmt.Fprintf(p.w, "  %s %s %s\n",
			mutedStyle.Render("Time:     "),
			titleStyle.Render(formatDuration(s.Elapsed)),
			mutedStyle.Render(fmt.Sprintf("(%s docs/sec)", formatNumber(int64(s.DocsPerSecond)))))
	}
	fmt.Fprintln(p.w, mutedStyle.Render(rule))
	fmt.Fprintln(p.w)
}

// Runs prints checkpoint records as a table.
func (p *Printer) Runs(records []*checkpoint.Record) {
	if len(records) == 0 {
		fmt.Fprintln(p.w, mutedStyle.Render("  No recorded runs."))
		return
	}
	fmt.Fprintln(p.w, mutedStyle.Render(fmt.Sprintf("  %-38s %-8s %10s %10s  %s", "RUN", "STATUS", "DOCS", "DURATION", "SOURCE")))
	for _, r := range records {
		status := string(r.Status)
		switch r.Status {
		case checkpoint.StatusClosed:
			status = successStyle.Render(fmt.Sprintf("%-8s", status))
		case checkpoint.StatusErrored:
			status = accentStyle.Render(fmt.Sprintf("%-8s", status))
		default:
			status = warnStyle.Render(fmt.Sprintf("%-8s", status))
		}
		fmt.Fprintf(p.w, "  %-38s %s %10s %10s  %s\n",
			r.RunUID, status, formatNumber(r.Documents), formatDuration(r.Duration()), r.Source)
		if r.Error != "" {
			fmt.Fprintf(p.w, "    %s\n", mutedStyle.Render(r.Error))
		}
	}
}

// ShowProgress creates a progress bar over total items on w.
func ShowProgress(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
