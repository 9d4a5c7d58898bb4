package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/aegis-sec/aegis/pkg/stringutil"
	"github.com/charmbracelet/lipgloss"
)

// maxErrorWidth bounds the error column so one long failure message does not
// wreck the table layout.
const maxErrorWidth = 80

// StepSummary is one row of a run summary.
type StepSummary struct {
	Name     string        `json:"name"`
	Task     string        `json:"task"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunSummary is the CLI view of a finished workflow run.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Workflow string        `json:"workflow"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Steps    []StepSummary `json:"steps"`
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (f *formatter) PrintRunSummary(summary RunSummary) error {
	if f.quiet {
		return nil
	}
	if f.mode == ModeJSON {
		return f.PrintJSON(summary)
	}

	var sb strings.Builder
	header := fmt.Sprintf("Workflow %s  %s  (%s)", summary.Workflow, f.styledStatus(summary.Status), summary.Duration.Round(time.Millisecond))
	sb.WriteString(f.maybeStyle(titleStyle, header))
	sb.WriteString("\n")
	sb.WriteString(f.maybeStyle(subtleStyle, "run "+summary.RunID))
	sb.WriteString("\n\n")

	if _, err := fmt.Fprint(f.stdout, sb.String()); err != nil {
		return err
	}

	rows := make([][]string, 0, len(summary.Steps))
	for _, s := range summary.Steps {
		rows = append(rows, []string{
			s.Name,
			s.Task,
			f.styledStatus(s.Status),
			fmt.Sprintf("%d", s.Attempts),
			s.Duration.Round(time.Millisecond).String(),
			stringutil.Ellipsis(s.Error, maxErrorWidth),
		})
	}
	return f.PrintTable([]string{"STEP", "TASK", "STATUS", "ATTEMPTS", "DURATION", "ERROR"}, rows)
}

func (f *formatter) styledStatus(status string) string {
	if !f.color {
		return status
	}
	switch status {
	case "completed":
		return successStyle.Render(status)
	case "partial", "skipped":
		return warnStyle.Render(status)
	case "failed", "timeout":
		return failStyle.Render(status)
	default:
		return status
	}
}

func (f *formatter) maybeStyle(style lipgloss.Style, s string) string {
	if !f.color {
		return s
	}
	return style.Render(s)
}
