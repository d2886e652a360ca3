package cmdutil

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/semmidev/dbvault/internal/domain"
)

var (
	loadingSpinner = spinner.New(spinner.CharSets[14], time.Millisecond*100, spinner.WithWriter(os.Stderr))
)

func PrintE(message string) {
	color.New(color.FgRed).Fprintln(os.Stderr, message)
}

func Print(message string) {
	_, _ = fmt.Fprintln(os.Stdout, message)
}

func PrintS(message string) {
	color.Green(message)
}

func StartLoading(message string) {
	loadingSpinner.Suffix = " " + message
	loadingSpinner.Start()
}

// UpdateLoading changes the spinner text while it runs.
func UpdateLoading(message string) {
	loadingSpinner.Lock()
	loadingSpinner.Suffix = " " + message
	loadingSpinner.Unlock()
}

func StopLoading() {
	loadingSpinner.Stop()
}

func statusText(s domain.BackupStatus) string {
	switch s {
	case domain.StatusCompleted:
		return color.GreenString(string(s))
	case domain.StatusFailed:
		return color.RedString(string(s))
	case domain.StatusInProgress:
		return color.YellowString(string(s))
	}
	return string(s)
}

// JobsTable renders jobs newest first, as listed by the store.
func JobsTable(jobs []domain.BackupJob) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Connection", "Name", "Type", "Status", "Size", "Created", "Verified"})
	for _, j := range jobs {
		size := "-"
		if j.FileSize > 0 {
			size = humanize.Bytes(uint64(j.FileSize))
		}
		verified := ""
		if j.Verified {
			verified = "✓"
		}
		tw.AppendRow(table.Row{
			j.ID,
			j.ConnectionName,
			j.Name,
			j.BackupType,
			statusText(j.Status),
			size,
			humanize.Time(j.CreatedAt),
			verified,
		})
	}
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}

func SchedulesTable(schedules []domain.BackupSchedule) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Name", "Connection", "Type", "Cron", "Enabled", "Last Run"})
	for _, s := range schedules {
		last := "never"
		if s.LastRunAt != nil {
			last = humanize.Time(*s.LastRunAt)
		}
		tw.AppendRow(table.Row{s.ID, s.Name, s.ConnectionID, s.BackupType, s.Cron, s.Enabled, last})
	}
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}

// JobDetail describes one job for terminal output.
func JobDetail(j domain.BackupJob) string {
	tw := table.NewWriter()
	tw.AppendRow(table.Row{"ID", j.ID})
	tw.AppendRow(table.Row{"Connection", j.ConnectionName})
	tw.AppendRow(table.Row{"Status", statusText(j.Status)})
	tw.AppendRow(table.Row{"File", j.FilePath})
	if j.FileSize > 0 {
		tw.AppendRow(table.Row{"Size", humanize.Bytes(uint64(j.FileSize))})
	}
	if j.ErrorMessage != "" {
		tw.AppendRow(table.Row{"Error", j.ErrorMessage})
	}
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}
