package queuemanager

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/legout/flowerpower/internal/domain"
)

// FormatJobsTable renders jobs as an aligned, human-readable table for the
// show-jobs CLI entry point. Mirrors the original source's show_jobs
// abstract method — reimplemented here since the original source never
// shipped a concrete table renderer.
func FormatJobsTable(jobs []*domain.Job) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFUNCTION\tQUEUE\tSCHEDULE\tCREATED")
	for _, j := range jobs {
		scheduleID := "-"
		if j.ScheduleID != nil {
			scheduleID = *j.ScheduleID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Status, j.FunctionRef, j.QueueName, scheduleID,
			j.CreatedAt.Format("2006-01-02T15:04:05"))
	}
	w.Flush()
	return sb.String()
}

// FormatSchedulesTable renders schedules as an aligned table for the
// show-schedules CLI entry point.
func FormatSchedulesTable(schedules []*domain.Schedule) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFUNCTION\tPAUSED\tNEXT FIRE\tQUEUE")
	for _, s := range schedules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			s.ID, s.Name, s.FunctionRef, s.Paused,
			s.NextFireTime.Format("2006-01-02T15:04:05"), s.QueueName)
	}
	w.Flush()
	return sb.String()
}
