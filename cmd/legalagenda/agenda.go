package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"legalagenda/internal/agenda"
	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

type agendaOptions struct {
	from, to, day string
	days          int
	types         []string
	statuses      []string
	overdue       bool
	dueToday      bool
	noVirtual     bool
}

func (ao *agendaOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&ao.from, "from", "", "first day (YYYY-MM-DD, default today)")
	f.StringVar(&ao.to, "to", "", "last day (YYYY-MM-DD, default from + horizon)")
	f.StringVar(&ao.day, "day", "", "single day view with urgency ordering")
	f.IntVar(&ao.days, "days", 0, "window length when --to is not set (default horizon_days)")
	f.StringSliceVar(&ao.types, "type", nil, "hearing, deadline, task or event")
	f.StringSliceVar(&ao.statuses, "status", nil, "statuses to include")
	f.BoolVar(&ao.overdue, "overdue", false, "only overdue items")
	f.BoolVar(&ao.dueToday, "due-today", false, "only items due today")
	f.BoolVar(&ao.noVirtual, "no-virtual", false, "hide unmaterialized recurring occurrences")
}

func (ao *agendaOptions) query(a *app) (agenda.Query, error) {
	today := dates.OfIn(a.svc.Now(), a.svc.Location())
	q := agenda.Query{
		Scope:          a.scope,
		Categories:     ao.types,
		Overdue:        ao.overdue,
		DueToday:       ao.dueToday,
		IncludeVirtual: !ao.noVirtual,
	}
	for _, s := range ao.statuses {
		q.Statuses = append(q.Statuses, model.Status(s))
	}

	var err error
	if q.From, err = parseDay(ao.from, today); err != nil {
		return q, err
	}
	days := ao.days
	if days <= 0 {
		days = a.cfg.HorizonDays
	}
	if q.To, err = parseDay(ao.to, q.From.AddDays(days)); err != nil {
		return q, err
	}
	if ao.day != "" {
		d, err := dates.Parse(ao.day)
		if err != nil {
			return q, err
		}
		q.Day = &d
	}
	return q, nil
}

func addAgenda(topLevel *cobra.Command, o *rootOptions) {
	ao := &agendaOptions{}
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "List the consolidated agenda",
		Example: `
legalagenda agenda --days 7
legalagenda agenda --day 2024-01-08
legalagenda agenda --type deadline,hearing --overdue
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			q, err := ao.query(a)
			if err != nil {
				return err
			}
			entries, err := a.svc.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			printAgenda(q, entries)
			return nil
		},
	}
	ao.bind(cmd)
	topLevel.AddCommand(cmd)
}

func printAgenda(q agenda.Query, entries []agenda.Entry) {
	q = q.Normalize()
	title := color.New(color.Bold, color.Underline)
	_, _ = title.Fprintf(color.Output, "Agenda %s .. %s\n", q.From, q.To)
	if len(entries) == 0 {
		_, _ = color.New(color.Faint, color.Italic).Fprintln(color.Output, " none")
		return
	}

	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgHiYellow)
	faint := color.New(color.Faint)

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 48
	tbl.AddRow("WHEN", "TYPE", "TITLE", "STATUS", "DEADLINE", "ID")
	for _, e := range entries {
		when := e.Start.Format("2006-01-02 15:04")
		if e.AllDay {
			when = e.Start.Format("2006-01-02") + " all-day"
		}
		deadline := ""
		if e.FixedDeadline != nil {
			deadline = e.FixedDeadline.String()
		}
		id := e.ID
		if e.Virtual {
			id = faint.Sprint(id)
		}
		status := string(e.Status)
		switch e.Urgency {
		case agenda.UrgencyOverdue:
			status = red.Sprint(status + " (overdue)")
		case agenda.UrgencyDueToday:
			status = yellow.Sprint(status + " (due today)")
		}
		tbl.AddRow(when, e.Category(), e.Title, status, deadline, id)
	}
	_, _ = fmt.Fprintln(color.Output, tbl)
}

func addExportICS(topLevel *cobra.Command, o *rootOptions) {
	ao := &agendaOptions{}
	var out, name string
	cmd := &cobra.Command{
		Use:   "export-ics",
		Short: "Write the agenda window as an iCalendar file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			q, err := ao.query(a)
			if err != nil {
				return err
			}
			if name == "" {
				name = "Agenda " + a.scope.OfficeID
			}
			body, err := a.svc.ExportICS(cmd.Context(), q, name)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = os.Stdout.WriteString(body)
				return err
			}
			return os.WriteFile(out, []byte(body), 0o644)
		},
	}
	ao.bind(cmd)
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&name, "name", "", "calendar name")
	topLevel.AddCommand(cmd)
}

func addDeadline(topLevel *cobra.Command, o *rootOptions) {
	var calendarDays bool
	cmd := &cobra.Command{
		Use:   "deadline <intimation YYYY-MM-DD> <days>",
		Short: "Compute a legal deadline from an intimation date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			intimation, err := dates.Parse(args[0])
			if err != nil {
				return err
			}
			days, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("days must be an integer: %w", err)
			}
			limit, err := a.svc.CalculateDeadline(cmd.Context(), intimation, days, !calendarDays)
			if err != nil {
				return err
			}
			fmt.Println(limit)
			return nil
		},
	}
	cmd.Flags().BoolVar(&calendarDays, "calendar-days", false, "count calendar days instead of business days")
	topLevel.AddCommand(cmd)
}
