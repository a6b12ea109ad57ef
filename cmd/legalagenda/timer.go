package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"legalagenda/internal/model"
)

func addTimer(topLevel *cobra.Command, o *rootOptions) {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Track time against tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <task or occurrence id>",
		Short: "Start a timer on a task",
		Args:  exactlyOne("task id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.svc.StartTimer(cmd.Context(), a.scope, args[0])
			if err != nil {
				return err
			}
			fmt.Println(t.ID)
			return nil
		},
	})

	for _, action := range []struct {
		name, short string
		run         func(a *app, cmd *cobra.Command, id string) (model.Timer, error)
	}{
		{"pause", "Pause a running timer", func(a *app, cmd *cobra.Command, id string) (model.Timer, error) {
			return a.svc.PauseTimer(cmd.Context(), a.scope, id)
		}},
		{"resume", "Resume a paused timer", func(a *app, cmd *cobra.Command, id string) (model.Timer, error) {
			return a.svc.ResumeTimer(cmd.Context(), a.scope, id)
		}},
		{"discard", "Drop a timer without logging time", func(a *app, cmd *cobra.Command, id string) (model.Timer, error) {
			return a.svc.DiscardTimer(cmd.Context(), a.scope, id)
		}},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.name + " <timer id>",
			Short: action.short,
			Args:  exactlyOne("timer id"),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := o.open(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				t, err := action.run(a, cmd, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s %s (%s)\n", t.ID, t.Status, t.Elapsed(a.svc.Now()).Round(time.Second))
				return nil
			},
		})
	}

	var (
		description string
		billable    bool
	)
	finalize := &cobra.Command{
		Use:   "finalize <timer id>",
		Short: "Stop a timer and log its time as a timesheet entry",
		Args:  exactlyOne("timer id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			entry, err := a.svc.FinalizeTimer(cmd.Context(), a.scope, args[0], description, billable)
			if err != nil {
				return err
			}
			fmt.Printf("logged %d min on %s\n", entry.Minutes, entry.WorkDate)
			return nil
		},
	}
	finalize.Flags().StringVar(&description, "description", "", "timesheet description")
	finalize.Flags().BoolVar(&billable, "billable", true, "bill the entry")
	cmd.AddCommand(finalize)

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the user's running and paused timers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			timers, err := a.svc.ActiveTimers(cmd.Context(), a.scope)
			if err != nil {
				return err
			}
			if len(timers) == 0 {
				_, _ = color.New(color.Faint, color.Italic).Fprintln(color.Output, " no active timers")
				return nil
			}
			now := a.svc.Now()
			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow("ID", "TASK", "STATUS", "ELAPSED", "STARTED")
			for _, t := range timers {
				status := string(t.Status)
				if t.Status == model.TimerRunning {
					status = color.GreenString(status)
				}
				tbl.AddRow(t.ID, t.TaskID, status, t.Elapsed(now).Round(time.Second), t.StartedAt.In(a.svc.Location()).Format("2006-01-02 15:04"))
			}
			_, _ = fmt.Fprintln(color.Output, tbl)
			return nil
		},
	})

	topLevel.AddCommand(cmd)
}
