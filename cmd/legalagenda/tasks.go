package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"legalagenda/internal/cascade"
	"legalagenda/internal/engine"
	"legalagenda/internal/model"
	"legalagenda/internal/timekeeping"
)

func addMaterialize(topLevel *cobra.Command, o *rootOptions) {
	cmd := &cobra.Command{
		Use:   "materialize <occurrence id>",
		Short: "Turn a virtual occurrence into a stored row and print its id",
		Args:  exactlyOne("occurrence id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.svc.Materialize(cmd.Context(), a.scope, args[0])
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}

func addReschedule(topLevel *cobra.Command, o *rootOptions) {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reschedule <task or occurrence id> <new start>",
		Short: "Move a task, keeping its lead time to a fixed deadline",
		Example: `
legalagenda reschedule 3f0c... "2024-01-20 09:30"
legalagenda reschedule virtual_<rule>_2024-01-15 2024-01-20T09:30:00-03:00 --yes
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			start, err := parseWhen(args[1], a.svc.Location())
			if err != nil {
				return err
			}
			plan, err := a.svc.PlanReschedule(ctx, a.scope, args[0], start)
			if err != nil {
				return err
			}

			var confirmed = plan.SuggestedDeadline
			if plan.Outcome == cascade.RequiresConfirmation {
				fmt.Printf("The fixed deadline %s would fall before the new start.\n", plan.CurrentDeadline)
				fmt.Printf("Move it to %s (keeps the %d-day lead)? [y/N] ", plan.SuggestedDeadline, plan.LeadDays)
				if !yes && !confirm() {
					return errors.New("reschedule aborted: deadline not confirmed")
				}
			}
			d, err := a.svc.CommitReschedule(ctx, a.scope, plan.TaskID, start, confirmed)
			if err != nil {
				return err
			}
			fmt.Printf("%s now starts %s\n", d.TaskID, d.NewStart.Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept the suggested deadline without prompting")
	topLevel.AddCommand(cmd)
}

func confirm() bool {
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "s", "sim":
		return true
	}
	return false
}

func addStatus(topLevel *cobra.Command, o *rootOptions) {
	cmd := &cobra.Command{
		Use:   "status <task id> <status>",
		Short: "Move a task between pending, in_progress and cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.svc.MoveStatus(cmd.Context(), a.scope, args[0], model.Status(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("%s is %s\n", t.ID, t.Status)
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}

func addReopen(topLevel *cobra.Command, o *rootOptions) {
	cmd := &cobra.Command{
		Use:   "reopen <task id>",
		Short: "Reopen a completed task",
		Args:  exactlyOne("task id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.svc.Reopen(cmd.Context(), a.scope, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s is %s\n", t.ID, t.Status)
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}

func addComplete(topLevel *cobra.Command, o *rootOptions) {
	var (
		minutes      int
		description  string
		billable     bool
		withoutHours bool
	)
	cmd := &cobra.Command{
		Use:     "complete <task or occurrence id>",
		Aliases: []string{"done"},
		Short:   "Complete a task, recording hours when it is billable",
		Example: `
legalagenda complete 3f0c... --minutes 45 --description "Drafted reply"
legalagenda complete 3f0c... --without-hours
`,
		Args: exactlyOne("task id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			at, err := a.svc.PrepareCompletion(ctx, a.scope, args[0])
			if err != nil {
				return err
			}
			// A failed step leaves the attempt open; close it so a paused
			// timer goes back to running.
			defer func() {
				if err := a.svc.CloseCompletion(ctx, a.scope, at.ID); err != nil {
					color.Yellow("could not close completion: %v", err)
				}
			}()

			switch {
			case at.Plan == timekeeping.CompleteDirect:
				err = a.svc.CompleteDirect(ctx, a.scope, at.ID)
			case withoutHours:
				err = a.svc.CompleteWithoutHours(ctx, a.scope, at.ID)
			default:
				var entry model.TimesheetEntry
				entry, err = a.svc.EnterHours(ctx, a.scope, at.ID, timekeeping.HoursInput{
					Minutes:     minutes,
					Description: description,
					Billable:    billable,
				})
				if err == nil {
					fmt.Printf("logged %d min on %s\n", entry.Minutes, entry.WorkDate)
				}
			}
			if err != nil {
				return err
			}
			color.Green("%s completed", at.TaskID)
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "minutes worked (default: the running timer)")
	cmd.Flags().StringVar(&description, "description", "", "timesheet description")
	cmd.Flags().BoolVar(&billable, "billable", true, "bill the entry")
	cmd.Flags().BoolVar(&withoutHours, "without-hours", false, "complete a billable task without logging hours")
	topLevel.AddCommand(cmd)
}

func addDeleteOccurrence(topLevel *cobra.Command, o *rootOptions) {
	var scope string
	cmd := &cobra.Command{
		Use:   "delete-occurrence <id>",
		Short: "Delete one occurrence, or end its whole series with --scope all",
		Args:  exactlyOne("occurrence id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			which, err := engine.ParseDeleteScope(scope)
			if err != nil {
				return err
			}
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.DeleteOccurrence(cmd.Context(), a.scope, args[0], which); err != nil {
				return err
			}
			fmt.Printf("deleted (%s)\n", which)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(engine.DeleteThis), "this or all")
	topLevel.AddCommand(cmd)
}
