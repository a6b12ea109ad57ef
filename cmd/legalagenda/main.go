package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"legalagenda/internal/config"
	"legalagenda/internal/dates"
	"legalagenda/internal/engine"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
	"legalagenda/internal/store"
)

const version = "0.3.0"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	office     string
	user       string
}

// app is the opened runtime of one command invocation.
type app struct {
	cfg   *config.Config
	store *store.Store
	svc   *engine.Service
	scope model.Scope
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Error("failed to close store", err)
	}
}

func (o *rootOptions) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	sc := model.Scope{OfficeID: cfg.OfficeID, UserID: cfg.UserID}
	if o.office != "" {
		sc.OfficeID = o.office
	}
	if o.user != "" {
		sc.UserID = o.user
	}
	if sc.OfficeID == "" {
		return nil, errors.New("no office: set office_id in the config or pass --office")
	}

	st, err := store.Open(ctx, cfg.Database, store.Options{Location: cfg.Location()})
	if err != nil {
		return nil, err
	}
	svc := engine.New(st, engine.Options{
		Location:              cfg.Location(),
		MaxOccurrencesPerRule: cfg.MaxOccurrencesPerRule,
	})
	appLog.Debug("effective config",
		"database", cfg.Database,
		"timezone", cfg.Timezone,
		"horizon_days", cfg.HorizonDays,
		"feeds", len(cfg.HearingFeeds),
		"office_id", sc.OfficeID,
	)
	return &app{cfg: cfg, store: st, svc: svc, scope: sc}, nil
}

func newRoot() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "legalagenda",
		Short:         "Scheduling engine for a legal practice: agenda, deadlines, completion and hours.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&o.configPath, "config", "/etc/legalagenda/config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&o.office, "office", "", "office id (overrides office_id from the config)")
	cmd.PersistentFlags().StringVar(&o.user, "user", "", "user id (overrides user_id from the config)")

	addServe(cmd, o)
	addSyncHearings(cmd, o)
	addAgenda(cmd, o)
	addExportICS(cmd, o)
	addDeadline(cmd, o)
	addMaterialize(cmd, o)
	addReschedule(cmd, o)
	addStatus(cmd, o)
	addReopen(cmd, o)
	addComplete(cmd, o)
	addDeleteOccurrence(cmd, o)
	addTimer(cmd, o)
	return cmd
}

func main() {
	if err := newRoot().Execute(); err != nil {
		appLog.Error("command failed", err)
		os.Exit(1)
	}
}

// parseWhen reads an RFC 3339 timestamp or a local "YYYY-MM-DD HH:MM".
func parseWhen(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", strings.Replace(s, "T", " ", 1), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD HH:MM", s)
	}
	return t, nil
}

// parseDay reads a YYYY-MM-DD date; "" yields def.
func parseDay(s string, def dates.Date) (dates.Date, error) {
	if s == "" {
		return def, nil
	}
	return dates.Parse(s)
}

func exactlyOne(what string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("requires exactly one %s", what)
		}
		return nil
	}
}
