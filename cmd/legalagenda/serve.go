package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"legalagenda/internal/ics"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/web"
)

// staleCompletion is how long a completion may wait for its time-entry step
// before serve closes it and resumes the paused timer.
const staleCompletion = 2 * time.Hour

func newSyncer(a *app) *ics.Syncer {
	return ics.NewSyncer(ics.NewFetcher(a.cfg.FeedCacheDir, nil), a.svc, a.svc.Location())
}

func addServe(topLevel *cobra.Command, o *rootOptions) {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and refresh hearing feeds on the configured schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				a.cfg.Listen = listen
			}
			appLog.Info("legalagenda starting", "version", version, "listen", a.cfg.Listen, "timezone", a.cfg.Timezone)

			c := cron.New(cron.WithLocation(a.svc.Location()))
			if _, err := c.AddFunc("@every 10m", func() {
				a.svc.PurgeCompletions(ctx, staleCompletion)
			}); err != nil {
				return err
			}

			var syncer *ics.Syncer
			if len(a.cfg.HearingFeeds) > 0 {
				syncer = newSyncer(a)
				feeds := ics.FeedsFromConfig(a.cfg.HearingFeeds)
				officeID := a.scope.OfficeID
				refresh := func() {
					if _, err := syncer.Sync(ctx, officeID, feeds); err != nil {
						appLog.Warn("scheduled hearing sync incomplete", "error", err.Error())
					}
				}
				if _, err := c.AddFunc(a.cfg.RefreshCron, refresh); err != nil {
					return fmt.Errorf("schedule hearing sync %q: %w", a.cfg.RefreshCron, err)
				}
				go refresh()
				appLog.Info("hearing sync scheduled", "cron", a.cfg.RefreshCron, "feeds", len(feeds))
			}
			c.Start()
			defer func() {
				<-c.Stop().Done()
			}()

			err = web.StartServer(ctx, a.cfg, a.svc, syncer)
			appLog.Info("legalagenda exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	topLevel.AddCommand(cmd)
}

func addSyncHearings(topLevel *cobra.Command, o *rootOptions) {
	cmd := &cobra.Command{
		Use:   "sync-hearings",
		Short: "Fetch the configured hearing feeds once and import them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if len(a.cfg.HearingFeeds) == 0 {
				return fmt.Errorf("no hearing_feeds configured in %s", o.configPath)
			}

			rep, err := newSyncer(a).Sync(ctx, a.scope.OfficeID, ics.FeedsFromConfig(a.cfg.HearingFeeds))
			fmt.Printf("feeds %d (cached %d)  created %d  updated %d  failed %d\n",
				rep.Feeds, rep.Cached, rep.Created, rep.Updated, rep.Failed)
			return err
		},
	}
	topLevel.AddCommand(cmd)
}
