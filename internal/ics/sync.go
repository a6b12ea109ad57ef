package ics

import (
	"context"
	"errors"
	"time"

	"legalagenda/internal/config"
	appLog "legalagenda/internal/log"
	"legalagenda/internal/model"
)

// HearingSink stores imported hearings for an office.
type HearingSink interface {
	UpsertHearings(ctx context.Context, officeID string, hs []model.Hearing) (created, updated int, err error)
}

// Report summarizes one synchronization run.
type Report struct {
	Feeds   int `json:"feeds"`
	Cached  int `json:"cached"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Syncer fetches, parses and stores hearing feeds.
type Syncer struct {
	fetcher *Fetcher
	sink    HearingSink
	loc     *time.Location
}

func NewSyncer(f *Fetcher, sink HearingSink, loc *time.Location) *Syncer {
	if loc == nil {
		loc = time.Local
	}
	return &Syncer{fetcher: f, sink: sink, loc: loc}
}

// Sync imports every feed into officeID. A failing feed does not stop the
// others; the joined errors are returned with the report.
func (s *Syncer) Sync(ctx context.Context, officeID string, feeds []Feed) (Report, error) {
	rep := Report{Feeds: len(feeds)}
	results, errs := s.fetcher.FetchAll(ctx, feeds)
	rep.Failed = len(errs)

	for _, res := range results {
		if res.FromCache {
			rep.Cached++
		}
		hs, err := ParseHearings(res.Feed, res.Body, s.loc)
		if err != nil {
			rep.Failed++
			errs = append(errs, err)
			continue
		}
		created, updated, err := s.sink.UpsertHearings(ctx, officeID, hs)
		if err != nil {
			rep.Failed++
			errs = append(errs, err)
			appLog.Error("hearing import failed", err, "feed", res.Feed.ID)
			continue
		}
		rep.Created += created
		rep.Updated += updated
	}

	appLog.Info("hearing feeds synchronized", "office_id", officeID, "feeds", rep.Feeds,
		"created", rep.Created, "updated", rep.Updated, "failed", rep.Failed)
	return rep, errors.Join(errs...)
}

// FeedsFromConfig converts the configured hearing feeds.
func FeedsFromConfig(cfgs []config.HearingFeedConfig) []Feed {
	out := make([]Feed, 0, len(cfgs))
	for _, f := range cfgs {
		out = append(out, Feed{ID: f.ID, Name: f.Name, URL: f.URL})
	}
	return out
}
