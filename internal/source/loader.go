package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"dicebastion/internal/config"
	"dicebastion/internal/ics"
	appLog "dicebastion/internal/log"
	"dicebastion/internal/metrics"
	"dicebastion/internal/model"
)

// FromConfig converts configured sources, dropping entries without a URL.
func FromConfig(cfgs []config.SourceConfig) []Source {
	out := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		out = append(out, Source{ID: c.ID, URL: c.URL, Kind: c.Kind})
	}
	return out
}

// Loader turns the configured sources into one event list.
type Loader struct {
	fetcher *Fetcher
	loc     *time.Location
	metrics *metrics.Metrics
}

func NewLoader(fetcher *Fetcher, loc *time.Location, m *metrics.Metrics) *Loader {
	if loc == nil {
		loc = time.UTC
	}
	return &Loader{fetcher: fetcher, loc: loc, metrics: m}
}

// Load fetches and decodes every source. A failing source is logged and
// skipped; Load only fails when no source could be read at all, so callers
// can keep serving their previous snapshot.
func (l *Loader) Load(ctx context.Context, sources []Source) ([]model.Event, error) {
	events := make([]model.Event, 0)
	failed := make([]error, 0)

	for _, src := range sources {
		res, err := l.fetcher.Fetch(ctx, src)
		if err != nil {
			appLog.Error("source fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			failed = append(failed, fmt.Errorf("source %s: %w", src.ID, err))
			continue
		}

		var (
			decoded []model.Event
			errs    []error
		)
		switch src.Kind {
		case config.KindICS:
			decoded, errs = ics.ParseFeed(src.ID, res.Body, l.loc)
		default:
			decoded, errs = DecodeEvents(src.ID, res.Body, l.loc)
		}

		// A body that yields nothing but errors is a broken source, not an
		// empty calendar.
		if len(decoded) == 0 && len(errs) > 0 {
			err := errors.Join(errs...)
			appLog.Error("source decode failed", err, "id", src.ID)
			failed = append(failed, fmt.Errorf("source %s: %w", src.ID, err))
			l.metrics.ObserveSource(src.ID, 0, len(errs))
			continue
		}
		for _, err := range errs {
			appLog.Error("event rejected", err, "source", src.ID)
		}

		l.metrics.ObserveSource(src.ID, len(decoded), len(errs))
		appLog.Info("source loaded", "id", src.ID, "events", len(decoded), "rejected", len(errs), "from_cache", res.FromCache)
		events = append(events, decoded...)
	}

	switch {
	case len(sources) > 0 && len(failed) == len(sources):
		l.metrics.ObserveRefresh(metrics.RefreshFailed)
		return nil, errors.Join(failed...)
	case len(failed) > 0:
		l.metrics.ObserveRefresh(metrics.RefreshPartial)
	default:
		l.metrics.ObserveRefresh(metrics.RefreshOK)
	}

	slices.SortFunc(events, func(a, b model.Event) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return events, nil
}
