package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/paisatrail/paisatrail/pkg/api"
)

// defaultQuery selects candidate bank-notification mail: alert senders plus
// the subject vocabulary banks use for transaction notices. Everything else
// is filtered again by the extractor, so this only needs to be broad enough
// to not miss real transactions.
const defaultQuery = `{from:(alerts@hdfcbank.net alerts@icicibank.com alerts@axisbank.com ` +
	`alerts@sbi.co.in creditcardalerts@kotak.com) ` +
	`subject:(debited credited "transaction alert" "payment received")}`

// Planner decides what time window of mail to request for a user so that
// re-runs stay incremental instead of re-scanning the whole mailbox.
type Planner struct {
	store        Store
	lookbackDays int
	maxResults   int64
	loc          *time.Location
}

// NewPlanner builds a Planner. The location must match the one the extractor
// resolves transaction times into, since the marker row's date and time are
// civil values in that zone.
func NewPlanner(store Store, lookbackDays int, maxResults int64, loc *time.Location) *Planner {
	return &Planner{
		store:        store,
		lookbackDays: lookbackDays,
		maxResults:   maxResults,
		loc:          loc,
	}
}

// Plan computes this run's mailbox query. With a last-checked marker present
// the query carries a Unix-seconds lower bound derived from the marker row's
// date and time; without one it falls back to the default lookback window.
func (p *Planner) Plan(ctx context.Context, userID string) (api.Query, error) {
	q := api.Query{Raw: defaultQuery, MaxResults: p.maxResults}

	marker, err := p.store.LastChecked(ctx, userID)
	if err != nil {
		return api.Query{}, fmt.Errorf("loading last-checked marker: %w", err)
	}
	if marker == nil {
		q.Raw = fmt.Sprintf("%s newer_than:%dd", q.Raw, p.lookbackDays)
		return q, nil
	}

	since, err := time.ParseInLocation("2006-01-02 15:04:05", marker.Date+" "+marker.Time, p.loc)
	if err != nil {
		return api.Query{}, fmt.Errorf("parsing marker instant %q %q: %w", marker.Date, marker.Time, err)
	}
	q.Raw = fmt.Sprintf("%s after:%d", q.Raw, since.Unix())
	return q, nil
}
