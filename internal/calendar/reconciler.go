// Package calendar keeps the occupancy table in line with the rental's
// reservation feed.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"celeri/internal/ics"
	appLog "celeri/internal/log"
	"celeri/internal/model"
)

// DefaultMarker is the SUMMARY Airbnb uses for a booked stay.
const DefaultMarker = "Reserved"

// ErrInvalidRange is returned by InitRange when end precedes start.
var ErrInvalidRange = errors.New("end date is before start date")

// OccupancyStore is the write side the reconciler needs.
type OccupancyStore interface {
	UpsertOccupancy(ctx context.Context, day time.Time, occupied bool) error
}

// Feed fetches a raw ICS document.
type Feed interface {
	FetchOne(ctx context.Context, src ics.Source) ([]byte, error)
}

// Outcome is the result of checking one day against the feed. Err is set
// when the feed could not be fetched or parsed; Reserved is only
// meaningful when Err is nil.
type Outcome struct {
	Reserved bool
	Err      error
}

// DayResult reports what Sync wrote for one day.
type DayResult struct {
	Day      time.Time
	Occupied bool
	Outcome  Outcome
}

// Reconciler decides occupancy from the reservation feed and persists it.
type Reconciler struct {
	feed     Feed
	store    OccupancyStore
	feedURL  string
	marker   string
	location *time.Location
	clock    clockwork.Clock
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithMarker overrides the reservation SUMMARY.
func WithMarker(m string) Option {
	return func(r *Reconciler) {
		if m != "" {
			r.marker = m
		}
	}
}

// WithLocation sets the timezone that decides what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(r *Reconciler) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(r *Reconciler) {
		r.clock = c
	}
}

// NewReconciler builds a Reconciler for the feed at feedURL.
func NewReconciler(feed Feed, store OccupancyStore, feedURL string, opts ...Option) *Reconciler {
	r := &Reconciler{
		feed:     feed,
		store:    store,
		feedURL:  feedURL,
		marker:   DefaultMarker,
		location: time.Local,
		clock:    clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// FeedURL returns the configured feed.
func (r *Reconciler) FeedURL() string {
	return r.feedURL
}

// Today returns the current calendar day in the reconciler's timezone.
func (r *Reconciler) Today() time.Time {
	return model.DayOf(r.clock.Now().In(r.location))
}

// Check fetches url and reports whether day falls inside a reservation.
// The feed is always fetched live.
func (r *Reconciler) Check(ctx context.Context, url string, day time.Time) Outcome {
	src := ics.Source{ID: "reservations", URL: url}

	body, err := r.feed.FetchOne(ctx, src)
	if err != nil {
		return Outcome{Err: err}
	}
	events, err := ics.ParseICS(src, body)
	if err != nil {
		return Outcome{Err: fmt.Errorf("parse feed: %w", err)}
	}

	reserved, err := r.reservedOn(events, model.DayOf(day))
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Reserved: reserved}
}

// IsReserved is Check with failures read as "free": an unreachable or
// broken feed never blocks the caller.
func (r *Reconciler) IsReserved(ctx context.Context, url string, day time.Time) bool {
	return collapse(r.Check(ctx, url, day), url, day)
}

func collapse(out Outcome, url string, day time.Time) bool {
	if out.Err != nil {
		appLog.Error("reservation check failed, assuming free", out.Err,
			"url", ics.RedactURL(url),
			"day", model.FormatDay(day),
		)
		return false
	}
	return out.Reserved
}

// reservedOn scans marker events in start order. Occurrences are sorted
// here, not trusted to arrive sorted from the provider, which makes the
// early exit safe.
func (r *Reconciler) reservedOn(events []ics.ParsedEvent, day time.Time) (bool, error) {
	marked := make([]ics.ParsedEvent, 0, len(events))
	for _, ev := range events {
		if ev.Summary == r.marker {
			marked = append(marked, ev)
		}
	}

	// Widen the window by a day each side so timezone offsets on timed
	// events cannot push an overlapping occurrence out.
	occ, err := ics.Expand(marked, ics.ExpandConfig{
		RangeStart: day.AddDate(0, 0, -1),
		RangeEnd:   day.AddDate(0, 0, 2),
	})
	if err != nil {
		return false, err
	}

	for _, o := range occ {
		begin := model.DayOf(o.Start)
		end := model.DayOf(o.End)
		if begin.After(day) {
			break
		}
		if !day.Before(begin) && day.Before(end) {
			return true, nil
		}
	}
	return false, nil
}

// Sync refreshes occupancy for today and tomorrow. Each day fetches the
// feed again. A store failure aborts and is returned.
func (r *Reconciler) Sync(ctx context.Context) ([]DayResult, error) {
	if r.feedURL == "" {
		return nil, errors.New("calendar URL is not configured")
	}

	today := r.Today()
	days := []time.Time{today, today.AddDate(0, 0, 1)}

	results := make([]DayResult, 0, len(days))
	for _, d := range days {
		out := r.Check(ctx, r.feedURL, d)
		occupied := collapse(out, r.feedURL, d)

		if err := r.store.UpsertOccupancy(ctx, d, occupied); err != nil {
			return results, fmt.Errorf("sync %s: %w", model.FormatDay(d), err)
		}
		results = append(results, DayResult{Day: d, Occupied: occupied, Outcome: out})
		appLog.Info("occupancy synced", "day", model.FormatDay(d), "occupied", occupied)
	}
	return results, nil
}

// InitRange writes every day of [start, end]: weekendOccupied on Saturday
// and Sunday, defaultOccupied otherwise. Existing rows are overwritten. It
// returns the number of days written before any failure.
func (r *Reconciler) InitRange(ctx context.Context, start, end time.Time, defaultOccupied, weekendOccupied bool) (int, error) {
	start = model.DayOf(start)
	end = model.DayOf(end)
	if end.Before(start) {
		return 0, fmt.Errorf("%w: %s > %s", ErrInvalidRange, model.FormatDay(start), model.FormatDay(end))
	}

	written := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		occupied := defaultOccupied
		if model.IsWeekend(d) {
			occupied = weekendOccupied
		}
		if err := r.store.UpsertOccupancy(ctx, d, occupied); err != nil {
			return written, fmt.Errorf("init range at %s: %w", model.FormatDay(d), err)
		}
		written++
	}

	appLog.Info("occupancy range initialized",
		"start", model.FormatDay(start),
		"end", model.FormatDay(end),
		"days", written,
	)
	return written, nil
}
