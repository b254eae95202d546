package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const airbnbFeed = "BEGIN:VCALENDAR\r\n" +
	"PRODID:-//Airbnb Inc//Hosting Calendar 1.0//EN\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTEND;VALUE=DATE:20240605\r\n" +
	"DTSTART;VALUE=DATE:20240601\r\n" +
	"UID:1418fb94e984-a@airbnb.com\r\n" +
	"SUMMARY:Reserved\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTEND;VALUE=DATE:20240612\r\n" +
	"DTSTART;VALUE=DATE:20240610\r\n" +
	"UID:1418fb94e984-b@airbnb.com\r\n" +
	"SUMMARY:Airbnb (Not available)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART;VALUE=DATE:20240620\r\n" +
	"UID:1418fb94e984-c@airbnb.com\r\n" +
	"SUMMARY:Reserved\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "airbnb"}, []byte(airbnbFeed))
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	first := events[0]
	if first.Summary != "Reserved" || !first.AllDay {
		t.Errorf("first = %+v", first)
	}
	if y, m, d := first.Start.Date(); y != 2024 || m != time.June || d != 1 {
		t.Errorf("first start = %v", first.Start)
	}
	if y, m, d := first.End.Date(); y != 2024 || m != time.June || d != 5 {
		t.Errorf("first end = %v", first.End)
	}

	// No DTEND on an all-day event means a single day.
	last := events[2]
	if got := last.End.Sub(last.Start); got != 24*time.Hour {
		t.Errorf("single-day duration = %v", got)
	}
}

func TestParseICSRejectsGarbage(t *testing.T) {
	if _, err := ParseICS(Source{}, []byte("this is not a calendar")); err == nil {
		t.Error("expected parse error")
	}
	if _, err := ParseICS(Source{}, nil); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("err = %v, want ErrEmptyBody", err)
	}
}

func TestExpandWeeklyRule(t *testing.T) {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC) // Monday
	events := []ParsedEvent{{
		UID:      "weekly",
		Summary:  "Reserved",
		AllDay:   true,
		Start:    start,
		End:      start.AddDate(0, 0, 2),
		RawRRule: "FREQ=WEEKLY;COUNT=4",
		ExDates:  []time.Time{start.AddDate(0, 0, 7)},
	}}

	occ, err := Expand(events, ExpandConfig{
		RangeStart: start,
		RangeEnd:   start.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != 3 {
		t.Fatalf("occurrences = %d, want 3 (one EXDATE)", len(occ))
	}
	for _, o := range occ {
		if o.End.Sub(o.Start) != 48*time.Hour {
			t.Errorf("occurrence %v-%v lost its duration", o.Start, o.End)
		}
	}
	if !occ[1].Start.Equal(start.AddDate(0, 0, 14)) {
		t.Errorf("second occurrence = %v", occ[1].Start)
	}
}

func TestExpandSortsAndFilters(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC) }
	events := []ParsedEvent{
		{UID: "late", Start: d(20), End: d(22)},
		{UID: "early", Start: d(5), End: d(7)},
		{UID: "outside", Start: d(1), End: d(2)},
	}
	occ, err := Expand(events, ExpandConfig{RangeStart: d(4), RangeEnd: d(25)})
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != 2 || occ[0].UID != "early" || occ[1].UID != "late" {
		t.Errorf("occ = %+v", occ)
	}

	if _, err := Expand(nil, ExpandConfig{RangeStart: d(5), RangeEnd: d(4)}); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.ics":
			_, _ = w.Write([]byte(airbnbFeed))
		case "/empty.ics":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcherWithClient(srv.Client())
	ctx := context.Background()

	body, err := f.FetchOne(ctx, Source{ID: "ok", URL: srv.URL + "/ok.ics"})
	if err != nil {
		t.Fatalf("FetchOne ok: %v", err)
	}
	if !strings.HasPrefix(string(body), "BEGIN:VCALENDAR") {
		t.Errorf("unexpected body %q", body[:20])
	}

	_, err = f.FetchOne(ctx, Source{ID: "empty", URL: srv.URL + "/empty.ics"})
	if !errors.Is(err, ErrEmptyBody) {
		t.Errorf("empty: err = %v, want ErrEmptyBody", err)
	}

	_, err = f.FetchOne(ctx, Source{ID: "missing", URL: srv.URL + "/missing.ics"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("missing: err = %v, want *StatusError 404", err)
	}

	if _, err := f.FetchOne(ctx, Source{}); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://www.airbnb.com/calendar/ical/123.ics?s=secret": "https://www.airbnb.com/...(redacted)",
		"https://example.com?token=x":                          "https://example.com/...(redacted)",
		"not a url":                                            "ics://...(redacted)",
	}
	for in, want := range cases {
		if got := RedactURL(in); got != want {
			t.Errorf("RedactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
