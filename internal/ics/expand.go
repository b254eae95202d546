package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "celeri/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// Occurrence is one concrete [Start, End) interval of an event.
type Occurrence struct {
	UID     string
	Summary string
	AllDay  bool
	Start   time.Time
	End     time.Time
}

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound the occurrences considered. An occurrence
	// is kept when it overlaps [RangeStart, RangeEnd].
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps pathological RRULEs. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// Expand turns events into occurrences overlapping the configured range,
// sorted by start time. Non-recurring events pass through unchanged.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]Occurrence, 0, len(events))
	for _, ev := range events {
		if ev.RawRRule == "" {
			if overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
				out = append(out, occurrenceOf(ev, ev.Start, ev.End))
			}
			continue
		}
		out = append(out, expandRecurring(ev, cfg)...)
	}

	SortOccurrences(out)
	return out, nil
}

// SortOccurrences orders occurrences by start, then end.
func SortOccurrences(occ []Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		if occ[i].Start.Equal(occ[j].Start) {
			return occ[i].End.Before(occ[j].End)
		}
		return occ[i].Start.Before(occ[j].Start)
	})
}

func expandRecurring(ev ParsedEvent, cfg ExpandConfig) []Occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)

	// An occurrence that started up to dur before the range can still
	// overlap it.
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	starts := set.Between(rangeStart, rangeEnd, true)

	if len(starts) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: truncated occurrences for UID due to cap",
			"uid", ev.UID,
			"cap", cfg.MaxOccurrencesPerEvent,
		)
		starts = starts[:cfg.MaxOccurrencesPerEvent]
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		var e time.Time
		if ev.AllDay {
			days := int(dur.Hours()+12) / 24
			if days < 1 {
				days = 1
			}
			e = s.AddDate(0, 0, days)
		} else {
			e = s.Add(dur)
		}
		if overlaps(s, e, cfg.RangeStart, cfg.RangeEnd) {
			out = append(out, occurrenceOf(ev, s, e))
		}
	}
	return out
}

func occurrenceOf(ev ParsedEvent, start, end time.Time) Occurrence {
	return Occurrence{
		UID:     ev.UID,
		Summary: ev.Summary,
		AllDay:  ev.AllDay,
		Start:   start,
		End:     end,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
