package model

import (
	"errors"
	"strings"
)

// Kind names one daily flag table.
type Kind string

const (
	KindOccupancy Kind = "occupancy"
	KindPresence  Kind = "presence"
	KindTelework  Kind = "telework"
	KindFireplace Kind = "fireplace"
)

// ErrUnknownKind is returned for a kind outside Kinds.
var ErrUnknownKind = errors.New("unknown fact kind")

// Kinds lists every daily flag table.
var Kinds = []Kind{KindOccupancy, KindPresence, KindTelework, KindFireplace}

// ParseKind accepts a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// Table returns the table backing k.
func (k Kind) Table() string {
	switch k {
	case KindOccupancy:
		return Occupancy{}.TableName()
	case KindPresence:
		return Presence{}.TableName()
	case KindTelework:
		return Telework{}.TableName()
	case KindFireplace:
		return Fireplace{}.TableName()
	}
	return ""
}

// Record wraps a flag into the typed row for k, so gorm picks the right
// table and unique index.
func (k Kind) Record(f DayFlag) (any, error) {
	switch k {
	case KindOccupancy:
		return &Occupancy{DayFlag: f}, nil
	case KindPresence:
		return &Presence{DayFlag: f}, nil
	case KindTelework:
		return &Telework{DayFlag: f}, nil
	case KindFireplace:
		return &Fireplace{DayFlag: f}, nil
	}
	return nil, ErrUnknownKind
}

// All returns one empty row per flag table, for migrations.
func All() []any {
	return []any{
		&Occupancy{},
		&Presence{},
		&Telework{},
		&Fireplace{},
		&ActivityReport{},
		&SensorReading{},
	}
}
