package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"celeri/internal/model"
)

// ErrDuplicateDay is returned by CreateFlag when the day already has a row.
var ErrDuplicateDay = errors.New("day already recorded")

// Store is the relational store of daily facts and sensor readings.
type Store struct {
	db *gorm.DB
}

// New wraps an already migrated connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertOccupancy writes or overwrites the occupancy of day.
func (s *Store) UpsertOccupancy(ctx context.Context, day time.Time, occupied bool) error {
	return s.UpsertFlag(ctx, model.KindOccupancy, day, occupied)
}

// UpsertFlag inserts the flag or, if the day already exists, overwrites its
// value in the same statement.
func (s *Store) UpsertFlag(ctx context.Context, kind model.Kind, day time.Time, value bool) error {
	rec, err := kind.Record(model.DayFlag{Day: model.DayOf(day), Value: value})
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", kind, model.FormatDay(day), err)
	}
	return nil
}

// CreateFlag inserts a new row and fails with ErrDuplicateDay if the day
// is already recorded.
func (s *Store) CreateFlag(ctx context.Context, kind model.Kind, day time.Time, value bool) error {
	rec, err := kind.Record(model.DayFlag{Day: model.DayOf(day), Value: value})
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return fmt.Errorf("insert %s %s: %w", kind, model.FormatDay(day), res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateDay
	}
	return nil
}

// GetFlag reads one day. found is false when the day has no row.
func (s *Store) GetFlag(ctx context.Context, kind model.Kind, day time.Time) (value, found bool, err error) {
	if kind.Table() == "" {
		return false, false, model.ErrUnknownKind
	}

	var flag model.DayFlag
	err = s.db.WithContext(ctx).
		Table(kind.Table()).
		Where("`day` = ?", model.DayOf(day)).
		Take(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read %s %s: %w", kind, model.FormatDay(day), err)
	}
	return flag.Value, true, nil
}

// GetOrCreateFlag reads one day, creating it as false when missing.
func (s *Store) GetOrCreateFlag(ctx context.Context, kind model.Kind, day time.Time) (bool, error) {
	if err := s.CreateFlag(ctx, kind, day, false); err != nil && !errors.Is(err, ErrDuplicateDay) {
		return false, err
	}
	value, _, err := s.GetFlag(ctx, kind, day)
	return value, err
}

// CountFlags returns the number of rows for kind, mostly for tests and
// diagnostics.
func (s *Store) CountFlags(ctx context.Context, kind model.Kind) (int64, error) {
	if kind.Table() == "" {
		return 0, model.ErrUnknownKind
	}
	var n int64
	err := s.db.WithContext(ctx).Table(kind.Table()).Count(&n).Error
	return n, err
}

// AddReport stores one activity report.
func (s *Store) AddReport(ctx context.Context, r *model.ActivityReport) error {
	r.Day = model.DayOf(r.Day)
	r.Note = strings.TrimSpace(r.Note)
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("insert report %s: %w", model.FormatDay(r.Day), err)
	}
	return nil
}

// UpsertReading stores the value of sensor for the hour containing at.
func (s *Store) UpsertReading(ctx context.Context, sensor string, at time.Time, value float64) error {
	sensor = strings.TrimSpace(sensor)
	if sensor == "" {
		return errors.New("sensor name is empty")
	}

	r := model.SensorReading{
		Sensor: sensor,
		Hour:   model.HourOf(at),
		Value:  value,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sensor"}, {Name: "hour"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("upsert reading %s@%s: %w", sensor, r.Hour.Format(time.RFC3339), err)
	}
	return nil
}
