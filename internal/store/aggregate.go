package store

import (
	"context"
	"fmt"
	"time"

	"celeri/internal/model"
)

// Date parts are taken with SUBSTR on the stored value so the same SQL runs
// on MySQL DATE columns ("2024-06-01") and on SQLite text timestamps
// ("2024-06-01 00:00:00+00:00").

// YearCount is the number of flagged days in a year.
type YearCount struct {
	Year int   `json:"year"`
	Days int64 `json:"days"`
}

// MonthCount is the number of flagged days in a month.
type MonthCount struct {
	Year  int   `json:"year"`
	Month int   `json:"month"`
	Days  int64 `json:"days"`
}

// ReportYear is the number of activity reports in a year.
type ReportYear struct {
	Year    int   `json:"year"`
	Reports int64 `json:"reports"`
}

// ReportMonth is the number of activity reports in a month.
type ReportMonth struct {
	Year    int   `json:"year"`
	Month   int   `json:"month"`
	Reports int64 `json:"reports"`
}

// PracticeYear sums each practice counter over a year.
type PracticeYear struct {
	Year         int   `json:"year"`
	OralGiven    int64 `json:"oral_given"`
	OralReceived int64 `json:"oral_received"`
	Doggy        int64 `json:"doggy"`
	Missionary   int64 `json:"missionary"`
	Cowgirl      int64 `json:"cowgirl"`
	Anal         int64 `json:"anal"`
	Spanking     int64 `json:"spanking"`
}

// SensorDay summarizes one sensor over one UTC day.
type SensorDay struct {
	Day      string  `json:"day"`
	Readings int64   `json:"readings"`
	MinValue float64 `json:"min"`
	MaxValue float64 `json:"max"`
	AvgValue float64 `json:"avg"`
}

// YearlyCounts counts set days of kind per year.
func (s *Store) YearlyCounts(ctx context.Context, kind model.Kind) ([]YearCount, error) {
	table := kind.Table()
	if table == "" {
		return nil, model.ErrUnknownKind
	}

	rows := make([]YearCount, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT SUBSTR(`+"`day`"+`, 1, 4) AS year, COUNT(*) AS days
		FROM `+table+`
		WHERE `+"`value`"+` = ?
		GROUP BY SUBSTR(`+"`day`"+`, 1, 4)
		ORDER BY year`, true).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("yearly %s: %w", kind, err)
	}
	return rows, nil
}

// MonthlyCounts counts set days of kind per month.
func (s *Store) MonthlyCounts(ctx context.Context, kind model.Kind) ([]MonthCount, error) {
	table := kind.Table()
	if table == "" {
		return nil, model.ErrUnknownKind
	}

	rows := make([]MonthCount, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT SUBSTR(`+"`day`"+`, 1, 4) AS year, SUBSTR(`+"`day`"+`, 6, 2) AS month, COUNT(*) AS days
		FROM `+table+`
		WHERE `+"`value`"+` = ?
		GROUP BY SUBSTR(`+"`day`"+`, 1, 4), SUBSTR(`+"`day`"+`, 6, 2)
		ORDER BY year, month`, true).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("monthly %s: %w", kind, err)
	}
	return rows, nil
}

// ReportYearly counts activity reports per year.
func (s *Store) ReportYearly(ctx context.Context) ([]ReportYear, error) {
	rows := make([]ReportYear, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT SUBSTR(` + "`day`" + `, 1, 4) AS year, COUNT(*) AS reports
		FROM activity_reports
		GROUP BY SUBSTR(` + "`day`" + `, 1, 4)
		ORDER BY year`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("yearly reports: %w", err)
	}
	return rows, nil
}

// ReportMonthly counts activity reports per month.
func (s *Store) ReportMonthly(ctx context.Context) ([]ReportMonth, error) {
	rows := make([]ReportMonth, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT SUBSTR(` + "`day`" + `, 1, 4) AS year, SUBSTR(` + "`day`" + `, 6, 2) AS month, COUNT(*) AS reports
		FROM activity_reports
		GROUP BY SUBSTR(` + "`day`" + `, 1, 4), SUBSTR(` + "`day`" + `, 6, 2)
		ORDER BY year, month`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("monthly reports: %w", err)
	}
	return rows, nil
}

// PracticesYearly sums every practice flag per year.
func (s *Store) PracticesYearly(ctx context.Context) ([]PracticeYear, error) {
	rows := make([]PracticeYear, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			SUBSTR(` + "`day`" + `, 1, 4) AS year,
			SUM(oral_given) AS oral_given,
			SUM(oral_received) AS oral_received,
			SUM(doggy) AS doggy,
			SUM(missionary) AS missionary,
			SUM(cowgirl) AS cowgirl,
			SUM(anal) AS anal,
			SUM(spanking) AS spanking
		FROM activity_reports
		GROUP BY SUBSTR(` + "`day`" + `, 1, 4)
		ORDER BY year`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("yearly practices: %w", err)
	}
	return rows, nil
}

// SensorDaily summarizes sensor per day from since onwards.
func (s *Store) SensorDaily(ctx context.Context, sensor string, since time.Time) ([]SensorDay, error) {
	rows := make([]SensorDay, 0)
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			SUBSTR(`+"`hour`"+`, 1, 10) AS day,
			COUNT(*) AS readings,
			MIN(`+"`value`"+`) AS min_value,
			MAX(`+"`value`"+`) AS max_value,
			AVG(`+"`value`"+`) AS avg_value
		FROM sensor_readings
		WHERE sensor = ? AND `+"`hour`"+` >= ?
		GROUP BY SUBSTR(`+"`hour`"+`, 1, 10)
		ORDER BY day`, sensor, model.HourOf(since)).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("daily sensor %s: %w", sensor, err)
	}
	return rows, nil
}
