package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"celeri/internal/cache"
	"celeri/internal/calendar"
	"celeri/internal/config"
	"celeri/internal/database"
	"celeri/internal/ics"
	"celeri/internal/model"
	"celeri/internal/stats"
	"celeri/internal/store"
)

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:1@test\r\nDTSTART;VALUE=DATE:20240601\r\nDTEND;VALUE=DATE:20240603\r\nSUMMARY:Reserved\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fixture struct {
	srv   *Server
	store *store.Store
	db    *gorm.DB
	feed  *httptest.Server
	clock clockwork.FakeClock
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	db, err := database.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.ics" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	t.Cleanup(feedSrv.Close)

	cfg := config.DefaultConfig()
	cfg.Calendar.URL = feedSrv.URL + "/cal.ics"
	cfg.SyncRatePerMinute = 1
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	st := store.New(db)
	svc := stats.NewService(st, cache.New(nil, 5*time.Minute, cache.WithClock(clock)), clock)
	rec := calendar.NewReconciler(ics.NewFetcherWithClient(feedSrv.Client()), st, cfg.Calendar.URL,
		calendar.WithClock(clock), calendar.WithLocation(time.UTC))

	return &fixture{
		srv:   NewServer(cfg, st, svc, rec),
		store: st,
		db:    db,
		feed:  feedSrv,
		clock: clock,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndRoot(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}

	rec = f.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("root = %d", rec.Code)
	}
}

func TestHealthReportsDatabaseDown(t *testing.T) {
	f := newFixture(t, nil)
	if err := database.Close(f.db); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health = %d, want 503", rec.Code)
	}
}

func TestDayLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/days/presence/2024-03-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[dayResponse](t, rec); got.Value || got.Day != "2024-03-01" {
		t.Errorf("get = %+v", got)
	}

	rec = f.do(t, http.MethodPut, "/api/days/presence/2024-03-01", map[string]bool{"value": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/days/presence/2024-03-01", nil)
	if got := decode[dayResponse](t, rec); !got.Value {
		t.Errorf("after put = %+v", got)
	}

	n, _ := f.store.CountFlags(context.Background(), model.KindPresence)
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestCreateDayConflict(t *testing.T) {
	f := newFixture(t, nil)
	body := map[string]any{"day": "2024-03-02", "value": true}

	if rec := f.do(t, http.MethodPost, "/api/days/occupancy", body); rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/api/days/occupancy", body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate = %d, want 409", rec.Code)
	}
}

func TestDayValidation(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(t, http.MethodGet, "/api/days/garage/2024-03-01", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown kind = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/days/presence/01-03-2024", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad day = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/days/presence", map[string]any{"value": true}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing day = %d, want 400", rec.Code)
	}
}

func TestStatsAreCached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	d, _ := model.ParseDay("2024-08-01")
	if err := f.store.UpsertFlag(ctx, model.KindFireplace, d, true); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/stats/days/fireplace/yearly", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d %s", rec.Code, rec.Body.String())
	}
	rows := decode[[]store.YearCount](t, rec)
	if len(rows) != 1 || rows[0].Days != 1 {
		t.Fatalf("rows = %+v", rows)
	}

	d2, _ := model.ParseDay("2024-08-02")
	if err := f.store.UpsertFlag(ctx, model.KindFireplace, d2, true); err != nil {
		t.Fatal(err)
	}
	rows = decode[[]store.YearCount](t, f.do(t, http.MethodGet, "/api/stats/days/fireplace/yearly", nil))
	if rows[0].Days != 1 {
		t.Errorf("within TTL expected cached 1, got %d", rows[0].Days)
	}

	f.clock.Advance(5 * time.Minute)
	rows = decode[[]store.YearCount](t, f.do(t, http.MethodGet, "/api/stats/days/fireplace/yearly", nil))
	if rows[0].Days != 2 {
		t.Errorf("after TTL expected 2, got %d", rows[0].Days)
	}

	if rec := f.do(t, http.MethodGet, "/api/stats/days/fireplace/monthly", nil); rec.Code != http.StatusOK {
		t.Errorf("monthly = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/stats/days/pool/yearly", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown kind stats = %d", rec.Code)
	}
}

func TestReportsAndSensors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/reports", map[string]any{"day": "2024-05-01", "missionary": true})
	if rec.Code != http.StatusCreated {
		t.Fatalf("report = %d %s", rec.Code, rec.Body.String())
	}
	for _, path := range []string{"/api/stats/reports/yearly", "/api/stats/reports/monthly", "/api/stats/reports/practices/yearly"} {
		if rec := f.do(t, http.MethodGet, path, nil); rec.Code != http.StatusOK {
			t.Errorf("%s = %d %s", path, rec.Code, rec.Body.String())
		}
	}

	rec = f.do(t, http.MethodPut, "/api/sensors/cellar/readings", map[string]any{"hour": "2024-06-01T07:20:00Z", "value": 12.5})
	if rec.Code != http.StatusOK {
		t.Fatalf("reading = %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPut, "/api/sensors/cellar/readings", map[string]any{"hour": "2024-06-01T07:00:00Z"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing value = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/stats/sensors/cellar/daily?days=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sensor stats = %d", rec.Code)
	}
	days := decode[[]store.SensorDay](t, rec)
	if len(days) != 1 || days[0].MaxValue != 12.5 {
		t.Errorf("sensor stats = %+v", days)
	}
	if rec := f.do(t, http.MethodGet, "/api/stats/sensors/cellar/daily?days=0", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("days=0 = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/stats/sensors/cellar/daily?days=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("days=abc = %d, want 400", rec.Code)
	}
}

func TestCalendarCheck(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/calendar/check/2024-06-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check = %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[checkResponse](t, rec); !got.Reserved {
		t.Errorf("check = %+v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/calendar/check/2024-06-03", nil)
	if got := decode[checkResponse](t, rec); got.Reserved {
		t.Errorf("end date must be free: %+v", got)
	}

	broken := newFixture(t, func(c *config.Config) { c.Calendar.URL = "" })
	if rec := broken.do(t, http.MethodGet, "/api/calendar/check/2024-06-02", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no url = %d, want 503", rec.Code)
	}
}

func TestCalendarCheckFeedError(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.reconciler = calendar.NewReconciler(ics.NewFetcherWithClient(f.feed.Client()), f.store, f.feed.URL+"/broken.ics")

	rec := f.do(t, http.MethodGet, "/api/calendar/check/2024-06-02", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("check = %d, want 502", rec.Code)
	}
	if got := decode[checkResponse](t, rec); got.Reserved || got.FeedError == "" {
		t.Errorf("check = %+v", got)
	}
}

func TestCalendarSyncRateLimited(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/calendar/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync = %d %s", rec.Code, rec.Body.String())
	}
	got := decode[struct {
		Days []syncDay `json:"days"`
	}](t, rec)
	if len(got.Days) != 2 || !got.Days[0].Occupied || !got.Days[1].Occupied {
		t.Errorf("sync = %+v", got)
	}

	if rec := f.do(t, http.MethodPost, "/api/calendar/sync", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second sync = %d, want 429", rec.Code)
	}
}

func TestInitRange(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/calendar/init-range", map[string]any{
		"start": "2024-06-01", "end": "2024-06-02", "default_occupied": false, "weekend_occupied": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("init = %d %s", rec.Code, rec.Body.String())
	}
	v, _, _ := f.store.GetFlag(context.Background(), model.KindOccupancy, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	if !v {
		t.Error("Saturday should be occupied")
	}

	rec = f.do(t, http.MethodPost, "/api/calendar/init-range", map[string]any{"start": "2024-06-02", "end": "2024-06-01"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range = %d, want 400", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})

	if rec := f.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health must stay open, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/days/presence/2024-01-01", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no creds = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/days/presence/2024-01-01", nil)
	req.SetBasicAuth("admin", "pw")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with creds = %d", rec.Code)
	}
}
