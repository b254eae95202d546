package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"celeri/internal/calendar"
	appLog "celeri/internal/log"
	"celeri/internal/model"
	"celeri/internal/store"
)

// dayResponse is the JSON shape of one daily flag.
type dayResponse struct {
	Kind  model.Kind `json:"kind"`
	Day   string     `json:"day"`
	Value bool       `json:"value"`
}

type putDayRequest struct {
	// Value defaults to false when omitted.
	Value *bool `json:"value"`
}

type createDayRequest struct {
	Day   string `json:"day" binding:"required"`
	Value bool   `json:"value"`
}

type reportRequest struct {
	Day          string `json:"day" binding:"required"`
	OralGiven    bool   `json:"oral_given"`
	OralReceived bool   `json:"oral_received"`
	Doggy        bool   `json:"doggy"`
	Missionary   bool   `json:"missionary"`
	Cowgirl      bool   `json:"cowgirl"`
	Anal         bool   `json:"anal"`
	Spanking     bool   `json:"spanking"`
	Note         string `json:"note"`
}

type readingRequest struct {
	Hour  time.Time `json:"hour" binding:"required"`
	Value *float64  `json:"value" binding:"required"`
}

type initRangeRequest struct {
	Start           string `json:"start" binding:"required"`
	End             string `json:"end" binding:"required"`
	DefaultOccupied bool   `json:"default_occupied"`
	WeekendOccupied bool   `json:"weekend_occupied"`
}

type checkResponse struct {
	Day       string `json:"day"`
	Reserved  bool   `json:"reserved"`
	FeedError string `json:"feed_error,omitempty"`
}

type syncDay struct {
	Day       string `json:"day"`
	Occupied  bool   `json:"occupied"`
	FeedError string `json:"feed_error,omitempty"`
}

// kindAndDay parses the :kind and :day path parameters, writing the error
// response itself on failure.
func kindAndDay(c *gin.Context) (model.Kind, time.Time, bool) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error())
		return "", time.Time{}, false
	}
	day, err := model.ParseDay(c.Param("day"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", time.Time{}, false
	}
	return kind, day, true
}

// storeError maps store failures onto HTTP statuses.
func storeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, model.ErrUnknownKind):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateDay):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, calendar.ErrInvalidRange):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		appLog.Error(msg, err, "path", c.Request.URL.Path, "request_id", c.GetString("request_id"))
		writeError(c, http.StatusInternalServerError, msg)
	}
}

// handleGetDay returns a day's flag, recording it as false if unknown.
//
// GET /api/days/:kind/:day
func (s *Server) handleGetDay(c *gin.Context) {
	kind, day, ok := kindAndDay(c)
	if !ok {
		return
	}
	value, err := s.store.GetOrCreateFlag(c.Request.Context(), kind, day)
	if err != nil {
		storeError(c, err, "failed to read day")
		return
	}
	c.JSON(http.StatusOK, dayResponse{Kind: kind, Day: model.FormatDay(day), Value: value})
}

// handlePutDay upserts a day's flag.
//
// PUT /api/days/:kind/:day {"value": true}
func (s *Server) handlePutDay(c *gin.Context) {
	kind, day, ok := kindAndDay(c)
	if !ok {
		return
	}
	var req putDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	value := req.Value != nil && *req.Value

	if err := s.store.UpsertFlag(c.Request.Context(), kind, day, value); err != nil {
		storeError(c, err, "failed to update day")
		return
	}
	c.JSON(http.StatusOK, dayResponse{Kind: kind, Day: model.FormatDay(day), Value: value})
}

// handleCreateDay inserts a day that must not exist yet.
//
// POST /api/days/:kind {"day": "2024-06-01", "value": true}
func (s *Server) handleCreateDay(c *gin.Context) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	var req createDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	day, err := model.ParseDay(req.Day)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateFlag(c.Request.Context(), kind, day, req.Value); err != nil {
		storeError(c, err, "failed to create day")
		return
	}
	c.JSON(http.StatusCreated, dayResponse{Kind: kind, Day: model.FormatDay(day), Value: req.Value})
}

// POST /api/reports
func (s *Server) handleCreateReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	day, err := model.ParseDay(req.Day)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	r := model.ActivityReport{
		Day:          day,
		OralGiven:    req.OralGiven,
		OralReceived: req.OralReceived,
		Doggy:        req.Doggy,
		Missionary:   req.Missionary,
		Cowgirl:      req.Cowgirl,
		Anal:         req.Anal,
		Spanking:     req.Spanking,
		Note:         req.Note,
	}
	if err := s.store.AddReport(c.Request.Context(), &r); err != nil {
		storeError(c, err, "failed to store report")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": r.ID, "day": model.FormatDay(r.Day)})
}

// PUT /api/sensors/:sensor/readings {"hour": "2024-06-01T13:00:00Z", "value": 21.5}
func (s *Server) handlePutReading(c *gin.Context) {
	sensor := c.Param("sensor")
	var req readingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpsertReading(c.Request.Context(), sensor, req.Hour, *req.Value); err != nil {
		storeError(c, err, "failed to store reading")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sensor": sensor,
		"hour":   model.HourOf(req.Hour),
		"value":  *req.Value,
	})
}

// GET /api/stats/days/:kind/yearly
func (s *Server) handleStatsYearly(c *gin.Context) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	rows, err := s.stats.Yearly(c.Request.Context(), kind)
	if err != nil {
		storeError(c, err, "failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, rows)
}

// GET /api/stats/days/:kind/monthly
func (s *Server) handleStatsMonthly(c *gin.Context) {
	kind, err := model.ParseKind(c.Param("kind"))
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	rows, err := s.stats.Monthly(c.Request.Context(), kind)
	if err != nil {
		storeError(c, err, "failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleStatsReportsYearly(c *gin.Context) {
	rows, err := s.stats.ReportsYearly(c.Request.Context())
	if err != nil {
		storeError(c, err, "failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleStatsReportsMonthly(c *gin.Context) {
	rows, err := s.stats.ReportsMonthly(c.Request.Context())
	if err != nil {
		storeError(c, err, "failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleStatsPractices(c *gin.Context) {
	rows, err := s.stats.PracticesYearly(c.Request.Context())
	if err != nil {
		storeError(c, err, "failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, rows)
}

// GET /api/stats/sensors/:sensor/daily?days=7
func (s *Server) handleStatsSensor(c *gin.Context) {
	days, err := parseIntDefault(c.Query("days"), 7)
	if err != nil || days <= 0 || days > 366 {
		writeError(c, http.StatusBadRequest, "days must be between 1 and 366")
		return
	}
	rows, err := s.stats.SensorDaily(c.Request.Context(), c.Param("sensor"), days)
	if err != nil {
		storeError(c, err, "failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, rows)
}

// handleCalendarCheck reports what the feed says about one day without
// writing anything. A feed failure is reported as 502 so it cannot be
// mistaken for a free day.
//
// GET /api/calendar/check/:day
func (s *Server) handleCalendarCheck(c *gin.Context) {
	if s.reconciler == nil || s.reconciler.FeedURL() == "" {
		writeError(c, http.StatusServiceUnavailable, "calendar URL is not configured")
		return
	}
	day, err := model.ParseDay(c.Param("day"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	out := s.reconciler.Check(c.Request.Context(), s.reconciler.FeedURL(), day)
	resp := checkResponse{Day: model.FormatDay(day), Reserved: out.Reserved}
	if out.Err != nil {
		resp.Reserved = false
		resp.FeedError = out.Err.Error()
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/calendar/sync
func (s *Server) handleCalendarSync(c *gin.Context) {
	if s.reconciler == nil || s.reconciler.FeedURL() == "" {
		writeError(c, http.StatusServiceUnavailable, "calendar URL is not configured")
		return
	}
	if !s.syncLimiter.Allow() {
		writeError(c, http.StatusTooManyRequests, "sync rate limit exceeded, try again later")
		return
	}

	results, err := s.reconciler.Sync(c.Request.Context())
	if err != nil {
		storeError(c, err, "calendar sync failed")
		return
	}

	out := make([]syncDay, 0, len(results))
	for _, r := range results {
		d := syncDay{Day: model.FormatDay(r.Day), Occupied: r.Occupied}
		if r.Outcome.Err != nil {
			d.FeedError = r.Outcome.Err.Error()
		}
		out = append(out, d)
	}
	c.JSON(http.StatusOK, gin.H{"days": out})
}

// POST /api/calendar/init-range
func (s *Server) handleInitRange(c *gin.Context) {
	if s.reconciler == nil {
		writeError(c, http.StatusServiceUnavailable, "calendar is not configured")
		return
	}
	var req initRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	start, err := model.ParseDay(req.Start)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	end, err := model.ParseDay(req.End)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.reconciler.InitRange(c.Request.Context(), start, end, req.DefaultOccupied, req.WeekendOccupied)
	if err != nil {
		storeError(c, err, "init range failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": req.Start, "end": req.End, "days": n})
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
