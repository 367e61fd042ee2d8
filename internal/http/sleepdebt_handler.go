package httpapi

import (
	"errors"
	"net/http"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/query"
	"sleepdebt/internal/service"

	"go.uber.org/zap"
)

// SleepDebtHandler JSON endpoints over DebtService
type SleepDebtHandler struct {
	svc    *service.DebtService
	logger *zap.Logger
}

func NewSleepDebtHandler(svc *service.DebtService, logger *zap.Logger) *SleepDebtHandler {
	return &SleepDebtHandler{svc: svc, logger: logger}
}

// GET /sleepdebt/api/v1/overview?window=14
func (h *SleepDebtHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		h.fail(w, "GetOverview", err)
		return
	}
	ov, err := h.svc.Overview(r.Context(), window)
	if err != nil {
		h.fail(w, "GetOverview", err)
		return
	}
	writeJSON(w, Ok(map[string]any{
		"overview":       ov,
		"debt_formatted": query.FormatMinutes(ov.DebtMinutes),
		"sync":           h.svc.Status(),
	}))
}

// GET /sleepdebt/api/v1/debt?window=7
func (h *SleepDebtHandler) GetRollingDebt(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		h.fail(w, "GetRollingDebt", err)
		return
	}
	debt, err := h.svc.RollingDebt(r.Context(), window)
	if err != nil {
		h.fail(w, "GetRollingDebt", err)
		return
	}
	writeJSON(w, Ok(map[string]any{
		"debt_minutes":   debt,
		"debt_formatted": query.FormatMinutes(debt),
		"band":           query.BandFor(debt),
	}))
}

// GET /sleepdebt/api/v1/chart?window=14
func (h *SleepDebtHandler) GetChartSeries(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		h.fail(w, "GetChartSeries", err)
		return
	}
	points, err := h.svc.ChartSeries(r.Context(), window)
	if err != nil {
		h.fail(w, "GetChartSeries", err)
		return
	}
	writeJSON(w, Ok(map[string]any{"points": points}))
}

// GET /sleepdebt/api/v1/today
func (h *SleepDebtHandler) GetToday(w http.ResponseWriter, r *http.Request) {
	today, err := h.svc.TodaySummary(r.Context())
	if err != nil {
		h.fail(w, "GetToday", err)
		return
	}
	writeJSON(w, Ok(today))
}

type dayItem struct {
	query.DayRow
	ActualFormatted string `json:"actual_formatted,omitempty"`
	DeltaFormatted  string `json:"delta_formatted,omitempty"`
	State           string `json:"state,omitempty"`
}

// GET /sleepdebt/api/v1/days?window=14
func (h *SleepDebtHandler) GetDays(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		h.fail(w, "GetDays", err)
		return
	}
	rows, err := h.svc.Days(r.Context(), window)
	if err != nil {
		h.fail(w, "GetDays", err)
		return
	}
	items := make([]dayItem, 0, len(rows))
	for _, row := range rows {
		item := dayItem{DayRow: row}
		if row.HasData {
			item.ActualFormatted = query.FormatMinutes(row.ActualMinutes)
			item.DeltaFormatted = query.FormatDelta(row.DeltaMinutes)
			item.State = query.DeltaState(row.DeltaMinutes)
		}
		items = append(items, item)
	}
	writeJSON(w, Ok(map[string]any{"items": items, "total": len(items)}))
}

// GET /sleepdebt/api/v1/days/export?window=30
func (h *SleepDebtHandler) ExportDays(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		h.fail(w, "ExportDays", err)
		return
	}
	data, err := h.svc.ExportDays(r.Context(), window)
	if err != nil {
		h.fail(w, "ExportDays", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=sleep-debt.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GET /sleepdebt/api/v1/status
func (h *SleepDebtHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, Ok(h.svc.Status()))
}

// GET /sleepdebt/api/v1/settings
func (h *SleepDebtHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context())
	if err != nil {
		h.fail(w, "GetSettings", err)
		return
	}
	writeJSON(w, Ok(settings))
}

// PUT /sleepdebt/api/v1/settings/goal {"goal_minutes": 450}
func (h *SleepDebtHandler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GoalMinutes *int `json:"goal_minutes"`
	}
	if err := decodeBody(r, &body); err != nil || body.GoalMinutes == nil {
		writeJSON(w, Fail("goal_minutes is required"))
		return
	}
	if err := h.svc.UpdateGoal(r.Context(), *body.GoalMinutes); err != nil {
		h.fail(w, "UpdateGoal", err)
		return
	}
	h.GetSettings(w, r)
}

// PUT /sleepdebt/api/v1/settings/boundary {"day_boundary_hour": 5}
func (h *SleepDebtHandler) UpdateDayBoundary(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DayBoundaryHour *int `json:"day_boundary_hour"`
	}
	if err := decodeBody(r, &body); err != nil || body.DayBoundaryHour == nil {
		writeJSON(w, Fail("day_boundary_hour is required"))
		return
	}
	if err := h.svc.UpdateDayBoundary(r.Context(), *body.DayBoundaryHour); err != nil {
		h.fail(w, "UpdateDayBoundary", err)
		return
	}
	h.GetSettings(w, r)
}

// POST /sleepdebt/api/v1/refresh
func (h *SleepDebtHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	dirty, err := h.svc.Refresh(r.Context())
	if err != nil {
		h.fail(w, "Refresh", err)
		return
	}
	writeJSON(w, Ok(map[string]any{"dirty_days": dirty}))
}

// GET /sleepdebt/api/v1/events?limit=20
func (h *SleepDebtHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.RecentEvents(r.Context(), limitParam(r, 20))
	if err != nil {
		h.fail(w, "GetEvents", err)
		return
	}
	writeJSON(w, Ok(map[string]any{"items": events, "total": len(events)}))
}

// fail logs and reports err. Validation errors are expected and logged at Warn.
func (h *SleepDebtHandler) fail(w http.ResponseWriter, op string, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidSettings):
		h.logger.Warn(op+" rejected", zap.Error(err))
	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, domain.ErrInvalidCursor):
		h.logger.Error(op+" failed", zap.Error(err))
		msg = "last sync did not complete: " + msg
	default:
		h.logger.Error(op+" failed", zap.Error(err))
	}
	writeJSON(w, Fail(msg))
}
