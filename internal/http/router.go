package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

const apiPrefix = "/sleepdebt/api/v1"

// Router on the standard http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

func (r *Router) RegisterHealthRoute() {
	r.Handle("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, Ok(map[string]any{"status": "ok"}))
	})
}

// RegisterSleepDebtRoutes mounts the read and write endpoints.
func (r *Router) RegisterSleepDebtRoutes(h *SleepDebtHandler) {
	r.Handle(apiPrefix+"/overview", method(http.MethodGet, h.GetOverview))
	r.Handle(apiPrefix+"/debt", method(http.MethodGet, h.GetRollingDebt))
	r.Handle(apiPrefix+"/chart", method(http.MethodGet, h.GetChartSeries))
	r.Handle(apiPrefix+"/today", method(http.MethodGet, h.GetToday))
	r.Handle(apiPrefix+"/days", method(http.MethodGet, h.GetDays))
	r.Handle(apiPrefix+"/days/export", method(http.MethodGet, h.ExportDays))
	r.Handle(apiPrefix+"/status", method(http.MethodGet, h.GetStatus))
	r.Handle(apiPrefix+"/settings", method(http.MethodGet, h.GetSettings))
	r.Handle(apiPrefix+"/settings/goal", method(http.MethodPut, h.UpdateGoal))
	r.Handle(apiPrefix+"/settings/boundary", method(http.MethodPut, h.UpdateDayBoundary))
	r.Handle(apiPrefix+"/refresh", method(http.MethodPost, h.Refresh))
	r.Handle(apiPrefix+"/events", method(http.MethodGet, h.GetEvents))
}
