package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/county-risk/risk-engine/internal/catalog"
	"github.com/county-risk/risk-engine/internal/metrics"
	"github.com/county-risk/risk-engine/internal/model"
	"github.com/county-risk/risk-engine/internal/monitoring"
	"github.com/county-risk/risk-engine/internal/report"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for calculation triggers, reports and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		metrics.Init()

		api := newAPI(ctx, env)
		if cfg.Monitoring.Enabled {
			api.checker = monitoring.NewChecker(
				monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.StaleRunMinutes)*time.Minute),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go api.checker.Run(ctx)
		}
		defer api.Wait()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(api, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// api serves the HTTP endpoints. Calculations triggered over HTTP run in the
// background, one at a time, bound to the server's lifetime.
type api struct {
	ctx     context.Context
	env     *engine
	checker *monitoring.Checker // nil when monitoring is disabled
	busy    atomic.Bool
	wg      sync.WaitGroup
}

func newAPI(ctx context.Context, env *engine) *api {
	return &api{ctx: ctx, env: env}
}

// Wait blocks until the background calculation, if any, returns.
func (a *api) Wait() {
	a.wg.Wait()
}

func buildRouter(a *api, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/calculate", a.handleCalculate)
		r.Post("/calculate/gaps", a.handleCalculateGaps)
		r.Get("/assessments", a.handleAssessments)
		r.Get("/assessments/{county}/trend", a.handleCountyTrend)
		r.Get("/statistics", a.handleStatistics)
		r.Get("/monitoring", a.handleMonitoring)
		r.Get("/indicators", a.handleIndicators)
		r.Put("/indicators/{code}", a.handleUpdateIndicator)
		r.Post("/indicators/restore-defaults", a.handleRestoreDefaults)
	})

	return r
}

func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			zap.L().Info("access",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// startBackground runs fn unless another calculation is in flight.
func (a *api) startBackground(name string, fn func(ctx context.Context) error) bool {
	if !a.busy.CompareAndSwap(false, true) {
		return false
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.busy.Store(false)

		log := zap.L().With(zap.String("trigger", name))
		if err := fn(a.ctx); err != nil {
			log.Error("background calculation failed", zap.Error(err))
			return
		}
		log.Info("background calculation complete")
	}()
	return true
}

func (a *api) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year int `json:"year"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var started bool
	if req.Year != 0 {
		started = a.startBackground("year", func(ctx context.Context) error {
			_, err := a.env.Runner.RunYear(ctx, req.Year)
			return err
		})
	} else {
		started = a.startBackground("all", func(ctx context.Context) error {
			_, err := a.env.Runner.RunAllYears(ctx)
			return err
		})
	}
	if !started {
		writeError(w, http.StatusConflict, "a calculation is already running")
		return
	}

	resp := map[string]any{"status": "accepted"}
	if req.Year != 0 {
		resp["year"] = req.Year
	}
	writeJSONResponse(w, http.StatusAccepted, resp)
}

func (a *api) handleCalculateGaps(w http.ResponseWriter, _ *http.Request) {
	started := a.startBackground("gaps", func(ctx context.Context) error {
		_, err := a.env.Runner.RunGaps(ctx)
		return err
	})
	if !started {
		writeError(w, http.StatusConflict, "a calculation is already running")
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *api) handleAssessments(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year query parameter is required")
		return
	}
	as, err := a.env.Store.ListAssessments(r.Context(), year)
	if err != nil {
		a.internalError(w, err)
		return
	}
	if as == nil {
		as = []model.Assessment{}
	}
	writeJSONResponse(w, http.StatusOK, as)
}

func (a *api) handleCountyTrend(w http.ResponseWriter, r *http.Request) {
	all, err := report.LoadAll(r.Context(), a.env.Store)
	if err != nil {
		a.internalError(w, err)
		return
	}
	points := report.CountyTrend(all, chi.URLParam(r, "county"))
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, "no assessments for county")
		return
	}
	writeJSONResponse(w, http.StatusOK, points)
}

func (a *api) handleStatistics(w http.ResponseWriter, r *http.Request) {
	all, err := report.LoadAll(r.Context(), a.env.Store)
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, report.Summarise(all))
}

// handleMonitoring returns the background checker's latest result.
func (a *api) handleMonitoring(w http.ResponseWriter, _ *http.Request) {
	if a.checker == nil {
		writeError(w, http.StatusNotFound, "monitoring is disabled")
		return
	}
	res := a.checker.Latest()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no health check has completed yet")
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

func (a *api) handleIndicators(w http.ResponseWriter, r *http.Request) {
	inds, err := a.env.Catalog.List(r.Context())
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, inds)
}

// indicatorPatchRequest mirrors catalog.IndicatorPatch with a string direction.
type indicatorPatchRequest struct {
	Weight          *float64 `json:"weight"`
	ThresholdHigh   *float64 `json:"threshold_high"`
	ThresholdMedium *float64 `json:"threshold_medium"`
	ThresholdLow    *float64 `json:"threshold_low"`
	Unit            *string  `json:"unit"`
	Direction       *string  `json:"direction"`
	Enabled         *bool    `json:"enabled"`
}

func (a *api) handleUpdateIndicator(w http.ResponseWriter, r *http.Request) {
	var req indicatorPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := catalog.IndicatorPatch{
		Weight:          req.Weight,
		ThresholdHigh:   req.ThresholdHigh,
		ThresholdMedium: req.ThresholdMedium,
		ThresholdLow:    req.ThresholdLow,
		Unit:            req.Unit,
		Enabled:         req.Enabled,
	}
	if req.Direction != nil {
		dir, err := model.ParseDirection(*req.Direction)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		patch.Direction = &dir
	}
	if req.Weight != nil && *req.Weight < 0 {
		writeError(w, http.StatusBadRequest, "weight must be non-negative")
		return
	}

	ind, err := a.env.Catalog.Update(r.Context(), chi.URLParam(r, "code"), patch)
	if errors.Is(err, catalog.ErrUnknownIndicator) {
		writeError(w, http.StatusNotFound, "unknown indicator")
		return
	}
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ind)
}

func (a *api) handleRestoreDefaults(w http.ResponseWriter, r *http.Request) {
	res, err := a.env.Catalog.RestoreDefaults(r.Context())
	if err != nil {
		a.internalError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

func (a *api) internalError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
