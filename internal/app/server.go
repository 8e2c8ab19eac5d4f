package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"algo-engine/internal/ai"
	"algo-engine/internal/config"
	"algo-engine/internal/metrics"
	"algo-engine/internal/monitor"
	"algo-engine/internal/risk"
	"algo-engine/internal/strategy"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
)

type eventLister interface {
	ListEvents(ctx context.Context, eventType monitor.EventType, limit int) ([]monitor.Event, error)
}

type riskNarrator interface {
	SummarizeRisk(ctx context.Context, report risk.Report, perf []strategy.Performance) (ai.Narrative, error)
}

// serverDeps 为监控接口依赖，Narrator 为空时 /risk/summary 返回 503。
type serverDeps struct {
	Events   eventLister
	Risk     *risk.Manager
	Engine   *Engine
	Registry *strategy.Registry
	Narrator riskNarrator
	Metrics  *metrics.Recorder
}

func newMux(deps serverDeps, logger *zap.Logger) *http.ServeMux {
	if logger == nil {
		logger = zap.NewNop()
	}
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := defaultEventLimit
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > maxEventLimit {
					v = maxEventLimit
				}
				limit = v
			}
		}

		eventType, ok := monitor.ParseEventType(strings.ToLower(strings.TrimSpace(q.Get("type"))))
		if !ok {
			http.Error(w, fmt.Sprintf("unknown event type %q", q.Get("type")), http.StatusBadRequest)
			return
		}

		events, err := deps.Events.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})

	mux.HandleFunc("/risk", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Risk.RiskReport())
	})

	mux.HandleFunc("/risk/summary", func(w http.ResponseWriter, r *http.Request) {
		if deps.Narrator == nil {
			http.Error(w, ai.ErrDisabled.Error(), http.StatusServiceUnavailable)
			return
		}
		narrative, err := deps.Narrator.SummarizeRisk(r.Context(), deps.Risk.RiskReport(), deps.Engine.Performance())
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, ai.ErrDisabled) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, narrative)
	})

	mux.HandleFunc("/strategies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Engine.Performance())
	})

	mux.HandleFunc("/options/catalog", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Registry.Catalog())
	})

	mux.HandleFunc("/options/definition", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		spot, err := strconv.ParseFloat(q.Get("spot"), 64)
		if err != nil {
			http.Error(w, "spot 参数无效", http.StatusBadRequest)
			return
		}
		vol := 0.0
		if vs := q.Get("vol"); vs != "" {
			if vol, err = strconv.ParseFloat(vs, 64); err != nil {
				http.Error(w, "vol 参数无效", http.StatusBadRequest)
				return
			}
		}
		params := config.OptionsParams{}
		if ds := q.Get("days"); ds != "" {
			if params.ExpirationDays, err = strconv.Atoi(ds); err != nil {
				http.Error(w, "days 参数无效", http.StatusBadRequest)
				return
			}
		}

		kind := strategy.Kind(strings.ToLower(strings.TrimSpace(q.Get("type"))))
		def, err := deps.Registry.Definition(kind, spot, vol, params, time.Now())
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, strategy.ErrUnknownStrategyType) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, def)
	})

	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
	return mux
}

func startMonitorServer(ctx context.Context, deps serverDeps, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
