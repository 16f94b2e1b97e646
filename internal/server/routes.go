package server

import (
	"encoding/json"
	"net/http"

	"github.com/BaSui01/chatwidget/streaming/diagnostics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReportSource 提供诊断报告，*streaming.Provider 实现该接口
type ReportSource interface {
	Diagnostics() diagnostics.Report
}

// Routes 诊断端点配置
type Routes struct {
	// MetricsPath Prometheus 抓取路径，为空时不注册
	MetricsPath string
	Gatherer    prometheus.Gatherer
	Source      ReportSource
	Logger      *zap.Logger
}

type healthResponse struct {
	Status      string  `json:"status"`
	HealthScore float64 `json:"health_score"`
	Reason      string  `json:"reason,omitempty"`
}

// Handler 组装 /healthz、/diagnostics 与指标路由
func (r Routes) Handler() http.Handler {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	if r.MetricsPath != "" && r.Gatherer != nil {
		mux.Handle(r.MetricsPath, promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if r.Source == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"}, logger)
			return
		}
		report := r.Source.Diagnostics()
		resp := healthResponse{Status: "ok", HealthScore: report.HealthScore}
		status := http.StatusOK
		switch {
		case report.InvariantError != "":
			resp.Status, resp.Reason = "degraded", report.InvariantError
			status = http.StatusServiceUnavailable
		case report.Boundary != nil && report.Boundary.Open:
			resp.Status, resp.Reason = "degraded", "error boundary open"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp, logger)
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Source == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, r.Source.Diagnostics(), logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response failed", zap.Error(err))
	}
}
