package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
)

// Server exposes the collected metrics over HTTP on /metrics, plus a
// /healthz liveness endpoint. It owns its own registry so process-wide
// default metrics from other packages never leak in.
type Server struct {
	addr     string
	registry *prometheus.Registry
	httpSrv  *http.Server
	logger   *zap.Logger
}

var diskUsageDesc = prometheus.NewDesc(
	"vya_disk_free_bytes",
	"Free bytes on the filesystem holding a backup directory.",
	[]string{"path"}, nil)

var diskUsedPercentDesc = prometheus.NewDesc(
	"vya_disk_used_percent",
	"Used percentage of the filesystem holding a backup directory.",
	[]string{"path"}, nil)

// diskCollector samples filesystem usage for the configured backup
// directories at scrape time.
type diskCollector struct {
	paths  []string
	logger *zap.Logger
}

func (d *diskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- diskUsageDesc
	ch <- diskUsedPercentDesc
}

func (d *diskCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range d.paths {
		usage, err := disk.Usage(p)
		if err != nil {
			d.logger.Warn("disk usage probe failed", zap.String("path", p), zap.Error(err))
			continue
		}
		ch <- prometheus.MustNewConstMetric(diskUsageDesc,
			prometheus.GaugeValue, float64(usage.Free), p)
		ch <- prometheus.MustNewConstMetric(diskUsedPercentDesc,
			prometheus.GaugeValue, usage.UsedPercent, p)
	}
}

// NewServer builds the metrics HTTP server. diskPaths lists the backup
// directories whose filesystem usage is sampled per scrape; an empty list
// disables the disk gauges.
func NewServer(addr string, collector *Collector, diskPaths []string, logger *zap.Logger) *Server {
	log := logger.Named("metrics")

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewBridge(collector))
	registry.MustRegister(collectors.NewGoCollector())
	if len(diskPaths) > 0 {
		registry.MustRegister(&diskCollector{paths: diskPaths, logger: log})
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		addr:     addr,
		registry: registry,
		logger:   log,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("serving metrics", zap.String("addr", s.addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping metrics server")
	return s.httpSrv.Shutdown(ctx)
}
