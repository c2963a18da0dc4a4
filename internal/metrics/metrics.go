// Package metrics provides Prometheus metrics integration and system monitoring
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig defines the configuration for the metrics system
type MetricsConfig struct {
	Enabled        bool          `json:"enabled"`
	ListenAddress  string        `json:"listen_address"`
	MetricsPath    string        `json:"metrics_path"`
	HealthPath     string        `json:"health_path"`
	ReadyPath      string        `json:"ready_path"`
	UpdateInterval time.Duration `json:"update_interval"`
	Namespace      string        `json:"namespace"`
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:        true,
		ListenAddress:  ":9161",
		MetricsPath:    "/metrics",
		HealthPath:     "/health",
		ReadyPath:      "/ready",
		UpdateInterval: 30 * time.Second,
		Namespace:      "proteus",
	}
}

// MetricsManager manages Prometheus metrics and health endpoints
type MetricsManager struct {
	config   *MetricsConfig
	logger   logging.Logger
	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener

	// Application metrics
	requestMetrics *RequestMetrics
	mibMetrics     *MIBMetrics
	systemMetrics  *SystemMetrics

	// Health status
	healthStatus map[string]bool
	readyStatus  bool
	mu           sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RequestMetrics contains SNMP request processing metrics
type RequestMetrics struct {
	RequestsReceived *prometheus.CounterVec
	Responses        *prometheus.CounterVec
	Drops            *prometheus.CounterVec
	Varbinds         *prometheus.CounterVec
	ProcessingTime   prometheus.Histogram
	ResponseSize     prometheus.Histogram
}

// MIBMetrics contains MIB store metrics
type MIBMetrics struct {
	Entries      prometheus.Gauge
	Reloads      prometheus.Counter
	ReloadErrors prometheus.Counter
}

// SystemMetrics contains system resource metrics
type SystemMetrics struct {
	MemoryUsage    prometheus.Gauge
	GoroutineCount prometheus.Gauge
	GCDuration     prometheus.Histogram
	Uptime         prometheus.Gauge
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(cfg config.Provider, logger logging.Logger) (*MetricsManager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration provider cannot be nil")
	}

	metricsConfig, err := loadMetricsConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics configuration: %w", err)
	}

	registry := prometheus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())

	manager := &MetricsManager{
		config:       metricsConfig,
		logger:       logger.With("component", "metrics"),
		registry:     registry,
		healthStatus: make(map[string]bool),
		readyStatus:  false,
		ctx:          ctx,
		cancel:       cancel,
	}

	if err := manager.initializeMetrics(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return manager, nil
}

// initializeMetrics creates and registers all Prometheus metrics
func (m *MetricsManager) initializeMetrics() error {
	namespace := m.config.Namespace

	m.requestMetrics = &RequestMetrics{
		RequestsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_received_total",
			Help:      "Total number of well-formed SNMP requests by version and PDU type",
		}, []string{"version", "pdu_type"}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_sent_total",
			Help:      "Total number of SNMP responses built by request PDU type",
		}, []string{"pdu_type"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total number of packets dropped without a response by reason",
		}, []string{"reason"}),
		Varbinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "varbinds_total",
			Help:      "Total number of response variable bindings by lookup result",
		}, []string{"result"}),
		ProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_processing_duration_seconds",
			Help:      "Time spent processing SNMP requests",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}),
		ResponseSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_size_bytes",
			Help:      "Size of encoded SNMP responses",
			Buckets:   []float64{64, 128, 256, 484, 1024, 1472, 4096, 16384, 65507},
		}),
	}

	m.mibMetrics = &MIBMetrics{
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mib_entries",
			Help:      "Number of objects registered in the active MIB store",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mib_reloads_total",
			Help:      "Total number of MIB store rebuilds",
		}),
		ReloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mib_reload_errors_total",
			Help:      "Total number of failed MIB store rebuilds",
		}),
	}

	m.systemMetrics = &SystemMetrics{
		MemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),
		GoroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		}),
		GCDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gc_duration_seconds",
			Help:      "Time spent in garbage collection",
			Buckets:   prometheus.DefBuckets,
		}),
		Uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		}),
	}

	collectors := []prometheus.Collector{
		m.requestMetrics.RequestsReceived,
		m.requestMetrics.Responses,
		m.requestMetrics.Drops,
		m.requestMetrics.Varbinds,
		m.requestMetrics.ProcessingTime,
		m.requestMetrics.ResponseSize,

		m.mibMetrics.Entries,
		m.mibMetrics.Reloads,
		m.mibMetrics.ReloadErrors,

		m.systemMetrics.MemoryUsage,
		m.systemMetrics.GoroutineCount,
		m.systemMetrics.GCDuration,
		m.systemMetrics.Uptime,
	}

	for _, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}

// Handler returns the HTTP handler serving the metrics, health and ready
// endpoints.
func (m *MetricsManager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc(m.config.HealthPath, m.healthHandler)
	mux.HandleFunc(m.config.ReadyPath, m.readyHandler)
	return mux
}

// Start starts the metrics server and background monitoring
func (m *MetricsManager) Start() error {
	if !m.config.Enabled {
		m.logger.Info("Metrics collection is disabled")
		return nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}
	m.listener = ln

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server error", "error", err.Error())
		}
	}()

	m.wg.Add(1)
	go m.collectSystemMetrics()

	m.logger.Info("Metrics server started",
		"listen_address", ln.Addr().String(),
		"metrics_path", m.config.MetricsPath)
	return nil
}

// Addr returns the bound metrics address, or nil when not started.
func (m *MetricsManager) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Stop stops the metrics server and background monitoring
func (m *MetricsManager) Stop() error {
	m.cancel()

	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Error("Error shutting down metrics server", "error", err.Error())
		}
	}

	m.wg.Wait()

	if m.server != nil {
		m.logger.Info("Metrics server stopped")
	}
	return nil
}

// collectSystemMetrics collects system resource metrics periodically
func (m *MetricsManager) collectSystemMetrics() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.UpdateInterval)
	defer ticker.Stop()

	startTime := time.Now()
	m.updateSystemMetrics(startTime)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.updateSystemMetrics(startTime)
		}
	}
}

// updateSystemMetrics updates system resource metrics
func (m *MetricsManager) updateSystemMetrics(startTime time.Time) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.systemMetrics.MemoryUsage.Set(float64(memStats.Alloc))
	m.systemMetrics.GoroutineCount.Set(float64(runtime.NumGoroutine()))
	m.systemMetrics.Uptime.Set(time.Since(startTime).Seconds())
	m.systemMetrics.GCDuration.Observe(float64(memStats.PauseTotalNs) / 1e9)
}

// RecordRequest counts a request that passed envelope validation.
func (m *MetricsManager) RecordRequest(version, pduType string) {
	m.requestMetrics.RequestsReceived.WithLabelValues(version, pduType).Inc()
}

// RecordResponse records a built response.
func (m *MetricsManager) RecordResponse(pduType string, duration time.Duration, size int) {
	m.requestMetrics.Responses.WithLabelValues(pduType).Inc()
	m.requestMetrics.ProcessingTime.Observe(duration.Seconds())
	m.requestMetrics.ResponseSize.Observe(float64(size))
}

// RecordDrop counts a packet dropped without a response.
func (m *MetricsManager) RecordDrop(reason string) {
	m.requestMetrics.Drops.WithLabelValues(reason).Inc()
}

// RecordVarbind counts one response varbind by lookup result.
func (m *MetricsManager) RecordVarbind(result string) {
	m.requestMetrics.Varbinds.WithLabelValues(result).Inc()
}

// SetMIBEntries sets the size of the active MIB store.
func (m *MetricsManager) SetMIBEntries(n int) {
	m.mibMetrics.Entries.Set(float64(n))
}

// RecordReload counts a MIB store rebuild.
func (m *MetricsManager) RecordReload(err error) {
	m.mibMetrics.Reloads.Inc()
	if err != nil {
		m.mibMetrics.ReloadErrors.Inc()
	}
}

// healthHandler handles health check requests
func (m *MetricsManager) healthHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allHealthy := true
	for component, healthy := range m.healthStatus {
		if !healthy {
			allHealthy = false
			m.logger.Debug("Component unhealthy", "component", component)
		}
	}

	if allHealthy {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("UNHEALTHY"))
	}
}

// readyHandler handles readiness check requests
func (m *MetricsManager) readyHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	ready := m.readyStatus
	m.mu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY"))
	}
}

// SetComponentHealth sets the health status for a component
func (m *MetricsManager) SetComponentHealth(component string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.healthStatus[component] = healthy
	m.logger.Debug("Component health updated",
		"component", component,
		"healthy", healthy)
}

// SetReady sets the overall readiness status
func (m *MetricsManager) SetReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readyStatus = ready
	m.logger.Info("Readiness status updated", "ready", ready)
}

// GetRequestMetrics returns the request metrics instance
func (m *MetricsManager) GetRequestMetrics() *RequestMetrics {
	return m.requestMetrics
}

// GetMIBMetrics returns the MIB metrics instance
func (m *MetricsManager) GetMIBMetrics() *MIBMetrics {
	return m.mibMetrics
}

// GetSystemMetrics returns the system metrics instance
func (m *MetricsManager) GetSystemMetrics() *SystemMetrics {
	return m.systemMetrics
}

// GetRegistry returns the Prometheus registry backing the manager.
func (m *MetricsManager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// loadMetricsConfig loads metrics configuration from the config provider
func loadMetricsConfig(cfg config.Provider) (*MetricsConfig, error) {
	config := DefaultMetricsConfig()

	if enabled, err := cfg.GetBool("metrics.enabled"); err == nil {
		config.Enabled = enabled
	}

	if listenAddress, err := cfg.GetString("metrics.listen_address"); err == nil {
		config.ListenAddress = listenAddress
	}

	if metricsPath, err := cfg.GetString("metrics.metrics_path"); err == nil {
		config.MetricsPath = metricsPath
	}

	if healthPath, err := cfg.GetString("metrics.health_path"); err == nil {
		config.HealthPath = healthPath
	}

	if readyPath, err := cfg.GetString("metrics.ready_path"); err == nil {
		config.ReadyPath = readyPath
	}

	if updateInterval, err := cfg.GetDuration("metrics.update_interval"); err == nil {
		config.UpdateInterval = updateInterval
	}

	if namespace, err := cfg.GetString("metrics.namespace"); err == nil {
		config.Namespace = namespace
	}

	if config.UpdateInterval <= 0 {
		return nil, fmt.Errorf("metrics.update_interval must be positive, got %s", config.UpdateInterval)
	}

	return config, nil
}
