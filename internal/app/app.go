// Package app provides the main application orchestration and integration layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/listener"
	"github.com/geekxflood/proteus/internal/loader"
	"github.com/geekxflood/proteus/internal/metrics"
	"github.com/geekxflood/proteus/internal/provider"
	"github.com/geekxflood/proteus/internal/reload"
	"github.com/geekxflood/proteus/internal/snmp"
	"github.com/geekxflood/proteus/internal/storage"
)

// AppConfig holds configuration for the main application
type AppConfig struct {
	Name            string        `json:"name"`
	Version         string        `json:"version"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	StatsInterval   time.Duration `json:"stats_interval"`
}

// DefaultAppConfig returns a default application configuration
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Name:            "proteus",
		Version:         "dev",
		ShutdownTimeout: 30 * time.Second,
		StatsInterval:   30 * time.Second,
	}
}

// Application wires the agent components together.
type Application struct {
	config        *AppConfig
	configManager config.Manager
	logger        logging.Logger

	loader    *loader.Loader
	provider  *provider.Provider
	storage   *storage.Storage
	processor *snmp.Processor
	metrics   *metrics.MetricsManager
	listener  *listener.Listener
	reloader  *reload.ReloadManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats *AppStats
	mu    sync.RWMutex
}

// AppStats tracks application-wide statistics
type AppStats struct {
	StartTime      time.Time      `json:"start_time"`
	Uptime         time.Duration  `json:"uptime"`
	MIBEntries     int            `json:"mib_entries"`
	StoreRebuilds  int64          `json:"store_rebuilds"`
	ComponentStats map[string]any `json:"component_stats"`
	HealthStatus   string         `json:"health_status"`
	LastError      string         `json:"last_error,omitempty"`
	LastErrorTime  *time.Time     `json:"last_error_time,omitempty"`
}

// NewLogger builds the process logger from the logging.* keys.
func NewLogger(cfg config.Provider) (logging.Logger, error) {
	level, _ := cfg.GetString("logging.level", "info")
	format, _ := cfg.GetString("logging.format", "json")

	logger, _, err := logging.NewLogger(logging.Config{
		Level:  level,
		Format: format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// NewApplication creates a new SNMP agent application
func NewApplication(configManager config.Manager, logger logging.Logger) (*Application, error) {
	if configManager == nil {
		return nil, fmt.Errorf("configuration manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	appConfig := DefaultAppConfig()

	if name, err := configManager.GetString("app.name", appConfig.Name); err == nil {
		appConfig.Name = name
	}
	if version, err := configManager.GetString("app.version", appConfig.Version); err == nil {
		appConfig.Version = version
	}
	if shutdownTimeout, err := configManager.GetDuration("app.shutdown_timeout", appConfig.ShutdownTimeout); err == nil {
		appConfig.ShutdownTimeout = shutdownTimeout
	}
	if statsInterval, err := configManager.GetDuration("app.stats_interval", appConfig.StatsInterval); err == nil && statsInterval > 0 {
		appConfig.StatsInterval = statsInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:        appConfig,
		configManager: configManager,
		logger:        logger.With("component", "app"),
		ctx:           ctx,
		cancel:        cancel,
		stats: &AppStats{
			StartTime:      time.Now(),
			ComponentStats: make(map[string]any),
			HealthStatus:   "starting",
		},
	}

	app.logger.Info("Creating SNMP agent application",
		"name", appConfig.Name,
		"version", appConfig.Version)

	return app, nil
}

// Initialize creates all application components and builds the first MIB
// store. Nothing listens until Start.
func (a *Application) Initialize() error {
	a.logger.Info("Initializing application components")

	var err error

	a.loader, err = loader.NewLoader(a.configManager, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize data loader: %w", err)
	}
	if err := a.loader.LoadAll(); err != nil {
		return fmt.Errorf("failed to load data files: %w", err)
	}

	a.provider, err = provider.NewProvider(a.configManager, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}

	storageConfig := storage.LoadStorageConfig(a.configManager)
	if storageConfig.Enabled {
		a.storage, err = storage.Open(storageConfig, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	store, err := a.provider.Build(a.loader.Definitions(), a.registrars()...)
	if err != nil {
		return fmt.Errorf("failed to build MIB store: %w", err)
	}

	a.processor, err = snmp.NewProcessor(a.configManager, store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	a.metrics, err = metrics.NewMetricsManager(a.configManager, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	a.processor.SetObserver(a.metrics)
	a.metrics.SetMIBEntries(store.Len())

	a.listener, err = listener.NewListener(a.configManager, a.processor, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize SNMP listener: %w", err)
	}

	if err := a.initializeReload(); err != nil {
		return fmt.Errorf("failed to initialize reload manager: %w", err)
	}

	a.mu.Lock()
	a.stats.MIBEntries = store.Len()
	a.mu.Unlock()

	a.logger.Info("Application components initialized successfully", "mib_entries", store.Len())
	return nil
}

// registrars returns the external value sources added after data files.
func (a *Application) registrars() []provider.Registrar {
	if a.storage == nil {
		return nil
	}
	return []provider.Registrar{a.storage}
}

func (a *Application) initializeReload() error {
	reloader, err := reload.NewReloadManager(a.configManager, a.logger)
	if err != nil {
		return err
	}

	reloader.SetDataDirectories(a.loader.Directories())
	reloader.RegisterComponent("processor", a.processor, false)
	reloader.RegisterComponent("provider", a.provider, false)
	reloader.RegisterComponent("mib", &storeRebuilder{app: a}, true)
	reloader.AddHandler(func(event reload.ReloadEvent) error {
		if !event.Success {
			a.recordError(errors.New(event.Error))
		}
		return nil
	})

	a.reloader = reloader
	return nil
}

// SetConfigFile tells the reload manager which file to watch.
func (a *Application) SetConfigFile(path string) {
	if a.reloader != nil {
		a.reloader.SetConfigFile(path)
	}
}

// RebuildStore reloads the data files, builds a new MIB store and swaps it
// into the processor. Requests in flight finish against the previous store.
func (a *Application) RebuildStore() error {
	if err := a.loader.Reload(); err != nil {
		a.metrics.RecordReload(err)
		return fmt.Errorf("failed to reload data files: %w", err)
	}

	store, err := a.provider.Build(a.loader.Definitions(), a.registrars()...)
	if err != nil {
		a.metrics.RecordReload(err)
		return fmt.Errorf("failed to rebuild MIB store: %w", err)
	}

	a.processor.SetStore(store)
	a.metrics.RecordReload(nil)
	a.metrics.SetMIBEntries(store.Len())

	a.mu.Lock()
	a.stats.MIBEntries = store.Len()
	a.stats.StoreRebuilds++
	a.mu.Unlock()

	a.logger.Info("MIB store swapped", "entries", store.Len())
	return nil
}

// storeRebuilder adapts RebuildStore to the reload manager.
type storeRebuilder struct {
	app *Application
}

func (r *storeRebuilder) Reload(config.Provider) error {
	return r.app.RebuildStore()
}

func (r *storeRebuilder) GetReloadStats() map[string]any {
	r.app.mu.RLock()
	defer r.app.mu.RUnlock()
	return map[string]any{
		"store_rebuilds": r.app.stats.StoreRebuilds,
		"mib_entries":    r.app.stats.MIBEntries,
	}
}

// Start starts the listener, the metrics server and the reload watcher.
func (a *Application) Start() error {
	if a.listener == nil {
		return fmt.Errorf("application is not initialized")
	}

	if err := a.listener.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start SNMP listener: %w", err)
	}
	a.metrics.SetComponentHealth("listener", true)

	if err := a.metrics.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := a.reloader.Start(); err != nil {
		return fmt.Errorf("failed to start reload manager: %w", err)
	}

	a.wg.Add(1)
	go a.statsUpdater()

	a.metrics.SetReady(true)
	a.setHealth("healthy")

	a.logger.Info("SNMP agent started", "address", a.listener.Addr().String())
	return nil
}

// Run starts the application and blocks until a shutdown signal arrives or
// the application context is cancelled. SIGHUP triggers a full reload.
func (a *Application) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				a.logger.Info("Received SIGHUP, reloading")
				if err := a.reloader.TriggerReload(reload.ReloadTypeAll, "signal"); err != nil {
					a.logger.Error("Reload failed", "error", err.Error())
				}
				continue
			}
			a.logger.Info("Received shutdown signal", "signal", sig.String())
			return a.Shutdown()
		case <-a.ctx.Done():
			a.logger.Info("Application context cancelled")
			return a.Shutdown()
		}
	}
}

// Shutdown gracefully shuts down the application
func (a *Application) Shutdown() error {
	a.logger.Info("Shutting down application")
	a.setHealth("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer shutdownCancel()

	a.cancel()

	var shutdownErrors []error

	if a.reloader != nil {
		if err := a.reloader.Stop(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("reload manager shutdown error: %w", err))
		}
	}

	if a.listener != nil {
		a.logger.Info("Shutting down SNMP listener")
		if err := a.listener.Stop(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("listener shutdown error: %w", err))
		}
	}

	if a.metrics != nil {
		a.metrics.SetReady(false)
		if err := a.metrics.Stop(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics shutdown error: %w", err))
		}
	}

	if a.storage != nil {
		a.logger.Info("Shutting down storage")
		if err := a.storage.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("storage shutdown error: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Debug("All background goroutines stopped")
	case <-shutdownCtx.Done():
		a.logger.Warn("Shutdown timeout reached, forcing exit")
		shutdownErrors = append(shutdownErrors, fmt.Errorf("shutdown timeout"))
	}

	a.setHealth("stopped")

	if len(shutdownErrors) > 0 {
		a.logger.Error("Shutdown completed with errors", "error_count", len(shutdownErrors))
		return errors.Join(shutdownErrors...)
	}

	a.logger.Info("Application shutdown completed successfully")
	return nil
}

// statsUpdater periodically updates application statistics
func (a *Application) statsUpdater() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.updateStats()
		}
	}
}

// updateStats collects component statistics.
func (a *Application) updateStats() {
	components := map[string]any{
		"processor": a.processor.GetStats(),
		"listener":  a.listener.GetStats(),
		"loader":    a.loader.GetStats(),
		"reload":    a.reloader.GetStats(),
	}
	if a.storage != nil {
		if storageStats, err := a.storage.GetStats(); err == nil {
			components["storage"] = storageStats
		} else {
			a.logger.Warn("Failed to read storage statistics", "error", err.Error())
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Uptime = time.Since(a.stats.StartTime)
	a.stats.ComponentStats = components
}

func (a *Application) recordError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	a.stats.LastError = err.Error()
	a.stats.LastErrorTime = &now
}

func (a *Application) setHealth(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.HealthStatus = status
}

// GetStats returns application statistics
func (a *Application) GetStats() *AppStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := *a.stats
	stats.Uptime = time.Since(a.stats.StartTime)

	stats.ComponentStats = make(map[string]any, len(a.stats.ComponentStats))
	for key, value := range a.stats.ComponentStats {
		stats.ComponentStats[key] = value
	}

	return &stats
}

// GetConfig returns the application configuration
func (a *Application) GetConfig() *AppConfig {
	return a.config
}

// Addr returns the UDP address the agent is bound to.
func (a *Application) Addr() *net.UDPAddr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// MetricsAddr returns the metrics server address, or nil when disabled.
func (a *Application) MetricsAddr() net.Addr {
	if a.metrics == nil {
		return nil
	}
	return a.metrics.Addr()
}

// Processor returns the request processor.
func (a *Application) Processor() *snmp.Processor {
	return a.processor
}

// Storage returns the value store, or nil when storage is disabled.
func (a *Application) Storage() *storage.Storage {
	return a.storage
}

// IsHealthy returns whether the application is healthy
func (a *Application) IsHealthy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats.HealthStatus == "healthy"
}
