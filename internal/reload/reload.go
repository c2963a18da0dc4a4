// Package reload provides hot reload for the configuration file and MIB data
// files. File system events are debounced and dispatched to registered
// components.
package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
)

// ReloadEvent represents a reload event
type ReloadEvent struct {
	Type      ReloadType    `json:"type"`
	Source    string        `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ReloadType defines the type of reload event
type ReloadType string

const (
	ReloadTypeConfig ReloadType = "config"
	ReloadTypeMIB    ReloadType = "mib"
	ReloadTypeAll    ReloadType = "all"
)

// maxEvents bounds the recorded event history.
const maxEvents = 100

// ReloadHandler is a function that handles reload events
type ReloadHandler func(event ReloadEvent) error

// ComponentReloader defines the interface for components that support hot reload
type ComponentReloader interface {
	Reload(configProvider config.Provider) error
	GetReloadStats() map[string]any
}

// ReloadConfig holds configuration for the reload manager
type ReloadConfig struct {
	Enabled              bool          `json:"enabled"`
	ConfigFile           string        `json:"config_file"`
	WatchConfigFile      bool          `json:"watch_config_file"`
	WatchMIBDirectories  bool          `json:"watch_mib_directories"`
	ReloadDelay          time.Duration `json:"reload_delay"`
	ValidateBeforeReload bool          `json:"validate_before_reload"`
	DataExtensions       []string      `json:"data_extensions"`
}

// DefaultReloadConfig returns a default reload configuration
func DefaultReloadConfig() *ReloadConfig {
	return &ReloadConfig{
		Enabled:              true,
		WatchConfigFile:      true,
		WatchMIBDirectories:  true,
		ReloadDelay:          2 * time.Second,
		ValidateBeforeReload: true,
		DataExtensions:       []string{".json"},
	}
}

type registration struct {
	name      string
	component ComponentReloader
	mib       bool
}

// ReloadManager manages hot reload functionality
type ReloadManager struct {
	config         *ReloadConfig
	logger         logging.Logger
	configManager  config.Manager
	watcher        *fsnotify.Watcher
	components     []registration
	handlers       []ReloadHandler
	events         []ReloadEvent
	stats          ReloadStats
	dataDirs       []string
	mu             sync.RWMutex
	reloadMu       sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	reloadInFlight bool
}

// ReloadStats tracks reload statistics
type ReloadStats struct {
	TotalReloads       int64         `json:"total_reloads"`
	SuccessfulReloads  int64         `json:"successful_reloads"`
	FailedReloads      int64         `json:"failed_reloads"`
	LastReloadTime     time.Time     `json:"last_reload_time"`
	LastReloadDuration time.Duration `json:"last_reload_duration"`
	AverageReloadTime  time.Duration `json:"average_reload_time"`
	ConfigReloads      int64         `json:"config_reloads"`
	MIBReloads         int64         `json:"mib_reloads"`
}

// NewReloadManager creates a new reload manager
func NewReloadManager(configManager config.Manager, logger logging.Logger) (*ReloadManager, error) {
	if configManager == nil {
		return nil, fmt.Errorf("config manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	reloadConfig := DefaultReloadConfig()

	if enabled, err := configManager.GetBool("reload.enabled", reloadConfig.Enabled); err == nil {
		reloadConfig.Enabled = enabled
	}

	if watchConfig, err := configManager.GetBool("reload.watch_config_file", reloadConfig.WatchConfigFile); err == nil {
		reloadConfig.WatchConfigFile = watchConfig
	}

	if watchMIB, err := configManager.GetBool("reload.watch_mib_directories", reloadConfig.WatchMIBDirectories); err == nil {
		reloadConfig.WatchMIBDirectories = watchMIB
	}

	if delay, err := configManager.GetDuration("reload.reload_delay", reloadConfig.ReloadDelay); err == nil {
		reloadConfig.ReloadDelay = delay
	}

	if validate, err := configManager.GetBool("reload.validate_before_reload", reloadConfig.ValidateBeforeReload); err == nil {
		reloadConfig.ValidateBeforeReload = validate
	}

	if exts, err := configManager.GetStringSlice("mibs.file_extensions"); err == nil {
		reloadConfig.DataExtensions = exts
	}

	if reloadConfig.ReloadDelay <= 0 {
		return nil, fmt.Errorf("reload.reload_delay must be positive, got %s", reloadConfig.ReloadDelay)
	}

	ctx, cancel := context.WithCancel(context.Background())

	manager := &ReloadManager{
		config:        reloadConfig,
		logger:        logger.With("component", "reload"),
		configManager: configManager,
		ctx:           ctx,
		cancel:        cancel,
	}

	if reloadConfig.Enabled {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		manager.watcher = watcher
	}

	return manager, nil
}

// Start starts watching the configuration file and data directories.
func (rm *ReloadManager) Start() error {
	if !rm.config.Enabled {
		rm.logger.Info("Hot reload is disabled")
		return nil
	}

	rm.logger.Info("Starting reload manager",
		"watch_config", rm.config.WatchConfigFile,
		"watch_mib", rm.config.WatchMIBDirectories,
		"reload_delay", rm.config.ReloadDelay.String())

	rm.mu.RLock()
	configFile := rm.config.ConfigFile
	dataDirs := slices.Clone(rm.dataDirs)
	rm.mu.RUnlock()

	// Directories are watched rather than files so that editors replacing
	// a file by rename keep producing events.
	if rm.config.WatchConfigFile && configFile != "" {
		dir := filepath.Dir(configFile)
		if err := rm.watcher.Add(dir); err != nil {
			rm.logger.Warn("Failed to watch config file", "file", configFile, "error", err.Error())
		} else {
			rm.logger.Info("Watching configuration file", "file", configFile)
		}
	}

	if rm.config.WatchMIBDirectories {
		for _, dir := range dataDirs {
			if err := rm.watchTree(dir); err != nil {
				rm.logger.Warn("Failed to watch data directory", "directory", dir, "error", err.Error())
			}
		}
	}

	rm.wg.Add(1)
	go rm.watchFiles()

	rm.logger.Info("Reload manager started successfully")
	return nil
}

// watchTree adds dir and its subdirectories to the watcher.
func (rm *ReloadManager) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := rm.watcher.Add(path); err != nil {
				return err
			}
			rm.logger.Debug("Watching data directory", "directory", path)
		}
		return nil
	})
}

// Stop stops the reload manager
func (rm *ReloadManager) Stop() error {
	if !rm.config.Enabled {
		return nil
	}

	rm.logger.Info("Stopping reload manager")

	rm.cancel()

	if rm.watcher != nil {
		if err := rm.watcher.Close(); err != nil {
			rm.logger.Error("Error closing file watcher", "error", err.Error())
		}
	}

	rm.wg.Wait()

	rm.logger.Info("Reload manager stopped")
	return nil
}

// RegisterComponent registers a component reloaded on configuration
// changes. When mib is set it is also reloaded on data file changes.
// Components are reloaded in registration order.
func (rm *ReloadManager) RegisterComponent(name string, component ComponentReloader, mib bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.components = slices.DeleteFunc(rm.components, func(r registration) bool { return r.name == name })
	rm.components = append(rm.components, registration{name: name, component: component, mib: mib})
	rm.logger.Info("Registered component for hot reload", "component", name, "mib", mib)
}

// UnregisterComponent unregisters a component from hot reload
func (rm *ReloadManager) UnregisterComponent(name string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.components = slices.DeleteFunc(rm.components, func(r registration) bool { return r.name == name })
	rm.logger.Info("Unregistered component from hot reload", "component", name)
}

// AddHandler adds a reload event handler
func (rm *ReloadManager) AddHandler(handler ReloadHandler) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.handlers = append(rm.handlers, handler)
}

// SetConfigFile sets the configuration file to watch. It must be called
// before Start.
func (rm *ReloadManager) SetConfigFile(configFile string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if configFile == "" {
		rm.config.ConfigFile = ""
		return
	}
	rm.config.ConfigFile = filepath.Clean(configFile)
	rm.logger.Info("Set configuration file for watching", "file", configFile)
}

// SetDataDirectories sets the data directories to watch. It must be called
// before Start.
func (rm *ReloadManager) SetDataDirectories(dirs []string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.dataDirs = rm.dataDirs[:0]
	for _, dir := range dirs {
		rm.dataDirs = append(rm.dataDirs, filepath.Clean(dir))
	}
}

// TriggerReload manually triggers a reload of the specified type
func (rm *ReloadManager) TriggerReload(reloadType ReloadType, source string) error {
	rm.logger.Info("Manual reload triggered", "type", string(reloadType), "source", source)
	return rm.performReload(reloadType, source)
}

// GetStats returns reload statistics
func (rm *ReloadManager) GetStats() ReloadStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.stats
}

// GetRecentEvents returns recent reload events
func (rm *ReloadManager) GetRecentEvents(limit int) []ReloadEvent {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if limit <= 0 || limit > len(rm.events) {
		limit = len(rm.events)
	}

	start := len(rm.events) - limit
	events := make([]ReloadEvent, limit)
	copy(events, rm.events[start:])
	return events
}

// IsReloadInProgress returns whether a reload is currently in progress
func (rm *ReloadManager) IsReloadInProgress() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.reloadInFlight
}

// watchFiles monitors files for changes
func (rm *ReloadManager) watchFiles() {
	defer rm.wg.Done()

	debounceTimer := time.NewTimer(rm.config.ReloadDelay)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()

	pendingReloads := make(map[string]ReloadType)

	for {
		select {
		case <-rm.ctx.Done():
			return

		case event, ok := <-rm.watcher.Events:
			if !ok {
				return
			}

			rm.logger.Debug("File system event received",
				"file", event.Name,
				"operation", event.Op.String())

			if event.Op&fsnotify.Create != 0 && rm.config.WatchMIBDirectories && rm.inDataDir(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := rm.watchTree(event.Name); err != nil {
						rm.logger.Warn("Failed to watch new directory", "directory", event.Name, "error", err.Error())
					}
				}
			}

			reloadType := rm.determineReloadType(event.Name)
			if reloadType == "" {
				continue
			}

			pendingReloads[event.Name] = reloadType
			debounceTimer.Reset(rm.config.ReloadDelay)

		case <-debounceTimer.C:
			if len(pendingReloads) > 0 {
				rm.processPendingReloads(pendingReloads)
				pendingReloads = make(map[string]ReloadType)
			}

		case err, ok := <-rm.watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error("File watcher error", "error", err.Error())
		}
	}
}

// determineReloadType maps a changed path to a reload type, or "" when the
// path is not of interest.
func (rm *ReloadManager) determineReloadType(path string) ReloadType {
	path = filepath.Clean(path)

	rm.mu.RLock()
	configFile := rm.config.ConfigFile
	rm.mu.RUnlock()

	if rm.config.WatchConfigFile && configFile != "" && path == configFile {
		return ReloadTypeConfig
	}

	if rm.config.WatchMIBDirectories && rm.inDataDir(path) && rm.isDataFile(path) {
		return ReloadTypeMIB
	}

	return ""
}

func (rm *ReloadManager) inDataDir(path string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	for _, dir := range rm.dataDirs {
		if rel, err := filepath.Rel(dir, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (rm *ReloadManager) isDataFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.ContainsFunc(rm.config.DataExtensions, func(valid string) bool {
		return ext == strings.ToLower(valid)
	})
}

// processPendingReloads runs one reload per pending type. A configuration
// reload covers data files too.
func (rm *ReloadManager) processPendingReloads(pendingReloads map[string]ReloadType) {
	reloadTypes := make(map[ReloadType][]string)
	for file, reloadType := range pendingReloads {
		reloadTypes[reloadType] = append(reloadTypes[reloadType], file)
	}

	if files, ok := reloadTypes[ReloadTypeConfig]; ok {
		files = append(files, reloadTypes[ReloadTypeMIB]...)
		delete(reloadTypes, ReloadTypeMIB)
		reloadTypes[ReloadTypeConfig] = files
	}

	for reloadType, files := range reloadTypes {
		slices.Sort(files)
		source := fmt.Sprintf("files: %v", files)
		if err := rm.performReload(reloadType, source); err != nil {
			rm.logger.Error("Failed to perform reload",
				"type", string(reloadType),
				"source", source,
				"error", err.Error())
		}
	}
}

// performReload performs the actual reload operation. Reloads are
// serialized.
func (rm *ReloadManager) performReload(reloadType ReloadType, source string) error {
	rm.reloadMu.Lock()
	defer rm.reloadMu.Unlock()

	rm.mu.Lock()
	rm.reloadInFlight = true
	rm.mu.Unlock()

	defer func() {
		rm.mu.Lock()
		rm.reloadInFlight = false
		rm.mu.Unlock()
	}()

	startTime := time.Now()
	event := ReloadEvent{
		Type:      reloadType,
		Source:    source,
		Timestamp: startTime,
	}

	rm.logger.Info("Starting reload", "type", string(reloadType), "source", source)

	var err error
	switch reloadType {
	case ReloadTypeConfig, ReloadTypeAll:
		err = rm.reloadConfiguration()
	case ReloadTypeMIB:
		err = rm.reloadComponents(true)
	default:
		err = fmt.Errorf("unknown reload type: %s", reloadType)
	}

	event.Duration = time.Since(startTime)
	event.Success = err == nil
	if err != nil {
		event.Error = err.Error()
	}

	rm.record(event)
	rm.notifyHandlers(event)

	if err != nil {
		rm.logger.Error("Reload failed",
			"type", string(reloadType),
			"source", source,
			"duration", event.Duration.String(),
			"error", err.Error())
		return err
	}

	rm.logger.Info("Reload completed successfully",
		"type", string(reloadType),
		"source", source,
		"duration", event.Duration.String())

	return nil
}

// reloadConfiguration reloads the configuration file and then every
// registered component.
func (rm *ReloadManager) reloadConfiguration() error {
	if err := rm.configManager.Reload(); err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	if rm.config.ValidateBeforeReload {
		if err := rm.configManager.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return rm.reloadComponents(false)
}

// reloadComponents reloads registered components in order; mibOnly limits
// the pass to components registered for data file changes.
func (rm *ReloadManager) reloadComponents(mibOnly bool) error {
	rm.mu.RLock()
	components := slices.Clone(rm.components)
	rm.mu.RUnlock()

	for _, r := range components {
		if mibOnly && !r.mib {
			continue
		}
		rm.logger.Debug("Reloading component", "component", r.name)
		if err := r.component.Reload(rm.configManager); err != nil {
			return fmt.Errorf("failed to reload component %s: %w", r.name, err)
		}
	}
	return nil
}

// record updates statistics and the event history.
func (rm *ReloadManager) record(event ReloadEvent) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.stats.TotalReloads++
	rm.stats.LastReloadTime = event.Timestamp
	rm.stats.LastReloadDuration = event.Duration

	if event.Success {
		rm.stats.SuccessfulReloads++
		n := time.Duration(rm.stats.SuccessfulReloads)
		rm.stats.AverageReloadTime += (event.Duration - rm.stats.AverageReloadTime) / n
	} else {
		rm.stats.FailedReloads++
	}

	switch event.Type {
	case ReloadTypeConfig, ReloadTypeAll:
		rm.stats.ConfigReloads++
	case ReloadTypeMIB:
		rm.stats.MIBReloads++
	}

	rm.events = append(rm.events, event)
	if len(rm.events) > maxEvents {
		rm.events = rm.events[len(rm.events)-maxEvents:]
	}
}

// notifyHandlers calls every handler with the event.
func (rm *ReloadManager) notifyHandlers(event ReloadEvent) {
	rm.mu.RLock()
	handlers := slices.Clone(rm.handlers)
	rm.mu.RUnlock()

	for _, h := range handlers {
		if err := h(event); err != nil {
			rm.logger.Error("Reload handler error", "error", err.Error())
		}
	}
}
