// Package loader reads MIB data files: JSON documents listing object
// instances with their type and value, which the provider registers in the
// MIB store.
package loader

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/types"
)

// ObjectDefinition is one object instance as written in a data file.
type ObjectDefinition struct {
	OID      string `json:"oid"`
	Type     string `json:"type"`
	Value    any    `json:"value"`
	Writable bool   `json:"writable,omitempty"`
}

// document is the on-disk layout of a data file.
type document struct {
	Name    string             `json:"name"`
	Objects []ObjectDefinition `json:"objects"`
}

// Definition is a validated object instance ready for registration.
type Definition struct {
	OID      types.OID
	Type     byte
	Value    any
	Writable bool
	Source   string
}

// DataFile represents a loaded data file
type DataFile struct {
	Path        string       `json:"path"`
	Name        string       `json:"name"`
	Size        int64        `json:"size"`
	ModTime     time.Time    `json:"mod_time"`
	LastLoaded  time.Time    `json:"last_loaded"`
	LoadCount   int          `json:"load_count"`
	ParsedOK    bool         `json:"parsed_ok"`
	ParseError  string       `json:"parse_error,omitempty"`
	Definitions []Definition `json:"-"`
}

// LoaderConfig holds configuration for the data file loader
type LoaderConfig struct {
	DataPaths      []string `json:"data_path"`
	FileExtensions []string `json:"file_extensions"`
	MaxFileSize    int64    `json:"max_file_size"`
	RecursiveScan  bool     `json:"recursive"`
	IgnorePatterns []string `json:"ignore_patterns"`
}

// DefaultLoaderConfig returns a default loader configuration
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		DataPaths:      []string{"./mibs"},
		FileExtensions: []string{".json"},
		MaxFileSize:    10 * 1024 * 1024,
		RecursiveScan:  true,
		IgnorePatterns: []string{".*", "_*", "*.bak", "*.tmp"},
	}
}

// LoaderStats tracks loader statistics
type LoaderStats struct {
	FilesLoaded        int           `json:"files_loaded"`
	DefinitionsLoaded  int           `json:"definitions_loaded"`
	TotalSize          int64         `json:"total_size"`
	LastScanTime       time.Time     `json:"last_scan_time"`
	ScanDuration       time.Duration `json:"scan_duration"`
	ParseErrors        int           `json:"parse_errors"`
	ReloadCount        int           `json:"reload_count"`
	DirectoriesScanned int           `json:"directories_scanned"`
}

// Loader manages data file loading
type Loader struct {
	config *LoaderConfig
	logger logging.Logger
	files  map[string]*DataFile
	mu     sync.RWMutex
	stats  LoaderStats
}

// NewLoader creates a new loader with the given configuration
func NewLoader(cfg config.Provider, logger logging.Logger) (*Loader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration provider cannot be nil")
	}

	loaderConfig := DefaultLoaderConfig()

	if paths, err := cfg.GetStringSlice("mibs.data_path"); err == nil {
		loaderConfig.DataPaths = paths
	} else if path, err := cfg.GetString("mibs.data_path"); err == nil && path != "" {
		loaderConfig.DataPaths = []string{path}
	}

	if exts, err := cfg.GetStringSlice("mibs.file_extensions"); err == nil {
		loaderConfig.FileExtensions = exts
	}

	if size, err := cfg.GetInt("mibs.max_file_size", int(loaderConfig.MaxFileSize)); err == nil {
		loaderConfig.MaxFileSize = int64(size)
	}

	if recursive, err := cfg.GetBool("mibs.recursive", loaderConfig.RecursiveScan); err == nil {
		loaderConfig.RecursiveScan = recursive
	}

	if patterns, err := cfg.GetStringSlice("mibs.ignore_patterns"); err == nil {
		loaderConfig.IgnorePatterns = patterns
	}

	return &Loader{
		config: loaderConfig,
		logger: logger.With("component", "loader"),
		files:  make(map[string]*DataFile),
	}, nil
}

// LoadAll scans all configured paths and loads data files. Missing paths
// are skipped; a file that fails to parse is recorded but does not stop the
// scan.
func (l *Loader) LoadAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadAllLocked()
}

func (l *Loader) loadAllLocked() error {
	startTime := time.Now()
	l.stats.DirectoriesScanned = 0
	l.stats.FilesLoaded = 0
	l.stats.ParseErrors = 0
	l.stats.DefinitionsLoaded = 0
	l.stats.TotalSize = 0

	seen := make(map[string]bool)
	for _, dir := range l.config.DataPaths {
		if err := l.scanDirectory(dir, seen); err != nil {
			l.logger.Warn("Skipping data path", "path", dir, "error", err.Error())
			continue
		}
		l.stats.DirectoriesScanned++
	}

	for path := range l.files {
		if !seen[path] {
			delete(l.files, path)
		}
	}

	l.stats.LastScanTime = time.Now()
	l.stats.ScanDuration = time.Since(startTime)

	l.logger.Debug("Data files scanned",
		"files", l.stats.FilesLoaded,
		"definitions", l.stats.DefinitionsLoaded,
		"errors", l.stats.ParseErrors,
		"duration", l.stats.ScanDuration.String())
	return nil
}

// scanDirectory walks dir for data files. A path naming a single file is
// loaded directly.
func (l *Loader) scanDirectory(dir string, seen map[string]bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		seen[dir] = true
		l.loadAndCount(dir)
		return nil
	}

	walkFunc := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && (!l.config.RecursiveScan || l.shouldIgnoreFile(path)) {
				return filepath.SkipDir
			}
			return nil
		}

		if l.shouldIgnoreFile(path) || !l.hasValidExtension(path) {
			return nil
		}

		seen[path] = true
		l.loadAndCount(path)
		return nil
	}

	return filepath.WalkDir(dir, walkFunc)
}

func (l *Loader) loadAndCount(path string) {
	file, err := l.loadFile(path)
	if err != nil {
		l.stats.ParseErrors++
		l.logger.Warn("Failed to load data file", "path", path, "error", err.Error())
		return
	}
	l.stats.FilesLoaded++
	l.stats.TotalSize += file.Size
	l.stats.DefinitionsLoaded += len(file.Definitions)
}

// loadFile loads a single data file. A file that is read but fails to
// parse stays in the file table with ParsedOK unset.
func (l *Loader) loadFile(path string) (*DataFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	if info.Size() > l.config.MaxFileSize {
		return nil, fmt.Errorf("file %s exceeds maximum size limit of %d bytes: %w",
			path, l.config.MaxFileSize, types.ErrResourceExhaustion)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	file := &DataFile{
		Path:       path,
		Name:       dataFileName(path),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		LastLoaded: time.Now(),
		LoadCount:  1,
	}
	if existing, exists := l.files[path]; exists {
		file.LoadCount = existing.LoadCount + 1
	}
	l.files[path] = file

	name, defs, err := ParseDocument(content, path)
	if err != nil {
		file.ParseError = err.Error()
		return nil, err
	}
	if name != "" {
		file.Name = name
	}
	file.Definitions = defs
	file.ParsedOK = true
	return file, nil
}

// dataFileName derives a name from the file name.
func dataFileName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseDocument decodes and validates a data file. It returns the document
// name and its definitions in file order; source labels each definition.
func ParseDocument(content []byte, source string) (string, []Definition, error) {
	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		return "", nil, fmt.Errorf("invalid JSON in %s: %w", source, err)
	}

	defs := make([]Definition, 0, len(doc.Objects))
	seen := make(map[string]bool, len(doc.Objects))
	for i, obj := range doc.Objects {
		def, err := obj.definition()
		if err != nil {
			return "", nil, fmt.Errorf("%s: object %d: %w", source, i, err)
		}
		key := def.OID.String()
		if seen[key] {
			return "", nil, fmt.Errorf("%s: object %d: duplicate OID %s: %w", source, i, key, types.ErrInvalidArgument)
		}
		seen[key] = true
		def.Source = source
		defs = append(defs, def)
	}
	return doc.Name, defs, nil
}

func (o ObjectDefinition) definition() (Definition, error) {
	oid, err := types.ParseOID(o.OID)
	if err != nil {
		return Definition{}, err
	}
	if err := oid.Validate(); err != nil {
		return Definition{}, err
	}

	tag, err := types.ParseTypeName(o.Type)
	if err != nil {
		return Definition{}, err
	}

	var text string
	switch v := o.Value.(type) {
	case nil:
		if tag != types.TypeNull {
			return Definition{}, fmt.Errorf("%s requires a value: %w", oid, types.ErrInvalidArgument)
		}
	case string:
		text = v
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		text = "0"
		if v {
			text = "1"
		}
	default:
		return Definition{}, fmt.Errorf("%s: unsupported value %v: %w", oid, v, types.ErrInvalidArgument)
	}

	value, err := ber.ParseValue(tag, text)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", oid, err)
	}
	if _, err := ber.EncodeValue(tag, value); err != nil {
		return Definition{}, fmt.Errorf("%s: %w", oid, err)
	}

	return Definition{OID: oid, Type: tag, Value: value, Writable: o.Writable}, nil
}

// shouldIgnoreFile checks if a file should be ignored based on patterns
func (l *Loader) shouldIgnoreFile(path string) bool {
	filename := filepath.Base(path)

	for _, pattern := range l.config.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, filename); matched {
			return true
		}
	}

	return false
}

// hasValidExtension checks if file has a data file extension
func (l *Loader) hasValidExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.ContainsFunc(l.config.FileExtensions, func(valid string) bool {
		return ext == strings.ToLower(valid)
	})
}

// Definitions returns the definitions of every parsed file, ordered by
// path and then by file order.
func (l *Loader) Definitions() []Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var defs []Definition
	for _, file := range l.sortedFiles() {
		if file.ParsedOK {
			defs = append(defs, file.Definitions...)
		}
	}
	return defs
}

func (l *Loader) sortedFiles() []*DataFile {
	files := make([]*DataFile, 0, len(l.files))
	for _, file := range l.files {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// GetFile returns a loaded data file by path
func (l *Loader) GetFile(path string) (*DataFile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	file, exists := l.files[path]
	return file, exists
}

// GetAllFiles returns all loaded data files ordered by path
func (l *Loader) GetAllFiles() []*DataFile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedFiles()
}

// GetStats returns loader statistics
func (l *Loader) GetStats() LoaderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Reload rescans every configured path.
func (l *Loader) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.ReloadCount++
	return l.loadAllLocked()
}

// Directories returns the existing configured paths, for file watching.
func (l *Loader) Directories() []string {
	dirs := make([]string, 0, len(l.config.DataPaths))
	for _, path := range l.config.DataPaths {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			dirs = append(dirs, path)
		}
	}
	return dirs
}

// GetConfig returns the loader configuration
func (l *Loader) GetConfig() *LoaderConfig {
	return l.config
}
