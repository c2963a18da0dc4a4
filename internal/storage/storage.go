// Package storage provides persistent managed values backed by SQLite. Each
// row holds the BER content of one object instance; the MIB store reads rows
// at request time through registered getters.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/geekxflood/proteus/internal/ber"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/types"
)

// StorageConfig holds configuration for the value store
type StorageConfig struct {
	Enabled          bool          `json:"enabled"`
	DatabaseType     string        `json:"database_type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	QueryTimeout     time.Duration `json:"query_timeout"`
}

// DefaultStorageConfig returns a default storage configuration
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Enabled:          false,
		DatabaseType:     "sqlite3",
		ConnectionString: "./proteus.db",
		MaxConnections:   10,
		QueryTimeout:     2 * time.Second,
	}
}

// LoadStorageConfig reads the storage.* keys from cfg.
func LoadStorageConfig(cfg config.Provider) *StorageConfig {
	storageConfig := DefaultStorageConfig()

	if enabled, err := cfg.GetBool("storage.enabled", storageConfig.Enabled); err == nil {
		storageConfig.Enabled = enabled
	}
	if connStr, err := cfg.GetString("storage.connection_string", storageConfig.ConnectionString); err == nil {
		storageConfig.ConnectionString = connStr
	}
	if maxConn, err := cfg.GetInt("storage.max_connections", storageConfig.MaxConnections); err == nil {
		storageConfig.MaxConnections = maxConn
	}
	if timeout, err := cfg.GetDuration("storage.query_timeout", storageConfig.QueryTimeout); err == nil {
		storageConfig.QueryTimeout = timeout
	}
	return storageConfig
}

// Value is one stored object instance.
type Value struct {
	OID       types.OID `json:"oid"`
	Type      byte      `json:"type"`
	Content   []byte    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decode returns the Go value of the stored content.
func (v *Value) Decode() (any, error) {
	return ber.DecodeValue(v.Type, v.Content)
}

// StorageStats tracks storage statistics
type StorageStats struct {
	TotalValues int64      `json:"total_values"`
	Reads       uint64     `json:"reads"`
	Writes      uint64     `json:"writes"`
	LastUpdate  *time.Time `json:"last_update,omitempty"`
}

// Storage provides persistent managed values
type Storage struct {
	config *StorageConfig
	db     *sql.DB
	logger logging.Logger

	mu     sync.Mutex
	reads  uint64
	writes uint64
}

// NewStorage opens the database and creates the schema.
func NewStorage(cfg config.Provider, logger logging.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration provider cannot be nil")
	}
	return Open(LoadStorageConfig(cfg), logger)
}

// Open opens a value store with an explicit configuration.
func Open(storageConfig *StorageConfig, logger logging.Logger) (*Storage, error) {
	db, err := sql.Open(storageConfig.DatabaseType, storageConfig.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(storageConfig.MaxConnections)
	db.SetMaxIdleConns(max(storageConfig.MaxConnections/2, 1))
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &Storage{
		config: storageConfig,
		db:     db,
		logger: logger.With("component", "storage"),
	}

	if err := storage.initSchema(); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the database tables and indexes
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mib_values (
		oid TEXT PRIMARY KEY,
		type INTEGER NOT NULL,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create mib_values table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_mib_values_updated_at ON mib_values(updated_at);"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *Storage) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.QueryTimeout)
}

// Put encodes value for objectType and stores it under oid, replacing any
// existing row.
func (s *Storage) Put(oid types.OID, objectType byte, value any) error {
	content, err := ber.EncodeValue(objectType, value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", oid, err)
	}
	return s.putContent(oid, objectType, content)
}

// PutText parses a textual value, as accepted in data files, and stores it.
func (s *Storage) PutText(oid types.OID, objectType byte, text string) error {
	value, err := ber.ParseValue(objectType, text)
	if err != nil {
		return err
	}
	return s.Put(oid, objectType, value)
}

func (s *Storage) putContent(oid types.OID, objectType byte, content []byte) error {
	if err := oid.Validate(); err != nil {
		return err
	}

	ctx, cancel := s.queryContext()
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mib_values (oid, type, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET type = excluded.type, value = excluded.value, updated_at = excluded.updated_at
	`, oid.String(), int(objectType), content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store value for %s: %w", oid, err)
	}

	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return nil
}

// Get returns the stored value for oid. A missing row unwraps to
// types.ErrNotFound.
func (s *Storage) Get(oid types.OID) (*Value, error) {
	ctx, cancel := s.queryContext()
	defer cancel()

	row := s.db.QueryRowContext(ctx, "SELECT type, value, updated_at FROM mib_values WHERE oid = ?", oid.String())

	var objectType int
	value := &Value{OID: oid.Copy()}
	if err := row.Scan(&objectType, &value.Content, &value.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no stored value for %s: %w", oid, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read value for %s: %w", oid, err)
	}
	value.Type = byte(objectType)

	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return value, nil
}

// Delete removes the stored value for oid.
func (s *Storage) Delete(oid types.OID) error {
	ctx, cancel := s.queryContext()
	defer cancel()

	result, err := s.db.ExecContext(ctx, "DELETE FROM mib_values WHERE oid = ?", oid.String())
	if err != nil {
		return fmt.Errorf("failed to delete value for %s: %w", oid, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no stored value for %s: %w", oid, types.ErrNotFound)
	}
	return nil
}

// List returns every stored value in OID order.
func (s *Storage) List() ([]*Value, error) {
	ctx, cancel := s.queryContext()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT oid, type, value, updated_at FROM mib_values")
	if err != nil {
		return nil, fmt.Errorf("failed to query values: %w", err)
	}
	defer rows.Close()

	var values []*Value
	for rows.Next() {
		var oidText string
		var objectType int
		value := &Value{}
		if err := rows.Scan(&oidText, &objectType, &value.Content, &value.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		oid, err := types.ParseOID(oidText)
		if err != nil {
			s.logger.Warn("Skipping stored value with invalid OID", "oid", oidText, "error", err.Error())
			continue
		}
		value.OID = oid
		value.Type = byte(objectType)
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate values: %w", err)
	}

	sort.Slice(values, func(i, j int) bool { return values[i].OID.Compare(values[j].OID) < 0 })
	return values, nil
}

// Getter returns a mib.Getter that reads the current row on every call.
func (s *Storage) Getter() mib.Getter {
	return func(oid types.OID) (any, error) {
		value, err := s.Get(oid)
		if err != nil {
			return nil, err
		}
		return value.Decode()
	}
}

// Setter returns a mib.Setter that validates content against the stored
// type before writing it.
func (s *Storage) Setter(objectType byte) mib.Setter {
	return func(oid types.OID, content []byte) error {
		if _, err := ber.DecodeValue(objectType, content); err != nil {
			return fmt.Errorf("invalid %s content for %s: %w", types.GetTypeName(objectType), oid, err)
		}
		return s.putContent(oid, objectType, content)
	}
}

// Register inserts every stored value into store and returns how many were
// added. OIDs already registered by another provider are skipped.
func (s *Storage) Register(store *mib.Store) (int, error) {
	values, err := s.List()
	if err != nil {
		return 0, err
	}

	added := 0
	for _, value := range values {
		err := store.Insert(value.OID, value.Type, s.Getter(), s.Setter(value.Type))
		if errors.Is(err, mib.ErrAlreadyRegistered) {
			s.logger.Warn("Stored value shadowed by existing registration", "oid", value.OID.String())
			continue
		}
		if err != nil {
			return added, fmt.Errorf("failed to register %s: %w", value.OID, err)
		}
		added++
	}
	return added, nil
}

// GetStats returns storage statistics
func (s *Storage) GetStats() (*StorageStats, error) {
	ctx, cancel := s.queryContext()
	defer cancel()

	stats := &StorageStats{}
	var lastUpdate sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(updated_at) FROM mib_values").Scan(&stats.TotalValues, &lastUpdate)
	if err != nil {
		return nil, fmt.Errorf("failed to get value count: %w", err)
	}
	if lastUpdate.Valid {
		if t, err := parseTimestamp(lastUpdate.String); err == nil {
			stats.LastUpdate = &t
		}
	}

	s.mu.Lock()
	stats.Reads = s.reads
	stats.Writes = s.writes
	s.mu.Unlock()
	return stats, nil
}

// parseTimestamp parses the text form go-sqlite3 gives aggregates over
// DATETIME columns.
func parseTimestamp(text string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", text)
}

// Close closes the database connection.
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
