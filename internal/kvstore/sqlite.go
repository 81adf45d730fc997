package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	dbmodel "echodesk/cli/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SQLiteStore struct {
	db        *gorm.DB
	namespace string
	ownsDB    bool
}

// OpenSQLiteStore opens (and migrates) the sqlite file at dsn. The returned
// store owns the connection and closes it on Close.
func OpenSQLiteStore(dsn, namespace string) (*SQLiteStore, error) {
	gdb, err := dbmodel.OpenSQLiteWithMigrations(dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(gdb, namespace)
	if err != nil {
		_ = dbmodel.Close(gdb)
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteStore wraps an already migrated db. Caller keeps ownership of db.
func NewSQLiteStore(gdb *gorm.DB, namespace string) (*SQLiteStore, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &SQLiteStore{db: gdb, namespace: normalizeNamespace(namespace)}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	var row dbmodel.KVRecord
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", s.namespace, key).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if row.ValueJSON == "" {
		return nil, false, nil
	}
	return []byte(row.ValueJSON), true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	row := dbmodel.KVRecord{
		Namespace:     s.namespace,
		Key:           key,
		ValueJSON:     string(value),
		SchemaVersion: documentVersion(value),
		UpdatedAt:     time.Now().UTC().UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value_json":     row.ValueJSON,
			"schema_version": row.SchemaVersion,
			"updated_at":     row.UpdatedAt,
		}),
	}).Create(&row).Error
}

func (s *SQLiteStore) Close() error {
	if s == nil || !s.ownsDB {
		return nil
	}
	return dbmodel.Close(s.db)
}

// documentVersion reads a top-level "version" field without decoding the rest.
func documentVersion(raw []byte) int {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0
	}
	return probe.Version
}
