package config

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Runtime setting keys. Values are stored as strings and parsed on read.
const (
	SettingMultiModelEnabled = "multi_model.enabled"
	SettingSliderThreshold   = "multi_model.slider_threshold"
	SettingDefaultModel      = "multi_model.default_model"
	SettingPipelineMaxRounds = "pipeline.max_rounds"
)

// RuntimeStore overlays admin-managed settings persisted in SQLite on top of
// a base Store. Keys that are absent fall through to the base, so the
// tri-state semantics of MultiModelConfig.Enabled survive: no row means
// "defer to the slider threshold".
type RuntimeStore struct {
	base Store
	db   *sql.DB
}

// NewRuntimeStore opens (and if needed initializes) the settings database.
func NewRuntimeStore(path string, base Store) (*RuntimeStore, error) {
	if path == "" {
		return nil, fmt.Errorf("runtime store: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runtime store: open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("runtime store: init schema: %w", err)
	}

	return &RuntimeStore{base: base, db: db}, nil
}

// Set writes one setting, replacing any previous value.
func (s *RuntimeStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

// Unset removes a setting so reads fall through to the base config again.
func (s *RuntimeStore) Unset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}

// Close releases the database handle.
func (s *RuntimeStore) Close() error {
	return s.db.Close()
}

func (s *RuntimeStore) settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("runtime store: read settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (s *RuntimeStore) PipelineConfig(ctx context.Context) (PipelineConfig, error) {
	cfg, err := s.base.PipelineConfig(ctx)
	if err != nil {
		return PipelineConfig{}, err
	}
	settings, err := s.settings(ctx)
	if err != nil {
		return PipelineConfig{}, err
	}

	if raw, ok := settings[SettingPipelineMaxRounds]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxRounds = n
		}
	}
	return cfg, nil
}

func (s *RuntimeStore) MultiModelConfig(ctx context.Context) (MultiModelConfig, error) {
	cfg, err := s.base.MultiModelConfig(ctx)
	if err != nil {
		return MultiModelConfig{}, err
	}
	settings, err := s.settings(ctx)
	if err != nil {
		return MultiModelConfig{}, err
	}

	if raw, ok := settings[SettingMultiModelEnabled]; ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			cfg.Enabled = &v
		}
	}
	if raw, ok := settings[SettingSliderThreshold]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 10 {
			cfg.SliderThreshold = n
		}
	}
	if raw, ok := settings[SettingDefaultModel]; ok && strings.TrimSpace(raw) != "" {
		cfg.DefaultModel = strings.TrimSpace(raw)
	}
	return cfg, nil
}
