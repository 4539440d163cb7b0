// Package store persists pair configuration/runtime and app-wide state to
// Postgres, so a restart resumes every running pair where it left off.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
)

var jsonc = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrPairNotFound is returned when a lookup or delete targets an unknown pair.
var ErrPairNotFound = errors.New("pair not found in state store")

// PairRow is one persisted pair: its strategy config and last runtime
// snapshot, both stored as opaque JSON so the store never needs to know the
// shape of models.StrategySettings/models.PairRuntime.
type PairRow struct {
	PairID      string
	ConfigJSON  json.RawMessage
	RuntimeJSON json.RawMessage
	UpdatedAt   time.Time
}

// Store wraps the Postgres connection used for state persistence.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB. The caller owns its lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the pairs_state and app_state tables if they don't
// already exist.
func (s *Store) InitSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pairs_state (
			pair_id      TEXT PRIMARY KEY,
			config_json  JSONB NOT NULL,
			runtime_json JSONB NOT NULL DEFAULT '{}',
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS app_state (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			data_json  JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// SavePairConfig upserts a pair's strategy config, leaving any existing
// runtime snapshot untouched.
func (s *Store) SavePairConfig(pairID string, config interface{}) error {
	data, err := jsonc.Marshal(config)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO pairs_state (pair_id, config_json, runtime_json, updated_at)
		VALUES ($1, $2, COALESCE((SELECT runtime_json FROM pairs_state WHERE pair_id = $1), '{}'), now())
		ON CONFLICT (pair_id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at  = now()`,
		strings.ToUpper(pairID), data)
	return err
}

// SavePairRuntime upserts a pair's runtime snapshot, leaving any existing
// config untouched.
func (s *Store) SavePairRuntime(pairID string, runtime interface{}) error {
	data, err := jsonc.Marshal(runtime)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO pairs_state (pair_id, config_json, runtime_json, updated_at)
		VALUES ($1, COALESCE((SELECT config_json FROM pairs_state WHERE pair_id = $1), '{}'), $2, now())
		ON CONFLICT (pair_id) DO UPDATE SET
			runtime_json = excluded.runtime_json,
			updated_at   = now()`,
		strings.ToUpper(pairID), data)
	return err
}

// LoadAllPairs returns every persisted pair row, for restoring workers on
// startup.
func (s *Store) LoadAllPairs() ([]PairRow, error) {
	rows, err := s.db.Query(`SELECT pair_id, config_json, runtime_json, updated_at FROM pairs_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PairRow
	for rows.Next() {
		var row PairRow
		if err := rows.Scan(&row.PairID, &row.ConfigJSON, &row.RuntimeJSON, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeletePair removes a pair's persisted state entirely.
func (s *Store) DeletePair(pairID string) error {
	result, err := s.db.Exec(`DELETE FROM pairs_state WHERE pair_id = $1`, strings.ToUpper(pairID))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPairNotFound
	}
	return nil
}

// SaveAppState upserts the single global app-state row (credentials,
// auto-resume flag, etc).
func (s *Store) SaveAppState(state interface{}) error {
	data, err := jsonc.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO app_state (id, data_json, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			data_json  = excluded.data_json,
			updated_at = now()`,
		data)
	return err
}

// LoadAppState returns the persisted app-state JSON, or nil if none exists yet.
func (s *Store) LoadAppState() (json.RawMessage, error) {
	var data json.RawMessage
	err := s.db.QueryRow(`SELECT data_json FROM app_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}
