// Package integration contains integration tests for the DCA trading engine.
//
// Database Integration Tests
// These exercise internal/store.Store against a real Postgres connection:
// - Schema creation and column shape
// - Upsert/COALESCE-preserving round trips through the store's public API
// - Concurrent access and connection pool behavior
//
// internal/store/store_test.go already covers the store's SQL statements
// with go-sqlmock; these tests instead verify the statements actually run
// correctly against Postgres (COALESCE preserving the untouched column,
// real upsert semantics, concurrent writers), which sqlmock can't catch.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"dcaengine/internal/store"
)

// ============================================================
// Database Schema Tests
// ============================================================

func TestDatabase_SchemaCreation_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	st := store.New(db)
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	for _, table := range []string{"pairs_state", "app_state"} {
		t.Run("table_"+table+"_exists", func(t *testing.T) {
			var exists bool
			err := db.QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_name = $1
				)
			`, table).Scan(&exists)

			if err != nil {
				t.Fatalf("failed to check table existence: %v", err)
			}
			if !exists {
				t.Errorf("table %s does not exist", table)
			}
		})
	}
}

func TestDatabase_SchemaColumns_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	st := store.New(db)
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	t.Run("pairs_state table has required columns", func(t *testing.T) {
		checkTableColumns(t, db, "pairs_state", []string{"pair_id", "config_json", "runtime_json", "updated_at"})
	})

	t.Run("app_state table has required columns", func(t *testing.T) {
		checkTableColumns(t, db, "app_state", []string{"id", "data_json", "updated_at"})
	})
}

func checkTableColumns(t *testing.T, db *sql.DB, tableName string, requiredColumns []string) {
	for _, col := range requiredColumns {
		var exists bool
		err := db.QueryRow(`
			SELECT EXISTS (
				SELECT FROM information_schema.columns
				WHERE table_name = $1 AND column_name = $2
			)
		`, tableName, col).Scan(&exists)

		if err != nil {
			t.Fatalf("failed to check column %s.%s: %v", tableName, col, err)
		}
		if !exists {
			t.Errorf("column %s.%s does not exist", tableName, col)
		}
	}
}

func TestDatabase_MigrationIdempotency_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	st := store.New(db)

	if err := st.InitSchema(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := st.InitSchema(); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
}

// ============================================================
// Store Round-Trip Integration Tests
// ============================================================

func TestDatabase_PairConfigAndRuntime_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	st := store.New(db)
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	TruncateTable(db, "pairs_state")

	t.Run("save config then runtime preserves both", func(t *testing.T) {
		if err := st.SavePairConfig("btcusdt", map[string]string{"mode": "Spot"}); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}
		if err := st.SavePairRuntime("BTCUSDT", map[string]bool{"is_running": true}); err != nil {
			t.Fatalf("failed to save runtime: %v", err)
		}

		rows, err := st.LoadAllPairs()
		if err != nil {
			t.Fatalf("failed to load pairs: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected 1 pair row, got %d", len(rows))
		}

		row := rows[0]
		if row.PairID != "BTCUSDT" {
			t.Errorf("expected pair_id BTCUSDT, got %s", row.PairID)
		}

		var config map[string]string
		if err := json.Unmarshal(row.ConfigJSON, &config); err != nil {
			t.Fatalf("failed to unmarshal config: %v", err)
		}
		if config["mode"] != "Spot" {
			t.Errorf("expected config to survive the later runtime save, got %+v", config)
		}

		var runtime map[string]bool
		if err := json.Unmarshal(row.RuntimeJSON, &runtime); err != nil {
			t.Fatalf("failed to unmarshal runtime: %v", err)
		}
		if !runtime["is_running"] {
			t.Errorf("expected runtime is_running true, got %+v", runtime)
		}
	})

	t.Run("saving runtime again does not clobber config", func(t *testing.T) {
		if err := st.SavePairRuntime("BTCUSDT", map[string]bool{"is_running": false}); err != nil {
			t.Fatalf("failed to save runtime: %v", err)
		}

		rows, _ := st.LoadAllPairs()
		if len(rows) != 1 {
			t.Fatalf("expected 1 pair row, got %d", len(rows))
		}
		var config map[string]string
		json.Unmarshal(rows[0].ConfigJSON, &config)
		if config["mode"] != "Spot" {
			t.Errorf("config should still be Spot after a runtime-only save, got %+v", config)
		}
	})

	t.Run("delete pair", func(t *testing.T) {
		if err := st.DeletePair("BTCUSDT"); err != nil {
			t.Fatalf("failed to delete pair: %v", err)
		}

		rows, _ := st.LoadAllPairs()
		if len(rows) != 0 {
			t.Errorf("expected 0 pair rows after delete, got %d", len(rows))
		}
	})

	t.Run("delete missing pair returns ErrPairNotFound", func(t *testing.T) {
		err := st.DeletePair("NOSUCHPAIR")
		if err != store.ErrPairNotFound {
			t.Errorf("expected ErrPairNotFound, got %v", err)
		}
	})
}

func TestDatabase_AppState_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	st := store.New(db)
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	TruncateTable(db, "app_state")

	t.Run("load before save returns nil", func(t *testing.T) {
		data, err := st.LoadAppState()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if data != nil {
			t.Errorf("expected nil app state before any save, got %s", data)
		}
	})

	t.Run("save then load round trips", func(t *testing.T) {
		if err := st.SaveAppState(map[string]bool{"auto_resume_running_pairs": true}); err != nil {
			t.Fatalf("failed to save app state: %v", err)
		}

		data, err := st.LoadAppState()
		if err != nil {
			t.Fatalf("failed to load app state: %v", err)
		}
		var decoded map[string]bool
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("failed to unmarshal app state: %v", err)
		}
		if !decoded["auto_resume_running_pairs"] {
			t.Error("expected auto_resume_running_pairs to be true")
		}
	})

	t.Run("saving again overwrites the prior state", func(t *testing.T) {
		if err := st.SaveAppState(map[string]bool{"auto_resume_running_pairs": false}); err != nil {
			t.Fatalf("failed to save app state: %v", err)
		}

		data, _ := st.LoadAppState()
		var decoded map[string]bool
		json.Unmarshal(data, &decoded)
		if decoded["auto_resume_running_pairs"] {
			t.Error("expected auto_resume_running_pairs to be overwritten to false")
		}
	})
}

// ============================================================
// Concurrent Access Tests
// ============================================================

func TestDatabase_ConcurrentPairWrites_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	st := store.New(db)
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	TruncateTable(db, "pairs_state")

	const numGoroutines = 10
	var wg sync.WaitGroup
	errors := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			symbol := "PAIR" + string(rune('A'+idx))
			if err := st.SavePairConfig(symbol, map[string]int{"idx": idx}); err != nil {
				errors <- err
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Errorf("concurrent write error: %v", err)
	}

	rows, err := st.LoadAllPairs()
	if err != nil {
		t.Fatalf("failed to load pairs: %v", err)
	}
	if len(rows) != numGoroutines {
		t.Errorf("expected %d pair rows, got %d", numGoroutines, len(rows))
	}
}

// ============================================================
// Connection Pool Tests
// ============================================================

func TestDatabase_ConnectionPool_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	t.Run("connection pool handles load", func(t *testing.T) {
		const concurrentConnections = 10

		var wg sync.WaitGroup
		for i := 0; i < concurrentConnections; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var result int
				db.QueryRow(`SELECT 1`).Scan(&result)
			}()
		}
		wg.Wait()

		stats := db.Stats()
		t.Logf("Connection pool stats: Open=%d, InUse=%d, Idle=%d",
			stats.OpenConnections, stats.InUse, stats.Idle)
	})
}

// ============================================================
// Performance Tests
// ============================================================

func TestDatabase_BulkInsert_Integration(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	if db == nil {
		t.Skip("Skipping: database not available")
	}
	defer cleanup()

	st := store.New(db)
	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	TruncateTable(db, "pairs_state")

	t.Run("bulk insert performance", func(t *testing.T) {
		const insertCount = 100

		start := time.Now()
		for i := 0; i < insertCount; i++ {
			symbol := "BULK" + string(rune('A'+i%26)) + string(rune('0'+i/26))
			if err := st.SavePairConfig(symbol, map[string]int{"i": i}); err != nil {
				t.Fatalf("failed to save: %v", err)
			}
		}
		duration := time.Since(start)

		if duration > 5*time.Second {
			t.Errorf("bulk insert took too long: %v", duration)
		}
		t.Logf("Inserted %d rows in %v (%.2f rows/sec)", insertCount, duration, float64(insertCount)/duration.Seconds())
	})
}
