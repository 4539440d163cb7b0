// Package integration contains integration tests for the DCA trading engine.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle through manager/worker
// - WebSocket tests: connection, broadcast messaging
// - Database tests: schema init, round-trip persistence
//
// The files carry no build tag, so a plain go test runs them; tests that need
// Postgres skip themselves when the database is unreachable.
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"dcaengine/internal/api"
	"dcaengine/internal/feed"
	"dcaengine/internal/manager"
	"dcaengine/internal/store"
	"dcaengine/internal/websocket"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB      *sql.DB
	Router  *mux.Router
	Server  *httptest.Server
	Hub     *websocket.Hub
	Mgr     *manager.Manager
	Cleanup func()
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "dcaengine_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	config := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.DBHost, config.DBPort, config.DBUser, config.DBPassword, config.DBName, config.DBSSLMode,
	)

	db, err := sql.Open(config.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// SetupTestServer wires a Manager backed by a real (test) Postgres instance
// and the full operator HTTP surface behind an httptest.Server.
func SetupTestServer(t *testing.T) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	st := store.New(db)
	if err := st.InitSchema(); err != nil {
		t.Skipf("Skipping integration test: cannot init schema: %v", err)
		return nil
	}

	hub := websocket.NewHub()
	go hub.Run()

	priceFeed := feed.New()

	mgr := manager.New(st, hub, priceFeed, manager.Config{
		RuntimeSaveDebounce: 50 * time.Millisecond,
		EncryptionKey:       []byte("test-encryption-key-32-bytes!!!"),
	})

	router := api.SetupRoutes(&api.Dependencies{Mgr: mgr, Hub: hub})
	server := httptest.NewServer(router)

	cleanup := func() {
		server.Close()
		cleanupTestTables(db)
		dbCleanup()
	}

	return &TestServer{
		DB:      db,
		Router:  router,
		Server:  server,
		Hub:     hub,
		Mgr:     mgr,
		Cleanup: cleanup,
	}
}

// cleanupTestTables truncates all test tables
func cleanupTestTables(db *sql.DB) {
	for _, table := range []string{"pairs_state", "app_state"} {
		db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
	}
}

// TruncateTable truncates a specific table for testing
func TruncateTable(db *sql.DB, tableName string) error {
	_, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", tableName))
	return err
}
