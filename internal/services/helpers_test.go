package services

import (
	"sync"
	"testing"
	"time"

	"github.com/jaredcannon/device-metrics-hub/internal/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database for testing
// This is a shared helper used by all test files in the services package
func setupTestDB(t *testing.T) *gorm.DB {
	gdb, err := db.Open(db.DriverSQLite, ":memory:", true)
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, db.Migrate(gdb), "Failed to run migrations")

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// fakeClock returns increasing timestamps one second apart
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// recorder captures broadcast events
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) broadcast(channel, event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, channel+"/"+event)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
