package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/stable-scheduler/internal/persistence/sqlstore"
)

// NewSQLStore opens a migrated SQLite store in a temporary directory. The store
// is closed when tb finishes.
func NewSQLStore(tb testing.TB, loc *time.Location) *sqlstore.Store {
	tb.Helper()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(tb.TempDir(), "stable.db")
	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, dsn, sqlstore.Options{Location: loc})
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		tb.Fatalf("failed to migrate store: %v", err)
	}
	return store
}
