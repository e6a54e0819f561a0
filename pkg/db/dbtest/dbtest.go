// Package dbtest opens isolated SQLite databases for package tests.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/flable/flable-backend/pkg/db"
)

// New returns a client on a fresh in-memory database with the schema applied.
func New(t testing.TB) *db.Client {
	t.Helper()
	ctx := context.Background()
	client, err := db.NewSQLite(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.ApplySQLiteSchema(ctx, client.DB()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
