package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	h, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if h.Pool != nil {
		t.Error("memory handle should not carry a pool")
	}
	_ = h.Close()

	h, err = Open(ctx, Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "l.db")})
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	if err := h.Backend.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := h.Backend.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = h.Close()

	if _, err := Open(ctx, Config{Driver: "redis"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
