package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	_ "modernc.org/sqlite"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	applied, err := Run(ctx, db)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if diff := cmp.Diff([]int64{1}, applied); diff != "" {
		t.Errorf("applied versions mismatch (-want +got):\n%s", diff)
	}

	applied, err = Run(ctx, db)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if diff := cmp.Diff([]int64(nil), applied, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("second run applied versions (-want +got):\n%s", diff)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES ('rules', '{}')`); err != nil {
		t.Fatalf("insert into kv: %v", err)
	}
	var updatedAt string
	if err := db.QueryRowContext(ctx, `SELECT updated_at FROM kv WHERE key = 'rules'`).Scan(&updatedAt); err != nil {
		t.Fatalf("select: %v", err)
	}
	if updatedAt == "" {
		t.Error("updated_at default not applied")
	}
}
