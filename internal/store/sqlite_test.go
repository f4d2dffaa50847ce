package store

import (
	"path/filepath"
	"testing"

	"omnix-trader/internal/config"
)

func TestNewSQLite_InMemorySharesSchema(t *testing.T) {
	// MaxOpenConns 故意给大值：内存模式必须被收敛到单连接，
	// 否则后续语句可能落到没有表结构的新连接上
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 8})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer func() { _ = s.Close() }()

	db := s.DB()
	if _, err := db.Exec(`CREATE TABLE scratch_rows (id INTEGER PRIMARY KEY, note TEXT)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := db.Exec(`INSERT INTO scratch_rows (note) VALUES (?)`, "fila"); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM scratch_rows`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 10 {
		t.Errorf("expected 10 rows, got %d", count)
	}
}

func TestNewSQLite_CreatesFileAndDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "omnix.db")

	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer func() { _ = s.Close() }()

	var mode string
	if err := s.DB().QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("read journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode for file database, got %q", mode)
	}
}
