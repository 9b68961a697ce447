package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/config"
	"github.com/tbourn/go-publish-agent/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_SetsPragmas_Pool_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var (
		journalMode string
		fkOn        int
		busyMS      int
	)
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if err := db.Raw("PRAGMA foreign_keys;").Row().Scan(&fkOn); err != nil || fkOn != 1 {
		t.Fatalf("expected foreign_keys=1, got %d (%v)", fkOn, err)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busyMS); err != nil || busyMS != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d (%v)", busyMS, err)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.Form{}, &domain.RecipientGroup{}, &domain.Recipient{}, &domain.Notification{}, &domain.PublicationAudit{}, &domain.Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	now := time.Now().UTC()
	f := &domain.Form{ID: "f1", Name: "Intake", Data: datatypes.JSON(`{"metadata":{"formName":"Intake"}}`), CreatedAt: now, UpdatedAt: now}
	if err := db.Create(f).Error; err != nil {
		t.Fatalf("insert form: %v", err)
	}
}

func TestOpen_SQLiteWithTracingPlugin(t *testing.T) {
	db, err := Open(config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.DBConfig{Driver: "mongo"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite

type lineRecorder struct{ lines []string }

func (r *lineRecorder) Printf(format string, args ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestGormLogger_SkipsRecordNotFound(t *testing.T) {
	rec := &lineRecorder{}
	db := newRepoDB(t, &domain.Form{}).Session(&gorm.Session{Logger: newGormLogger(rec)})

	// both id spellings miss
	if _, err := GetForm(context.Background(), db, "64F1C2A9B3E4D5F6A7B8C9D0"); err == nil {
		t.Fatalf("expected not found")
	}
	if len(rec.lines) != 0 {
		t.Fatalf("missing rows should not be logged: %q", rec.lines)
	}

	// real SQL errors still are
	_ = db.Exec("SELECT * FROM no_such_table").Error
	if len(rec.lines) == 0 || !strings.Contains(strings.Join(rec.lines, "\n"), "no_such_table") {
		t.Fatalf("expected an error line, got %q", rec.lines)
	}
}
