package addresscache

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/brewbridge/internal/infrastructure/config"
	"github.com/nerrad567/brewbridge/internal/infrastructure/database"
	"github.com/nerrad567/brewbridge/migrations"
)

func setupStore(t *testing.T, device string) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "cache.db"),
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db.DB, device)
}

func TestStore_AddressRoundTrip(t *testing.T) {
	s := setupStore(t, "fermenter")
	ctx := context.Background()

	if _, err := s.ResolvedAddress(ctx, "brewpi.local"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("ResolvedAddress() on empty cache error = %v, want ErrNotCached", err)
	}

	if err := s.SaveResolvedAddress(ctx, "brewpi.local", "192.168.1.40"); err != nil {
		t.Fatalf("SaveResolvedAddress() error = %v", err)
	}
	got, err := s.ResolvedAddress(ctx, "brewpi.local")
	if err != nil {
		t.Fatalf("ResolvedAddress() error = %v", err)
	}
	if got != "192.168.1.40" {
		t.Errorf("ResolvedAddress() = %q, want 192.168.1.40", got)
	}

	// A newer resolution replaces the old one.
	if err := s.SaveResolvedAddress(ctx, "brewpi.local", "192.168.1.41"); err != nil {
		t.Fatalf("SaveResolvedAddress() error = %v", err)
	}
	if got, _ := s.ResolvedAddress(ctx, "brewpi.local"); got != "192.168.1.41" {
		t.Errorf("ResolvedAddress() after update = %q, want 192.168.1.41", got)
	}
}

func TestStore_AddressForOtherHostNotReturned(t *testing.T) {
	s := setupStore(t, "fermenter")
	ctx := context.Background()

	if err := s.SaveResolvedAddress(ctx, "old-name.local", "10.0.0.9"); err != nil {
		t.Fatalf("SaveResolvedAddress() error = %v", err)
	}
	if _, err := s.ResolvedAddress(ctx, "new-name.local"); !errors.Is(err, ErrNotCached) {
		t.Errorf("ResolvedAddress() for renamed host error = %v, want ErrNotCached", err)
	}
}

func TestStore_PortRoundTrip(t *testing.T) {
	s := setupStore(t, "fermenter")
	ctx := context.Background()

	if err := s.SaveResolvedPort(ctx, "85739323834351F0A1C1", "/dev/ttyACM1"); err != nil {
		t.Fatalf("SaveResolvedPort() error = %v", err)
	}
	got, err := s.ResolvedPort(ctx, "85739323834351F0A1C1")
	if err != nil {
		t.Fatalf("ResolvedPort() error = %v", err)
	}
	if got != "/dev/ttyACM1" {
		t.Errorf("ResolvedPort() = %q, want /dev/ttyACM1", got)
	}

	// Ports and addresses live side by side.
	if _, err := s.ResolvedAddress(ctx, "85739323834351F0A1C1"); !errors.Is(err, ErrNotCached) {
		t.Errorf("ResolvedAddress() error = %v, want ErrNotCached", err)
	}
}

func TestStore_DevicesAreIsolated(t *testing.T) {
	a := setupStore(t, "left")
	b := New(a.db, "right")
	ctx := context.Background()

	if err := a.SaveResolvedAddress(ctx, "host", "10.0.0.1"); err != nil {
		t.Fatalf("SaveResolvedAddress() error = %v", err)
	}
	if _, err := b.ResolvedAddress(ctx, "host"); !errors.Is(err, ErrNotCached) {
		t.Errorf("other device ResolvedAddress() error = %v, want ErrNotCached", err)
	}
}

func TestStore_SaveError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO resolved_addresses")).
		WithArgs("fermenter", "address", "brewpi.local", "10.0.0.2", "2026-03-01T12:00:00Z").
		WillReturnError(errors.New("disk I/O error"))

	s := New(db, "fermenter")
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	if err := s.SaveResolvedAddress(context.Background(), "brewpi.local", "10.0.0.2"); err == nil {
		t.Error("SaveResolvedAddress() expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_LookupError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM resolved_addresses")).
		WithArgs("fermenter", "port", "ABC").
		WillReturnError(errors.New("database is locked"))

	s := New(db, "fermenter")
	_, err = s.ResolvedPort(context.Background(), "ABC")
	if err == nil || errors.Is(err, ErrNotCached) {
		t.Errorf("ResolvedPort() error = %v, want wrapped driver error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
