package addresscache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotCached is returned when no endpoint has been recorded for a lookup key.
var ErrNotCached = errors.New("addresscache: no cached value")

const (
	kindAddress = "address"
	kindPort    = "port"
)

// Store reads and writes cached endpoints for one device in the
// resolved_addresses table.
type Store struct {
	db     *sql.DB
	device string
	now    func() time.Time
}

// New returns a Store scoped to device.
func New(db *sql.DB, device string) *Store {
	return &Store{db: db, device: device, now: time.Now}
}

// SaveResolvedAddress records that host last resolved to address.
func (s *Store) SaveResolvedAddress(ctx context.Context, host, address string) error {
	return s.save(ctx, kindAddress, host, address)
}

// SaveResolvedPort records that the controller with USB serial number
// deviceSerial was last found on port.
func (s *Store) SaveResolvedPort(ctx context.Context, deviceSerial, port string) error {
	return s.save(ctx, kindPort, deviceSerial, port)
}

// ResolvedAddress returns the cached address for host.
// A cached entry recorded for a different hostname is not returned.
func (s *Store) ResolvedAddress(ctx context.Context, host string) (string, error) {
	return s.lookup(ctx, kindAddress, host)
}

// ResolvedPort returns the cached device node for a USB serial number.
func (s *Store) ResolvedPort(ctx context.Context, deviceSerial string) (string, error) {
	return s.lookup(ctx, kindPort, deviceSerial)
}

func (s *Store) save(ctx context.Context, kind, key, value string) error {
	const query = `INSERT INTO resolved_addresses (device, kind, lookup_key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (device, kind) DO UPDATE SET
			lookup_key = excluded.lookup_key,
			value = excluded.value,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		s.device, kind, key, value, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving resolved %s for %s: %w", kind, s.device, err)
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, kind, key string) (string, error) {
	const query = `SELECT value FROM resolved_addresses
		WHERE device = ? AND kind = ? AND lookup_key = ?`
	var value string
	err := s.db.QueryRowContext(ctx, query, s.device, kind, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotCached
	}
	if err != nil {
		return "", fmt.Errorf("reading resolved %s for %s: %w", kind, s.device, err)
	}
	return value, nil
}
