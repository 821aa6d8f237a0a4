package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository loads fermentation profiles.
type Repository interface {
	Get(ctx context.Context, id int64) (*Profile, error)
	Create(ctx context.Context, p *Profile) error
}

// SQLiteRepository implements Repository on the profiles and
// profile_points tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed profile repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns the profile with its points in schedule order.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Profile, error) {
	p := &Profile{ID: id}
	var unit string
	err := r.db.QueryRowContext(ctx,
		`SELECT name, temp_format FROM profiles WHERE id = ?`, id).Scan(&p.Name, &unit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile %d: %w", id, err)
	}
	p.Unit = Unit(unit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT ttl_seconds, temperature, unit FROM profile_points
		WHERE profile_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("reading points of profile %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var secs int64
		var unit sql.NullString
		var pt Point
		if err := rows.Scan(&secs, &pt.Temperature, &unit); err != nil {
			return nil, fmt.Errorf("scanning point of profile %d: %w", id, err)
		}
		pt.TTL = time.Duration(secs) * time.Second
		pt.Unit = Unit(unit.String)
		p.Points = append(p.Points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating points of profile %d: %w", id, err)
	}
	return p, nil
}

// Create validates p and inserts it with its points in one transaction.
// On success p.ID holds the new row id.
func (r *SQLiteRepository) Create(ctx context.Context, p *Profile) error {
	if err := Validate(*p); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	res, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (name, temp_format) VALUES (?, ?)`, p.Name, string(p.Unit))
	if err != nil {
		return fmt.Errorf("inserting profile %q: %w", p.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading profile id: %w", err)
	}

	for i, pt := range p.Points {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profile_points (profile_id, seq, ttl_seconds, temperature, unit) VALUES (?, ?, ?, ?, ?)`,
			id, i, int64(pt.TTL/time.Second), pt.Temperature, pointUnit(pt)); err != nil {
			return fmt.Errorf("inserting point %d of profile %q: %w", i, p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing profile %q: %w", p.Name, err)
	}
	p.ID = id
	return nil
}

// pointUnit stores an inherited unit as NULL.
func pointUnit(pt Point) any {
	if pt.Unit == "" {
		return nil
	}
	return string(pt.Unit)
}
