package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ArchivedSnapshot is one raw feed record kept in the local archive.
type ArchivedSnapshot struct {
	ID           int64
	FetchedAt    time.Time
	FlightNumber string
	AirlineIATA  string
	Status       string
	RawJSON      string
}

// Archive is a local SQLite store of raw snapshots as fetched from the live
// feed, kept for replay and debugging independently of the relational store.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens or creates a snapshot archive at the given path. An empty
// path or ":memory:" uses an in-memory database.
func OpenArchive(path string) (*Archive, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			fetched_at    TEXT NOT NULL,
			flight_number TEXT,
			airline_iata  TEXT,
			status        TEXT,
			raw_json      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_flight ON snapshots(flight_number);
		CREATE INDEX IF NOT EXISTS idx_snapshots_fetched ON snapshots(fetched_at);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Append stores one raw snapshot.
func (a *Archive) Append(s ArchivedSnapshot) (int64, error) {
	res, err := a.db.Exec(`
		INSERT INTO snapshots (fetched_at, flight_number, airline_iata, status, raw_json)
		VALUES (?, ?, ?, ?, ?)
	`, s.FetchedAt.UTC().Format(time.RFC3339Nano), s.FlightNumber, s.AirlineIATA, s.Status, s.RawJSON)
	if err != nil {
		return 0, fmt.Errorf("append snapshot: %w", err)
	}
	return res.LastInsertId()
}

// ByFlightNumber retrieves archived snapshots for a flight number, newest
// first, up to limit rows.
func (a *Archive) ByFlightNumber(number string, limit int) ([]ArchivedSnapshot, error) {
	rows, err := a.db.Query(`
		SELECT id, fetched_at, flight_number, airline_iata, status, raw_json
		FROM snapshots
		WHERE flight_number = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?
	`, number, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArchived(rows)
}

// Recent retrieves the most recently fetched snapshots, newest first.
func (a *Archive) Recent(limit int) ([]ArchivedSnapshot, error) {
	rows, err := a.db.Query(`
		SELECT id, fetched_at, flight_number, airline_iata, status, raw_json
		FROM snapshots
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArchived(rows)
}

// Count returns the number of archived snapshots.
func (a *Archive) Count() (int64, error) {
	var n int64
	err := a.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

func scanArchived(rows *sql.Rows) ([]ArchivedSnapshot, error) {
	var snapshots []ArchivedSnapshot
	for rows.Next() {
		var s ArchivedSnapshot
		var fetched string
		if err := rows.Scan(&s.ID, &fetched, &s.FlightNumber, &s.AirlineIATA, &s.Status, &s.RawJSON); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, fetched); err == nil {
			s.FetchedAt = t
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
