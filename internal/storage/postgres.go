// Package storage provides persistent storage for flight monitoring data:
// PostgreSQL for airlines, airports, flights, and status history; SQLite for
// the local raw-snapshot archive; ClickHouse for the optional analytics sink.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict wraps a uniqueness-constraint violation. Racing create-if-missing
// inserts surface as this error so callers can retry instead of silently
// duplicating rows.
var ErrConflict = errors.New("conflicting concurrent write")

// FlightStatuses is the closed set of valid flight status values, seeded into
// the flight_status table at schema creation.
var FlightStatuses = []string{"SCHEDULED", "ACTIVE", "LANDED", "CANCELLED", "DIVERTED", "DELAYED"}

// ValidStatus reports whether s is a member of the closed status set.
func ValidStatus(s string) bool {
	for _, v := range FlightStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB wraps a PostgreSQL connection pool for flight data storage.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// CreateSchema creates the PostgreSQL tables and seeds the status set.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	-- Closed set of valid flight statuses.
	CREATE TABLE IF NOT EXISTS flight_status (
		status          TEXT PRIMARY KEY
	);

	-- Airports are write-once: created on first sighting, never updated.
	CREATE TABLE IF NOT EXISTS airports (
		iata_code       CHAR(3) PRIMARY KEY,
		icao_code       TEXT UNIQUE,
		name            TEXT NOT NULL,
		city            TEXT NOT NULL,
		country         TEXT NOT NULL,
		latitude        DOUBLE PRECISION,
		longitude       DOUBLE PRECISION,
		timezone        TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_airports_country ON airports(country);

	CREATE TABLE IF NOT EXISTS airlines (
		airline_id      SERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		iata_code       TEXT UNIQUE,
		icao_code       TEXT UNIQUE,
		country         TEXT,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS flights (
		flight_id             SERIAL PRIMARY KEY,
		flight_number         TEXT NOT NULL,
		airline_id            INTEGER NOT NULL REFERENCES airlines(airline_id),
		departure_airport     CHAR(3) NOT NULL REFERENCES airports(iata_code),
		arrival_airport       CHAR(3) NOT NULL REFERENCES airports(iata_code),
		scheduled_departure   TIMESTAMPTZ NOT NULL,
		scheduled_arrival     TIMESTAMPTZ,
		actual_departure      TIMESTAMPTZ,
		actual_arrival        TIMESTAMPTZ,
		estimated_departure   TIMESTAMPTZ,
		estimated_arrival     TIMESTAMPTZ,
		status                TEXT NOT NULL REFERENCES flight_status(status),
		delay_minutes         INTEGER NOT NULL DEFAULT 0,
		aircraft_registration TEXT,
		aircraft_type         TEXT,
		UNIQUE(flight_number, scheduled_departure)
	);

	CREATE INDEX IF NOT EXISTS idx_flights_number ON flights(flight_number);
	CREATE INDEX IF NOT EXISTS idx_flights_status ON flights(status);
	CREATE INDEX IF NOT EXISTS idx_flights_departure ON flights(departure_airport, scheduled_departure);
	CREATE INDEX IF NOT EXISTS idx_flights_arrival ON flights(arrival_airport, scheduled_departure);

	-- Append-only status history. Rows are never mutated or deleted.
	CREATE TABLE IF NOT EXISTS flight_status_updates (
		update_id           SERIAL PRIMARY KEY,
		flight_id           INTEGER NOT NULL REFERENCES flights(flight_id),
		status              TEXT NOT NULL REFERENCES flight_status(status),
		status_update_time  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		actual_departure    TIMESTAMPTZ,
		estimated_departure TIMESTAMPTZ,
		delay_minutes       INTEGER,
		delay_reason        TEXT,
		departure_gate      TEXT,
		departure_terminal  TEXT,
		arrival_gate        TEXT,
		arrival_terminal    TEXT,
		baggage_claim       TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_status_updates_flight ON flight_status_updates(flight_id, status_update_time DESC);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Seed the closed status set.
	for _, status := range FlightStatuses {
		if _, err := d.pool.Exec(ctx, `
			INSERT INTO flight_status (status) VALUES ($1)
			ON CONFLICT (status) DO NOTHING
		`, status); err != nil {
			return fmt.Errorf("seed flight status %s: %w", status, err)
		}
	}

	return nil
}

// Airline represents an airline record.
type Airline struct {
	ID       int64
	Name     string
	IATACode *string
	ICAOCode *string
	Country  string
	Active   bool
}

// Airport represents an airport record.
type Airport struct {
	IATACode  string
	ICAOCode  *string
	Name      string
	City      string
	Country   string
	Latitude  *float64
	Longitude *float64
	Timezone  *string
}

// Flight represents a flight record.
type Flight struct {
	ID                 int64
	FlightNumber       string
	AirlineID          int64
	DepartureAirport   string
	ArrivalAirport     string
	ScheduledDeparture time.Time
	ScheduledArrival   *time.Time
	Status             string
	DelayMinutes       int
}

// StatusUpdate represents one immutable flight status history row.
type StatusUpdate struct {
	ID                 int64
	FlightID           int64
	Status             string
	UpdateTime         time.Time
	ActualDeparture    *time.Time
	EstimatedDeparture *time.Time
	DelayMinutes       *int
	DelayReason        *string
	DepartureGate      *string
	DepartureTerminal  *string
	ArrivalGate        *string
	ArrivalTerminal    *string
	BaggageClaim       *string
}

// FlightWithAirline is a flight joined with its airline name, the shape most
// list projections return.
type FlightWithAirline struct {
	Flight
	AirlineName string
}

// FlightDetail is a flight enriched with airline, airport names, and its most
// recent status update (nil when no update exists yet).
type FlightDetail struct {
	Flight
	AirlineName          string
	AirlineIATA          *string
	DepartureAirportName string
	ArrivalAirportName   string
	Latest               *StatusUpdate
}

// AirlineDelayStat is the per-airline delay aggregate.
type AirlineDelayStat struct {
	Airline      string
	AvgDelay     float64
	TotalFlights int
}

// wrapConflict maps Postgres unique violations onto ErrConflict.
func wrapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// IngestTx is one all-or-nothing snapshot ingestion transaction.
type IngestTx struct {
	tx pgx.Tx
}

// BeginIngest starts an ingestion transaction.
func (d *PostgresDB) BeginIngest(ctx context.Context) (*IngestTx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}
	return &IngestTx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *IngestTx) Commit(ctx context.Context) error {
	return wrapConflict(t.tx.Commit(ctx))
}

// Rollback rolls the transaction back. Safe to call after Commit.
func (t *IngestTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// AirlineByIATA looks an airline up by IATA code. Returns (nil, nil) when no
// airline matches.
func (t *IngestTx) AirlineByIATA(ctx context.Context, code string) (*Airline, error) {
	var a Airline
	err := t.tx.QueryRow(ctx, `
		SELECT airline_id, name, iata_code, icao_code, COALESCE(country, ''), active
		FROM airlines WHERE iata_code = $1
	`, code).Scan(&a.ID, &a.Name, &a.IATACode, &a.ICAOCode, &a.Country, &a.Active)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAirline inserts an airline, returning its surrogate id.
func (t *IngestTx) CreateAirline(ctx context.Context, a Airline) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO airlines (name, iata_code, icao_code, country, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING airline_id
	`, a.Name, a.IATACode, a.ICAOCode, a.Country, a.Active).Scan(&id)
	if err != nil {
		return 0, wrapConflict(err)
	}
	return id, nil
}

// AirportExists reports whether an airport with this IATA code exists.
func (t *IngestTx) AirportExists(ctx context.Context, iata string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM airports WHERE iata_code = $1)
	`, iata).Scan(&exists)
	return exists, err
}

// CreateAirport inserts a new airport. Airports are write-once; there is no
// update path.
func (t *IngestTx) CreateAirport(ctx context.Context, a Airport) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO airports (iata_code, icao_code, name, city, country, latitude, longitude, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.IATACode, a.ICAOCode, a.Name, a.City, a.Country, a.Latitude, a.Longitude, a.Timezone)
	return wrapConflict(err)
}

// FlightByNaturalKey looks a flight up by its deduplication key. Returns
// (nil, nil) when no flight matches.
func (t *IngestTx) FlightByNaturalKey(ctx context.Context, number string, scheduledDeparture time.Time) (*Flight, error) {
	var f Flight
	err := t.tx.QueryRow(ctx, `
		SELECT flight_id, flight_number, airline_id, departure_airport, arrival_airport,
		       scheduled_departure, scheduled_arrival, status, delay_minutes
		FROM flights
		WHERE flight_number = $1 AND scheduled_departure = $2
	`, number, scheduledDeparture).Scan(
		&f.ID, &f.FlightNumber, &f.AirlineID, &f.DepartureAirport, &f.ArrivalAirport,
		&f.ScheduledDeparture, &f.ScheduledArrival, &f.Status, &f.DelayMinutes)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFlight inserts a flight, returning its surrogate id.
func (t *IngestTx) CreateFlight(ctx context.Context, f Flight) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO flights (flight_number, airline_id, departure_airport, arrival_airport,
		                     scheduled_departure, scheduled_arrival, status, delay_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING flight_id
	`, f.FlightNumber, f.AirlineID, f.DepartureAirport, f.ArrivalAirport,
		f.ScheduledDeparture, f.ScheduledArrival, f.Status, f.DelayMinutes).Scan(&id)
	if err != nil {
		return 0, wrapConflict(err)
	}
	return id, nil
}

// AppendStatusUpdate appends one immutable status history row.
func (t *IngestTx) AppendStatusUpdate(ctx context.Context, u StatusUpdate) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO flight_status_updates (flight_id, status, status_update_time,
			actual_departure, estimated_departure, delay_minutes, delay_reason,
			departure_gate, departure_terminal, arrival_gate, arrival_terminal, baggage_claim)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.FlightID, u.Status, u.UpdateTime, u.ActualDeparture, u.EstimatedDeparture,
		u.DelayMinutes, u.DelayReason, u.DepartureGate, u.DepartureTerminal,
		u.ArrivalGate, u.ArrivalTerminal, u.BaggageClaim)
	return wrapConflict(err)
}

// UpdateFlightSummary keeps the denormalized flight status and delay in sync
// with the latest appended status update.
func (t *IngestTx) UpdateFlightSummary(ctx context.Context, flightID int64, status string, delayMinutes *int) error {
	if delayMinutes != nil {
		_, err := t.tx.Exec(ctx, `
			UPDATE flights SET status = $2, delay_minutes = $3 WHERE flight_id = $1
		`, flightID, status, *delayMinutes)
		return err
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE flights SET status = $2 WHERE flight_id = $1
	`, flightID, status)
	return err
}

// ListAirports retrieves all airports.
func (d *PostgresDB) ListAirports(ctx context.Context) ([]Airport, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT iata_code, icao_code, name, city, country, latitude, longitude, timezone
		FROM airports
		ORDER BY iata_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAirports(rows)
}

// AirportsByCountries retrieves airports whose country is in the given list.
func (d *PostgresDB) AirportsByCountries(ctx context.Context, countries []string) ([]Airport, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT iata_code, icao_code, name, city, country, latitude, longitude, timezone
		FROM airports
		WHERE country = ANY($1)
		ORDER BY iata_code
	`, countries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAirports(rows)
}

func scanAirports(rows pgx.Rows) ([]Airport, error) {
	var airports []Airport
	for rows.Next() {
		var a Airport
		if err := rows.Scan(&a.IATACode, &a.ICAOCode, &a.Name, &a.City, &a.Country,
			&a.Latitude, &a.Longitude, &a.Timezone); err != nil {
			return nil, err
		}
		airports = append(airports, a)
	}
	return airports, rows.Err()
}

const flightWithAirlineSelect = `
	SELECT f.flight_id, f.flight_number, f.airline_id, f.departure_airport, f.arrival_airport,
	       f.scheduled_departure, f.scheduled_arrival, f.status, f.delay_minutes, a.name
	FROM flights f
	JOIN airlines a ON a.airline_id = f.airline_id
`

func scanFlightsWithAirline(rows pgx.Rows) ([]FlightWithAirline, error) {
	var flights []FlightWithAirline
	for rows.Next() {
		var f FlightWithAirline
		if err := rows.Scan(&f.ID, &f.FlightNumber, &f.AirlineID, &f.DepartureAirport,
			&f.ArrivalAirport, &f.ScheduledDeparture, &f.ScheduledArrival,
			&f.Status, &f.DelayMinutes, &f.AirlineName); err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

// AirportFlights retrieves flights departing from or arriving at an airport on
// a calendar date. Comparison is by calendar date, not timestamp.
func (d *PostgresDB) AirportFlights(ctx context.Context, code string, date time.Time) ([]FlightWithAirline, error) {
	rows, err := d.pool.Query(ctx, flightWithAirlineSelect+`
		WHERE (f.departure_airport = $1 OR f.arrival_airport = $1)
		  AND f.scheduled_departure::date = $2::date
		ORDER BY f.scheduled_departure
	`, code, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFlightsWithAirline(rows)
}

// DelayedFlights retrieves flights delayed by at least minDelay minutes.
func (d *PostgresDB) DelayedFlights(ctx context.Context, minDelay int) ([]FlightWithAirline, error) {
	rows, err := d.pool.Query(ctx, flightWithAirlineSelect+`
		WHERE f.delay_minutes >= $1
		ORDER BY f.delay_minutes DESC
	`, minDelay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFlightsWithAirline(rows)
}

// ActiveFlights retrieves flights whose current status is ACTIVE.
func (d *PostgresDB) ActiveFlights(ctx context.Context) ([]FlightWithAirline, error) {
	rows, err := d.pool.Query(ctx, flightWithAirlineSelect+`
		WHERE f.status = 'ACTIVE'
		ORDER BY f.scheduled_departure
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFlightsWithAirline(rows)
}

// LatestFlightByNumber retrieves the most recent flight (by scheduled
// departure) matching a flight number. Returns (nil, nil) when none match.
func (d *PostgresDB) LatestFlightByNumber(ctx context.Context, number string) (*FlightWithAirline, error) {
	var f FlightWithAirline
	err := d.pool.QueryRow(ctx, flightWithAirlineSelect+`
		WHERE f.flight_number = $1
		ORDER BY f.scheduled_departure DESC
		LIMIT 1
	`, number).Scan(&f.ID, &f.FlightNumber, &f.AirlineID, &f.DepartureAirport,
		&f.ArrivalAirport, &f.ScheduledDeparture, &f.ScheduledArrival,
		&f.Status, &f.DelayMinutes, &f.AirlineName)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FlightDetail retrieves one flight by id with airline, airport names, and the
// most recent status update. Returns (nil, nil) when the id does not exist.
func (d *PostgresDB) FlightDetail(ctx context.Context, id int64) (*FlightDetail, error) {
	var fd FlightDetail
	err := d.pool.QueryRow(ctx, `
		SELECT f.flight_id, f.flight_number, f.airline_id, f.departure_airport, f.arrival_airport,
		       f.scheduled_departure, f.scheduled_arrival, f.status, f.delay_minutes,
		       a.name, a.iata_code, dep.name, arr.name
		FROM flights f
		JOIN airlines a ON a.airline_id = f.airline_id
		JOIN airports dep ON dep.iata_code = f.departure_airport
		JOIN airports arr ON arr.iata_code = f.arrival_airport
		WHERE f.flight_id = $1
	`, id).Scan(&fd.ID, &fd.FlightNumber, &fd.AirlineID, &fd.DepartureAirport,
		&fd.ArrivalAirport, &fd.ScheduledDeparture, &fd.ScheduledArrival,
		&fd.Status, &fd.DelayMinutes, &fd.AirlineName, &fd.AirlineIATA,
		&fd.DepartureAirportName, &fd.ArrivalAirportName)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	updates, err := d.flightStatusUpdates(ctx, id, 1)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		fd.Latest = &updates[0]
	}
	return &fd, nil
}

// FlightHistory retrieves all status updates for a flight, newest first.
func (d *PostgresDB) FlightHistory(ctx context.Context, flightID int64) ([]StatusUpdate, error) {
	return d.flightStatusUpdates(ctx, flightID, 0)
}

func (d *PostgresDB) flightStatusUpdates(ctx context.Context, flightID int64, limit int) ([]StatusUpdate, error) {
	query := `
		SELECT update_id, flight_id, status, status_update_time,
		       actual_departure, estimated_departure, delay_minutes, delay_reason,
		       departure_gate, departure_terminal, arrival_gate, arrival_terminal, baggage_claim
		FROM flight_status_updates
		WHERE flight_id = $1
		ORDER BY status_update_time DESC
	`
	args := []any{flightID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []StatusUpdate
	for rows.Next() {
		var u StatusUpdate
		if err := rows.Scan(&u.ID, &u.FlightID, &u.Status, &u.UpdateTime,
			&u.ActualDeparture, &u.EstimatedDeparture, &u.DelayMinutes, &u.DelayReason,
			&u.DepartureGate, &u.DepartureTerminal, &u.ArrivalGate, &u.ArrivalTerminal,
			&u.BaggageClaim); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// DelayStats retrieves average delay and flight count per airline. Airlines
// with no recorded flights report an average of 0 and a count of 0.
func (d *PostgresDB) DelayStats(ctx context.Context) ([]AirlineDelayStat, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT a.name, COALESCE(AVG(f.delay_minutes), 0)::float8, COUNT(f.flight_id)
		FROM airlines a
		LEFT JOIN flights f ON f.airline_id = a.airline_id
		GROUP BY a.name
		ORDER BY a.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []AirlineDelayStat
	for rows.Next() {
		var s AirlineDelayStat
		if err := rows.Scan(&s.Airline, &s.AvgDelay, &s.TotalFlights); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
