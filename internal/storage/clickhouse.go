package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseDB wraps a ClickHouse connection for the snapshot analytics sink.
// One denormalized row is written per ingested snapshot; rows are never
// updated, matching the append-only nature of the feed.
type ClickHouseDB struct {
	conn driver.Conn
}

// Conn returns the underlying ClickHouse connection for direct queries.
func (d *ClickHouseDB) Conn() driver.Conn {
	return d.conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the ClickHouse tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS flight_snapshots (
		ingested_at      DateTime64(3),
		flight_number    LowCardinality(String),
		airline_iata     LowCardinality(String),
		departure_iata   LowCardinality(String),
		arrival_iata     LowCardinality(String),
		status           LowCardinality(String),
		delay_minutes    Int32,
		scheduled_departure Nullable(DateTime64(3)),
		raw_json         String
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMM(ingested_at)
	ORDER BY (airline_iata, flight_number, ingested_at)
	SETTINGS index_granularity = 8192`

	if err := d.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CHSnapshotRow is one analytics row for an ingested snapshot.
type CHSnapshotRow struct {
	IngestedAt         time.Time
	FlightNumber       string
	AirlineIATA        string
	DepartureIATA      string
	ArrivalIATA        string
	Status             string
	DelayMinutes       int32
	ScheduledDeparture *time.Time
	RawJSON            string
}

// InsertSnapshot stores one analytics row.
func (d *ClickHouseDB) InsertSnapshot(ctx context.Context, r CHSnapshotRow) error {
	return d.conn.Exec(ctx, `
		INSERT INTO flight_snapshots (ingested_at, flight_number, airline_iata,
			departure_iata, arrival_iata, status, delay_minutes, scheduled_departure, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.IngestedAt, r.FlightNumber, r.AirlineIATA, r.DepartureIATA, r.ArrivalIATA,
		r.Status, r.DelayMinutes, r.ScheduledDeparture, r.RawJSON)
}

// StatusCounts returns the number of snapshot rows seen per status since the
// given time.
func (d *ClickHouseDB) StatusCounts(ctx context.Context, since time.Time) (map[string]uint64, error) {
	rows, err := d.conn.Query(ctx, `
		SELECT status, count() AS n
		FROM flight_snapshots
		WHERE ingested_at >= ?
		GROUP BY status
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var status string
		var n uint64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
