package storage

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"
)

// setupTestPostgres creates a test database connection.
// Returns nil if no PostgreSQL connection is available.
func setupTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 5432
	if p := os.Getenv("POSTGRES_PORT"); p != "" {
		if i, err := strconv.Atoi(p); err == nil {
			port = i
		}
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "flights"
	}
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "flights"
	}
	database := os.Getenv("POSTGRES_DATABASE")
	if database == "" {
		database = "flight_monitor"
	}

	ctx := context.Background()
	pg, err := OpenPostgres(ctx, PostgresConfig{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Database: database,
	})
	if err != nil {
		return nil
	}

	if err := pg.CreateSchema(ctx); err != nil {
		pg.Close()
		return nil
	}

	return pg
}

func strPtr(s string) *string { return &s }

func TestIngestTransactionRoundTrip(t *testing.T) {
	pg := setupTestPostgres(t)
	if pg == nil {
		t.Skip("No PostgreSQL connection available")
	}
	defer pg.Close()

	ctx := context.Background()
	dep := time.Date(2031, 6, 1, 9, 0, 0, 0, time.UTC)

	cleanup := func() {
		_, _ = pg.pool.Exec(ctx, `DELETE FROM flight_status_updates WHERE flight_id IN (SELECT flight_id FROM flights WHERE flight_number = 'ZT101')`)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM flights WHERE flight_number = 'ZT101'`)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM airlines WHERE iata_code = 'ZT'`)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM airports WHERE iata_code IN ('ZT1', 'ZT2')`)
	}
	cleanup()
	defer cleanup()

	tx, err := pg.BeginIngest(ctx)
	if err != nil {
		t.Fatalf("BeginIngest: %v", err)
	}
	defer tx.Rollback(ctx)

	airlineID, err := tx.CreateAirline(ctx, Airline{Name: "Airline ZT", IATACode: strPtr("ZT"), Country: "Unknown", Active: true})
	if err != nil {
		t.Fatalf("CreateAirline: %v", err)
	}

	for _, code := range []string{"ZT1", "ZT2"} {
		if err := tx.CreateAirport(ctx, Airport{IATACode: code, Name: "Airport " + code, City: "Unknown", Country: "Unknown"}); err != nil {
			t.Fatalf("CreateAirport %s: %v", code, err)
		}
	}

	flightID, err := tx.CreateFlight(ctx, Flight{
		FlightNumber:       "ZT101",
		AirlineID:          airlineID,
		DepartureAirport:   "ZT1",
		ArrivalAirport:     "ZT2",
		ScheduledDeparture: dep,
		ScheduledArrival:   &dep,
		Status:             "SCHEDULED",
	})
	if err != nil {
		t.Fatalf("CreateFlight: %v", err)
	}

	delay := 150
	if err := tx.AppendStatusUpdate(ctx, StatusUpdate{
		FlightID:     flightID,
		Status:       "DELAYED",
		UpdateTime:   time.Now().UTC(),
		DelayMinutes: &delay,
	}); err != nil {
		t.Fatalf("AppendStatusUpdate: %v", err)
	}
	if err := tx.UpdateFlightSummary(ctx, flightID, "DELAYED", &delay); err != nil {
		t.Fatalf("UpdateFlightSummary: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Natural-key lookup sees the committed flight.
	tx2, err := pg.BeginIngest(ctx)
	if err != nil {
		t.Fatalf("BeginIngest: %v", err)
	}
	defer tx2.Rollback(ctx)
	f, err := tx2.FlightByNaturalKey(ctx, "ZT101", dep)
	if err != nil {
		t.Fatalf("FlightByNaturalKey: %v", err)
	}
	if f == nil {
		t.Fatal("expected flight, got nil")
	}
	if f.Status != "DELAYED" || f.DelayMinutes != 150 {
		t.Errorf("flight summary = %s/%d, want DELAYED/150", f.Status, f.DelayMinutes)
	}

	// Airport projection matches on the calendar date.
	atAirport, err := pg.AirportFlights(ctx, "ZT1", dep)
	if err != nil {
		t.Fatalf("AirportFlights: %v", err)
	}
	found := false
	for _, a := range atAirport {
		if a.FlightNumber == "ZT101" {
			found = true
		}
	}
	if !found {
		t.Error("ZT101 missing from airport flights on its departure date")
	}

	// Delayed projection includes it.
	delayed, err := pg.DelayedFlights(ctx, 120)
	if err != nil {
		t.Fatalf("DelayedFlights: %v", err)
	}
	found = false
	for _, d := range delayed {
		if d.FlightNumber == "ZT101" {
			found = true
		}
	}
	if !found {
		t.Error("ZT101 missing from delayed flights")
	}

	// Detail carries the latest update.
	detail, err := pg.FlightDetail(ctx, flightID)
	if err != nil {
		t.Fatalf("FlightDetail: %v", err)
	}
	if detail == nil || detail.Latest == nil {
		t.Fatal("expected detail with latest update")
	}
	if detail.Latest.Status != "DELAYED" {
		t.Errorf("latest status = %q, want DELAYED", detail.Latest.Status)
	}
}

func TestDuplicateFlightIsConflict(t *testing.T) {
	pg := setupTestPostgres(t)
	if pg == nil {
		t.Skip("No PostgreSQL connection available")
	}
	defer pg.Close()

	ctx := context.Background()
	dep := time.Date(2031, 7, 1, 9, 0, 0, 0, time.UTC)

	cleanup := func() {
		_, _ = pg.pool.Exec(ctx, `DELETE FROM flights WHERE flight_number = 'ZT202'`)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM airlines WHERE iata_code = 'ZU'`)
		_, _ = pg.pool.Exec(ctx, `DELETE FROM airports WHERE iata_code IN ('ZU1', 'ZU2')`)
	}
	cleanup()
	defer cleanup()

	tx, err := pg.BeginIngest(ctx)
	if err != nil {
		t.Fatalf("BeginIngest: %v", err)
	}
	airlineID, err := tx.CreateAirline(ctx, Airline{Name: "Airline ZU", IATACode: strPtr("ZU"), Active: true})
	if err != nil {
		t.Fatalf("CreateAirline: %v", err)
	}
	for _, code := range []string{"ZU1", "ZU2"} {
		if err := tx.CreateAirport(ctx, Airport{IATACode: code, Name: "Airport " + code, City: "Unknown", Country: "Unknown"}); err != nil {
			t.Fatalf("CreateAirport %s: %v", code, err)
		}
	}
	flight := Flight{
		FlightNumber:       "ZT202",
		AirlineID:          airlineID,
		DepartureAirport:   "ZU1",
		ArrivalAirport:     "ZU2",
		ScheduledDeparture: dep,
		Status:             "SCHEDULED",
	}
	if _, err := tx.CreateFlight(ctx, flight); err != nil {
		t.Fatalf("CreateFlight: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := pg.BeginIngest(ctx)
	if err != nil {
		t.Fatalf("BeginIngest: %v", err)
	}
	defer tx2.Rollback(ctx)
	_, err = tx2.CreateFlight(ctx, flight)
	if err == nil {
		t.Fatal("expected conflict for duplicate natural key")
	}
	if !errors.Is(err, ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}
