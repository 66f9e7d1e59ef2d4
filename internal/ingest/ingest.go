// Package ingest converts external flight snapshots into mutations against
// the relational store: airlines, airports, and flights are created on first
// sighting, and one immutable status-update row is appended per snapshot.
// All relational writes for a snapshot happen in one transaction.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"flight_monitor/internal/refdata"
	"flight_monitor/internal/snapshot"
	"flight_monitor/internal/storage"
)

// Store opens ingestion transactions against the relational store.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the set of writes and lookups one snapshot needs. Lookups that find
// nothing return (nil, nil). Implemented by the PostgreSQL store; faked in
// tests.
type Tx interface {
	AirlineByIATA(ctx context.Context, code string) (*storage.Airline, error)
	CreateAirline(ctx context.Context, a storage.Airline) (int64, error)
	AirportExists(ctx context.Context, iata string) (bool, error)
	CreateAirport(ctx context.Context, a storage.Airport) error
	FlightByNaturalKey(ctx context.Context, number string, scheduledDeparture time.Time) (*storage.Flight, error)
	CreateFlight(ctx context.Context, f storage.Flight) (int64, error)
	AppendStatusUpdate(ctx context.Context, u storage.StatusUpdate) error
	UpdateFlightSummary(ctx context.Context, flightID int64, status string, delayMinutes *int) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Sinks are the optional best-effort side channels fed after a snapshot
// commits. Failures are logged, never propagated. Any field may be nil.
type Sinks struct {
	Archive   *storage.Archive
	Analytics *storage.ClickHouseDB
	Events    StatusPublisher
}

// StatusPublisher publishes appended status updates to downstream consumers.
type StatusPublisher interface {
	PublishStatusUpdate(flightNumber string, update storage.StatusUpdate) error
}

// Ingester reconciles snapshots into the store. The reference table is
// read-only and injected at construction.
type Ingester struct {
	store Store
	ref   *refdata.Table
	sinks Sinks
	now   func() time.Time
}

// New creates an ingester. ref may be nil; unknown airports then always get
// placeholder values.
func New(store Store, ref *refdata.Table, sinks Sinks) *Ingester {
	return &Ingester{
		store: store,
		ref:   ref,
		sinks: sinks,
		now:   time.Now,
	}
}

// Ingest applies one snapshot. Snapshots missing a resolvable airline, a
// flight number, a scheduled departure, or either airport code are skipped
// silently. Any other failure rolls back every write for the snapshot and is
// returned; storage.ErrConflict marks a retryable race on a uniqueness
// constraint.
func (in *Ingester) Ingest(ctx context.Context, snap snapshot.Snapshot) error {
	// Validation failures are normal: the feed routinely omits fields. A
	// snapshot that cannot be deduplicated or attached is not ingestible.
	flightNumber := snap.FlightNumber()
	if flightNumber == "" {
		return nil
	}
	scheduledDep, ok := snap.ScheduledDeparture()
	if !ok {
		return nil
	}
	depIATA, arrIATA := snap.DepartureIATA(), snap.ArrivalIATA()
	if depIATA == "" || arrIATA == "" {
		return nil
	}

	status := snap.Status()
	if !storage.ValidStatus(status) {
		return fmt.Errorf("ingest %s: status %q outside the valid set", flightNumber, status)
	}

	tx, err := in.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Printf("ingest %s: rollback: %v", flightNumber, rbErr)
		}
	}()

	airlineID, ok, err := in.resolveAirline(ctx, tx, snap.Airline)
	if err != nil {
		return fmt.Errorf("ingest %s: airline: %w", flightNumber, err)
	}
	if !ok {
		// No airline code and no existing record: skip the snapshot.
		return nil
	}

	if err := in.resolveAirport(ctx, tx, depIATA, snap.Departure); err != nil {
		return fmt.Errorf("ingest %s: departure airport: %w", flightNumber, err)
	}
	if err := in.resolveAirport(ctx, tx, arrIATA, snap.Arrival); err != nil {
		return fmt.Errorf("ingest %s: arrival airport: %w", flightNumber, err)
	}

	flightID, err := in.resolveFlight(ctx, tx, snap, flightNumber, airlineID, depIATA, arrIATA, scheduledDep)
	if err != nil {
		return fmt.Errorf("ingest %s: flight: %w", flightNumber, err)
	}

	update := buildStatusUpdate(snap, flightID, status, in.now().UTC())
	if err := tx.AppendStatusUpdate(ctx, update); err != nil {
		return fmt.Errorf("ingest %s: status update: %w", flightNumber, err)
	}
	// Keep the denormalized flight summary in step with the newest update.
	if err := tx.UpdateFlightSummary(ctx, flightID, status, update.DelayMinutes); err != nil {
		return fmt.Errorf("ingest %s: flight summary: %w", flightNumber, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ingest %s: commit: %w", flightNumber, err)
	}

	in.feedSinks(ctx, snap, flightNumber, status, update, scheduledDep)
	return nil
}

// resolveAirline returns the airline id for the snapshot, creating the
// airline on first sighting. The second return is false when the snapshot
// carries no code and no record exists.
func (in *Ingester) resolveAirline(ctx context.Context, tx Tx, info *snapshot.AirlineInfo) (int64, bool, error) {
	var code, name, icao, country string
	if info != nil {
		code = info.IATA
		name = info.Name
		icao = info.ICAO
		country = info.Country
	}

	if code != "" {
		existing, err := tx.AirlineByIATA(ctx, code)
		if err != nil {
			return 0, false, err
		}
		if existing != nil {
			return existing.ID, true, nil
		}

		if name == "" {
			name = "Airline " + code
		}
		if country == "" {
			country = "Unknown"
		}
		airline := storage.Airline{
			Name:     name,
			IATACode: &code,
			Country:  country,
			Active:   true,
		}
		if icao != "" {
			airline.ICAOCode = &icao
		}
		id, err := tx.CreateAirline(ctx, airline)
		if err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	return 0, false, nil
}

// resolveAirport creates the airport on first sighting. Existing rows are
// never touched.
func (in *Ingester) resolveAirport(ctx context.Context, tx Tx, iata string, endpoint *snapshot.Endpoint) error {
	exists, err := tx.AirportExists(ctx, iata)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return tx.CreateAirport(ctx, in.enrichAirport(iata, endpoint))
}

// enrichAirport builds the airport record for an unseen code: reference-table
// attributes when the code is known, placeholders otherwise. The snapshot's
// airport name wins over the reference name when both are present.
func (in *Ingester) enrichAirport(iata string, endpoint *snapshot.Endpoint) storage.Airport {
	var snapName, snapCity, snapCountry string
	if endpoint != nil {
		snapName = endpoint.Airport
		snapCity = endpoint.City
		snapCountry = endpoint.Country
	}

	if in.ref != nil {
		if info, ok := in.ref.Lookup(iata); ok {
			name := info.Name
			if snapName != "" {
				name = snapName
			}
			a := storage.Airport{
				IATACode:  iata,
				Name:      name,
				City:      info.City,
				Country:   info.Country,
				Latitude:  info.Latitude,
				Longitude: info.Longitude,
			}
			if info.Timezone != "" {
				tz := info.Timezone
				a.Timezone = &tz
			}
			return a
		}
	}

	name := snapName
	if name == "" {
		name = "Airport " + iata
	}
	city := snapCity
	if city == "" {
		city = "Unknown"
	}
	country := snapCountry
	if country == "" {
		country = "Unknown"
	}
	return storage.Airport{
		IATACode: iata,
		Name:     name,
		City:     city,
		Country:  country,
	}
}

// resolveFlight returns the flight id for the snapshot's natural key,
// creating the flight on first sighting.
func (in *Ingester) resolveFlight(ctx context.Context, tx Tx, snap snapshot.Snapshot, number string, airlineID int64, depIATA, arrIATA string, scheduledDep time.Time) (int64, error) {
	existing, err := tx.FlightByNaturalKey(ctx, number, scheduledDep)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	scheduledArr := scheduledDep
	if arr, ok := snap.ScheduledArrival(); ok {
		scheduledArr = arr
	}

	return tx.CreateFlight(ctx, storage.Flight{
		FlightNumber:       number,
		AirlineID:          airlineID,
		DepartureAirport:   depIATA,
		ArrivalAirport:     arrIATA,
		ScheduledDeparture: scheduledDep,
		ScheduledArrival:   &scheduledArr,
		Status:             "SCHEDULED",
	})
}

// buildStatusUpdate captures the snapshot's status section as one history row.
func buildStatusUpdate(snap snapshot.Snapshot, flightID int64, status string, now time.Time) storage.StatusUpdate {
	u := storage.StatusUpdate{
		FlightID:   flightID,
		Status:     status,
		UpdateTime: now,
	}

	if dep := snap.Departure; dep != nil {
		if t, ok := snapshot.ParseTime(dep.Actual); ok {
			u.ActualDeparture = &t
		}
		if t, ok := snapshot.ParseTime(dep.Estimated); ok {
			u.EstimatedDeparture = &t
		}
		if dep.Delay != nil {
			delay := *dep.Delay
			u.DelayMinutes = &delay
		}
		if dep.DelayReason != "" {
			reason := dep.DelayReason
			u.DelayReason = &reason
		}
		if dep.Gate != "" {
			gate := dep.Gate
			u.DepartureGate = &gate
		}
		if dep.Terminal != "" {
			terminal := dep.Terminal
			u.DepartureTerminal = &terminal
		}
	}
	if arr := snap.Arrival; arr != nil {
		if arr.Gate != "" {
			gate := arr.Gate
			u.ArrivalGate = &gate
		}
		if arr.Terminal != "" {
			terminal := arr.Terminal
			u.ArrivalTerminal = &terminal
		}
		if arr.Baggage != "" {
			baggage := arr.Baggage
			u.BaggageClaim = &baggage
		}
	}
	return u
}

// feedSinks pushes the committed snapshot to the configured side channels.
func (in *Ingester) feedSinks(ctx context.Context, snap snapshot.Snapshot, flightNumber, status string, update storage.StatusUpdate, scheduledDep time.Time) {
	if in.sinks.Archive != nil {
		raw, err := json.Marshal(snap)
		if err == nil {
			_, err = in.sinks.Archive.Append(storage.ArchivedSnapshot{
				FetchedAt:    update.UpdateTime,
				FlightNumber: flightNumber,
				AirlineIATA:  snap.AirlineIATA(),
				Status:       status,
				RawJSON:      string(raw),
			})
		}
		if err != nil {
			log.Printf("ingest %s: archive: %v", flightNumber, err)
		}
	}

	if in.sinks.Analytics != nil {
		raw, _ := json.Marshal(snap)
		var delay int32
		if update.DelayMinutes != nil {
			delay = int32(*update.DelayMinutes)
		}
		row := storage.CHSnapshotRow{
			IngestedAt:         update.UpdateTime,
			FlightNumber:       flightNumber,
			AirlineIATA:        snap.AirlineIATA(),
			DepartureIATA:      snap.DepartureIATA(),
			ArrivalIATA:        snap.ArrivalIATA(),
			Status:             status,
			DelayMinutes:       delay,
			ScheduledDeparture: &scheduledDep,
			RawJSON:            string(raw),
		}
		if err := in.sinks.Analytics.InsertSnapshot(ctx, row); err != nil {
			log.Printf("ingest %s: analytics: %v", flightNumber, err)
		}
	}

	if in.sinks.Events != nil {
		if err := in.sinks.Events.PublishStatusUpdate(flightNumber, update); err != nil {
			log.Printf("ingest %s: publish: %v", flightNumber, err)
		}
	}
}

// PostgresStore adapts the PostgreSQL store to the ingestion Store interface.
type PostgresStore struct {
	db *storage.PostgresDB
}

// NewPostgresStore wraps a PostgreSQL store for ingestion.
func NewPostgresStore(db *storage.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Begin starts an ingestion transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	return s.db.BeginIngest(ctx)
}
