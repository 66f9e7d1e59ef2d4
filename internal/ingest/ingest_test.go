package ingest

import (
	"context"
	"testing"
	"time"

	"flight_monitor/internal/refdata"
	"flight_monitor/internal/snapshot"
	"flight_monitor/internal/storage"
)

// fakeStore keeps everything in memory. Transactions are not isolated; each
// test drives one ingest at a time.
type fakeStore struct {
	airlines []storage.Airline
	airports map[string]storage.Airport
	flights  []storage.Flight
	updates  []storage.StatusUpdate

	nextAirlineID int64
	nextFlightID  int64
	commits       int
	rollbacks     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{airports: make(map[string]storage.Airport)}
}

func (s *fakeStore) Begin(ctx context.Context) (Tx, error) {
	return &fakeTx{store: s}, nil
}

type fakeTx struct {
	store     *fakeStore
	committed bool
}

func (t *fakeTx) AirlineByIATA(ctx context.Context, code string) (*storage.Airline, error) {
	for i := range t.store.airlines {
		a := t.store.airlines[i]
		if a.IATACode != nil && *a.IATACode == code {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) CreateAirline(ctx context.Context, a storage.Airline) (int64, error) {
	t.store.nextAirlineID++
	a.ID = t.store.nextAirlineID
	t.store.airlines = append(t.store.airlines, a)
	return a.ID, nil
}

func (t *fakeTx) AirportExists(ctx context.Context, iata string) (bool, error) {
	_, ok := t.store.airports[iata]
	return ok, nil
}

func (t *fakeTx) CreateAirport(ctx context.Context, a storage.Airport) error {
	t.store.airports[a.IATACode] = a
	return nil
}

func (t *fakeTx) FlightByNaturalKey(ctx context.Context, number string, dep time.Time) (*storage.Flight, error) {
	for i := range t.store.flights {
		f := t.store.flights[i]
		if f.FlightNumber == number && f.ScheduledDeparture.Equal(dep) {
			return &f, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) CreateFlight(ctx context.Context, f storage.Flight) (int64, error) {
	t.store.nextFlightID++
	f.ID = t.store.nextFlightID
	t.store.flights = append(t.store.flights, f)
	return f.ID, nil
}

func (t *fakeTx) AppendStatusUpdate(ctx context.Context, u storage.StatusUpdate) error {
	t.store.updates = append(t.store.updates, u)
	return nil
}

func (t *fakeTx) UpdateFlightSummary(ctx context.Context, flightID int64, status string, delayMinutes *int) error {
	for i := range t.store.flights {
		if t.store.flights[i].ID == flightID {
			t.store.flights[i].Status = status
			if delayMinutes != nil {
				t.store.flights[i].DelayMinutes = *delayMinutes
			}
		}
	}
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	t.store.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.store.rollbacks++
	}
	return nil
}

func testSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		FlightStatus: "active",
		Departure: &snapshot.Endpoint{
			Airport:   "Example Origin",
			IATA:      "XXX",
			Scheduled: "2026-03-01T08:30:00+00:00",
		},
		Arrival: &snapshot.Endpoint{
			Airport:   "Example Destination",
			IATA:      "YYY",
			Scheduled: "2026-03-01T10:45:00+00:00",
		},
		Airline: &snapshot.AirlineInfo{Name: "Air Borealis", IATA: "AB"},
		Flight:  &snapshot.FlightInfo{Number: "AB123"},
	}
}

func TestIngestCreatesEverythingOnFirstSighting(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, Sinks{})

	if err := in.Ingest(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(store.airlines) != 1 {
		t.Fatalf("airlines = %d, want 1", len(store.airlines))
	}
	if store.airlines[0].Name != "Air Borealis" || !store.airlines[0].Active {
		t.Errorf("airline = %+v", store.airlines[0])
	}

	for _, code := range []string{"XXX", "YYY"} {
		a, ok := store.airports[code]
		if !ok {
			t.Fatalf("airport %s missing", code)
		}
		if a.City != "Unknown" || a.Country != "Unknown" {
			t.Errorf("airport %s placeholders = %q/%q, want Unknown/Unknown", code, a.City, a.Country)
		}
	}
	if store.airports["XXX"].Name != "Example Origin" {
		t.Errorf("airport XXX name = %q", store.airports["XXX"].Name)
	}

	if len(store.flights) != 1 {
		t.Fatalf("flights = %d, want 1", len(store.flights))
	}
	f := store.flights[0]
	if f.FlightNumber != "AB123" || f.DepartureAirport != "XXX" || f.ArrivalAirport != "YYY" {
		t.Errorf("flight = %+v", f)
	}
	if f.Status != "ACTIVE" {
		t.Errorf("flight status = %q, want ACTIVE after summary update", f.Status)
	}

	if len(store.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(store.updates))
	}
	if store.updates[0].Status != "ACTIVE" {
		t.Errorf("update status = %q, want ACTIVE", store.updates[0].Status)
	}
	if store.commits != 1 {
		t.Errorf("commits = %d, want 1", store.commits)
	}
}

func TestIngestTwiceAppendsOneUpdateEach(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, Sinks{})
	ctx := context.Background()

	snap := testSnapshot()
	if err := in.Ingest(ctx, snap); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	snap.FlightStatus = "landed"
	if err := in.Ingest(ctx, snap); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if len(store.flights) != 1 {
		t.Fatalf("flights = %d, want 1 (same natural key)", len(store.flights))
	}
	if len(store.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(store.updates))
	}
	if store.updates[1].Status != "LANDED" {
		t.Errorf("second update status = %q, want LANDED", store.updates[1].Status)
	}
	if store.flights[0].Status != "LANDED" {
		t.Errorf("flight summary = %q, want LANDED", store.flights[0].Status)
	}
	if len(store.airlines) != 1 {
		t.Errorf("airlines = %d, want 1", len(store.airlines))
	}
}

func TestIngestAirportsAreWriteOnce(t *testing.T) {
	store := newFakeStore()
	store.airports["XXX"] = storage.Airport{IATACode: "XXX", Name: "Existing Name", City: "Oldtown", Country: "Oldland"}
	in := New(store, nil, Sinks{})

	if err := in.Ingest(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if store.airports["XXX"].Name != "Existing Name" {
		t.Errorf("existing airport was overwritten: %+v", store.airports["XXX"])
	}
}

func TestIngestSkipsWithoutRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*snapshot.Snapshot)
	}{
		{"no flight number", func(s *snapshot.Snapshot) { s.Flight = nil }},
		{"no scheduled departure", func(s *snapshot.Snapshot) { s.Departure.Scheduled = "" }},
		{"unparseable departure", func(s *snapshot.Snapshot) { s.Departure.Scheduled = "yesterday" }},
		{"no departure airport", func(s *snapshot.Snapshot) { s.Departure.IATA = "" }},
		{"no arrival airport", func(s *snapshot.Snapshot) { s.Arrival.IATA = "" }},
		{"no airline code", func(s *snapshot.Snapshot) { s.Airline = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			in := New(store, nil, Sinks{})

			snap := testSnapshot()
			tc.mutate(&snap)

			if err := in.Ingest(context.Background(), snap); err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if len(store.flights) != 0 || len(store.updates) != 0 {
				t.Errorf("flights=%d updates=%d, want 0/0 for skipped snapshot",
					len(store.flights), len(store.updates))
			}
			if store.commits != 0 {
				t.Errorf("commits = %d, want 0", store.commits)
			}
		})
	}
}

func TestIngestAirlineDefaults(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, Sinks{})

	snap := testSnapshot()
	snap.Airline = &snapshot.AirlineInfo{IATA: "QQ"}

	if err := in.Ingest(context.Background(), snap); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(store.airlines) != 1 {
		t.Fatalf("airlines = %d, want 1", len(store.airlines))
	}
	a := store.airlines[0]
	if a.Name != "Airline QQ" {
		t.Errorf("name = %q, want Airline QQ", a.Name)
	}
	if a.Country != "Unknown" {
		t.Errorf("country = %q, want Unknown", a.Country)
	}
}

func TestIngestEnrichesKnownAirports(t *testing.T) {
	ref, err := refdata.Load()
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}

	store := newFakeStore()
	in := New(store, ref, Sinks{})

	snap := testSnapshot()
	snap.Departure.IATA = "HEL"
	snap.Departure.Airport = ""

	if err := in.Ingest(context.Background(), snap); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	hel, ok := store.airports["HEL"]
	if !ok {
		t.Fatal("airport HEL missing")
	}
	if hel.Country != "Finland" {
		t.Errorf("HEL country = %q, want Finland", hel.Country)
	}
	if hel.City != "Helsinki" {
		t.Errorf("HEL city = %q, want Helsinki", hel.City)
	}
	if hel.Latitude == nil || hel.Longitude == nil {
		t.Error("HEL coordinates missing")
	}
}

func TestIngestSnapshotNameWinsOverReference(t *testing.T) {
	ref, err := refdata.Load()
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}

	store := newFakeStore()
	in := New(store, ref, Sinks{})

	snap := testSnapshot()
	snap.Departure.IATA = "HEL"
	snap.Departure.Airport = "Helsinki Vantaa International"

	if err := in.Ingest(context.Background(), snap); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := store.airports["HEL"].Name; got != "Helsinki Vantaa International" {
		t.Errorf("HEL name = %q, want the feed's name", got)
	}
}

func TestIngestRejectsUnknownStatus(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, Sinks{})

	snap := testSnapshot()
	snap.FlightStatus = "teleported"

	if err := in.Ingest(context.Background(), snap); err == nil {
		t.Fatal("expected error for status outside the valid set")
	}
	if store.commits != 0 {
		t.Errorf("commits = %d, want 0", store.commits)
	}
}

func TestIngestDelayCapture(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, Sinks{})

	delay := 150
	snap := testSnapshot()
	snap.FlightStatus = "delayed"
	snap.Departure.Delay = &delay
	snap.Departure.DelayReason = "weather"

	if err := in.Ingest(context.Background(), snap); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(store.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(store.updates))
	}
	u := store.updates[0]
	if u.DelayMinutes == nil || *u.DelayMinutes != 150 {
		t.Errorf("update delay = %v, want 150", u.DelayMinutes)
	}
	if u.DelayReason == nil || *u.DelayReason != "weather" {
		t.Errorf("update reason = %v, want weather", u.DelayReason)
	}
	if store.flights[0].DelayMinutes != 150 {
		t.Errorf("flight delay = %d, want 150", store.flights[0].DelayMinutes)
	}
}

func TestIngestFeedsArchiveSink(t *testing.T) {
	archive, err := storage.OpenArchive(":memory:")
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer archive.Close()

	store := newFakeStore()
	in := New(store, nil, Sinks{Archive: archive})

	if err := in.Ingest(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	n, err := archive.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("archived rows = %d, want 1", n)
	}

	rows, err := archive.ByFlightNumber("AB123", 1)
	if err != nil {
		t.Fatalf("ByFlightNumber: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != "ACTIVE" || rows[0].AirlineIATA != "AB" {
		t.Errorf("archived row = %+v", rows)
	}
}
