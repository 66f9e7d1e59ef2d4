// Package api provides the REST API for flight monitoring data.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flight_monitor/internal/aviation"
	"flight_monitor/internal/snapshot"
	"flight_monitor/internal/storage"
)

// DelayThresholdMinutes is the delay at which a flight counts as delayed.
const DelayThresholdMinutes = 120

// EuropeanCountries is the closed allow-list behind /api/airports/european:
// EU member states plus the United Kingdom, Norway, and Switzerland.
var EuropeanCountries = []string{
	"Austria", "Belgium", "Bulgaria", "Croatia", "Cyprus", "Czech Republic",
	"Denmark", "Estonia", "Finland", "France", "Germany", "Greece", "Hungary",
	"Ireland", "Italy", "Latvia", "Lithuania", "Luxembourg", "Malta",
	"Netherlands", "Poland", "Portugal", "Romania", "Slovakia", "Slovenia",
	"Spain", "Sweden", "United Kingdom", "Norway", "Switzerland",
}

//go:embed docs.html
var docsPage []byte

// Store is the read side of the flight store.
type Store interface {
	ListAirports(ctx context.Context) ([]storage.Airport, error)
	AirportsByCountries(ctx context.Context, countries []string) ([]storage.Airport, error)
	AirportFlights(ctx context.Context, code string, date time.Time) ([]storage.FlightWithAirline, error)
	DelayedFlights(ctx context.Context, minDelay int) ([]storage.FlightWithAirline, error)
	ActiveFlights(ctx context.Context) ([]storage.FlightWithAirline, error)
	LatestFlightByNumber(ctx context.Context, number string) (*storage.FlightWithAirline, error)
	FlightDetail(ctx context.Context, id int64) (*storage.FlightDetail, error)
	FlightHistory(ctx context.Context, flightID int64) ([]storage.StatusUpdate, error)
	DelayStats(ctx context.Context) ([]storage.AirlineDelayStat, error)
}

// FlightSource fetches flight data from the external feed.
type FlightSource interface {
	LiveFlights(ctx context.Context, limit int) (*aviation.FlightsPayload, error)
	SearchFlights(ctx context.Context, p aviation.SearchParams) (*aviation.FlightsPayload, error)
}

// Ingester reconciles one snapshot into the store.
type Ingester interface {
	Ingest(ctx context.Context, snap snapshot.Snapshot) error
}

// Server serves the flight monitoring API.
type Server struct {
	store    Store
	source   FlightSource
	ingester Ingester
	port     int
}

// Config holds configuration for the API server.
type Config struct {
	Port int
}

// NewServer creates an API server.
func NewServer(store Store, source FlightSource, ingester Ingester, cfg Config) *Server {
	return &Server{
		store:    store,
		source:   source,
		ingester: ingester,
		port:     cfg.Port,
	}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := ":" + strconv.Itoa(s.port)
	log.Printf("Flight monitor API starting at http://localhost%s", addr)
	return http.ListenAndServe(addr, s.Router())
}

// Router returns the configured chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Standard middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for browser access.
	r.Use(corsMiddleware)

	r.Get("/", s.handleDocs)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Get("/airports", s.handleListAirports)
	r.Get("/airports/{code}/flights", s.handleAirportFlights)
	r.Get("/flights/delayed", s.handleDelayedFlights)
	r.Get("/flights/active", s.handleActiveFlights)
	r.Get("/flights/search/{number}", s.handleSearchFlight)
	r.Get("/flights/{id}", s.handleFlightDetail)

	r.Route("/api", func(r chi.Router) {
		r.Get("/flights/live", s.handleLiveFlights)
		r.Get("/flights/search", s.handleSearchProxy)
		r.Get("/flights/{id}/history", s.handleFlightHistory)
		r.Get("/stats/delays", s.handleDelayStats)
		r.Get("/airports/european", s.handleEuropeanAirports)
	})

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(docsPage)
}

// AirportResponse is the JSON shape of one airport.
type AirportResponse struct {
	IATACode  string   `json:"iata_code"`
	Name      string   `json:"name"`
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func airportToResponse(a storage.Airport) AirportResponse {
	return AirportResponse{
		IATACode:  a.IATACode,
		Name:      a.Name,
		City:      a.City,
		Country:   a.Country,
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
	}
}

func (s *Server) handleListAirports(w http.ResponseWriter, r *http.Request) {
	airports, err := s.store.ListAirports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]AirportResponse, 0, len(airports))
	for _, a := range airports {
		results = append(results, airportToResponse(a))
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleEuropeanAirports(w http.ResponseWriter, r *http.Request) {
	airports, err := s.store.AirportsByCountries(r.Context(), EuropeanCountries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]AirportResponse, 0, len(airports))
	for _, a := range airports {
		results = append(results, airportToResponse(a))
	}
	writeJSON(w, http.StatusOK, results)
}

// FlightResponse is the JSON shape of one flight in list projections.
type FlightResponse struct {
	FlightID           int64  `json:"flight_id"`
	FlightNumber       string `json:"flight_number"`
	Airline            string `json:"airline"`
	Departure          string `json:"departure"`
	Arrival            string `json:"arrival"`
	ScheduledDeparture string `json:"scheduled_departure"`
	Status             string `json:"status"`
	DelayMinutes       *int   `json:"delay_minutes,omitempty"`
}

func flightToResponse(f storage.FlightWithAirline, withDelay bool) FlightResponse {
	resp := FlightResponse{
		FlightID:           f.ID,
		FlightNumber:       f.FlightNumber,
		Airline:            f.AirlineName,
		Departure:          f.DepartureAirport,
		Arrival:            f.ArrivalAirport,
		ScheduledDeparture: f.ScheduledDeparture.Format(time.RFC3339),
		Status:             f.Status,
	}
	if withDelay {
		delay := f.DelayMinutes
		resp.DelayMinutes = &delay
	}
	return resp
}

func (s *Server) handleAirportFlights(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))

	date := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
			return
		}
		date = parsed
	}

	flights, err := s.store.AirportFlights(r.Context(), code, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]FlightResponse, 0, len(flights))
	for _, f := range flights {
		results = append(results, flightToResponse(f, false))
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleDelayedFlights(w http.ResponseWriter, r *http.Request) {
	flights, err := s.store.DelayedFlights(r.Context(), DelayThresholdMinutes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]FlightResponse, 0, len(flights))
	for _, f := range flights {
		results = append(results, flightToResponse(f, true))
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleActiveFlights(w http.ResponseWriter, r *http.Request) {
	flights, err := s.store.ActiveFlights(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]FlightResponse, 0, len(flights))
	for _, f := range flights {
		results = append(results, flightToResponse(f, false))
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSearchFlight(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	flight, err := s.store.LatestFlightByNumber(r.Context(), number)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flight == nil {
		writeError(w, http.StatusNotFound, "Flight not found")
		return
	}

	writeJSON(w, http.StatusOK, flightToResponse(*flight, true))
}

// FlightDetailResponse is the JSON shape of one flight with its latest status.
type FlightDetailResponse struct {
	FlightID     int64           `json:"flight_id"`
	FlightNumber string          `json:"flight_number"`
	Airline      DetailAirline   `json:"airline"`
	Departure    DetailDeparture `json:"departure"`
	Arrival      DetailArrival   `json:"arrival"`
	Status       string          `json:"status"`
	DelayMinutes int             `json:"delay_minutes"`
}

// DetailAirline is the airline sub-object of a flight detail.
type DetailAirline struct {
	Name     string  `json:"name"`
	IATACode *string `json:"iata_code"`
}

// DetailDeparture is the departure sub-object of a flight detail.
type DetailDeparture struct {
	Airport   string  `json:"airport"`
	IATA      string  `json:"iata"`
	Scheduled string  `json:"scheduled"`
	Actual    *string `json:"actual"`
	Gate      *string `json:"gate"`
	Terminal  *string `json:"terminal"`
}

// DetailArrival is the arrival sub-object of a flight detail.
type DetailArrival struct {
	Airport   string  `json:"airport"`
	IATA      string  `json:"iata"`
	Scheduled *string `json:"scheduled"`
	Gate      *string `json:"gate"`
	Terminal  *string `json:"terminal"`
}

func (s *Server) handleFlightDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "flight id must be an integer")
		return
	}

	detail, err := s.store.FlightDetail(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "Flight not found")
		return
	}

	resp := FlightDetailResponse{
		FlightID:     detail.ID,
		FlightNumber: detail.FlightNumber,
		Airline: DetailAirline{
			Name:     detail.AirlineName,
			IATACode: detail.AirlineIATA,
		},
		Departure: DetailDeparture{
			Airport:   detail.DepartureAirportName,
			IATA:      detail.DepartureAirport,
			Scheduled: detail.ScheduledDeparture.Format(time.RFC3339),
		},
		Arrival: DetailArrival{
			Airport: detail.ArrivalAirportName,
			IATA:    detail.ArrivalAirport,
		},
		Status:       detail.Status,
		DelayMinutes: detail.DelayMinutes,
	}
	if detail.ScheduledArrival != nil {
		arr := detail.ScheduledArrival.Format(time.RFC3339)
		resp.Arrival.Scheduled = &arr
	}
	// Sub-fields stay null until the first status update arrives.
	if u := detail.Latest; u != nil {
		if u.ActualDeparture != nil {
			actual := u.ActualDeparture.Format(time.RFC3339)
			resp.Departure.Actual = &actual
		}
		resp.Departure.Gate = u.DepartureGate
		resp.Departure.Terminal = u.DepartureTerminal
		resp.Arrival.Gate = u.ArrivalGate
		resp.Arrival.Terminal = u.ArrivalTerminal
	}

	writeJSON(w, http.StatusOK, resp)
}

// HistoryResponse is the JSON shape of one status history row.
type HistoryResponse struct {
	Status        string  `json:"status"`
	UpdateTime    string  `json:"update_time"`
	DelayMinutes  *int    `json:"delay_minutes"`
	DelayReason   *string `json:"delay_reason"`
	DepartureGate *string `json:"departure_gate"`
	ArrivalGate   *string `json:"arrival_gate"`
}

func (s *Server) handleFlightHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "flight id must be an integer")
		return
	}

	updates, err := s.store.FlightHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]HistoryResponse, 0, len(updates))
	for _, u := range updates {
		results = append(results, HistoryResponse{
			Status:        u.Status,
			UpdateTime:    u.UpdateTime.Format(time.RFC3339),
			DelayMinutes:  u.DelayMinutes,
			DelayReason:   u.DelayReason,
			DepartureGate: u.DepartureGate,
			ArrivalGate:   u.ArrivalGate,
		})
	}
	writeJSON(w, http.StatusOK, results)
}

// DelayStatResponse is the JSON shape of one per-airline delay aggregate.
type DelayStatResponse struct {
	Airline      string  `json:"airline"`
	AvgDelay     float64 `json:"avg_delay"`
	TotalFlights int     `json:"total_flights"`
}

func (s *Server) handleDelayStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.DelayStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]DelayStatResponse, 0, len(stats))
	for _, st := range stats {
		results = append(results, DelayStatResponse{
			Airline:      st.Airline,
			AvgDelay:     st.AvgDelay,
			TotalFlights: st.TotalFlights,
		})
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleLiveFlights(w http.ResponseWriter, r *http.Request) {
	airline := r.URL.Query().Get("airline")
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	payload, err := s.source.LiveFlights(r.Context(), limit)
	if err != nil {
		writeSourceError(w, err)
		return
	}

	if airline != "" {
		payload.Filter(func(snap snapshot.Snapshot) bool {
			return snap.AirlineIATA() == airline
		})
	}

	// Ingest as a side effect of the read; failures abort the response.
	for _, snap := range payload.Snapshots {
		if err := s.ingester.Ingest(r.Context(), snap); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSearchProxy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payload, err := s.source.SearchFlights(r.Context(), aviation.SearchParams{
		FlightNumber: q.Get("flight"),
		AirlineCode:  q.Get("airline"),
		DepIATA:      q.Get("departure"),
		ArrIATA:      q.Get("arrival"),
	})
	if err != nil {
		writeSourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// writeSourceError maps external-feed failures onto responses: 401 and 429
// pass through, everything else is a 500.
func writeSourceError(w http.ResponseWriter, err error) {
	var statusErr *aviation.StatusError
	if errors.As(err, &statusErr) {
		writeError(w, statusErr.StatusCode, statusErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
