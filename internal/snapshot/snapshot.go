// Package snapshot models one external flight record as returned by the
// Aviation Stack feed. Every section and field is optional: the feed is
// semi-structured and absence of a field is a normal, expected case.
package snapshot

import (
	"strings"
	"time"
)

// Snapshot describes one flight leg at the moment it was fetched.
type Snapshot struct {
	FlightDate   string       `json:"flight_date,omitempty"`
	FlightStatus string       `json:"flight_status,omitempty"`
	Departure    *Endpoint    `json:"departure,omitempty"`
	Arrival      *Endpoint    `json:"arrival,omitempty"`
	Airline      *AirlineInfo `json:"airline,omitempty"`
	Flight       *FlightInfo  `json:"flight,omitempty"`
	Aircraft     *Aircraft    `json:"aircraft,omitempty"`
}

// Endpoint is the departure or arrival section of a snapshot.
type Endpoint struct {
	Airport     string `json:"airport,omitempty"`
	City        string `json:"city,omitempty"`
	Country     string `json:"country,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	IATA        string `json:"iata,omitempty"`
	ICAO        string `json:"icao,omitempty"`
	Terminal    string `json:"terminal,omitempty"`
	Gate        string `json:"gate,omitempty"`
	Baggage     string `json:"baggage,omitempty"`
	Delay       *int   `json:"delay,omitempty"`
	DelayReason string `json:"delay_reason,omitempty"`
	Scheduled   string `json:"scheduled,omitempty"`
	Estimated   string `json:"estimated,omitempty"`
	Actual      string `json:"actual,omitempty"`
}

// AirlineInfo is the airline section of a snapshot.
type AirlineInfo struct {
	Name    string `json:"name,omitempty"`
	IATA    string `json:"iata,omitempty"`
	ICAO    string `json:"icao,omitempty"`
	Country string `json:"country,omitempty"`
}

// FlightInfo is the flight section of a snapshot.
type FlightInfo struct {
	Number string `json:"number,omitempty"`
	IATA   string `json:"iata,omitempty"`
	ICAO   string `json:"icao,omitempty"`
}

// Aircraft is the optional aircraft section of a snapshot.
type Aircraft struct {
	Registration string `json:"registration,omitempty"`
	IATA         string `json:"iata,omitempty"`
	ICAO         string `json:"icao,omitempty"`
}

// timeLayouts are the timestamp formats seen in feed payloads, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a feed timestamp. Returns the zero time and false when the
// value is empty or in none of the known layouts.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FlightNumber returns the flight number, or "" when the flight section or
// the number itself is absent.
func (s *Snapshot) FlightNumber() string {
	if s.Flight == nil {
		return ""
	}
	return strings.TrimSpace(s.Flight.Number)
}

// AirlineIATA returns the airline IATA code, or "" when absent.
func (s *Snapshot) AirlineIATA() string {
	if s.Airline == nil {
		return ""
	}
	return strings.TrimSpace(s.Airline.IATA)
}

// ScheduledDeparture returns the parsed scheduled departure time.
func (s *Snapshot) ScheduledDeparture() (time.Time, bool) {
	if s.Departure == nil {
		return time.Time{}, false
	}
	return ParseTime(s.Departure.Scheduled)
}

// ScheduledArrival returns the parsed scheduled arrival time.
func (s *Snapshot) ScheduledArrival() (time.Time, bool) {
	if s.Arrival == nil {
		return time.Time{}, false
	}
	return ParseTime(s.Arrival.Scheduled)
}

// DepartureIATA returns the departure airport code, or "" when absent.
func (s *Snapshot) DepartureIATA() string {
	if s.Departure == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(s.Departure.IATA))
}

// ArrivalIATA returns the arrival airport code, or "" when absent.
func (s *Snapshot) ArrivalIATA() string {
	if s.Arrival == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(s.Arrival.IATA))
}

// Status returns the uppercased flight status, defaulting to SCHEDULED when
// the field is absent.
func (s *Snapshot) Status() string {
	st := strings.TrimSpace(s.FlightStatus)
	if st == "" {
		return "SCHEDULED"
	}
	return strings.ToUpper(st)
}
