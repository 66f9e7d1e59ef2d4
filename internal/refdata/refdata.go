// Package refdata provides the static airport reference table used to enrich
// airports first seen during ingestion. The table is read-only after load and
// is passed to consumers explicitly rather than held in package state.
package refdata

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed airports.json
var bundled []byte

// AirportInfo holds the reference attributes for one airport.
type AirportInfo struct {
	Name      string   `json:"name"`
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timezone  string   `json:"timezone"`
}

// Table is a read-only IATA code to airport info lookup.
type Table struct {
	airports map[string]AirportInfo
}

// Load builds the table from the bundled dataset.
func Load() (*Table, error) {
	return parse(bundled)
}

// LoadFile builds the table from a JSON file, overriding the bundled dataset.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read airport data: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Table, error) {
	var airports map[string]AirportInfo
	if err := json.Unmarshal(data, &airports); err != nil {
		return nil, fmt.Errorf("parse airport data: %w", err)
	}
	// Normalise keys so lookups are case-insensitive on the IATA code.
	normalised := make(map[string]AirportInfo, len(airports))
	for code, info := range airports {
		normalised[strings.ToUpper(strings.TrimSpace(code))] = info
	}
	return &Table{airports: normalised}, nil
}

// Lookup returns the reference info for an IATA code.
func (t *Table) Lookup(iata string) (AirportInfo, bool) {
	info, ok := t.airports[strings.ToUpper(strings.TrimSpace(iata))]
	return info, ok
}

// Len returns the number of airports in the table.
func (t *Table) Len() int {
	return len(t.airports)
}
