// Package aviation provides a client for the Aviation Stack flight data API.
// It is a thin authenticated GET wrapper: every non-2xx response and every
// error object embedded in a 2xx payload is normalised into a single
// descriptive error. There is no retry; failures surface once to the caller.
package aviation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"flight_monitor/internal/snapshot"
)

const defaultBaseURL = "http://api.aviationstack.com/v1"

// Client calls the Aviation Stack API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a client. The API key may be empty; requests then fail
// with a configuration error before any network call.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURL creates a client against a custom base URL (tests).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = baseURL
	return c
}

// StatusError is an error carrying the upstream HTTP status so callers can
// pass 401/429 through to their own clients.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string { return e.Message }

// FlightsPayload is the decoded response of a flights request. Data items are
// kept raw so the payload can be returned to callers unchanged; Snapshots
// holds the typed view of the same items for ingestion.
type FlightsPayload struct {
	Pagination json.RawMessage     `json:"pagination,omitempty"`
	Data       []json.RawMessage   `json:"data"`
	Snapshots  []snapshot.Snapshot `json:"-"`
}

// Filter keeps only the entries whose snapshot satisfies keep, preserving the
// raw payload alongside the typed view.
func (p *FlightsPayload) Filter(keep func(snapshot.Snapshot) bool) {
	var data []json.RawMessage
	var snaps []snapshot.Snapshot
	for i, s := range p.Snapshots {
		if keep(s) {
			data = append(data, p.Data[i])
			snaps = append(snaps, s)
		}
	}
	p.Data = data
	p.Snapshots = snaps
}

// LiveFlights fetches up to limit live flight snapshots.
func (c *Client) LiveFlights(ctx context.Context, limit int) (*FlightsPayload, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", limit))
	return c.flights(ctx, params)
}

// SearchParams are the optional filters for a flight search. Empty fields are
// omitted from the request.
type SearchParams struct {
	FlightNumber string
	AirlineCode  string
	DepIATA      string
	ArrIATA      string
}

// SearchFlights searches flights with the given filters.
func (c *Client) SearchFlights(ctx context.Context, p SearchParams) (*FlightsPayload, error) {
	params := url.Values{}
	if p.FlightNumber != "" {
		params.Set("flight_number", p.FlightNumber)
	}
	if p.AirlineCode != "" {
		params.Set("airline_code", p.AirlineCode)
	}
	if p.DepIATA != "" {
		params.Set("dep_iata", p.DepIATA)
	}
	if p.ArrIATA != "" {
		params.Set("arr_iata", p.ArrIATA)
	}
	return c.flights(ctx, params)
}

// AirlineRoutes fetches the routes flown by an airline.
func (c *Client) AirlineRoutes(ctx context.Context, airlineCode string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("airline_code", airlineCode)
	return c.get(ctx, "routes", params)
}

// AirportSchedules fetches the departure schedules for an airport.
func (c *Client) AirportSchedules(ctx context.Context, iataCode string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("dep_iata", iataCode)
	return c.get(ctx, "schedules", params)
}

func (c *Client) flights(ctx context.Context, params url.Values) (*FlightsPayload, error) {
	body, err := c.get(ctx, "flights", params)
	if err != nil {
		return nil, err
	}

	var payload FlightsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode flights response: %w", err)
	}

	payload.Snapshots = make([]snapshot.Snapshot, len(payload.Data))
	for i, raw := range payload.Data {
		// Tolerate malformed entries; they decode to an empty snapshot and
		// are skipped by the ingester's validation.
		_ = json.Unmarshal(raw, &payload.Snapshots[i])
	}
	return &payload, nil
}

// get performs one authenticated GET and normalises all failure modes.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("aviation stack API key is not configured")
	}

	params.Set("access_key", c.apiKey)
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, &StatusError{StatusCode: http.StatusUnauthorized, Message: "invalid API key or unauthorized access"}
	case http.StatusTooManyRequests:
		return nil, &StatusError{StatusCode: http.StatusTooManyRequests, Message: "API rate limit exceeded"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Aviation Stack reports some errors inside a 200 payload.
	var errEnvelope struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errEnvelope); err == nil && errEnvelope.Error != nil {
		msg := errEnvelope.Error.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("API error: %s", msg)
	}

	return body, nil
}
