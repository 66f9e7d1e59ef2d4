// Package events publishes flight status updates to NATS so downstream
// consumers (alerting, dashboards) can react without polling the store.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"flight_monitor/internal/storage"
)

// SubjectPrefix is prepended to the flight number to form the publish subject.
const SubjectPrefix = "flights.status"

// StatusEvent is the wire shape of one published status update.
type StatusEvent struct {
	FlightNumber string     `json:"flight_number"`
	Status       string     `json:"status"`
	UpdateTime   time.Time  `json:"update_time"`
	DelayMinutes *int       `json:"delay_minutes,omitempty"`
	DelayReason  *string    `json:"delay_reason,omitempty"`
	ActualDep    *time.Time `json:"actual_departure,omitempty"`
	EstimatedDep *time.Time `json:"estimated_departure,omitempty"`
}

// Publisher publishes status updates to a NATS server.
type Publisher struct {
	conn *nats.Conn
}

// Connect connects to the NATS server at url.
func Connect(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("flight-monitor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// PublishStatusUpdate publishes one status update under
// flights.status.<flight_number>.
func (p *Publisher) PublishStatusUpdate(flightNumber string, update storage.StatusUpdate) error {
	subject, payload, err := buildMessage(flightNumber, update)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// buildMessage forms the subject and JSON payload for one update. Flight
// numbers are used verbatim except that spaces (invalid in NATS subjects) are
// stripped.
func buildMessage(flightNumber string, update storage.StatusUpdate) (string, []byte, error) {
	token := strings.ReplaceAll(flightNumber, " ", "")
	subject := SubjectPrefix + "." + token

	payload, err := json.Marshal(StatusEvent{
		FlightNumber: flightNumber,
		Status:       update.Status,
		UpdateTime:   update.UpdateTime,
		DelayMinutes: update.DelayMinutes,
		DelayReason:  update.DelayReason,
		ActualDep:    update.ActualDeparture,
		EstimatedDep: update.EstimatedDeparture,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal status event: %w", err)
	}
	return subject, payload, nil
}
