// Copyright (C) 2024 Clyso GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package events mirrors dispatched notifier warnings onto a NATS
// subject, the way the teacher's diskhealthmetrics/nats.go publishes
// NormalizedSmartData as a NatsEvent. Purely an observability side
// channel: spec.md §4.4/§8's rate-limit semantics never depend on it.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// WarningEvent is the JSON payload published for every dispatched
// notifier warning (ported from the teacher's NatsEvent).
type WarningEvent struct {
	Device       string            `json:"device"`
	DeviceType   string            `json:"device_type"`
	FailureClass int               `json:"failure_class"`
	Severity     string            `json:"severity"` // "info" or "critical"
	Subject      string            `json:"subject"`
	Message      string            `json:"message"`
	Details      map[string]string `json:"details,omitempty"`
}

// Sink is the interface the notifier publishes through; Publish must
// never block the dispatch path on a slow or unreachable broker for
// long, so implementations should use a bounded timeout internally.
type Sink interface {
	Publish(event WarningEvent) error
}

// NatsSink publishes to a single subject over an already-connected
// *nats.Conn, the way PublishToNATS does for the teacher's metrics.
type NatsSink struct {
	Conn    *nats.Conn
	Subject string
}

func NewNatsSink(url, subject string) (*NatsSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NatsSink{Conn: conn, Subject: subject}, nil
}

func (s *NatsSink) Publish(event WarningEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal warning event: %w", err)
	}
	return s.Conn.Publish(s.Subject, payload)
}

func (s *NatsSink) Close() {
	if s.Conn != nil {
		s.Conn.Close()
	}
}
