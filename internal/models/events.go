package models

import (
	"encoding/json"
	"fmt"
)

// EventKind tags the stream event union.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventInsert    EventKind = "insert"
	EventUpdate    EventKind = "update"
	EventDelete    EventKind = "delete"
	EventExpire    EventKind = "expire"
	EventError     EventKind = "error"
)

// StreamEvent is one logical frame on the ride feed. Exactly one of Ride or
// RideID is set for the data-bearing kinds; Message is set for
// connected/error frames.
type StreamEvent struct {
	Kind    EventKind
	Ride    *Ride
	RideID  string
	Message string
}

// rawFrame mirrors the wire shape: control frames carry "type",
// data frames carry "operation".
type rawFrame struct {
	Type      string `json:"type,omitempty"`
	Operation string `json:"operation,omitempty"`
	Message   string `json:"message,omitempty"`
	Ride      *Ride  `json:"ride,omitempty"`
	RideID    string `json:"rideId,omitempty"`
}

// ParseStreamEvent validates a frame payload at the boundary. Anything that
// does not decode into a known kind with its required fields is rejected
// here so the reconciler only ever sees well-formed events.
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	var f rawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return StreamEvent{}, fmt.Errorf("malformed frame: %w", err)
	}
	switch {
	case f.Type == "connected":
		return StreamEvent{Kind: EventConnected, Message: f.Message}, nil
	case f.Type == "error":
		return StreamEvent{Kind: EventError, Message: f.Message}, nil
	case f.Operation == "insert" || f.Operation == "update" || f.Operation == "expire":
		if f.Ride == nil || f.Ride.ID == "" {
			return StreamEvent{}, fmt.Errorf("%s frame without ride", f.Operation)
		}
		return StreamEvent{Kind: EventKind(f.Operation), Ride: f.Ride}, nil
	case f.Operation == "delete":
		if f.RideID == "" {
			return StreamEvent{}, fmt.Errorf("delete frame without rideId")
		}
		return StreamEvent{Kind: EventDelete, RideID: f.RideID}, nil
	}
	return StreamEvent{}, fmt.Errorf("unknown frame type=%q operation=%q", f.Type, f.Operation)
}

// MarshalFrame renders the event back to its wire payload.
func (e StreamEvent) MarshalFrame() ([]byte, error) {
	switch e.Kind {
	case EventConnected, EventError:
		return json.Marshal(rawFrame{Type: string(e.Kind), Message: e.Message})
	case EventInsert, EventUpdate, EventExpire:
		if e.Ride == nil {
			return nil, fmt.Errorf("%s event without ride", e.Kind)
		}
		return json.Marshal(rawFrame{Operation: string(e.Kind), Ride: e.Ride})
	case EventDelete:
		if e.RideID == "" {
			return nil, fmt.Errorf("delete event without ride id")
		}
		return json.Marshal(rawFrame{Operation: "delete", RideID: e.RideID})
	}
	return nil, fmt.Errorf("unknown event kind %q", e.Kind)
}
