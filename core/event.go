package core

import (
	"strings"
	"time"
)

// Event represents a single unit of telemetry entering the decision pipeline:
// an access attempt, a login, a network observation. Fields carries the
// source-specific payload and is the map conditions resolve against.
type Event struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	ActorID   string                 `json:"actor_id"`
	Resource  string                 `json:"resource"`
	Action    string                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Context flattens the event into the map the condition evaluator walks.
// Top-level identity fields are always present; payload fields are reachable
// both at the top level and under "fields.".
func (e *Event) Context() map[string]interface{} {
	ctx := map[string]interface{}{
		"event_id":   e.EventID,
		"event_type": e.EventType,
		"actor_id":   e.ActorID,
		"resource":   e.Resource,
		"action":     e.Action,
		"timestamp":  e.Timestamp,
	}
	if e.Fields != nil {
		ctx["fields"] = e.Fields
		for k, v := range e.Fields {
			if _, shadowed := ctx[k]; !shadowed {
				ctx[k] = v
			}
		}
	}
	return ctx
}

// ResolveField walks a dot-separated path through nested maps. A missing
// intermediate key, a non-map intermediate value, or an empty path resolves
// to nil. It never panics regardless of the shapes in the map.
func ResolveField(context map[string]interface{}, path string) interface{} {
	if context == nil || path == "" {
		return nil
	}

	parts := strings.Split(path, ".")
	var current interface{} = context
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// EventSource supplies time-windowed telemetry to sweeps and behavioral
// checks. Implementations are external collaborators (storage, ingest).
type EventSource interface {
	// RecentEvents returns events matching the filter, newest first.
	RecentEvents(filter EventFilter) ([]Event, error)
}

// EventFilter narrows a RecentEvents query. Zero values are wildcards.
type EventFilter struct {
	ActorID   string
	EventType string
	Since     time.Time
	Limit     int
}
