package hooks

import (
	"encoding/json"
	"fmt"
)

// Payload is the immutable value passed through a hook chain: an event name,
// the owning project path, and an event-specific data section. Rewrites go
// through WithData, which returns a new instance.
type Payload struct {
	event       string
	projectPath string
	data        map[string]any
}

// NewPayload builds a payload, copying data.
func NewPayload(event, projectPath string, data map[string]any) Payload {
	return Payload{event: event, projectPath: projectPath, data: copyMap(data)}
}

// Event returns the lifecycle event name.
func (p Payload) Event() string { return p.event }

// ProjectPath returns the owning project path.
func (p Payload) ProjectPath() string { return p.projectPath }

// Data returns a copy of the data section.
func (p Payload) Data() map[string]any { return copyMap(p.data) }

// Get returns one data field.
func (p Payload) Get(key string) (any, bool) {
	v, ok := p.data[key]
	return v, ok
}

// WithData returns a new payload carrying data, same event and project path.
func (p Payload) WithData(data map[string]any) Payload {
	return Payload{event: p.event, projectPath: p.projectPath, data: copyMap(data)}
}

// Encode renders the wire form written to a hook's stdin: the data section
// merged with the event name and project path.
func (p Payload) Encode() ([]byte, error) {
	wire := make(map[string]any, len(p.data)+2)
	for k, v := range p.data {
		wire[k] = v
	}
	wire["event"] = p.event
	wire["project_path"] = p.projectPath
	b, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode hook payload: %w", err)
	}
	return b, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
