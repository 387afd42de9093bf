// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

// Sink receives named events with arbitrary payloads, fanned out to one
// attached client (spec.md §3).
type Sink interface {
	Emit(event string, payload any)
}

// Connections is the registry of attached clients. Insertion order is
// irrelevant; on attach, the new sink immediately receives a snapshot of
// the current machine state and sender status.
type Connections struct {
	sinks map[string]Sink
}

// NewConnections returns an empty registry.
func NewConnections() *Connections {
	return &Connections{sinks: make(map[string]Sink)}
}

// Add registers sink under id and sends it the current snapshots. state
// and sender may be nil/zero when there is nothing to report yet.
func (c *Connections) Add(id string, sink Sink, state *Status, sender *SenderSnapshot) {
	c.sinks[id] = sink
	if state != nil {
		sink.Emit("controller:state", *state)
	}
	if sender != nil && (sender.Total > 0 || sender.Name != "") {
		sink.Emit("sender:status", *sender)
	}
}

// Remove drops the sink registered under id.
func (c *Connections) Remove(id string) {
	delete(c.sinks, id)
}

// Clear empties the registry, e.g. when the port is closed.
func (c *Connections) Clear() {
	c.sinks = make(map[string]Sink)
}

// Len returns the number of attached sinks.
func (c *Connections) Len() int {
	return len(c.sinks)
}

// Broadcast emits event/payload to every attached sink.
func (c *Connections) Broadcast(event string, payload any) {
	for _, sink := range c.sinks {
		sink.Emit(event, payload)
	}
}
