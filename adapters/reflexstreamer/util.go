package reflexstreamer

// EventType satisfies reflex.EventType so that the service's integer event
// types can be written to and read from a reflex events table.
type EventType int

func (ev EventType) ReflexType() int {
	return int(ev)
}
