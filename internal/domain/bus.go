package domain

// EventType classifies a session event.
type EventType string

const (
	EventMessageAppended EventType = "message_appended"
	EventStateChanged    EventType = "state_changed"
	EventWarning         EventType = "warning"
)

// Event is published by the session controller whenever its state changes.
type Event struct {
	Type    EventType
	Message *Message // set for EventMessageAppended
	Warning string   // set for EventWarning
}

// EventBus fans session events out to the front ends.
type EventBus interface {
	Publish(ev Event)
	Subscribe(name string, handler func(Event))
	Unsubscribe(name string)
	Close()
}
