package shared

// EventCounter counts committed domain events, e.g. journal postings.
type EventCounter interface {
	IncDomainEvent(module, event string)
}

// NopEvents discards events.
type NopEvents struct{}

// IncDomainEvent implements EventCounter.
func (NopEvents) IncDomainEvent(string, string) {}
