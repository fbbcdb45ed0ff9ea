package session

// SessionTranslator converts between this package's Session and a
// framework's native session type. Adapters implement it next to their
// framework integration; the store itself never interprets Framework or
// Extensions, so translators own that mapping entirely.
type SessionTranslator[S any] interface {
	// ToFramework builds the framework's session from a stored one.
	ToFramework(s *Session) (S, error)

	// FromFramework extracts the stored representation, typically filling
	// Framework and Extensions.
	FromFramework(s S) (*Session, error)
}

// EventTranslator converts between stored events and a framework's native
// message or event type. RawEvent is the adapter's side channel: translators
// that cannot round-trip through Content alone stash the verbatim serialized
// event there and prefer it on the way back.
type EventTranslator[E any] interface {
	// ToFramework rebuilds the framework's event.
	ToFramework(e *Event) (E, error)

	// FromFramework extracts the storable representation.
	FromFramework(e E) (*Event, error)
}
