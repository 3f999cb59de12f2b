package types

// Event represents a typed event emitted while applying ledger operations.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute, or "" when the event does not carry
// it.
func (e Event) Attribute(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
