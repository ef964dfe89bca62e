package entity

// Record is one raw, untyped document as returned by a backing store.
type Record struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// FilterOp enumerates the filter operators understood by every source.
type FilterOp string

const (
	OpEqual         FilterOp = "EQUAL"
	OpArrayContains FilterOp = "ARRAY_CONTAINS"
)

// Filter is one attribute predicate of a Query.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// Query is the logical collection query shared by the primary and secondary sources.
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters"`
	Limit      int      `json:"limit"`
}

// PresenceChange is one live presence notification for a provider.
// Removed is set when the document was deleted or left the public pool.
type PresenceChange struct {
	ID           string       `json:"id"`
	IsOnline     bool         `json:"isOnline"`
	Availability Availability `json:"availability,omitempty"`
	BusyReason   string       `json:"busyReason,omitempty"`
	Removed      bool         `json:"removed,omitempty"`
}

// Normalize fills Availability from IsOnline when absent and forces
// removed providers offline.
func (c PresenceChange) Normalize() PresenceChange {
	if c.Removed {
		c.IsOnline = false
		c.Availability = AvailabilityOffline
		c.BusyReason = ""
		return c
	}
	if c.Availability == "" {
		if c.IsOnline {
			c.Availability = AvailabilityAvailable
		} else {
			c.Availability = AvailabilityOffline
		}
	}
	return c
}
