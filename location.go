package deploykit

// Location is an opaque handle to a deployment target. The framework only
// uses its identity; locations are passed through start unchanged.
type Location interface {
	ID() string
	DisplayName() string
}

// SimpleLocation is a named location with a generated identity.
type SimpleLocation struct {
	id   string
	name string
}

// NewLocation creates a location with a fresh ID.
func NewLocation(name string) *SimpleLocation {
	return &SimpleLocation{id: newID(), name: name}
}

// ID implements Location
func (l *SimpleLocation) ID() string { return l.id }

// DisplayName implements Location
func (l *SimpleLocation) DisplayName() string { return l.name }

// String returns the display name
func (l *SimpleLocation) String() string { return l.name }

func locationIDs(locations []Location) []string {
	ids := make([]string, 0, len(locations))
	for _, l := range locations {
		ids = append(ids, l.ID())
	}
	return ids
}
