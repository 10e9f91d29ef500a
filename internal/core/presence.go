package core

// Presence is the result of a marker lookup. A missing marker is a normal
// outcome, not an error.
type Presence int

const (
	NotFound Presence = iota
	Found
)

// String returns the lowercase token used in logs.
func (p Presence) String() string {
	switch p {
	case Found:
		return "found"
	default:
		return "not_found"
	}
}

// Exists reports whether a marker exists.
func (p Presence) Exists() bool {
	return p == Found
}
