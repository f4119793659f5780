package backends

import "errors"

// ErrNotFound is returned when a host has no exact match and no
// "default" entry exists either.
var ErrNotFound = errors.New("backends: no route")

// Dispatcher maps an SNI host name to a resolved backend. It is
// populated once at startup and never mutated afterward, so it needs no
// synchronization: every session shares it by borrow.
type Dispatcher struct {
	entries map[string]Entry
}

// NewDispatcher wraps a resolved host → Entry map for lookup.
func NewDispatcher(entries map[string]Entry) *Dispatcher {
	return &Dispatcher{entries: entries}
}

// Lookup returns the backend for host, falling back to the entry stored
// under DefaultKey. Matching is exact byte equality only: no case
// folding, trailing-dot handling, or wildcarding.
func (d *Dispatcher) Lookup(host string) (Entry, error) {
	if e, ok := d.entries[host]; ok {
		return e, nil
	}
	if e, ok := d.entries[DefaultKey]; ok {
		return e, nil
	}
	return Entry{}, ErrNotFound
}
