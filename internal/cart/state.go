package cart

import (
	"fmt"

	"github.com/safar/go-storefront/internal/models"
)

type LineState int

const (
	LineAbsent LineState = iota
	LinePendingCreate
	LinePersisted
	LinePendingUpdate
	LinePendingDelete
)

func (s LineState) String() string {
	switch s {
	case LineAbsent:
		return "absent"
	case LinePendingCreate:
		return "pending-create"
	case LinePersisted:
		return "persisted"
	case LinePendingUpdate:
		return "pending-update"
	case LinePendingDelete:
		return "pending-delete"
	}
	return fmt.Sprintf("LineState(%d)", int(s))
}

func (s LineState) Pending() bool {
	return s == LinePendingCreate || s == LinePendingUpdate || s == LinePendingDelete
}

// A line only reaches persisted from absent through pending-create.
// persisted -> persisted and persisted -> absent are reconciliation patches.
var lineNext = map[LineState]map[LineState]bool{
	LineAbsent:        {LinePendingCreate: true},
	LinePendingCreate: {LinePersisted: true, LineAbsent: true},
	LinePersisted:     {LinePendingUpdate: true, LinePendingDelete: true, LinePersisted: true, LineAbsent: true},
	LinePendingUpdate: {LinePersisted: true},
	LinePendingDelete: {LinePersisted: true, LineAbsent: true},
}

func CanTransition(from, to LineState) bool {
	return lineNext[from][to]
}

type line struct {
	models.CartLine
	state   LineState
	version uint64
}

func (l *line) moveTo(to LineState) error {
	if !CanTransition(l.state, to) {
		return fmt.Errorf("cart line %s: invalid transition %s -> %s", l.ID, l.state, to)
	}
	l.state = to
	return nil
}
