package topology

import "errors"

var (
	ErrNotFound       = errors.New("item not found")
	ErrDuplicateID    = errors.New("item id already exists")
	ErrParentNotFound = errors.New("parent item not found")
	ErrCycle          = errors.New("parent chain would form a cycle")
	ErrKindMismatch   = errors.New("item kind mismatch")
	ErrInvalidItem    = errors.New("invalid item")
)

// Correction records a configuration default applied while normalising an item.
type Correction struct {
	ItemID  string
	Field   string
	Message string
}
