package audit

import "context"

// Filter narrows the admin listing.
type Filter struct {
	Action  string
	ActorID string
	Since   string
	Limit   int
	Offset  int
	// SortAsc orders by ordinal ascending; default is newest first.
	SortAsc bool
}

// Repository persists entries. Append must be durable before return.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	MaxOrdinal(ctx context.Context) (uint64, error)
	List(ctx context.Context, f Filter) ([]Entry, int, error)
}
