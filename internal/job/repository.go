package job

import "context"

// Filter narrows List results. Zero values match everything; Limit defaults
// to 100.
type Filter struct {
	Status      Status
	SubmittedBy string
	Limit       int
}

// Repository persists job records.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, j *Job) error

	// UpdateIfStatus persists j only while the stored row is still in from
	// and on the same attempt (reintentos). Otherwise it returns ErrConflict,
	// or ErrNotFound when the job does not exist.
	UpdateIfStatus(ctx context.Context, j *Job, from Status) error
	List(ctx context.Context, f Filter) ([]Job, error)
}
