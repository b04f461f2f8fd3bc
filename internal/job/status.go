package job

// Status is the lifecycle state of an import job. Values are stored verbatim
// in the estado column and exposed to pollers unchanged.
type Status string

const (
	StatusQueued     Status = "EN_COLA"
	StatusProcessing Status = "PROCESANDO"
	StatusCompleted  Status = "COMPLETADO"
	StatusFailed     Status = "FALLIDO"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no worker-driven transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition encodes the forward-only graph:
//
//	EN_COLA -> PROCESANDO -> {COMPLETADO, FALLIDO}
//
// Restarting a PROCESANDO run only happens through Job.Reclaim and returning
// a FALLIDO job to EN_COLA only through Job.Retry.
func canTransition(from, to Status) bool {
	switch to {
	case StatusProcessing:
		return from == StatusQueued
	case StatusCompleted, StatusFailed:
		return from == StatusProcessing
	default:
		return false
	}
}
