package source

import "context"

// Source is a place raw signal lines are obtained from. The two variants
// (local file, remote HTTP endpoint) are selected at startup via config.
//
// Fetch returns the current raw content. ok=false means there is no pending
// signal right now, which is not an error. A non-nil error is a transient
// fetch failure the caller should count against its backoff budget.
//
// Clear removes the upstream artifact after successful processing. It is
// best-effort: a Clear failure is logged by the caller and never escalated,
// because dispatch-level dedup already guards against reprocessing.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (content string, ok bool, err error)
	Clear(ctx context.Context) error
}
