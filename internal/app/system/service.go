package system

import "context"

// Service represents a lifecycle-managed component. Node modules (collector
// supervisor, RPC server, reconciler) implement it so the manager can start
// and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
