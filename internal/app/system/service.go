package system

import "context"

// Service is a lifecycle-managed component. Long-running parts of the
// pipeline implement this interface so the manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
