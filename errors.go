package deploykit

import (
	"context"
	"errors"
)

// Framework errors
var (
	// Lifecycle errors
	ErrStartFailed   = errors.New("start failed")
	ErrStopFailed    = errors.New("stop failed")
	ErrRestartFailed = errors.New("restart failed")
	ErrInitFailed    = errors.New("initialization failed")

	// Entity management errors
	ErrEntityNotManaged      = errors.New("entity is not managed")
	ErrEntityAlreadyManaged  = errors.New("entity is already managed")
	ErrManagementNotRunning  = errors.New("management context is not running")
	ErrNoManagementContext   = errors.New("entity has no management context")
	ErrForeignEntity         = errors.New("entity was not created by this management context")
	ErrUsageManagerMissing   = errors.New("usage manager unavailable")
	ErrApplicationNotFound   = errors.New("application not found")
	ErrEnricherTagEmpty      = errors.New("enricher tag cannot be empty")
	ErrEnricherAlreadyBound  = errors.New("enricher is already attached to an entity")
	ErrObserverAlreadyExists = errors.New("observer already registered")

	// Entity spec errors
	ErrSpecFactoryNil    = errors.New("entity spec has no factory")
	ErrSpecFactoryResult = errors.New("entity spec factory returned nil")
	ErrNestedApplication = errors.New("nested applications are not supported")

	// Configuration errors
	ErrConfigInvalid = errors.New("invalid management config")
)

// IsInterrupted reports whether err represents cancellation of the calling
// operation rather than a failure of the work itself. Interruptions are
// propagated unchanged and never recorded as lifecycle failures.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
