// Package system manages the lifecycle of the application's services.
package system

import "context"

// Service is a lifecycle-managed component. The manager starts registered
// services in order and stops them in reverse, so a service may rely on
// everything registered before it being up.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
