// Package system starts and stops the daemon's long-running components in order.
package system

import "context"

// Service represents a lifecycle-managed component. Start must return once the component
// is running; background work continues until Stop or until the Start context ends.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// FuncService adapts start and stop functions to Service.
type FuncService struct {
	ServiceName string
	StartFunc   func(ctx context.Context) error
	StopFunc    func(ctx context.Context) error
}

func (s FuncService) Name() string { return s.ServiceName }

func (s FuncService) Start(ctx context.Context) error {
	if s.StartFunc == nil {
		return nil
	}
	return s.StartFunc(ctx)
}

func (s FuncService) Stop(ctx context.Context) error {
	if s.StopFunc == nil {
		return nil
	}
	return s.StopFunc(ctx)
}
