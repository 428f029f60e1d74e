// Package system manages the lifecycle of long-running components.
package system

import (
	"context"
	"fmt"

	"github.com/mhollis/bookstore/pkg/logger"
)

// Service is a component with a managed lifecycle. Start must return promptly,
// launching background work on its own goroutines; Stop blocks until that work
// has wound down or ctx expires.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	services []Service
	started  []Service
	log      *logger.Logger
}

func NewManager() *Manager {
	return &Manager{log: logger.NewDefault("system")}
}

// Register appends a service. Not safe to call after Start.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start brings every registered service up. On failure the services already
// started are stopped in reverse order before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	for _, svc := range m.services {
		m.log.WithField("service", svc.Name()).Info("starting service")
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service failed to start")
			m.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
	}
	return nil
}

// Stop shuts down all started services in reverse order, collecting the first
// error but always attempting every stop.
func (m *Manager) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		m.log.WithField("service", svc.Name()).Info("stopping service")
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Error("service failed to stop")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}
	m.started = nil
	return firstErr
}

func (m *Manager) stopStarted(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		_ = m.started[i].Stop(ctx)
	}
	m.started = nil
}
