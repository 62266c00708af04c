// Package lifecycle starts and stops long-running services in order.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
)

// Service is a unit managed by Manager.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  []Service
}

func New() *Manager { return &Manager{} }

func (m *Manager) Add(s Service) {
	m.mu.Lock()
	m.services = append(m.services, s)
	m.mu.Unlock()
}

// StartAll starts every service. On the first failure the services already
// started are stopped again and the start error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		if err := s.Start(ctx); err != nil {
			logger.ErrorJ("lifecycle", map[string]any{"op": "start", "service": s.Name(), "err": err.Error()})
			m.stopStarted(context.Background())
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
		m.started = append(m.started, s)
		logger.InfoJ("lifecycle", map[string]any{"op": "start", "service": s.Name(), "result": "ok"})
	}
	return nil
}

// StopAll stops started services in reverse order and returns all stop errors.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopStarted(ctx)
}

func (m *Manager) stopStarted(ctx context.Context) error {
	var errs error
	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]
		if err := s.Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", s.Name(), err))
			continue
		}
		logger.InfoJ("lifecycle", map[string]any{"op": "stop", "service": s.Name(), "result": "ok"})
	}
	m.started = nil
	return errs
}
