// Package startup manages ordered startup and shutdown of service
// dependencies.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// StartupDependency is a service dependency that can be started and stopped.
type StartupDependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Manager struct {
	logger       ectologger.Logger
	dependencies []StartupDependency
	started      []StartupDependency
	maxRetries   int
}

func NewManager(logger ectologger.Logger, dependencies ...StartupDependency) *Manager {
	return &Manager{
		logger:       logger,
		dependencies: dependencies,
		maxRetries:   8,
	}
}

// Start starts all dependencies in dependency order. Each dependency is
// retried with fibonacci backoff before giving up.
func (m *Manager) Start(ctx context.Context) error {
	ordered, err := m.order()
	if err != nil {
		return err
	}

	for _, dep := range ordered {
		if err := m.startWithRetry(ctx, dep); err != nil {
			return fmt.Errorf("failed to start %s: %w", dep.GetName(), err)
		}
		m.started = append(m.started, dep)
		m.logger.Infof("started %s", dep.GetName())
	}

	return nil
}

// Stop stops all started dependencies in reverse order.
func (m *Manager) Stop(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		dep := m.started[i]
		if err := dep.Stop(ctx); err != nil {
			m.logger.WithError(err).Errorf("failed to stop %s", dep.GetName())
			continue
		}
		m.logger.Infof("stopped %s", dep.GetName())
	}
	m.started = nil
}

func (m *Manager) startWithRetry(ctx context.Context, dep StartupDependency) error {
	var err error
	prev, curr := 0, 1
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if err = dep.Start(ctx); err == nil {
			return nil
		}

		wait := time.Duration(curr) * time.Second
		m.logger.WithError(err).Warnf("failed to start %s, retrying in %v", dep.GetName(), wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		prev, curr = curr, prev+curr
	}
	return err
}

// order resolves the dependency graph into a start order. Returns an error
// on a missing or cyclic dependency.
func (m *Manager) order() ([]StartupDependency, error) {
	byName := make(map[string]StartupDependency, len(m.dependencies))
	for _, dep := range m.dependencies {
		byName[dep.GetName()] = dep
	}

	var ordered []StartupDependency
	state := make(map[string]int) // 0 unvisited, 1 visiting, 2 done

	var visit func(dep StartupDependency) error
	visit = func(dep StartupDependency) error {
		switch state[dep.GetName()] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("dependency cycle involving %s", dep.GetName())
		}
		state[dep.GetName()] = 1

		for _, name := range dep.DependsOn() {
			upstream, ok := byName[name]
			if !ok {
				return fmt.Errorf("%s depends on unknown dependency %s", dep.GetName(), name)
			}
			if err := visit(upstream); err != nil {
				return err
			}
		}

		state[dep.GetName()] = 2
		ordered = append(ordered, dep)
		return nil
	}

	for _, dep := range m.dependencies {
		if err := visit(dep); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}
