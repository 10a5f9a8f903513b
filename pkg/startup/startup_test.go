package startup

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDep struct {
	name    string
	needs   []string
	started *[]string
	stopped *[]string
	err     error
}

func (f *fakeDep) GetName() string     { return f.name }
func (f *fakeDep) DependsOn() []string { return f.needs }

func (f *fakeDep) Start(context.Context) error {
	if f.err != nil {
		return f.err
	}
	*f.started = append(*f.started, f.name)
	return nil
}

func (f *fakeDep) Stop(context.Context) error {
	*f.stopped = append(*f.stopped, f.name)
	return nil
}

func TestManager(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	t.Run("should start dependencies before their dependents", func(t *testing.T) {
		var started, stopped []string
		manager := NewManager(logger,
			&fakeDep{name: "server", needs: []string{"database", "queue"}, started: &started, stopped: &stopped},
			&fakeDep{name: "queue", needs: []string{"database"}, started: &started, stopped: &stopped},
			&fakeDep{name: "database", started: &started, stopped: &stopped},
		)

		require.NoError(t, manager.Start(context.Background()))
		assert.Equal(t, []string{"database", "queue", "server"}, started)
	})

	t.Run("should stop in reverse start order", func(t *testing.T) {
		var started, stopped []string
		manager := NewManager(logger,
			&fakeDep{name: "server", needs: []string{"database"}, started: &started, stopped: &stopped},
			&fakeDep{name: "database", started: &started, stopped: &stopped},
		)

		require.NoError(t, manager.Start(context.Background()))
		manager.Stop(context.Background())
		assert.Equal(t, []string{"server", "database"}, stopped)
	})

	t.Run("should reject unknown dependencies", func(t *testing.T) {
		var started, stopped []string
		manager := NewManager(logger,
			&fakeDep{name: "server", needs: []string{"phantom"}, started: &started, stopped: &stopped},
		)

		assert.Error(t, manager.Start(context.Background()))
	})

	t.Run("should reject dependency cycles", func(t *testing.T) {
		var started, stopped []string
		manager := NewManager(logger,
			&fakeDep{name: "a", needs: []string{"b"}, started: &started, stopped: &stopped},
			&fakeDep{name: "b", needs: []string{"a"}, started: &started, stopped: &stopped},
		)

		assert.Error(t, manager.Start(context.Background()))
	})

	t.Run("should give up after exhausting retries", func(t *testing.T) {
		var started, stopped []string
		manager := NewManager(logger,
			&fakeDep{name: "flaky", started: &started, stopped: &stopped, err: fmt.Errorf("connection refused")},
		)
		manager.maxRetries = 1

		assert.Error(t, manager.Start(context.Background()))
		assert.Empty(t, started)
	})
}
