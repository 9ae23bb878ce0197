// Package lifecycle stops the engine's components in a fixed order: intake
// first, then the scheduler's running tick, the notification queue, storage
// and finally the log buffers.
package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Phase groups shutdown hooks. Phases run in ascending order.
type Phase int

const (
	// PhaseIntake stops the HTTP and MCP surfaces so no new writes arrive.
	PhaseIntake Phase = iota
	// PhaseScheduler waits for an in-flight tick to persist and publish.
	PhaseScheduler
	// PhaseNotify drains events already queued for the sinks.
	PhaseNotify
	PhaseStorage
	PhaseFlush
)

var phaseNames = [...]string{"intake", "scheduler", "notify", "storage", "flush"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ShutdownFunc releases one component.
type ShutdownFunc func(ctx context.Context) error

type hook struct {
	phase Phase
	name  string
	fn    ShutdownFunc
}

type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []hook
}

func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{timeout: timeout, logger: logger.Named("lifecycle")}
}

// Register adds fn to phase. Hooks of one phase run in registration order.
func (m *Manager) Register(phase Phase, name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{phase: phase, name: name, fn: fn})
}

// Shutdown runs every hook once, phase by phase, under one overall timeout.
// A failing or timed out hook does not skip the later ones: storage is still
// closed after a stuck notification drain. Errors are joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	slices.SortStableFunc(hooks, func(a, b hook) int { return cmp.Compare(a.phase, b.phase) })

	var result error
	for _, h := range hooks {
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			m.logger.Error("shutdown hook failed",
				zap.Stringer("phase", h.phase),
				zap.String("component", h.name),
				zap.Error(err),
			)
			result = errors.Join(result, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Info("component stopped",
			zap.Stringer("phase", h.phase),
			zap.String("component", h.name),
			zap.Duration("took", time.Since(start)),
		)
	}
	return result
}

// Listen calls cancel on the first SIGINT or SIGTERM.
func (m *Manager) Listen(cancel context.CancelFunc) {
	if cancel == nil {
		return
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)
		sig := <-sigCh
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()
}
