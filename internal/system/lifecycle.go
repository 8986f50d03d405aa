package system

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KevinKickass/dbscada/internal/acquisition"
	"github.com/KevinKickass/dbscada/internal/api/rest"
	"github.com/KevinKickass/dbscada/internal/api/websocket"
	"github.com/KevinKickass/dbscada/internal/interfaces"
)

var (
	// ErrLoopPanic marks a poll loop that died from a panic.
	ErrLoopPanic = errors.New("poll loop panicked")

	// ErrShutdownTimeout means not every loop returned before the deadline.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// GroupRunner is one device group's poll loop.
type GroupRunner interface {
	Name() string
	Run(ctx context.Context) error
	Status() acquisition.Status
}

// Component is an auxiliary service stopped after every loop returned.
type Component interface {
	Name() string
	Close() error
}

// Supervisor runs one poll loop per device group and owns the status API.
type Supervisor struct {
	runID     uuid.UUID
	runners   []GroupRunner
	logger    *zap.Logger
	hub       *websocket.Hub
	httpAddr  string
	startedAt time.Time

	restServer *rest.Server
	stopHub    context.CancelFunc
	components []Component

	stateMu      sync.RWMutex
	currentState SystemState

	cancel  context.CancelFunc
	started chan struct{}
	done    chan struct{}
	runErr  error

	shutdownOnce sync.Once
	shutdownErr  error
}

type Option func(*Supervisor)

// WithStatusAPI serves the status API on addr. An empty addr disables it.
func WithStatusAPI(addr string, hub *websocket.Hub) Option {
	return func(s *Supervisor) {
		s.httpAddr = addr
		s.hub = hub
	}
}

// WithComponents registers services closed during shutdown, in order.
func WithComponents(components ...Component) Option {
	return func(s *Supervisor) {
		s.components = append(s.components, components...)
	}
}

func WithRunID(id uuid.UUID) Option {
	return func(s *Supervisor) { s.runID = id }
}

func NewSupervisor(runners []GroupRunner, logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		runID:        uuid.New(),
		runners:      runners,
		currentState: StateInitializing,
		started:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.Named("supervisor").With(zap.String("run_id", s.runID.String()))
	return s
}

// Run starts every loop and blocks until all of them returned. A loop that
// panics cancels the others; Run then returns an error wrapping ErrLoopPanic.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.stateMu.Lock()
	s.cancel = cancel
	s.startedAt = time.Now()
	s.stateMu.Unlock()

	defer close(s.done)
	close(s.started)

	if s.httpAddr != "" {
		server := rest.NewServer(s.httpAddr, s, s.hub, s.logger)
		s.stateMu.Lock()
		s.restServer = server
		if s.hub != nil {
			// The hub outlives the loops until the API is down.
			hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
			s.stopHub = stopHub
			go s.hub.Run(hubCtx)
		}
		s.stateMu.Unlock()
		if err := server.Start(); err != nil {
			s.setState(StateError)
			s.runErr = fmt.Errorf("failed to start status API: %w", err)
			return s.runErr
		}
	}

	s.logger.Info("Starting acquisition", zap.Int("groups", len(s.runners)))
	s.setState(StateRunning)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		r := r
		g.Go(func() error {
			return s.runGroup(gctx, r)
		})
	}

	s.runErr = g.Wait()
	if s.runErr != nil {
		s.logger.Error("Acquisition stopped with error", zap.Error(s.runErr))
		s.setState(StateError)
	} else {
		s.logger.Info("All poll loops returned")
	}
	return s.runErr
}

func (s *Supervisor) runGroup(ctx context.Context, r GroupRunner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Poll loop panic recovered",
				zap.String("group", r.Name()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: group %s: %v", ErrLoopPanic, r.Name(), p)
		}
	}()

	return r.Run(ctx)
}

// Shutdown cancels every loop, waits for them within ctx, then stops the
// status API and closes components. Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down acquisition")
		s.setState(StateStopping)

		s.shutdownErr = s.gracefulShutdown(ctx)

		if s.shutdownErr != nil {
			s.setState(StateError)
			return
		}
		s.setState(StateStopped)
	})

	return s.shutdownErr
}

func (s *Supervisor) gracefulShutdown(ctx context.Context) error {
	var errs []error

	select {
	case <-s.started:
		s.stateMu.RLock()
		cancel := s.cancel
		s.stateMu.RUnlock()
		cancel()

		select {
		case <-s.done:
			s.logger.Info("Poll loops stopped")
		case <-ctx.Done():
			s.logger.Warn("Shutdown timeout, poll loops still running")
			errs = append(errs, ErrShutdownTimeout)
		}
	default:
	}

	s.stateMu.RLock()
	server, stopHub := s.restServer, s.stopHub
	s.stateMu.RUnlock()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}
	if stopHub != nil {
		stopHub()
	}

	for _, c := range s.components {
		if err := c.Close(); err != nil {
			s.logger.Warn("Component close failed", zap.String("component", c.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s close failed: %w", c.Name(), err))
		}
	}

	if len(errs) == 0 {
		s.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (s *Supervisor) setState(state SystemState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.currentState == state {
		return
	}
	if err := ValidateTransition(s.currentState, state); err != nil {
		s.logger.Debug("Ignoring state change", zap.Error(err))
		return
	}
	s.currentState = state
}

func (s *Supervisor) State() SystemState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.currentState
}

// GetCurrentStatus implements interfaces.StatusProvider.
func (s *Supervisor) GetCurrentStatus() interfaces.SystemStatus {
	s.stateMu.RLock()
	status := interfaces.SystemStatus{
		RunID:     s.runID.String(),
		State:     s.currentState.String(),
		StartedAt: s.startedAt,
		Groups:    make([]acquisition.Status, 0, len(s.runners)),
	}
	s.stateMu.RUnlock()

	for _, r := range s.runners {
		status.Groups = append(status.Groups, r.Status())
	}
	if s.hub != nil {
		status.LiveClients = s.hub.GetClientCount()
	}
	return status
}

func (s *Supervisor) GroupStatus(name string) (acquisition.Status, bool) {
	for _, r := range s.runners {
		if r.Name() == name {
			return r.Status(), true
		}
	}
	return acquisition.Status{}, false
}
