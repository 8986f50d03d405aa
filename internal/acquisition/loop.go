// Package acquisition runs the fixed-period poll cycle of one device group:
// read every block, decode it, insert it, and keep going through bus and
// database outages.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/decoder"
	"github.com/KevinKickass/dbscada/internal/types"
)

// Session is one field-bus connection. Implemented by modbus.Session.
type Session interface {
	Name() string
	Endpoint() types.DeviceEndpoint
	Connect(ctx context.Context) error
	IsConnected() bool
	State() types.ConnectionState
	ReadBlock(spec types.BlockSpec) (types.RegisterBlock, error)
	Close() error
}

// Sink persists records. Implemented by storage.Sink.
type Sink interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	State() types.ConnectionState
	Insert(ctx context.Context, rec types.TelemetryRecord) error
	Close() error
}

// Observer receives every record after its insert committed.
// Implementations must not block.
type Observer interface {
	Observe(rec types.TelemetryRecord)
}

type DegradePolicy string

const (
	// PolicyAny skips the cycle when any session of the group is down.
	PolicyAny DegradePolicy = "any"
	// PolicyAll skips only when every session is down.
	PolicyAll DegradePolicy = "all"
)

func ParsePolicy(s string) (DegradePolicy, error) {
	switch DegradePolicy(s) {
	case PolicyAny, "":
		return PolicyAny, nil
	case PolicyAll:
		return PolicyAll, nil
	default:
		return "", fmt.Errorf("%w: unknown group degrade policy %q", types.ErrConfig, s)
	}
}

// CycleResult describes one pass and how long to wait before the next.
type CycleResult struct {
	Skipped  bool
	Inserted int
	Sleep    time.Duration
}

type Loop struct {
	name     string
	period   time.Duration
	backoff  time.Duration
	policy   DegradePolicy
	sessions []Session
	layouts  map[types.TableID]*decoder.Layout
	sink     Sink

	observers []Observer
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) bool

	mu        sync.RWMutex
	stats     Stats
	lastCycle time.Time
}

type Option func(*Loop)

func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

func WithPolicy(p DegradePolicy) Option {
	return func(l *Loop) { l.policy = p }
}

func WithBackoff(d time.Duration) Option {
	return func(l *Loop) { l.backoff = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithSleeper replaces the context-aware timer wait. The function returns
// false when the loop should stop.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(l *Loop) { l.sleep = sleep }
}

const defaultBackoff = 5 * time.Second

func NewLoop(name string, period time.Duration, sessions []Session, layouts []*decoder.Layout, sink Sink, logger *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		name:     name,
		period:   period,
		backoff:  defaultBackoff,
		policy:   PolicyAny,
		sessions: sessions,
		layouts:  make(map[types.TableID]*decoder.Layout, len(layouts)),
		sink:     sink,
		logger:   logger.Named("acquisition").With(zap.String("group", name)),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, layout := range layouts {
		l.layouts[layout.Table] = layout
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Name() string {
	return l.name
}

// Run polls until ctx is cancelled. Cancellation is observed between
// cycles only. Sessions and sink are closed on every exit path.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeAll()

	l.logger.Info("Poll loop started",
		zap.Duration("period", l.period),
		zap.Duration("backoff", l.backoff),
		zap.String("policy", string(l.policy)),
		zap.Int("devices", len(l.sessions)))

	for {
		if ctx.Err() != nil {
			l.logger.Info("Poll loop stopped")
			return nil
		}

		res := l.RunCycle(ctx)

		if !l.sleep(ctx, res.Sleep) {
			l.logger.Info("Poll loop stopped")
			return nil
		}
	}
}

// RunCycle performs one acquisition pass.
func (l *Loop) RunCycle(ctx context.Context) CycleResult {
	defer l.markCycle()
	l.count(func(s *Stats) { s.Cycles++ })

	if !l.sink.IsConnected() {
		if err := l.sink.Connect(ctx); err != nil {
			l.logger.Warn("Database unavailable, skipping cycle", zap.Error(err), zap.Duration("backoff", l.backoff))
			return l.skip()
		}
		l.logger.Info("Database connection established")
	}

	live := l.connectSessions(ctx)
	switch {
	case len(live) == 0:
		l.logger.Warn("No device reachable, skipping cycle", zap.Duration("backoff", l.backoff))
		return l.skip()
	case len(live) < len(l.sessions) && l.policy == PolicyAny:
		l.logger.Warn("Device group incomplete, skipping cycle",
			zap.Int("connected", len(live)),
			zap.Int("devices", len(l.sessions)),
			zap.Duration("backoff", l.backoff))
		return l.skip()
	}

	blocks, lost := l.readBlocks(live)

	// Inserts of an already started cycle run to completion.
	insertCtx := context.WithoutCancel(ctx)

	res := CycleResult{Sleep: l.period}
	for _, rb := range blocks {
		if err := l.persist(insertCtx, rb); err != nil {
			if errors.Is(err, types.ErrConnectionLost) {
				l.count(func(s *Stats) { s.ConnectionLosses++ })
				l.logger.Error("Database connection lost, aborting cycle",
					zap.String("table", string(rb.block.Spec.Table)),
					zap.Error(err),
					zap.Duration("backoff", l.backoff))
				res.Sleep = l.backoff
				return res
			}
			continue
		}
		res.Inserted++
	}

	if lost {
		res.Sleep = l.backoff
	}
	return res
}

type readBlock struct {
	block types.RegisterBlock
	at    time.Time
}

func (l *Loop) connectSessions(ctx context.Context) []Session {
	live := make([]Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		if !s.IsConnected() {
			if err := s.Connect(ctx); err != nil {
				l.logger.Warn("Device connect failed",
					zap.String("device", s.Name()),
					zap.Error(err))
				continue
			}
		}
		live = append(live, s)
	}
	return live
}

// readBlocks reads in declaration order. An exception reply drops one
// block; a transport failure drops the rest of that device for this cycle.
func (l *Loop) readBlocks(live []Session) ([]readBlock, bool) {
	var (
		out  []readBlock
		lost bool
	)

	for _, s := range live {
		for _, spec := range s.Endpoint().Blocks {
			block, err := s.ReadBlock(spec)
			if err != nil {
				lost = true
				l.count(func(st *Stats) { st.ReadErrors++ })
				l.logger.Error("Device read failed, connection closed",
					zap.String("device", s.Name()),
					zap.String("table", string(spec.Table)),
					zap.Uint16("address", spec.Start),
					zap.Uint16("count", spec.Count),
					zap.Error(err))
				break
			}
			if block.Failed() {
				l.count(func(st *Stats) { st.Exceptions++ })
				l.logger.Warn("Device answered with exception, table skipped",
					zap.String("device", s.Name()),
					zap.String("table", string(spec.Table)),
					zap.Uint16("address", spec.Start),
					zap.Error(block.Err))
				continue
			}
			out = append(out, readBlock{block: block, at: l.now()})
		}
	}
	return out, lost
}

func (l *Loop) persist(ctx context.Context, rb readBlock) error {
	table := rb.block.Spec.Table
	layout, ok := l.layouts[table]
	if !ok {
		l.count(func(s *Stats) { s.DecodeErrors++ })
		l.logger.Error("No layout for table", zap.String("table", string(table)))
		return fmt.Errorf("%w: no layout for table %s", types.ErrDecode, table)
	}

	rec, err := layout.Decode(rb.block, rb.at)
	if err != nil {
		l.count(func(s *Stats) { s.DecodeErrors++ })
		l.logger.Error("Decode failed, record dropped",
			zap.String("device", rb.block.Device),
			zap.String("table", string(table)),
			zap.Error(err))
		return err
	}

	if err := l.sink.Insert(ctx, rec); err != nil {
		if !errors.Is(err, types.ErrConnectionLost) {
			l.count(func(s *Stats) { s.InsertErrors++ })
			l.logger.Error("Insert rejected, record dropped",
				zap.String("table", string(table)),
				zap.Error(err))
		}
		return err
	}

	l.count(func(s *Stats) { s.Inserted++ })
	for _, o := range l.observers {
		o.Observe(rec)
	}
	return nil
}

func (l *Loop) skip() CycleResult {
	l.count(func(s *Stats) { s.Skipped++ })
	return CycleResult{Skipped: true, Sleep: l.backoff}
}

func (l *Loop) closeAll() {
	for _, s := range l.sessions {
		if err := s.Close(); err != nil {
			l.logger.Warn("Device close failed", zap.String("device", s.Name()), zap.Error(err))
		}
	}
	if err := l.sink.Close(); err != nil {
		l.logger.Warn("Database close failed", zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
