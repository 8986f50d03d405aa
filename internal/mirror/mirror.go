// Package mirror forwards committed records to secondary sinks. A mirror
// never blocks the poll loop: records are queued and dropped when the
// queue is full.
package mirror

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/types"
)

const queueSize = 1024

// Mirror is a queued, fire-and-forget record forwarder.
type Mirror struct {
	name    string
	queue   chan types.TelemetryRecord
	publish func(types.TelemetryRecord) error
	release func()
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newMirror(name string, logger *zap.Logger, publish func(types.TelemetryRecord) error, release func()) *Mirror {
	m := &Mirror{
		name:    name,
		queue:   make(chan types.TelemetryRecord, queueSize),
		publish: publish,
		release: release,
		logger:  logger.Named("mirror").With(zap.String("mirror", name)),
	}

	m.wg.Add(1)
	go m.worker()

	return m
}

func (m *Mirror) Name() string {
	return m.name
}

// Observe queues rec for publishing.
func (m *Mirror) Observe(rec types.TelemetryRecord) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}

	select {
	case m.queue <- rec:
	default:
		if m.dropped.Add(1) == 1 {
			m.logger.Warn("Mirror queue full, dropping records")
		}
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()

	for rec := range m.queue {
		if err := m.publish(rec); err != nil {
			m.failed.Add(1)
			m.logger.Debug("Mirror publish failed",
				zap.String("table", string(rec.Table)),
				zap.Error(err))
			continue
		}
		m.sent.Add(1)
	}
}

// Close drains the queue and releases the underlying client.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	if m.release != nil {
		m.release()
	}

	m.logger.Info("Mirror closed",
		zap.Uint64("sent", m.sent.Load()),
		zap.Uint64("dropped", m.dropped.Load()),
		zap.Uint64("failed", m.failed.Load()))
	return nil
}

type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (m *Mirror) Stats() Stats {
	return Stats{
		Sent:    m.sent.Load(),
		Dropped: m.dropped.Load(),
		Failed:  m.failed.Load(),
	}
}
