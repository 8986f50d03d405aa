package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/types"
)

// Session owns the Modbus TCP connection to one device.
// The goburrow client is not safe for concurrent use; all bus access
// goes through mu.
type Session struct {
	endpoint types.DeviceEndpoint
	logger   *zap.Logger
	wireLog  *log.Logger

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client

	state atomic.Int32
}

type Option func(*Session)

// WithWireLog bridges goburrow's frame logging into zap at debug level.
func WithWireLog() Option {
	return func(s *Session) {
		if l, err := zap.NewStdLogAt(s.logger, zap.DebugLevel); err == nil {
			s.wireLog = l
		}
	}
}

func NewSession(endpoint types.DeviceEndpoint, logger *zap.Logger, opts ...Option) *Session {
	s := &Session{
		endpoint: endpoint,
		logger:   logger.With(zap.String("device", endpoint.Name), zap.String("address", endpoint.Address())),
	}
	s.state.Store(int32(types.StateDisconnected))

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Name() string {
	return s.endpoint.Name
}

func (s *Session) Endpoint() types.DeviceEndpoint {
	return s.endpoint
}

func (s *Session) State() types.ConnectionState {
	return types.ConnectionState(s.state.Load())
}

func (s *Session) IsConnected() bool {
	return s.State() == types.StateConnected
}

// Connect stellt die TCP-Verbindung her. Bei Fehler bleibt die Session Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.IsConnected() {
		return nil
	}

	handler := modbus.NewTCPClientHandler(s.endpoint.Address())
	handler.Timeout = s.endpoint.Timeout
	handler.SlaveId = s.endpoint.UnitID
	if s.wireLog != nil {
		handler.Logger = s.wireLog
	}

	done := make(chan error, 1)
	go func() {
		done <- handler.Connect()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %s: %v", types.ErrConnection, s.endpoint.Name, err)
		}
	case <-ctx.Done():
		// Verbindung, die nach dem Abbruch noch zustande kommt, wieder schließen
		go func() {
			if err := <-done; err == nil {
				handler.Close()
			}
		}()
		return fmt.Errorf("%w: %s: %v", types.ErrConnection, s.endpoint.Name, ctx.Err())
	}

	s.handler = handler
	s.client = modbus.NewClient(handler)
	s.state.Store(int32(types.StateConnected))

	s.logger.Info("Modbus device connected", zap.Uint8("unit_id", s.endpoint.UnitID))
	return nil
}

// ReadBlock reads one holding-register block.
//
// An exception reply yields an error-flagged block and a nil error; the
// session stays connected. Any other failure is treated as transport loss:
// the connection is closed and ErrConnection is returned.
func (s *Session) ReadBlock(spec types.BlockSpec) (types.RegisterBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block := types.RegisterBlock{Device: s.endpoint.Name, Spec: spec}

	if s.client == nil {
		return block, fmt.Errorf("%w: %s: not connected", types.ErrConnection, s.endpoint.Name)
	}

	raw, err := s.client.ReadHoldingRegisters(spec.Start, spec.Count)
	if err != nil {
		var mbErr *modbus.ModbusError
		if errors.As(err, &mbErr) {
			block.Err = mbErr
			return block, nil
		}

		s.closeLocked()
		return block, fmt.Errorf("%w: %s: read %s at %d: %v",
			types.ErrConnection, s.endpoint.Name, spec.Table, spec.Start, err)
	}

	if len(raw)%2 != 0 {
		s.closeLocked()
		return block, fmt.Errorf("%w: %s: odd response length %d",
			types.ErrConnection, s.endpoint.Name, len(raw))
	}

	block.Words = make([]uint16, len(raw)/2)
	for i := range block.Words {
		block.Words[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return block, nil
}

// Close is idempotent and safe from any state.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	s.state.Store(int32(types.StateDisconnected))

	if s.handler == nil {
		return nil
	}

	err := s.handler.Close()
	s.handler = nil
	s.client = nil

	s.logger.Info("Modbus device disconnected")
	return err
}
