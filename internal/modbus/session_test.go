package modbus

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/modbus/modbustest"
	"github.com/KevinKickass/dbscada/internal/types"
)

func endpointFor(srv *modbustest.Server) types.DeviceEndpoint {
	return types.DeviceEndpoint{
		Name:    "apis2_pb",
		Host:    srv.Host(),
		Port:    srv.Port(),
		UnitID:  1,
		Timeout: 500 * time.Millisecond,
	}
}

func TestSessionReadBlock(t *testing.T) {
	srv := modbustest.NewServer(t)
	srv.SetRegisters(100, []uint16{1500, 2205, 7})

	s := NewSession(endpointFor(srv), zap.NewNop())
	assert.Equal(t, types.StateDisconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())

	block, err := s.ReadBlock(types.BlockSpec{Table: "apis1_ifv2", Start: 100, Count: 3})
	require.NoError(t, err)
	assert.False(t, block.Failed())
	assert.Equal(t, []uint16{1500, 2205, 7}, block.Words)
	assert.Equal(t, "apis2_pb", block.Device)

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}

func TestSessionExceptionKeepsConnection(t *testing.T) {
	srv := modbustest.NewServer(t)
	srv.SetException(0, modbustest.ExceptionServerDeviceBusy)
	srv.SetRegisters(94, []uint16{1, 2})

	s := NewSession(endpointFor(srv), zap.NewNop())
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	block, err := s.ReadBlock(types.BlockSpec{Table: "apis3_motor1", Start: 0, Count: 2})
	require.NoError(t, err)
	assert.True(t, block.Failed())
	assert.Empty(t, block.Words)
	assert.True(t, s.IsConnected())

	block, err = s.ReadBlock(types.BlockSpec{Table: "apis3_motor2", Start: 94, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, block.Words)
}

func TestSessionTransportFailureDisconnects(t *testing.T) {
	srv := modbustest.NewServer(t)
	srv.DropOn(0)

	s := NewSession(endpointFor(srv), zap.NewNop())
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.ReadBlock(types.BlockSpec{Table: "apis2_pb", Start: 0, Count: 33})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConnection))
	assert.False(t, s.IsConnected())

	_, err = s.ReadBlock(types.BlockSpec{Table: "apis2_pb", Start: 0, Count: 33})
	assert.True(t, errors.Is(err, types.ErrConnection))

	srv.Reset(0)
	require.NoError(t, s.Connect(context.Background()))
	block, err := s.ReadBlock(types.BlockSpec{Table: "apis2_pb", Start: 0, Count: 33})
	require.NoError(t, err)
	assert.Len(t, block.Words, 33)
	require.NoError(t, s.Close())
}

func TestSessionConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := NewSession(types.DeviceEndpoint{
		Name:    "apis1",
		Host:    "127.0.0.1",
		Port:    port,
		UnitID:  1,
		Timeout: 200 * time.Millisecond,
	}, zap.NewNop())

	err = s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConnection))
	assert.Equal(t, types.StateDisconnected, s.State())
}

func TestSessionConnectCancelled(t *testing.T) {
	srv := modbustest.NewServer(t)
	s := NewSession(endpointFor(srv), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either outcome is valid when the dial races the cancellation,
	// but a failure must leave the session disconnected.
	if err := s.Connect(ctx); err != nil {
		assert.True(t, errors.Is(err, types.ErrConnection))
		assert.False(t, s.IsConnected())
	}
	require.NoError(t, s.Close())
}

func TestSessionCloseIdempotent(t *testing.T) {
	srv := modbustest.NewServer(t)
	s := NewSession(endpointFor(srv), zap.NewNop(), WithWireLog())

	require.NoError(t, s.Close())
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, types.StateDisconnected, s.State())
}
