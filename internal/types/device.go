package types

import (
	"net"
	"strconv"
	"time"
)

// BlockSpec describes one contiguous holding-register read and the table it feeds.
type BlockSpec struct {
	Table TableID `json:"table" yaml:"table"`
	Start uint16  `json:"start" yaml:"start"`
	Count uint16  `json:"count" yaml:"count"`
}

// DeviceEndpoint is immutable after the topology is resolved.
type DeviceEndpoint struct {
	Name    string        `json:"name"`
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	UnitID  uint8         `json:"unit_id"`
	Timeout time.Duration `json:"timeout"`
	Blocks  []BlockSpec   `json:"blocks"`
}

// Address returns host:port for the TCP dial.
func (d DeviceEndpoint) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateDegraded
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
