package acquisition

import (
	"time"

	"github.com/KevinKickass/dbscada/internal/types"
)

// Stats are cumulative counters for one group since the loop was built.
type Stats struct {
	Cycles           uint64 `json:"cycles"`
	Skipped          uint64 `json:"skipped_cycles"`
	Inserted         uint64 `json:"inserted"`
	DecodeErrors     uint64 `json:"decode_errors"`
	InsertErrors     uint64 `json:"insert_errors"`
	ReadErrors       uint64 `json:"read_errors"`
	Exceptions       uint64 `json:"exceptions"`
	ConnectionLosses uint64 `json:"connection_losses"`
}

type DeviceStatus struct {
	Name    string                `json:"name"`
	Address string                `json:"address"`
	State   types.ConnectionState `json:"state"`
}

type Status struct {
	Group     string                `json:"group"`
	State     types.ConnectionState `json:"state"`
	Period    time.Duration         `json:"period"`
	Policy    DegradePolicy         `json:"policy"`
	Database  types.ConnectionState `json:"database"`
	Devices   []DeviceStatus        `json:"devices"`
	Stats     Stats                 `json:"stats"`
	LastCycle time.Time             `json:"last_cycle,omitempty"`
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

func (l *Loop) markCycle() {
	now := l.now()
	l.mu.Lock()
	l.lastCycle = now
	l.mu.Unlock()
}

func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Status snapshots connection state and counters. Safe to call while the
// loop runs.
func (l *Loop) Status() Status {
	st := Status{
		Group:    l.name,
		Period:   l.period,
		Policy:   l.policy,
		Database: l.sink.State(),
		Devices:  make([]DeviceStatus, 0, len(l.sessions)),
	}

	connected := 0
	for _, s := range l.sessions {
		state := s.State()
		if state == types.StateConnected {
			connected++
		}
		st.Devices = append(st.Devices, DeviceStatus{
			Name:    s.Name(),
			Address: s.Endpoint().Address(),
			State:   state,
		})
	}

	switch {
	case st.Database != types.StateConnected || connected == 0:
		st.State = types.StateDisconnected
	case connected < len(l.sessions):
		st.State = types.StateDegraded
	default:
		st.State = types.StateConnected
	}

	l.mu.RLock()
	st.Stats = l.stats
	st.LastCycle = l.lastCycle
	l.mu.RUnlock()

	return st
}
