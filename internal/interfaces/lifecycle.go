package interfaces

import (
	"time"

	"github.com/KevinKickass/dbscada/internal/acquisition"
)

// SystemStatus represents the current supervisor state
type SystemStatus struct {
	RunID       string               `json:"run_id"`
	State       string               `json:"state"`
	StartedAt   time.Time            `json:"started_at"`
	Groups      []acquisition.Status `json:"groups"`
	LiveClients int                  `json:"live_clients"`
}

// StatusProvider is what the status API reads from.
type StatusProvider interface {
	GetCurrentStatus() SystemStatus
	GroupStatus(name string) (acquisition.Status, bool)
}
