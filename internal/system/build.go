package system

import (
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/acquisition"
	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/devices"
	"github.com/KevinKickass/dbscada/internal/modbus"
	"github.com/KevinKickass/dbscada/internal/storage"
)

// BuildLoops wires one poll loop per resolved group. Every loop owns its
// sessions and its own database connection; nothing is shared between groups.
func BuildLoops(cfg *config.Config, groups []devices.Group, logger *zap.Logger, observers ...acquisition.Observer) ([]GroupRunner, error) {
	policy, err := acquisition.ParsePolicy(cfg.Acquisition.DegradePolicy)
	if err != nil {
		return nil, err
	}

	var sessionOpts []modbus.Option
	if cfg.Modbus.WireDebug {
		sessionOpts = append(sessionOpts, modbus.WithWireLog())
	}

	runners := make([]GroupRunner, 0, len(groups))
	for _, group := range groups {
		groupLogger := logger.With(zap.String("group", group.Name))

		sessions := make([]acquisition.Session, 0, len(group.Devices))
		for _, endpoint := range group.Devices {
			sessions = append(sessions, modbus.NewSession(endpoint, groupLogger, sessionOpts...))
		}

		sink := storage.NewSink(cfg.Database.DSN(), group.Layouts, groupLogger,
			storage.WithInsertTimeout(cfg.Database.InsertTimeout))

		opts := []acquisition.Option{
			acquisition.WithPolicy(policy),
			acquisition.WithBackoff(cfg.Acquisition.Backoff),
		}
		for _, o := range observers {
			opts = append(opts, acquisition.WithObserver(o))
		}

		runners = append(runners, acquisition.NewLoop(group.Name, group.Period, sessions, group.Layouts, sink, logger, opts...))
	}

	return runners, nil
}
