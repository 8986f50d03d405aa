package mirror

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/types"
)

const (
	influxPingTimeout = 5 * time.Second
	influxBatchSize   = 100
	// milliseconds
	influxFlushInterval = 1000
)

// pointWriter is the part of api.WriteAPI the mirror uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Point converts a record to one point: measurement is the table, the
// device is a tag and every field is stored scaled.
func Point(rec types.TelemetryRecord) *write.Point {
	fields := make(map[string]interface{}, len(rec.Fields))
	for _, f := range rec.Fields {
		fields[f.Name] = f.Float()
	}

	return write.NewPoint(
		string(rec.Table),
		map[string]string{"device": rec.Device},
		fields,
		rec.Timestamp,
	)
}

// NewInflux pings the server once and fails if it is unreachable.
func NewInflux(ctx context.Context, cfg config.InfluxDBConfig, logger *zap.Logger) (*Mirror, error) {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(influxBatchSize).
			SetFlushInterval(influxFlushInterval),
	)

	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb ping failed: %w", types.ErrConnection, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb server not healthy", types.ErrConnection)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	log := logger.Named("influxdb")
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn("InfluxDB write failed", zap.Error(err))
		}
	}()

	return newInfluxMirror(writeAPI, client.Close, logger), nil
}

func newInfluxMirror(w pointWriter, closeClient func(), logger *zap.Logger) *Mirror {
	publish := func(rec types.TelemetryRecord) error {
		w.WritePoint(Point(rec))
		return nil
	}

	release := func() {
		w.Flush()
		if closeClient != nil {
			closeClient()
		}
	}

	return newMirror("influxdb", logger, publish, release)
}
