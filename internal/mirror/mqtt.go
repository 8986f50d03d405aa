package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/types"
)

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttPublishTimeout    = 5 * time.Second
	mqttKeepAlive         = 60 * time.Second
	mqttDisconnectQuiesce = 1000 // milliseconds
	mqttMaxQoS            = 2
)

var (
	ErrMQTTTimeout = errors.New("mqtt: publish timed out")
	ErrInvalidQoS  = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// mqttClient is the part of pahomqtt.Client the mirror uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

type mqttPayload struct {
	Table     types.TableID  `json:"table"`
	Device    string         `json:"device"`
	Timestamp time.Time      `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// Topic returns <prefix>/<device>/<table>.
func Topic(prefix string, rec types.TelemetryRecord) string {
	return fmt.Sprintf("%s/%s/%s", prefix, rec.Device, rec.Table)
}

// NewMQTT connects to the broker in the background; paho keeps retrying
// and reconnecting on its own, so an unreachable broker is not an error.
func NewMQTT(cfg config.MQTTConfig, logger *zap.Logger) (*Mirror, error) {
	if cfg.QoS < 0 || cfg.QoS > mqttMaxQoS {
		return nil, fmt.Errorf("%w: %w", types.ErrConfig, ErrInvalidQoS)
	}

	log := logger.Named("mqtt")

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info("MQTT broker connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	client.Connect()

	return newMQTTMirror(client, cfg, logger), nil
}

func newMQTTMirror(client mqttClient, cfg config.MQTTConfig, logger *zap.Logger) *Mirror {
	qos := byte(cfg.QoS)

	publish := func(rec types.TelemetryRecord) error {
		payload, err := json.Marshal(mqttPayload{
			Table:     rec.Table,
			Device:    rec.Device,
			Timestamp: rec.Timestamp,
			Values:    rec.Values(),
		})
		if err != nil {
			return err
		}

		token := client.Publish(Topic(cfg.TopicPrefix, rec), qos, false, payload)
		if !token.WaitTimeout(mqttPublishTimeout) {
			return ErrMQTTTimeout
		}
		return token.Error()
	}

	release := func() {
		client.Disconnect(mqttDisconnectQuiesce)
	}

	return newMirror("mqtt", logger, publish, release)
}
