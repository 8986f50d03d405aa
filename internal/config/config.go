package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/KevinKickass/dbscada/internal/types"
)

// DefaultPath is where the plant installation keeps its config file.
const DefaultPath = "/home/administrador/scripts/config.json"

const deviceAddressPrefix = "modbus_ip_"

// Required keys per command.
var (
	AcquisitionKeys = []string{"db_host", "db_name", "db_user", "db_password", "modbus_port", "output_file"}
	BackupKeys      = []string{"db_name", "db_user", "output_file"}
)

// The file is flat, so every section is squashed into the top level.
type Config struct {
	Database    DatabaseConfig    `mapstructure:",squash"`
	Modbus      ModbusConfig      `mapstructure:",squash"`
	Acquisition AcquisitionConfig `mapstructure:",squash"`
	Server      ServerConfig      `mapstructure:",squash"`
	Logging     LoggingConfig     `mapstructure:",squash"`
	Backup      BackupConfig      `mapstructure:",squash"`
	MQTT        MQTTConfig        `mapstructure:",squash"`
	InfluxDB    InfluxDBConfig    `mapstructure:",squash"`
}

type DatabaseConfig struct {
	Host          string        `mapstructure:"db_host"`
	Port          int           `mapstructure:"db_port"`
	Database      string        `mapstructure:"db_name"`
	User          string        `mapstructure:"db_user"`
	Password      string        `mapstructure:"db_password"`
	SSLMode       string        `mapstructure:"db_sslmode"`
	InsertTimeout time.Duration `mapstructure:"db_insert_timeout"`
}

type ModbusConfig struct {
	Port      int           `mapstructure:"modbus_port"`
	UnitID    uint8         `mapstructure:"modbus_unit_id"`
	Timeout   time.Duration `mapstructure:"modbus_timeout"`
	WireDebug bool          `mapstructure:"modbus_wire_debug"`

	// Addresses holds every modbus_ip_<device> entry keyed by device name.
	Addresses map[string]string `mapstructure:"-"`
}

type AcquisitionConfig struct {
	Groups        []string      `mapstructure:"groups"`
	DegradePolicy string        `mapstructure:"group_degrade_policy"`
	Backoff       time.Duration `mapstructure:"backoff_interval"`
	TopologyFile  string        `mapstructure:"topology_file"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
}

type BackupConfig struct {
	OutputFile string `mapstructure:"output_file"`
	Container  string `mapstructure:"backup_container"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"mqtt_broker"`
	ClientID    string `mapstructure:"mqtt_client_id"`
	Username    string `mapstructure:"mqtt_username"`
	Password    string `mapstructure:"mqtt_password"`
	TopicPrefix string `mapstructure:"mqtt_topic_prefix"`
	QoS         int    `mapstructure:"mqtt_qos"`
}

func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type InfluxDBConfig struct {
	URL    string `mapstructure:"influxdb_url"`
	Token  string `mapstructure:"influxdb_token"`
	Org    string `mapstructure:"influxdb_org"`
	Bucket string `mapstructure:"influxdb_bucket"`
}

func (i InfluxDBConfig) Enabled() bool {
	return i.URL != ""
}

// KeyError names a required key that is absent or empty.
type KeyError struct {
	Key string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("missing required config key %q", e.Key)
}

func (e *KeyError) Unwrap() error {
	return types.ErrConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_sslmode", "prefer")
	v.SetDefault("db_insert_timeout", "10s")

	v.SetDefault("modbus_unit_id", 1)
	v.SetDefault("modbus_timeout", "3s")
	v.SetDefault("modbus_wire_debug", false)

	v.SetDefault("groups", []string{"apis1", "apis2", "apis3"})
	v.SetDefault("group_degrade_policy", "any")
	v.SetDefault("backoff_interval", "5s")
	v.SetDefault("topology_file", "")

	v.SetDefault("http_addr", "")
	v.SetDefault("shutdown_timeout", "30s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("backup_container", "postgres")

	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_client_id", "dbscada")
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_topic_prefix", "dbscada")
	v.SetDefault("mqtt_qos", 0)

	v.SetDefault("influxdb_url", "")
	v.SetDefault("influxdb_token", "")
	v.SetDefault("influxdb_org", "")
	v.SetDefault("influxdb_bucket", "")
}

// Keys that must be present but may be empty (trust auth has no password).
var emptyAllowed = map[string]bool{"db_password": true}

// Load reads the config file once. Every failure wraps types.ErrConfig;
// a missing required key is reported as *KeyError.
func Load(path string, required []string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: config file %s: %w", types.ErrConfig, path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}

	setDefaults(v)

	// Environment Variables mit Prefix DBSCADA_
	v.SetEnvPrefix("DBSCADA")
	v.AutomaticEnv()
	for _, key := range required {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to read config: %v", types.ErrConfig, err)
	}

	if err := validateSettings(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfig, err)
	}

	for _, key := range required {
		if !v.IsSet(key) {
			return nil, &KeyError{Key: key}
		}
		if !emptyAllowed[key] && strings.TrimSpace(v.GetString(key)) == "" {
			return nil, &KeyError{Key: key}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", types.ErrConfig, err)
	}

	cfg.Modbus.Addresses = make(map[string]string)
	for _, key := range v.AllKeys() {
		if device, ok := strings.CutPrefix(key, deviceAddressPrefix); ok {
			cfg.Modbus.Addresses[device] = v.GetString(key)
		}
	}

	return &cfg, nil
}

// DeviceAddress returns the address configured under modbus_ip_<device>.
func (m ModbusConfig) DeviceAddress(device string) (string, error) {
	addr := strings.TrimSpace(m.Addresses[strings.ToLower(device)])
	if addr == "" {
		return "", &KeyError{Key: deviceAddressPrefix + device}
	}
	return addr, nil
}

func (c *DatabaseConfig) DSN() string {
	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}

// Validate checks cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Acquisition.Groups) == 0 {
		errs = append(errs, errors.New("groups must name at least one device group"))
	}
	if c.Modbus.Timeout <= 0 {
		errs = append(errs, errors.New("modbus_timeout must be positive"))
	}
	if c.Acquisition.Backoff <= 0 {
		errs = append(errs, errors.New("backoff_interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", types.ErrConfig, errors.Join(errs...))
	}
	return nil
}
