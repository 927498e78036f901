package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ForwardMode string

const (
	ForwardModeHTTP ForwardMode = "http"
	ForwardModeGRPC ForwardMode = "grpc"
)

type AuthMode string

const (
	AuthModeBearer     AuthMode = "bearer"
	AuthModePayloadKey AuthMode = "payload-key"
)

type RadioDriver string

const (
	RadioDriverSX1276 RadioDriver = "sx1276"
	RadioDriverMQTT   RadioDriver = "mqtt"
)

const HardcodedVersion = "V0.3"

type Config struct {
	GatewayID       string        `yaml:"gateway_id"`
	Version         string        `yaml:"-"`
	APIURL          string        `yaml:"api_url"`
	APIToken        string        `yaml:"api_token"`
	AuthMode        AuthMode      `yaml:"auth_mode"`
	IdentityKey     string        `yaml:"identity_key"`
	ForwardMode     ForwardMode   `yaml:"forward_mode"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	GRPCMethod      string        `yaml:"grpc_method"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
	PayloadEncoding string        `yaml:"payload_encoding"`
	Checksum        bool          `yaml:"checksum"`
	IdleInterval    time.Duration `yaml:"idle_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	ProbeListenAddr string        `yaml:"probe_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`

	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	TLSCAPath     string `yaml:"tls_ca_path"`
	TLSCertPath   string `yaml:"tls_cert_path"`
	TLSKeyPath    string `yaml:"tls_key_path"`

	Radio RadioConfig `yaml:"radio"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Log   LogConfig   `yaml:"log"`
}

type RadioConfig struct {
	Driver            RadioDriver   `yaml:"driver"`
	FrequencyMHz      float64       `yaml:"frequency_mhz"`
	TxPower           int           `yaml:"tx_power"`
	SpreadingFactor   int           `yaml:"spreading_factor"`
	BandwidthHz       int           `yaml:"bandwidth_hz"`
	CodingRate        int           `yaml:"coding_rate"`
	CRC               bool          `yaml:"crc"`
	Ack               bool          `yaml:"ack"`
	NodeAddress       int           `yaml:"node_address"`
	ReceiveTimeout    time.Duration `yaml:"receive_timeout"`
	SPIPort           string        `yaml:"spi_port"`
	ResetPin          string        `yaml:"reset_pin"`
	DIO0Pin           string        `yaml:"dio0_pin"`
	MaxFaults         int           `yaml:"max_faults"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ReconnectJitter   time.Duration `yaml:"reconnect_jitter"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	InfoFile   string `yaml:"info_file"`
	ErrorFile  string `yaml:"error_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Default() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return Config{
		GatewayID:       hostname,
		Version:         HardcodedVersion,
		AuthMode:        AuthModeBearer,
		ForwardMode:     ForwardModeHTTP,
		GRPCMethod:      "/rfm.telemetry.v1.Collector/Ingest",
		HTTPTimeout:     10 * time.Second,
		PayloadEncoding: "json",
		IdleInterval:    100 * time.Millisecond,
		ErrorBackoff:    time.Second,
		ShutdownTimeout: 10 * time.Second,
		HealthInterval:  30 * time.Second,
		ProbeListenAddr: "0.0.0.0:7443",
		MetricsAddr:     ":9100",
		Radio: RadioConfig{
			Driver:            RadioDriverSX1276,
			FrequencyMHz:      915,
			TxPower:           23,
			SpreadingFactor:   7,
			BandwidthHz:       125000,
			CodingRate:        5,
			CRC:               true,
			NodeAddress:       0xFF,
			ReceiveTimeout:    5 * time.Second,
			SPIPort:           "/dev/spidev0.1",
			ResetPin:          "GPIO25",
			DIO0Pin:           "GPIO22",
			MaxFaults:         3,
			ReconnectInterval: 3 * time.Second,
			ReconnectJitter:   500 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			TopicPrefix: "radio/0",
		},
		Log: LogConfig{
			Level:      "info",
			InfoFile:   "/var/log/rfm_receiver_info.log",
			ErrorFile:  "/var/log/rfm_receiver_errors.log",
			MaxSizeMB:  500,
			MaxAgeDays: 30,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment, in
// that order of precedence (environment wins). A .env file is read into the environment first
// when present.
func Load() (Config, error) {
	envFile := env("GATEWAY_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	cfg := Default()
	if path := env("GATEWAY_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.GatewayID = env("GATEWAY_ID", c.GatewayID)
	c.APIURL = env("GATEWAY_API_URL", env("API_URL", env("PURL", c.APIURL)))
	c.APIToken = env("GATEWAY_API_TOKEN", env("PTOKEN", c.APIToken))
	c.AuthMode = AuthMode(strings.ToLower(env("GATEWAY_AUTH_MODE", string(c.AuthMode))))
	c.IdentityKey = env("GATEWAY_IDENTITY_KEY", c.IdentityKey)
	c.ForwardMode = ForwardMode(strings.ToLower(env("GATEWAY_FORWARD_MODE", string(c.ForwardMode))))
	c.GRPCAddr = env("GATEWAY_GRPC_ADDR", c.GRPCAddr)
	c.GRPCMethod = env("GATEWAY_GRPC_METHOD", c.GRPCMethod)
	c.HTTPTimeout = envDuration("GATEWAY_HTTP_TIMEOUT", c.HTTPTimeout)
	c.PayloadEncoding = strings.ToLower(env("GATEWAY_PAYLOAD_ENCODING", c.PayloadEncoding))
	c.Checksum = envBool("GATEWAY_CHECKSUM", c.Checksum)
	c.IdleInterval = envDuration("GATEWAY_IDLE_INTERVAL", c.IdleInterval)
	c.ErrorBackoff = envDuration("GATEWAY_ERROR_BACKOFF", c.ErrorBackoff)
	c.ShutdownTimeout = envDuration("GATEWAY_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.HealthInterval = envDuration("GATEWAY_HEALTH_INTERVAL", c.HealthInterval)
	c.ProbeListenAddr = env("GATEWAY_PROBE_ADDR", c.ProbeListenAddr)
	c.MetricsAddr = env("GATEWAY_METRICS_ADDR", c.MetricsAddr)

	c.TLSEnabled = envBool("GATEWAY_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = envBool("GATEWAY_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("GATEWAY_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("GATEWAY_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("GATEWAY_TLS_KEY_PATH", c.TLSKeyPath)

	r := &c.Radio
	r.Driver = RadioDriver(strings.ToLower(env("RADIO_DRIVER", string(r.Driver))))
	r.FrequencyMHz = envFloat("RADIO_FREQUENCY_MHZ", r.FrequencyMHz)
	r.TxPower = envInt("RADIO_TX_POWER", r.TxPower)
	r.SpreadingFactor = envInt("RADIO_SPREADING_FACTOR", r.SpreadingFactor)
	r.BandwidthHz = envInt("RADIO_BANDWIDTH_HZ", r.BandwidthHz)
	r.CodingRate = envInt("RADIO_CODING_RATE", r.CodingRate)
	r.CRC = envBool("RADIO_CRC", r.CRC)
	r.Ack = envBool("RADIO_ACK", r.Ack)
	r.NodeAddress = envInt("RADIO_NODE_ADDRESS", r.NodeAddress)
	r.ReceiveTimeout = envDuration("RADIO_RECEIVE_TIMEOUT", r.ReceiveTimeout)
	r.SPIPort = env("RADIO_SPI_PORT", r.SPIPort)
	r.ResetPin = env("RADIO_RESET_PIN", r.ResetPin)
	r.DIO0Pin = env("RADIO_DIO0_PIN", r.DIO0Pin)
	r.MaxFaults = envInt("RADIO_MAX_FAULTS", r.MaxFaults)
	r.ReconnectInterval = envDuration("RADIO_RECONNECT_INTERVAL", r.ReconnectInterval)
	r.ReconnectJitter = envDuration("RADIO_RECONNECT_JITTER", r.ReconnectJitter)

	c.MQTT.Broker = env("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = env("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = env("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = env("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	c.Log.Level = strings.ToLower(env("LOG_LEVEL", c.Log.Level))
	c.Log.JSON = envBool("LOG_JSON", c.Log.JSON)
	c.Log.InfoFile = envAllowEmpty("LOG_INFO_FILE", c.Log.InfoFile)
	c.Log.ErrorFile = envAllowEmpty("LOG_ERROR_FILE", c.Log.ErrorFile)
	c.Log.MaxSizeMB = envInt("LOG_MAX_SIZE_MB", c.Log.MaxSizeMB)
	c.Log.MaxAgeDays = envInt("LOG_MAX_AGE_DAYS", c.Log.MaxAgeDays)

	if c.Version == "" {
		c.Version = HardcodedVersion
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.GatewayID) == "" {
		return errors.New("GATEWAY_ID is required")
	}
	switch c.ForwardMode {
	case ForwardModeHTTP:
		if strings.TrimSpace(c.APIURL) == "" {
			return errors.New("GATEWAY_API_URL (or API_URL/PURL) is required for http mode")
		}
		if c.HTTPTimeout <= 0 {
			return errors.New("GATEWAY_HTTP_TIMEOUT must be > 0")
		}
	case ForwardModeGRPC:
		if strings.TrimSpace(c.GRPCAddr) == "" {
			return errors.New("GATEWAY_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCMethod) == "" {
			return errors.New("GATEWAY_GRPC_METHOD is required for grpc mode")
		}
	default:
		return fmt.Errorf("unsupported forward mode %q", c.ForwardMode)
	}
	switch c.AuthMode {
	case AuthModeBearer:
		if c.APIToken == "" {
			return errors.New("GATEWAY_API_TOKEN (or PTOKEN) is required for bearer auth")
		}
	case AuthModePayloadKey:
	default:
		return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
	}
	switch c.PayloadEncoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported payload encoding %q", c.PayloadEncoding)
	}
	if c.IdleInterval <= 0 || c.ErrorBackoff <= 0 {
		return errors.New("GATEWAY_IDLE_INTERVAL and GATEWAY_ERROR_BACKOFF must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("GATEWAY_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.HealthInterval <= 0 {
		return errors.New("GATEWAY_HEALTH_INTERVAL must be > 0")
	}
	if err := c.Radio.Validate(); err != nil {
		return err
	}
	if c.Radio.Driver == RadioDriverMQTT && strings.TrimSpace(c.MQTT.Broker) == "" {
		return errors.New("MQTT_BROKER is required for the mqtt radio driver")
	}
	return nil
}

func (r RadioConfig) Validate() error {
	switch r.Driver {
	case RadioDriverSX1276, RadioDriverMQTT:
	default:
		return fmt.Errorf("unsupported radio driver %q", r.Driver)
	}
	if r.FrequencyMHz < 137 || r.FrequencyMHz > 1020 {
		return fmt.Errorf("RADIO_FREQUENCY_MHZ %.3f outside 137-1020", r.FrequencyMHz)
	}
	if r.TxPower < 5 || r.TxPower > 23 {
		return fmt.Errorf("RADIO_TX_POWER %d outside 5-23 dBm", r.TxPower)
	}
	if r.SpreadingFactor < 6 || r.SpreadingFactor > 12 {
		return fmt.Errorf("RADIO_SPREADING_FACTOR %d outside 6-12", r.SpreadingFactor)
	}
	if r.CodingRate < 5 || r.CodingRate > 8 {
		return fmt.Errorf("RADIO_CODING_RATE %d outside 5-8", r.CodingRate)
	}
	if !validBandwidth(r.BandwidthHz) {
		return fmt.Errorf("unsupported RADIO_BANDWIDTH_HZ %d", r.BandwidthHz)
	}
	if r.NodeAddress < 0 || r.NodeAddress > 0xFF {
		return fmt.Errorf("RADIO_NODE_ADDRESS %d outside 0-255", r.NodeAddress)
	}
	if r.ReceiveTimeout <= 0 {
		return errors.New("RADIO_RECEIVE_TIMEOUT must be > 0")
	}
	if r.MaxFaults <= 0 {
		return errors.New("RADIO_MAX_FAULTS must be > 0")
	}
	return nil
}

// Bandwidths lists the SX127x LoRa signal bandwidths in Hz, indexed by their register value.
var Bandwidths = []int{7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

func validBandwidth(hz int) bool {
	for _, bw := range Bandwidths {
		if bw == hz {
			return true
		}
	}
	return false
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envAllowEmpty lets an explicitly empty variable override the fallback, so file sinks can be
// switched off with LOG_INFO_FILE=.
func envAllowEmpty(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
