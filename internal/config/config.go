// Package config loads the TOML sections shared by the telemlink binaries.
// Only keys present in the file override the caller's defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/telemlink/internal/observability"
	"github.com/danmuck/telemlink/internal/pipeline"
	"github.com/danmuck/telemlink/internal/protocol/frame"
	"github.com/danmuck/telemlink/internal/protocol/session"
	"github.com/danmuck/telemlink/internal/relay"
	"github.com/danmuck/telemlink/internal/transport"
)

var ErrInvalidConfig = errors.New("config: invalid config")

// Environment overrides applied by ApplyEnv.
const (
	EnvRelayBaseURI = "WEBSOCKET_URI"
	EnvStatusToken  = "TELEMLINK_STATUS_TOKEN"
)

// PipelineConfig tunes the ingest chains.
type PipelineConfig struct {
	DropInvalidCRC  bool
	BucketDivisor   int
	MaxMessageBytes int
	// DirectRelay makes the serial bridge submit frames to the relay
	// registry in addition to multicast.
	DirectRelay bool
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BucketDivisor:   pipeline.DefaultBucketDivisor,
		MaxMessageBytes: frame.DefaultLimits().MaxMessageBytes,
	}
}

// Config is the union of every section a binary may read.
type Config struct {
	Node      string
	Heartbeat time.Duration
	Serial    transport.SerialConfig
	Multicast transport.MulticastConfig
	Relay     relay.Config
	Pipeline  PipelineConfig
	Status    observability.StatusServerConfig
}

// Default returns section defaults shared by all binaries. Services adjust
// multicast groups for their side of the link.
func Default() Config {
	return Config{
		Node:      "telemlink",
		Heartbeat: 30 * time.Second,
		Serial:    transport.DefaultSerialConfig(),
		Multicast: transport.DefaultMulticastConfig(),
		Relay:     relay.DefaultConfig(),
		Pipeline:  DefaultPipelineConfig(),
	}
}

type fileConfig struct {
	Node      string        `toml:"node"`
	Heartbeat string        `toml:"heartbeat"`
	Serial    serialFile    `toml:"serial"`
	Multicast multicastFile `toml:"multicast"`
	Relay     relayFile     `toml:"relay"`
	Pipeline  pipelineFile  `toml:"pipeline"`
	Status    statusFile    `toml:"status"`
}

type serialFile struct {
	Device    string `toml:"device"`
	BaudRate  int    `toml:"baudrate"`
	Handshake bool   `toml:"handshake"`
	ReadBytes int    `toml:"read_buffer_bytes"`
}

type multicastFile struct {
	BindAddr      string   `toml:"bind_addr"`
	Port          int      `toml:"port"`
	InterfaceAddr string   `toml:"interface_addr"`
	RxGroups      []string `toml:"rx_groups"`
	TxGroup       string   `toml:"tx_group"`
	TxPort        int      `toml:"tx_port"`
	Loopback      bool     `toml:"loopback"`
	TTL           int      `toml:"ttl"`
}

type relayFile struct {
	BaseURI          string      `toml:"base_uri"`
	HandshakeTimeout string      `toml:"handshake_timeout"`
	WriteTimeout     string      `toml:"write_timeout"`
	PingInterval     string      `toml:"ping_interval"`
	PingTimeout      string      `toml:"ping_timeout"`
	CloseTimeout     string      `toml:"close_timeout"`
	MaxMessageBytes  int64       `toml:"max_message_bytes"`
	SecurityMode     string      `toml:"security_mode"`
	TLS              tlsFile     `toml:"tls"`
	Backoff          backoffFile `toml:"backoff"`
}

type tlsFile struct {
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type pipelineFile struct {
	DropInvalidCRC  bool `toml:"drop_invalid_crc"`
	BucketDivisor   int  `toml:"bucket_divisor"`
	MaxMessageBytes int  `toml:"max_message_bytes"`
	DirectRelay     bool `toml:"direct_relay"`
}

type statusFile struct {
	ListenAddr  string   `toml:"listen_addr"`
	CORSOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

// Load decodes path and overlays it onto base.
func Load(path string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return overlay(base, raw, meta)
}

// Decode is Load for in-memory TOML.
func Decode(data string, base Config) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return overlay(base, raw, meta)
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	if meta.IsDefined("node") {
		cfg.Node = strings.TrimSpace(raw.Node)
	}
	if meta.IsDefined("heartbeat") {
		d, err := parseDuration("heartbeat", raw.Heartbeat)
		if err != nil {
			return Config{}, err
		}
		cfg.Heartbeat = d
	}

	if meta.IsDefined("serial", "device") {
		cfg.Serial.Device = strings.TrimSpace(raw.Serial.Device)
	}
	if meta.IsDefined("serial", "baudrate") {
		cfg.Serial.BaudRate = raw.Serial.BaudRate
	}
	if meta.IsDefined("serial", "handshake") {
		cfg.Serial.Handshake = raw.Serial.Handshake
	}
	if meta.IsDefined("serial", "read_buffer_bytes") {
		cfg.Serial.ReadBufferBytes = raw.Serial.ReadBytes
	}

	if err := overlayMulticast(&cfg.Multicast, raw.Multicast, meta); err != nil {
		return Config{}, err
	}
	if err := overlayRelay(&cfg.Relay, raw.Relay, meta); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("pipeline", "drop_invalid_crc") {
		cfg.Pipeline.DropInvalidCRC = raw.Pipeline.DropInvalidCRC
	}
	if meta.IsDefined("pipeline", "bucket_divisor") {
		cfg.Pipeline.BucketDivisor = raw.Pipeline.BucketDivisor
	}
	if meta.IsDefined("pipeline", "max_message_bytes") {
		cfg.Pipeline.MaxMessageBytes = raw.Pipeline.MaxMessageBytes
	}
	if meta.IsDefined("pipeline", "direct_relay") {
		cfg.Pipeline.DirectRelay = raw.Pipeline.DirectRelay
	}

	if meta.IsDefined("status", "listen_addr") {
		cfg.Status.ListenAddr = strings.TrimSpace(raw.Status.ListenAddr)
	}
	if meta.IsDefined("status", "cors_origins") {
		cfg.Status.CORSOrigins = normalizeList(raw.Status.CORSOrigins)
	}
	if meta.IsDefined("status", "token") {
		cfg.Status.Token = strings.TrimSpace(raw.Status.Token)
	}
	return cfg, nil
}

func overlayMulticast(mc *transport.MulticastConfig, raw multicastFile, meta toml.MetaData) error {
	if meta.IsDefined("multicast", "bind_addr") {
		mc.BindAddr = strings.TrimSpace(raw.BindAddr)
	}
	if meta.IsDefined("multicast", "port") {
		mc.Port = raw.Port
	}
	if meta.IsDefined("multicast", "interface_addr") {
		mc.InterfaceAddr = strings.TrimSpace(raw.InterfaceAddr)
	}
	if meta.IsDefined("multicast", "rx_groups") {
		mc.Groups = normalizeList(raw.RxGroups)
	}
	if meta.IsDefined("multicast", "loopback") {
		mc.Loopback = raw.Loopback
	}
	if meta.IsDefined("multicast", "ttl") {
		mc.TTL = raw.TTL
	}

	if !meta.IsDefined("multicast", "tx_group") && !meta.IsDefined("multicast", "tx_port") {
		return nil
	}
	host, port := "", mc.Port
	if mc.SendAddr != "" {
		h, p, err := net.SplitHostPort(mc.SendAddr)
		if err != nil {
			return fmt.Errorf("%w: multicast send addr %q: %v", ErrInvalidConfig, mc.SendAddr, err)
		}
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	if meta.IsDefined("multicast", "tx_group") {
		host = strings.TrimSpace(raw.TxGroup)
	}
	if meta.IsDefined("multicast", "tx_port") {
		port = raw.TxPort
	}
	if host == "" {
		mc.SendAddr = ""
		return nil
	}
	mc.SendAddr = net.JoinHostPort(host, strconv.Itoa(port))
	return nil
}

func overlayRelay(rc *relay.Config, raw relayFile, meta toml.MetaData) error {
	if meta.IsDefined("relay", "base_uri") {
		rc.BaseURI = strings.TrimSpace(raw.BaseURI)
	}
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, &rc.Session.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &rc.Session.WriteTimeout},
		{"ping_interval", raw.PingInterval, &rc.Session.PingInterval},
		{"ping_timeout", raw.PingTimeout, &rc.Session.PingTimeout},
		{"close_timeout", raw.CloseTimeout, &rc.Session.CloseTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("relay", d.key) {
			continue
		}
		v, err := parseDuration("relay."+d.key, d.val)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	if meta.IsDefined("relay", "max_message_bytes") {
		rc.Session.MaxMessageBytes = raw.MaxMessageBytes
	}
	if meta.IsDefined("relay", "security_mode") {
		rc.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("relay", "tls", "ca_file") {
		rc.Session.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("relay", "tls", "server_name") {
		rc.Session.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("relay", "tls", "insecure_skip_verify") {
		rc.Session.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if meta.IsDefined("relay", "backoff", "initial_delay") {
		d, err := parseDuration("relay.backoff.initial_delay", raw.Backoff.InitialDelay)
		if err != nil {
			return err
		}
		rc.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("relay", "backoff", "max_delay") {
		d, err := parseDuration("relay.backoff.max_delay", raw.Backoff.MaxDelay)
		if err != nil {
			return err
		}
		rc.Session.Backoff.MaxDelay = d
	}
	if meta.IsDefined("relay", "backoff", "multiplier") {
		rc.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("relay", "backoff", "jitter") {
		rc.Session.Backoff.Jitter = raw.Backoff.Jitter
	}
	return nil
}

// ApplyEnv applies environment overrides. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	if uri := strings.TrimSpace(getenv(EnvRelayBaseURI)); uri != "" {
		c.Relay.BaseURI = uri
	}
	if token := strings.TrimSpace(getenv(EnvStatusToken)); token != "" {
		c.Status.Token = token
	}
}

// Validate checks the sections every binary depends on. Binaries that do
// not use a section should not call the matching check.
func (c Config) Validate() error {
	if c.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.BucketDivisor <= 0 {
		return fmt.Errorf("%w: pipeline.bucket_divisor must be positive", ErrInvalidConfig)
	}
	if c.Pipeline.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: pipeline.max_message_bytes must be positive", ErrInvalidConfig)
	}
	return nil
}

// ValidateSerial checks the [serial] section.
func (c Config) ValidateSerial() error {
	if strings.TrimSpace(c.Serial.Device) == "" {
		return fmt.Errorf("%w: serial.device is required", ErrInvalidConfig)
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("%w: serial.baudrate must be positive", ErrInvalidConfig)
	}
	return nil
}

// ValidateMulticast checks the [multicast] section.
func (c Config) ValidateMulticast() error {
	mc := c.Multicast
	if mc.Port < 0 || mc.Port > 65535 {
		return fmt.Errorf("%w: multicast.port %d out of range", ErrInvalidConfig, mc.Port)
	}
	if net.ParseIP(mc.BindAddr) == nil {
		return fmt.Errorf("%w: multicast.bind_addr %q", ErrInvalidConfig, mc.BindAddr)
	}
	for _, g := range mc.Groups {
		if ip := net.ParseIP(g); ip == nil || !ip.IsMulticast() {
			return fmt.Errorf("%w: multicast.rx_groups entry %q is not a multicast address", ErrInvalidConfig, g)
		}
	}
	if mc.SendAddr != "" {
		if _, err := net.ResolveUDPAddr("udp4", mc.SendAddr); err != nil {
			return fmt.Errorf("%w: multicast tx %q: %v", ErrInvalidConfig, mc.SendAddr, err)
		}
	}
	return nil
}

// ValidateRelay checks the [relay] section.
func (c Config) ValidateRelay() error {
	if err := c.Relay.Session.ValidateClientTransport(c.Relay.BaseURI); err != nil {
		return fmt.Errorf("%w: relay.base_uri %q: %w", ErrInvalidConfig, c.Relay.BaseURI, err)
	}
	s := c.Relay.Session
	if s.PingInterval <= 0 || s.PingTimeout <= 0 || s.CloseTimeout <= 0 {
		return fmt.Errorf("%w: relay ping and close timeouts must be positive", ErrInvalidConfig)
	}
	if s.Backoff.InitialDelay < 0 || s.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: relay.backoff delays must not be negative", ErrInvalidConfig)
	}
	return nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
