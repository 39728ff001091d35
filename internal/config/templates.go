package config

import (
	"fmt"
	"os"
	"strings"
)

// Kinds accepted by Template.
const (
	KindSerialBridge = "serialbridge"
	KindWSRelay      = "wsrelay"
	KindMonitor      = "telemmon"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindSerialBridge:
		return serialBridgeTemplate, nil
	case KindWSRelay:
		return wsRelayTemplate, nil
	case KindMonitor:
		return monitorTemplate, nil
	default:
		return "", fmt.Errorf("%w: unknown config kind %q", ErrInvalidConfig, kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serialBridgeTemplate = `node = "serialbridge"
heartbeat = "30s"

[serial]
device = "/dev/ttyACM0"
baudrate = 115200
handshake = true

[multicast]
bind_addr = "0.0.0.0"
port = 3931
interface_addr = "0.0.0.0"
rx_groups = ["224.3.39.32"]
tx_group = "224.3.39.31"
tx_port = 3931
loopback = true
ttl = 1

[pipeline]
drop_invalid_crc = false
bucket_divisor = 100
direct_relay = false

[relay]
base_uri = "wss://telem.dufour.aero/stream/cm298y4c/d03"

[status]
listen_addr = ""
`

const wsRelayTemplate = `node = "wsrelay"
heartbeat = "30s"

[multicast]
bind_addr = "0.0.0.0"
port = 3931
interface_addr = "0.0.0.0"
rx_groups = ["224.3.39.31"]
tx_group = "224.3.39.32"
tx_port = 3931

[pipeline]
drop_invalid_crc = false
bucket_divisor = 100

[relay]
base_uri = "wss://telem.dufour.aero/stream/cm298y4c/d03"
ping_interval = "5s"
ping_timeout = "5s"
close_timeout = "10s"
handshake_timeout = "10s"
security_mode = "development"

[relay.backoff]
initial_delay = "0s"
multiplier = 2.0
max_delay = "30s"
jitter = true

[status]
listen_addr = "127.0.0.1:9931"
cors_origins = ["http://localhost:3000"]
`

const monitorTemplate = `node = "telemmon"

[multicast]
bind_addr = "0.0.0.0"
port = 3931
interface_addr = "0.0.0.0"
rx_groups = ["224.3.39.31", "224.3.39.32", "224.3.39.33", "224.3.39.34"]
tx_group = ""
`
